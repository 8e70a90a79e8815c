package auth

import (
	"github.com/gin-gonic/gin"

	"github.com/rideline/ridectl/internal/common/response"
	"github.com/rideline/ridectl/internal/domain/user"
)

const (
	ctxUserID = "auth.user_id"
	ctxRole   = "auth.role"
)

// Middleware rejects requests without a valid bearer token and stores the
// caller's id and role on the context.
func Middleware(m *JWTManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, err := m.ValidateToken(c.GetHeader("Authorization"))
		if err != nil {
			response.Unauthorized(c, "invalid or expired token")
			return
		}
		c.Set(ctxUserID, claims.Subject)
		c.Set(ctxRole, user.Role(claims.Role))
		c.Next()
	}
}

// RequireRole rejects callers whose role is not allowed.
func RequireRole(roles ...user.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		role, _ := GetRole(c)
		for _, r := range roles {
			if r == role {
				c.Next()
				return
			}
		}
		response.Forbidden(c, "role not allowed")
	}
}

// GetUserID returns the authenticated user id.
func GetUserID(c *gin.Context) (string, bool) {
	id := c.GetString(ctxUserID)
	return id, id != ""
}

// GetRole returns the authenticated role.
func GetRole(c *gin.Context) (user.Role, bool) {
	v, ok := c.Get(ctxRole)
	if !ok {
		return "", false
	}
	role, ok := v.(user.Role)
	return role, ok
}
