package credential

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rideline/ridectl/internal/domain/user"
)

func signedToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return token
}

func TestFromTokenReadsClaims(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	token := signedToken(t, jwt.MapClaims{
		"sub":  "user-7",
		"role": "driver",
		"exp":  exp.Unix(),
	})

	creds := FromToken(token, user.RolePassenger)
	assert.Equal(t, token, creds.Token)
	assert.Equal(t, "user-7", creds.UserID)
	assert.Equal(t, user.RoleDriver, creds.Role)
	assert.True(t, creds.ExpiresAt.Equal(exp))
	assert.False(t, creds.Expired(time.Now()))
	assert.True(t, creds.Expired(exp.Add(time.Second)))
}

func TestFromTokenOpaque(t *testing.T) {
	creds := FromToken("opaque-session-token", user.RolePassenger)
	assert.Equal(t, user.RolePassenger, creds.Role)
	assert.Empty(t, creds.UserID)
	assert.True(t, creds.ExpiresAt.IsZero())
	assert.False(t, creds.Expired(time.Now().Add(100*365*24*time.Hour)))
}

func TestFromTokenKeepsFallbackRoleForUnknownClaim(t *testing.T) {
	token := signedToken(t, jwt.MapClaims{"user_id": "u-1", "role": "ADMIN"})
	creds := FromToken(token, user.RolePassenger)
	assert.Equal(t, user.RolePassenger, creds.Role)
	assert.Equal(t, "u-1", creds.UserID)
}
