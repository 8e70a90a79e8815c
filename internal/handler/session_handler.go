package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rideline/ridectl/internal/common/response"
	"github.com/rideline/ridectl/internal/domain/credential"
)

// SessionHandler reports who the local engine is signed in as. The token
// itself never leaves the process.
type SessionHandler struct {
	store credential.Store
}

// NewSessionHandler creates a new SessionHandler.
func NewSessionHandler(store credential.Store) *SessionHandler {
	return &SessionHandler{store: store}
}

// SessionView is the public part of the stored credentials.
type SessionView struct {
	Role      string     `json:"role"`
	UserID    string     `json:"user_id,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	Expired   bool       `json:"expired"`
}

// RegisterRoutes registers session and health routes.
func (h *SessionHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/health", h.Health)
	r.GET("/api/v1/session", h.GetSession)
}

// Health handles GET /health.
func (h *SessionHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "ridectl"})
}

// GetSession handles GET /api/v1/session.
func (h *SessionHandler) GetSession(c *gin.Context) {
	creds, err := h.store.Load(c.Request.Context())
	if err != nil {
		if errors.Is(err, credential.ErrNoCredentials) {
			response.Unauthorized(c, "not signed in")
			return
		}
		response.Error(c, err)
		return
	}

	view := SessionView{
		Role:    creds.Role.String(),
		UserID:  creds.UserID,
		Expired: creds.Expired(time.Now()),
	}
	if !creds.ExpiresAt.IsZero() {
		exp := creds.ExpiresAt
		view.ExpiresAt = &exp
	}
	response.Success(c, view)
}
