package credential

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/rideline/ridectl/internal/domain/user"
)

// ErrNoCredentials is returned by a Store that holds nothing.
var ErrNoCredentials = errors.New("no stored credentials")

// Credentials is the only durable session state: the bearer token and role.
type Credentials struct {
	Token     string    `json:"token"`
	Role      user.Role `json:"role"`
	UserID    string    `json:"user_id,omitempty"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// Expired reports whether the token is past its expiry. Tokens without an
// expiry never expire client-side.
func (c *Credentials) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt)
}

// Store persists credentials between runs.
type Store interface {
	// Load returns ErrNoCredentials when nothing is stored.
	Load(ctx context.Context) (*Credentials, error)
	Save(ctx context.Context, creds *Credentials) error
	Clear(ctx context.Context) error
}

type tokenClaims struct {
	Role   string `json:"role"`
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

// FromToken builds Credentials from a bearer token. JWT claims (sub, role,
// exp) are read without verifying the signature; the server is the only
// party that checks it. Opaque tokens keep the fallback role and no expiry.
func FromToken(token string, fallbackRole user.Role) *Credentials {
	creds := &Credentials{Token: token, Role: fallbackRole}

	var claims tokenClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return creds
	}

	if claims.Subject != "" {
		creds.UserID = claims.Subject
	} else if claims.UserID != "" {
		creds.UserID = claims.UserID
	}
	if role, err := user.ParseRole(claims.Role); err == nil {
		creds.Role = role
	}
	if claims.ExpiresAt != nil {
		creds.ExpiresAt = claims.ExpiresAt.Time.UTC()
	}
	return creds
}
