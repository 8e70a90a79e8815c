package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rideline/ridectl/internal/domain/credential"
	"github.com/rideline/ridectl/internal/domain/user"
)

func TestGenerateAndValidate(t *testing.T) {
	m := NewJWTManager("secret", time.Hour)

	token, err := m.GenerateToken("u-1", user.RoleDriver)
	require.NoError(t, err)

	claims, err := m.ValidateToken("Bearer " + token)
	require.NoError(t, err)
	assert.Equal(t, "u-1", claims.Subject)
	assert.Equal(t, "DRIVER", claims.Role)

	creds := credential.FromToken(token, user.RolePassenger)
	assert.Equal(t, user.RoleDriver, creds.Role)
	assert.Equal(t, "u-1", creds.UserID)
	assert.False(t, creds.ExpiresAt.IsZero())
}

func TestValidateRejectsForeignAndExpiredTokens(t *testing.T) {
	m := NewJWTManager("secret", time.Hour)
	other := NewJWTManager("other", time.Hour)

	token, err := other.GenerateToken("u-1", user.RolePassenger)
	require.NoError(t, err)
	_, err = m.ValidateToken(token)
	assert.Error(t, err)

	past := time.Now().Add(-2 * time.Hour)
	m.now = func() time.Time { return past }
	stale, err := m.GenerateToken("u-1", user.RolePassenger)
	require.NoError(t, err)
	m.now = time.Now
	_, err = m.ValidateToken(stale)
	assert.Error(t, err)

	_, err = m.ValidateToken("")
	assert.Error(t, err)
}
