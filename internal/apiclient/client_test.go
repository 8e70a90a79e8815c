package apiclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rideline/ridectl/internal/common/domain"
	"github.com/rideline/ridectl/internal/domain/credential"
	"github.com/rideline/ridectl/internal/domain/user"
	"github.com/rideline/ridectl/internal/securestore"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestClient(t *testing.T, router *gin.Engine, store credential.Store, opts ...Option) *Client {
	t.Helper()
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	opts = append([]Option{WithRetry(time.Millisecond, 3)}, opts...)
	return New(srv.URL, srv.Client(), store, zap.NewNop(), opts...)
}

func storeWith(t *testing.T, creds *credential.Credentials) *securestore.MemoryStore {
	t.Helper()
	store := securestore.NewMemoryStore()
	require.NoError(t, store.Save(context.Background(), creds))
	return store
}

func TestClientAttachesBearerAndUnwraps(t *testing.T) {
	router := gin.New()
	router.GET("/api/v1/rides/t1", func(c *gin.Context) {
		assert.Equal(t, "Bearer tok", c.GetHeader("Authorization"))
		assert.NotEmpty(t, c.GetHeader("X-Request-ID"))
		assert.Equal(t, "application/json", c.GetHeader("Content-Type"))
		assert.Equal(t, "application/json", c.GetHeader("Accept"))
		c.JSON(http.StatusOK, gin.H{"data": gin.H{"ride": gin.H{"id": "t1", "status": "ONGOING"}}})
	})

	client := newTestClient(t, router, storeWith(t, &credential.Credentials{Token: "tok", Role: user.RolePassenger}))

	var out struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	require.NoError(t, client.Get(context.Background(), "/api/v1/rides/t1", &out, "ride"))
	assert.Equal(t, "t1", out.ID)
	assert.Equal(t, "ONGOING", out.Status)
}

func TestClientWithoutCredentialsSendsNoAuthHeader(t *testing.T) {
	router := gin.New()
	router.POST("/api/v1/auth/login", func(c *gin.Context) {
		assert.Empty(t, c.GetHeader("Authorization"))
		assert.Equal(t, "application/json", c.GetHeader("Content-Type"))
		c.JSON(http.StatusOK, gin.H{"token": "new"})
	})
	client := newTestClient(t, router, securestore.NewMemoryStore())

	var out struct{ Token string }
	require.NoError(t, client.Post(context.Background(), "/api/v1/auth/login", gin.H{"email": "a@b.c"}, &out))
	assert.Equal(t, "new", out.Token)
}

func TestClientClearsCredentialsOn401(t *testing.T) {
	router := gin.New()
	router.GET("/api/v1/auth/me", func(c *gin.Context) {
		c.JSON(http.StatusUnauthorized, gin.H{"message": "token revoked"})
	})
	store := storeWith(t, &credential.Credentials{Token: "tok", Role: user.RoleDriver})
	client := newTestClient(t, router, store)

	err := client.Get(context.Background(), "/api/v1/auth/me", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
	assert.Contains(t, err.Error(), "token revoked")

	_, err = store.Load(context.Background())
	assert.ErrorIs(t, err, credential.ErrNoCredentials)
}

func TestClientExpiredTokenNeverLeavesTheProcess(t *testing.T) {
	var hits int32
	router := gin.New()
	router.GET("/api/v1/auth/me", func(c *gin.Context) {
		atomic.AddInt32(&hits, 1)
		c.Status(http.StatusOK)
	})
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	store := storeWith(t, &credential.Credentials{Token: "tok", ExpiresAt: now.Add(-time.Minute)})
	client := newTestClient(t, router, store, WithClock(func() time.Time { return now }))

	err := client.Get(context.Background(), "/api/v1/auth/me", nil)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
	assert.Equal(t, int32(0), atomic.LoadInt32(&hits))

	_, err = store.Load(context.Background())
	assert.ErrorIs(t, err, credential.ErrNoCredentials)
}

func TestClientRetriesIdempotentRequests(t *testing.T) {
	var hits int32
	router := gin.New()
	router.GET("/api/v1/rides/t1/live", func(c *gin.Context) {
		if atomic.AddInt32(&hits, 1) < 3 {
			c.JSON(http.StatusServiceUnavailable, gin.H{"message": "busy"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ARRIVED"})
	})
	client := newTestClient(t, router, nil)

	var out struct{ Status string }
	require.NoError(t, client.Get(context.Background(), "/api/v1/rides/t1/live", &out))
	assert.Equal(t, "ARRIVED", out.Status)
	assert.Equal(t, int32(3), atomic.LoadInt32(&hits))
}

func TestClientDoesNotRetryWrites(t *testing.T) {
	var hits int32
	router := gin.New()
	router.POST("/api/v1/rides", func(c *gin.Context) {
		atomic.AddInt32(&hits, 1)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "boom"})
	})
	client := newTestClient(t, router, nil)

	err := client.Post(context.Background(), "/api/v1/rides", gin.H{}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrRemote)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestClientMapsStatusCodes(t *testing.T) {
	router := gin.New()
	router.GET("/missing", func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"message": "ride not found"})
	})
	router.POST("/invalid", func(c *gin.Context) {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "bad coordinates"})
	})
	router.POST("/taken", func(c *gin.Context) {
		c.JSON(http.StatusConflict, gin.H{"message": "ride already accepted"})
	})
	client := newTestClient(t, router, nil)
	ctx := context.Background()

	err := client.Get(ctx, "/missing", nil)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Contains(t, err.Error(), "ride not found")

	assert.ErrorIs(t, client.Post(ctx, "/invalid", nil, nil), domain.ErrValidation)
	assert.ErrorIs(t, client.Post(ctx, "/taken", nil, nil), domain.ErrConflict)
}
