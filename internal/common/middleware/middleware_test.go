package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newEngine() *gin.Engine {
	r := gin.New()
	r.Use(RecoveryMiddleware(zap.NewNop()), LoggerMiddleware(zap.NewNop()), RequestIDMiddleware())
	r.GET("/ok", func(c *gin.Context) { c.String(http.StatusOK, GetRequestID(c)) })
	r.GET("/panic", func(c *gin.Context) { panic("boom") })
	return r
}

func TestRequestIDIsGeneratedOrEchoed(t *testing.T) {
	r := newEngine()

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ok", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get(RequestIDHeader))
	assert.Equal(t, w.Header().Get(RequestIDHeader), w.Body.String())

	req := httptest.NewRequest(http.MethodGet, "/ok", nil)
	req.Header.Set(RequestIDHeader, "req-42")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "req-42", w.Body.String())
}

func TestRecoveryAnswers500(t *testing.T) {
	w := httptest.NewRecorder()
	newEngine().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/panic", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "internal server error")
}
