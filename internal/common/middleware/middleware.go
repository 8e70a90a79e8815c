package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rideline/ridectl/internal/common/response"
)

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "X-Request-ID"

const ctxRequestID = "request_id"

// RecoveryMiddleware turns panics into 500 responses and logs them.
func RecoveryMiddleware(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Error("panic recovered",
					zap.Any("panic", r),
					zap.String("path", c.Request.URL.Path),
					zap.String("request_id", GetRequestID(c)),
				)
				c.AbortWithStatusJSON(http.StatusInternalServerError, response.Body{Error: "internal server error"})
			}
		}()
		c.Next()
	}
}

// LoggerMiddleware logs every request once it has been served.
func LoggerMiddleware(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("request_id", GetRequestID(c)),
		}
		if c.Writer.Status() >= http.StatusInternalServerError {
			log.Warn("request failed", fields...)
			return
		}
		log.Debug("request served", fields...)
	}
}

// RequestIDMiddleware reuses an incoming X-Request-ID or assigns a new one.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(ctxRequestID, id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}

// GetRequestID returns the id assigned by RequestIDMiddleware.
func GetRequestID(c *gin.Context) string {
	return c.GetString(ctxRequestID)
}
