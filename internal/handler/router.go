package handler

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/rideline/ridectl/internal/common/middleware"
)

// RouteRegistrar is implemented by every handler in this package.
type RouteRegistrar interface {
	RegisterRoutes(r *gin.RouterGroup)
}

// NewRouter builds the local API engine.
func NewRouter(log *zap.Logger, handlers ...RouteRegistrar) *gin.Engine {
	router := gin.New()
	router.Use(middleware.RecoveryMiddleware(log))
	router.Use(middleware.LoggerMiddleware(log))
	router.Use(middleware.RequestIDMiddleware())

	for _, h := range handlers {
		h.RegisterRoutes(&router.RouterGroup)
	}
	return router
}
