// internal/app/router.go
package app

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	authHandler "jsonapi-service/internal/handlers/auth"
	resourceHandler "jsonapi-service/internal/handlers/resource"
)

type Handlers struct {
	AuthHandler     *authHandler.AuthHandler
	ResourceHandler *resourceHandler.Handler
}

func SetupRouter(r *gin.Engine, logger *zap.Logger, h *Handlers) {
	// ==================== Health Check ====================
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok", "version": "1.0.0"})
	})

	// ==================== Public Auth Routes ====================
	r.POST("/signin", h.AuthHandler.SignIn)

	// ==================== Generic Resource Routes ====================
	// Every model shares the one pipeline; routing by model name happens
	// inside the handler against the schema.
	r.Any("/:model", h.ResourceHandler.Handle)
	r.Any("/:model/:id", h.ResourceHandler.Handle)
}
