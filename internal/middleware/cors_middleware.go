// internal/middleware/cors_middleware.go
package middleware

import (
	"github.com/gin-gonic/gin"
)

// CORSMiddleware opens the API to browser clients. OPTIONS preflights are
// answered by the resource handler itself, so this only sets headers.
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, x-access-token, x-compress-brotli")
		c.Next()
	}
}
