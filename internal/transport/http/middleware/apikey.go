package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"agentkb/internal/transport/http/response"
)

const apiKeyHeader = "X-API-Key"

// AuthAPIKey validates the X-API-Key header against the configured key.
// With enabled false every request passes (dev mode).
func AuthAPIKey(apiKey string, enabled bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !enabled {
			c.Next()
			return
		}

		provided := strings.TrimSpace(c.GetHeader(apiKeyHeader))
		if provided == "" {
			response.Error(c, 401, response.CodeUnauthorized, "missing "+apiKeyHeader+" header")
			c.Abort()
			return
		}
		if provided != apiKey {
			response.Error(c, 403, response.CodeForbidden, "invalid api key")
			c.Abort()
			return
		}
		c.Next()
	}
}
