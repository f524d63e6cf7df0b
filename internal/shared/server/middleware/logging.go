package middleware

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"lovepage-backend/internal/shared/telemetry"
)

// Context keys handlers may set to enrich the request log line.
const (
	ItemIDKey   = "itemId"
	DecisionKey = "decision"
)

// Logging emits a structured log per request.
func Logging() gin.HandlerFunc {
	return func(c *gin.Context) {
		if strings.EqualFold(c.Request.Method, "OPTIONS") {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()
		latency := time.Since(start)
		status := c.Writer.Status()
		reqID := RequestIDFromContext(c)

		userID, _ := c.Get(userIDKey)
		itemID := ""
		if strings.Contains(c.FullPath(), "/items/:id") {
			itemID = c.Param("id")
		}
		if raw, ok := c.Get(ItemIDKey); ok {
			if s, ok := raw.(string); ok {
				itemID = s
			}
		}
		decision := ""
		if raw, ok := c.Get(DecisionKey); ok {
			if s, ok := raw.(string); ok {
				decision = s
			}
		}

		telemetry.Info("request.complete", map[string]any{
			"request_id":  reqID,
			"method":      c.Request.Method,
			"path":        c.Request.URL.Path,
			"status":      status,
			"duration_ms": float64(latency.Microseconds()) / 1000.0,
			"user_id":     userID,
			"item_id":     itemID,
			"decision":    decision,
			"client_ip":   c.ClientIP(),
			"user_agent":  c.Request.UserAgent(),
		})
	}
}
