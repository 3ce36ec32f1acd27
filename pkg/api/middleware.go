package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// userBIDHeader carries the learner identity forwarded by the gateway.
// Authentication happens upstream; this service trusts the header.
const userBIDHeader = "X-User-BID"

// requestLogger logs one line per completed request.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		slog.Info("Request completed",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds())
	}
}

// securityHeaders sets standard security response headers.
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("X-Frame-Options", "DENY")
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Next()
	}
}

// requireUserBID rejects requests that arrive without a learner identity.
func requireUserBID() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetHeader(userBIDHeader) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing " + userBIDHeader + " header"})
			return
		}
		c.Next()
	}
}

// userBID returns the learner identity of the request.
func userBID(c *gin.Context) string {
	return c.GetHeader(userBIDHeader)
}
