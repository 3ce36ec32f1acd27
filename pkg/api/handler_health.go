package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/markdownflow/flowrun/pkg/database"
	"github.com/markdownflow/flowrun/pkg/version"
)

const (
	healthStatusHealthy   = "healthy"
	healthStatusUnhealthy = "unhealthy"
)

// healthHandler handles GET /health.
// Returns a minimal, safe response suitable for unauthenticated access. Only
// the database is checked; external dependencies (LLM, TTS provider, object
// storage) are excluded so an unhealthy upstream cannot get the process
// restarted.
func (s *Server) healthHandler(c *gin.Context) {
	if s.db == nil {
		c.JSON(http.StatusOK, gin.H{"status": healthStatusHealthy, "version": version.GitCommit})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	dbHealth, err := database.Health(ctx, s.db.DB())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":   healthStatusUnhealthy,
			"database": dbHealth,
			"error":    err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":   healthStatusHealthy,
		"database": dbHealth,
		"version":  version.GitCommit,
	})
}
