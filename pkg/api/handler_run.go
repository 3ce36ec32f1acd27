package api

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/markdownflow/flowrun/pkg/events"
	"github.com/markdownflow/flowrun/pkg/runner"
)

// runRequest is the body of PUT /run/:outline_bid and POST /preview/:outline_bid.
type runRequest struct {
	Input                   runner.Input `json:"input"`
	InputType               string       `json:"input_type"`
	ReloadGeneratedBlockBID string       `json:"reload_generated_block_bid"`
}

// runHandler handles PUT /shifu/:shifu_bid/run/:outline_bid.
func (s *Server) runHandler(c *gin.Context) {
	s.serveRun(c, false)
}

// previewRunHandler handles POST /shifu/:shifu_bid/preview/:outline_bid.
// Preview runs load the draft variant, bypass access gates and keep audio
// out of persistence.
func (s *Server) previewRunHandler(c *gin.Context) {
	s.serveRun(c, true)
}

// serveRun drives one run request end to end: parse the body, take the run
// lock, build the runner and stream its frames as server-sent events.
func (s *Server) serveRun(c *gin.Context, preview bool) {
	var req runRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid run request: " + err.Error()})
		return
	}

	params := runner.Params{
		UserBID:    userBID(c),
		ShifuBID:   c.Param("shifu_bid"),
		OutlineBID: c.Param("outline_bid"),
		Preview:    preview,
		Input:      req.Input,
		InputType:  req.InputType,
		ReloadBID:  req.ReloadGeneratedBlockBID,
	}

	ctx := c.Request.Context()
	release, err := s.lock.Acquire(ctx, params.UserBID, params.OutlineBID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	defer release()

	r, err := runner.New(ctx, s.runDeps, params)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	events.PrepareResponse(c.Writer)
	c.Writer.WriteHeader(http.StatusOK)
	c.Writer.Flush()

	// Drain the stream even after a write failure so the runner is never
	// blocked on the event channel.
	emitter := events.NewEmitter(c.Writer)
	var writeErr error
	for ev := range r.RunScript(ctx) {
		if writeErr != nil {
			continue
		}
		if err := emitter.Emit(ev); err != nil {
			writeErr = err
			slog.Warn("Run stream write failed",
				"user_bid", params.UserBID,
				"outline_bid", params.OutlineBID,
				"error", err)
		}
	}
}

// runStatusHandler handles GET /shifu/:shifu_bid/run/:outline_bid.
func (s *Server) runStatusHandler(c *gin.Context) {
	running, seconds, err := s.lock.Status(c.Request.Context(), userBID(c), c.Param("outline_bid"))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"is_running": running, "running_time": seconds})
}
