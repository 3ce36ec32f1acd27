package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/markdownflow/flowrun/pkg/models"
	"github.com/markdownflow/flowrun/pkg/services"
	"github.com/markdownflow/flowrun/pkg/tts"
)

// getGeneratedBlockHandler handles GET /shifu/:shifu_bid/generated-contents/:bid.
func (s *Server) getGeneratedBlockHandler(c *gin.Context) {
	row, ok := s.ownedBlock(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, row)
}

// generatedActionHandler fans out POST /generated-contents/:bid/:action.
// "audio" requests on-demand synthesis; anything else is a reaction.
func (s *Server) generatedActionHandler(c *gin.Context) {
	if c.Param("action") == "audio" {
		s.generateAudioHandler(c)
		return
	}
	s.reactionHandler(c)
}

// reactionHandler records a like/dislike/none reaction on one emission.
func (s *Server) reactionHandler(c *gin.Context) {
	row, ok := s.ownedBlock(c)
	if !ok {
		return
	}
	action := c.Param("action")
	if err := s.blocks.React(c.Request.Context(), row.GeneratedBlockBID, action); err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"generated_block_bid": row.GeneratedBlockBID, "action": action})
}

// generateAudioHandler synthesises audio for an already-generated block, for
// courses that enabled TTS after the block streamed. Completed parts are
// returned as-is; synthesis only runs when none exist yet.
func (s *Server) generateAudioHandler(c *gin.Context) {
	ctx := c.Request.Context()

	shifu, err := s.shifus.GetShifu(ctx, c.Param("shifu_bid"), false)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	if !shifu.TTS.Enabled || s.runDeps.TTS == nil || s.runDeps.TTS.Provider == nil {
		respondServiceError(c, services.ErrTTSNotEnabled)
		return
	}

	row, ok := s.ownedBlock(c)
	if !ok {
		return
	}

	existing, err := s.audio.ListByBlock(ctx, row.GeneratedBlockBID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	for _, part := range existing {
		if part.Status == models.AudioStatusCompleted {
			c.JSON(http.StatusOK, gin.H{"audios": existing})
			return
		}
	}

	orch := tts.NewOrchestrator(ctx, tts.Options{
		Provider:          s.runDeps.TTS.Provider,
		Pool:              s.runDeps.TTS.Pool,
		Voice:             tts.ProfileFor(shifu.TTS),
		UserBID:           row.UserBID,
		ShifuBID:          row.ShifuBID,
		OutlineBID:        row.OutlineItemBID,
		ProgressRecordBID: row.ProgressRecordBID,
		BlockBID:          row.GeneratedBlockBID,
		Scene:             models.SceneProduction,
		Uploader:          s.runDeps.TTS.Uploader,
		Audio:             s.audio,
		Usage:             s.runDeps.Usage,
		MaxSegmentChars:   s.cfg.TTSMaxSegmentChars,
		SegmentTimeout:    s.cfg.TTSSegmentTimeout,
	})
	orch.ProcessChunk(row.GeneratedContent)
	parts, err := orch.Finalize(ctx)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"audios": parts})
}

// ownedBlock loads the :bid row and hides other learners' rows behind a 404.
func (s *Server) ownedBlock(c *gin.Context) (*models.LearnGeneratedBlock, bool) {
	row, err := s.blocks.Get(c.Request.Context(), c.Param("bid"))
	if err != nil {
		respondServiceError(c, err)
		return nil, false
	}
	if row.UserBID != userBID(c) {
		respondServiceError(c, services.ErrGeneratedBlockNotFound)
		return nil, false
	}
	return row, true
}
