package api

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/markdownflow/flowrun/pkg/models"
	"github.com/markdownflow/flowrun/pkg/outline"
	"github.com/markdownflow/flowrun/pkg/services"
)

// recordsResponse is the learner's resume payload for one outline: the
// active progress cursor plus every still-active emission in order.
type recordsResponse struct {
	Status        string                        `json:"status"`
	BlockPosition int                           `json:"block_position"`
	Records       []*models.LearnGeneratedBlock `json:"records"`
}

// getRecordsHandler handles GET /shifu/:shifu_bid/records/:outline_bid.
func (s *Server) getRecordsHandler(c *gin.Context) {
	ctx := c.Request.Context()

	rec, err := s.progress.FindActiveProgress(ctx, userBID(c), c.Param("outline_bid"))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	if rec == nil {
		c.JSON(http.StatusOK, &recordsResponse{
			Status:  models.ProgressNotStarted,
			Records: []*models.LearnGeneratedBlock{},
		})
		return
	}

	rows, err := s.blocks.ListHistory(ctx, rec.ProgressRecordBID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	if rows == nil {
		rows = []*models.LearnGeneratedBlock{}
	}
	c.JSON(http.StatusOK, &recordsResponse{
		Status:        rec.Status,
		BlockPosition: rec.BlockPosition,
		Records:       rows,
	})
}

// resetRecordsHandler handles DELETE /shifu/:shifu_bid/records/:outline_bid.
// Resetting a chapter also resets every outline beneath it, so a later run
// replays the subtree from its first block.
func (s *Server) resetRecordsHandler(c *gin.Context) {
	ctx := c.Request.Context()
	outlineBID := c.Param("outline_bid")

	tree, err := s.outlines.GetStructTree(ctx, c.Param("shifu_bid"), false)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	node := tree.FindOutline(outlineBID)
	if node == nil {
		respondServiceError(c, services.ErrLessonNotFound)
		return
	}

	count, err := s.progress.ResetActive(ctx, userBID(c), collectOutlineBIDs(node))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	slog.Info("Reset learner progress",
		"user_bid", userBID(c),
		"outline_bid", outlineBID,
		"rows", count)
	c.JSON(http.StatusOK, gin.H{"reset": count})
}

// collectOutlineBIDs returns the bids of the node and every outline below it.
func collectOutlineBIDs(n *outline.Node) []string {
	var bids []string
	if n.Type == outline.NodeTypeOutline && n.BID != "" {
		bids = append(bids, n.BID)
	}
	for _, c := range n.Children {
		if c.Type == outline.NodeTypeBlock {
			continue
		}
		bids = append(bids, collectOutlineBIDs(c)...)
	}
	return bids
}
