package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/markdownflow/flowrun/pkg/models"
	"github.com/markdownflow/flowrun/pkg/outline"
)

// getShifuHandler handles GET /shifu/:shifu_bid.
func (s *Server) getShifuHandler(c *gin.Context) {
	preview := c.Query("preview_mode") == "true"

	shifu, err := s.shifus.GetShifu(c.Request.Context(), c.Param("shifu_bid"), preview)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, &models.LearnShifuInfo{
		ShifuBID:    shifu.ShifuBID,
		Title:       shifu.Title,
		Description: shifu.Description,
		Avatar:      shifu.Avatar,
		Price:       shifu.Price,
		Keywords:    shifu.Keywords,
		TTSEnabled:  shifu.TTS.Enabled,
	})
}

// outlineTreeHandler handles GET /shifu/:shifu_bid/outline-item-tree.
func (s *Server) outlineTreeHandler(c *gin.Context) {
	ctx := c.Request.Context()
	shifuBID := c.Param("shifu_bid")
	preview := c.Query("preview_mode") == "true"

	tree, err := s.outlines.GetStructTree(ctx, shifuBID, preview)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	metas, err := s.outlines.OutlineMetas(ctx, shifuBID, preview)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	statuses, err := s.progress.StatusByOutline(ctx, userBID(c), shifuBID)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	items := outlineTreeLevel(tree, metas, statuses, preview, "")
	if items == nil {
		items = []*models.OutlineTreeNode{}
	}
	c.JSON(http.StatusOK, gin.H{"outline_items": items})
}

// outlineTreeLevel converts one level of the structure snapshot into the
// learner-facing tree. Hidden outlines are omitted outside preview mode;
// nodes without a progress row read as not started.
func outlineTreeLevel(parent *outline.Node, metas map[string]outline.Meta, statuses map[string]string, includeHidden bool, prefix string) []*models.OutlineTreeNode {
	var items []*models.OutlineTreeNode
	num := 0
	for _, child := range parent.OutlineChildren() {
		meta := metas[child.BID]
		if meta.Hidden && !includeHidden {
			continue
		}
		num++
		position := strconv.Itoa(num)
		if prefix != "" {
			position = prefix + "." + position
		}

		kind := "chapter"
		if child.IsLeafOutline() {
			kind = "lesson"
		}
		status := statuses[child.BID]
		if status == "" {
			status = models.ProgressNotStarted
		}

		items = append(items, &models.OutlineTreeNode{
			OutlineBID: child.BID,
			Title:      meta.Title,
			Position:   position,
			Type:       kind,
			Status:     status,
			Children:   outlineTreeLevel(child, metas, statuses, includeHidden, position),
		})
	}
	return items
}
