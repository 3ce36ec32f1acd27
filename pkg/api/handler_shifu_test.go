package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdownflow/flowrun/pkg/models"
)

func TestShifuInfoEndpoint(t *testing.T) {
	stub := newStubStores()
	stub.shifu.TTS.Enabled = true
	_, engine := newTestServer(stub, &stubLock{}, &scriptedLLM{})

	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, learnRequest(http.MethodGet, "/api/learn/shifu/shifu-1", ""))

	require.Equal(t, http.StatusOK, rec.Code)
	var info models.LearnShifuInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.Equal(t, "shifu-1", info.ShifuBID)
	assert.Equal(t, "Intro to Go", info.Title)
	assert.True(t, info.TTSEnabled)

	t.Run("unknown course", func(t *testing.T) {
		rec := httptest.NewRecorder()
		engine.ServeHTTP(rec, learnRequest(http.MethodGet, "/api/learn/shifu/missing", ""))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestOutlineTreeEndpoint(t *testing.T) {
	stub := newStubStores()
	_, engine := newTestServer(stub, &stubLock{}, &scriptedLLM{})

	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, learnRequest(http.MethodGet,
		"/api/learn/shifu/shifu-1/outline-item-tree", ""))

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		OutlineItems []*models.OutlineTreeNode `json:"outline_items"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))

	// The hidden chapter is omitted; the visible one keeps its children.
	require.Len(t, body.OutlineItems, 1)
	chapter := body.OutlineItems[0]
	assert.Equal(t, "ch-1", chapter.OutlineBID)
	assert.Equal(t, "Chapter 1", chapter.Title)
	assert.Equal(t, "1", chapter.Position)
	assert.Equal(t, "chapter", chapter.Type)
	assert.Equal(t, models.ProgressNotStarted, chapter.Status)

	require.Len(t, chapter.Children, 2)
	lesson := chapter.Children[0]
	assert.Equal(t, "lesson-1", lesson.OutlineBID)
	assert.Equal(t, "1.1", lesson.Position)
	assert.Equal(t, "lesson", lesson.Type)
	assert.Equal(t, models.ProgressInProgress, lesson.Status)
	assert.Equal(t, "1.2", chapter.Children[1].Position)

	t.Run("preview mode includes hidden outlines", func(t *testing.T) {
		rec := httptest.NewRecorder()
		engine.ServeHTTP(rec, learnRequest(http.MethodGet,
			"/api/learn/shifu/shifu-1/outline-item-tree?preview_mode=true", ""))

		require.Equal(t, http.StatusOK, rec.Code)
		var body struct {
			OutlineItems []*models.OutlineTreeNode `json:"outline_items"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		require.Len(t, body.OutlineItems, 2)
		assert.Equal(t, "ch-hidden", body.OutlineItems[1].OutlineBID)
		assert.Equal(t, "2", body.OutlineItems[1].Position)
	})
}
