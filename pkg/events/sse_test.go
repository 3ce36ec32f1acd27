package events

import (
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmitterFrameFormat(t *testing.T) {
	rec := httptest.NewRecorder()
	em := NewEmitter(rec)

	err := em.Emit(RunEvent{
		OutlineBID:        "outline-1",
		GeneratedBlockBID: "block-1",
		Type:              TypeContent,
		Content:           "hello",
	})
	require.NoError(t, err)

	assert.Equal(t, "data: {\"outline_bid\":\"outline-1\",\"generated_block_bid\":\"block-1\",\"type\":\"content\",\"content\":\"hello\"}\n\n", rec.Body.String())
	assert.True(t, rec.Flushed)
}

func TestEmitterStructuredContent(t *testing.T) {
	rec := httptest.NewRecorder()
	em := NewEmitter(rec)

	err := em.Emit(RunEvent{
		OutlineBID:        "outline-1",
		GeneratedBlockBID: "block-1",
		Type:              TypeAudioSegment,
		Content: AudioSegment{
			Position:     0,
			SegmentIndex: 2,
			AudioData:    "bXAz",
			DurationMS:   1200,
			IsFinal:      true,
		},
	})
	require.NoError(t, err)

	body := rec.Body.String()
	require.True(t, len(body) > 8 && body[:6] == "data: ")

	var frame struct {
		Type    string       `json:"type"`
		Content AudioSegment `json:"content"`
	}
	require.NoError(t, json.Unmarshal([]byte(body[6:len(body)-2]), &frame))
	assert.Equal(t, TypeAudioSegment, frame.Type)
	assert.Equal(t, 2, frame.Content.SegmentIndex)
	assert.Equal(t, "bXAz", frame.Content.AudioData)
	assert.True(t, frame.Content.IsFinal)
}

func TestEmitErrorAlwaysTerminates(t *testing.T) {
	rec := httptest.NewRecorder()
	em := NewEmitter(rec)

	require.NoError(t, em.EmitError("outline-1", "model not supported"))

	body := rec.Body.String()
	assert.Contains(t, body, "\"type\":\"error\"")
	assert.Contains(t, body, "model not supported")
	// The done frame is the last one on the wire.
	assert.Contains(t, body, "\"type\":\"done\"")
	assert.Greater(t, len(body), 0)
	last := body[len(body)-2:]
	assert.Equal(t, "\n\n", last)
}

func TestPrepareResponse(t *testing.T) {
	rec := httptest.NewRecorder()
	PrepareResponse(rec)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
}
