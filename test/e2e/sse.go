package e2e

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/markdownflow/flowrun/pkg/events"
)

// Frame is one decoded SSE frame of a run stream. Content stays raw so
// tests decode it per type.
type Frame struct {
	OutlineBID        string          `json:"outline_bid"`
	GeneratedBlockBID string          `json:"generated_block_bid"`
	Type              string          `json:"type"`
	Content           json.RawMessage `json:"content"`
}

// String decodes the frame content as a plain string; non-string content
// fails the test.
func (f Frame) String(t *testing.T) string {
	t.Helper()
	var s string
	require.NoError(t, json.Unmarshal(f.Content, &s), "content of %s frame is not a string", f.Type)
	return s
}

// AudioSegment decodes the frame content as an audio_segment payload.
func (f Frame) AudioSegment(t *testing.T) events.AudioSegment {
	t.Helper()
	var p events.AudioSegment
	require.NoError(t, json.Unmarshal(f.Content, &p))
	return p
}

// AudioComplete decodes the frame content as an audio_complete payload.
func (f Frame) AudioComplete(t *testing.T) events.AudioComplete {
	t.Helper()
	var p events.AudioComplete
	require.NoError(t, json.Unmarshal(f.Content, &p))
	return p
}

// NewSlide decodes the frame content as a new_slide payload.
func (f Frame) NewSlide(t *testing.T) events.NewSlide {
	t.Helper()
	var p events.NewSlide
	require.NoError(t, json.Unmarshal(f.Content, &p))
	return p
}

// OutlineUpdate decodes the frame content as an outline_item_update payload.
func (f Frame) OutlineUpdate(t *testing.T) events.OutlineItemUpdate {
	t.Helper()
	var p events.OutlineItemUpdate
	require.NoError(t, json.Unmarshal(f.Content, &p))
	return p
}

// VariableUpdate decodes the frame content as a variable_update payload.
func (f Frame) VariableUpdate(t *testing.T) events.VariableUpdate {
	t.Helper()
	var p events.VariableUpdate
	require.NoError(t, json.Unmarshal(f.Content, &p))
	return p
}

// runBody is the request body of the run endpoints.
type runBody struct {
	Input                   any    `json:"input,omitempty"`
	InputType               string `json:"input_type,omitempty"`
	ReloadGeneratedBlockBID string `json:"reload_generated_block_bid,omitempty"`
}

// Run drives PUT /run and decodes the full stream. The stream must be
// terminated by a done frame.
func (h *Harness) Run(shifuBID, outlineBID string, body runBody) []Frame {
	h.t.Helper()
	return h.stream(http.MethodPut, "/run/", shifuBID, outlineBID, body)
}

// Preview drives POST /preview and decodes the full stream.
func (h *Harness) Preview(shifuBID, outlineBID string, body runBody) []Frame {
	h.t.Helper()
	return h.stream(http.MethodPost, "/preview/", shifuBID, outlineBID, body)
}

func (h *Harness) stream(method, segment, shifuBID, outlineBID string, body runBody) []Frame {
	h.t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(h.t, err)

	url := h.Server.URL + h.Cfg.PathPrefix + "/shifu/" + shifuBID + segment + outlineBID
	req, err := http.NewRequest(method, url, bytes.NewReader(payload))
	require.NoError(h.t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-BID", TestUserBID)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(h.t, err)
	defer resp.Body.Close()
	require.Equal(h.t, http.StatusOK, resp.StatusCode)
	require.Equal(h.t, "text/event-stream", resp.Header.Get("Content-Type"))

	frames := DecodeFrames(h.t, resp.Body)
	require.NotEmpty(h.t, frames)
	require.Equal(h.t, events.TypeDone, frames[len(frames)-1].Type, "stream must end with done")
	return frames
}

// DecodeFrames reads "data: <json>" lines until EOF.
func DecodeFrames(t *testing.T, r io.Reader) []Frame {
	t.Helper()
	var frames []Frame
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var f Frame
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &f))
		frames = append(frames, f)
	}
	require.NoError(t, scanner.Err())
	return frames
}

// FramesOfType filters frames by event type, preserving order.
func FramesOfType(frames []Frame, typ string) []Frame {
	var out []Frame
	for _, f := range frames {
		if f.Type == typ {
			out = append(out, f)
		}
	}
	return out
}

// Types lists the event types in arrival order.
func Types(frames []Frame) []string {
	out := make([]string, 0, len(frames))
	for _, f := range frames {
		out = append(out, f.Type)
	}
	return out
}

// JoinContent concatenates the content deltas of one generated block; an
// empty blockBID joins every content frame.
func JoinContent(t *testing.T, frames []Frame, blockBID string) string {
	t.Helper()
	var sb strings.Builder
	for _, f := range frames {
		if f.Type != events.TypeContent {
			continue
		}
		if blockBID != "" && f.GeneratedBlockBID != blockBID {
			continue
		}
		sb.WriteString(f.String(t))
	}
	return sb.String()
}
