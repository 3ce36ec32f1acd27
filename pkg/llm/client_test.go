package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorderStub struct {
	mu   sync.Mutex
	recs []UsageRecord
}

func (r *recorderStub) RecordLLMUsage(_ context.Context, rec UsageRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recs = append(r.recs, rec)
}

func (r *recorderStub) records() []UsageRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]UsageRecord(nil), r.recs...)
}

// newChatServer serves the chat completions wire format, answering with a
// plain completion or an SSE stream depending on the request's stream flag.
// Each request body is captured for assertions.
func newChatServer(t *testing.T) (*httptest.Server, func() []map[string]any) {
	t.Helper()
	var mu sync.Mutex
	var bodies []map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		body["_auth"] = r.Header.Get("Authorization")
		mu.Lock()
		bodies = append(bodies, body)
		mu.Unlock()

		if stream, _ := body["stream"].(bool); stream {
			w.Header().Set("Content-Type", "text/event-stream")
			for _, data := range []string{
				`{"id":"c-1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"content":"Hel"}}]}`,
				`{"id":"c-1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"content":"lo."}}]}`,
				`{"id":"c-1","object":"chat.completion.chunk","choices":[],"usage":{"prompt_tokens":5,"completion_tokens":2,"total_tokens":7}}`,
				`[DONE]`,
			} {
				fmt.Fprintf(w, "data: %s\n\n", data)
			}
			return
		}

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "Hello there."}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 12, "completion_tokens": 4, "total_tokens": 16,
				"prompt_tokens_details": {"cached_tokens": 3}}
		}`)
	}))
	t.Cleanup(srv.Close)

	captured := func() []map[string]any {
		mu.Lock()
		defer mu.Unlock()
		return append([]map[string]any(nil), bodies...)
	}
	return srv, captured
}

func newTestClient(t *testing.T, baseURL string, rec UsageRecorder) *Client {
	t.Helper()
	reg := NewRegistry()
	reg.SetCredential(ProviderQwen, Credential{APIKey: "sk-test", BaseURL: baseURL})
	return NewClient(reg, rec, nil)
}

func TestClientComplete(t *testing.T) {
	srv, captured := newChatServer(t)
	rec := &recorderStub{}
	c := newTestClient(t, srv.URL, rec)

	res, err := c.Complete(context.Background(), Request{
		Model: "qwen/qwen-test",
		Messages: []Message{
			{Role: RoleSystem, Content: "You teach Go."},
			{Role: RoleUser, Content: "Say hello."},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "Hello there.", res.Content)
	assert.Equal(t, Usage{InputTokens: 12, OutputTokens: 4, TotalTokens: 16, InputCacheTokens: 3}, res.Usage)

	bodies := captured()
	require.Len(t, bodies, 1)
	assert.Equal(t, "qwen-test", bodies[0]["model"], "alias prefix must not reach the wire")
	assert.Equal(t, "Bearer sk-test", bodies[0]["_auth"])

	recs := rec.records()
	require.Len(t, recs, 1)
	assert.True(t, recs[0].Succeeded)
	assert.False(t, recs[0].IsStream)
	assert.Equal(t, 16, recs[0].Usage.TotalTokens)
}

func TestClientStream(t *testing.T) {
	srv, captured := newChatServer(t)
	rec := &recorderStub{}
	c := newTestClient(t, srv.URL, rec)

	ch, err := c.Stream(context.Background(), Request{
		Model:    "qwen/qwen-test",
		Messages: []Message{{Role: RoleUser, Content: "Say hello."}},
	})
	require.NoError(t, err)

	var text strings.Builder
	var usage *Usage
	for chunk := range ch {
		switch v := chunk.(type) {
		case *TextChunk:
			text.WriteString(v.Content)
		case *UsageChunk:
			u := v.Usage
			usage = &u
		case *ErrorChunk:
			t.Fatalf("unexpected error chunk: %s", v.Message)
		}
	}
	assert.Equal(t, "Hello.", text.String())
	require.NotNil(t, usage)
	assert.Equal(t, 7, usage.TotalTokens)

	bodies := captured()
	require.Len(t, bodies, 1)
	assert.Equal(t, true, bodies[0]["stream"])

	recs := rec.records()
	require.Len(t, recs, 1)
	assert.True(t, recs[0].IsStream)
	assert.True(t, recs[0].Succeeded)
	assert.Equal(t, 7, recs[0].Usage.TotalTokens)
}

func TestClientCompleteUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		// 400 is not retried by the SDK, unlike 429 and 5xx.
		http.Error(w, `{"error": {"message": "prompt rejected"}}`, http.StatusBadRequest)
	}))
	t.Cleanup(srv.Close)
	rec := &recorderStub{}
	c := newTestClient(t, srv.URL, rec)

	_, err := c.Complete(context.Background(), Request{
		Model:    "qwen/qwen-test",
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
	})
	var reqErr *RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, "qwen/qwen-test", reqErr.Model)

	recs := rec.records()
	require.Len(t, recs, 1)
	assert.False(t, recs[0].Succeeded)
	assert.NotEmpty(t, recs[0].Error)
}

func TestClientUnresolvedModel(t *testing.T) {
	c := newTestClient(t, "http://unused.invalid", &recorderStub{})
	_, err := c.Complete(context.Background(), Request{Model: "glm/glm-4"})
	assert.ErrorIs(t, err, ErrNotConfigured)
}
