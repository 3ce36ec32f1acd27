package e2e

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/markdownflow/flowrun/pkg/llm"
	"github.com/markdownflow/flowrun/pkg/tts"
)

// ScriptedLLM replays queued responses in order and records every request,
// so tests can assert on the prompts the engine built.
type ScriptedLLM struct {
	mu        sync.Mutex
	completes []string
	streams   [][]string
	Requests  []llm.Request
}

// ScriptStream queues one streaming response delivered as the given chunks.
func (f *ScriptedLLM) ScriptStream(chunks ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.streams = append(f.streams, chunks)
}

// ScriptComplete queues one non-streaming response.
func (f *ScriptedLLM) ScriptComplete(content string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completes = append(f.completes, content)
}

// Complete implements llm.Provider.
func (f *ScriptedLLM) Complete(_ context.Context, req llm.Request) (*llm.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Requests = append(f.Requests, req)
	if len(f.completes) == 0 {
		return nil, fmt.Errorf("no scripted completion for model %s", req.Model)
	}
	content := f.completes[0]
	f.completes = f.completes[1:]
	return &llm.Result{Content: content, Usage: llm.Usage{TotalTokens: 5}}, nil
}

// Stream implements llm.Provider.
func (f *ScriptedLLM) Stream(_ context.Context, req llm.Request) (<-chan llm.Chunk, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Requests = append(f.Requests, req)
	if len(f.streams) == 0 {
		return nil, fmt.Errorf("no scripted stream for model %s", req.Model)
	}
	script := f.streams[0]
	f.streams = f.streams[1:]

	ch := make(chan llm.Chunk, len(script)+1)
	for _, c := range script {
		ch <- &llm.TextChunk{Content: c}
	}
	ch <- &llm.UsageChunk{Usage: llm.Usage{InputTokens: 3, OutputTokens: 7, TotalTokens: 10}}
	close(ch)
	return ch, nil
}

// ScriptedTTS synthesises deterministic pseudo-audio: the payload is the
// spoken text prefixed with a marker, and the duration is proportional to
// its length. Tests decode the payload to verify which prose was spoken.
type ScriptedTTS struct {
	mu    sync.Mutex
	calls []string

	// FailSubstring makes synthesis fail for any text containing it.
	FailSubstring string
}

const audioMarker = "AUDIO:"

// Synthesize implements tts.Provider.
func (f *ScriptedTTS) Synthesize(_ context.Context, text string, _ tts.VoiceProfile) (*tts.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, text)
	fail := f.FailSubstring != "" && strings.Contains(text, f.FailSubstring)
	f.mu.Unlock()

	if fail {
		return nil, fmt.Errorf("scripted synthesis failure")
	}
	return &tts.Result{
		Audio:      []byte(audioMarker + text),
		DurationMS: 40 * len(text),
		Format:     "mp3",
		SampleRate: 24000,
	}, nil
}

// Calls returns every synthesised text in submission order.
func (f *ScriptedTTS) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}
