// Package llm routes chat completions to OpenAI-compatible providers. A
// model alias picks the provider and invoke model through a registry, a
// per-family parameter reload normalises sampling knobs, and every call
// reports its token usage to a metering hook.
package llm

import (
	"context"
	"errors"
	"fmt"
)

// Provider is the capability interface the run engine depends on.
type Provider interface {
	// Complete sends a conversation and returns the full response text.
	Complete(ctx context.Context, req Request) (*Result, error)

	// Stream sends a conversation and returns a stream of chunks. The
	// returned channel is closed when the stream completes. Errors are
	// delivered as ErrorChunk values in the channel.
	Stream(ctx context.Context, req Request) (<-chan Chunk, error)
}

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of a conversation.
type Message struct {
	Role    string
	Content string
}

// Request describes one completion call. Model is an alias that may be
// prefix-qualified (for example "qwen/qwen-max"); Temperature nil means the
// provider default.
type Request struct {
	Messages    []Message
	Model       string
	Temperature *float64
	Meter       *Meter
}

// Meter carries the billing labels attached to a call. A nil Meter disables
// metering for the call.
type Meter struct {
	UserBID           string
	ShifuBID          string
	OutlineItemBID    string
	ProgressRecordBID string
	GeneratedBlockBID string
	Scene             int
}

// Usage reports token consumption for one call.
type Usage struct {
	InputTokens      int
	OutputTokens     int
	TotalTokens      int
	InputCacheTokens int
}

// Result is the response of a non-streaming completion.
type Result struct {
	Content string
	Usage   Usage
}

// Chunk is the interface for all streaming chunk types.
type Chunk interface {
	chunkType() ChunkType
}

// ChunkType identifies the kind of streaming chunk.
type ChunkType string

const (
	ChunkTypeText  ChunkType = "text"
	ChunkTypeUsage ChunkType = "usage"
	ChunkTypeError ChunkType = "error"
)

// TextChunk is a delta of the response text.
type TextChunk struct{ Content string }

// UsageChunk reports token consumption; it arrives once, after the last
// text chunk.
type UsageChunk struct{ Usage Usage }

// ErrorChunk signals a provider failure. It is the last chunk before the
// channel closes.
type ErrorChunk struct{ Message string }

func (c *TextChunk) chunkType() ChunkType  { return ChunkTypeText }
func (c *UsageChunk) chunkType() ChunkType { return ChunkTypeUsage }
func (c *ErrorChunk) chunkType() ChunkType { return ChunkTypeError }

// UsageRecorder receives one record per completed call, including failed
// ones. Implementations must be best effort and never block for long.
type UsageRecorder interface {
	RecordLLMUsage(ctx context.Context, rec UsageRecord)
}

// UsageRecord is the metering view of one call.
type UsageRecord struct {
	Meter     *Meter
	Provider  string
	Model     string
	IsStream  bool
	Usage     Usage
	LatencyMS int
	Succeeded bool
	Error     string
}

// ErrModelNotSupported indicates the alias matched no registered provider or
// is outside the allowed model list.
var ErrModelNotSupported = errors.New("model not supported")

// ErrNotConfigured indicates the alias resolved to a provider that has no
// credentials.
var ErrNotConfigured = errors.New("llm provider not configured")

// RequestError wraps a provider-side failure with the model that caused it.
type RequestError struct {
	Model   string
	Message string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("llm request failed for model %q: %s", e.Model, e.Message)
}
