package llm

import (
	"context"
	"log/slog"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"
)

// Client implements Provider against OpenAI-compatible chat completion
// endpoints. Every registered provider speaks the same wire dialect; only
// the base URL, key and parameter profile differ.
type Client struct {
	registry *Registry
	recorder UsageRecorder
	logger   *slog.Logger
}

// NewClient builds a Client. recorder may be nil to disable metering.
func NewClient(registry *Registry, recorder UsageRecorder, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{registry: registry, recorder: recorder, logger: logger}
}

// Complete implements Provider.
func (c *Client) Complete(ctx context.Context, req Request) (*Result, error) {
	route, err := c.registry.Resolve(req.Model)
	if err != nil {
		return nil, err
	}

	params, opts := buildCall(route, req, false)
	cli := apiClient(route)
	start := time.Now()
	resp, err := cli.Chat.Completions.New(ctx, params, opts...)
	if err != nil {
		c.record(ctx, req, route, false, Usage{}, sinceMS(start), err)
		return nil, &RequestError{Model: req.Model, Message: err.Error()}
	}
	if len(resp.Choices) == 0 {
		c.record(ctx, req, route, false, Usage{}, sinceMS(start), errEmptyChoices)
		return nil, &RequestError{Model: req.Model, Message: errEmptyChoices.Error()}
	}

	usage := usageFromCompletion(resp.Usage)
	c.record(ctx, req, route, false, usage, sinceMS(start), nil)
	return &Result{Content: resp.Choices[0].Message.Content, Usage: usage}, nil
}

// Stream implements Provider. The consumer cancels by cancelling ctx, which
// closes the underlying HTTP stream.
func (c *Client) Stream(ctx context.Context, req Request) (<-chan Chunk, error) {
	route, err := c.registry.Resolve(req.Model)
	if err != nil {
		return nil, err
	}

	params, opts := buildCall(route, req, true)
	cli := apiClient(route)
	start := time.Now()
	stream := cli.Chat.Completions.NewStreaming(ctx, params, opts...)
	if err := stream.Err(); err != nil {
		c.record(ctx, req, route, true, Usage{}, sinceMS(start), err)
		return nil, &RequestError{Model: req.Model, Message: err.Error()}
	}

	ch := make(chan Chunk, 32)
	go func() {
		defer close(ch)
		defer stream.Close()

		var usage Usage
		var gotUsage bool
		for stream.Next() {
			chunk := stream.Current()
			if chunk.Usage.TotalTokens > 0 {
				usage = usageFromCompletion(chunk.Usage)
				gotUsage = true
			}
			if len(chunk.Choices) == 0 {
				continue
			}
			delta := chunk.Choices[0].Delta.Content
			if delta == "" {
				continue
			}
			select {
			case ch <- &TextChunk{Content: delta}:
			case <-ctx.Done():
				c.record(ctx, req, route, true, usage, sinceMS(start), ctx.Err())
				return
			}
		}

		err := stream.Err()
		if gotUsage {
			send(ctx, ch, &UsageChunk{Usage: usage})
		}
		if err != nil {
			send(ctx, ch, &ErrorChunk{Message: err.Error()})
		}
		c.record(ctx, req, route, true, usage, sinceMS(start), err)
	}()
	return ch, nil
}

func (c *Client) record(ctx context.Context, req Request, route *Route, isStream bool, usage Usage, latencyMS int, callErr error) {
	errMsg := ""
	if callErr != nil {
		errMsg = callErr.Error()
		c.logger.Warn("llm call failed",
			"provider", route.Provider,
			"model", req.Model,
			"stream", isStream,
			"latency_ms", latencyMS,
			"error", callErr)
	} else {
		c.logger.Debug("llm call completed",
			"provider", route.Provider,
			"model", req.Model,
			"stream", isStream,
			"latency_ms", latencyMS,
			"total_tokens", usage.TotalTokens,
			"cached_tokens", usage.InputCacheTokens)
	}
	if c.recorder == nil {
		return
	}
	c.recorder.RecordLLMUsage(context.WithoutCancel(ctx), UsageRecord{
		Meter:     req.Meter,
		Provider:  route.Provider,
		Model:     req.Model,
		IsStream:  isStream,
		Usage:     usage,
		LatencyMS: latencyMS,
		Succeeded: callErr == nil,
		Error:     errMsg,
	})
}

var errEmptyChoices = &RequestError{Message: "empty choices in response"}

func send(ctx context.Context, ch chan<- Chunk, chunk Chunk) {
	select {
	case ch <- chunk:
	case <-ctx.Done():
	}
}

func apiClient(route *Route) oai.Client {
	opts := []option.RequestOption{option.WithAPIKey(route.APIKey)}
	if route.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(route.BaseURL))
	}
	return oai.NewClient(opts...)
}

// buildCall assembles SDK params from a request: conversation messages, the
// family-normalised knobs, and usage reporting for streamed calls. Knobs the
// typed params cannot express ride along as JSON body patches.
func buildCall(route *Route, req Request, stream bool) (oai.ChatCompletionNewParams, []option.RequestOption) {
	messages := make([]oai.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case RoleSystem:
			messages = append(messages, oai.SystemMessage(m.Content))
		case RoleAssistant:
			asst := oai.ChatCompletionAssistantMessageParam{}
			asst.Content.OfString = oai.String(m.Content)
			messages = append(messages, oai.ChatCompletionMessageParamUnion{OfAssistant: &asst})
		default:
			messages = append(messages, oai.UserMessage(m.Content))
		}
	}

	params := oai.ChatCompletionNewParams{
		Model:    shared.ChatModel(route.InvokeModel),
		Messages: messages,
	}

	t := 1.0
	if req.Temperature != nil {
		t = *req.Temperature
	}
	knobs := ReloadParams(route.Provider, route.InvokeModel, t)
	if knobs.Temperature != nil {
		params.Temperature = param.NewOpt(*knobs.Temperature)
	}
	if knobs.ReasoningEffort != "" {
		params.ReasoningEffort = shared.ReasoningEffort(knobs.ReasoningEffort)
	}
	if stream {
		params.StreamOptions = oai.ChatCompletionStreamOptionsParam{
			IncludeUsage: param.NewOpt(true),
		}
	}

	var opts []option.RequestOption
	for k, v := range knobs.ExtraBody {
		opts = append(opts, option.WithJSONSet(k, v))
	}
	return params, opts
}

func usageFromCompletion(u oai.CompletionUsage) Usage {
	return Usage{
		InputTokens:      int(u.PromptTokens),
		OutputTokens:     int(u.CompletionTokens),
		TotalTokens:      int(u.TotalTokens),
		InputCacheTokens: int(u.PromptTokensDetails.CachedTokens),
	}
}

func sinceMS(start time.Time) int {
	return int(time.Since(start).Milliseconds())
}
