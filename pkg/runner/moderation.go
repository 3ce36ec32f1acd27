package runner

import (
	"context"
	"log/slog"
	"strings"

	"github.com/markdownflow/flowrun/pkg/llm"
)

const moderationSystemPrompt = `You screen short learner messages for clearly unsafe or abusive content. Reply with exactly OK when the message is acceptable. Otherwise reply with one short sentence, addressed to the learner, asking them to rephrase.`

// LLMModerator screens submissions with a one-shot completion against a
// moderation prompt. Provider failures fail open with a warning; moderation
// must never wedge a lesson.
type LLMModerator struct {
	provider llm.Provider
	model    string
}

// NewLLMModerator returns a Moderator that judges text with the given model.
func NewLLMModerator(provider llm.Provider, model string) *LLMModerator {
	return &LLMModerator{provider: provider, model: model}
}

// CheckText implements Moderator.
func (m *LLMModerator) CheckText(ctx context.Context, userBID, text string) (<-chan string, error) {
	ch := make(chan string, 1)
	result, err := m.provider.Complete(ctx, llm.Request{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: moderationSystemPrompt},
			{Role: llm.RoleUser, Content: text},
		},
		Model: m.model,
	})
	if err != nil {
		slog.Warn("Moderation check failed, accepting text", "user_bid", userBID, "error", err)
		close(ch)
		return ch, nil
	}
	verdict := strings.TrimSpace(result.Content)
	if verdict != "" && !strings.EqualFold(verdict, "OK") {
		ch <- verdict
	}
	close(ch)
	return ch, nil
}
