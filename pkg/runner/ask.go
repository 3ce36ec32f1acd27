package runner

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/markdownflow/flowrun/pkg/events"
	"github.com/markdownflow/flowrun/pkg/llm"
	"github.com/markdownflow/flowrun/pkg/models"
)

// askContextTurns bounds how many recent lesson turns ride along as chat
// context.
const askContextTurns = 8

// handleAsk answers a free-form learner question in the lesson's context.
// Ask turns never advance the cursor; the first ask of a run records the
// anchor that later reloads restore.
func (r *Runner) handleAsk(ctx context.Context, emit func(events.RunEvent)) error {
	r.canContinue = false
	question := strings.TrimSpace(r.input.Text)
	if question == "" {
		return nil
	}
	if r.lastPosition < 0 {
		r.lastPosition = r.progress.BlockPosition
	}

	history, err := r.deps.Blocks.ListHistory(ctx, r.progress.ProgressRecordBID)
	if err != nil {
		return err
	}

	model, temperature := r.resolveLLMSettings()
	answerBID := uuid.New().String()
	stream, err := r.deps.LLM.Stream(ctx, llm.Request{
		Messages:    r.askMessages(question, history),
		Model:       model,
		Temperature: temperature,
		Meter:       r.meter(answerBID),
	})
	if err != nil {
		return err
	}

	var text strings.Builder
	for chunk := range stream {
		switch c := chunk.(type) {
		case *llm.TextChunk:
			text.WriteString(c.Content)
			emit(r.event(events.TypeContent, answerBID, c.Content))
		case *llm.ErrorChunk:
			return &llm.RequestError{Model: model, Message: c.Message}
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	emit(r.event(events.TypeBreak, answerBID, ""))

	position := r.progress.BlockPosition
	askRow := r.newBlockRow(models.GeneratedTypeAsk, models.RoleStudent, position, "", question)
	answerRow := r.newBlockRow(models.GeneratedTypeAnswer, models.RoleTeacher, position, "", text.String())
	answerRow.GeneratedBlockBID = answerBID
	return r.deps.Tx.Step(ctx, func(s StepStores) error {
		if err := s.Blocks.Append(ctx, askRow); err != nil {
			return err
		}
		return s.Blocks.Append(ctx, answerRow)
	})
}

// askMessages threads recent lesson turns so the model answers in context.
func (r *Runner) askMessages(question string, history []*models.LearnGeneratedBlock) []llm.Message {
	msgs := []llm.Message{{Role: llm.RoleSystem, Content: r.askSystemPrompt()}}

	recent := history
	if len(recent) > askContextTurns {
		recent = recent[len(recent)-askContextTurns:]
	}
	for _, b := range recent {
		if b.GeneratedContent == "" {
			continue
		}
		role := llm.RoleAssistant
		if b.Role == models.RoleStudent {
			role = llm.RoleUser
		}
		msgs = append(msgs, llm.Message{Role: role, Content: b.GeneratedContent})
	}
	return append(msgs, llm.Message{Role: llm.RoleUser, Content: question})
}

// askSystemPrompt frames the side-channel conversation.
func (r *Runner) askSystemPrompt() string {
	instruction := fmt.Sprintf("The learner is asking a side question during the lesson %q. Answer briefly, then guide them back to the lesson.", r.outline.Title)
	if prompt := r.systemPrompt(); prompt != "" {
		return prompt + "\n\n" + instruction
	}
	return instruction
}
