package runner

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/markdownflow/flowrun/pkg/events"
	"github.com/markdownflow/flowrun/pkg/llm"
	"github.com/markdownflow/flowrun/pkg/mdflow"
	"github.com/markdownflow/flowrun/pkg/models"
	"github.com/markdownflow/flowrun/pkg/tts"
)

// handleContent streams one content block through the LLM, mirrors the text
// into TTS when the course enables it, and persists the emission. The block
// bid is minted before streaming so every delta carries it.
func (r *Runner) handleContent(ctx context.Context, emit func(events.RunEvent), block mdflow.Block) error {
	vars, err := r.profileVars(ctx)
	if err != nil {
		return err
	}
	model, temperature := r.resolveLLMSettings()
	blockBID := uuid.New().String()

	return r.deps.Tx.Step(ctx, func(s StepStores) error {
		orch := r.newOrchestrator(ctx, s, emit, blockBID)

		// 1. Stream the rendered block.
		stream, err := r.deps.LLM.Stream(ctx, llm.Request{
			Messages:    r.contentMessages(block, vars),
			Model:       model,
			Temperature: temperature,
			Meter:       r.meter(blockBID),
		})
		if err != nil {
			return err
		}
		var text strings.Builder
		for chunk := range stream {
			switch c := chunk.(type) {
			case *llm.TextChunk:
				text.WriteString(c.Content)
				emit(r.event(events.TypeContent, blockBID, c.Content))
				if orch != nil {
					orch.ProcessChunk(c.Content)
				}
			case *llm.ErrorChunk:
				return &llm.RequestError{Model: model, Message: c.Message}
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		emit(r.event(events.TypeBreak, blockBID, ""))

		// 2. Persist the emission and advance the cursor.
		row := &models.LearnGeneratedBlock{
			GeneratedBlockBID: blockBID,
			ProgressRecordBID: r.progress.ProgressRecordBID,
			UserBID:           r.params.UserBID,
			ShifuBID:          r.params.ShifuBID,
			OutlineItemBID:    r.params.OutlineBID,
			Type:              models.GeneratedTypeContent,
			Role:              models.RoleTeacher,
			Position:          r.progress.BlockPosition,
			BlockContentConf:  block.Content,
			GeneratedContent:  text.String(),
		}
		if err := s.Blocks.Append(ctx, row); err != nil {
			return err
		}
		next := r.progress.BlockPosition + 1
		if err := s.Progress.UpdateBlockPosition(ctx, r.progress.ProgressRecordBID, next); err != nil {
			return err
		}

		// 3. Settle the audio parts before the transaction commits.
		if orch != nil {
			var finErr error
			if r.params.Preview {
				_, finErr = orch.FinalizePreview(ctx)
			} else {
				_, finErr = orch.Finalize(ctx)
			}
			if finErr != nil {
				return finErr
			}
		}

		r.progress.BlockPosition = next
		r.runType = runOutput
		r.canContinue = next < len(r.blocks)
		return nil
	})
}

// newOrchestrator wires block-level TTS when both the course and the
// process enable it. Audio rows ride the step transaction; metering stays
// autocommit because segment workers report from their own goroutines.
func (r *Runner) newOrchestrator(ctx context.Context, s StepStores, emit func(events.RunEvent), blockBID string) *tts.Orchestrator {
	if r.deps.TTS == nil || r.deps.TTS.Provider == nil || !r.shifu.TTS.Enabled {
		return nil
	}
	return tts.NewOrchestrator(ctx, tts.Options{
		Provider:          r.deps.TTS.Provider,
		Pool:              r.deps.TTS.Pool,
		Voice:             tts.ProfileFor(r.shifu.TTS),
		Emit:              emit,
		UserBID:           r.params.UserBID,
		ShifuBID:          r.params.ShifuBID,
		OutlineBID:        r.params.OutlineBID,
		ProgressRecordBID: r.progress.ProgressRecordBID,
		BlockBID:          blockBID,
		Scene:             r.scene,
		Uploader:          r.deps.TTS.Uploader,
		Audio:             s.Audio,
		Usage:             r.deps.Usage,
		MaxSegmentChars:   r.deps.Config.TTSMaxSegmentChars,
		SegmentTimeout:    r.deps.Config.TTSSegmentTimeout,
	})
}

// contentMessages renders one content block as a prompt: the block source
// is the author's instruction to the model, with learner variables
// substituted.
func (r *Runner) contentMessages(block mdflow.Block, vars map[string]string) []llm.Message {
	var msgs []llm.Message
	if prompt := r.systemPrompt(); prompt != "" {
		msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: prompt})
	}
	msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: mdflow.Interpolate(block.Content, vars)})
	return msgs
}

// resolveLLMSettings walks outline, then shifu, then process defaults; the
// nearest non-empty setting wins.
func (r *Runner) resolveLLMSettings() (string, *float64) {
	model := r.deps.Config.DefaultLLMModel
	if r.shifu.LLM != "" {
		model = r.shifu.LLM
	}
	if r.outline.LLM != "" {
		model = r.outline.LLM
	}
	temperature := &r.deps.Config.DefaultLLMTemperature
	if r.shifu.LLMTemperature != nil {
		temperature = r.shifu.LLMTemperature
	}
	if r.outline.LLMTemperature != nil {
		temperature = r.outline.LLMTemperature
	}
	return model, temperature
}

// systemPrompt prefers the outline's prompt, then the course's.
func (r *Runner) systemPrompt() string {
	if r.outline.LLMSystemPrompt != "" {
		return r.outline.LLMSystemPrompt
	}
	return r.shifu.LLMSystemPrompt
}

// profileVars loads the learner's accumulated variables.
func (r *Runner) profileVars(ctx context.Context) (map[string]string, error) {
	if r.deps.Profile == nil {
		return nil, nil
	}
	return r.deps.Profile.Variables(ctx, r.params.UserBID, r.params.ShifuBID)
}

// meter labels one model call for the usage ledger.
func (r *Runner) meter(blockBID string) *llm.Meter {
	return &llm.Meter{
		UserBID:           r.params.UserBID,
		ShifuBID:          r.params.ShifuBID,
		OutlineItemBID:    r.params.OutlineBID,
		ProgressRecordBID: r.progress.ProgressRecordBID,
		GeneratedBlockBID: blockBID,
		Scene:             r.scene,
	}
}
