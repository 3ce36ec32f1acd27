package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/markdownflow/flowrun/pkg/models"
)

// ShifuService reads course rows. Authoring writes happen outside this
// process; both variants of a shifu share the bid and differ only in variant.
type ShifuService struct {
	db DBTX
}

// NewShifuService creates a new ShifuService.
func NewShifuService(db DBTX) *ShifuService {
	return &ShifuService{db: db}
}

// WithTx returns a copy of the service bound to the given transaction.
func (s *ShifuService) WithTx(tx *sql.Tx) *ShifuService {
	return &ShifuService{db: tx}
}

// GetShifu loads the course row for the variant selected by previewMode.
func (s *ShifuService) GetShifu(ctx context.Context, shifuBID string, previewMode bool) (*models.Shifu, error) {
	if shifuBID == "" {
		return nil, NewValidationError("shifu_bid", "required")
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT id, shifu_bid, variant, title, description, avatar, price, keywords,
		       llm_system_prompt, llm, llm_temperature,
		       tts_enabled, tts_provider, tts_model, tts_voice_id,
		       tts_speed, tts_pitch, tts_emotion, tts_volume,
		       created_at, updated_at
		FROM shifu
		WHERE shifu_bid = $1 AND variant = $2 AND deleted = 0`,
		shifuBID, models.VariantFor(previewMode))

	var (
		sh       models.Shifu
		keywords string
		temp     sql.NullFloat64
	)
	err := row.Scan(
		&sh.ID, &sh.ShifuBID, &sh.Variant, &sh.Title, &sh.Description, &sh.Avatar,
		&sh.Price, &keywords,
		&sh.LLMSystemPrompt, &sh.LLM, &temp,
		&sh.TTS.Enabled, &sh.TTS.Provider, &sh.TTS.Model, &sh.TTS.VoiceID,
		&sh.TTS.Speed, &sh.TTS.Pitch, &sh.TTS.Emotion, &sh.TTS.Volume,
		&sh.CreatedAt, &sh.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrShifuNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get shifu: %w", err)
	}
	if temp.Valid {
		t := temp.Float64
		sh.LLMTemperature = &t
	}
	sh.Keywords = parseKeywords(keywords)
	return &sh, nil
}

// parseKeywords accepts either a JSON array or a comma-separated list; the
// authoring side has written both shapes over time.
func parseKeywords(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	if strings.HasPrefix(raw, "[") {
		var out []string
		if err := json.Unmarshal([]byte(raw), &out); err == nil {
			return out
		}
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
