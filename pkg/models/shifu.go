// Package models contains the persistent entities and API DTOs shared by the
// services and the HTTP layer.
package models

import "time"

// Shifu variants. A course exists as two rows with identical shape; callers
// pick one via preview_mode.
const (
	VariantDraft     = "draft"
	VariantPublished = "published"
)

// VariantFor maps preview_mode to the shifu/outline variant it selects.
func VariantFor(previewMode bool) string {
	if previewMode {
		return VariantDraft
	}
	return VariantPublished
}

// TTSSettings holds the per-course text-to-speech configuration.
type TTSSettings struct {
	Enabled  bool    `json:"enabled"`
	Provider string  `json:"provider,omitempty"`
	Model    string  `json:"model,omitempty"`
	VoiceID  string  `json:"voice_id,omitempty"`
	Speed    float64 `json:"speed,omitempty"`
	Pitch    float64 `json:"pitch,omitempty"`
	Emotion  string  `json:"emotion,omitempty"`
	Volume   float64 `json:"volume,omitempty"`
}

// Shifu is a course: the root of an outline tree plus default LLM and TTS
// settings inherited by its outlines.
type Shifu struct {
	ID              int64       `json:"-"`
	ShifuBID        string      `json:"shifu_bid"`
	Variant         string      `json:"-"`
	Title           string      `json:"title"`
	Description     string      `json:"description"`
	Avatar          string      `json:"avatar"`
	Price           float64     `json:"price"`
	Keywords        []string    `json:"keywords"`
	LLMSystemPrompt string      `json:"llm_system_prompt,omitempty"`
	LLM             string      `json:"llm,omitempty"`
	LLMTemperature  *float64    `json:"llm_temperature,omitempty"`
	TTS             TTSSettings `json:"tts"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
}

// LearnShifuInfo is the learner-facing course summary returned by
// GET /shifu/:shifu_bid.
type LearnShifuInfo struct {
	ShifuBID    string   `json:"shifu_bid"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Avatar      string   `json:"avatar"`
	Price       float64  `json:"price"`
	Keywords    []string `json:"keywords"`
	TTSEnabled  bool     `json:"tts_enabled"`
}
