package tts

import (
	"context"

	"github.com/markdownflow/flowrun/pkg/models"
)

// VoiceProfile selects the voice for one synthesis request. Zero-valued
// ratios mean provider defaults.
type VoiceProfile struct {
	Provider string  `json:"provider,omitempty"`
	Model    string  `json:"model,omitempty"`
	VoiceID  string  `json:"voice_id,omitempty"`
	Speed    float64 `json:"speed,omitempty"`
	Pitch    float64 `json:"pitch,omitempty"`
	Emotion  string  `json:"emotion,omitempty"`
	Volume   float64 `json:"volume,omitempty"`
}

// ProfileFor maps a course's TTS settings onto a voice profile.
func ProfileFor(s models.TTSSettings) VoiceProfile {
	return VoiceProfile{
		Provider: s.Provider,
		Model:    s.Model,
		VoiceID:  s.VoiceID,
		Speed:    s.Speed,
		Pitch:    s.Pitch,
		Emotion:  s.Emotion,
		Volume:   s.Volume,
	}
}

// Result is one synthesised segment.
type Result struct {
	Audio      []byte
	DurationMS int
	Format     string
	SampleRate int
}

// Provider is the abstraction over any TTS backend.
//
// Implementations must be safe for concurrent use: the worker pool runs
// multiple segment syntheses in parallel.
type Provider interface {
	Synthesize(ctx context.Context, text string, voice VoiceProfile) (*Result, error)
}
