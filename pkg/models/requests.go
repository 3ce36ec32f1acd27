package models

import "encoding/json"

// Input types accepted by the run endpoint.
const (
	InputTypeNormal   = "normal"
	InputTypeAsk      = "ask"
	InputTypeContinue = "continue"
)

// RunRequest is the body of PUT /shifu/:shifu_bid/run/:outline_bid. Input is
// either a plain string or an object mapping variable names to values, so it
// stays raw until the runner normalises it.
type RunRequest struct {
	Input                   json.RawMessage `json:"input,omitempty"`
	InputType               string          `json:"input_type,omitempty"`
	ReloadGeneratedBlockBID string          `json:"reload_generated_block_bid,omitempty"`
}

// RunStatusResponse reports whether a run is in flight for the learner and
// outline, derived from the distributed run lock.
type RunStatusResponse struct {
	IsRunning   bool    `json:"is_running"`
	RunningTime float64 `json:"running_time"`
}

// RecordItem is one entry of the generated-block history returned by
// GET /shifu/:shifu_bid/records/:outline_bid.
type RecordItem struct {
	GeneratedBlockBID string                 `json:"generated_block_bid"`
	Type              string                 `json:"type"`
	Role              string                 `json:"role"`
	Position          int                    `json:"position"`
	Content           string                 `json:"content"`
	Liked             int16                  `json:"liked"`
	Audios            []*LearnGeneratedAudio `json:"audios,omitempty"`
}

// GeneratedBlockMeta is the metadata DTO for a single generated block.
type GeneratedBlockMeta struct {
	GeneratedBlockBID string `json:"generated_block_bid"`
	OutlineItemBID    string `json:"outline_item_bid"`
	Type              string `json:"type"`
	Role              string `json:"role"`
	Position          int    `json:"position"`
	Content           string `json:"content"`
	Liked             int16  `json:"liked"`
}
