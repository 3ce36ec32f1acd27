package events

// VariableUpdate is the content of a variable_update event. Published when
// an interaction answer has been validated and stored.
type VariableUpdate struct {
	VariableName  string `json:"variable_name"`
	VariableValue string `json:"variable_value"`
}

// OutlineItemUpdate is the content of an outline_item_update event.
// Published for every progress transition the walker produces.
type OutlineItemUpdate struct {
	OutlineBID  string `json:"outline_bid"`
	Title       string `json:"title"`
	Status      string `json:"status"`       // not_started, in_progress, completed, locked
	HasChildren bool   `json:"has_children"` // internal node vs leaf
}

// AudioSegment is the content of an audio_segment event. Published for each
// synthesised slice of one audio part, in segment order.
type AudioSegment struct {
	Position     int    `json:"position"`      // audio part index within the block
	SegmentIndex int    `json:"segment_index"` // slice index within the part
	AudioData    string `json:"audio_data"`    // base64 MP3 bytes
	DurationMS   int    `json:"duration_ms"`
	IsFinal      bool   `json:"is_final"` // last segment of the part
}

// AudioComplete is the content of an audio_complete event. Published once
// per part after the joined MP3 has been stored.
type AudioComplete struct {
	Position   int    `json:"position"`
	AudioURL   string `json:"audio_url"` // empty in preview runs
	AudioBID   string `json:"audio_bid"`
	DurationMS int    `json:"duration_ms"`
}

// NewSlide is the content of a new_slide event: a hint that a visual region
// starts at this point of the block, so the client can align it with the
// audio part of the same position.
type NewSlide struct {
	SlideID           string `json:"slide_id"`
	GeneratedBlockBID string `json:"generated_block_bid"`
	SlideIndex        int    `json:"slide_index"`
	AudioPosition     int    `json:"audio_position"`
	VisualKind        string `json:"visual_kind"` // svg, mermaid, code, image, table, iframe, html, math
	SegmentType       string `json:"segment_type"`
	SegmentContent    string `json:"segment_content"`
	SourceSpan        [2]int `json:"source_span"` // [start, end) offsets in the block text
	IsPlaceholder     bool   `json:"is_placeholder"`
}
