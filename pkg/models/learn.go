package models

import "time"

// Progress record statuses. A learner's active record per outline is the
// latest row whose status is not "reset".
const (
	ProgressLocked     = "locked"
	ProgressNotStarted = "not_started"
	ProgressInProgress = "in_progress"
	ProgressCompleted  = "completed"
	ProgressReset      = "reset"
)

// Generated block types.
const (
	GeneratedTypeContent      = "content"
	GeneratedTypeInteraction  = "interaction"
	GeneratedTypeErrorMessage = "error_message"
	GeneratedTypeAsk          = "ask"
	GeneratedTypeAnswer       = "answer"
)

// Generated block roles.
const (
	RoleTeacher = "teacher"
	RoleStudent = "student"
)

// Generated block status values. Reloading a block flips the overwritten rows
// to obsolete.
const (
	GeneratedStatusActive   = 1
	GeneratedStatusObsolete = 0
)

// Audio part statuses.
const (
	AudioStatusPending    = "pending"
	AudioStatusProcessing = "processing"
	AudioStatusCompleted  = "completed"
	AudioStatusFailed     = "failed"
)

// LearnProgressRecord is the per-learner execution cursor for one outline.
// BlockPosition names the next block index to execute in the leaf's block
// list.
type LearnProgressRecord struct {
	ID                int64     `json:"-"`
	ProgressRecordBID string    `json:"progress_record_bid"`
	UserBID           string    `json:"user_bid"`
	ShifuBID          string    `json:"shifu_bid"`
	OutlineItemBID    string    `json:"outline_item_bid"`
	Status            string    `json:"status"`
	BlockPosition     int       `json:"block_position"`
	Deleted           int16     `json:"-"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// LearnGeneratedBlock is one persisted emission: a CONTENT the engine
// produced, an INTERACTION prompt, a validation error message, or a learner
// answer. Rows are append-only; reloads mark superseded rows obsolete.
type LearnGeneratedBlock struct {
	ID                int64     `json:"-"`
	GeneratedBlockBID string    `json:"generated_block_bid"`
	ProgressRecordBID string    `json:"progress_record_bid"`
	UserBID           string    `json:"user_bid"`
	ShifuBID          string    `json:"shifu_bid"`
	OutlineItemBID    string    `json:"outline_item_bid"`
	Type              string    `json:"type"`
	Role              string    `json:"role"`
	Position          int       `json:"position"`
	BlockContentConf  string    `json:"block_content_conf,omitempty"`
	GeneratedContent  string    `json:"generated_content"`
	Status            int16     `json:"-"`
	Liked             int16     `json:"liked"`
	Deleted           int16     `json:"-"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// LearnGeneratedAudio is one finalised audio part of a generated block. For a
// given generated_block_bid the positions of completed parts form a
// contiguous 0..N-1 sequence.
type LearnGeneratedAudio struct {
	ID                int64     `json:"-"`
	AudioBID          string    `json:"audio_bid"`
	GeneratedBlockBID string    `json:"generated_block_bid"`
	Position          int       `json:"position"`
	ProgressRecordBID string    `json:"progress_record_bid"`
	UserBID           string    `json:"user_bid"`
	ShifuBID          string    `json:"shifu_bid"`
	OSSURL            string    `json:"oss_url"`
	OSSBucket         string    `json:"oss_bucket"`
	OSSObjectKey      string    `json:"oss_object_key"`
	DurationMS        int       `json:"duration_ms"`
	FileSize          int       `json:"file_size"`
	AudioFormat       string    `json:"audio_format"`
	SampleRate        int       `json:"sample_rate"`
	VoiceID           string    `json:"voice_id"`
	VoiceSettings     string    `json:"voice_settings,omitempty"`
	Model             string    `json:"model"`
	TextLength        int       `json:"text_length"`
	SegmentCount      int       `json:"segment_count"`
	Status            string    `json:"status"`
	ErrorMessage      string    `json:"error_message,omitempty"`
	Deleted           int16     `json:"-"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}
