package models

import "time"

// Usage record classification codes. The numeric values are part of the
// billing contract and must not change.
const (
	UsageTypeLLM = 1101
	UsageTypeTTS = 1102

	RecordLevelRequest = 0
	RecordLevelSegment = 1

	SceneDebug      = 1201
	ScenePreview    = 1202
	SceneProduction = 1203
)

// BillUsageRecord is one metering row. Request-level rows have an empty
// ParentUsageBID; segment-level rows point at their request-level parent.
type BillUsageRecord struct {
	ID                int64     `json:"-"`
	UsageBID          string    `json:"usage_bid"`
	ParentUsageBID    string    `json:"parent_usage_bid,omitempty"`
	UserBID           string    `json:"user_bid"`
	ShifuBID          string    `json:"shifu_bid"`
	OutlineItemBID    string    `json:"outline_item_bid,omitempty"`
	GeneratedBlockBID string    `json:"generated_block_bid,omitempty"`
	UsageType         int       `json:"usage_type"`
	RecordLevel       int       `json:"record_level"`
	UsageScene        int       `json:"usage_scene"`
	Provider          string    `json:"provider"`
	Model             string    `json:"model"`
	IsStream          bool      `json:"is_stream"`
	InputTokens       int       `json:"input_tokens"`
	OutputTokens      int       `json:"output_tokens"`
	TotalTokens       int       `json:"total_tokens"`
	InputCacheTokens  int       `json:"input_cache_tokens"`
	WordCount         int       `json:"word_count"`
	DurationMS        int       `json:"duration_ms"`
	LatencyMS         int       `json:"latency_ms"`
	SegmentIndex      int       `json:"segment_index"`
	SegmentCount      int       `json:"segment_count"`
	Billable          int16     `json:"billable"`
	Status            string    `json:"status"`
	ErrorMessage      string    `json:"error_message,omitempty"`
	Extra             string    `json:"extra,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}
