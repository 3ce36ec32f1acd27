package services

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/google/uuid"
	"github.com/markdownflow/flowrun/pkg/llm"
	"github.com/markdownflow/flowrun/pkg/models"
)

// UsageService writes metering rows. Recording is best effort: a failed
// insert is logged and swallowed so billing problems never break a run.
type UsageService struct {
	db DBTX
}

// NewUsageService creates a new UsageService.
func NewUsageService(db DBTX) *UsageService {
	return &UsageService{db: db}
}

// WithTx returns a copy of the service bound to the given transaction.
func (s *UsageService) WithTx(tx *sql.Tx) *UsageService {
	return &UsageService{db: tx}
}

// billableFor applies the scene default: debug and preview traffic is not
// billed.
func billableFor(scene int, override *int16) int16 {
	if override != nil {
		return *override
	}
	if scene == models.SceneDebug || scene == models.ScenePreview {
		return 0
	}
	return 1
}

func usageStatus(succeeded bool) string {
	if succeeded {
		return "success"
	}
	return "failed"
}

// RecordLLMUsage writes one request-level LLM metering row. It satisfies
// llm.UsageRecorder.
func (s *UsageService) RecordLLMUsage(ctx context.Context, rec llm.UsageRecord) {
	if rec.Meter == nil {
		return
	}
	usageBID := uuid.New().String()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO bill_usage_record
			(usage_bid, user_bid, shifu_bid, outline_item_bid, generated_block_bid,
			 usage_type, record_level, usage_scene, provider, model, is_stream,
			 input_tokens, output_tokens, total_tokens, input_cache_tokens,
			 latency_ms, billable, status, error_message)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11,
		        $12, $13, $14, $15, $16, $17, $18, $19)`,
		usageBID, rec.Meter.UserBID, rec.Meter.ShifuBID, rec.Meter.OutlineItemBID,
		rec.Meter.GeneratedBlockBID,
		models.UsageTypeLLM, models.RecordLevelRequest, rec.Meter.Scene,
		rec.Provider, rec.Model, rec.IsStream,
		rec.Usage.InputTokens, rec.Usage.OutputTokens, rec.Usage.TotalTokens,
		rec.Usage.InputCacheTokens,
		rec.LatencyMS, billableFor(rec.Meter.Scene, nil),
		usageStatus(rec.Succeeded), rec.Error)
	if err != nil {
		slog.Error("Failed to record LLM usage",
			"user_bid", rec.Meter.UserBID,
			"model", rec.Model,
			"error", err)
	}
}

// TTSUsageParams describes one TTS metering row. RecordLevel selects between
// a request-level row (one per audio part) and a segment-level row pointing
// at its part via ParentUsageBID.
type TTSUsageParams struct {
	UsageBID          string
	ParentUsageBID    string
	UserBID           string
	ShifuBID          string
	OutlineItemBID    string
	GeneratedBlockBID string
	Scene             int
	Provider          string
	Model             string
	RecordLevel       int
	WordCount         int
	DurationMS        int
	LatencyMS         int
	SegmentIndex      int
	SegmentCount      int
	Billable          *int16
	Succeeded         bool
	Error             string
}

// RecordTTSUsage writes one TTS metering row and returns its usage_bid so
// segment rows can link to their part.
func (s *UsageService) RecordTTSUsage(ctx context.Context, p TTSUsageParams) string {
	if p.UsageBID == "" {
		p.UsageBID = uuid.New().String()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO bill_usage_record
			(usage_bid, parent_usage_bid, user_bid, shifu_bid, outline_item_bid,
			 generated_block_bid, usage_type, record_level, usage_scene,
			 provider, model, word_count, duration_ms, latency_ms,
			 segment_index, segment_count, billable, status, error_message)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9,
		        $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`,
		p.UsageBID, p.ParentUsageBID, p.UserBID, p.ShifuBID, p.OutlineItemBID,
		p.GeneratedBlockBID, models.UsageTypeTTS, p.RecordLevel, p.Scene,
		p.Provider, p.Model, p.WordCount, p.DurationMS, p.LatencyMS,
		p.SegmentIndex, p.SegmentCount, billableFor(p.Scene, p.Billable),
		usageStatus(p.Succeeded), p.Error)
	if err != nil {
		slog.Error("Failed to record TTS usage",
			"user_bid", p.UserBID,
			"model", p.Model,
			"record_level", p.RecordLevel,
			"error", err)
	}
	return p.UsageBID
}
