package services

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/markdownflow/flowrun/pkg/models"
)

// AudioService persists the finalised audio parts of generated blocks. A part
// is inserted pending when synthesis starts and completed or failed when it
// settles; listing only ever returns completed parts.
type AudioService struct {
	db DBTX
}

// NewAudioService creates a new AudioService.
func NewAudioService(db DBTX) *AudioService {
	return &AudioService{db: db}
}

// WithTx returns a copy of the service bound to the given transaction.
func (s *AudioService) WithTx(tx *sql.Tx) *AudioService {
	return &AudioService{db: tx}
}

// Insert creates a pending part row, filling generated identifiers in place.
func (s *AudioService) Insert(ctx context.Context, a *models.LearnGeneratedAudio) error {
	if a.AudioBID == "" {
		a.AudioBID = uuid.New().String()
	}
	if a.Status == "" {
		a.Status = models.AudioStatusPending
	}
	if a.AudioFormat == "" {
		a.AudioFormat = "mp3"
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO learn_generated_audio
			(audio_bid, generated_block_bid, position, progress_record_bid,
			 user_bid, shifu_bid, voice_id, voice_settings, model, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), $9, $10)
		RETURNING id, created_at, updated_at`,
		a.AudioBID, a.GeneratedBlockBID, a.Position, a.ProgressRecordBID,
		a.UserBID, a.ShifuBID, a.VoiceID, a.VoiceSettings, a.Model, a.Status,
	).Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert audio part: %w", err)
	}
	return nil
}

// Complete settles a part with its storage location and measurements.
func (s *AudioService) Complete(ctx context.Context, a *models.LearnGeneratedAudio) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE learn_generated_audio
		SET oss_url = $1, oss_bucket = $2, oss_object_key = $3,
		    duration_ms = $4, file_size = $5, audio_format = $6,
		    sample_rate = $7, text_length = $8, segment_count = $9,
		    status = $10, error_message = '', updated_at = NOW()
		WHERE audio_bid = $11`,
		a.OSSURL, a.OSSBucket, a.OSSObjectKey,
		a.DurationMS, a.FileSize, a.AudioFormat,
		a.SampleRate, a.TextLength, a.SegmentCount,
		models.AudioStatusCompleted, a.AudioBID)
	if err != nil {
		return fmt.Errorf("failed to complete audio part: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("audio part %s not found", a.AudioBID)
	}
	a.Status = models.AudioStatusCompleted
	return nil
}

// Fail settles a part as failed with the provider's error message.
func (s *AudioService) Fail(ctx context.Context, audioBID, message string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE learn_generated_audio
		SET status = $1, error_message = $2, updated_at = NOW()
		WHERE audio_bid = $3`,
		models.AudioStatusFailed, message, audioBID)
	if err != nil {
		return fmt.Errorf("failed to mark audio part failed: %w", err)
	}
	return nil
}

// ListByBlock returns the completed parts of one generated block in position
// order.
func (s *AudioService) ListByBlock(ctx context.Context, generatedBlockBID string) ([]*models.LearnGeneratedAudio, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, audio_bid, generated_block_bid, position, progress_record_bid,
		       user_bid, shifu_bid, oss_url, oss_bucket, oss_object_key,
		       duration_ms, file_size, audio_format, sample_rate, voice_id,
		       COALESCE(voice_settings::text, ''), model, text_length,
		       segment_count, status, error_message, created_at, updated_at
		FROM learn_generated_audio
		WHERE generated_block_bid = $1 AND status = $2 AND deleted = 0
		ORDER BY position ASC`,
		generatedBlockBID, models.AudioStatusCompleted)
	if err != nil {
		return nil, fmt.Errorf("failed to list audio parts: %w", err)
	}
	defer rows.Close()

	var parts []*models.LearnGeneratedAudio
	for rows.Next() {
		var a models.LearnGeneratedAudio
		err := rows.Scan(
			&a.ID, &a.AudioBID, &a.GeneratedBlockBID, &a.Position,
			&a.ProgressRecordBID, &a.UserBID, &a.ShifuBID,
			&a.OSSURL, &a.OSSBucket, &a.OSSObjectKey,
			&a.DurationMS, &a.FileSize, &a.AudioFormat, &a.SampleRate,
			&a.VoiceID, &a.VoiceSettings, &a.Model, &a.TextLength,
			&a.SegmentCount, &a.Status, &a.ErrorMessage,
			&a.CreatedAt, &a.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audio part: %w", err)
		}
		parts = append(parts, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate audio parts: %w", err)
	}
	return parts, nil
}
