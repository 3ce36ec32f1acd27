package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/markdownflow/flowrun/pkg/models"
)

// GeneratedService owns the append-only emission log. Reloads never delete:
// superseded rows flip to obsolete and the replacement is appended.
type GeneratedService struct {
	db DBTX
}

// NewGeneratedService creates a new GeneratedService.
func NewGeneratedService(db DBTX) *GeneratedService {
	return &GeneratedService{db: db}
}

// WithTx returns a copy of the service bound to the given transaction.
func (s *GeneratedService) WithTx(tx *sql.Tx) *GeneratedService {
	return &GeneratedService{db: tx}
}

// Append inserts one emission row, filling generated identifiers in place.
func (s *GeneratedService) Append(ctx context.Context, block *models.LearnGeneratedBlock) error {
	if block.GeneratedBlockBID == "" {
		block.GeneratedBlockBID = uuid.New().String()
	}
	if block.Status == 0 {
		block.Status = models.GeneratedStatusActive
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO learn_generated_block
			(generated_block_bid, progress_record_bid, user_bid, shifu_bid,
			 outline_item_bid, type, role, position, block_content_conf,
			 generated_content, status, liked)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id, created_at, updated_at`,
		block.GeneratedBlockBID, block.ProgressRecordBID, block.UserBID,
		block.ShifuBID, block.OutlineItemBID, block.Type, block.Role,
		block.Position, block.BlockContentConf, block.GeneratedContent,
		block.Status, block.Liked,
	).Scan(&block.ID, &block.CreatedAt, &block.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to append generated block: %w", err)
	}
	return nil
}

// Get loads one emission by bid.
func (s *GeneratedService) Get(ctx context.Context, bid string) (*models.LearnGeneratedBlock, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, generated_block_bid, progress_record_bid, user_bid, shifu_bid,
		       outline_item_bid, type, role, position, block_content_conf,
		       generated_content, status, liked, created_at, updated_at
		FROM learn_generated_block
		WHERE generated_block_bid = $1 AND deleted = 0`,
		bid)
	block, err := scanGenerated(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrGeneratedBlockNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get generated block: %w", err)
	}
	return block, nil
}

// LatestActiveInteraction returns the newest active interaction row at the
// given cursor position, or nil. The runner re-asks it instead of minting a
// duplicate prompt.
func (s *GeneratedService) LatestActiveInteraction(ctx context.Context, progressBID string, position int) (*models.LearnGeneratedBlock, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, generated_block_bid, progress_record_bid, user_bid, shifu_bid,
		       outline_item_bid, type, role, position, block_content_conf,
		       generated_content, status, liked, created_at, updated_at
		FROM learn_generated_block
		WHERE progress_record_bid = $1 AND position = $2
		  AND type = $3 AND status = $4 AND deleted = 0
		ORDER BY id DESC
		LIMIT 1`,
		progressBID, position, models.GeneratedTypeInteraction, models.GeneratedStatusActive)
	block, err := scanGenerated(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest interaction: %w", err)
	}
	return block, nil
}

// RecordAnswer overwrites an active interaction row with the learner's
// submission: the row flips to the student role and keeps its prompt conf.
func (s *GeneratedService) RecordAnswer(ctx context.Context, bid, content string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE learn_generated_block
		SET role = $1, generated_content = $2, updated_at = NOW()
		WHERE generated_block_bid = $3 AND status = $4 AND deleted = 0`,
		models.RoleStudent, content, bid, models.GeneratedStatusActive)
	if err != nil {
		return fmt.Errorf("failed to record answer: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to count answer rows: %w", err)
	}
	if n == 0 {
		return ErrGeneratedBlockNotFound
	}
	return nil
}

// MarkAnswered re-types a settled interaction row as a plain answer, so
// only the freshly appended prompt stays active as an interaction at the
// position.
func (s *GeneratedService) MarkAnswered(ctx context.Context, bid string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE learn_generated_block
		SET type = $1, updated_at = NOW()
		WHERE generated_block_bid = $2 AND status = $3 AND deleted = 0`,
		models.GeneratedTypeAnswer, bid, models.GeneratedStatusActive)
	if err != nil {
		return fmt.Errorf("failed to mark block answered: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to count answered rows: %w", err)
	}
	if n == 0 {
		return ErrGeneratedBlockNotFound
	}
	return nil
}

// MarkObsolete flips the active rows at or after the reload anchor to
// obsolete: position >= fromPosition and id >= anchorID within one progress
// record. Returns the number of rows flipped.
func (s *GeneratedService) MarkObsolete(ctx context.Context, progressBID string, fromPosition int, anchorID int64) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE learn_generated_block
		SET status = $1, updated_at = NOW()
		WHERE progress_record_bid = $2 AND status = $3
		  AND position >= $4 AND id >= $5`,
		models.GeneratedStatusObsolete, progressBID, models.GeneratedStatusActive,
		fromPosition, anchorID)
	if err != nil {
		return 0, fmt.Errorf("failed to mark blocks obsolete: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count obsolete rows: %w", err)
	}
	return n, nil
}

// ListHistory returns the active emissions of one progress record in
// insertion order, for the records endpoint.
func (s *GeneratedService) ListHistory(ctx context.Context, progressBID string) ([]*models.LearnGeneratedBlock, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, generated_block_bid, progress_record_bid, user_bid, shifu_bid,
		       outline_item_bid, type, role, position, block_content_conf,
		       generated_content, status, liked, created_at, updated_at
		FROM learn_generated_block
		WHERE progress_record_bid = $1 AND status = $2 AND deleted = 0
		ORDER BY id ASC`,
		progressBID, models.GeneratedStatusActive)
	if err != nil {
		return nil, fmt.Errorf("failed to list history: %w", err)
	}
	defer rows.Close()

	var blocks []*models.LearnGeneratedBlock
	for rows.Next() {
		block, err := scanGenerated(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan generated block: %w", err)
		}
		blocks = append(blocks, block)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate history: %w", err)
	}
	return blocks, nil
}

// React records a learner reaction on one emission: like, dislike, or none.
func (s *GeneratedService) React(ctx context.Context, bid, action string) error {
	var liked int16
	switch action {
	case "like":
		liked = 1
	case "dislike":
		liked = -1
	case "none":
		liked = 0
	default:
		return ErrInvalidAction
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE learn_generated_block
		SET liked = $1, updated_at = NOW()
		WHERE generated_block_bid = $2 AND deleted = 0`,
		liked, bid)
	if err != nil {
		return fmt.Errorf("failed to record reaction: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to count reaction rows: %w", err)
	}
	if n == 0 {
		return ErrGeneratedBlockNotFound
	}
	return nil
}

func scanGenerated(row rowScanner) (*models.LearnGeneratedBlock, error) {
	var block models.LearnGeneratedBlock
	err := row.Scan(
		&block.ID, &block.GeneratedBlockBID, &block.ProgressRecordBID,
		&block.UserBID, &block.ShifuBID, &block.OutlineItemBID,
		&block.Type, &block.Role, &block.Position, &block.BlockContentConf,
		&block.GeneratedContent, &block.Status, &block.Liked,
		&block.CreatedAt, &block.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &block, nil
}
