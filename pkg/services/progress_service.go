package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/markdownflow/flowrun/pkg/models"
	"github.com/markdownflow/flowrun/pkg/outline"
)

// ProgressService manages the per-learner cursor rows. A learner's active
// record for an outline is the newest row whose status is not reset; resets
// never delete history.
type ProgressService struct {
	db DBTX
}

// NewProgressService creates a new ProgressService.
func NewProgressService(db DBTX) *ProgressService {
	return &ProgressService{db: db}
}

// WithTx returns a copy of the service bound to the given transaction.
func (s *ProgressService) WithTx(tx *sql.Tx) *ProgressService {
	return &ProgressService{db: tx}
}

// FindActiveProgress returns the learner's active record for the outline, or
// nil when the outline has never been entered (or was reset).
func (s *ProgressService) FindActiveProgress(ctx context.Context, userBID, outlineBID string) (*models.LearnProgressRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, progress_record_bid, user_bid, shifu_bid, outline_item_bid,
		       status, block_position, created_at, updated_at
		FROM learn_progress_record
		WHERE user_bid = $1 AND outline_item_bid = $2
		  AND status != $3 AND deleted = 0
		ORDER BY id DESC
		LIMIT 1`,
		userBID, outlineBID, models.ProgressReset)

	rec, err := scanProgress(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find active progress: %w", err)
	}
	return rec, nil
}

// Create inserts a fresh progress row and fills the generated identifiers.
func (s *ProgressService) Create(ctx context.Context, rec *models.LearnProgressRecord) error {
	if rec.ProgressRecordBID == "" {
		rec.ProgressRecordBID = uuid.New().String()
	}
	if rec.Status == "" {
		rec.Status = models.ProgressNotStarted
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO learn_progress_record
			(progress_record_bid, user_bid, shifu_bid, outline_item_bid, status, block_position)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at`,
		rec.ProgressRecordBID, rec.UserBID, rec.ShifuBID, rec.OutlineItemBID,
		rec.Status, rec.BlockPosition,
	).Scan(&rec.ID, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create progress record: %w", err)
	}
	return nil
}

// EnsureProgressChain creates not_started rows for every outline on the
// root→target path that has no active record yet. Existing records, whatever
// their status, are left untouched.
func (s *ProgressService) EnsureProgressChain(ctx context.Context, tree *outline.Node, userBID, shifuBID, targetBID string) error {
	path := tree.PathTo(targetBID)
	if path == nil {
		return ErrLessonNotFound
	}
	for _, node := range path {
		existing, err := s.FindActiveProgress(ctx, userBID, node.BID)
		if err != nil {
			return err
		}
		if existing != nil {
			continue
		}
		rec := &models.LearnProgressRecord{
			UserBID:        userBID,
			ShifuBID:       shifuBID,
			OutlineItemBID: node.BID,
			Status:         models.ProgressNotStarted,
		}
		if err := s.Create(ctx, rec); err != nil {
			return err
		}
	}
	return nil
}

// UpdateStatus moves a progress record through the status lattice.
func (s *ProgressService) UpdateStatus(ctx context.Context, progressBID, status string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE learn_progress_record
		SET status = $1, updated_at = NOW()
		WHERE progress_record_bid = $2`,
		status, progressBID)
	if err != nil {
		return fmt.Errorf("failed to update progress status: %w", err)
	}
	return nil
}

// UpdateBlockPosition advances (or, on reload, rewinds) the cursor.
func (s *ProgressService) UpdateBlockPosition(ctx context.Context, progressBID string, position int) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE learn_progress_record
		SET block_position = $1, updated_at = NOW()
		WHERE progress_record_bid = $2`,
		position, progressBID)
	if err != nil {
		return fmt.Errorf("failed to update block position: %w", err)
	}
	return nil
}

// ResetActive marks the learner's active rows for the given outlines as
// reset. The next run starts a fresh record chain.
func (s *ProgressService) ResetActive(ctx context.Context, userBID string, outlineBIDs []string) (int64, error) {
	if len(outlineBIDs) == 0 {
		return 0, nil
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE learn_progress_record
		SET status = $1, updated_at = NOW()
		WHERE user_bid = $2 AND outline_item_bid = ANY($3)
		  AND status != $1 AND deleted = 0`,
		models.ProgressReset, userBID, outlineBIDs)
	if err != nil {
		return 0, fmt.Errorf("failed to reset progress: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count reset rows: %w", err)
	}
	return n, nil
}

// StatusByOutline returns the latest non-reset status per outline for the
// learner across one course, for the outline tree endpoint.
func (s *ProgressService) StatusByOutline(ctx context.Context, userBID, shifuBID string) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT ON (outline_item_bid) outline_item_bid, status
		FROM learn_progress_record
		WHERE user_bid = $1 AND shifu_bid = $2
		  AND status != $3 AND deleted = 0
		ORDER BY outline_item_bid, id DESC`,
		userBID, shifuBID, models.ProgressReset)
	if err != nil {
		return nil, fmt.Errorf("failed to list progress statuses: %w", err)
	}
	defer rows.Close()

	statuses := make(map[string]string)
	for rows.Next() {
		var bid, status string
		if err := rows.Scan(&bid, &status); err != nil {
			return nil, fmt.Errorf("failed to scan progress status: %w", err)
		}
		statuses[bid] = status
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate progress statuses: %w", err)
	}
	return statuses, nil
}

// rowScanner lets scanProgress work on both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanProgress(row rowScanner) (*models.LearnProgressRecord, error) {
	var rec models.LearnProgressRecord
	err := row.Scan(
		&rec.ID, &rec.ProgressRecordBID, &rec.UserBID, &rec.ShifuBID,
		&rec.OutlineItemBID, &rec.Status, &rec.BlockPosition,
		&rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}
