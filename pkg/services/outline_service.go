package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/markdownflow/flowrun/pkg/models"
	"github.com/markdownflow/flowrun/pkg/outline"
)

// OutlineService reads outline items and the per-variant structure snapshot.
type OutlineService struct {
	db DBTX
}

// NewOutlineService creates a new OutlineService.
func NewOutlineService(db DBTX) *OutlineService {
	return &OutlineService{db: db}
}

// WithTx returns a copy of the service bound to the given transaction.
func (s *OutlineService) WithTx(tx *sql.Tx) *OutlineService {
	return &OutlineService{db: tx}
}

// GetStructTree loads the latest structure snapshot for the variant. The
// snapshot is append-only; the newest row wins.
func (s *OutlineService) GetStructTree(ctx context.Context, shifuBID string, previewMode bool) (*outline.Node, error) {
	if shifuBID == "" {
		return nil, NewValidationError("shifu_bid", "required")
	}

	var raw []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT tree
		FROM struct_tree
		WHERE shifu_bid = $1 AND variant = $2
		ORDER BY id DESC
		LIMIT 1`,
		shifuBID, models.VariantFor(previewMode)).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrStructNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get struct tree: %w", err)
	}
	return outline.ParseTree(raw)
}

// GetOutline loads one outline item, including its MarkdownFlow document.
func (s *OutlineService) GetOutline(ctx context.Context, outlineBID string, previewMode bool) (*models.OutlineItem, error) {
	if outlineBID == "" {
		return nil, NewValidationError("outline_bid", "required")
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT id, outline_item_bid, shifu_bid, variant, position, title, type,
		       hidden, llm_system_prompt, llm, llm_temperature, mdflow,
		       created_at, updated_at
		FROM outline_item
		WHERE outline_item_bid = $1 AND variant = $2 AND deleted = 0`,
		outlineBID, models.VariantFor(previewMode))

	var (
		item models.OutlineItem
		temp sql.NullFloat64
	)
	err := row.Scan(
		&item.ID, &item.OutlineItemBID, &item.ShifuBID, &item.Variant,
		&item.Position, &item.Title, &item.Type,
		&item.Hidden, &item.LLMSystemPrompt, &item.LLM, &temp, &item.MDFlow,
		&item.CreatedAt, &item.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrLessonNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get outline item: %w", err)
	}
	if temp.Valid {
		t := temp.Float64
		item.LLMTemperature = &t
	}
	return &item, nil
}

// OutlineMetas returns walker metadata (title, hidden flag) for every outline
// item of the course variant, keyed by bid.
func (s *OutlineService) OutlineMetas(ctx context.Context, shifuBID string, previewMode bool) (map[string]outline.Meta, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT outline_item_bid, title, hidden
		FROM outline_item
		WHERE shifu_bid = $1 AND variant = $2 AND deleted = 0`,
		shifuBID, models.VariantFor(previewMode))
	if err != nil {
		return nil, fmt.Errorf("failed to list outline metas: %w", err)
	}
	defer rows.Close()

	metas := make(map[string]outline.Meta)
	for rows.Next() {
		var (
			bid    string
			title  string
			hidden bool
		)
		if err := rows.Scan(&bid, &title, &hidden); err != nil {
			return nil, fmt.Errorf("failed to scan outline meta: %w", err)
		}
		metas[bid] = outline.Meta{Title: title, Hidden: hidden}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate outline metas: %w", err)
	}
	return metas, nil
}
