package runner

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/markdownflow/flowrun/pkg/models"
	"github.com/markdownflow/flowrun/pkg/outline"
	"github.com/markdownflow/flowrun/pkg/services"
	"github.com/markdownflow/flowrun/pkg/tts"
)

// ShifuStore loads course rows. *services.ShifuService satisfies it.
type ShifuStore interface {
	GetShifu(ctx context.Context, shifuBID string, previewMode bool) (*models.Shifu, error)
}

// OutlineStore loads outline rows and structure snapshots.
// *services.OutlineService satisfies it.
type OutlineStore interface {
	GetStructTree(ctx context.Context, shifuBID string, previewMode bool) (*outline.Node, error)
	GetOutline(ctx context.Context, outlineBID string, previewMode bool) (*models.OutlineItem, error)
	OutlineMetas(ctx context.Context, shifuBID string, previewMode bool) (map[string]outline.Meta, error)
}

// ProgressStore reads and mutates learner progress rows.
// *services.ProgressService satisfies it.
type ProgressStore interface {
	FindActiveProgress(ctx context.Context, userBID, outlineBID string) (*models.LearnProgressRecord, error)
	Create(ctx context.Context, rec *models.LearnProgressRecord) error
	EnsureProgressChain(ctx context.Context, tree *outline.Node, userBID, shifuBID, targetBID string) error
	UpdateStatus(ctx context.Context, progressBID, status string) error
	UpdateBlockPosition(ctx context.Context, progressBID string, position int) error
	StatusByOutline(ctx context.Context, userBID, shifuBID string) (map[string]string, error)
}

// BlockStore reads and appends generated-block rows.
// *services.GeneratedService satisfies it.
type BlockStore interface {
	Append(ctx context.Context, block *models.LearnGeneratedBlock) error
	Get(ctx context.Context, bid string) (*models.LearnGeneratedBlock, error)
	LatestActiveInteraction(ctx context.Context, progressBID string, position int) (*models.LearnGeneratedBlock, error)
	RecordAnswer(ctx context.Context, bid, content string) error
	MarkAnswered(ctx context.Context, bid string) error
	MarkObsolete(ctx context.Context, progressBID string, fromPosition int, anchorID int64) (int64, error)
	ListHistory(ctx context.Context, progressBID string) ([]*models.LearnGeneratedBlock, error)
}

// UserStore loads the minimal auth rows the run loop consults.
// *services.UserService satisfies it.
type UserStore interface {
	GetUser(ctx context.Context, userBID string) (*models.AuthUser, error)
}

// ProfileStore persists learner variables per (user, shifu). Values written
// by one run are visible to every later run of the same course.
type ProfileStore interface {
	Variables(ctx context.Context, userBID, shifuBID string) (map[string]string, error)
	SetVariables(ctx context.Context, userBID, shifuBID string, vars map[string]string) error
}

// PaymentChecker reports whether the learner holds a paid order for the
// course. Orders live outside the engine; a nil checker treats every course
// as paid.
type PaymentChecker interface {
	HasPaid(ctx context.Context, userBID, shifuBID string) (bool, error)
}

// Moderator screens learner-submitted text before it reaches prompts. A
// non-empty feedback stream rejects the text; the chunks are shown to the
// learner verbatim. A nil moderator accepts everything.
type Moderator interface {
	CheckText(ctx context.Context, userBID, text string) (<-chan string, error)
}

// StepStores is the write surface of one block step. In production every
// store is bound to a single transaction that commits when the step
// function returns nil.
type StepStores struct {
	Progress ProgressStore
	Blocks   BlockStore
	Audio    tts.AudioStore
}

// TxRunner scopes one block step's writes. Implementations decide whether a
// real transaction backs the step.
type TxRunner interface {
	Step(ctx context.Context, fn func(StepStores) error) error
}

// SQLTxRunner backs each block step with one database transaction, so a
// failed step leaves no partial rows behind.
type SQLTxRunner struct {
	DB       *sql.DB
	Progress *services.ProgressService
	Blocks   *services.GeneratedService
	Audio    *services.AudioService
}

// Step implements TxRunner.
func (r *SQLTxRunner) Step(ctx context.Context, fn func(StepStores) error) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin step transaction: %w", err)
	}
	err = fn(StepStores{
		Progress: r.Progress.WithTx(tx),
		Blocks:   r.Blocks.WithTx(tx),
		Audio:    r.Audio.WithTx(tx),
	})
	if err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			slog.Error("Failed to roll back step transaction", "error", rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit step transaction: %w", err)
	}
	return nil
}
