package runner

import (
	"context"
	"log/slog"

	"github.com/markdownflow/flowrun/pkg/events"
	"github.com/markdownflow/flowrun/pkg/mdflow"
	"github.com/markdownflow/flowrun/pkg/models"
	"github.com/markdownflow/flowrun/pkg/outline"
)

// enterOutline runs the entering boundary batch: the first step inside a
// leaf marks the root-to-leaf path in progress and announces each
// transition. Later steps of the same run see the leaf already in progress
// and skip the batch.
func (r *Runner) enterOutline(ctx context.Context, emit func(events.RunEvent)) error {
	if r.progress.Status == models.ProgressInProgress {
		return nil
	}
	statuses, err := r.deps.Progress.StatusByOutline(ctx, r.params.UserBID, r.params.ShifuBID)
	if err != nil {
		return err
	}
	updates := outline.EnterUpdates(r.tree, statuses, r.metas, r.params.OutlineBID)
	if len(updates) == 0 {
		return nil
	}
	return r.deps.Tx.Step(ctx, func(s StepStores) error {
		return r.applyUpdates(ctx, s, emit, updates)
	})
}

// finishLeaf handles a cursor past the last block. The learner either just
// arrived, so the next-chapter prompt is synthesised, or clicked it, so the
// leaf completes and the walker enters the next one.
func (r *Runner) finishLeaf(ctx context.Context, emit func(events.RunEvent)) error {
	r.canContinue = false
	position := len(r.blocks)

	if r.inputType == InputTypeNormal && r.input.carries(mdflow.SysButtonNextChapter) {
		slog.Info("Completing outline",
			"user_bid", r.params.UserBID,
			"outline_bid", r.params.OutlineBID)
		updates := outline.CompleteUpdates(r.tree, r.metas, r.params.OutlineBID)
		return r.deps.Tx.Step(ctx, func(s StepStores) error {
			return r.applyUpdates(ctx, s, emit, updates)
		})
	}

	row, err := r.deps.Blocks.LatestActiveInteraction(ctx, r.progress.ProgressRecordBID, position)
	if err != nil {
		return err
	}
	if row == nil {
		conf := mdflow.NextChapterInteraction(r.deps.Config.NextChapterButtonLabel)
		row = r.newBlockRow(models.GeneratedTypeInteraction, models.RoleTeacher, position, conf, "")
		if err := r.deps.Tx.Step(ctx, func(s StepStores) error {
			return s.Blocks.Append(ctx, row)
		}); err != nil {
			return err
		}
	}
	r.runType = runInput
	emit(r.event(events.TypeInteraction, row.GeneratedBlockBID, row.BlockContentConf))
	return nil
}

// applyUpdates persists one walker batch and announces each transition.
// A row restarting from completed also rewinds its cursor so the replay
// begins at the first block.
func (r *Runner) applyUpdates(ctx context.Context, s StepStores, emit func(events.RunEvent), updates []outline.Update) error {
	for _, u := range updates {
		rec, err := s.Progress.FindActiveProgress(ctx, r.params.UserBID, u.OutlineBID)
		if err != nil {
			return err
		}
		if rec == nil {
			rec = &models.LearnProgressRecord{
				UserBID:        r.params.UserBID,
				ShifuBID:       r.params.ShifuBID,
				OutlineItemBID: u.OutlineBID,
				Status:         u.Status,
			}
			if err := s.Progress.Create(ctx, rec); err != nil {
				return err
			}
		} else {
			if err := s.Progress.UpdateStatus(ctx, rec.ProgressRecordBID, u.Status); err != nil {
				return err
			}
			if u.Status == models.ProgressInProgress && rec.Status == models.ProgressCompleted {
				if err := s.Progress.UpdateBlockPosition(ctx, rec.ProgressRecordBID, 0); err != nil {
					return err
				}
			}
		}
		if u.OutlineBID == r.params.OutlineBID {
			r.progress.Status = u.Status
		}
		emit(r.event(events.TypeOutlineItemUpdate, "", events.OutlineItemUpdate{
			OutlineBID:  u.OutlineBID,
			Title:       u.Title,
			Status:      u.Status,
			HasChildren: u.HasChildren,
		}))
	}
	return nil
}
