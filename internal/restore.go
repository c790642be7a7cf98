package internal

import (
	"context"

	"github.com/lychee-technology/duplex"
	"go.uber.org/zap"
)

const (
	restoreOutcomeRestored = "restored"
	restoreOutcomeFailed   = "failed"
)

// ValidateRestoreMode rejects unknown modes.
func ValidateRestoreMode(mode duplex.RestoreMode) error {
	switch mode {
	case duplex.RestoreReplace, duplex.RestoreMerge:
		return nil
	default:
		return duplex.NewError(duplex.ErrorTypeValidation, duplex.ErrCodeInvalidMode, "restore mode must be replace or merge").
			WithDetail("mode", string(mode))
	}
}

// Restore applies snap to each target entity. Per-record failures are logged
// and counted, never fatal. Targets absent from the snapshot are skipped.
func (b *BulkEngine) Restore(ctx context.Context, snap *duplex.Snapshot, targets []duplex.Entity, mode duplex.RestoreMode) (*duplex.RestoreResult, error) {
	if err := ValidateRestoreMode(mode); err != nil {
		return nil, err
	}
	if snap == nil || snap.Data == nil {
		return nil, duplex.NewError(duplex.ErrorTypeValidation, duplex.ErrCodeInvalidSnapshot, "snapshot has no data")
	}

	result := &duplex.RestoreResult{Mode: mode, PerEntity: make(map[string]int, len(targets))}
	for _, entity := range targets {
		recs, ok := snap.Data[entity.Name()]
		if !ok {
			zap.S().Warnw("entity not present in snapshot, skipping", "entity", entity.Name())
			continue
		}
		if mode == duplex.RestoreReplace {
			if err := b.clearEntity(ctx, entity, result); err != nil {
				return result, err
			}
		}
		restored, err := b.restoreRecords(ctx, entity, recs, mode, result)
		result.PerEntity[entity.Name()] = restored
		if err != nil {
			return result, err
		}
	}

	zap.S().Infow("restore completed", "mode", mode, "attempted", result.Attempted,
		"restored", result.Restored, "deleted", result.Deleted, "failed", result.Failed)
	return result, nil
}

// sourceLister is implemented by entities that can list their owning store
// directly instead of whatever copy a normal read would serve.
type sourceLister interface {
	ListSource(ctx context.Context) ([]duplex.Record, error)
}

func listSource(ctx context.Context, entity duplex.Entity) ([]duplex.Record, error) {
	if sl, ok := entity.(sourceLister); ok {
		return sl.ListSource(ctx)
	}
	return entity.List(ctx)
}

// clearEntity deletes every record the owning store holds, each delete
// retried on its own. Mirrored entities are listed from Primary so records
// missing from Cache are cleared too.
func (b *BulkEngine) clearEntity(ctx context.Context, entity duplex.Entity, result *duplex.RestoreResult) error {
	var existing []duplex.Record
	err := b.throttle.Retry(ctx, func() error {
		var err error
		existing, err = listSource(ctx, entity)
		return err
	})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		zap.S().Warnw("could not list entity before replace", "entity", entity.Name(), "error", err)
		return nil
	}
	for _, rec := range existing {
		id := rec.ID()
		if id == "" {
			continue
		}
		err := b.throttle.Retry(ctx, func() error {
			_, err := entity.Delete(ctx, id)
			if duplex.IsNotFound(err) {
				return nil
			}
			return err
		})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			zap.S().Warnw("restore delete failed", "entity", entity.Name(), "id", id, "error", err)
		} else {
			result.Deleted++
		}
		if err := b.throttle.Pause(ctx, b.cfg.WriteDelay); err != nil {
			return err
		}
	}
	return nil
}

func (b *BulkEngine) restoreRecords(ctx context.Context, entity duplex.Entity, recs []duplex.Record, mode duplex.RestoreMode, result *duplex.RestoreResult) (int, error) {
	restored := 0
	for _, rec := range recs {
		result.Attempted++
		err := b.throttle.Retry(ctx, func() error {
			return b.restoreOne(ctx, entity, rec, mode)
		})
		if err != nil {
			if ctx.Err() != nil {
				return restored, ctx.Err()
			}
			result.Failed++
			zap.S().Warnw("restore of record failed", "entity", entity.Name(), "id", rec.ID(), "error", err)
			EmitRestoreRecord(ctx, entity.Name(), restoreOutcomeFailed)
		} else {
			restored++
			result.Restored++
			EmitRestoreRecord(ctx, entity.Name(), restoreOutcomeRestored)
		}
		if err := b.throttle.Pause(ctx, b.cfg.WriteDelay); err != nil {
			return restored, err
		}
	}
	return restored, nil
}

func (b *BulkEngine) restoreOne(ctx context.Context, entity duplex.Entity, rec duplex.Record, mode duplex.RestoreMode) error {
	id := rec.ID()
	if mode == duplex.RestoreMerge && id != "" {
		existing, err := entity.Get(ctx, id)
		if err != nil {
			return err
		}
		if existing != nil {
			_, err = entity.Update(ctx, id, rec)
			return err
		}
	}
	_, err := entity.Create(ctx, rec)
	return err
}
