package internal

import (
	"context"
	"time"

	"github.com/lychee-technology/duplex"
	"go.uber.org/zap"
)

// BulkEngine exports and re-imports whole entity collections. All calls are
// serialized and paced by the shared Throttle.
type BulkEngine struct {
	throttle *Throttle
	cfg      duplex.BackupConfig
	now      func() time.Time
}

// NewBulkEngine creates a bulk engine. A nil clock means time.Now.
func NewBulkEngine(throttle *Throttle, cfg duplex.BackupConfig, clock func() time.Time) *BulkEngine {
	if throttle == nil {
		throttle = NewThrottle(duplex.ThrottleConfig{})
	}
	if clock == nil {
		clock = time.Now
	}
	return &BulkEngine{throttle: throttle, cfg: cfg, now: clock}
}

// BackupAll lists every entity in order and wraps the results in a snapshot.
// An entity whose list keeps failing contributes an empty list.
func (b *BulkEngine) BackupAll(ctx context.Context, entities []duplex.Entity) (*duplex.Snapshot, error) {
	snap := &duplex.Snapshot{
		Metadata: duplex.SnapshotMetadata{
			Timestamp:     b.now().UTC(),
			Version:       b.cfg.Version,
			TotalEntities: len(entities),
		},
		Data: make(map[string][]duplex.Record, len(entities)),
	}

	for i, entity := range entities {
		if i > 0 {
			if err := b.throttle.Pause(ctx, b.cfg.InterCallDelay); err != nil {
				return nil, err
			}
		}
		var recs []duplex.Record
		err := b.throttle.Retry(ctx, func() error {
			var err error
			recs, err = entity.List(ctx)
			return err
		})
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			zap.S().Warnw("backup of entity failed, exporting empty list", "entity", entity.Name(), "error", err)
			recs = nil
		}
		recs = nonNil(recs)
		snap.Data[entity.Name()] = recs
		snap.Metadata.TotalRecords += len(recs)
		EmitBackupRecords(ctx, entity.Name(), len(recs))
	}

	zap.S().Infow("backup completed", "entities", snap.Metadata.TotalEntities, "records", snap.Metadata.TotalRecords)
	return snap, nil
}
