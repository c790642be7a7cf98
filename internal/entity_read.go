package internal

import (
	"context"

	"github.com/lychee-technology/duplex"
	"github.com/lychee-technology/duplex/internal/criteria"
	"go.uber.org/zap"
)

// List returns every record of the entity. Mirrored entities prefer a
// non-empty Cache and fall back to Primary, repopulating Cache. Cache-only
// entities never fail a read; they return an empty list instead.
// ListSource lists the store that owns the records, bypassing Cache for
// mirrored entities. Failures are returned, never swallowed.
func (h *entityHandle) ListSource(ctx context.Context) ([]duplex.Record, error) {
	if h.cacheOnly {
		recs, err := h.f.cache.List(ctx, h.name)
		if err != nil {
			return nil, h.cacheErr(err, "")
		}
		h.cacheOK()
		return nonNil(recs), nil
	}
	recs, err := h.primary.List(ctx, h.name)
	if err != nil {
		return nil, h.primaryErr(err, "")
	}
	return nonNil(recs), nil
}

func (h *entityHandle) List(ctx context.Context) ([]duplex.Record, error) {
	if h.cacheOnly {
		recs, _ := h.readCacheList(ctx, false)
		if len(recs) > 0 {
			EmitCacheRead(ctx, h.name, ReadHit)
		}
		return nonNil(recs), nil
	}

	if h.f.refresh.Consume(h.name) {
		return h.refreshFromPrimary(ctx)
	}

	if recs, ok := h.readCacheList(ctx, false); ok {
		if len(recs) > 0 {
			EmitCacheRead(ctx, h.name, ReadHit)
			return recs, nil
		}
		EmitCacheRead(ctx, h.name, ReadMiss)
	}

	recs, err := h.primary.List(ctx, h.name)
	if err != nil {
		return nil, h.primaryErr(err, "")
	}
	if h.cacheEnabled() && len(recs) > 0 {
		ops := make([]duplex.BatchOp, 0, len(recs))
		for _, rec := range recs {
			ops = append(ops, duplex.BatchOp{Type: duplex.BatchPut, ID: rec.ID(), Data: rec})
		}
		if _, err := commitChunked(ctx, h.f.cache, h.name, ops); err != nil {
			err = h.cacheErr(err, "")
			h.logSwallowed("cache populate failed", "", err)
			EmitMirrorFailure(ctx, h.name, "populate")
		} else {
			h.cacheOK()
		}
	}
	return nonNil(recs), nil
}

// refreshFromPrimary fetches the entity from Primary and replaces the Cache
// collection with the result.
func (h *entityHandle) refreshFromPrimary(ctx context.Context) ([]duplex.Record, error) {
	EmitCacheRead(ctx, h.name, ReadRefresh)
	recs, err := h.primary.List(ctx, h.name)
	if err != nil {
		// keep the refresh pending for the next call
		if rerr := h.f.refresh.Request(h.name); rerr != nil {
			zap.S().Warnw("failed to re-arm force refresh", "entity", h.name, "error", rerr)
		}
		return nil, h.primaryErr(err, "")
	}
	if !h.cacheEnabled() {
		return nonNil(recs), nil
	}
	if err := h.replaceCache(ctx, recs); err != nil {
		err = h.cacheErr(err, "")
		h.logSwallowed("cache replace failed", "", err)
		EmitMirrorFailure(ctx, h.name, "replace")
	} else {
		h.cacheOK()
		zap.S().Infow("cache refreshed from primary", "entity", h.name, "records", len(recs))
	}
	return nonNil(recs), nil
}

// replaceCache deletes every Cache document of the entity and writes recs.
// Ids present in recs are overwritten rather than deleted first.
func (h *entityHandle) replaceCache(ctx context.Context, recs []duplex.Record) error {
	existing, err := h.f.cache.List(ctx, h.name)
	if err != nil {
		return err
	}
	fresh := NewSet[string]()
	for _, rec := range recs {
		fresh.Add(rec.ID())
	}
	ops := make([]duplex.BatchOp, 0, len(existing)+len(recs))
	for _, rec := range existing {
		if id := rec.ID(); id != "" && !fresh.Contains(id) {
			ops = append(ops, duplex.BatchOp{Type: duplex.BatchDelete, ID: id})
		}
	}
	for _, rec := range recs {
		ops = append(ops, duplex.BatchOp{Type: duplex.BatchPut, ID: rec.ID(), Data: rec})
	}
	_, err = commitChunked(ctx, h.f.cache, h.name, ops)
	return err
}

// Filter applies criteria in process after choosing a source the same way
// List does. An empty Cache match on a mirrored entity falls back to Primary.
// Primary results read by Filter are not written into Cache.
func (h *entityHandle) Filter(ctx context.Context, c duplex.Criteria, opts ...duplex.FilterOption) ([]duplex.Record, error) {
	matcher, err := criteria.New(c, h.policy.DateFields)
	if err != nil {
		return nil, withEntity(err, h.name, "")
	}
	var o duplex.FilterOptions
	for _, opt := range opts {
		opt(&o)
	}

	if h.cacheOnly {
		recs, _ := h.readCacheList(ctx, o.Fresh)
		return nonNil(matcher.Apply(recs)), nil
	}

	if !h.f.refresh.Pending(h.name) {
		if recs, ok := h.readCacheList(ctx, o.Fresh); ok {
			matched := matcher.Apply(recs)
			if len(matched) > 0 {
				EmitCacheRead(ctx, h.name, ReadHit)
				return matched, nil
			}
			EmitCacheRead(ctx, h.name, ReadMiss)
		}
	}

	recs, err := h.primary.Filter(ctx, h.name, c)
	if err != nil {
		return nil, h.primaryErr(err, "")
	}
	return nonNil(matcher.Apply(recs)), nil
}

// Get returns the record or nil when it does not exist.
func (h *entityHandle) Get(ctx context.Context, id string) (duplex.Record, error) {
	if id == "" {
		return nil, missingID(h.name)
	}
	if h.cacheOnly {
		return h.getCacheOnly(ctx, id)
	}

	if h.cacheEnabled() {
		rec, err := h.f.cache.Get(ctx, h.name, id)
		switch {
		case err == nil:
			h.cacheOK()
			EmitCacheRead(ctx, h.name, ReadHit)
			return rec, nil
		case duplex.IsNotFound(err):
			EmitCacheRead(ctx, h.name, ReadMiss)
		default:
			err = h.cacheErr(err, id)
			h.logSwallowed("cache get failed", id, err)
			EmitCacheRead(ctx, h.name, ReadError)
		}
	} else {
		EmitCacheRead(ctx, h.name, ReadDisabled)
	}

	rec, err := h.primary.Get(ctx, h.name, id)
	if err != nil {
		if duplex.IsNotFound(err) {
			return nil, nil
		}
		return nil, h.primaryErr(err, id)
	}
	if h.cacheEnabled() {
		if err := h.f.cache.Put(ctx, h.name, id, rec); err != nil {
			err = h.cacheErr(err, id)
			h.logSwallowed("cache populate failed", id, err)
			EmitMirrorFailure(ctx, h.name, "get")
		} else {
			h.cacheOK()
		}
	}
	return rec, nil
}

// getCacheOnly never fails for a missing record, a denied read or a disabled
// cache. Other Cache failures are surfaced.
func (h *entityHandle) getCacheOnly(ctx context.Context, id string) (duplex.Record, error) {
	if !h.cacheEnabled() {
		EmitCacheRead(ctx, h.name, ReadDisabled)
		return nil, nil
	}
	rec, err := h.f.cache.Get(ctx, h.name, id)
	if err == nil {
		h.cacheOK()
		EmitCacheRead(ctx, h.name, ReadHit)
		return rec, nil
	}
	if duplex.IsNotFound(err) {
		EmitCacheRead(ctx, h.name, ReadMiss)
		return nil, nil
	}
	err = h.cacheErr(err, id)
	EmitCacheRead(ctx, h.name, ReadError)
	if duplex.IsPermission(err) {
		h.logSwallowed("cache get denied", id, err)
		return nil, nil
	}
	return nil, err
}
