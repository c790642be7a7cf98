package internal

import (
	"context"

	"github.com/lychee-technology/duplex"
	"go.uber.org/zap"
)

func (h *entityHandle) Create(ctx context.Context, data duplex.Record) (duplex.Record, error) {
	res, err := h.CreateResult(ctx, data)
	if err != nil {
		return nil, err
	}
	return res.Record, nil
}

func (h *entityHandle) Update(ctx context.Context, id string, data duplex.Record) (duplex.Record, error) {
	res, err := h.UpdateResult(ctx, id, data)
	if err != nil {
		return nil, err
	}
	return res.Record, nil
}

func (h *entityHandle) Delete(ctx context.Context, id string) (bool, error) {
	if _, err := h.DeleteResult(ctx, id); err != nil {
		return false, err
	}
	return true, nil
}

// CreateResult writes a new record. Cache-only entities write to Cache and
// surface any failure. Mirrored entities write to Primary first and mirror
// into Cache on a best-effort basis.
func (h *entityHandle) CreateResult(ctx context.Context, data duplex.Record) (*duplex.WriteResult, error) {
	rec := h.prepareCreate(data)
	id := rec.ID()

	if h.cacheOnly {
		if err := h.f.cache.Put(ctx, h.name, id, rec); err != nil {
			return nil, h.cacheErr(err, id)
		}
		h.cacheOK()
		zap.S().Debugw("record created", "entity", h.name, "id", id, "backend", duplex.RoleCache)
		return &duplex.WriteResult{Record: rec, Written: duplex.RoleCache, CacheMirror: duplex.MirrorNone}, nil
	}

	created, err := h.primary.Create(ctx, h.name, rec)
	if err != nil {
		return nil, h.primaryErr(err, id)
	}
	if created == nil {
		created = rec
	}
	res := &duplex.WriteResult{Record: created, Written: duplex.RolePrimary}
	h.mirror(ctx, res, "create", func() error {
		return h.f.cache.Put(ctx, h.name, created.ID(), created)
	})
	zap.S().Debugw("record created", "entity", h.name, "id", created.ID(), "backend", duplex.RolePrimary, "cacheMirror", res.CacheMirror)
	return res, nil
}

// UpdateResult applies a shallow patch. The authoritative store decides
// whether the record exists.
func (h *entityHandle) UpdateResult(ctx context.Context, id string, data duplex.Record) (*duplex.WriteResult, error) {
	if id == "" {
		return nil, missingID(h.name)
	}
	patch := h.preparePatch(data)

	if h.cacheOnly {
		updated, err := h.f.cache.Update(ctx, h.name, id, patch)
		if err != nil {
			return nil, h.cacheErr(err, id)
		}
		h.cacheOK()
		return &duplex.WriteResult{Record: updated, Written: duplex.RoleCache, CacheMirror: duplex.MirrorNone}, nil
	}

	updated, err := h.primary.Update(ctx, h.name, id, patch)
	if err != nil {
		return nil, h.primaryErr(err, id)
	}
	res := &duplex.WriteResult{Record: updated, Written: duplex.RolePrimary}
	h.mirror(ctx, res, "update", func() error {
		_, err := h.f.cache.Update(ctx, h.name, id, updated)
		if duplex.IsNotFound(err) {
			return h.f.cache.Put(ctx, h.name, id, updated)
		}
		return err
	})
	return res, nil
}

// DeleteResult removes a record. A missing record is a NotFound error from the
// authoritative store; a missing Cache copy of a mirrored record is not.
func (h *entityHandle) DeleteResult(ctx context.Context, id string) (*duplex.WriteResult, error) {
	if id == "" {
		return nil, missingID(h.name)
	}

	if h.cacheOnly {
		if err := h.f.cache.Delete(ctx, h.name, id); err != nil {
			return nil, h.cacheErr(err, id)
		}
		h.cacheOK()
		return &duplex.WriteResult{Record: duplex.Record{duplex.FieldID: id}, Written: duplex.RoleCache, CacheMirror: duplex.MirrorNone}, nil
	}

	if err := h.primary.Delete(ctx, h.name, id); err != nil {
		return nil, h.primaryErr(err, id)
	}
	res := &duplex.WriteResult{Record: duplex.Record{duplex.FieldID: id}, Written: duplex.RolePrimary}
	h.mirror(ctx, res, "delete", func() error {
		err := h.f.cache.Delete(ctx, h.name, id)
		if duplex.IsNotFound(err) {
			return nil
		}
		return err
	})
	return res, nil
}

// mirror runs a best-effort Cache write and records the outcome on res.
func (h *entityHandle) mirror(ctx context.Context, res *duplex.WriteResult, op string, write func() error) {
	if !h.cacheEnabled() {
		res.CacheMirror = duplex.MirrorSkipped
		return
	}
	if err := write(); err != nil {
		err = h.cacheErr(err, res.Record.ID())
		res.CacheMirror = duplex.MirrorFailed
		res.MirrorErr = err
		h.logSwallowed("cache mirror failed", res.Record.ID(), err)
		EmitMirrorFailure(ctx, h.name, op)
		return
	}
	h.cacheOK()
	res.CacheMirror = duplex.MirrorOK
}
