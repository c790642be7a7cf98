package internal

import (
	"context"
	"errors"
	"time"

	"github.com/lychee-technology/duplex"
	"go.uber.org/zap"
)

// FactoryOptions holds the shared collaborators of every entity handle.
type FactoryOptions struct {
	Cache    duplex.CacheBackend
	Registry *PolicyRegistry
	Breaker  *CircuitBreaker
	Throttle *Throttle
	Refresh  *ForceRefresh
	Search   duplex.SearchConfig
	// Clock defaults to time.Now.
	Clock func() time.Time
}

// EntityFactory wraps entity names into handles that route reads and writes
// between Primary and Cache.
type EntityFactory struct {
	cache    duplex.CacheBackend
	registry *PolicyRegistry
	breaker  *CircuitBreaker
	throttle *Throttle
	refresh  *ForceRefresh
	search   duplex.SearchConfig
	now      func() time.Time
}

// NewEntityFactory creates a factory. Cache is required.
func NewEntityFactory(opts FactoryOptions) (*EntityFactory, error) {
	if opts.Cache == nil {
		return nil, duplex.NewError(duplex.ErrorTypeConfig, duplex.ErrCodeValidationFailed, "cache backend is required")
	}
	f := &EntityFactory{
		cache:    opts.Cache,
		registry: opts.Registry,
		breaker:  opts.Breaker,
		throttle: opts.Throttle,
		refresh:  opts.Refresh,
		search:   opts.Search,
		now:      opts.Clock,
	}
	if f.breaker == nil {
		f.breaker = NewCircuitBreaker(0, 0)
	}
	if f.throttle == nil {
		f.throttle = NewThrottle(duplex.ThrottleConfig{})
	}
	if f.refresh == nil {
		f.refresh = NewForceRefresh(nil)
	}
	if f.search.DefaultLimit <= 0 {
		f.search.DefaultLimit = 20
	}
	if f.search.MinTermLength <= 0 {
		f.search.MinTermLength = 2
	}
	if f.now == nil {
		f.now = time.Now
	}
	return f, nil
}

// Wrap returns the handle for name. A nil primary makes the entity cache-only
// whatever the registry says. Searchable entities also implement
// duplex.Searcher.
func (f *EntityFactory) Wrap(name string, primary duplex.Backend) duplex.Entity {
	return f.wrap(name, primary).expose()
}

func (f *EntityFactory) wrap(name string, primary duplex.Backend) *entityHandle {
	policy := f.registry.Policy(name)
	cacheOnly := primary == nil || f.registry.IsCacheOnly(name)
	if cacheOnly {
		primary = nil
	}
	return &entityHandle{
		f:         f,
		name:      name,
		policy:    policy,
		cacheOnly: cacheOnly,
		primary:   primary,
	}
}

// expose returns h as the public handle, adding search when declared.
func (h *entityHandle) expose() duplex.Entity {
	if h.policy.Searchable {
		return &searchableEntity{entityHandle: h}
	}
	return h
}

type entityHandle struct {
	f         *EntityFactory
	name      string
	policy    duplex.EntityPolicy
	cacheOnly bool
	primary   duplex.Backend
}

type searchableEntity struct {
	*entityHandle
}

var (
	_ duplex.Entity   = (*entityHandle)(nil)
	_ duplex.Searcher = (*searchableEntity)(nil)
	_ sourceLister    = (*entityHandle)(nil)
)

func (h *entityHandle) Name() string {
	return h.name
}

func (h *entityHandle) Kind() duplex.EntityKind {
	if h.cacheOnly {
		return duplex.KindCacheOnly
	}
	return duplex.KindMirrored
}

func (h *entityHandle) cacheEnabled() bool {
	return h.f.breaker.IsCacheEnabled()
}

func (h *entityHandle) timestamp() string {
	return h.f.now().UTC().Format(duplex.TimestampLayout)
}

// cacheErr classifies a Cache failure and feeds the breaker and throttle.
func (h *entityHandle) cacheErr(err error, id string) error {
	err = withEntity(ClassifyBackendError(duplex.RoleCache, err), h.name, id)
	h.f.throttle.Observe(err)
	h.f.breaker.ReportFailure(err)
	return err
}

// primaryErr classifies a Primary failure and feeds the throttle.
func (h *entityHandle) primaryErr(err error, id string) error {
	err = withEntity(ClassifyBackendError(duplex.RolePrimary, err), h.name, id)
	h.f.throttle.Observe(err)
	return err
}

func (h *entityHandle) cacheOK() {
	h.f.breaker.ReportSuccess()
}

func (h *entityHandle) logSwallowed(msg, id string, err error) {
	zap.S().Warnw(msg, "entity", h.name, "id", id, "backend", duplex.BackendOf(err), "error", err)
}

func withEntity(err error, entity, id string) error {
	var de *duplex.Error
	if errors.As(err, &de) && de.Entity == "" {
		de.Entity = entity
		if de.ID == "" {
			de.ID = id
		}
	}
	return err
}

func missingID(entity string) error {
	return duplex.NewError(duplex.ErrorTypeValidation, duplex.ErrCodeMissingID, "id is required").WithEntity(entity, "")
}

// stampName keeps name_normalized in step with name on searchable entities.
// A name cleared to null or a non-string value normalizes to "".
func (h *entityHandle) stampName(rec duplex.Record) {
	if !h.policy.Searchable {
		return
	}
	if v, ok := rec[duplex.FieldName]; ok {
		rec[duplex.FieldNameNormalized] = normalizeAny(v)
	}
}

func (h *entityHandle) prepareCreate(data duplex.Record) duplex.Record {
	rec := data.Clone()
	if rec == nil {
		rec = duplex.Record{}
	}
	if rec.ID() == "" {
		rec[duplex.FieldID] = h.f.cache.NewID(h.name)
	}
	now := h.timestamp()
	if !hasString(rec, duplex.FieldCreatedDate) {
		rec[duplex.FieldCreatedDate] = now
	}
	if !hasString(rec, duplex.FieldUpdatedDate) {
		rec[duplex.FieldUpdatedDate] = now
	}
	rec[duplex.FieldIsSample] = false
	h.stampName(rec)
	return rec
}

func (h *entityHandle) preparePatch(data duplex.Record) duplex.Record {
	patch := data.Clone()
	if patch == nil {
		patch = duplex.Record{}
	}
	delete(patch, duplex.FieldID)
	patch[duplex.FieldUpdatedDate] = h.timestamp()
	h.stampName(patch)
	return patch
}

func hasString(rec duplex.Record, field string) bool {
	s, ok := rec[field].(string)
	return ok && s != ""
}

func emptyRecords() []duplex.Record {
	return []duplex.Record{}
}

func nonNil(recs []duplex.Record) []duplex.Record {
	if recs == nil {
		return emptyRecords()
	}
	return recs
}

// readCacheList lists the entity from Cache when the breaker allows it.
// ok is false when the cache was not usable.
func (h *entityHandle) readCacheList(ctx context.Context, fresh bool) (recs []duplex.Record, ok bool) {
	if !h.cacheEnabled() {
		EmitCacheRead(ctx, h.name, ReadDisabled)
		return nil, false
	}
	var err error
	if fresh {
		recs, err = h.f.cache.Query(ctx, h.name, duplex.Query{Fresh: true})
	} else {
		recs, err = h.f.cache.List(ctx, h.name)
	}
	if err != nil {
		err = h.cacheErr(err, "")
		h.logSwallowed("cache read failed", "", err)
		EmitCacheRead(ctx, h.name, ReadError)
		return nil, false
	}
	h.cacheOK()
	return recs, true
}
