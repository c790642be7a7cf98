package internal

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/lychee-technology/duplex"
	"go.uber.org/zap"
)

// ServiceOptions wires a Service.
type ServiceOptions struct {
	Config *duplex.Config
	// Primary may be nil, in which case every entity is cache-only.
	Primary duplex.Backend
	Cache   duplex.CacheBackend
	Flags   duplex.FlagStore
	// Overrides are composed over the base handle of the named entity.
	Overrides map[string]Overrides
	// Closers run in reverse order on Close.
	Closers []func() error
	// Probes are run by Health.
	Probes []HealthProbe
	Clock   func() time.Time
}

// Service is the facade over every entity handle plus the bulk operations.
type Service struct {
	registry *PolicyRegistry
	breaker  *CircuitBreaker
	throttle *Throttle
	refresh  *ForceRefresh
	factory  *EntityFactory
	bulk     *BulkEngine

	order    []string
	entities map[string]duplex.Entity
	handles  map[string]*entityHandle
	closers  []func() error
	probes   []HealthProbe
}

var _ duplex.Service = (*Service)(nil)

// NewService builds the handles for every configured entity.
func NewService(opts ServiceOptions) (*Service, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = duplex.DefaultConfig()
	}
	if opts.Cache == nil {
		return nil, duplex.NewError(duplex.ErrorTypeConfig, duplex.ErrCodeValidationFailed, "cache backend is required")
	}

	s := &Service{
		registry: NewPolicyRegistry(cfg.Entities),
		breaker:  NewCircuitBreaker(cfg.Circuit.Threshold, cfg.Circuit.Cooldown),
		throttle: NewThrottle(cfg.Throttle),
		refresh:  NewForceRefresh(opts.Flags),
		entities: make(map[string]duplex.Entity, len(cfg.Entities)),
		handles:  make(map[string]*entityHandle, len(cfg.Entities)),
		closers:  opts.Closers,
		probes:   opts.Probes,
	}
	s.breaker.OnStateChange(EmitCircuitState)
	s.throttle.OnDelayChange(func(d time.Duration) { EmitThrottleDelay(d.Milliseconds()) })

	factory, err := NewEntityFactory(FactoryOptions{
		Cache:    opts.Cache,
		Registry: s.registry,
		Breaker:  s.breaker,
		Throttle: s.throttle,
		Refresh:  s.refresh,
		Search:   cfg.Search,
		Clock:    opts.Clock,
	})
	if err != nil {
		return nil, err
	}
	s.factory = factory
	s.bulk = NewBulkEngine(s.throttle, cfg.Backup, opts.Clock)

	for _, name := range s.registry.Names() {
		h := factory.wrap(name, opts.Primary)
		var entity duplex.Entity = h.expose()
		if o, ok := opts.Overrides[name]; ok {
			entity = Compose(entity, o)
		}
		s.order = append(s.order, name)
		s.handles[name] = h
		s.entities[name] = entity
	}

	zap.S().Infow("entity service ready", "entities", len(s.order), "primary", opts.Primary != nil)
	return s, nil
}

func unknownEntity(name string) error {
	return duplex.NewError(duplex.ErrorTypeNotFound, duplex.ErrCodeUnknownEntity, "unknown entity").WithEntity(name, "")
}

// Entity returns the handle for name.
func (s *Service) Entity(name string) (duplex.Entity, error) {
	e, ok := s.entities[name]
	if !ok {
		return nil, unknownEntity(name)
	}
	return e, nil
}

// Entities returns every handle in name order.
func (s *Service) Entities() []duplex.Entity {
	out := make([]duplex.Entity, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.entities[name])
	}
	return out
}

// Backup exports every entity.
func (s *Service) Backup(ctx context.Context) (*duplex.Snapshot, error) {
	return s.bulk.BackupAll(ctx, s.Entities())
}

// Restore applies snap to the named entities, or to every registered entity
// present in the snapshot when names is empty.
func (s *Service) Restore(ctx context.Context, snap *duplex.Snapshot, names []string, mode duplex.RestoreMode) (*duplex.RestoreResult, error) {
	if snap == nil {
		return nil, duplex.NewError(duplex.ErrorTypeValidation, duplex.ErrCodeInvalidSnapshot, "snapshot is required")
	}
	if len(names) == 0 {
		names = snap.EntityNames()
		slices.Sort(names)
		names = slices.DeleteFunc(names, func(name string) bool {
			_, ok := s.entities[name]
			if !ok {
				zap.S().Warnw("snapshot entity is not registered, skipping", "entity", name)
			}
			return !ok
		})
	}
	targets := make([]duplex.Entity, 0, len(names))
	for _, name := range names {
		e, err := s.Entity(name)
		if err != nil {
			return nil, err
		}
		targets = append(targets, e)
	}
	return s.bulk.Restore(ctx, snap, targets, mode)
}

// RequestRefresh sets the force refresh flag of a mirrored entity.
func (s *Service) RequestRefresh(name string) error {
	h, ok := s.handles[name]
	if !ok {
		return unknownEntity(name)
	}
	if h.cacheOnly {
		return duplex.NewValidationError("entity", "cache-only entities have no primary to refresh from").WithEntity(name, "")
	}
	return s.refresh.Request(name)
}

// Warm refreshes Cache from Primary for the named mirrored entities, or for
// every mirrored entity when names is empty.
func (s *Service) Warm(ctx context.Context, names ...string) error {
	if len(names) == 0 {
		for _, name := range s.order {
			if !s.handles[name].cacheOnly {
				names = append(names, name)
			}
		}
	}
	var errs []error
	for i, name := range names {
		h, ok := s.handles[name]
		if !ok {
			errs = append(errs, unknownEntity(name))
			continue
		}
		if h.cacheOnly {
			zap.S().Debugw("skipping warm-up of cache-only entity", "entity", name)
			continue
		}
		if i > 0 {
			if err := s.throttle.Pause(ctx, 0); err != nil {
				return err
			}
		}
		if _, err := h.refreshFromPrimary(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// CircuitState reports the cache circuit breaker.
func (s *Service) CircuitState() duplex.CircuitState {
	return s.breaker.State()
}

// Health runs every probe and reports their outcome with the circuit state.
func (s *Service) Health(ctx context.Context) *duplex.HealthReport {
	report := &duplex.HealthReport{Healthy: true, Circuit: s.breaker.State()}
	if len(s.probes) == 0 {
		return report
	}
	report.Checks = make(map[string]string, len(s.probes))
	for _, p := range s.probes {
		if err := runProbe(ctx, p, 0); err != nil {
			zap.S().Warnw("health probe failed", "probe", p.Name, "error", err)
			report.Healthy = false
			report.Checks[p.Name] = err.Error()
			continue
		}
		report.Checks[p.Name] = "ok"
	}
	return report
}

// RetryAfter is the shared pacing delay callers should wait after a
// rate-limit error.
func (s *Service) RetryAfter() time.Duration {
	return s.throttle.Delay()
}

// Close stops the breaker timer and releases the backends.
func (s *Service) Close() error {
	s.breaker.Reset()
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
