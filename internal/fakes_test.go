package internal

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lychee-technology/duplex"
	"github.com/lychee-technology/duplex/internal/flagstore"
	"github.com/lychee-technology/duplex/internal/memstore"
)

var (
	errDenied      = &pgconn.PgError{Code: "42501", Message: "permission denied for table documents"}
	errRateLimited = errors.New("429 too many requests")
	errBoom        = errors.New("connection reset by peer")
)

// faultCache wraps a cache backend and fails selected operations.
type faultCache struct {
	duplex.CacheBackend

	mu    sync.Mutex
	fail  map[string]error
	calls map[string]int
	// failTimes limits how often fail[op] fires; zero means always.
	failTimes map[string]int
}

func newFaultCache(inner duplex.CacheBackend) *faultCache {
	return &faultCache{
		CacheBackend: inner,
		fail:         map[string]error{},
		calls:        map[string]int{},
		failTimes:    map[string]int{},
	}
}

func (c *faultCache) failOn(op string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fail[op] = err
}

func (c *faultCache) failOnce(op string, err error, times int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fail[op] = err
	c.failTimes[op] = times
}

func (c *faultCache) heal() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fail = map[string]error{}
	c.failTimes = map[string]int{}
}

func (c *faultCache) count(op string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[op]
}

func (c *faultCache) check(op string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls[op]++
	err, ok := c.fail[op]
	if !ok {
		return nil
	}
	if n, limited := c.failTimes[op]; limited {
		if n <= 0 {
			return nil
		}
		c.failTimes[op] = n - 1
	}
	return err
}

func (c *faultCache) Create(ctx context.Context, collection string, data duplex.Record) (duplex.Record, error) {
	if err := c.check("create"); err != nil {
		return nil, err
	}
	return c.CacheBackend.Create(ctx, collection, data)
}

func (c *faultCache) Put(ctx context.Context, collection, id string, data duplex.Record) error {
	if err := c.check("put"); err != nil {
		return err
	}
	return c.CacheBackend.Put(ctx, collection, id, data)
}

func (c *faultCache) Update(ctx context.Context, collection, id string, patch duplex.Record) (duplex.Record, error) {
	if err := c.check("update"); err != nil {
		return nil, err
	}
	return c.CacheBackend.Update(ctx, collection, id, patch)
}

func (c *faultCache) Delete(ctx context.Context, collection, id string) error {
	if err := c.check("delete"); err != nil {
		return err
	}
	return c.CacheBackend.Delete(ctx, collection, id)
}

func (c *faultCache) Get(ctx context.Context, collection, id string) (duplex.Record, error) {
	if err := c.check("get"); err != nil {
		return nil, err
	}
	return c.CacheBackend.Get(ctx, collection, id)
}

func (c *faultCache) List(ctx context.Context, collection string) ([]duplex.Record, error) {
	if err := c.check("list"); err != nil {
		return nil, err
	}
	return c.CacheBackend.List(ctx, collection)
}

func (c *faultCache) Query(ctx context.Context, collection string, q duplex.Query) ([]duplex.Record, error) {
	if err := c.check("query"); err != nil {
		return nil, err
	}
	return c.CacheBackend.Query(ctx, collection, q)
}

func (c *faultCache) CommitBatch(ctx context.Context, collection string, ops []duplex.BatchOp) error {
	if err := c.check("batch"); err != nil {
		return err
	}
	return c.CacheBackend.CommitBatch(ctx, collection, ops)
}

// faultPrimary wraps a primary backend the same way.
type faultPrimary struct {
	duplex.Backend
	*faultCache
}

func newFaultPrimary(inner duplex.Backend) *faultPrimary {
	return &faultPrimary{Backend: inner, faultCache: newFaultCache(nil)}
}

func (p *faultPrimary) Create(ctx context.Context, collection string, data duplex.Record) (duplex.Record, error) {
	if err := p.check("create"); err != nil {
		return nil, err
	}
	return p.Backend.Create(ctx, collection, data)
}

func (p *faultPrimary) Update(ctx context.Context, collection, id string, patch duplex.Record) (duplex.Record, error) {
	if err := p.check("update"); err != nil {
		return nil, err
	}
	return p.Backend.Update(ctx, collection, id, patch)
}

func (p *faultPrimary) Delete(ctx context.Context, collection, id string) error {
	if err := p.check("delete"); err != nil {
		return err
	}
	return p.Backend.Delete(ctx, collection, id)
}

func (p *faultPrimary) Get(ctx context.Context, collection, id string) (duplex.Record, error) {
	if err := p.check("get"); err != nil {
		return nil, err
	}
	return p.Backend.Get(ctx, collection, id)
}

func (p *faultPrimary) List(ctx context.Context, collection string) ([]duplex.Record, error) {
	if err := p.check("list"); err != nil {
		return nil, err
	}
	return p.Backend.List(ctx, collection)
}

func (p *faultPrimary) Filter(ctx context.Context, collection string, c duplex.Criteria) ([]duplex.Record, error) {
	if err := p.check("filter"); err != nil {
		return nil, err
	}
	return p.Backend.Filter(ctx, collection, c)
}

var fixedNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	primaryStore *memstore.Store
	cacheStore   *memstore.Store
	primary      *faultPrimary
	cache        *faultCache
	flags        *flagstore.MemoryStore
	breaker      *CircuitBreaker
	throttle     *Throttle
	factory      *EntityFactory
}

func testPolicies() []duplex.EntityPolicy {
	return []duplex.EntityPolicy{
		{Name: "appointments", CacheOnly: true, DateFields: []string{"date"}},
		{Name: "employees", CacheOnly: true, Searchable: true},
		{Name: "services", CacheOnly: true},
		{Name: "products", CacheOnly: true, Searchable: true},
		{Name: "clients", Searchable: true},
		{Name: "sales"},
	}
}

func newFixture(t *testing.T, cacheOpts ...memstore.Option) *fixture {
	t.Helper()
	opts := append([]memstore.Option{memstore.WithMaxBatchSize(2)}, cacheOpts...)
	fx := &fixture{
		primaryStore: memstore.New(),
		cacheStore:   memstore.New(opts...),
		flags:        flagstore.NewMemoryStore(),
		breaker:      NewCircuitBreaker(5, time.Hour),
		throttle: NewThrottle(duplex.ThrottleConfig{
			MaxDelay:   50 * time.Millisecond,
			Multiplier: 2,
			MaxRetries: 2,
			RetryBase:  time.Millisecond,
		}),
	}
	fx.primary = newFaultPrimary(fx.primaryStore)
	fx.cache = newFaultCache(fx.cacheStore)
	f, err := NewEntityFactory(FactoryOptions{
		Cache:    fx.cache,
		Registry: NewPolicyRegistry(testPolicies()),
		Breaker:  fx.breaker,
		Throttle: fx.throttle,
		Refresh:  NewForceRefresh(fx.flags),
		Clock:    func() time.Time { return fixedNow },
	})
	if err != nil {
		t.Fatal(err)
	}
	fx.factory = f
	t.Cleanup(fx.breaker.Reset)
	return fx
}

func (fx *fixture) entity(name string) duplex.Entity {
	return fx.factory.Wrap(name, fx.primary)
}

// tripBreaker reports enough permission failures to open the breaker.
func (fx *fixture) tripBreaker() {
	for i := 0; i < 5; i++ {
		fx.breaker.ReportFailure(duplex.NewPermissionError(duplex.RoleCache, errDenied))
	}
}
