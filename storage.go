package duplex

import (
	"context"
	"time"
)

// Backend is a document store client. Collections are entity names.
type Backend interface {
	Create(ctx context.Context, collection string, data Record) (Record, error)
	// Update applies a shallow merge of patch and returns the stored document.
	Update(ctx context.Context, collection, id string, patch Record) (Record, error)
	Delete(ctx context.Context, collection, id string) error
	Get(ctx context.Context, collection, id string) (Record, error)
	List(ctx context.Context, collection string) ([]Record, error)
	Filter(ctx context.Context, collection string, criteria Criteria) ([]Record, error)
}

// CacheBackend is the fast document store. It adds full-document writes,
// atomic batches, range queries and an id allocator to Backend.
type CacheBackend interface {
	Backend
	Put(ctx context.Context, collection, id string, data Record) error
	NewID(collection string) string
	Query(ctx context.Context, collection string, q Query) ([]Record, error)
	// CommitBatch applies ops atomically. len(ops) must not exceed MaxBatchSize.
	CommitBatch(ctx context.Context, collection string, ops []BatchOp) error
	MaxBatchSize() int
}

// FlagStore is client-local persistent storage for one-shot flags.
type FlagStore interface {
	GetFlag(key string) (string, bool, error)
	SetFlag(key, value string) error
	ClearFlag(key string) error
}

// FilterOption tunes a Filter call.
type FilterOption func(*FilterOptions)

// FilterOptions holds the resolved filter options.
type FilterOptions struct {
	Fresh bool
}

// WithFresh bypasses driver-level caching when the Cache backend is queried.
func WithFresh() FilterOption {
	return func(o *FilterOptions) { o.Fresh = true }
}

// Entity is the handle every page and service uses to reach one entity type.
type Entity interface {
	Name() string
	Kind() EntityKind

	Create(ctx context.Context, data Record) (Record, error)
	Update(ctx context.Context, id string, data Record) (Record, error)
	Delete(ctx context.Context, id string) (bool, error)
	List(ctx context.Context) ([]Record, error)
	Filter(ctx context.Context, criteria Criteria, opts ...FilterOption) ([]Record, error)
	// Get returns nil, nil when the record does not exist.
	Get(ctx context.Context, id string) (Record, error)

	CreateResult(ctx context.Context, data Record) (*WriteResult, error)
	UpdateResult(ctx context.Context, id string, data Record) (*WriteResult, error)
	DeleteResult(ctx context.Context, id string) (*WriteResult, error)
}

// Searcher is implemented by name-bearing entities.
type Searcher interface {
	Search(ctx context.Context, term string, limit int) ([]Record, error)
}

// Service bundles every entity handle with the bulk operations.
type Service interface {
	Entity(name string) (Entity, error)
	Entities() []Entity

	Backup(ctx context.Context) (*Snapshot, error)
	Restore(ctx context.Context, snapshot *Snapshot, entities []string, mode RestoreMode) (*RestoreResult, error)

	// RequestRefresh makes the next List of a mirrored entity bypass Cache.
	RequestRefresh(name string) error
	// Warm refreshes Cache from Primary for the named mirrored entities now.
	Warm(ctx context.Context, names ...string) error

	CircuitState() CircuitState
	// Health probes every backend and reports the circuit state.
	Health(ctx context.Context) *HealthReport
	// RetryAfter is the current shared backoff delay for rate-limited callers.
	RetryAfter() time.Duration
	Close() error
}
