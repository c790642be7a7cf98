// Package memstore is an in-process document store usable as either Primary
// or Cache. It keeps sorted-index bookkeeping explicit so range queries on
// un-indexed fields fail the way a real document database does.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/lychee-technology/duplex"
	"github.com/lychee-technology/duplex/internal/criteria"
)

const defaultMaxBatchSize = 400

// Store is a thread-safe map of collections to documents.
type Store struct {
	mu           sync.RWMutex
	collections  map[string]map[string]duplex.Record
	indexed      map[string]bool
	maxBatchSize int
}

// Option configures a Store.
type Option func(*Store)

// WithIndexedFields replaces the set of fields that support range queries.
func WithIndexedFields(fields ...string) Option {
	return func(s *Store) {
		s.indexed = make(map[string]bool, len(fields))
		for _, f := range fields {
			s.indexed[f] = true
		}
	}
}

// WithMaxBatchSize sets the largest accepted batch.
func WithMaxBatchSize(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxBatchSize = n
		}
	}
}

// New creates an empty store indexed on name_normalized.
func New(opts ...Option) *Store {
	s := &Store{
		collections:  make(map[string]map[string]duplex.Record),
		indexed:      map[string]bool{duplex.FieldNameNormalized: true},
		maxBatchSize: defaultMaxBatchSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ duplex.CacheBackend = (*Store)(nil)

func (s *Store) collection(name string) map[string]duplex.Record {
	c, ok := s.collections[name]
	if !ok {
		c = make(map[string]duplex.Record)
		s.collections[name] = c
	}
	return c
}

// NewID allocates a time-ordered id.
func (s *Store) NewID(string) string {
	return uuid.Must(uuid.NewV7()).String()
}

func (s *Store) MaxBatchSize() int {
	return s.maxBatchSize
}

func (s *Store) Create(ctx context.Context, collection string, data duplex.Record) (duplex.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rec := copyRecord(data)
	id := rec.ID()
	if id == "" {
		id = s.NewID(collection)
		rec[duplex.FieldID] = id
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.collection(collection)
	if _, exists := c[id]; exists {
		return nil, fmt.Errorf("%s/%s: document already exists", collection, id)
	}
	c[id] = rec
	return copyRecord(rec), nil
}

func (s *Store) Put(ctx context.Context, collection, id string, data duplex.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if id == "" {
		return duplex.NewValidationError(duplex.FieldID, "id is required")
	}
	rec := copyRecord(data)
	rec[duplex.FieldID] = id
	s.mu.Lock()
	defer s.mu.Unlock()
	s.collection(collection)[id] = rec
	return nil
}

func (s *Store) Update(ctx context.Context, collection, id string, patch duplex.Record) (duplex.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.collection(collection)
	existing, ok := c[id]
	if !ok {
		return nil, duplex.NewNotFoundError(collection, id)
	}
	merged := duplex.Merge(existing, copyRecord(patch))
	merged[duplex.FieldID] = id
	c[id] = merged
	return copyRecord(merged), nil
}

func (s *Store) Delete(ctx context.Context, collection, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.collection(collection)
	if _, ok := c[id]; !ok {
		return duplex.NewNotFoundError(collection, id)
	}
	delete(c, id)
	return nil
}

func (s *Store) Get(ctx context.Context, collection, id string) (duplex.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.collections[collection][id]
	if !ok {
		return nil, duplex.NewNotFoundError(collection, id)
	}
	return copyRecord(rec), nil
}

// List returns every document ordered by id.
func (s *Store) List(ctx context.Context, collection string) ([]duplex.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	c := s.collections[collection]
	out := make([]duplex.Record, 0, len(c))
	for _, rec := range c {
		out = append(out, copyRecord(rec))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out, nil
}

func (s *Store) Filter(ctx context.Context, collection string, c duplex.Criteria) ([]duplex.Record, error) {
	all, err := s.List(ctx, collection)
	if err != nil {
		return nil, err
	}
	return criteria.Apply(all, c, nil)
}

// Query runs a range query. Field and OrderBy must be indexed; an empty
// Field returns the whole collection.
func (s *Store) Query(ctx context.Context, collection string, q duplex.Query) ([]duplex.Record, error) {
	orderBy := q.OrderBy
	if orderBy == "" {
		orderBy = q.Field
	}
	for _, f := range []string{q.Field, orderBy} {
		if f != "" && !s.indexed[f] {
			return nil, fmt.Errorf("%w: %s/%s", duplex.ErrIndexMissing, collection, f)
		}
	}
	all, err := s.List(ctx, collection)
	if err != nil {
		return nil, err
	}

	out := all[:0]
	for _, rec := range all {
		if q.Field != "" && !inRange(rec[q.Field], q.GTE, q.LTE) {
			continue
		}
		out = append(out, rec)
	}
	if orderBy != "" {
		desc := q.SortOrder == duplex.SortOrderDesc
		sort.SliceStable(out, func(i, j int) bool {
			a, _ := out[i][orderBy].(string)
			b, _ := out[j][orderBy].(string)
			if desc {
				return a > b
			}
			return a < b
		})
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func inRange(v any, gte, lte *string) bool {
	s, ok := v.(string)
	if !ok {
		return false
	}
	if gte != nil && s < *gte {
		return false
	}
	if lte != nil && s > *lte {
		return false
	}
	return true
}

// CommitBatch validates every op before applying any of them.
func (s *Store) CommitBatch(ctx context.Context, collection string, ops []duplex.BatchOp) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(ops) > s.maxBatchSize {
		return duplex.NewBatchSizeExceededError(len(ops), s.maxBatchSize)
	}
	for i, op := range ops {
		if op.ID == "" {
			return duplex.NewValidationError(duplex.FieldID, fmt.Sprintf("batch op %d has no id", i))
		}
		if op.Type != duplex.BatchPut && op.Type != duplex.BatchDelete {
			return duplex.NewValidationError("type", fmt.Sprintf("batch op %d has unknown type %q", i, op.Type))
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.collection(collection)
	for _, op := range ops {
		switch op.Type {
		case duplex.BatchPut:
			rec := copyRecord(op.Data)
			rec[duplex.FieldID] = op.ID
			c[op.ID] = rec
		case duplex.BatchDelete:
			delete(c, op.ID)
		}
	}
	return nil
}

// Len returns the number of documents in collection.
func (s *Store) Len(collection string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.collections[collection])
}

func copyRecord(r duplex.Record) duplex.Record {
	out := make(duplex.Record, len(r))
	for k, v := range r {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(value any) any {
	switch v := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			out[k] = deepCopyValue(item)
		}
		return out
	case duplex.Record:
		return copyRecord(v)
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = deepCopyValue(item)
		}
		return out
	default:
		return value
	}
}
