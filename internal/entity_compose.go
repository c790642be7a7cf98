package internal

import (
	"context"

	"github.com/lychee-technology/duplex"
)

// Overrides replaces individual operations of a base entity. Every override
// receives the base handle so it can delegate. Nil fields keep the base
// behavior.
type Overrides struct {
	Create func(ctx context.Context, base duplex.Entity, data duplex.Record) (*duplex.WriteResult, error)
	Update func(ctx context.Context, base duplex.Entity, id string, data duplex.Record) (*duplex.WriteResult, error)
	Delete func(ctx context.Context, base duplex.Entity, id string) (*duplex.WriteResult, error)
	List   func(ctx context.Context, base duplex.Entity) ([]duplex.Record, error)
	Filter func(ctx context.Context, base duplex.Entity, c duplex.Criteria, opts ...duplex.FilterOption) ([]duplex.Record, error)
	Get    func(ctx context.Context, base duplex.Entity, id string) (duplex.Record, error)
	// Search adds prefix search to entities that lack it or replaces it.
	Search func(ctx context.Context, base duplex.Entity, term string, limit int) ([]duplex.Record, error)
}

// Compose merges o over base. The result implements duplex.Searcher when base
// does or when o.Search is set.
func Compose(base duplex.Entity, o Overrides) duplex.Entity {
	c := &composedEntity{base: base, o: o}
	if _, ok := base.(duplex.Searcher); ok || o.Search != nil {
		return &composedSearchable{composedEntity: c}
	}
	return c
}

type composedEntity struct {
	base duplex.Entity
	o    Overrides
}

type composedSearchable struct {
	*composedEntity
}

var (
	_ duplex.Entity   = (*composedEntity)(nil)
	_ duplex.Searcher = (*composedSearchable)(nil)
	_ sourceLister    = (*composedEntity)(nil)
)

func (c *composedEntity) Name() string            { return c.base.Name() }
func (c *composedEntity) Kind() duplex.EntityKind { return c.base.Kind() }

func (c *composedEntity) Create(ctx context.Context, data duplex.Record) (duplex.Record, error) {
	res, err := c.CreateResult(ctx, data)
	if err != nil {
		return nil, err
	}
	return res.Record, nil
}

func (c *composedEntity) Update(ctx context.Context, id string, data duplex.Record) (duplex.Record, error) {
	res, err := c.UpdateResult(ctx, id, data)
	if err != nil {
		return nil, err
	}
	return res.Record, nil
}

func (c *composedEntity) Delete(ctx context.Context, id string) (bool, error) {
	if _, err := c.DeleteResult(ctx, id); err != nil {
		return false, err
	}
	return true, nil
}

func (c *composedEntity) CreateResult(ctx context.Context, data duplex.Record) (*duplex.WriteResult, error) {
	if c.o.Create != nil {
		return c.o.Create(ctx, c.base, data)
	}
	return c.base.CreateResult(ctx, data)
}

func (c *composedEntity) UpdateResult(ctx context.Context, id string, data duplex.Record) (*duplex.WriteResult, error) {
	if c.o.Update != nil {
		return c.o.Update(ctx, c.base, id, data)
	}
	return c.base.UpdateResult(ctx, id, data)
}

func (c *composedEntity) DeleteResult(ctx context.Context, id string) (*duplex.WriteResult, error) {
	if c.o.Delete != nil {
		return c.o.Delete(ctx, c.base, id)
	}
	return c.base.DeleteResult(ctx, id)
}

func (c *composedEntity) List(ctx context.Context) ([]duplex.Record, error) {
	if c.o.List != nil {
		return c.o.List(ctx, c.base)
	}
	return c.base.List(ctx)
}

func (c *composedEntity) ListSource(ctx context.Context) ([]duplex.Record, error) {
	return listSource(ctx, c.base)
}

func (c *composedEntity) Filter(ctx context.Context, cr duplex.Criteria, opts ...duplex.FilterOption) ([]duplex.Record, error) {
	if c.o.Filter != nil {
		return c.o.Filter(ctx, c.base, cr, opts...)
	}
	return c.base.Filter(ctx, cr, opts...)
}

func (c *composedEntity) Get(ctx context.Context, id string) (duplex.Record, error) {
	if c.o.Get != nil {
		return c.o.Get(ctx, c.base, id)
	}
	return c.base.Get(ctx, id)
}

func (c *composedSearchable) Search(ctx context.Context, term string, limit int) ([]duplex.Record, error) {
	if c.o.Search != nil {
		return c.o.Search(ctx, c.base, term, limit)
	}
	return c.base.(duplex.Searcher).Search(ctx, term, limit)
}
