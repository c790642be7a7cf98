package internal

import (
	"context"
	"testing"

	"github.com/lychee-technology/duplex"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompose_OverridesTakePrecedence(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	base := fx.entity("sales")

	var audited []string
	sales := Compose(base, Overrides{
		Create: func(ctx context.Context, base duplex.Entity, data duplex.Record) (*duplex.WriteResult, error) {
			data = data.Clone()
			data["channel"] = "pos"
			res, err := base.CreateResult(ctx, data)
			if err == nil {
				audited = append(audited, res.Record.ID())
			}
			return res, err
		},
	})

	rec, err := sales.Create(ctx, duplex.Record{"total": 30})
	require.NoError(t, err)
	assert.Equal(t, "pos", rec["channel"])
	assert.Equal(t, []string{rec.ID()}, audited)

	// untouched operations delegate to the base handle
	got, err := sales.Get(ctx, rec.ID())
	require.NoError(t, err)
	assert.Equal(t, rec.ID(), got.ID())
	assert.Equal(t, "sales", sales.Name())
	assert.Equal(t, duplex.KindMirrored, sales.Kind())

	ok, err := sales.Delete(ctx, rec.ID())
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCompose_SearchCapability(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	plain := Compose(fx.entity("sales"), Overrides{})
	_, ok := plain.(duplex.Searcher)
	assert.False(t, ok)

	inherited := Compose(fx.entity("clients"), Overrides{})
	_, ok = inherited.(duplex.Searcher)
	assert.True(t, ok)

	added := Compose(fx.entity("sales"), Overrides{
		Search: func(ctx context.Context, base duplex.Entity, term string, limit int) ([]duplex.Record, error) {
			return base.Filter(ctx, duplex.Criteria{"code": term})
		},
	})
	_, err := added.Create(ctx, duplex.Record{"code": "X1"})
	require.NoError(t, err)

	recs, err := added.(duplex.Searcher).Search(ctx, "X1", 10)
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestCompose_ListSourceReadsOwningStore(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	sales := Compose(fx.entity("sales"), Overrides{
		List: func(context.Context, duplex.Entity) ([]duplex.Record, error) {
			return []duplex.Record{}, nil
		},
	})
	_, err := fx.primaryStore.Create(ctx, "sales", duplex.Record{"id": "s1", "total": 10})
	require.NoError(t, err)

	recs, err := listSource(ctx, sales)
	require.NoError(t, err)
	assert.Equal(t, []string{"s1"}, ids(recs))

	fx.primary.failOn("list", errBoom)
	_, err = listSource(ctx, sales)
	assert.Equal(t, duplex.RolePrimary, duplex.BackendOf(err))
}
