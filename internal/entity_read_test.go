package internal

import (
	"context"
	"testing"

	"github.com/lychee-technology/duplex"
	"github.com/lychee-technology/duplex/internal/memstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seed(t *testing.T, store *memstore.Store, collection string, recs ...duplex.Record) {
	t.Helper()
	for _, rec := range recs {
		require.NoError(t, store.Put(context.Background(), collection, rec.ID(), rec))
	}
}

func ids(recs []duplex.Record) []string {
	out := make([]string, 0, len(recs))
	for _, rec := range recs {
		out = append(out, rec.ID())
	}
	return out
}

func TestList_CacheOnlyNeverFails(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	seed(t, fx.cacheStore, "services", duplex.Record{"id": "sv1"}, duplex.Record{"id": "sv2"})

	recs, err := fx.entity("services").List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"sv1", "sv2"}, ids(recs))

	fx.cache.failOn("list", errBoom)
	recs, err = fx.entity("services").List(ctx)
	require.NoError(t, err)
	assert.NotNil(t, recs)
	assert.Empty(t, recs)
}

func TestList_MirroredPrefersCache(t *testing.T) {
	fx := newFixture(t)
	seed(t, fx.cacheStore, "sales", duplex.Record{"id": "cached"})
	seed(t, fx.primaryStore, "sales", duplex.Record{"id": "primary"})

	recs, err := fx.entity("sales").List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"cached"}, ids(recs))
	assert.Zero(t, fx.primary.count("list"))
}

func TestList_MirroredFallsBackAndPopulatesInChunks(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	seed(t, fx.primaryStore, "sales",
		duplex.Record{"id": "s1"}, duplex.Record{"id": "s2"}, duplex.Record{"id": "s3"})

	recs, err := fx.entity("sales").List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"s1", "s2", "s3"}, ids(recs))
	assert.Equal(t, 3, fx.cacheStore.Len("sales"))
	// batch limit of two forces two commits
	assert.Equal(t, 2, fx.cache.count("batch"))

	_, err = fx.entity("sales").List(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, fx.primary.count("list"))
}

func TestList_PopulateFailureIsSwallowed(t *testing.T) {
	fx := newFixture(t)
	seed(t, fx.primaryStore, "sales", duplex.Record{"id": "s1"})
	fx.cache.failOn("batch", errBoom)

	recs, err := fx.entity("sales").List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"s1"}, ids(recs))
	assert.Zero(t, fx.cacheStore.Len("sales"))
}

func TestList_MirroredSurfacesPrimaryErrors(t *testing.T) {
	fx := newFixture(t)
	fx.primary.failOn("list", errDenied)

	_, err := fx.entity("sales").List(context.Background())
	require.Error(t, err)
	assert.True(t, duplex.IsPermission(err))
	assert.Equal(t, duplex.RolePrimary, duplex.BackendOf(err))
	// primary permission failures never trip the cache breaker
	assert.Zero(t, fx.breaker.State().ConsecutiveAuthFailures)
}

func TestList_ForceRefreshReplacesCache(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	seed(t, fx.primaryStore, "sales", duplex.Record{"id": "s1", "total": 20}, duplex.Record{"id": "s2"})
	seed(t, fx.cacheStore, "sales", duplex.Record{"id": "s1", "total": 10}, duplex.Record{"id": "stale"})

	require.NoError(t, fx.factory.refresh.Request("sales"))

	recs, err := fx.entity("sales").List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"s1", "s2"}, ids(recs))

	cached, err := fx.cacheStore.List(ctx, "sales")
	require.NoError(t, err)
	assert.Equal(t, []string{"s1", "s2"}, ids(cached))
	assert.Equal(t, 20, cached[0]["total"])

	assert.False(t, fx.factory.refresh.Pending("sales"))
}

func TestList_ForceRefreshStaysArmedOnPrimaryFailure(t *testing.T) {
	fx := newFixture(t)
	require.NoError(t, fx.factory.refresh.Request("sales"))
	fx.primary.failOnce("list", errBoom, 1)

	_, err := fx.entity("sales").List(context.Background())
	require.Error(t, err)
	assert.True(t, fx.factory.refresh.Pending("sales"))

	_, err = fx.entity("sales").List(context.Background())
	require.NoError(t, err)
	assert.False(t, fx.factory.refresh.Pending("sales"))
}

func TestFilter_MembershipScenario(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	appointments := fx.entity("appointments")
	for _, status := range []string{"ativo", "pendente", "cancelado", "ativo", "finalizado"} {
		_, err := appointments.Create(ctx, duplex.Record{"status": status})
		require.NoError(t, err)
	}

	recs, err := appointments.Filter(ctx, duplex.Criteria{"status": []any{"ativo", "pendente"}})
	require.NoError(t, err)
	assert.Len(t, recs, 3)
	for _, rec := range recs {
		assert.Contains(t, []string{"ativo", "pendente"}, rec["status"])
	}
}

func TestFilter_DateFieldsCompareOnDay(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	seed(t, fx.cacheStore, "appointments",
		duplex.Record{"id": "a1", "date": "2024-06-01T10:00:00Z", "employee_id": "e1"},
		duplex.Record{"id": "a2", "date": "2024-06-01T16:30:00Z", "employee_id": "e2"},
		duplex.Record{"id": "a3", "date": "2024-06-02T09:00:00Z", "employee_id": "e1"},
	)

	recs, err := fx.entity("appointments").Filter(ctx, duplex.Criteria{"date": "2024-06-01T00:00:00Z"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a1", "a2"}, ids(recs))

	recs, err = fx.entity("appointments").Filter(ctx, duplex.Criteria{"date": "2024-06-01", "employee_id": "e1"}, duplex.WithFresh())
	require.NoError(t, err)
	assert.Equal(t, []string{"a1"}, ids(recs))
	assert.Equal(t, 1, fx.cache.count("query"))
}

func TestFilter_MirroredFallsBackOnEmptyCacheMatch(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	seed(t, fx.cacheStore, "sales", duplex.Record{"id": "s1", "status": "open"})
	seed(t, fx.primaryStore, "sales",
		duplex.Record{"id": "s1", "status": "open"},
		duplex.Record{"id": "s2", "status": "paid"},
	)

	recs, err := fx.entity("sales").Filter(ctx, duplex.Criteria{"status": "open"})
	require.NoError(t, err)
	assert.Equal(t, []string{"s1"}, ids(recs))
	assert.Zero(t, fx.primary.count("filter"))

	recs, err = fx.entity("sales").Filter(ctx, duplex.Criteria{"status": "paid"})
	require.NoError(t, err)
	assert.Equal(t, []string{"s2"}, ids(recs))
	assert.Equal(t, 1, fx.primary.count("filter"))
	// filter results are not written back
	assert.Equal(t, 1, fx.cacheStore.Len("sales"))
}

func TestFilter_InvalidCriteria(t *testing.T) {
	fx := newFixture(t)

	_, err := fx.entity("sales").Filter(context.Background(), duplex.Criteria{"": "x"})
	require.Error(t, err)
	assert.True(t, duplex.IsValidation(err))
}

func TestGet_CacheOnly(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	seed(t, fx.cacheStore, "products", duplex.Record{"id": "p1", "name": "Shampoo"})

	rec, err := fx.entity("products").Get(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "Shampoo", rec["name"])

	rec, err = fx.entity("products").Get(ctx, "unknown")
	require.NoError(t, err)
	assert.Nil(t, rec)

	fx.cache.failOn("get", errDenied)
	rec, err = fx.entity("products").Get(ctx, "p1")
	require.NoError(t, err)
	assert.Nil(t, rec)

	fx.cache.failOn("get", errBoom)
	_, err = fx.entity("products").Get(ctx, "p1")
	require.Error(t, err)
	assert.True(t, duplex.IsBackend(err))
}

func TestGet_MirroredReadThrough(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	seed(t, fx.primaryStore, "clients", duplex.Record{"id": "c1", "name": "Ana"})

	rec, err := fx.entity("clients").Get(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "Ana", rec["name"])
	assert.Equal(t, 1, fx.cacheStore.Len("clients"))

	rec, err = fx.entity("clients").Get(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "Ana", rec["name"])
	assert.Equal(t, 1, fx.primary.count("get"))

	rec, err = fx.entity("clients").Get(ctx, "nobody")
	require.NoError(t, err)
	assert.Nil(t, rec)

	_, err = fx.entity("clients").Get(ctx, "")
	assert.True(t, duplex.IsValidation(err))
}

func TestBreaker_DisablesCacheAfterRepeatedDenials(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	seed(t, fx.primaryStore, "clients", duplex.Record{"id": "c1", "name": "Ana"})
	fx.cache.failOn("get", errDenied)

	products := fx.entity("products")
	for i := 0; i < 5; i++ {
		rec, err := products.Get(ctx, "p1")
		require.NoError(t, err)
		assert.Nil(t, rec)
	}
	require.False(t, fx.breaker.IsCacheEnabled())

	// cache is no longer consulted
	_, err := products.Get(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 5, fx.cache.count("get"))

	recs, err := fx.entity("clients").List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"c1"}, ids(recs))
	assert.Zero(t, fx.cache.count("list"))
	assert.Zero(t, fx.cache.count("batch"))

	res, err := fx.entity("sales").CreateResult(ctx, duplex.Record{"total": 1})
	require.NoError(t, err)
	assert.Equal(t, duplex.MirrorSkipped, res.CacheMirror)

	recs, err = fx.entity("appointments").List(ctx)
	require.NoError(t, err)
	assert.Empty(t, recs)
}
