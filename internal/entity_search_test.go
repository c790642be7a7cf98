package internal

import (
	"context"
	"testing"

	"github.com/lychee-technology/duplex"
	"github.com/lychee-technology/duplex/internal/memstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func names(recs []duplex.Record) []string {
	out := make([]string, 0, len(recs))
	for _, rec := range recs {
		name, _ := rec.Name()
		out = append(out, name)
	}
	return out
}

func seedClients(t *testing.T, entity duplex.Entity) {
	t.Helper()
	for _, name := range []string{"Anabela", "Bruno", "Ana Souza", "Ângela", "ana lima"} {
		_, err := entity.Create(context.Background(), duplex.Record{"name": name})
		require.NoError(t, err)
	}
}

func searcher(t *testing.T, entity duplex.Entity) duplex.Searcher {
	t.Helper()
	s, ok := entity.(duplex.Searcher)
	require.True(t, ok, "%s should be searchable", entity.Name())
	return s
}

func TestSearch_PrefixOrderAndLimit(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	clients := fx.entity("clients")
	seedClients(t, clients)

	recs, err := searcher(t, clients).Search(ctx, "Ana", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"ana lima", "Ana Souza", "Anabela"}, names(recs))

	recs, err = searcher(t, clients).Search(ctx, "ANA", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"ana lima", "Ana Souza"}, names(recs))

	recs, err = searcher(t, clients).Search(ctx, "  âng ", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"Ângela"}, names(recs))
}

func TestSearch_ShortTermReturnsEmpty(t *testing.T) {
	fx := newFixture(t)
	clients := fx.entity("clients")
	seedClients(t, clients)

	for _, term := range []string{"", "a", " Â "} {
		recs, err := searcher(t, clients).Search(context.Background(), term, 10)
		require.NoError(t, err)
		assert.NotNil(t, recs)
		assert.Empty(t, recs, term)
	}
	assert.Zero(t, fx.cache.count("query"))
}

func TestSearch_MissingIndexFailsOpen(t *testing.T) {
	fx := newFixture(t, memstore.WithIndexedFields())
	employees := fx.entity("employees")
	_, err := employees.Create(context.Background(), duplex.Record{"name": "Ana"})
	require.NoError(t, err)

	recs, err := searcher(t, employees).Search(context.Background(), "ana", 5)
	require.NoError(t, err)
	assert.Empty(t, recs)
	assert.True(t, fx.breaker.IsCacheEnabled())
}

func TestSearch_CacheErrorsFailOpen(t *testing.T) {
	fx := newFixture(t)
	fx.cache.failOn("query", errDenied)

	recs, err := searcher(t, fx.entity("employees")).Search(context.Background(), "ana", 5)
	require.NoError(t, err)
	assert.Empty(t, recs)
	assert.Equal(t, 1, fx.breaker.State().ConsecutiveAuthFailures)
}

func TestSearch_DisabledCache(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	clients := fx.entity("clients")
	seedClients(t, clients)
	fx.tripBreaker()

	recs, err := searcher(t, clients).Search(ctx, "ana", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"ana lima", "Ana Souza"}, names(recs))

	recs, err = searcher(t, fx.entity("employees")).Search(ctx, "ana", 2)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestSearch_OnlyDeclaredEntities(t *testing.T) {
	fx := newFixture(t)

	_, ok := fx.entity("sales").(duplex.Searcher)
	assert.False(t, ok)
	_, ok = fx.entity("appointments").(duplex.Searcher)
	assert.False(t, ok)
}
