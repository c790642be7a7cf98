package duckstore

import (
	"context"
	"errors"
	"testing"

	"github.com/lychee-technology/duplex"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), "", "cache_documents", 3)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_PutGetUpdateDelete(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.Put(ctx, "appointments", "a1", duplex.Record{"client_id": "c1", "price": 50.0}))

	rec, err := s.Get(ctx, "appointments", "a1")
	require.NoError(t, err)
	assert.Equal(t, "a1", rec.ID())
	assert.Equal(t, "c1", rec["client_id"])

	updated, err := s.Update(ctx, "appointments", "a1", duplex.Record{"status": "done"})
	require.NoError(t, err)
	assert.Equal(t, "c1", updated["client_id"])
	assert.Equal(t, "done", updated["status"])

	again, err := s.Get(ctx, "appointments", "a1")
	require.NoError(t, err)
	assert.Equal(t, "done", again["status"])
	assert.EqualValues(t, 50, again["price"])

	require.NoError(t, s.Delete(ctx, "appointments", "a1"))
	_, err = s.Get(ctx, "appointments", "a1")
	assert.True(t, duplex.IsNotFound(err))
	assert.True(t, duplex.IsNotFound(s.Delete(ctx, "appointments", "a1")))

	_, err = s.Update(ctx, "appointments", "a1", duplex.Record{"x": 1})
	assert.True(t, duplex.IsNotFound(err))
}

func TestStore_CollectionsAreIsolated(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.Put(ctx, "clients", "x", duplex.Record{"v": "client"}))
	require.NoError(t, s.Put(ctx, "employees", "x", duplex.Record{"v": "employee"}))

	recs, err := s.List(ctx, "clients")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "client", recs[0]["v"])
}

func TestStore_PrefixQuery(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	for id, name := range map[string]string{"1": "ana", "2": "anabela", "3": "bruno", "4": "anna"} {
		require.NoError(t, s.Put(ctx, "clients", id, duplex.Record{duplex.FieldNameNormalized: name}))
	}
	require.NoError(t, s.Put(ctx, "clients", "5", duplex.Record{"phone": "no name"}))

	lo, hi := "ana", "ana"
	recs, err := s.Query(ctx, "clients", duplex.Query{
		Field:     duplex.FieldNameNormalized,
		GTE:       &lo,
		LTE:       &hi,
		SortOrder: duplex.SortOrderAsc,
		Limit:     10,
	})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "1", recs[0].ID())
	assert.Equal(t, "2", recs[1].ID())

	_, err = s.Query(ctx, "clients", duplex.Query{Field: "phone", GTE: &lo})
	assert.True(t, errors.Is(err, duplex.ErrIndexMissing))
}

func TestStore_CommitBatch(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	require.NoError(t, s.Put(ctx, "clients", "old", duplex.Record{}))

	err := s.CommitBatch(ctx, "clients", []duplex.BatchOp{
		{Type: duplex.BatchDelete, ID: "old"},
		{Type: duplex.BatchPut, ID: "a", Data: duplex.Record{"name": "A"}},
		{Type: duplex.BatchPut, ID: "b", Data: duplex.Record{"name": "B"}},
	})
	require.NoError(t, err)

	recs, err := s.List(ctx, "clients")
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "a", recs[0].ID())

	// a failing op rolls the whole batch back
	err = s.CommitBatch(ctx, "clients", []duplex.BatchOp{
		{Type: duplex.BatchDelete, ID: "a"},
		{Type: "bogus", ID: "b"},
	})
	assert.True(t, duplex.IsValidation(err))
	recs, err = s.List(ctx, "clients")
	require.NoError(t, err)
	assert.Len(t, recs, 2)

	err = s.CommitBatch(ctx, "clients", make([]duplex.BatchOp, 4))
	var de *duplex.Error
	require.ErrorAs(t, err, &de)
	assert.Equal(t, duplex.ErrCodeBatchSizeExceeded, de.Code)
}

func TestStore_FilterDateAndMembership(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	require.NoError(t, s.Put(ctx, "appointments", "1", duplex.Record{"date": "2024-06-01T10:00:00Z", "status": "ativo"}))
	require.NoError(t, s.Put(ctx, "appointments", "2", duplex.Record{"date": "2024-06-01T15:00:00Z", "status": "cancelado"}))
	require.NoError(t, s.Put(ctx, "appointments", "3", duplex.Record{"date": "2024-06-02T10:00:00Z", "status": "ativo"}))

	recs, err := s.Filter(ctx, "appointments", duplex.Criteria{"date": "2024-06-01", "status": []string{"ativo", "pendente"}})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "1", recs[0].ID())
}
