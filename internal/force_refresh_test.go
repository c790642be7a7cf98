package internal

import (
	"errors"
	"testing"

	"github.com/lychee-technology/duplex"
	"github.com/lychee-technology/duplex/internal/flagstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type brokenFlags struct {
	*flagstore.MemoryStore
	clearErr error
}

func (b *brokenFlags) ClearFlag(key string) error {
	if b.clearErr != nil {
		return b.clearErr
	}
	return b.MemoryStore.ClearFlag(key)
}

func TestForceRefresh_OneShot(t *testing.T) {
	store := flagstore.NewMemoryStore()
	fr := NewForceRefresh(store)

	assert.False(t, fr.Consume("clients"))
	require.NoError(t, fr.Request("clients"))

	v, ok, err := store.GetFlag("force_refresh_clients")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "true", v)

	assert.True(t, fr.Pending("clients"))
	assert.True(t, fr.Consume("clients"))
	assert.False(t, fr.Consume("clients"))
	assert.False(t, fr.Pending("sales"))
}

func TestForceRefresh_NoStore(t *testing.T) {
	fr := NewForceRefresh(nil)

	err := fr.Request("clients")
	var de *duplex.Error
	require.ErrorAs(t, err, &de)
	assert.Equal(t, duplex.ErrorTypeConfig, de.Type)
	assert.False(t, fr.Consume("clients"))
}

func TestForceRefresh_ClearFailureCountsAsUnset(t *testing.T) {
	store := &brokenFlags{MemoryStore: flagstore.NewMemoryStore(), clearErr: errors.New("disk full")}
	fr := NewForceRefresh(store)
	require.NoError(t, fr.Request("clients"))

	assert.False(t, fr.Consume("clients"))
	assert.True(t, fr.Pending("clients"))
}
