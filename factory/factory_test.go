package factory

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/lychee-technology/duplex"
	"github.com/lychee-technology/duplex/internal"
	"github.com/lychee-technology/duplex/internal/flagstore"
	"github.com/lychee-technology/duplex/internal/memstore"
	"github.com/lychee-technology/duplex/internal/snapshotio"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func memoryConfig() *duplex.Config {
	cfg := duplex.DefaultConfig()
	cfg.Metrics.Enabled = false
	return cfg
}

func TestNewServiceWithConfig_Memory(t *testing.T) {
	ctx := context.Background()
	svc, err := NewServiceWithConfig(ctx, memoryConfig())
	require.NoError(t, err)
	defer svc.Close()

	assert.Len(t, svc.Entities(), len(duplex.DefaultCacheOnlyEntities)+len(duplex.DefaultMirroredEntities))
	assert.True(t, svc.CircuitState().CacheEnabled)

	clients, err := svc.Entity("clients")
	require.NoError(t, err)
	assert.Equal(t, duplex.KindMirrored, clients.Kind())

	rec, err := clients.Create(ctx, duplex.Record{"name": "Ana Souza"})
	require.NoError(t, err)
	require.NotEmpty(t, rec.ID())

	got, err := clients.Get(ctx, rec.ID())
	require.NoError(t, err)
	assert.Equal(t, "Ana Souza", got["name"])

	searcher, ok := clients.(duplex.Searcher)
	require.True(t, ok)
	hits, err := searcher.Search(ctx, "ana", 0)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, rec.ID(), hits[0].ID())
}

func TestNewServiceWithConfig_EntityDefaults(t *testing.T) {
	ctx := context.Background()
	svc, err := NewServiceWithConfig(ctx, memoryConfig())
	require.NoError(t, err)
	defer svc.Close()

	packages, err := svc.Entity("client_packages")
	require.NoError(t, err)
	pkg, err := packages.Create(ctx, duplex.Record{"client_id": "c1", "total_sessions": 10})
	require.NoError(t, err)
	assert.Equal(t, 0, pkg["sessions_used"])
	assert.Equal(t, 10, pkg["sessions_remaining"])
	assert.Equal(t, "active", pkg["status"])

	stored, err := packages.Get(ctx, pkg.ID())
	require.NoError(t, err)
	assert.Equal(t, 10, stored["sessions_remaining"])

	giftCards, err := svc.Entity("gift_cards")
	require.NoError(t, err)
	card, err := giftCards.Create(ctx, duplex.Record{"value": 150.0, "balance": 20.0})
	require.NoError(t, err)
	assert.Equal(t, 20.0, card["balance"])

	card, err = giftCards.Create(ctx, duplex.Record{"value": 150.0})
	require.NoError(t, err)
	assert.Equal(t, 150.0, card["balance"])

	clients, err := svc.Entity("clients")
	require.NoError(t, err)
	client, err := clients.Create(ctx, duplex.Record{"name": "Ana"})
	require.NoError(t, err)
	assert.NotContains(t, client, "status")
}

func TestNewServiceWithConfig_NilConfigUsesDefaults(t *testing.T) {
	reg := prometheus.NewRegistry()
	t.Cleanup(func() { internal.RegisterTelemetryEmitter(nil) })

	svc, err := NewServiceWithConfig(context.Background(), nil, WithRegisterer(reg))
	require.NoError(t, err)
	defer svc.Close()

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "duplex_mirror_"+internal.MetricCircuitEnabled)
}

func TestNewServiceWithConfig_DuckDBCache(t *testing.T) {
	ctx := context.Background()
	cfg := memoryConfig()
	cfg.Cache.Driver = "duckdb"
	cfg.Cache.DuckDBPath = ""

	svc, err := NewServiceWithConfig(ctx, cfg)
	require.NoError(t, err)
	defer svc.Close()

	appointments, err := svc.Entity("appointments")
	require.NoError(t, err)
	assert.Equal(t, duplex.KindCacheOnly, appointments.Kind())

	_, err = appointments.Create(ctx, duplex.Record{"date": "2024-06-01", "client": "Ana"})
	require.NoError(t, err)
	_, err = appointments.Create(ctx, duplex.Record{"date": "2024-06-02", "client": "Bruno"})
	require.NoError(t, err)

	all, err := appointments.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	day, err := appointments.Filter(ctx, duplex.Criteria{"date": "2024-06-01T09:30:00Z"})
	require.NoError(t, err)
	require.Len(t, day, 1)
	assert.Equal(t, "Ana", day[0]["client"])

	report := svc.Health(ctx)
	assert.True(t, report.Healthy)
	assert.Equal(t, "ok", report.Checks["cache-duckdb"])
}

func TestNewServiceWithConfig_PersistentFlags(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "flags")
	cfg := memoryConfig()
	cfg.Flags.Dir = dir

	svc, err := NewServiceWithConfig(context.Background(), cfg)
	require.NoError(t, err)
	require.NoError(t, svc.RequestRefresh("clients"))
	require.NoError(t, svc.Close())

	store, err := flagstore.OpenPebble(dir)
	require.NoError(t, err)
	defer store.Close()

	_, ok, err := store.GetFlag(internal.FlagKey("clients"))
	require.NoError(t, err)
	assert.True(t, ok, "refresh request must survive a restart")
}

func TestNewServiceWithConfig_InjectedCache(t *testing.T) {
	ctx := context.Background()
	cache := memstore.New()

	svc, err := NewServiceWithConfig(ctx, memoryConfig(), WithCache(cache), WithPrimary(memstore.New()))
	require.NoError(t, err)
	defer svc.Close()

	products, err := svc.Entity("products")
	require.NoError(t, err)
	_, err = products.Create(ctx, duplex.Record{"name": "Shampoo"})
	require.NoError(t, err)
	assert.Equal(t, 1, cache.Len("products"))
}

func TestNewServiceWithConfig_InvalidConfig(t *testing.T) {
	tests := []struct {
		name  string
		edit  func(*duplex.Config)
		field string
	}{
		{"unknown cache driver", func(c *duplex.Config) { c.Cache.Driver = "redis" }, "cache.driver"},
		{"postgres cache without postgres primary", func(c *duplex.Config) { c.Cache.Driver = "postgres" }, "cache.driver"},
		{"zero threshold", func(c *duplex.Config) { c.Circuit.Threshold = 0 }, "circuit.threshold"},
		{"bad snapshot format", func(c *duplex.Config) { c.Snapshot.Format = "xml" }, "snapshot.format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := memoryConfig()
			tt.edit(cfg)
			_, err := NewServiceWithConfig(context.Background(), cfg)
			require.Error(t, err)
			var cfgErr *duplex.ConfigError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tt.field, cfgErr.Field)
		})
	}
}

func TestInitSchema_NothingToDoForMemory(t *testing.T) {
	require.NoError(t, InitSchema(context.Background(), memoryConfig()))
}

func TestOpenSnapshotStore_File(t *testing.T) {
	ctx := context.Background()
	location := filepath.Join(t.TempDir(), "nightly", "snapshot.cbor")

	store, key, err := OpenSnapshotStore(ctx, memoryConfig(), location)
	require.NoError(t, err)
	assert.Equal(t, "snapshot.cbor", key)

	snap := &duplex.Snapshot{
		Metadata: duplex.SnapshotMetadata{
			Timestamp:     time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
			Version:       "1.0",
			TotalEntities: 1,
			TotalRecords:  1,
		},
		Data: map[string][]duplex.Record{
			"clients": {{"id": "c1", "name": "Ana"}},
		},
	}
	require.NoError(t, snapshotio.Write(ctx, store, key, snap, snapshotio.FormatJSON))
	assert.FileExists(t, location)

	got, err := snapshotio.Read(ctx, store, key)
	require.NoError(t, err)
	require.Len(t, got.Data["clients"], 1)
	assert.Equal(t, "Ana", got.Data["clients"][0]["name"])
}

func TestOpenSnapshotStore_Invalid(t *testing.T) {
	ctx := context.Background()

	_, _, err := OpenSnapshotStore(ctx, memoryConfig(), "")
	assert.True(t, duplex.IsValidation(err))

	_, _, err = OpenSnapshotStore(ctx, memoryConfig(), "s3://bucket-only")
	assert.True(t, duplex.IsValidation(err))
}
