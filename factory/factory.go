package factory

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lychee-technology/duplex"
	"github.com/lychee-technology/duplex/internal"
	"github.com/lychee-technology/duplex/internal/duckstore"
	"github.com/lychee-technology/duplex/internal/flagstore"
	"github.com/lychee-technology/duplex/internal/memstore"
	"github.com/lychee-technology/duplex/internal/pgstore"
	"github.com/lychee-technology/duplex/internal/snapshotio"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Option tunes NewServiceWithConfig.
type Option func(*options)

type options struct {
	registerer prometheus.Registerer
	primary    duplex.Backend
	cache      duplex.CacheBackend
}

// WithRegisterer registers the mirror metrics with reg instead of the
// default prometheus registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// WithPrimary uses an already built Primary backend and ignores cfg.Primary.
func WithPrimary(b duplex.Backend) Option {
	return func(o *options) { o.primary = b }
}

// WithCache uses an already built Cache backend and ignores cfg.Cache.
func WithCache(b duplex.CacheBackend) Option {
	return func(o *options) { o.cache = b }
}

// NewServiceWithConfig builds the entity service described by config. This is
// the primary way for external projects to create a Service instance.
//
// Usage:
//
//	import (
//	    "github.com/lychee-technology/duplex"
//	    "github.com/lychee-technology/duplex/factory"
//	)
//
//	config, err := duplex.LoadConfig("duplex.yaml")
//	if err != nil {
//	    // handle error
//	}
//	svc, err := factory.NewServiceWithConfig(ctx, config)
//	if err != nil {
//	    // handle error
//	}
//	defer svc.Close()
//
//	clients, _ := svc.Entity("clients")
//	rec, err := clients.Create(ctx, duplex.Record{"name": "Ana Souza"})
func NewServiceWithConfig(ctx context.Context, config *duplex.Config, opts ...Option) (svc duplex.Service, err error) {
	if config == nil {
		config = duplex.DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	o := options{registerer: prometheus.DefaultRegisterer}
	for _, opt := range opts {
		opt(&o)
	}

	var closers []func() error
	defer func() {
		if err == nil {
			return
		}
		for i := len(closers) - 1; i >= 0; i-- {
			if cerr := closers[i](); cerr != nil {
				zap.S().Warnw("failed to release resource after setup error", "error", cerr)
			}
		}
	}()

	var pool *pgxpool.Pool
	var probes []internal.HealthProbe
	primary := o.primary
	if primary == nil {
		switch config.Primary.Driver {
		case "postgres":
			pool, err = pgstore.Connect(ctx, config.Primary)
			if err != nil {
				return nil, fmt.Errorf("connect primary: %w", err)
			}
			closers = append(closers, func() error { pool.Close(); return nil })
			probes = append(probes, internal.PostgresProbe("primary-postgres", pool))
			store := pgstore.New(pool, config.Primary.Table, config.Cache.MaxBatchSize)
			if err = store.EnsureSchema(ctx); err != nil {
				return nil, err
			}
			primary = store
		default:
			primary = memstore.New()
		}
	}

	cache := o.cache
	if cache == nil {
		cache, err = openCache(ctx, config, pool, &closers, &probes)
		if err != nil {
			return nil, err
		}
	}

	flags, err := openFlags(config.Flags, &closers)
	if err != nil {
		return nil, err
	}

	if config.Snapshot.S3Endpoint != "" {
		probes = append(probes, internal.S3Probe(config.Snapshot.S3Endpoint))
	}

	if config.Metrics.Enabled {
		if _, err = internal.InstallMetrics(config.Metrics.Namespace, o.registerer); err != nil {
			return nil, fmt.Errorf("install metrics: %w", err)
		}
	}

	service, err := internal.NewService(internal.ServiceOptions{
		Config:    config,
		Primary:   primary,
		Cache:     cache,
		Flags:     flags,
		Overrides: defaultOverrides(),
		Closers:   closers,
		Probes:    probes,
	})
	if err != nil {
		return nil, err
	}
	zap.S().Infow("duplex service created",
		"primary", config.Primary.Driver, "cache", config.Cache.Driver, "persistentFlags", config.Flags.Dir != "")
	return service, nil
}

func openCache(ctx context.Context, config *duplex.Config, pool *pgxpool.Pool, closers *[]func() error, probes *[]internal.HealthProbe) (duplex.CacheBackend, error) {
	switch config.Cache.Driver {
	case "duckdb":
		store, err := duckstore.Open(ctx, config.Cache.DuckDBPath, config.Cache.Table, config.Cache.MaxBatchSize)
		if err != nil {
			return nil, fmt.Errorf("open cache: %w", err)
		}
		*closers = append(*closers, store.Close)
		*probes = append(*probes, internal.HealthProbe{Name: "cache-duckdb", Check: store.HealthCheck})
		return store, nil
	case "postgres":
		if pool == nil {
			return nil, &duplex.ConfigError{Field: "cache.driver", Message: "postgres cache requires a postgres primary connection"}
		}
		store := pgstore.New(pool, config.Cache.Table, config.Cache.MaxBatchSize)
		if err := store.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		return store, nil
	default:
		return memstore.New(memstore.WithMaxBatchSize(config.Cache.MaxBatchSize)), nil
	}
}

func openFlags(cfg duplex.FlagsConfig, closers *[]func() error) (duplex.FlagStore, error) {
	if cfg.Dir == "" {
		return flagstore.NewMemoryStore(), nil
	}
	store, err := flagstore.OpenPebble(cfg.Dir)
	if err != nil {
		return nil, err
	}
	*closers = append(*closers, store.Close)
	return store, nil
}

// InitSchema creates the document tables of every Postgres backend in config.
func InitSchema(ctx context.Context, config *duplex.Config) error {
	if err := config.Validate(); err != nil {
		return err
	}
	if config.Cache.Driver == "duckdb" {
		store, err := duckstore.Open(ctx, config.Cache.DuckDBPath, config.Cache.Table, config.Cache.MaxBatchSize)
		if err != nil {
			return err
		}
		if err := store.Close(); err != nil {
			return err
		}
	}
	if config.Primary.Driver != "postgres" {
		return nil
	}
	pool, err := pgstore.Connect(ctx, config.Primary)
	if err != nil {
		return fmt.Errorf("connect primary: %w", err)
	}
	defer pool.Close()

	tables := []string{config.Primary.Table}
	if config.Cache.Driver == "postgres" {
		tables = append(tables, config.Cache.Table)
	}
	for _, table := range tables {
		if err := pgstore.New(pool, table, config.Cache.MaxBatchSize).EnsureSchema(ctx); err != nil {
			return err
		}
		zap.S().Infow("document table ready", "table", table)
	}
	return nil
}

// OpenSnapshotStore resolves a snapshot location into a store and the key to
// use with it. "s3://bucket/key" targets S3 with the snapshot settings of
// config; anything else is a local file path.
func OpenSnapshotStore(ctx context.Context, config *duplex.Config, location string) (snapshotio.Store, string, error) {
	if bucket, key, ok := snapshotio.ParseLocation(location); ok {
		if key == "" {
			return nil, "", duplex.NewValidationError("location", "s3 location must include an object key")
		}
		cfg := config.Snapshot
		cfg.S3Bucket = bucket
		store, err := snapshotio.NewS3Store(ctx, cfg)
		if err != nil {
			return nil, "", err
		}
		return store.WithBucket(bucket), key, nil
	}
	if location == "" {
		return nil, "", duplex.NewValidationError("location", "snapshot location is required")
	}
	return snapshotio.FileStore{Dir: filepath.Dir(location)}, filepath.Base(location), nil
}
