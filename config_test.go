package duplex

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if config.Primary.Driver != "memory" {
		t.Errorf("Expected primary driver to be 'memory', got %s", config.Primary.Driver)
	}
	if config.Primary.Port != 5432 {
		t.Errorf("Expected primary port to be 5432, got %d", config.Primary.Port)
	}
	if config.Cache.MaxBatchSize != 400 {
		t.Errorf("Expected max batch size to be 400, got %d", config.Cache.MaxBatchSize)
	}

	// Circuit breaker defaults
	if config.Circuit.Threshold != 5 {
		t.Errorf("Expected circuit threshold to be 5, got %d", config.Circuit.Threshold)
	}
	if config.Circuit.Cooldown != 5*time.Minute {
		t.Errorf("Expected circuit cooldown to be 5m, got %v", config.Circuit.Cooldown)
	}

	// Backup pacing defaults
	if config.Backup.InterCallDelay != 500*time.Millisecond {
		t.Errorf("Expected inter-call delay to be 500ms, got %v", config.Backup.InterCallDelay)
	}
	if config.Backup.WriteDelay != 100*time.Millisecond {
		t.Errorf("Expected write delay to be 100ms, got %v", config.Backup.WriteDelay)
	}
	if config.Backup.Version != "1.0" {
		t.Errorf("Expected snapshot version to be 1.0, got %s", config.Backup.Version)
	}

	if config.Search.DefaultLimit != 20 {
		t.Errorf("Expected search limit to be 20, got %d", config.Search.DefaultLimit)
	}

	if err := config.Validate(); err != nil {
		t.Errorf("Expected default config to be valid, got: %v", err)
	}
}

func TestDefaultEntities(t *testing.T) {
	config := DefaultConfig()

	want := len(DefaultCacheOnlyEntities) + len(DefaultMirroredEntities)
	if len(config.Entities) != want {
		t.Fatalf("Expected %d entities, got %d", want, len(config.Entities))
	}

	byName := make(map[string]EntityPolicy, len(config.Entities))
	for _, e := range config.Entities {
		byName[e.Name] = e
	}
	if byName["appointments"].Kind() != KindCacheOnly {
		t.Error("Expected appointments to be cache-only")
	}
	if byName["clients"].Kind() != KindMirrored {
		t.Error("Expected clients to be mirrored")
	}
	if !byName["clients"].Searchable {
		t.Error("Expected clients to be searchable")
	}
	if byName["sales"].Searchable {
		t.Error("Expected sales not to be searchable")
	}
}

func TestConfigValidationDetailed(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(*Config)
		expectError bool
		errorField  string
	}{
		{
			name:   "valid config",
			mutate: func(*Config) {},
		},
		{
			name:        "unknown primary driver",
			mutate:      func(c *Config) { c.Primary.Driver = "mysql" },
			expectError: true,
			errorField:  "primary.driver",
		},
		{
			name: "postgres without host",
			mutate: func(c *Config) {
				c.Primary.Driver = "postgres"
				c.Primary.Host = ""
			},
			expectError: true,
			errorField:  "primary.host",
		},
		{
			name: "postgres with invalid max connections",
			mutate: func(c *Config) {
				c.Primary.Driver = "postgres"
				c.Primary.MaxConnections = 0
			},
			expectError: true,
			errorField:  "primary.maxConnections",
		},
		{
			name:        "postgres cache on memory primary",
			mutate:      func(c *Config) { c.Cache.Driver = "postgres" },
			expectError: true,
			errorField:  "cache.driver",
		},
		{
			name:        "batch size above limit",
			mutate:      func(c *Config) { c.Cache.MaxBatchSize = 501 },
			expectError: true,
			errorField:  "cache.maxBatchSize",
		},
		{
			name:        "zero cooldown",
			mutate:      func(c *Config) { c.Circuit.Cooldown = 0 },
			expectError: true,
			errorField:  "circuit.cooldown",
		},
		{
			name:        "max delay below initial delay",
			mutate:      func(c *Config) { c.Throttle.MaxDelay = time.Millisecond },
			expectError: true,
			errorField:  "throttle.maxDelay",
		},
		{
			name:        "invalid search limit",
			mutate:      func(c *Config) { c.Search.DefaultLimit = 0 },
			expectError: true,
			errorField:  "search.defaultLimit",
		},
		{
			name:        "duplicate entity",
			mutate:      func(c *Config) { c.Entities = append(c.Entities, EntityPolicy{Name: "clients"}) },
			expectError: true,
			errorField:  "entities[14].name",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			tt.mutate(config)
			err := config.Validate()
			if tt.expectError {
				if err == nil {
					t.Error("Expected validation error but got none")
				} else if configErr, ok := err.(*ConfigError); ok {
					if configErr.Field != tt.errorField {
						t.Errorf("Expected error field %s, got %s", tt.errorField, configErr.Field)
					}
				} else {
					t.Errorf("Expected ConfigError, got %T", err)
				}
			} else if err != nil {
				t.Errorf("Expected no validation error but got: %v", err)
			}
		})
	}
}

func TestConfigError(t *testing.T) {
	err := &ConfigError{
		Field:   "test.field",
		Message: "test message",
	}

	expected := "config validation error for field 'test.field': test message"
	if err.Error() != expected {
		t.Errorf("Expected error message %s, got %s", expected, err.Error())
	}
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "duplex.yaml")
	body := `
primary:
  driver: postgres
  host: db.internal
  table: salon_documents
cache:
  driver: duckdb
  duckdbPath: /var/lib/duplex/cache.duckdb
circuit:
  threshold: 3
  cooldown: 1m
entities:
  - name: appointments
    cacheOnly: true
    dateFields: [date, reminder_at]
  - name: clients
    searchable: true
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("DUPLEX_PG_PASSWORD", "s3cret")

	config, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("Expected config to load, got: %v", err)
	}
	if config.Primary.Host != "db.internal" || config.Primary.Table != "salon_documents" {
		t.Errorf("Unexpected primary settings: %+v", config.Primary)
	}
	if config.Primary.Port != 5432 {
		t.Errorf("Expected default port to survive, got %d", config.Primary.Port)
	}
	if config.Primary.Password != "s3cret" {
		t.Error("Expected password from DUPLEX_PG_PASSWORD")
	}
	if config.Cache.Driver != "duckdb" || config.Cache.Table != "cache_documents" {
		t.Errorf("Unexpected cache settings: %+v", config.Cache)
	}
	if config.Circuit.Threshold != 3 || config.Circuit.Cooldown != time.Minute {
		t.Errorf("Unexpected circuit settings: %+v", config.Circuit)
	}
	if len(config.Entities) != 2 {
		t.Fatalf("Expected entities from file to replace defaults, got %d", len(config.Entities))
	}
	if got := config.Entities[0].DateFields; len(got) != 2 || got[1] != "reminder_at" {
		t.Errorf("Unexpected date fields: %v", got)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	config, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Expected defaults for a missing file, got: %v", err)
	}
	if config.Cache.Driver != "memory" {
		t.Errorf("Expected default cache driver, got %s", config.Cache.Driver)
	}
}

func TestLoadConfigInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "duplex.yaml")
	if err := os.WriteFile(path, []byte("search:\n  defaultLimit: -1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Error("Expected validation error for a negative search limit")
	}
}
