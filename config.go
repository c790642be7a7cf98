package duplex

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config consolidates settings for both backends and the mirror engine
type Config struct {
	Primary  PrimaryConfig  `json:"primary" yaml:"primary"`
	Cache    CacheConfig    `json:"cache" yaml:"cache"`
	Circuit  CircuitConfig  `json:"circuit" yaml:"circuit"`
	Throttle ThrottleConfig `json:"throttle" yaml:"throttle"`
	Backup   BackupConfig   `json:"backup" yaml:"backup"`
	Search   SearchConfig   `json:"search" yaml:"search"`
	Flags    FlagsConfig    `json:"flags" yaml:"flags"`
	Snapshot SnapshotConfig `json:"snapshot" yaml:"snapshot"`
	Entities []EntityPolicy `json:"entities" yaml:"entities"`
	Logging  LoggingConfig  `json:"logging" yaml:"logging"`
	Metrics  MetricsConfig  `json:"metrics" yaml:"metrics"`
	Server   ServerConfig   `json:"server" yaml:"server"`
}

// PrimaryConfig contains settings for the authoritative store
type PrimaryConfig struct {
	Driver          string        `json:"driver" yaml:"driver"` // postgres, memory
	Host            string        `json:"host" yaml:"host"`
	Port            int           `json:"port" yaml:"port"`
	Database        string        `json:"database" yaml:"database"`
	Username        string        `json:"username" yaml:"username"`
	Password        string        `json:"password" yaml:"password"`
	SSLMode         string        `json:"sslMode" yaml:"sslMode"`
	UseIAM          bool          `json:"useIAM" yaml:"useIAM"`
	Region          string        `json:"region" yaml:"region"`
	MaxConnections  int           `json:"maxConnections" yaml:"maxConnections"`
	MaxIdleConns    int           `json:"maxIdleConns" yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `json:"connMaxLifetime" yaml:"connMaxLifetime"`
	ConnMaxIdleTime time.Duration `json:"connMaxIdleTime" yaml:"connMaxIdleTime"`
	Timeout         time.Duration `json:"timeout" yaml:"timeout"`
	Table           string        `json:"table" yaml:"table"`
}

// CacheConfig contains settings for the cache store
type CacheConfig struct {
	Driver       string `json:"driver" yaml:"driver"` // memory, duckdb, postgres
	DuckDBPath   string `json:"duckdbPath" yaml:"duckdbPath"`
	Table        string `json:"table" yaml:"table"`
	MaxBatchSize int    `json:"maxBatchSize" yaml:"maxBatchSize"`
}

// CircuitConfig contains the cache circuit breaker settings
type CircuitConfig struct {
	Threshold int           `json:"threshold" yaml:"threshold"`
	Cooldown  time.Duration `json:"cooldown" yaml:"cooldown"`
}

// ThrottleConfig contains the shared rate-limit backoff settings
type ThrottleConfig struct {
	InitialDelay time.Duration `json:"initialDelay" yaml:"initialDelay"`
	MaxDelay     time.Duration `json:"maxDelay" yaml:"maxDelay"`
	Multiplier   float64       `json:"multiplier" yaml:"multiplier"`
	MaxRetries   int           `json:"maxRetries" yaml:"maxRetries"`
	RetryBase    time.Duration `json:"retryBase" yaml:"retryBase"`
}

// BackupConfig contains backup and restore pacing settings
type BackupConfig struct {
	Version        string        `json:"version" yaml:"version"`
	InterCallDelay time.Duration `json:"interCallDelay" yaml:"interCallDelay"`
	WriteDelay     time.Duration `json:"writeDelay" yaml:"writeDelay"`
}

// SearchConfig contains prefix search settings
type SearchConfig struct {
	DefaultLimit  int `json:"defaultLimit" yaml:"defaultLimit"`
	MinTermLength int `json:"minTermLength" yaml:"minTermLength"`
}

// FlagsConfig locates the persistent flag store. An empty Dir keeps flags in memory.
type FlagsConfig struct {
	Dir string `json:"dir" yaml:"dir"`
}

// SnapshotConfig contains settings for backup artifacts
type SnapshotConfig struct {
	Format      string `json:"format" yaml:"format"` // json, cbor
	S3Bucket    string `json:"s3Bucket" yaml:"s3Bucket"`
	S3Prefix    string `json:"s3Prefix" yaml:"s3Prefix"`
	S3Region    string `json:"s3Region" yaml:"s3Region"`
	S3Endpoint  string `json:"s3Endpoint" yaml:"s3Endpoint"`
	S3AccessKey string `json:"s3AccessKey" yaml:"s3AccessKey"`
	S3SecretKey string `json:"s3SecretKey" yaml:"s3SecretKey"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
}

// MetricsConfig contains metrics collection settings
type MetricsConfig struct {
	Enabled   bool   `json:"enabled" yaml:"enabled"`
	Namespace string `json:"namespace" yaml:"namespace"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Port int `json:"port" yaml:"port"`
}

// DefaultCacheOnlyEntities are entities that never reach the Primary backend.
var DefaultCacheOnlyEntities = []string{
	"appointments",
	"employees",
	"services",
	"payment_methods",
	"products",
	"inventory",
	"company_settings",
}

// DefaultMirroredEntities are entities owned by the Primary backend.
var DefaultMirroredEntities = []string{
	"clients",
	"packages",
	"client_packages",
	"subscriptions",
	"gift_cards",
	"sales",
	"contracts",
}

func defaultEntities() []EntityPolicy {
	out := make([]EntityPolicy, 0, len(DefaultCacheOnlyEntities)+len(DefaultMirroredEntities))
	for _, name := range DefaultCacheOnlyEntities {
		p := EntityPolicy{Name: name, CacheOnly: true}
		switch name {
		case "appointments":
			p.DateFields = []string{"date"}
		case "employees", "services", "products":
			p.Searchable = true
		}
		out = append(out, p)
	}
	for _, name := range DefaultMirroredEntities {
		p := EntityPolicy{Name: name}
		switch name {
		case "clients", "packages":
			p.Searchable = true
		}
		out = append(out, p)
	}
	return out
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		Primary: PrimaryConfig{
			Driver:          "memory",
			Host:            "localhost",
			Port:            5432,
			Database:        "duplex",
			Username:        "postgres",
			SSLMode:         "disable",
			MaxConnections:  25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
			ConnMaxIdleTime: 5 * time.Minute,
			Timeout:         30 * time.Second,
			Table:           "documents",
		},
		Cache: CacheConfig{
			Driver:       "memory",
			Table:        "cache_documents",
			MaxBatchSize: 400,
		},
		Circuit: CircuitConfig{
			Threshold: 5,
			Cooldown:  5 * time.Minute,
		},
		Throttle: ThrottleConfig{
			InitialDelay: 100 * time.Millisecond,
			MaxDelay:     10 * time.Second,
			Multiplier:   2,
			MaxRetries:   3,
			RetryBase:    1 * time.Second,
		},
		Backup: BackupConfig{
			Version:        "1.0",
			InterCallDelay: 500 * time.Millisecond,
			WriteDelay:     100 * time.Millisecond,
		},
		Search: SearchConfig{
			DefaultLimit:  20,
			MinTermLength: 2,
		},
		Snapshot: SnapshotConfig{
			Format:   "json",
			S3Prefix: "backups/",
		},
		Entities: defaultEntities(),
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "duplex",
		},
		Server: ServerConfig{
			Port: 8080,
		},
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	switch c.Primary.Driver {
	case "memory":
	case "postgres":
		if c.Primary.Host == "" {
			return &ConfigError{Field: "primary.host", Message: "is required for the postgres driver"}
		}
		if c.Primary.Port <= 0 || c.Primary.Port > 65535 {
			return &ConfigError{Field: "primary.port", Message: "must be a valid TCP port"}
		}
		if c.Primary.MaxConnections <= 0 {
			return &ConfigError{Field: "primary.maxConnections", Message: "must be greater than 0"}
		}
		if c.Primary.Table == "" {
			return &ConfigError{Field: "primary.table", Message: "must not be empty"}
		}
	default:
		return &ConfigError{Field: "primary.driver", Message: fmt.Sprintf("unsupported driver %q", c.Primary.Driver)}
	}

	switch c.Cache.Driver {
	case "memory", "duckdb", "postgres":
	default:
		return &ConfigError{Field: "cache.driver", Message: fmt.Sprintf("unsupported driver %q", c.Cache.Driver)}
	}
	if c.Cache.Driver != "memory" && c.Cache.Table == "" {
		return &ConfigError{Field: "cache.table", Message: "must not be empty"}
	}
	if c.Cache.Driver == "postgres" && c.Primary.Driver != "postgres" {
		return &ConfigError{Field: "cache.driver", Message: "postgres cache requires a postgres primary connection"}
	}
	if c.Cache.MaxBatchSize <= 0 || c.Cache.MaxBatchSize > 500 {
		return &ConfigError{Field: "cache.maxBatchSize", Message: "must be between 1 and 500"}
	}

	if c.Circuit.Threshold <= 0 {
		return &ConfigError{Field: "circuit.threshold", Message: "must be greater than 0"}
	}
	if c.Circuit.Cooldown <= 0 {
		return &ConfigError{Field: "circuit.cooldown", Message: "must be greater than 0"}
	}

	if c.Throttle.Multiplier < 1 {
		return &ConfigError{Field: "throttle.multiplier", Message: "must be at least 1"}
	}
	if c.Throttle.MaxDelay < c.Throttle.InitialDelay {
		return &ConfigError{Field: "throttle.maxDelay", Message: "must be greater than or equal to initialDelay"}
	}
	if c.Throttle.MaxRetries < 0 {
		return &ConfigError{Field: "throttle.maxRetries", Message: "must not be negative"}
	}

	if c.Search.DefaultLimit <= 0 {
		return &ConfigError{Field: "search.defaultLimit", Message: "must be greater than 0"}
	}
	if c.Search.MinTermLength < 1 {
		return &ConfigError{Field: "search.minTermLength", Message: "must be at least 1"}
	}

	switch c.Snapshot.Format {
	case "json", "cbor":
	default:
		return &ConfigError{Field: "snapshot.format", Message: fmt.Sprintf("unsupported format %q", c.Snapshot.Format)}
	}

	seen := make(map[string]struct{}, len(c.Entities))
	for i, e := range c.Entities {
		name := strings.TrimSpace(e.Name)
		if name == "" {
			return &ConfigError{Field: fmt.Sprintf("entities[%d].name", i), Message: "must not be empty"}
		}
		if _, dup := seen[name]; dup {
			return &ConfigError{Field: fmt.Sprintf("entities[%d].name", i), Message: fmt.Sprintf("entity %q declared twice", name)}
		}
		seen[name] = struct{}{}
	}

	return nil
}

// LoadConfig reads a YAML config file over DefaultConfig. A missing file is not
// an error. Secrets may be supplied through the environment.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		b, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(b, cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		}
	}
	applyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("DUPLEX_PG_PASSWORD"); v != "" {
		cfg.Primary.Password = v
	}
	if v := os.Getenv("DUPLEX_PG_HOST"); v != "" {
		cfg.Primary.Host = v
	}
	if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" && cfg.Snapshot.S3AccessKey == "" {
		cfg.Snapshot.S3AccessKey = v
		cfg.Snapshot.S3SecretKey = os.Getenv("AWS_SECRET_ACCESS_KEY")
	}
}

// ConfigError represents a configuration validation error
type ConfigError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *ConfigError) Error() string {
	return "config validation error for field '" + e.Field + "': " + e.Message
}
