package trustcore

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config holds every setting the core reads. Load it once at startup with
// LoadConfig and hand the sections to the constructors.
type Config struct {
	Database    DatabaseConfig    `yaml:"database"`
	Cache       CacheConfig       `yaml:"cache"`
	Transaction TransactionConfig `yaml:"transaction"`
	Monitor     MonitorConfig     `yaml:"monitor"`
	Batch       BatchConfig       `yaml:"batch"`
	Log         LogConfig         `yaml:"log"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Server      ServerConfig      `yaml:"server"`
}

// DatabaseConfig describes the primary store.
type DatabaseConfig struct {
	Driver       string        `yaml:"driver" validate:"oneof=sqlite3 postgres mysql"`
	DSN          string        `yaml:"dsn" validate:"required"`
	MaxOpenConns int           `yaml:"max_open_conns" validate:"gte=0"`
	MaxIdleConns int           `yaml:"max_idle_conns" validate:"gte=0"`
	ConnLifetime time.Duration `yaml:"conn_lifetime"`
	// MaxInFlight enables the pool guard when > 0.
	MaxInFlight int `yaml:"max_in_flight" validate:"gte=0"`
}

// CacheConfig selects and tunes the cache store.
type CacheConfig struct {
	// Backend is "redis", "memory" or "none". Redis with an empty URL falls back to none.
	Backend        string        `yaml:"backend" validate:"oneof=redis memory none"`
	RedisURL       string        `yaml:"redis_url"`
	DefaultTTL     time.Duration `yaml:"default_ttl" validate:"gte=0"`
	SingleFlight   bool          `yaml:"single_flight"`
	MemoryCapacity int           `yaml:"memory_capacity" validate:"gte=0"`
	BreakerTimeout time.Duration `yaml:"breaker_timeout"`
}

// TransactionConfig sets executor defaults.
type TransactionConfig struct {
	MaxAttempts int           `yaml:"max_attempts" validate:"gte=1"`
	Timeout     time.Duration `yaml:"timeout" validate:"gt=0"`
	BackoffBase time.Duration `yaml:"backoff_base" validate:"gt=0"`
	BackoffMax  time.Duration `yaml:"backoff_max" validate:"gtefield=BackoffBase"`
}

// MonitorConfig tunes the query monitor.
type MonitorConfig struct {
	Capacity      int           `yaml:"capacity" validate:"gte=1"`
	SlowThreshold time.Duration `yaml:"slow_threshold" validate:"gte=0"`
}

// BatchConfig tunes RunBatches defaults.
type BatchConfig struct {
	Size  int           `yaml:"size" validate:"gte=1"`
	Delay time.Duration `yaml:"delay" validate:"gte=0"`
}

// LogConfig selects the zap logger flavour.
type LogConfig struct {
	Level       string `yaml:"level" validate:"oneof=debug info warn error"`
	Development bool   `yaml:"development"`
}

// MetricsConfig names the Prometheus namespace.
type MetricsConfig struct {
	Namespace string `yaml:"namespace"`
}

// ServerConfig is the debug HTTP listener of cmd/trustcored.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		Database: DatabaseConfig{
			Driver:       "sqlite3",
			DSN:          "trustcore.db",
			MaxOpenConns: 25,
			MaxIdleConns: 5,
			ConnLifetime: 5 * time.Minute,
		},
		Cache: CacheConfig{
			Backend:        "redis",
			DefaultTTL:     DefaultCacheTTL,
			MemoryCapacity: 10000,
			BreakerTimeout: 30 * time.Second,
		},
		Transaction: TransactionConfig{
			MaxAttempts: DefaultMaxAttempts,
			Timeout:     DefaultTxTimeout,
			BackoffBase: DefaultBackoffBase,
			BackoffMax:  DefaultBackoffLimit,
		},
		Monitor: MonitorConfig{
			Capacity:      DefaultMonitorCapacity,
			SlowThreshold: DefaultSlowQueryThreshold,
		},
		Batch: BatchConfig{
			Size:  DefaultBatchSize,
			Delay: DefaultBatchDelay,
		},
		Log:     LogConfig{Level: "info"},
		Metrics: MetricsConfig{Namespace: "trustcore"},
		Server:  ServerConfig{Addr: ":8080"},
	}
}

// LoadConfig starts from DefaultConfig, overlays the YAML file at path (if
// path is non-empty and exists), applies environment overrides and validates.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		raw, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return cfg, fmt.Errorf("failed to read config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(raw, &cfg); err != nil {
				return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
			}
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

var configValidator = validator.New()

// Validate checks field constraints.
func (c Config) Validate() error {
	if err := configValidator.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// applyEnv overrides fields from TRUSTCORE_* variables. REDIS_URL and
// DATABASE_URL are honoured as the conventional fallbacks.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(dst *string, keys ...string) {
		for _, k := range keys {
			if v, ok := lookup(k); ok && v != "" {
				*dst = v
				return
			}
		}
	}
	var errs []error
	dur := func(dst *time.Duration, key string) {
		if v, ok := lookup(key); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}
	num := func(dst *int, key string) {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	flag := func(dst *bool, key string) {
		if v, ok := lookup(key); ok && v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}

	str(&c.Database.Driver, "TRUSTCORE_DB_DRIVER")
	str(&c.Database.DSN, "TRUSTCORE_DB_DSN", "DATABASE_URL")
	num(&c.Database.MaxInFlight, "TRUSTCORE_DB_MAX_IN_FLIGHT")
	str(&c.Cache.Backend, "TRUSTCORE_CACHE_BACKEND")
	str(&c.Cache.RedisURL, "TRUSTCORE_REDIS_URL", "REDIS_URL")
	dur(&c.Cache.DefaultTTL, "TRUSTCORE_CACHE_TTL")
	flag(&c.Cache.SingleFlight, "TRUSTCORE_CACHE_SINGLE_FLIGHT")
	num(&c.Transaction.MaxAttempts, "TRUSTCORE_TX_MAX_ATTEMPTS")
	dur(&c.Transaction.Timeout, "TRUSTCORE_TX_TIMEOUT")
	num(&c.Monitor.Capacity, "TRUSTCORE_MONITOR_CAPACITY")
	dur(&c.Monitor.SlowThreshold, "TRUSTCORE_SLOW_QUERY_THRESHOLD")
	str(&c.Log.Level, "TRUSTCORE_LOG_LEVEL")
	flag(&c.Log.Development, "TRUSTCORE_LOG_DEVELOPMENT")
	str(&c.Server.Addr, "TRUSTCORE_ADDR")

	c.Cache.Backend = strings.ToLower(c.Cache.Backend)
	return errors.Join(errs...)
}
