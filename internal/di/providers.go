// Package di wires the trustcore services from a Config.
package di

import (
	"context"
	"fmt"
	"time"

	"github.com/google/wire"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	// database/sql drivers selectable through DatabaseConfig.Driver
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"trustcore"
	"trustcore/directory"
	"trustcore/drivers/cache/memory"
	"trustcore/drivers/cache/redis"
)

// App holds every long-lived service of the process.
type App struct {
	Config     trustcore.Config
	Logger     *zap.Logger
	DB         *sqlx.DB
	Store      trustcore.Store
	Cache      *trustcore.CacheService
	Monitor    *trustcore.QueryMonitor
	Executor   *trustcore.TxExecutor
	Repository *directory.Repository
	Registry   *prometheus.Registry
}

// ProviderSet is the wire provider set for App.
var ProviderSet = wire.NewSet(
	ProvideLogger,
	ProvideRegistry,
	ProvideMetrics,
	ProvideDB,
	ProvideStore,
	ProvideQueryMonitor,
	ProvidePoolGuard,
	ProvideCacheService,
	ProvideTxExecutor,
	ProvideRepository,
	wire.Struct(new(App), "*"),
)

// ProvideLogger builds a production or development zap logger at cfg.Log.Level.
func ProvideLogger(cfg trustcore.Config) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if cfg.Log.Development {
		zcfg = zap.NewDevelopmentConfig()
	}
	level, err := zap.ParseAtomicLevel(cfg.Log.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Log.Level, err)
	}
	zcfg.Level = level
	logger, err := zcfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return logger.Named("trustcore"), nil
}

// ProvideRegistry returns a fresh registry with the Go and process collectors.
func ProvideRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

func ProvideMetrics(cfg trustcore.Config, reg *prometheus.Registry) (*trustcore.Metrics, error) {
	return trustcore.NewMetrics(cfg.Metrics.Namespace, reg)
}

// ProvideDB opens and pings the primary store.
func ProvideDB(cfg trustcore.Config, logger *zap.Logger) (*sqlx.DB, func(), error) {
	dbCfg := cfg.Database
	db, err := sqlx.Open(dbCfg.Driver, dbCfg.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open %s database: %w", dbCfg.Driver, err)
	}
	if dbCfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(dbCfg.MaxOpenConns)
	}
	if dbCfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(dbCfg.MaxIdleConns)
	}
	if dbCfg.ConnLifetime > 0 {
		db.SetConnMaxLifetime(dbCfg.ConnLifetime)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("failed to ping %s database: %w", dbCfg.Driver, err)
	}
	logger.Info("database connected", zap.String("driver", dbCfg.Driver))

	cleanup := func() {
		if err := db.Close(); err != nil {
			logger.Warn("error closing database", zap.Error(err))
		}
	}
	return db, cleanup, nil
}

// ProvideStore wraps OpenStore for wire.
func ProvideStore(cfg trustcore.Config, logger *zap.Logger) (trustcore.Store, func(), error) {
	store := OpenStore(cfg.Cache, logger)
	cleanup := func() {
		if err := store.Close(); err != nil {
			logger.Warn("error closing cache store", zap.Error(err))
		}
	}
	return store, cleanup, nil
}

// OpenStore selects the cache backend once at startup. A Redis backend with
// no URL, or one that cannot be reached, degrades to NoopStore so the
// process still serves uncached reads.
func OpenStore(cfg trustcore.CacheConfig, logger *zap.Logger) trustcore.Store {
	switch cfg.Backend {
	case "memory":
		logger.Info("using in-memory cache store", zap.Int("capacity", cfg.MemoryCapacity))
		return memory.New(memory.WithCapacity(cfg.MemoryCapacity))
	case "redis":
		if cfg.RedisURL == "" {
			logger.Warn("no redis url configured, caching disabled")
			return trustcore.NewNoopStore()
		}
		store, err := redis.NewStore(nil, &redis.Options{
			URL:            cfg.RedisURL,
			BreakerTimeout: cfg.BreakerTimeout,
			Logger:         logger,
		})
		if err != nil {
			logger.Error("redis unavailable, caching disabled", zap.Error(err))
			return trustcore.NewNoopStore()
		}
		return store
	default:
		logger.Info("caching disabled by configuration")
		return trustcore.NewNoopStore()
	}
}

func ProvideQueryMonitor(cfg trustcore.Config, metrics *trustcore.Metrics, logger *zap.Logger) *trustcore.QueryMonitor {
	return trustcore.NewQueryMonitor(
		trustcore.WithCapacity(cfg.Monitor.Capacity),
		trustcore.WithSlowQueryThreshold(cfg.Monitor.SlowThreshold),
		trustcore.WithMonitorMetrics(metrics),
		trustcore.WithMonitorLogger(logger),
	)
}

// ProvidePoolGuard returns nil when MaxInFlight is zero; the executor then runs unguarded.
func ProvidePoolGuard(cfg trustcore.Config) *trustcore.PoolGuard {
	if cfg.Database.MaxInFlight <= 0 {
		return nil
	}
	return trustcore.NewPoolGuard(cfg.Database.MaxInFlight, trustcore.DefaultPoolPollInterval)
}

func ProvideCacheService(cfg trustcore.Config, store trustcore.Store, monitor *trustcore.QueryMonitor, metrics *trustcore.Metrics, logger *zap.Logger) *trustcore.CacheService {
	opts := []trustcore.CacheOption{
		trustcore.WithQueryMonitor(monitor),
		trustcore.WithCacheMetrics(metrics),
		trustcore.WithCacheLogger(logger),
		trustcore.WithDefaultTTL(cfg.Cache.DefaultTTL),
	}
	if cfg.Cache.SingleFlight {
		opts = append(opts, trustcore.WithSingleFlight())
	}
	return trustcore.NewCacheService(store, opts...)
}

func ProvideTxExecutor(cfg trustcore.Config, db *sqlx.DB, guard *trustcore.PoolGuard, monitor *trustcore.QueryMonitor, metrics *trustcore.Metrics, logger *zap.Logger) *trustcore.TxExecutor {
	t := cfg.Transaction
	return trustcore.NewTxExecutor(db,
		trustcore.WithPoolGuard(guard),
		trustcore.WithExecutorMonitor(monitor),
		trustcore.WithExecutorMetrics(metrics),
		trustcore.WithExecutorLogger(logger),
		trustcore.WithTxDefaults(
			trustcore.WithMaxRetries(t.MaxAttempts),
			trustcore.WithTimeout(t.Timeout),
			trustcore.WithBackoff(t.BackoffBase, t.BackoffMax),
		),
	)
}

func ProvideRepository(cfg trustcore.Config, db *sqlx.DB, cache *trustcore.CacheService, exec *trustcore.TxExecutor, metrics *trustcore.Metrics, logger *zap.Logger) *directory.Repository {
	return directory.NewRepository(db, cache, exec,
		directory.WithLogger(logger),
		directory.WithBatchOptions(
			trustcore.WithBatchSize(cfg.Batch.Size),
			trustcore.WithBatchDelay(cfg.Batch.Delay),
			trustcore.WithBatchMetrics(metrics),
		),
	)
}
