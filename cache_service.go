package trustcore

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// DefaultCacheTTL is used when GetOrCompute or Set is called with ttl <= 0.
const DefaultCacheTTL = 5 * time.Minute

// CacheStats combines backend counters with this service's own counters.
type CacheStats struct {
	StoreStats
	Hits        int64 `json:"hits"`
	Misses      int64 `json:"misses"`
	Loads       int64 `json:"loads"`
	LoadErrors  int64 `json:"loadErrors"`
	StoreErrors int64 `json:"storeErrors"`
}

// CacheService is the cache-aside API used by data-access callers.
// It owns the lifecycle of every key it writes. Cache failures never
// surface to callers of GetOrCompute: they degrade to a reload.
type CacheService struct {
	store        Store
	monitor      *QueryMonitor
	metrics      *Metrics
	logger       *zap.Logger
	tracer       trace.Tracer
	defaultTTL   time.Duration
	singleFlight bool
	group        singleflight.Group

	hits        atomic.Int64
	misses      atomic.Int64
	loads       atomic.Int64
	loadErrors  atomic.Int64
	storeErrors atomic.Int64
}

// CacheOption configures a CacheService.
type CacheOption func(*CacheService)

// WithQueryMonitor records every loader run into m.
func WithQueryMonitor(m *QueryMonitor) CacheOption {
	return func(s *CacheService) { s.monitor = m }
}

// WithCacheMetrics counts hits, misses and store errors.
func WithCacheMetrics(m *Metrics) CacheOption {
	return func(s *CacheService) { s.metrics = m }
}

// WithCacheLogger sets the service logger.
func WithCacheLogger(logger *zap.Logger) CacheOption {
	return func(s *CacheService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithDefaultTTL overrides DefaultCacheTTL.
func WithDefaultTTL(ttl time.Duration) CacheOption {
	return func(s *CacheService) {
		if ttl > 0 {
			s.defaultTTL = ttl
		}
	}
}

// WithSingleFlight collapses concurrent misses on the same key into one loader call.
// Without it, racing misses each run the loader and the last Set wins.
func WithSingleFlight() CacheOption {
	return func(s *CacheService) { s.singleFlight = true }
}

// NewCacheService wraps store. A nil store falls back to NoopStore.
func NewCacheService(store Store, opts ...CacheOption) *CacheService {
	s := &CacheService{
		store:      store,
		logger:     zap.NewNop(),
		tracer:     otel.Tracer("trustcore"),
		defaultTTL: DefaultCacheTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named("cache")
	if s.store == nil {
		s.logger.Info("no cache store configured, caching disabled")
		s.store = NoopStore{}
	}
	return s
}

// Store returns the underlying store.
func (s *CacheService) Store() Store { return s.store }

// GetOrCompute returns the cached value for key, or runs loader on a miss and
// caches its result for ttl. The loader runs at most once per cache window for
// a warm key. Loader errors are returned unchanged and nothing is cached.
func GetOrCompute[T any](ctx context.Context, s *CacheService, key string, ttl time.Duration, loader LoaderFunc[T]) (T, error) {
	var zero T
	if loader == nil {
		return zero, ErrNilLoader
	}
	if v, ok := Lookup[T](ctx, s, key); ok {
		return v, nil
	}
	if !s.singleFlight {
		return load(ctx, s, key, ttl, loader)
	}

	// The shared load outlives any single caller; each caller waits on its own ctx.
	ch := s.group.DoChan(key, func() (any, error) {
		return load(context.WithoutCancel(ctx), s, key, ttl, loader)
	})
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		if res.Shared {
			s.logger.Debug("shared in-flight load", zap.String("key", key))
		}
		v, _ := res.Val.(T)
		return v, nil
	}
}

// Lookup probes the cache without loading. Misses, store errors and
// malformed entries all report ok == false.
func Lookup[T any](ctx context.Context, s *CacheService, key string) (T, bool) {
	var zero T
	raw, err := s.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.misses.Add(1)
			s.metrics.cacheResult("miss")
		} else {
			s.storeErrors.Add(1)
			s.metrics.cacheResult("error")
			s.logger.Warn("cache get failed, treating as miss", zap.String("key", key), zap.Error(err))
		}
		return zero, false
	}

	var v T
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		s.misses.Add(1)
		s.metrics.cacheResult("malformed")
		s.logger.Warn("malformed cache entry, reloading", zap.String("key", key), zap.Error(err))
		return zero, false
	}
	s.hits.Add(1)
	s.metrics.cacheResult("hit")
	return v, true
}

func load[T any](ctx context.Context, s *CacheService, key string, ttl time.Duration, loader LoaderFunc[T]) (T, error) {
	ctx, span := s.tracer.Start(ctx, "trustcore.cache.load",
		trace.WithAttributes(attribute.String("cache.key", key)))
	defer span.End()

	s.loads.Add(1)
	stop := s.monitor.StartTracking("cache.load:" + keyNamespace(key))
	v, err := loader(ctx)
	d := stop(err)
	if err != nil {
		s.loadErrors.Add(1)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return v, err
	}
	span.SetAttributes(attribute.Int64("cache.load_ms", d.Milliseconds()))

	if err := s.Set(ctx, key, v, ttl); err != nil {
		s.logger.Warn("cache write-through failed", zap.String("key", key), zap.Error(err))
	}
	return v, nil
}

// Set serializes value to JSON and stores it under key, overwriting any live value.
func (s *CacheService) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	if err := s.store.Set(ctx, key, string(raw), ttl); err != nil {
		s.storeErrors.Add(1)
		return err
	}
	return nil
}

// Invalidate drops key. Invalidating an absent key is a no-op.
func (s *CacheService) Invalidate(ctx context.Context, key string) error {
	if err := s.store.Delete(ctx, key); err != nil {
		s.storeErrors.Add(1)
		s.logger.Warn("cache invalidate failed", zap.String("key", key), zap.Error(err))
		return err
	}
	return nil
}

// InvalidatePattern drops every key matching the glob pattern.
func (s *CacheService) InvalidatePattern(ctx context.Context, pattern string) (int64, error) {
	n, err := s.store.DeleteByPattern(ctx, pattern)
	if err != nil {
		s.storeErrors.Add(1)
		s.logger.Warn("cache pattern invalidate failed", zap.String("pattern", pattern), zap.Error(err))
		return n, err
	}
	s.logger.Debug("invalidated keys", zap.String("pattern", pattern), zap.Int64("count", n))
	return n, nil
}

// Stats reports store-level and service-level counters.
func (s *CacheService) Stats(ctx context.Context) CacheStats {
	st, err := s.store.Stats(ctx)
	if err != nil {
		s.logger.Warn("cache stats unavailable", zap.Error(err))
		st = StoreStats{}
	}
	return CacheStats{
		StoreStats:  st,
		Hits:        s.hits.Load(),
		Misses:      s.misses.Load(),
		Loads:       s.loads.Load(),
		LoadErrors:  s.loadErrors.Load(),
		StoreErrors: s.storeErrors.Load(),
	}
}
