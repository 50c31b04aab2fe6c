package redis

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"trustcore"
)

const (
	defaultScanCount      = 100
	defaultDeleteChunk    = 500
	defaultBreakerTimeout = 30 * time.Second
	defaultTripFailures   = 5
)

// Store implements trustcore.Store on Redis. Every command goes through a
// circuit breaker so an unreachable server fails fast instead of stalling
// callers; a miss (redis.Nil) never counts as a failure.
// The counters field tracks operation statistics for monitoring (thread-safe).
type Store struct {
	rdb               *redis.Client
	cb                *gobreaker.CircuitBreaker
	logger            *zap.Logger
	scanCount         int64
	mu                sync.Mutex     // Protects counters map
	counters          map[string]int // Operation counters (e.g. "Get", "GetMiss")
	createdInternally bool           // Close only shuts clients we created
}

// Ensure Store implements trustcore.Store and io.Closer.
var (
	_ trustcore.Store = (*Store)(nil)
	_ io.Closer       = (*Store)(nil)
)

// Options holds configuration for the Redis store.
type Options struct {
	// URL is a redis:// connection string. It wins over Addr/Password/DB when set.
	URL      string
	Addr     string
	Password string
	DB       int

	// BreakerTimeout is how long the breaker stays open before probing again.
	BreakerTimeout time.Duration
	// TripAfter is the number of consecutive failures that opens the breaker.
	TripAfter uint32
	ScanCount int64
	Logger    *zap.Logger
}

// NewStore wraps a Redis client. If rdb is nil a client is created from opts
// and pinged. A nil opts uses defaults.
func NewStore(rdb *redis.Client, opts *Options) (*Store, error) {
	if opts == nil {
		opts = &Options{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("redis_store")

	createdInternally := false
	if rdb == nil {
		var redisOpts *redis.Options
		if opts.URL != "" {
			parsed, err := redis.ParseURL(opts.URL)
			if err != nil {
				return nil, fmt.Errorf("invalid redis url: %w", err)
			}
			redisOpts = parsed
		} else {
			redisOpts = &redis.Options{Addr: opts.Addr, Password: opts.Password, DB: opts.DB}
		}
		rdb = redis.NewClient(redisOpts)
		createdInternally = true

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, fmt.Errorf("failed to ping redis: %w", err)
		}
	}

	timeout := opts.BreakerTimeout
	if timeout <= 0 {
		timeout = defaultBreakerTimeout
	}
	tripAfter := opts.TripAfter
	if tripAfter == 0 {
		tripAfter = defaultTripFailures
	}
	scanCount := opts.ScanCount
	if scanCount <= 0 {
		scanCount = defaultScanCount
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "redis-cache",
		MaxRequests: 1,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= tripAfter
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, redis.Nil)
		},
	})

	logger.Info("redis cache store initialized", zap.Bool("owned_client", createdInternally))
	return &Store{
		rdb:               rdb,
		cb:                cb,
		logger:            logger,
		scanCount:         scanCount,
		counters:          make(map[string]int),
		createdInternally: createdInternally,
	}, nil
}

// incrementCounter safely increments a named operation counter.
func (s *Store) incrementCounter(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters[name]++
}

// Counters returns a copy of the operation counters.
// Typical keys: "Get", "GetMiss", "GetHit", "GetError", "Set", "Delete".
func (s *Store) Counters() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int, len(s.counters))
	for k, v := range s.counters {
		out[k] = v
	}
	return out
}

// BreakerState exposes the breaker state for health checks.
func (s *Store) BreakerState() gobreaker.State { return s.cb.State() }

func execute[T any](s *Store, fn func() (T, error)) (T, error) {
	res, err := s.cb.Execute(func() (interface{}, error) { return fn() })
	v, _ := res.(T)
	return v, err
}

// Get retrieves a raw string value.
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	s.incrementCounter("Get")
	val, err := execute(s, func() (string, error) { return s.rdb.Get(ctx, key).Result() })
	if errors.Is(err, redis.Nil) {
		s.incrementCounter("GetMiss")
		return "", trustcore.ErrNotFound
	} else if err != nil {
		s.incrementCounter("GetError")
		return "", fmt.Errorf("redis Get error for key '%s': %w", key, err)
	}
	s.incrementCounter("GetHit")
	return val, nil
}

// Set stores a raw string value with a TTL.
func (s *Store) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	s.incrementCounter("Set")
	_, err := execute(s, func() (string, error) { return s.rdb.Set(ctx, key, value, ttl).Result() })
	if err != nil {
		return fmt.Errorf("redis Set error for key '%s': %w", key, err)
	}
	return nil
}

// Delete removes a key. A missing key is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	s.incrementCounter("Delete")
	_, err := execute(s, func() (int64, error) { return s.rdb.Del(ctx, key).Result() })
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("redis Del error for key '%s': %w", key, err)
	}
	return nil
}

// DeleteByPattern removes all keys matching the glob pattern.
// Uses SCAN for safe iteration, then deletes in chunks.
func (s *Store) DeleteByPattern(ctx context.Context, pattern string) (int64, error) {
	s.incrementCounter("DeleteByPattern")
	var cursor uint64
	var keysToDelete []string

	for {
		var keys []string
		var err error
		keys, err = execute(s, func() ([]string, error) {
			var page []string
			var scanErr error
			page, cursor, scanErr = s.rdb.Scan(ctx, cursor, pattern, s.scanCount).Result()
			return page, scanErr
		})
		if err != nil {
			s.logger.Error("redis SCAN failed", zap.String("pattern", pattern), zap.Error(err))
			return 0, fmt.Errorf("redis SCAN error for pattern '%s': %w", pattern, err)
		}
		keysToDelete = append(keysToDelete, keys...)
		if cursor == 0 {
			break
		}
	}

	if len(keysToDelete) == 0 {
		s.logger.Debug("no keys matched pattern", zap.String("pattern", pattern))
		return 0, nil
	}

	var deleted int64
	for start := 0; start < len(keysToDelete); start += defaultDeleteChunk {
		end := min(start+defaultDeleteChunk, len(keysToDelete))
		chunk := keysToDelete[start:end]
		n, err := execute(s, func() (int64, error) { return s.rdb.Del(ctx, chunk...).Result() })
		if err != nil && !errors.Is(err, redis.Nil) {
			s.logger.Error("redis DEL failed", zap.String("pattern", pattern), zap.Error(err))
			return deleted, fmt.Errorf("redis DEL error for pattern '%s': %w", pattern, err)
		}
		deleted += n
	}
	s.logger.Debug("deleted keys by pattern", zap.String("pattern", pattern), zap.Int64("count", deleted))
	return deleted, nil
}

// Exists reports whether key is live.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	s.incrementCounter("Exists")
	n, err := execute(s, func() (int64, error) { return s.rdb.Exists(ctx, key).Result() })
	if err != nil {
		return false, fmt.Errorf("redis Exists error for key '%s': %w", key, err)
	}
	return n > 0, nil
}

// Stats reports DBSIZE plus used_memory and redis_version from INFO.
// INFO is best effort: servers that refuse it still report a key count.
func (s *Store) Stats(ctx context.Context) (trustcore.StoreStats, error) {
	s.incrementCounter("Stats")
	size, err := execute(s, func() (int64, error) { return s.rdb.DBSize(ctx).Result() })
	if err != nil {
		return trustcore.StoreStats{}, fmt.Errorf("redis DBSIZE error: %w", err)
	}
	stats := trustcore.StoreStats{KeyCount: size}

	if info, err := s.rdb.Info(ctx, "memory").Result(); err == nil {
		if v, ok := infoField(info, "used_memory"); ok {
			stats.MemoryUsedBytes, _ = strconv.ParseInt(v, 10, 64)
		}
	} else {
		s.logger.Debug("INFO memory unavailable", zap.Error(err))
	}
	if info, err := s.rdb.Info(ctx, "server").Result(); err == nil {
		stats.BackendVersion, _ = infoField(info, "redis_version")
	} else {
		s.logger.Debug("INFO server unavailable", zap.Error(err))
	}
	return stats, nil
}

// Close implements io.Closer. Only closes the client if it was created by NewStore.
func (s *Store) Close() error {
	if s.createdInternally && s.rdb != nil {
		return s.rdb.Close()
	}
	return nil
}

// infoField extracts "name:value" from an INFO reply.
func infoField(info, name string) (string, bool) {
	sc := bufio.NewScanner(strings.NewReader(info))
	prefix := name + ":"
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if strings.HasPrefix(line, prefix) {
			return strings.TrimPrefix(line, prefix), true
		}
	}
	return "", false
}
