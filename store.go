package trustcore

import (
	"context"
	"time"
)

// NoopStore is the Store used when no cache backend is configured.
// Every call succeeds with an empty result, so callers never branch on environment.
type NoopStore struct{}

var _ Store = NoopStore{}

// NewNoopStore returns a Store that caches nothing.
func NewNoopStore() NoopStore { return NoopStore{} }

func (NoopStore) Get(ctx context.Context, key string) (string, error) { return "", ErrNotFound }

func (NoopStore) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	return nil
}

func (NoopStore) Delete(ctx context.Context, key string) error { return nil }

func (NoopStore) DeleteByPattern(ctx context.Context, pattern string) (int64, error) { return 0, nil }

func (NoopStore) Exists(ctx context.Context, key string) (bool, error) { return false, nil }

func (NoopStore) Stats(ctx context.Context) (StoreStats, error) {
	return StoreStats{BackendVersion: "noop"}, nil
}

func (NoopStore) Close() error { return nil }
