// interfaces.go
// Core interfaces for trustcore: Store, TxBeginner and the loader signatures.
// Store drivers live under drivers/cache; anything satisfying Store can back a CacheService.

package trustcore

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
)

// Store defines the contract for key-value cache drivers.
// Expiry is enforced by the store, never polled by the application.
type Store interface {
	// Get returns the raw cached value, or ErrNotFound on a miss.
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
	// DeleteByPattern removes every key matching the glob and returns how many were removed.
	DeleteByPattern(ctx context.Context, pattern string) (int64, error)
	Exists(ctx context.Context, key string) (bool, error)
	Stats(ctx context.Context) (StoreStats, error)
	Close() error
}

// StoreStats holds backend-level counters for observability.
type StoreStats struct {
	KeyCount        int64  `json:"keyCount"`
	MemoryUsedBytes int64  `json:"memoryUsedBytes"`
	BackendVersion  string `json:"backendVersion"`
}

// TxBeginner starts sqlx transactions. *sqlx.DB satisfies it.
type TxBeginner interface {
	BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error)
}

// LoaderFunc computes a value on cache miss.
type LoaderFunc[T any] func(ctx context.Context) (T, error)

// TxFunc is a unit of work run inside a transaction. It must be safe to re-run.
type TxFunc[T any] func(ctx context.Context, tx *sqlx.Tx) (T, error)

// Operation is one independent item handed to RunBatches.
type Operation[T any] func(ctx context.Context) (T, error)
