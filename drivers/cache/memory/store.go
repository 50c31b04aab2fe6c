// Package memory is an in-process trustcore.Store for tests and
// single-node deployments without Redis.
package memory

import (
	"context"
	"path"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"trustcore"
)

// DefaultCapacity bounds the number of live entries.
const DefaultCapacity = 10000

type entry struct {
	value     string
	expiresAt time.Time // zero means no per-entry expiry
}

// Store keeps entries in an LRU. Each entry carries its own deadline and is
// dropped lazily on read; MaxTTL additionally caps every entry's lifetime.
type Store struct {
	lru *expirable.LRU[string, entry]
	now func() time.Time
	// mu serializes writes with the lazy removal of expired entries.
	mu sync.Mutex
}

var _ trustcore.Store = (*Store)(nil)

// Option configures the memory store.
type Option func(*settings)

type settings struct {
	capacity int
	maxTTL   time.Duration
	now      func() time.Time
}

// WithCapacity sets the LRU size.
func WithCapacity(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.capacity = n
		}
	}
}

// WithMaxTTL caps entry lifetime regardless of the TTL passed to Set.
func WithMaxTTL(d time.Duration) Option {
	return func(s *settings) { s.maxTTL = d }
}

// WithClock replaces time.Now for per-entry expiry.
func WithClock(now func() time.Time) Option {
	return func(s *settings) {
		if now != nil {
			s.now = now
		}
	}
}

// New returns an empty store.
func New(opts ...Option) *Store {
	cfg := settings{capacity: DefaultCapacity, now: time.Now}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Store{
		lru: expirable.NewLRU[string, entry](cfg.capacity, nil, cfg.maxTTL),
		now: cfg.now,
	}
}

func (s *Store) expired(e entry) bool {
	return !e.expiresAt.IsZero() && !s.now().Before(e.expiresAt)
}

func (s *Store) live(key string) (entry, bool) {
	e, ok := s.lru.Get(key)
	if !ok {
		return entry{}, false
	}
	if s.expired(e) {
		s.mu.Lock()
		defer s.mu.Unlock()
		// Re-check under the lock: a concurrent Set may have replaced the entry.
		if cur, ok := s.lru.Peek(key); ok && s.expired(cur) {
			s.lru.Remove(key)
		}
		return entry{}, false
	}
	return e, true
}

func (s *Store) Get(_ context.Context, key string) (string, error) {
	e, ok := s.live(key)
	if !ok {
		return "", trustcore.ErrNotFound
	}
	return e.value, nil
}

// Set stores value; ttl <= 0 means no per-entry expiry.
func (s *Store) Set(_ context.Context, key, value string, ttl time.Duration) error {
	e := entry{value: value}
	if ttl > 0 {
		e.expiresAt = s.now().Add(ttl)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lru.Add(key, e)
	return nil
}

func (s *Store) Delete(_ context.Context, key string) error {
	s.lru.Remove(key)
	return nil
}

// DeleteByPattern removes keys matching a glob in path.Match syntax, which
// agrees with Redis MATCH for '*', '?' and character classes.
func (s *Store) DeleteByPattern(_ context.Context, pattern string) (int64, error) {
	if _, err := path.Match(pattern, ""); err != nil {
		return 0, err
	}
	var n int64
	for _, k := range s.lru.Keys() {
		if ok, _ := path.Match(pattern, k); ok {
			if s.lru.Remove(k) {
				n++
			}
		}
	}
	return n, nil
}

func (s *Store) Exists(_ context.Context, key string) (bool, error) {
	_, ok := s.live(key)
	return ok, nil
}

// Stats counts live entries. MemoryUsedBytes is the sum of key and value
// lengths, an approximation.
func (s *Store) Stats(_ context.Context) (trustcore.StoreStats, error) {
	var count, size int64
	now := s.now()
	for _, k := range s.lru.Keys() {
		e, ok := s.lru.Peek(k)
		if !ok || (!e.expiresAt.IsZero() && !now.Before(e.expiresAt)) {
			continue
		}
		count++
		size += int64(len(k) + len(e.value))
	}
	return trustcore.StoreStats{KeyCount: count, MemoryUsedBytes: size, BackendVersion: "memory"}, nil
}

// Close drops all entries.
func (s *Store) Close() error {
	s.lru.Purge()
	return nil
}
