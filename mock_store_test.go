package trustcore

import (
	"context"
	"errors"
	"path"
	"sync"
	"time"
)

var errStoreDown = errors.New("mock store: connection refused")

// mockStore is an in-memory Store with call counters and failure injection.
type mockStore struct {
	store       sync.Map // key -> string
	expiryStore sync.Map // key -> time.Time

	mu       sync.RWMutex
	Counters map[string]int
	// FailGet / FailSet make the matching calls return errStoreDown.
	FailGet bool
	FailSet bool
}

func newMockStore() *mockStore {
	return &mockStore{Counters: make(map[string]int)}
}

func (m *mockStore) incr(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Counters[name]++
}

func (m *mockStore) count(name string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.Counters[name]
}

func (m *mockStore) failing(get bool) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if get {
		return m.FailGet
	}
	return m.FailSet
}

func (m *mockStore) setFailures(get, set bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FailGet, m.FailSet = get, set
}

func (m *mockStore) expired(key string) bool {
	exp, ok := m.expiryStore.Load(key)
	if !ok {
		return false
	}
	if time.Now().After(exp.(time.Time)) {
		m.store.Delete(key)
		m.expiryStore.Delete(key)
		return true
	}
	return false
}

// put writes a raw value directly, bypassing counters.
func (m *mockStore) put(key, value string) { m.store.Store(key, value) }

func (m *mockStore) Get(_ context.Context, key string) (string, error) {
	m.incr("Get")
	if m.failing(true) {
		return "", errStoreDown
	}
	if m.expired(key) {
		return "", ErrNotFound
	}
	v, ok := m.store.Load(key)
	if !ok {
		return "", ErrNotFound
	}
	return v.(string), nil
}

func (m *mockStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	m.incr("Set")
	if m.failing(false) {
		return errStoreDown
	}
	m.store.Store(key, value)
	if ttl > 0 {
		m.expiryStore.Store(key, time.Now().Add(ttl))
	} else {
		m.expiryStore.Delete(key)
	}
	return nil
}

func (m *mockStore) Delete(_ context.Context, key string) error {
	m.incr("Delete")
	m.store.Delete(key)
	m.expiryStore.Delete(key)
	return nil
}

func (m *mockStore) DeleteByPattern(_ context.Context, pattern string) (int64, error) {
	m.incr("DeleteByPattern")
	var n int64
	m.store.Range(func(k, _ any) bool {
		if ok, _ := path.Match(pattern, k.(string)); ok {
			m.store.Delete(k)
			m.expiryStore.Delete(k)
			n++
		}
		return true
	})
	return n, nil
}

func (m *mockStore) Exists(_ context.Context, key string) (bool, error) {
	m.incr("Exists")
	if m.expired(key) {
		return false, nil
	}
	_, ok := m.store.Load(key)
	return ok, nil
}

func (m *mockStore) Stats(_ context.Context) (StoreStats, error) {
	var n int64
	m.store.Range(func(_, _ any) bool { n++; return true })
	return StoreStats{KeyCount: n, BackendVersion: "mock"}, nil
}

func (m *mockStore) Close() error { return nil }
