package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trustcore"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func TestStore_SetGetExpire(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	s := New(WithClock(clock.Now))
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "k", "v", time.Minute))
	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", got)

	clock.Advance(time.Minute)
	_, err = s.Get(ctx, "k")
	assert.ErrorIs(t, err, trustcore.ErrNotFound)

	ok, err := s.Exists(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_ExpiryKeepsConcurrentSet(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	ctx := context.Background()

	var s *Store
	var onNow func()
	s = New(WithClock(func() time.Time {
		if fn := onNow; fn != nil {
			onNow = nil
			fn()
		}
		return clock.Now()
	}))

	require.NoError(t, s.Set(ctx, "k", "old", time.Minute))
	clock.Advance(time.Minute)

	// The fresh write lands after Get has seen the stale entry.
	onNow = func() { require.NoError(t, s.Set(ctx, "k", "fresh", 0)) }
	_, err := s.Get(ctx, "k")
	assert.ErrorIs(t, err, trustcore.ErrNotFound)

	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "fresh", got)
}

func TestStore_NoTTLNeverExpires(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	s := New(WithClock(clock.Now))
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "k", "v", 0))
	clock.Advance(24 * time.Hour)
	ok, _ := s.Exists(ctx, "k")
	assert.True(t, ok)
}

func TestStore_DeleteByPattern(t *testing.T) {
	s := New()
	ctx := context.Background()
	for _, k := range []string{"business:1:score", "business:1:reviews", "business:10:score", "businesses:list:x"} {
		require.NoError(t, s.Set(ctx, k, "x", time.Minute))
	}

	n, err := s.DeleteByPattern(ctx, "business:1:*")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	ok, _ := s.Exists(ctx, "business:10:score")
	assert.True(t, ok)
	ok, _ = s.Exists(ctx, "businesses:list:x")
	assert.True(t, ok)

	_, err = s.DeleteByPattern(ctx, "[")
	assert.Error(t, err)
}

func TestStore_DeleteAbsent(t *testing.T) {
	s := New()
	assert.NoError(t, s.Delete(context.Background(), "nope"))
}

func TestStore_CapacityEvictsOldest(t *testing.T) {
	s := New(WithCapacity(2))
	ctx := context.Background()
	require.NoError(t, s.Set(ctx, "a", "1", 0))
	require.NoError(t, s.Set(ctx, "b", "2", 0))
	require.NoError(t, s.Set(ctx, "c", "3", 0))

	_, err := s.Get(ctx, "a")
	assert.ErrorIs(t, err, trustcore.ErrNotFound)
	got, err := s.Get(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, "3", got)
}

func TestStore_Stats(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	s := New(WithClock(clock.Now))
	ctx := context.Background()
	require.NoError(t, s.Set(ctx, "ab", "cd", time.Second))
	require.NoError(t, s.Set(ctx, "ef", "gh", time.Hour))
	clock.Advance(2 * time.Second)

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.KeyCount)
	assert.Equal(t, int64(4), stats.MemoryUsedBytes)
	assert.Equal(t, "memory", stats.BackendVersion)

	require.NoError(t, s.Close())
	stats, _ = s.Stats(ctx)
	assert.Zero(t, stats.KeyCount)
}
