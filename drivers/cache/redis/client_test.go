package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trustcore"
)

func setupStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	s, err := NewStore(rdb, &Options{TripAfter: 2, BreakerTimeout: time.Minute})
	require.NoError(t, err)
	return s, mr
}

func TestStore_SetGet(t *testing.T) {
	s, _ := setupStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "business:1:score", `{"score":98}`, time.Minute))
	got, err := s.Get(ctx, "business:1:score")
	require.NoError(t, err)
	assert.Equal(t, `{"score":98}`, got)

	_, err = s.Get(ctx, "business:2:score")
	assert.ErrorIs(t, err, trustcore.ErrNotFound)

	counters := s.Counters()
	assert.Equal(t, 2, counters["Get"])
	assert.Equal(t, 1, counters["GetHit"])
	assert.Equal(t, 1, counters["GetMiss"])
}

func TestStore_TTLExpiry(t *testing.T) {
	s, mr := setupStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "k", "v", time.Second))
	ok, err := s.Exists(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)

	mr.FastForward(2 * time.Second)

	_, err = s.Get(ctx, "k")
	assert.ErrorIs(t, err, trustcore.ErrNotFound)
	ok, err = s.Exists(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_DeleteAbsentKey(t *testing.T) {
	s, _ := setupStore(t)
	assert.NoError(t, s.Delete(context.Background(), "missing"))
}

func TestStore_DeleteByPattern(t *testing.T) {
	s, mr := setupStore(t)
	ctx := context.Background()

	for _, k := range []string{"business:1:score", "business:1:reviews", "business:2:score", "businesses:list:abc"} {
		require.NoError(t, s.Set(ctx, k, "x", time.Minute))
	}

	n, err := s.DeleteByPattern(ctx, "business:1:*")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.False(t, mr.Exists("business:1:score"))
	assert.False(t, mr.Exists("business:1:reviews"))
	assert.True(t, mr.Exists("business:2:score"))
	assert.True(t, mr.Exists("businesses:list:abc"))

	n, err = s.DeleteByPattern(ctx, "nothing:*")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestStore_Stats(t *testing.T) {
	s, _ := setupStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "a", "1", time.Minute))
	require.NoError(t, s.Set(ctx, "b", "2", time.Minute))

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.KeyCount)
}

func TestStore_BreakerOpensOnFailures(t *testing.T) {
	s, mr := setupStore(t)
	ctx := context.Background()
	mr.Close()

	for i := 0; i < 2; i++ {
		_, err := s.Get(ctx, "k")
		require.Error(t, err)
	}
	assert.Equal(t, gobreaker.StateOpen, s.BreakerState())

	_, err := s.Get(ctx, "k")
	require.Error(t, err)
	assert.True(t, errors.Is(err, gobreaker.ErrOpenState))
}

func TestStore_MissDoesNotTripBreaker(t *testing.T) {
	s, _ := setupStore(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, err := s.Get(ctx, "absent")
		require.ErrorIs(t, err, trustcore.ErrNotFound)
	}
	assert.Equal(t, gobreaker.StateClosed, s.BreakerState())
}

func TestNewStore_BadURL(t *testing.T) {
	_, err := NewStore(nil, &Options{URL: "::not a url"})
	assert.Error(t, err)
}

func TestStore_CloseLeavesInjectedClientOpen(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	s, err := NewStore(rdb, nil)
	require.NoError(t, err)
	require.NoError(t, s.Close())
	assert.NoError(t, rdb.Ping(context.Background()).Err())
}

func TestNewStore_OwnsClientFromURL(t *testing.T) {
	mr := miniredis.RunT(t)
	s, err := NewStore(nil, &Options{URL: "redis://" + mr.Addr()})
	require.NoError(t, err)
	require.NoError(t, s.Set(context.Background(), "k", "v", 0))
	assert.NoError(t, s.Close())
}
