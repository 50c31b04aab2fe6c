package trustcore

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultPoolPollInterval is how long Acquire sleeps between capacity checks.
const DefaultPoolPollInterval = 10 * time.Millisecond

// PoolGuard bounds the number of in-flight operations against the primary
// store. It is advisory back-pressure: waiters poll, there is no queue and no
// fairness between them.
type PoolGuard struct {
	max      int64
	poll     time.Duration
	inFlight atomic.Int64
	closed   atomic.Bool
}

// NewPoolGuard allows at most max concurrent holders. A non-positive poll
// interval uses DefaultPoolPollInterval.
func NewPoolGuard(max int, poll time.Duration) *PoolGuard {
	if max < 1 {
		max = 1
	}
	if poll <= 0 {
		poll = DefaultPoolPollInterval
	}
	return &PoolGuard{max: int64(max), poll: poll}
}

// Acquire blocks until a slot is free, ctx is done or the guard is closed.
// The returned release func is idempotent.
func (g *PoolGuard) Acquire(ctx context.Context) (func(), error) {
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		if g.closed.Load() {
			return nil, ErrPoolClosed
		}
		cur := g.inFlight.Load()
		if cur < g.max {
			if g.inFlight.CompareAndSwap(cur, cur+1) {
				var once sync.Once
				return func() { once.Do(func() { g.inFlight.Add(-1) }) }, nil
			}
			continue
		}

		if timer == nil {
			timer = time.NewTimer(g.poll)
		} else {
			timer.Reset(g.poll)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

// InFlight returns the number of slots currently held.
func (g *PoolGuard) InFlight() int { return int(g.inFlight.Load()) }

// Max returns the configured capacity.
func (g *PoolGuard) Max() int { return int(g.max) }

// Close makes every later Acquire fail with ErrPoolClosed. Held slots stay valid.
func (g *PoolGuard) Close() { g.closed.Store(true) }
