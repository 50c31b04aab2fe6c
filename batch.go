package trustcore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Batch defaults.
const (
	DefaultBatchSize  = 10
	DefaultBatchDelay = 100 * time.Millisecond
)

// BatchError is a failed operation and its position in the input slice.
type BatchError struct {
	Index int
	Err   error
}

func (e BatchError) Error() string { return fmt.Sprintf("operation %d: %v", e.Index, e.Err) }

func (e BatchError) Unwrap() error { return e.Err }

// BatchResult collects the outcome of RunBatches. Results are in completion
// order within a chunk and chunks in submission order; Errors are sorted by Index.
type BatchResult[T any] struct {
	Results []T
	Errors  []BatchError
}

// ProgressFunc is called after each chunk with the number of finished operations.
type ProgressFunc func(completed, total int)

type batchSettings struct {
	size     int
	delay    time.Duration
	progress ProgressFunc
	metrics  *Metrics
	logger   *zap.Logger
}

// BatchOption configures RunBatches.
type BatchOption func(*batchSettings)

// WithBatchSize sets how many operations run concurrently per chunk.
func WithBatchSize(n int) BatchOption {
	return func(s *batchSettings) {
		if n > 0 {
			s.size = n
		}
	}
}

// WithBatchDelay sets the pause between chunks. Zero disables it.
func WithBatchDelay(d time.Duration) BatchOption {
	return func(s *batchSettings) {
		if d >= 0 {
			s.delay = d
		}
	}
}

// WithProgress registers a callback invoked after every chunk.
func WithProgress(fn ProgressFunc) BatchOption {
	return func(s *batchSettings) { s.progress = fn }
}

// WithBatchMetrics counts items by status.
func WithBatchMetrics(m *Metrics) BatchOption {
	return func(s *batchSettings) { s.metrics = m }
}

// WithBatchLogger sets the logger used for per-chunk debug output.
func WithBatchLogger(logger *zap.Logger) BatchOption {
	return func(s *batchSettings) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// RunBatches runs ops in chunks of the configured size. Chunks run one after
// another; operations within a chunk run concurrently and a failure never
// cancels its siblings. If ctx is done before a chunk starts, every remaining
// operation is reported as failed with ctx.Err().
func RunBatches[T any](ctx context.Context, ops []Operation[T], opts ...BatchOption) BatchResult[T] {
	cfg := batchSettings{size: DefaultBatchSize, delay: DefaultBatchDelay, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&cfg)
	}

	var res BatchResult[T]
	total := len(ops)
	for start := 0; start < total; start += cfg.size {
		end := min(start+cfg.size, total)

		if err := ctx.Err(); err != nil {
			for i := start; i < total; i++ {
				res.Errors = append(res.Errors, BatchError{Index: i, Err: err})
				cfg.metrics.batchItem("cancelled")
			}
			break
		}

		results, errs := runChunk(ctx, ops, start, end, cfg.metrics)
		res.Results = append(res.Results, results...)
		res.Errors = append(res.Errors, errs...)
		cfg.logger.Debug("batch chunk finished",
			zap.Int("from", start),
			zap.Int("to", end),
			zap.Int("failed", len(errs)),
		)

		if cfg.progress != nil {
			cfg.progress(end, total)
		}
		if end < total && cfg.delay > 0 {
			if err := sleepContext(ctx, cfg.delay); err != nil {
				continue // next iteration reports the remaining ops as cancelled
			}
		}
	}
	return res
}

func runChunk[T any](ctx context.Context, ops []Operation[T], start, end int, metrics *Metrics) ([]T, []BatchError) {
	var (
		mu      sync.Mutex
		results []T
		errs    []BatchError
		g       errgroup.Group
	)
	for i := start; i < end; i++ {
		idx, op := i, ops[i]
		g.Go(func() error {
			v, err := callOperation(ctx, op)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, BatchError{Index: idx, Err: err})
				metrics.batchItem("failed")
				return nil
			}
			results = append(results, v)
			metrics.batchItem("succeeded")
			return nil
		})
	}
	_ = g.Wait()
	sort.Slice(errs, func(i, j int) bool { return errs[i].Index < errs[j].Index })
	return results, errs
}

// callOperation converts a panic inside op into an error so one bad item
// cannot take down the chunk.
func callOperation[T any](ctx context.Context, op Operation[T]) (v T, err error) {
	if op == nil {
		return v, fmt.Errorf("trustcore: nil operation")
	}
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("trustcore: operation panicked: %v", p)
		}
	}()
	return op(ctx)
}
