package trustcore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Transaction defaults.
const (
	DefaultMaxAttempts  = 3
	DefaultTxTimeout    = 5 * time.Second
	DefaultBackoffBase  = time.Second
	DefaultBackoffLimit = 30 * time.Second
)

type txSettings struct {
	name        string
	maxAttempts int
	timeout     time.Duration
	baseDelay   time.Duration
	maxDelay    time.Duration
	txOptions   *sql.TxOptions
}

// TxOption tunes a single RunTransaction call, or the executor defaults via WithTxDefaults.
type TxOption func(*txSettings)

// WithMaxRetries sets the total number of attempts (including the first one).
func WithMaxRetries(n int) TxOption {
	return func(s *txSettings) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// WithTimeout bounds a single attempt. The executor stops waiting once it
// elapses; the attempt context is cancelled so the driver can roll back.
func WithTimeout(d time.Duration) TxOption {
	return func(s *txSettings) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithBackoff sets the base and cap of the exponential delay between attempts.
func WithBackoff(base, max time.Duration) TxOption {
	return func(s *txSettings) {
		if base > 0 {
			s.baseDelay = base
		}
		if max > 0 {
			s.maxDelay = max
		}
	}
}

// WithTxOptions passes isolation level / read-only flags to BeginTxx.
func WithTxOptions(opts *sql.TxOptions) TxOption {
	return func(s *txSettings) { s.txOptions = opts }
}

// WithName labels the transaction in logs, spans and query records.
func WithName(name string) TxOption {
	return func(s *txSettings) {
		if name != "" {
			s.name = name
		}
	}
}

// TxExecutor runs units of work against the primary store with bounded
// retries on transient conflicts. It holds no per-call state.
type TxExecutor struct {
	db       TxBeginner
	guard    *PoolGuard
	monitor  *QueryMonitor
	metrics  *Metrics
	logger   *zap.Logger
	tracer   trace.Tracer
	defaults txSettings
	sleep    func(ctx context.Context, d time.Duration) error
}

// ExecutorOption configures a TxExecutor.
type ExecutorOption func(*TxExecutor)

// WithPoolGuard admits attempts through g before opening a transaction.
func WithPoolGuard(g *PoolGuard) ExecutorOption {
	return func(e *TxExecutor) { e.guard = g }
}

// WithExecutorMonitor records every attempt as "tx:<name>".
func WithExecutorMonitor(m *QueryMonitor) ExecutorOption {
	return func(e *TxExecutor) { e.monitor = m }
}

// WithExecutorMetrics counts attempts by outcome.
func WithExecutorMetrics(m *Metrics) ExecutorOption {
	return func(e *TxExecutor) { e.metrics = m }
}

// WithExecutorLogger sets the executor logger.
func WithExecutorLogger(logger *zap.Logger) ExecutorOption {
	return func(e *TxExecutor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithTxDefaults changes the settings every RunTransaction call starts from.
func WithTxDefaults(opts ...TxOption) ExecutorOption {
	return func(e *TxExecutor) {
		for _, opt := range opts {
			opt(&e.defaults)
		}
	}
}

// NewTxExecutor creates an executor over db (usually a *sqlx.DB).
func NewTxExecutor(db TxBeginner, opts ...ExecutorOption) *TxExecutor {
	e := &TxExecutor{
		db:     db,
		logger: zap.NewNop(),
		tracer: otel.Tracer("trustcore"),
		defaults: txSettings{
			name:        "transaction",
			maxAttempts: DefaultMaxAttempts,
			timeout:     DefaultTxTimeout,
			baseDelay:   DefaultBackoffBase,
			maxDelay:    DefaultBackoffLimit,
		},
		sleep: sleepContext,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.Named("tx")
	return e
}

// RunTransaction runs fn inside a fresh transaction, committing on success.
// Retryable failures (see IsRetryable) are retried with exponential backoff
// until the attempts run out, after which a *TransactionError wrapping the
// last error is returned. Any other error from fn is returned unchanged after
// the first attempt. fn must be safe to run more than once.
func RunTransaction[T any](ctx context.Context, e *TxExecutor, fn TxFunc[T], opts ...TxOption) (T, error) {
	var zero T
	if e == nil || e.db == nil {
		return zero, ErrDatabaseNotSet
	}
	cfg := e.defaults
	for _, opt := range opts {
		opt(&cfg)
	}

	txID := uuid.NewString()
	logger := e.logger.With(zap.String("tx", cfg.name), zap.String("tx_id", txID))
	ctx, span := e.tracer.Start(ctx, "trustcore.tx",
		trace.WithAttributes(attribute.String("tx.name", cfg.name), attribute.String("tx.id", txID)))
	defer span.End()

	var lastErr error
	for attempt := 0; attempt < cfg.maxAttempts; attempt++ {
		v, err := runAttempt(ctx, e, cfg, fn)
		if err == nil {
			e.metrics.txAttempt("committed")
			if attempt > 0 {
				logger.Info("transaction succeeded after retry", zap.Int("attempt", attempt+1))
			}
			span.SetAttributes(attribute.Int("tx.attempts", attempt+1))
			return v, nil
		}
		lastErr = err

		if ctxErr := ctx.Err(); ctxErr != nil {
			e.metrics.txAttempt("failed")
			span.SetStatus(codes.Error, ctxErr.Error())
			return zero, err
		}
		if !IsRetryable(err) {
			e.metrics.txAttempt("failed")
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return zero, err
		}
		if attempt == cfg.maxAttempts-1 {
			break
		}

		delay := backoffDelay(attempt, cfg.baseDelay, cfg.maxDelay)
		e.metrics.txAttempt("retried")
		logger.Warn("retrying transaction",
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		if err := e.sleep(ctx, delay); err != nil {
			return zero, err
		}
	}

	e.metrics.txAttempt("failed")
	txErr := &TransactionError{Name: cfg.name, Attempts: cfg.maxAttempts, Err: lastErr}
	logger.Error("transaction retries exhausted", zap.Int("attempts", cfg.maxAttempts), zap.Error(lastErr))
	span.RecordError(txErr)
	span.SetStatus(codes.Error, txErr.Error())
	return zero, txErr
}

type attemptResult[T any] struct {
	v   T
	err error
}

// runAttempt races one transaction against cfg.timeout. On timeout it stops
// waiting; cancelling the attempt context lets database/sql roll back.
func runAttempt[T any](ctx context.Context, e *TxExecutor, cfg txSettings, fn TxFunc[T]) (T, error) {
	var zero T
	release := func() {}
	if e.guard != nil {
		r, err := e.guard.Acquire(ctx)
		if err != nil {
			return zero, err
		}
		release = r
	}

	attemptCtx, cancel := context.WithTimeout(ctx, cfg.timeout)
	defer cancel()
	stop := e.monitor.StartTracking("tx:" + cfg.name)

	done := make(chan attemptResult[T], 1)
	go func() {
		defer release()
		v, err := execTx(attemptCtx, e.db, cfg.txOptions, fn)
		done <- attemptResult[T]{v: v, err: err}
	}()

	select {
	case r := <-done:
		err := r.err
		if err != nil && ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %v", ErrTransactionTimeout, err)
			e.metrics.txAttempt("timeout")
		}
		stop(err)
		return r.v, err
	case <-attemptCtx.Done():
		if err := ctx.Err(); err != nil {
			stop(err)
			return zero, err
		}
		err := fmt.Errorf("%w after %s", ErrTransactionTimeout, cfg.timeout)
		e.metrics.txAttempt("timeout")
		stop(err)
		return zero, err
	}
}

func execTx[T any](ctx context.Context, db TxBeginner, opts *sql.TxOptions, fn TxFunc[T]) (v T, err error) {
	tx, err := db.BeginTxx(ctx, opts)
	if err != nil {
		return v, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			err = fmt.Errorf("trustcore: unit of work panicked: %v", p)
		}
	}()

	v, err = fn(ctx, tx)
	if err != nil {
		_ = rollback(tx)
		return v, err
	}
	if err := tx.Commit(); err != nil {
		return v, fmt.Errorf("commit transaction: %w", err)
	}
	return v, nil
}

func rollback(tx *sqlx.Tx) error {
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return err
	}
	return nil
}

// backoffDelay returns min(base * 2^attempt, max).
func backoffDelay(attempt int, base, max time.Duration) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt >= 32 {
		return max
	}
	d := base << uint(attempt)
	if d <= 0 || d > max {
		return max
	}
	return d
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
