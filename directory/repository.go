// Package directory is the business directory's data access layer. Reads go
// through the cache service, writes run in retrying transactions and drop the
// cache entries they make stale.
package directory

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"trustcore"
	"trustcore/internal/migration"
	"trustcore/internal/sqlbuilder"
	"trustcore/trustscore"
)

//go:embed migrations
var migrationsFS embed.FS

var (
	ErrBusinessNotFound = errors.New("directory: business not found")
	ErrAlreadyEndorsed  = errors.New("directory: business already endorsed by this endorser")
	ErrInvalidInput     = errors.New("directory: invalid input")
)

const (
	DefaultAggregatesTTL = 10 * time.Minute
	DefaultListTTL       = 2 * time.Minute
	DefaultPageSize      = 20
	MaxPageSize          = 100
)

// Migrate applies the embedded schema for db's driver.
func Migrate(ctx context.Context, db *sqlx.DB, logger *zap.Logger) (int, error) {
	return migration.NewMigrator(db, migrationsFS, "migrations/"+db.DriverName(), logger).Migrate(ctx)
}

// Repository reads and writes directory data.
type Repository struct {
	db            *sqlx.DB
	cache         *trustcore.CacheService
	tx            *trustcore.TxExecutor
	dialect       trustcore.Dialect
	validate      *validator.Validate
	logger        *zap.Logger
	aggregatesTTL time.Duration
	listTTL       time.Duration
	batchOpts     []trustcore.BatchOption
	now           func() time.Time
}

// Option configures a Repository.
type Option func(*Repository)

func WithLogger(logger *zap.Logger) Option {
	return func(r *Repository) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithTTLs overrides how long aggregates and list pages stay cached.
func WithTTLs(aggregates, list time.Duration) Option {
	return func(r *Repository) {
		if aggregates > 0 {
			r.aggregatesTTL = aggregates
		}
		if list > 0 {
			r.listTTL = list
		}
	}
}

// WithBatchOptions are passed to RunBatches by RefreshTrustScores.
func WithBatchOptions(opts ...trustcore.BatchOption) Option {
	return func(r *Repository) { r.batchOpts = append(r.batchOpts, opts...) }
}

// NewRepository wires a repository over db. cache and tx are required.
func NewRepository(db *sqlx.DB, cache *trustcore.CacheService, tx *trustcore.TxExecutor, opts ...Option) *Repository {
	r := &Repository{
		db:            db,
		cache:         cache,
		tx:            tx,
		dialect:       trustcore.DialectFor(db.DriverName()),
		validate:      validator.New(),
		logger:        zap.NewNop(),
		aggregatesTTL: DefaultAggregatesTTL,
		listTTL:       DefaultListTTL,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.Named("directory")
	return r
}

func businessKey(id int64, part string) string {
	return trustcore.CacheKey("business", strconv.FormatInt(id, 10), part)
}

// CreateBusiness inserts a business and returns its id.
func (r *Repository) CreateBusiness(ctx context.Context, in NewBusiness) (int64, error) {
	if err := r.validate.Struct(in); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	id, err := trustcore.RunTransaction(ctx, r.tx, func(ctx context.Context, tx *sqlx.Tx) (int64, error) {
		return insertID(ctx, tx,
			"INSERT INTO businesses (name, category, city, description, created_at) VALUES (?, ?, ?, ?, ?)",
			in.Name, in.Category, in.City, in.Description, r.now().UTC())
	}, trustcore.WithName("business.create"))
	if err != nil {
		return 0, err
	}
	r.invalidateLists(ctx)
	return id, nil
}

// Business returns one business, cached under "business:<id>:profile".
func (r *Repository) Business(ctx context.Context, id int64) (Business, error) {
	return trustcore.GetOrCompute(ctx, r.cache, businessKey(id, "profile"), r.aggregatesTTL, func(ctx context.Context) (Business, error) {
		query := sqlbuilder.BuildSelectSQL(r.dialect, "businesses", businessColumns, r.dialect.Quote("id")+" = ?", "")
		var b Business
		err := r.db.GetContext(ctx, &b, r.db.Rebind(query), id)
		if errors.Is(err, sql.ErrNoRows) {
			return b, ErrBusinessNotFound
		}
		return b, err
	})
}

// Aggregates returns the trust score inputs of a business, cached under
// "business:<id>:trust-aggregates". The loader reads them in one transaction.
func (r *Repository) Aggregates(ctx context.Context, id int64) (Aggregates, error) {
	return trustcore.GetOrCompute(ctx, r.cache, businessKey(id, "trust-aggregates"), r.aggregatesTTL, func(ctx context.Context) (Aggregates, error) {
		return trustcore.RunTransaction(ctx, r.tx, func(ctx context.Context, tx *sqlx.Tx) (Aggregates, error) {
			var a Aggregates
			err := tx.GetContext(ctx, &a, tx.Rebind(aggregatesQuery), id)
			if errors.Is(err, sql.ErrNoRows) {
				return a, ErrBusinessNotFound
			}
			return a, err
		}, trustcore.WithName("business.aggregates"))
	})
}

const aggregatesQuery = `SELECT
	b.phone_verified,
	b.upi_verified,
	b.customer_retention_rate,
	b.description <> '' AS has_description,
	(SELECT COUNT(*) FROM reviews r WHERE r.business_id = b.id) AS total_reviews,
	(SELECT COALESCE(AVG(r.rating), 0) FROM reviews r WHERE r.business_id = b.id) AS average_rating,
	(SELECT COUNT(*) FROM endorsements e WHERE e.business_id = b.id) AS total_endorsements
FROM businesses b
WHERE b.id = ?`

// TrustScore computes the current trust score breakdown of a business.
func (r *Repository) TrustScore(ctx context.Context, id int64) (trustscore.Breakdown, error) {
	a, err := r.Aggregates(ctx, id)
	if err != nil {
		return trustscore.Breakdown{}, err
	}
	return trustscore.Compute(a.Input())
}

// ListBusinesses returns a page of businesses matching q, ordered by id.
// Pages are cached under QueryCacheKey("businesses", "list", q).
func (r *Repository) ListBusinesses(ctx context.Context, q ListQuery) ([]Business, error) {
	if q.Limit <= 0 {
		q.Limit = DefaultPageSize
	}
	q.Limit = min(q.Limit, MaxPageSize)
	q.Offset = max(q.Offset, 0)
	for _, f := range q.Filters {
		if !filterable[f.Field] {
			return nil, fmt.Errorf("%w: field %q is not filterable", trustcore.ErrInvalidFilter, f.Field)
		}
	}
	where, args, err := q.Filters.Where(r.dialect)
	if err != nil {
		return nil, err
	}
	key, err := trustcore.QueryCacheKey("businesses", "list", q)
	if err != nil {
		return nil, err
	}

	return trustcore.GetOrCompute(ctx, r.cache, key, r.listTTL, func(ctx context.Context) ([]Business, error) {
		query := sqlbuilder.BuildSelectSQL(r.dialect, "businesses", businessColumns, where, r.dialect.Quote("id")) + " LIMIT ? OFFSET ?"
		out := []Business{}
		if err := r.db.SelectContext(ctx, &out, r.db.Rebind(query), append(args, q.Limit, q.Offset)...); err != nil {
			return nil, err
		}
		return out, nil
	})
}

// AddReview records a review and drops the business's cached aggregates.
func (r *Repository) AddReview(ctx context.Context, in NewReview) (int64, error) {
	if err := r.validate.Struct(in); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	id, err := trustcore.RunTransaction(ctx, r.tx, func(ctx context.Context, tx *sqlx.Tx) (int64, error) {
		if err := businessExists(ctx, tx, in.BusinessID); err != nil {
			return 0, err
		}
		return insertID(ctx, tx,
			"INSERT INTO reviews (business_id, rating, comment, created_at) VALUES (?, ?, ?, ?)",
			in.BusinessID, in.Rating, in.Comment, r.now().UTC())
	}, trustcore.WithName("review.create"))
	if err != nil {
		return 0, err
	}
	r.invalidateBusiness(ctx, in.BusinessID)
	return id, nil
}

// AddEndorsement records that endorser vouches for a business. Each endorser
// may endorse a business once.
func (r *Repository) AddEndorsement(ctx context.Context, businessID int64, endorser string) (int64, error) {
	endorser = strings.TrimSpace(endorser)
	if businessID <= 0 || endorser == "" {
		return 0, fmt.Errorf("%w: business id and endorser are required", ErrInvalidInput)
	}
	id, err := trustcore.RunTransaction(ctx, r.tx, func(ctx context.Context, tx *sqlx.Tx) (int64, error) {
		if err := businessExists(ctx, tx, businessID); err != nil {
			return 0, err
		}
		id, err := insertID(ctx, tx,
			"INSERT INTO endorsements (business_id, endorser, created_at) VALUES (?, ?, ?)",
			businessID, endorser, r.now().UTC())
		if err != nil && isUniqueViolation(err) {
			return 0, ErrAlreadyEndorsed
		}
		return id, err
	}, trustcore.WithName("endorsement.create"))
	if err != nil {
		return 0, err
	}
	r.invalidateBusiness(ctx, businessID)
	return id, nil
}

// SetVerification replaces the verification flags of a business.
func (r *Repository) SetVerification(ctx context.Context, businessID int64, v Verification) error {
	if err := r.validate.Struct(v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	_, err := trustcore.RunTransaction(ctx, r.tx, func(ctx context.Context, tx *sqlx.Tx) (struct{}, error) {
		query := "UPDATE businesses SET phone_verified = ?, upi_verified = ? WHERE id = ?"
		args := []any{v.PhoneVerified, v.UPIVerified, businessID}
		if v.CustomerRetentionRate != nil {
			query = "UPDATE businesses SET phone_verified = ?, upi_verified = ?, customer_retention_rate = ? WHERE id = ?"
			args = []any{v.PhoneVerified, v.UPIVerified, *v.CustomerRetentionRate, businessID}
		}
		res, err := tx.ExecContext(ctx, tx.Rebind(query), args...)
		if err != nil {
			return struct{}{}, err
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return struct{}{}, ErrBusinessNotFound
		}
		return struct{}{}, nil
	}, trustcore.WithName("business.verify"))
	if err != nil {
		return err
	}
	r.invalidateBusiness(ctx, businessID)
	return nil
}

// RefreshTrustScores recomputes and persists the trust score of every id in
// chunks. One failing business does not stop the others.
func (r *Repository) RefreshTrustScores(ctx context.Context, ids []int64, progress trustcore.ProgressFunc) trustcore.BatchResult[ScoreSnapshot] {
	ops := make([]trustcore.Operation[ScoreSnapshot], len(ids))
	for i, id := range ids {
		ops[i] = func(ctx context.Context) (ScoreSnapshot, error) {
			return r.refreshOne(ctx, id)
		}
	}
	opts := append([]trustcore.BatchOption{trustcore.WithBatchLogger(r.logger)}, r.batchOpts...)
	if progress != nil {
		opts = append(opts, trustcore.WithProgress(progress))
	}
	res := trustcore.RunBatches(ctx, ops, opts...)
	if len(res.Results) > 0 {
		r.invalidateLists(ctx)
	}
	r.logger.Info("trust scores refreshed",
		zap.Int("requested", len(ids)),
		zap.Int("updated", len(res.Results)),
		zap.Int("failed", len(res.Errors)),
	)
	return res
}

func (r *Repository) refreshOne(ctx context.Context, id int64) (ScoreSnapshot, error) {
	// Always recompute from the primary store.
	_ = r.cache.Invalidate(ctx, businessKey(id, "trust-aggregates"))
	b, err := r.TrustScore(ctx, id)
	if err != nil {
		return ScoreSnapshot{}, err
	}
	_, err = trustcore.RunTransaction(ctx, r.tx, func(ctx context.Context, tx *sqlx.Tx) (struct{}, error) {
		_, err := tx.ExecContext(ctx, tx.Rebind("UPDATE businesses SET trust_score = ? WHERE id = ?"), b.CurrentScore, id)
		return struct{}{}, err
	}, trustcore.WithName("business.score"))
	if err != nil {
		return ScoreSnapshot{}, err
	}
	_ = r.cache.Invalidate(ctx, businessKey(id, "profile"))
	return ScoreSnapshot{BusinessID: id, Score: b.CurrentScore}, nil
}

// invalidateBusiness drops every cached entry of one business plus all list
// pages. Cache failures are logged by the cache service and never fail a write.
func (r *Repository) invalidateBusiness(ctx context.Context, id int64) {
	_, _ = r.cache.InvalidatePattern(ctx, trustcore.CacheKey("business", strconv.FormatInt(id, 10), "*"))
	r.invalidateLists(ctx)
}

func (r *Repository) invalidateLists(ctx context.Context) {
	_, _ = r.cache.InvalidatePattern(ctx, "businesses:list:*")
}

func businessExists(ctx context.Context, tx *sqlx.Tx, id int64) error {
	var one int
	err := tx.GetContext(ctx, &one, tx.Rebind("SELECT 1 FROM businesses WHERE id = ?"), id)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrBusinessNotFound
	}
	return err
}

// insertID runs an INSERT and returns the new id. Postgres has no
// LastInsertId, so it uses RETURNING instead.
func insertID(ctx context.Context, tx *sqlx.Tx, query string, args ...any) (int64, error) {
	if tx.DriverName() == "postgres" {
		var id int64
		err := tx.QueryRowxContext(ctx, tx.Rebind(query+" RETURNING id"), args...).Scan(&id)
		return id, err
	}
	res, err := tx.ExecContext(ctx, tx.Rebind(query), args...)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func isUniqueViolation(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "duplicate entry")
}
