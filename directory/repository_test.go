package directory

import (
	"context"
	"errors"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trustcore"
	"trustcore/drivers/cache/memory"
)

type fixture struct {
	db      *sqlx.DB
	store   *memory.Store
	cache   *trustcore.CacheService
	monitor *trustcore.QueryMonitor
	repo    *Repository
}

// setupRepository migrates a fresh SQLite file and wires a repository over
// an in-memory cache.
func setupRepository(tb testing.TB) *fixture {
	tb.Helper()
	dsn := filepath.Join(tb.TempDir(), "directory.db") + "?_busy_timeout=5000"
	db, err := sqlx.Open("sqlite3", dsn)
	require.NoError(tb, err)
	db.SetMaxOpenConns(1)
	tb.Cleanup(func() { _ = db.Close() })

	_, err = Migrate(context.Background(), db, nil)
	require.NoError(tb, err)

	store := memory.New()
	monitor := trustcore.NewQueryMonitor()
	cache := trustcore.NewCacheService(store, trustcore.WithQueryMonitor(monitor))
	exec := trustcore.NewTxExecutor(db,
		trustcore.WithExecutorMonitor(monitor),
		trustcore.WithTxDefaults(trustcore.WithBackoff(time.Millisecond, 5*time.Millisecond)),
	)
	repo := NewRepository(db, cache, exec, WithBatchOptions(trustcore.WithBatchDelay(0)))
	return &fixture{db: db, store: store, cache: cache, monitor: monitor, repo: repo}
}

func (f *fixture) createBusiness(t *testing.T, name, category, city string) int64 {
	t.Helper()
	id, err := f.repo.CreateBusiness(context.Background(), NewBusiness{Name: name, Category: category, City: city})
	require.NoError(t, err)
	return id
}

func (f *fixture) cached(t *testing.T, key string) bool {
	t.Helper()
	ok, err := f.store.Exists(context.Background(), key)
	require.NoError(t, err)
	return ok
}

func TestMigrate_Idempotent(t *testing.T) {
	f := setupRepository(t)
	n, err := Migrate(context.Background(), f.db, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestTrustScore_FromAggregates(t *testing.T) {
	f := setupRepository(t)
	ctx := context.Background()
	id := f.createBusiness(t, "Chai Point", "cafe", "Pune")

	for i := 0; i < 20; i++ {
		_, err := f.repo.AddReview(ctx, NewReview{BusinessID: id, Rating: 5})
		require.NoError(t, err)
	}
	for i := 0; i < 10; i++ {
		_, err := f.repo.AddEndorsement(ctx, id, "neighbour-"+string(rune('a'+i)))
		require.NoError(t, err)
	}
	rate := 0.8
	require.NoError(t, f.repo.SetVerification(ctx, id, Verification{PhoneVerified: true, UPIVerified: true, CustomerRetentionRate: &rate}))

	b, err := f.repo.TrustScore(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 99, b.CurrentScore)
	assert.Equal(t, 20, b.Reviews.TotalReviews)
	assert.Equal(t, 5.0, b.Reviews.AverageRating)
	assert.Empty(t, b.Recommendations)
	assert.True(t, f.cached(t, "business:"+itoa(id)+":trust-aggregates"))
}

func TestTrustScore_CachedUntilWrite(t *testing.T) {
	f := setupRepository(t)
	ctx := context.Background()
	id := f.createBusiness(t, "Lassi Corner", "cafe", "Mumbai")

	first, err := f.repo.TrustScore(ctx, id)
	require.NoError(t, err)
	_, err = f.repo.TrustScore(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1, f.monitor.Stats().OperationFrequency()["tx:business.aggregates"], "second read is served from cache")

	_, err = f.repo.AddReview(ctx, NewReview{BusinessID: id, Rating: 4})
	require.NoError(t, err)
	assert.False(t, f.cached(t, "business:"+itoa(id)+":trust-aggregates"), "write drops stale aggregates")

	second, err := f.repo.TrustScore(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1, second.Reviews.TotalReviews)
	assert.Greater(t, second.CurrentScore, first.CurrentScore)
}

func TestTrustScore_UnknownBusiness(t *testing.T) {
	f := setupRepository(t)
	_, err := f.repo.TrustScore(context.Background(), 404)
	assert.ErrorIs(t, err, ErrBusinessNotFound)
	assert.False(t, f.cached(t, "business:404:trust-aggregates"))
}

func TestListBusinesses_FiltersAndCache(t *testing.T) {
	f := setupRepository(t)
	ctx := context.Background()
	f.createBusiness(t, "Chai Point", "cafe", "Pune")
	f.createBusiness(t, "Style Studio", "salon", "Pune")
	f.createBusiness(t, "Lassi Corner", "cafe", "Mumbai")

	q := ListQuery{Filters: trustcore.Filters{
		{Field: "category", Op: trustcore.OpEq, Value: "cafe"},
		{Field: "city", Op: trustcore.OpIn, Value: []string{"Pune", "Mumbai"}},
	}}
	list, err := f.repo.ListBusinesses(ctx, q)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "Chai Point", list[0].Name)
	assert.Equal(t, "Lassi Corner", list[1].Name)

	key, err := trustcore.QueryCacheKey("businesses", "list", ListQuery{Filters: q.Filters, Limit: DefaultPageSize})
	require.NoError(t, err)
	assert.True(t, f.cached(t, key))

	// A new business drops every cached page.
	f.createBusiness(t, "Filter Kaapi", "cafe", "Pune")
	assert.False(t, f.cached(t, key))
	list, err = f.repo.ListBusinesses(ctx, q)
	require.NoError(t, err)
	assert.Len(t, list, 3)
}

func TestListBusinesses_Paging(t *testing.T) {
	f := setupRepository(t)
	ctx := context.Background()
	for _, name := range []string{"a", "b", "c"} {
		f.createBusiness(t, name, "shop", "Pune")
	}
	page, err := f.repo.ListBusinesses(ctx, ListQuery{Limit: 2, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "b", page[0].Name)
}

func TestListBusinesses_RejectsUnknownField(t *testing.T) {
	f := setupRepository(t)
	_, err := f.repo.ListBusinesses(context.Background(), ListQuery{Filters: trustcore.Filters{
		{Field: "password_hash", Op: trustcore.OpEq, Value: "x"},
	}})
	assert.ErrorIs(t, err, trustcore.ErrInvalidFilter)
}

func TestAddReview_Validation(t *testing.T) {
	f := setupRepository(t)
	ctx := context.Background()
	id := f.createBusiness(t, "Chai Point", "cafe", "Pune")

	_, err := f.repo.AddReview(ctx, NewReview{BusinessID: id, Rating: 6})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = f.repo.AddReview(ctx, NewReview{BusinessID: id + 100, Rating: 3})
	assert.ErrorIs(t, err, ErrBusinessNotFound)
}

func TestAddEndorsement_Duplicate(t *testing.T) {
	f := setupRepository(t)
	ctx := context.Background()
	id := f.createBusiness(t, "Chai Point", "cafe", "Pune")

	_, err := f.repo.AddEndorsement(ctx, id, "bakery-42")
	require.NoError(t, err)
	_, err = f.repo.AddEndorsement(ctx, id, "bakery-42")
	assert.ErrorIs(t, err, ErrAlreadyEndorsed)

	a, err := f.repo.Aggregates(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1, a.TotalEndorsements)
}

func TestSetVerification_UnknownBusiness(t *testing.T) {
	f := setupRepository(t)
	err := f.repo.SetVerification(context.Background(), 999, Verification{UPIVerified: true})
	assert.ErrorIs(t, err, ErrBusinessNotFound)
}

func TestBusiness_ProfileCache(t *testing.T) {
	f := setupRepository(t)
	ctx := context.Background()
	id := f.createBusiness(t, "Chai Point", "cafe", "Pune")

	b, err := f.repo.Business(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Chai Point", b.Name)
	assert.False(t, b.UPIVerified)

	require.NoError(t, f.repo.SetVerification(ctx, id, Verification{UPIVerified: true}))
	b, err = f.repo.Business(ctx, id)
	require.NoError(t, err)
	assert.True(t, b.UPIVerified)
}

func TestRefreshTrustScores(t *testing.T) {
	f := setupRepository(t)
	ctx := context.Background()
	a := f.createBusiness(t, "Chai Point", "cafe", "Pune")
	b := f.createBusiness(t, "Lassi Corner", "cafe", "Mumbai")
	require.NoError(t, f.repo.SetVerification(ctx, b, Verification{UPIVerified: true}))

	var mu sync.Mutex
	var progress [][2]int
	res := f.repo.RefreshTrustScores(ctx, []int64{a, 4040, b}, func(done, total int) {
		mu.Lock()
		progress = append(progress, [2]int{done, total})
		mu.Unlock()
	})

	assert.Len(t, res.Results, 2)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, 1, res.Errors[0].Index)
	assert.True(t, errors.Is(res.Errors[0], ErrBusinessNotFound))
	assert.Equal(t, [][2]int{{3, 3}}, progress)

	biz, err := f.repo.Business(ctx, b)
	require.NoError(t, err)
	// verification 95*20 + engagement 70*15 = 2950
	assert.Equal(t, 30, biz.TrustScore)
}

func itoa(id int64) string { return strconv.FormatInt(id, 10) }
