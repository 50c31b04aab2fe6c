package trustcore

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultMonitorCapacity is how many recent records a QueryMonitor keeps.
	DefaultMonitorCapacity = 1000
	// DefaultSlowQueryThreshold is the duration at which a record is logged as slow.
	DefaultSlowQueryThreshold = time.Second
)

// QueryRecord is one monitored data-access operation. Immutable once recorded.
type QueryRecord struct {
	Operation string        `json:"operation"`
	Duration  time.Duration `json:"duration"`
	Timestamp time.Time     `json:"timestamp"`
	Success   bool          `json:"success"`
}

// QueryStats is a snapshot of a QueryMonitor.
type QueryStats struct {
	// Records holds the retained records, oldest first.
	Records []QueryRecord `json:"records"`
	// TotalCount is len(Records).
	TotalCount int `json:"totalCount"`
	// TotalRecorded counts every record ever appended, including dropped ones.
	TotalRecorded   int64         `json:"totalRecorded"`
	AverageDuration time.Duration `json:"averageDuration"`
	Since           time.Time     `json:"since"`
}

// SlowQueries returns records at or above threshold, slowest first.
func (s QueryStats) SlowQueries(threshold time.Duration) []QueryRecord {
	var slow []QueryRecord
	for _, r := range s.Records {
		if r.Duration >= threshold {
			slow = append(slow, r)
		}
	}
	sort.SliceStable(slow, func(i, j int) bool { return slow[i].Duration > slow[j].Duration })
	return slow
}

// OperationFrequency counts retained records per operation name.
func (s QueryStats) OperationFrequency() map[string]int {
	freq := make(map[string]int)
	for _, r := range s.Records {
		freq[r.Operation]++
	}
	return freq
}

// QueryMonitor keeps the most recent query records in a fixed-size ring buffer.
// Appends are O(1); the oldest record is overwritten once the buffer is full.
type QueryMonitor struct {
	mu        sync.Mutex
	buf       []QueryRecord
	next      int // index of the slot the next record goes into
	size      int
	recorded  int64
	startedAt time.Time

	slowThreshold time.Duration
	now           func() time.Time
	metrics       *Metrics
	logger        *zap.Logger
}

// MonitorOption configures a QueryMonitor.
type MonitorOption func(*QueryMonitor)

// WithCapacity overrides how many records are retained.
func WithCapacity(n int) MonitorOption {
	return func(m *QueryMonitor) {
		if n > 0 {
			m.buf = make([]QueryRecord, n)
		}
	}
}

// WithSlowQueryThreshold sets the duration at which records are logged as slow.
// Zero disables slow logging.
func WithSlowQueryThreshold(d time.Duration) MonitorOption {
	return func(m *QueryMonitor) { m.slowThreshold = d }
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) MonitorOption {
	return func(m *QueryMonitor) {
		if now != nil {
			m.now = now
		}
	}
}

// WithMonitorMetrics observes every record into m.QueryDuration.
func WithMonitorMetrics(metrics *Metrics) MonitorOption {
	return func(m *QueryMonitor) { m.metrics = metrics }
}

// WithMonitorLogger sets the logger used for slow query warnings.
func WithMonitorLogger(logger *zap.Logger) MonitorOption {
	return func(m *QueryMonitor) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// NewQueryMonitor creates a monitor. Create one per process and pass it around.
func NewQueryMonitor(opts ...MonitorOption) *QueryMonitor {
	m := &QueryMonitor{
		buf:           make([]QueryRecord, DefaultMonitorCapacity),
		slowThreshold: DefaultSlowQueryThreshold,
		now:           time.Now,
		logger:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.Named("query_monitor")
	m.startedAt = m.now()
	return m
}

// StartTracking captures the start time of operation. Calling the returned
// function records the elapsed time (success when err is nil) and returns it.
func (m *QueryMonitor) StartTracking(operation string) func(err error) time.Duration {
	if m == nil {
		start := time.Now()
		return func(error) time.Duration { return time.Since(start) }
	}
	start := m.now()
	return func(err error) time.Duration {
		d := m.now().Sub(start)
		m.RecordQuery(operation, d, err == nil)
		return d
	}
}

// RecordQuery appends a record for callers that already measured the duration.
func (m *QueryMonitor) RecordQuery(operation string, d time.Duration, success bool) {
	if m == nil {
		return
	}
	rec := QueryRecord{
		Operation: operation,
		Duration:  d,
		Timestamp: m.now(),
		Success:   success,
	}

	m.mu.Lock()
	m.buf[m.next] = rec
	m.next = (m.next + 1) % len(m.buf)
	if m.size < len(m.buf) {
		m.size++
	}
	m.recorded++
	m.mu.Unlock()

	m.metrics.observeQuery(operation, d, success)
	if m.slowThreshold > 0 && d >= m.slowThreshold {
		m.logger.Warn("slow query",
			zap.String("operation", operation),
			zap.Duration("duration", d),
			zap.Bool("success", success),
		)
	}
}

// Stats returns a copy of the retained records plus aggregate figures.
func (m *QueryMonitor) Stats() QueryStats {
	if m == nil {
		return QueryStats{Records: []QueryRecord{}}
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	records := make([]QueryRecord, m.size)
	start := (m.next - m.size + len(m.buf)) % len(m.buf)
	var total time.Duration
	for i := 0; i < m.size; i++ {
		r := m.buf[(start+i)%len(m.buf)]
		records[i] = r
		total += r.Duration
	}

	var avg time.Duration
	if m.size > 0 {
		avg = total / time.Duration(m.size)
	}
	return QueryStats{
		Records:         records,
		TotalCount:      m.size,
		TotalRecorded:   m.recorded,
		AverageDuration: avg,
		Since:           m.startedAt,
	}
}

// Reset drops every retained record and restarts the Since clock.
func (m *QueryMonitor) Reset() {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.buf {
		m.buf[i] = QueryRecord{}
	}
	m.next, m.size, m.recorded = 0, 0, 0
	m.startedAt = m.now()
}
