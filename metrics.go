package trustcore

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors shared by the cache service, the
// query monitor and the transaction executor. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	CacheRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
	TxAttempts    *prometheus.CounterVec
	BatchItems    *prometheus.CounterVec
}

// NewMetrics creates the collectors under namespace and registers them with reg.
// Passing a nil registerer builds unregistered collectors, which is handy in tests.
func NewMetrics(namespace string, reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		CacheRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_requests_total",
				Help:      "Cache lookups by result (hit, miss, error, malformed).",
			},
			[]string{"result"},
		),
		QueryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "query_duration_seconds",
				Help:      "Duration of monitored data-access operations.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation", "status"},
		),
		TxAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tx_attempts_total",
				Help:      "Transaction attempts by outcome (committed, retried, failed, timeout).",
			},
			[]string{"outcome"},
		),
		BatchItems: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "batch_items_total",
				Help:      "Batch executor items by status.",
			},
			[]string{"status"},
		),
	}

	if reg != nil {
		for _, c := range []prometheus.Collector{m.CacheRequests, m.QueryDuration, m.TxAttempts, m.BatchItems} {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

func (m *Metrics) cacheResult(result string) {
	if m == nil {
		return
	}
	m.CacheRequests.WithLabelValues(result).Inc()
}

func (m *Metrics) observeQuery(operation string, d time.Duration, success bool) {
	if m == nil {
		return
	}
	status := "ok"
	if !success {
		status = "error"
	}
	m.QueryDuration.WithLabelValues(operation, status).Observe(d.Seconds())
}

func (m *Metrics) txAttempt(outcome string) {
	if m == nil {
		return
	}
	m.TxAttempts.WithLabelValues(outcome).Inc()
}

func (m *Metrics) batchItem(status string) {
	if m == nil {
		return
	}
	m.BatchItems.WithLabelValues(status).Inc()
}
