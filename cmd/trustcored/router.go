package main

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"trustcore"
	"trustcore/internal/di"
)

// NewRouter exposes the debug endpoints of app.
func NewRouter(app *di.App) http.Handler {
	h := &handlers{app: app, logger: app.Logger.Named("http")}

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", h.health)
	r.Handle("/metrics", promhttp.HandlerFor(app.Registry, promhttp.HandlerOpts{}))
	r.Route("/debug", func(r chi.Router) {
		r.Get("/cache", h.cacheStats)
		r.Get("/queries", h.queryStats)
	})
	return r
}

type handlers struct {
	app    *di.App
	logger *zap.Logger
}

type healthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database"`
	Cache    string `json:"cache"`
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := healthResponse{Status: "ok", Database: "ok"}
	code := http.StatusOK
	if err := h.app.DB.PingContext(ctx); err != nil {
		h.logger.Warn("database ping failed", zap.Error(err))
		resp.Status, resp.Database = "degraded", err.Error()
		code = http.StatusServiceUnavailable
	}
	// The cache is optional; report which backend answers but never fail on it.
	if st, err := h.app.Store.Stats(ctx); err != nil {
		resp.Cache = "unavailable"
	} else {
		resp.Cache = st.BackendVersion
	}
	writeJSON(w, code, resp)
}

func (h *handlers) cacheStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.app.Cache.Stats(r.Context()))
}

type slowQuery struct {
	Operation  string    `json:"operation"`
	DurationMS int64     `json:"durationMs"`
	Timestamp  time.Time `json:"timestamp"`
	Success    bool      `json:"success"`
}

type queryStatsResponse struct {
	TotalCount        int            `json:"totalCount"`
	TotalRecorded     int64          `json:"totalRecorded"`
	AverageDurationMS float64        `json:"averageDurationMs"`
	Since             time.Time      `json:"since"`
	SlowThresholdMS   int64          `json:"slowThresholdMs"`
	SlowQueries       []slowQuery    `json:"slowQueries"`
	Frequency         map[string]int `json:"frequency"`
}

// queryStats reports the monitor snapshot. ?slow=<duration> sets the slow
// query threshold (default monitor.slow_threshold); ?limit=<n> caps the slow list.
func (h *handlers) queryStats(w http.ResponseWriter, r *http.Request) {
	threshold := h.app.Config.Monitor.SlowThreshold
	if v := r.URL.Query().Get("slow"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid slow duration"})
			return
		}
		threshold = d
	}
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid limit"})
			return
		}
		limit = n
	}

	stats := h.app.Monitor.Stats()
	writeJSON(w, http.StatusOK, buildQueryStats(stats, threshold, limit))
}

func buildQueryStats(stats trustcore.QueryStats, threshold time.Duration, limit int) queryStatsResponse {
	slow := stats.SlowQueries(threshold)
	if len(slow) > limit {
		slow = slow[:limit]
	}
	out := make([]slowQuery, len(slow))
	for i, q := range slow {
		out[i] = slowQuery{
			Operation:  q.Operation,
			DurationMS: q.Duration.Milliseconds(),
			Timestamp:  q.Timestamp,
			Success:    q.Success,
		}
	}
	return queryStatsResponse{
		TotalCount:        stats.TotalCount,
		TotalRecorded:     stats.TotalRecorded,
		AverageDurationMS: float64(stats.AverageDuration) / float64(time.Millisecond),
		Since:             stats.Since,
		SlowThresholdMS:   threshold.Milliseconds(),
		SlowQueries:       out,
		Frequency:         stats.OperationFrequency(),
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
