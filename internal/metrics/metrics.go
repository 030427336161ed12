// Package metrics provides Prometheus instrumentation for the hedge engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// OrdersMatched counts orders created by the matching optimizer.
	OrdersMatched = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hedge_engine_orders_matched_total",
		Help: "Total orders created by the ticket matching optimizer",
	})

	// MatchRejections counts match attempts rejected, by reason
	// (input, liquidity, margin).
	MatchRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hedge_engine_match_rejections_total",
		Help: "Match attempts rejected, partitioned by reason",
	}, []string{"reason"})

	// FixingsCommitted counts committed price fixings by reference level.
	FixingsCommitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hedge_engine_fixings_committed_total",
		Help: "Price fixings committed, partitioned by reference level",
	}, []string{"level"})

	// FixingRejections counts allocation attempts rejected, by reason
	// (input, capacity, conflict).
	FixingRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hedge_engine_fixing_rejections_total",
		Help: "Allocation attempts rejected, partitioned by reason",
	}, []string{"reason"})

	// AllocationLatency tracks end-to-end allocation commit latency.
	AllocationLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "hedge_engine_allocation_latency_seconds",
		Help:    "Allocation validate-and-commit latency in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// HedgesClosed counts hedge executions fully closed by fixings.
	HedgesClosed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hedge_engine_hedges_closed_total",
		Help: "Hedge executions fully closed by allocations",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hedge_engine_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "hedge_engine_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		path := r.URL.Path
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
