// Package metrics provides Prometheus instrumentation for the wager engine.
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
	// WagersPlaced counts placed wagers, partitioned by period.
	WagersPlaced = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wager_placements_total",
		Help: "Total number of wagers placed",
	}, []string{"period"})

	// PlacementRejections counts placements rejected by validation, balance,
	// or risk limits.
	PlacementRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wager_placement_rejections_total",
		Help: "Wager placements rejected before any state change",
	}, []string{"reason"})

	// SettlementsTotal counts completed settlements by result and by the
	// policy rule that decided them.
	SettlementsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wager_settlements_total",
		Help: "Total number of wagers settled",
	}, []string{"result", "rule"})

	// DuplicateSettles counts settlement calls that found the wager already
	// resolved. Expected under client retries; a spike means a broken client.
	DuplicateSettles = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wager_duplicate_settles_total",
		Help: "Settlement calls rejected because the wager was already resolved",
	})

	// IntegrityFaults counts settlements where the claim committed but the
	// terminal write could not be completed within the bounded retries.
	// Any non-zero value pages the operator.
	IntegrityFaults = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wager_settlement_integrity_faults_total",
		Help: "Settlements left faulted after the claim committed",
	})

	// SettlementLatency tracks end-to-end settlement duration.
	SettlementLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "wager_settlement_latency_seconds",
		Help:    "Settlement execution latency in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// WebSocketClients tracks connected event-feed clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "wager_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wager_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "wager_http_request_duration_seconds",
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

		// Use the raw path for the label; route cardinality is small.
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
