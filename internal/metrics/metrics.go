// Package metrics provides Prometheus instrumentation for the paper engine.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// CorrelationChecks counts gate decisions by narrative and result
	// ("allowed", "blocked", "exempt").
	CorrelationChecks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "paper_correlation_checks_total",
		Help: "Correlation gate decisions",
	}, []string{"narrative", "result"})

	// TradesOpened counts paper trades opened, partitioned by side.
	TradesOpened = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "paper_trades_opened_total",
		Help: "Total number of paper trades opened",
	}, []string{"side"})

	// TradesClosed counts terminal transitions by how the trade ended
	// ("close" or "resolve").
	TradesClosed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "paper_trades_closed_total",
		Help: "Total number of paper trades closed or resolved",
	}, []string{"reason"})

	// TestTradesRemoved counts test trades deleted by cleanup.
	TestTradesRemoved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "paper_test_trades_removed_total",
		Help: "Test trades removed by cleanup",
	})

	// LedgerLatency tracks load-mutate-save duration per ledger operation.
	LedgerLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "paper_ledger_latency_seconds",
		Help:    "Ledger operation latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})

	// SignalsServed counts signals returned to feed consumers by tier.
	SignalsServed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "paper_signals_served_total",
		Help: "Signals returned by the feed",
	}, []string{"tier"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "paper_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "paper_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "paper_http_request_duration_seconds",
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

		// Use the route pattern for path label to avoid high cardinality.
		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// Since observes the time elapsed from start under op.
func Since(op string, start time.Time) {
	LedgerLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
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

// Hijack lets the websocket upgrader take over the connection.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	return h.Hijack()
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
