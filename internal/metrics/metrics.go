// Package metrics provides Prometheus instrumentation for the risk engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// CalculationsTotal counts risk calculations by kind (var, stress,
	// greeks, backtest, sensitivity, reverse_stress), method and outcome.
	CalculationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "risk_calculations_total",
		Help: "Total number of risk calculations",
	}, []string{"kind", "method", "outcome"})

	// CalculationLatency tracks calculation wall time by kind and method.
	CalculationLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "risk_calculation_latency_seconds",
		Help:    "Risk calculation latency in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"kind", "method"})

	// OpenPositions tracks the number of open positions.
	OpenPositions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "risk_open_positions",
		Help: "Number of currently open positions",
	})

	// LimitBreaches counts limit breaches by limit type.
	LimitBreaches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "risk_limit_breaches_total",
		Help: "Limit breaches detected",
	}, []string{"limit_type"})

	// PreTradeRejections counts positions rejected by the concentration limiter.
	PreTradeRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "risk_pretrade_rejections_total",
		Help: "Positions rejected by pre-trade concentration limits",
	})

	// StressRuns counts stress runs per scenario.
	StressRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "risk_stress_runs_total",
		Help: "Stress scenario runs",
	}, []string{"scenario_id"})

	// EventsPublished counts risk events by type and sink.
	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "risk_events_published_total",
		Help: "Risk events published",
	}, []string{"type", "sink", "outcome"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "risk_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "risk_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "risk_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// ObserveCalculation records one calculation's outcome and latency.
func ObserveCalculation(kind, method string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	CalculationsTotal.WithLabelValues(kind, method, outcome).Inc()
	CalculationLatency.WithLabelValues(kind, method).Observe(time.Since(start).Seconds())
}

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

		// Route pattern keeps the path label bounded.
		path := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			path = rc.RoutePattern()
		}
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
