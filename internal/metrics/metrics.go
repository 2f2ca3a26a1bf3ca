// Package metrics exposes Prometheus collectors for the MCP server.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal             *prometheus.CounterVec
	httpRequestDurationSeconds    *prometheus.HistogramVec
	toolCallsTotal                *prometheus.CounterVec
	toolCallDurationSeconds       *prometheus.HistogramVec
	upstreamRequestsTotal         *prometheus.CounterVec
	upstreamRequestDuration       *prometheus.HistogramVec
	upstreamRetriesTotal          *prometheus.CounterVec
	authVerificationsTotal        *prometheus.CounterVec
	mcpSessionsActive             prometheus.Gauge
	upstreamRateLimitDelaySeconds prometheus.Histogram

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 30, 120},
			},
			[]string{"method", "route"},
		)

		toolCallsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mcp_tool_calls_total",
				Help: "Total MCP tool invocations, labeled by tool and outcome.",
			},
			[]string{"tool", "outcome"},
		)

		toolCallDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mcp_tool_call_duration_seconds",
				Help:    "Wall time per MCP tool invocation.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 15, 30, 60, 120, 300},
			},
			[]string{"tool"},
		)

		upstreamRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "watercrawl_api_requests_total",
				Help: "Requests sent to the WaterCrawl API, labeled by operation and code.",
			},
			[]string{"operation", "code"},
		)

		upstreamRequestDuration = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "watercrawl_api_request_duration_seconds",
				Help:    "Latency until response headers from the WaterCrawl API.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"operation"},
		)

		upstreamRetriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "watercrawl_api_retries_total",
				Help: "Retried WaterCrawl API calls, labeled by operation.",
			},
			[]string{"operation"},
		)

		authVerificationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mcp_auth_verifications_total",
				Help: "API key checks, labeled by result (valid, invalid, cached, error).",
			},
			[]string{"result"},
		)

		mcpSessionsActive = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "mcp_sessions_active",
				Help: "Number of MCP sessions currently connected.",
			},
		)

		upstreamRateLimitDelaySeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "watercrawl_api_rate_limit_delay_seconds",
				Help:    "Histogram of per-key rate limit wait durations.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
			},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware is a chi middleware that records HTTP request metrics.
func Middleware(next http.Handler) http.Handler {
	Init()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(ww, r)

		routePattern := "unknown"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			routePattern = rctx.RoutePattern()
		}
		ObserveHTTPRequest(r.Method, routePattern, ww.statusCode, time.Since(start))
	})
}

// statusRecorder wraps http.ResponseWriter to capture the status code. It
// forwards Flush so streaming MCP responses keep working.
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.statusCode = code
	rec.ResponseWriter.WriteHeader(code)
}

func (rec *statusRecorder) Flush() {
	if f, ok := rec.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rec *statusRecorder) Unwrap() http.ResponseWriter {
	return rec.ResponseWriter
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveToolCall records one tool invocation. outcome is "ok" or "error".
func ObserveToolCall(tool, outcome string, duration time.Duration) {
	toolCallsTotal.WithLabelValues(tool, outcome).Inc()
	toolCallDurationSeconds.WithLabelValues(tool).Observe(duration.Seconds())
}

// ObserveUpstreamRequest records one WaterCrawl API round trip. A zero code
// means the request failed before a response arrived.
func ObserveUpstreamRequest(operation string, code int, duration time.Duration) {
	label := "error"
	if code > 0 {
		label = strconv.Itoa(code)
	}
	upstreamRequestsTotal.WithLabelValues(operation, label).Inc()
	upstreamRequestDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// ObserveUpstreamRetry counts a retried WaterCrawl API call.
func ObserveUpstreamRetry(operation string) {
	upstreamRetriesTotal.WithLabelValues(operation).Inc()
}

// ObserveAuthVerification counts an API key check by result.
func ObserveAuthVerification(result string) {
	authVerificationsTotal.WithLabelValues(result).Inc()
}

// IncSessions increments the active session gauge.
func IncSessions() {
	mcpSessionsActive.Inc()
}

// DecSessions decrements the active session gauge.
func DecSessions() {
	mcpSessionsActive.Dec()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(duration time.Duration) {
	upstreamRateLimitDelaySeconds.Observe(duration.Seconds())
}
