// Package metrics provides Prometheus instrumentation for the Aegis pipeline.
package metrics

import (
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "aegis",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "aegis",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// TransactionsTotal counts processed transactions by resulting risk level.
	TransactionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "aegis",
			Name:      "transactions_total",
			Help:      "Total transactions assessed by risk level.",
		},
		[]string{"level"},
	)

	// TransactionsRejected counts malformed transactions rejected at ingestion.
	TransactionsRejected = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "aegis",
			Name:      "transactions_rejected_total",
			Help:      "Total transactions rejected as invalid at the ingestion boundary.",
		},
	)

	// SignalsEmitted counts emitted signals by category.
	SignalsEmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "aegis",
			Name:      "signals_emitted_total",
			Help:      "Total high-severity signals emitted by category.",
		},
		[]string{"category"},
	)

	// JudgmentFallbacks counts judgment provider failures recovered by the
	// deterministic scorer.
	JudgmentFallbacks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "aegis",
			Name:      "judgment_fallbacks_total",
			Help:      "Total assessments that fell back to rule-based scoring.",
		},
	)

	// SensitivityLevel tracks the current alert level (5 = normal, 1 = max alert).
	SensitivityLevel = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "aegis",
			Name:      "sensitivity_level",
			Help:      "Current adaptive sensitivity level (1-5, lower is more alert).",
		},
	)

	// TrackedWallets tracks the number of wallets in the interaction graph.
	TrackedWallets = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "aegis",
			Name:      "tracked_wallets",
			Help:      "Number of wallets currently tracked in the interaction graph.",
		},
	)

	// ActiveWebSocketClients tracks connected WebSocket monitors.
	ActiveWebSocketClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "aegis",
			Name:      "active_websocket_clients",
			Help:      "Number of currently connected WebSocket clients.",
		},
	)

	// GoGoroutines tracks the number of goroutines.
	GoGoroutines = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "aegis", Name: "goroutines",
		Help: "Number of goroutines.",
	}, func() float64 { return float64(runtime.NumGoroutine()) })
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		TransactionsTotal,
		TransactionsRejected,
		SignalsEmitted,
		JudgmentFallbacks,
		SensitivityLevel,
		TrackedWallets,
		ActiveWebSocketClients,
		GoGoroutines,
	)
	SensitivityLevel.Set(5)
}

// Handler returns the Prometheus scrape handler wrapped for gin.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// Middleware instruments HTTP requests with count and duration metrics.
// Uses the route pattern (c.FullPath) to keep label cardinality bounded.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := statusLabel(c.Writer.Status())

		HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		HTTPRequestDuration.WithLabelValues(c.Request.Method, path).
			Observe(time.Since(start).Seconds())
	}
}

func statusLabel(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
