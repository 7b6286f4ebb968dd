package monitoring

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	// Rate limiting metrics
	RateLimitHits prometheus.Counter

	// Cache metrics
	CacheHits   *prometheus.CounterVec
	CacheMisses *prometheus.CounterVec

	// Business metrics
	RecordsCreated  *prometheus.CounterVec
	InvoicesCreated *prometheus.CounterVec
	StreamsStopped  prometheus.Counter
	UsersCreated    prometheus.Counter

	// Reconciliation metrics
	ReconcileOutcomes   *prometheus.CounterVec
	ReconcileDuration   prometheus.Histogram
	CircuitBreakerState *prometheus.GaugeVec
}

var (
	metrics *Metrics
	once    sync.Once
)

// Init initializes all Prometheus metrics
func Init() *Metrics {
	once.Do(func() {
		metrics = &Metrics{
			HTTPRequestsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "http_requests_total",
					Help: "Total number of HTTP requests",
				},
				[]string{"method", "path", "status"},
			),
			HTTPRequestDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "http_request_duration_seconds",
					Help:    "HTTP request duration in seconds",
					Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
				},
				[]string{"method", "path"},
			),
			HTTPRequestsInFlight: promauto.NewGauge(
				prometheus.GaugeOpts{
					Name: "http_requests_in_flight",
					Help: "Number of HTTP requests currently being processed",
				},
			),

			RateLimitHits: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "rate_limit_hits_total",
					Help: "Total number of rate limit hits",
				},
			),

			CacheHits: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "cache_hits_total",
					Help: "Total number of cache hits",
				},
				[]string{"cache_type"},
			),
			CacheMisses: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "cache_misses_total",
					Help: "Total number of cache misses",
				},
				[]string{"cache_type"},
			),

			RecordsCreated: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "payroll_records_created_total",
					Help: "Total number of instant and stream records created",
				},
				[]string{"kind", "token"},
			),
			InvoicesCreated: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "invoices_created_total",
					Help: "Total number of invoices created",
				},
				[]string{"type"},
			),
			StreamsStopped: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "streams_stopped_total",
					Help: "Total number of streams closed",
				},
			),
			UsersCreated: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "users_created_total",
					Help: "Total number of user profiles created",
				},
			),

			ReconcileOutcomes: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "reconcile_submissions_total",
					Help: "Submissions processed by reconciliation, by outcome",
				},
				[]string{"outcome"},
			),
			ReconcileDuration: promauto.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "reconcile_run_duration_seconds",
					Help:    "Duration of reconciliation runs",
					Buckets: []float64{.05, .1, .5, 1, 5, 10, 30, 60},
				},
			),
			CircuitBreakerState: promauto.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "circuit_breaker_state",
					Help: "Circuit breaker state (0=closed, 1=open, 0.5=half-open)",
				},
				[]string{"chain_id"},
			),
		}
	})
	return metrics
}

// Get returns the global metrics instance
func Get() *Metrics {
	return Init()
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// MetricsMiddleware is a Gin middleware for collecting HTTP metrics
func MetricsMiddleware() gin.HandlerFunc {
	m := Get()
	return func(c *gin.Context) {
		start := time.Now()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		method := c.Request.Method

		m.HTTPRequestsInFlight.Inc()
		defer m.HTTPRequestsInFlight.Dec()

		c.Next()

		status := strconv.Itoa(c.Writer.Status())
		duration := time.Since(start).Seconds()

		m.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
		m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration)
	}
}

// RecordRateLimitHit records a rate limit hit
func RecordRateLimitHit() {
	Get().RateLimitHits.Inc()
}

// RecordCacheHit records a cache hit
func RecordCacheHit(cacheType string) {
	Get().CacheHits.WithLabelValues(cacheType).Inc()
}

// RecordCacheMiss records a cache miss
func RecordCacheMiss(cacheType string) {
	Get().CacheMisses.WithLabelValues(cacheType).Inc()
}

// RecordRecordCreated records a new instant or stream row. Chain ids are caller supplied and
// stay out of the labels.
func RecordRecordCreated(kind, token string) {
	Get().RecordsCreated.WithLabelValues(kind, token).Inc()
}

// RecordInvoiceCreated records a new invoice
func RecordInvoiceCreated(invoiceType string) {
	Get().InvoicesCreated.WithLabelValues(invoiceType).Inc()
}

// RecordStreamStopped records a stream stop
func RecordStreamStopped() {
	Get().StreamsStopped.Inc()
}

// RecordUserCreated records a user sign-up
func RecordUserCreated() {
	Get().UsersCreated.Inc()
}

// RecordReconcileOutcome records one processed submission
func RecordReconcileOutcome(outcome string) {
	Get().ReconcileOutcomes.WithLabelValues(outcome).Inc()
}

// RecordReconcileRun records the duration of a reconciliation run
func RecordReconcileRun(d time.Duration) {
	Get().ReconcileDuration.Observe(d.Seconds())
}

// SetCircuitBreakerState sets the circuit breaker state
// state: 0=closed, 1=open, 0.5=half-open
func SetCircuitBreakerState(chainID string, state float64) {
	Get().CircuitBreakerState.WithLabelValues(chainID).Set(state)
}
