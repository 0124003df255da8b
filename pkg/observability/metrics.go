package observability

import (
	"database/sql"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Metric cache
	CacheHitsTotal          *prometheus.CounterVec
	CacheMissesTotal        *prometheus.CounterVec
	CacheWritesTotal        *prometheus.CounterVec
	CachePurgedTotal        *prometheus.CounterVec
	CacheOperationDuration  *prometheus.HistogramVec
	CacheDegradedReadsTotal *prometheus.CounterVec

	// Calculators
	CalculationsTotal   *prometheus.CounterVec
	CalculationDuration *prometheus.HistogramVec

	// Scheduler tiers
	TierRunsTotal         *prometheus.CounterVec
	TierRunDuration       *prometheus.HistogramVec
	TierTenantsProcessed  *prometheus.GaugeVec
	TierTenantErrorsTotal *prometheus.CounterVec
	TierLastSuccess       *prometheus.GaugeVec

	// Database metrics
	DBConnectionsActive prometheus.Gauge
	DBConnectionsIdle   prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "beacon_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "beacon_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),

		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "beacon_cache_hits_total",
				Help: "Metric cache reads served from a live row",
			},
			[]string{"kind"},
		),
		CacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "beacon_cache_misses_total",
				Help: "Metric cache reads that found no live row",
			},
			[]string{"kind"},
		),
		CacheWritesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "beacon_cache_writes_total",
				Help: "Metric cache upserts",
			},
			[]string{"backend", "status"},
		),
		CachePurgedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "beacon_cache_purged_total",
				Help: "Expired metric cache rows removed by the janitor",
			},
			[]string{"backend"},
		),
		CacheOperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "beacon_cache_operation_duration_seconds",
				Help:    "Metric cache operation duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"operation", "backend"},
		),
		CacheDegradedReadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "beacon_cache_degraded_reads_total",
				Help: "Cache read failures downgraded to misses",
			},
			[]string{"backend"},
		),

		CalculationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "beacon_calculations_total",
				Help: "Metric calculations by kind and outcome",
			},
			[]string{"kind", "status"},
		),
		CalculationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "beacon_calculation_duration_seconds",
				Help:    "Metric calculation duration in seconds",
				Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
			},
			[]string{"kind"},
		),

		TierRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "beacon_tier_runs_total",
				Help: "Scheduled tier runs by outcome",
			},
			[]string{"tier", "status"},
		),
		TierRunDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "beacon_tier_run_duration_seconds",
				Help:    "Scheduled tier run duration in seconds",
				Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
			},
			[]string{"tier"},
		),
		TierTenantsProcessed: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "beacon_tier_tenants_processed",
				Help: "Tenants fully refreshed by the last run of a tier",
			},
			[]string{"tier"},
		),
		TierTenantErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "beacon_tier_tenant_errors_total",
				Help: "Tenants that failed during a tier run",
			},
			[]string{"tier"},
		),
		TierLastSuccess: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "beacon_tier_last_success_timestamp_seconds",
				Help: "Unix time of the last tier run that completed",
			},
			[]string{"tier"},
		),

		DBConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "beacon_db_connections_active",
				Help: "Number of active database connections",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "beacon_db_connections_idle",
				Help: "Number of idle database connections",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.CacheWritesTotal,
		m.CachePurgedTotal,
		m.CacheOperationDuration,
		m.CacheDegradedReadsTotal,
		m.CalculationsTotal,
		m.CalculationDuration,
		m.TierRunsTotal,
		m.TierRunDuration,
		m.TierTenantsProcessed,
		m.TierTenantErrorsTotal,
		m.TierLastSuccess,
		m.DBConnectionsActive,
		m.DBConnectionsIdle,
	)

	return m
}

// RecordDBStats copies connection pool stats into the DB gauges
func (m *Metrics) RecordDBStats(stats sql.DBStats) {
	if m == nil {
		return
	}
	m.DBConnectionsActive.Set(float64(stats.InUse))
	m.DBConnectionsIdle.Set(float64(stats.Idle))
}

// ObserveCacheOp records the duration of a cache operation and its write outcome
func (m *Metrics) ObserveCacheOp(operation, backend string, start time.Time, err error) {
	if m == nil {
		return
	}
	m.CacheOperationDuration.WithLabelValues(operation, backend).Observe(time.Since(start).Seconds())
	if operation == "upsert" {
		m.CacheWritesTotal.WithLabelValues(backend, statusLabel(err)).Inc()
	}
}

// ObserveCalculation records one calculator invocation
func (m *Metrics) ObserveCalculation(kind string, start time.Time, err error) {
	if m == nil {
		return
	}
	m.CalculationsTotal.WithLabelValues(kind, statusLabel(err)).Inc()
	m.CalculationDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
}

func statusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics.
// Routes are labelled by their mux template so tenant ids do not explode cardinality.
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			route := r.URL.Path
			if current := mux.CurrentRoute(r); current != nil {
				if tpl, err := current.GetPathTemplate(); err == nil {
					route = tpl
				}
			}
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

// MetricsHandler exposes the registry in the Prometheus text format
func MetricsHandler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
