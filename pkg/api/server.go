package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/beacon/pkg/dashboard"
	"github.com/platinummonkey/beacon/pkg/httputil"
	"github.com/platinummonkey/beacon/pkg/observability"
	"github.com/platinummonkey/beacon/pkg/scheduler"
)

// asyncRunBudget bounds a tier run triggered with ?async=true
const asyncRunBudget = 30 * time.Minute

// Server is the beacon HTTP API
type Server struct {
	dashboard *dashboard.Service
	runner    *scheduler.Runner
	health    *observability.HealthChecker
	gatherer  prometheus.Gatherer
	metrics   *observability.Metrics
	logger    *observability.Logger

	// parent of background tier runs; cancelled on shutdown
	baseCtx context.Context

	router  *mux.Router
	handler http.Handler
}

// Option configures a Server
type Option func(*Server)

// WithHealthChecker serves /healthz and /readyz from h
func WithHealthChecker(h *observability.HealthChecker) Option {
	return func(s *Server) { s.health = h }
}

// WithGatherer serves /metrics from g
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

// WithMetrics records request counts and latencies per route
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithLogger sets the logger
func WithLogger(logger *observability.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithBaseContext sets the context async tier runs derive from
func WithBaseContext(ctx context.Context) Option {
	return func(s *Server) { s.baseCtx = ctx }
}

// NewServer creates the API server and registers its routes
func NewServer(svc *dashboard.Service, runner *scheduler.Runner, opts ...Option) *Server {
	s := &Server{
		dashboard: svc,
		runner:    runner,
		health:    observability.NewHealthChecker("dev"),
		gatherer:  prometheus.DefaultGatherer,
		logger:    observability.NopLogger(),
		baseCtx:   context.Background(),
		router:    mux.NewRouter(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.setupRoutes()
	s.handler = otelhttp.NewHandler(httputil.Chain(
		httputil.RequestIDMiddleware,
		httputil.LoggingMiddleware(s.logger),
		httputil.RecoveryMiddleware(s.logger),
	)(s.router), "beacon.api")
	return s
}

// setupRoutes configures all the API routes
func (s *Server) setupRoutes() {
	v1 := s.router.PathPrefix("/v1").Subrouter()

	// Tenant metric routes
	v1.HandleFunc("/tenants/{tenant}/dashboard", s.getDashboard).Methods("GET")
	v1.HandleFunc("/tenants/{tenant}/metrics/{kind}", s.getMetric).Methods("GET")
	v1.HandleFunc("/tenants/{tenant}/metrics/{kind}", s.invalidateMetric).Methods("DELETE")

	// Tier routes
	v1.HandleFunc("/tiers", s.listTiers).Methods("GET")
	v1.HandleFunc("/tiers/{tier}/run", s.runTier).Methods("POST")

	// Probes and metrics
	s.router.HandleFunc("/healthz", s.health.Liveness).Methods("GET")
	s.router.HandleFunc("/readyz", s.health.Readiness).Methods("GET")
	s.router.Handle("/metrics", observability.MetricsHandler(s.gatherer)).Methods("GET")

	if s.metrics != nil {
		s.router.Use(mux.MiddlewareFunc(observability.HTTPMetricsMiddleware(s.metrics)))
	}

	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteNotFoundError(w, "route not found")
	})
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}
