// Package observability provides structured logging, Prometheus metrics,
// health probes and OpenTelemetry tracing for the beacon binaries.
//
// # Structured Logging
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("tenant_id", tenantID).Info("refreshed metrics")
//
// Output is one JSON object per line with level, message, time and a nested
// fields object.
//
// # Prometheus Metrics
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	metrics.TierRunsTotal.WithLabelValues("fast", "success").Inc()
//
// All methods tolerate a nil *Metrics so components can run uninstrumented.
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(version)
//	checker.AddCritical("event_store", observability.SQLCheck(db))
//	checker.AddOptional("metric_cache", observability.RedisCheck(client))
//
// # Tracing
//
// InitTracing installs an OTLP/gRPC exporter when enabled. Components call
// Tracer() regardless; without a provider spans are no-ops.
package observability
