// Package app assembles beacon's components from configuration. Both the API
// server and the standalone scheduler start from New.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/platinummonkey/beacon/pkg/async"
	"github.com/platinummonkey/beacon/pkg/calculators"
	"github.com/platinummonkey/beacon/pkg/config"
	"github.com/platinummonkey/beacon/pkg/dashboard"
	"github.com/platinummonkey/beacon/pkg/eventstore"
	"github.com/platinummonkey/beacon/pkg/metriccache"
	"github.com/platinummonkey/beacon/pkg/observability"
	"github.com/platinummonkey/beacon/pkg/scheduler"
)

// dbStatsInterval is how often pool stats are copied into gauges
const dbStatsInterval = 15 * time.Second

// App holds the wired components
type App struct {
	Config    *config.Config
	Logger    *observability.Logger
	Registry  *prometheus.Registry
	Metrics   *observability.Metrics
	Health    *observability.HealthChecker
	Events    eventstore.Accessor
	Cache     *metriccache.Resilient
	Tiers     scheduler.Tiers
	Runner    *scheduler.Runner
	Dashboard *dashboard.Service

	tracer  *sdktrace.TracerProvider
	closers []func(context.Context) error
}

// New opens the event store and metric cache named by cfg and builds the
// calculators, runner and dashboard service on top of them. Anything opened
// before a failure is closed again.
func New(ctx context.Context, cfg *config.Config, logger *observability.Logger, version string) (*App, error) {
	a := newApp(cfg, logger, version)
	if err := a.init(ctx); err != nil {
		if cerr := a.Close(context.Background()); cerr != nil {
			logger.WithError(cerr).Warn("Failed to release partially started components")
		}
		return nil, err
	}
	return a, nil
}

func newApp(cfg *config.Config, logger *observability.Logger, version string) *App {
	return &App{
		Config:   cfg,
		Logger:   logger,
		Registry: prometheus.NewRegistry(),
		Health:   observability.NewHealthChecker(version),
	}
}

func (a *App) init(ctx context.Context) error {
	cfg, logger := a.Config, a.Logger

	a.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	if cfg.Observability.MetricsEnabled {
		a.Metrics = observability.NewMetrics(a.Registry)
	}

	tp, err := observability.InitTracing(ctx, cfg.Observability.OTel(), logger)
	if err != nil {
		return err
	}
	if tp != nil {
		a.tracer = tp
		a.closers = append(a.closers, func(ctx context.Context) error {
			return observability.ShutdownTracing(ctx, tp)
		})
	}

	if err := a.openEvents(ctx); err != nil {
		return err
	}

	cache, err := metriccache.Open(ctx, cfg.Cache, logger, a.Metrics, metriccache.WithTenantLister(a.Events))
	if err != nil {
		return err
	}
	a.Cache = cache
	a.closers = append(a.closers, func(context.Context) error { return cache.Close() })
	if check := metriccache.HealthCheck(cache); check != nil {
		a.Health.AddCritical("metric_cache", check)
	}

	// overrides are resolved against the defaults once the stores are up
	a.Tiers, err = cfg.Scheduler.ApplyTo(scheduler.DefaultTiers())
	if err != nil {
		return err
	}

	calcs := calculators.NewSet(a.Events, nil, logger, a.Metrics)
	a.Runner = scheduler.NewRunner(a.Cache, calcs,
		scheduler.WithTiers(a.Tiers),
		scheduler.WithLogger(logger),
		scheduler.WithMetrics(a.Metrics),
		scheduler.WithWorkers(cfg.Scheduler.Workers))
	a.Dashboard = dashboard.NewService(a.Cache, calcs,
		dashboard.WithTiers(a.Tiers),
		dashboard.WithLogger(logger))

	logger.WithFields(map[string]interface{}{
		"cache_backend": cfg.Cache.Backend,
		"workers":       cfg.Scheduler.Workers,
	}).Info("Beacon components initialized")
	return nil
}

func (a *App) openEvents(ctx context.Context) error {
	if a.Config.EventStore.PostgresURL == "" {
		a.Logger.Warn("No event store configured, using an empty in-memory store")
		a.Events = eventstore.NewMemory()
		return nil
	}

	pg, err := eventstore.OpenPostgres(a.Config.EventStore.Postgres())
	if err != nil {
		return err
	}
	a.Events = pg
	a.closers = append(a.closers, func(context.Context) error { return pg.Close() })
	a.Health.AddCritical("event_store", observability.SQLCheck(pg.DB()))

	if a.Metrics != nil {
		async.SafeGo(ctx, a.Logger, 0, "event store pool stats", func(ctx context.Context) error {
			ticker := time.NewTicker(dbStatsInterval)
			defer ticker.Stop()
			for {
				a.Metrics.RecordDBStats(pg.DB().Stats())
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
				}
			}
		})
	}
	return nil
}

// NewCron schedules every tier on the app's runner
func (a *App) NewCron() (*scheduler.Cron, error) {
	return scheduler.NewCron(a.Runner, a.Logger)
}

// Close releases the cache, event store and tracer in reverse order of opening
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("failed to close beacon components: %w", err)
	}
	return nil
}
