package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"

	"github.com/platinummonkey/beacon/pkg/api"
	"github.com/platinummonkey/beacon/pkg/app"
	"github.com/platinummonkey/beacon/pkg/async"
	"github.com/platinummonkey/beacon/pkg/config"
	"github.com/platinummonkey/beacon/pkg/observability"
	"github.com/platinummonkey/beacon/pkg/scheduler"
)

var version = "dev"

func main() {
	withScheduler := flag.Bool("scheduler", false, "Run the tier scheduler in this process (overrides BEACON_SCHEDULER_ENABLED)")
	flag.Parse()

	if err := run(*withScheduler); err != nil {
		fmt.Fprintf(os.Stderr, "beacon: %v\n", err)
		os.Exit(1)
	}
}

func run(withScheduler bool) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	if withScheduler {
		cfg.Scheduler.Enabled = true
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.New(ctx, cfg, logger, version)
	if err != nil {
		return err
	}

	srv := api.NewServer(a.Dashboard, a.Runner,
		api.WithHealthChecker(a.Health),
		api.WithGatherer(a.Registry),
		api.WithMetrics(a.Metrics),
		api.WithLogger(logger),
		api.WithBaseContext(ctx))

	httpServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      srv,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// probes and metrics also listen on their own port for k8s
	probeMux := http.NewServeMux()
	probeMux.HandleFunc("/healthz", a.Health.Liveness)
	probeMux.HandleFunc("/readyz", a.Health.Readiness)
	probeMux.Handle("/metrics", observability.MetricsHandler(a.Registry))
	probeServer := &http.Server{
		Addr:    net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler: probeMux,
	}

	shutdown := observability.NewShutdownManager(logger, httpServer, cfg.Server.ShutdownTimeout)
	shutdown.RegisterShutdownFunc(probeServer.Shutdown)

	var cron *scheduler.Cron
	if cfg.Scheduler.Enabled {
		c, err := a.NewCron()
		if err != nil {
			_ = a.Close(context.Background())
			return err
		}
		c.Start(ctx)
		cron = c
	}

	// components stop in order: scheduled runs drain, background runs are
	// cancelled, then the stores close
	shutdown.RegisterShutdownFunc(func(sctx context.Context) error {
		if cron != nil {
			select {
			case <-cron.Stop().Done():
			case <-sctx.Done():
				logger.Warn("Tier runs still in progress at shutdown")
			}
		}
		cancel()
		return a.Close(sctx)
	})

	if path := os.Getenv("BEACON_CONFIG_FILE"); path != "" {
		if err := watchConfig(ctx, path, logger); err != nil {
			logger.WithError(err).Warn("Config file changes will not be applied")
		}
	}

	serveErr := make(chan error, 2)
	for _, s := range []*http.Server{httpServer, probeServer} {
		s := s
		go func() {
			logger.Infof("Listening on %s", s.Addr)
			if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serveErr <- fmt.Errorf("server on %s failed: %w", s.Addr, err)
				cancel()
			}
		}()
	}

	logger.WithField("version", version).Info("Beacon started")
	if err := shutdown.WaitForShutdown(ctx); err != nil {
		return err
	}

	select {
	case err := <-serveErr:
		return err
	default:
		logger.Info("Beacon stopped")
		return nil
	}
}

// watchConfig applies log level changes from the config file without a restart.
// Everything else in the file is read once at startup.
func watchConfig(ctx context.Context, path string, logger *observability.Logger) error {
	w, err := config.NewWatcher(path, logger)
	if err != nil {
		return err
	}
	async.SafeGo(ctx, logger, 0, "config watcher", func(ctx context.Context) error {
		return w.Run(ctx, func(cfg *config.Config) {
			if level := cfg.Observability.LogLevel; level != logger.Level() {
				logger.SetLevel(level)
				logger.WithField("level", level.String()).Info("Log level changed")
			}
		})
	})
	return nil
}
