package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/platinummonkey/beacon/pkg/app"
	"github.com/platinummonkey/beacon/pkg/config"
	"github.com/platinummonkey/beacon/pkg/observability"
	"github.com/platinummonkey/beacon/pkg/scheduler"
)

var version = "dev"

var (
	runOnce = flag.Bool("run-once", false, "Run the selected tiers once and exit (for cron jobs or backfills)")
	tierArg = flag.String("tier", "all", "Tier to run with --run-once: fast, medium, slow, or all")
)

func main() {
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "beacon-scheduler: %v\n", err)
		os.Exit(1)
	}
	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.New(ctx, cfg, logger, version)
	if err != nil {
		logger.WithError(err).Error("Failed to initialize")
		os.Exit(1)
	}

	// Run once mode (for testing or backfilling)
	if *runOnce {
		code := runTiers(ctx, a.Runner, logger, *tierArg)
		if err := a.Close(context.Background()); err != nil {
			logger.WithError(err).Warn("Close failed")
		}
		os.Exit(code)
	}

	// Scheduled mode
	c, err := a.NewCron()
	if err != nil {
		logger.WithError(err).Error("Failed to schedule tiers")
		os.Exit(1)
	}
	c.Start(ctx)
	logger.WithField("version", version).Info("Beacon scheduler started")

	shutdown := observability.NewShutdownManager(logger, nil, cfg.Server.ShutdownTimeout)
	shutdown.RegisterShutdownFunc(func(sctx context.Context) error {
		select {
		case <-c.Stop().Done():
		case <-sctx.Done():
			logger.Warn("Tier runs still in progress at shutdown")
		}
		cancel()
		return a.Close(sctx)
	})
	if err := shutdown.WaitForShutdown(ctx); err != nil {
		logger.WithError(err).Error("Shutdown failed")
		os.Exit(1)
	}
	logger.Info("Beacon scheduler stopped")
}

// runTiers runs the named tier, or every tier for "all", and returns the exit
// code: 0 when every run succeeded, 1 when any run failed outright, 2 when some
// tenants failed
func runTiers(ctx context.Context, runner *scheduler.Runner, logger *observability.Logger, name string) int {
	var tiers scheduler.Tiers
	if strings.EqualFold(name, "all") {
		tiers = runner.Tiers()
	} else {
		tier, err := runner.Tiers().Get(strings.ToLower(name))
		if err != nil {
			logger.WithError(err).Error("Invalid --tier")
			return 1
		}
		tiers = scheduler.Tiers{tier}
	}

	code := 0
	for _, tier := range tiers {
		summary := runner.Run(ctx, tier)
		switch summary.Status() {
		case scheduler.StatusFailed:
			code = 1
		case scheduler.StatusPartial:
			if code == 0 {
				code = 2
			}
		}
		logger.WithFields(map[string]interface{}{
			"tier":      summary.Tier,
			"run_id":    summary.RunID,
			"processed": summary.Processed,
			"total":     summary.Total,
			"purged":    summary.Purged,
			"status":    summary.Status(),
		}).Info("Tier run finished")
	}
	return code
}
