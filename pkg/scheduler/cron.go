package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/beacon/pkg/observability"
)

// Cron triggers tier runs on their schedules. A tier never overlaps itself;
// different tiers run independently.
type Cron struct {
	cron    *cron.Cron
	chain   cron.Chain
	runner  *Runner
	logger  *observability.Logger
	entries map[string]cron.EntryID

	ctx context.Context
}

// NewCron registers every tier of the runner on its schedule (UTC)
func NewCron(runner *Runner, logger *observability.Logger) (*Cron, error) {
	if logger == nil {
		logger = observability.NopLogger()
	}
	cl := cronLogger{logger: logger.WithField("component", "cron")}
	chain := cron.NewChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))

	c := &Cron{
		cron:    cron.New(cron.WithLocation(time.UTC), cron.WithLogger(cl)),
		chain:   chain,
		runner:  runner,
		logger:  logger,
		entries: make(map[string]cron.EntryID),
		ctx:     context.Background(),
	}

	for _, tier := range runner.Tiers() {
		id, err := c.cron.AddJob(tier.Schedule, c.job(tier))
		if err != nil {
			return nil, fmt.Errorf("failed to schedule %s tier (%q): %w", tier.Name, tier.Schedule, err)
		}
		c.entries[tier.Name] = id
	}
	return c, nil
}

// job wraps one tier run with the recover and skip-if-running chain
func (c *Cron) job(tier Tier) cron.Job {
	return c.chain.Then(cron.FuncJob(func() {
		c.runner.Run(c.ctx, tier)
	}))
}

// Start begins scheduling. Runs use ctx as their parent.
func (c *Cron) Start(ctx context.Context) {
	c.ctx = ctx
	c.cron.Start()
	for name, next := range c.Next() {
		c.logger.WithFields(map[string]interface{}{
			"tier":     name,
			"next_run": next.Format(time.RFC3339),
		}).Info("Tier scheduled")
	}
}

// Stop halts scheduling. The returned context is done once running jobs finish.
func (c *Cron) Stop() context.Context {
	return c.cron.Stop()
}

// Next returns the next scheduled run per tier
func (c *Cron) Next() map[string]time.Time {
	next := make(map[string]time.Time, len(c.entries))
	for name, id := range c.entries {
		next[name] = c.cron.Entry(id).Next
	}
	return next
}

// cronLogger adapts the structured logger to cron.Logger
type cronLogger struct {
	logger *observability.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.WithFields(pairs(keysAndValues)).Debug(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.WithFields(pairs(keysAndValues)).WithError(err).Error(msg)
}

func pairs(keysAndValues []interface{}) map[string]interface{} {
	fields := make(map[string]interface{}, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		fields[fmt.Sprint(keysAndValues[i])] = keysAndValues[i+1]
	}
	return fields
}
