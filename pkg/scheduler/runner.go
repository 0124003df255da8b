package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/beacon/pkg/async"
	"github.com/platinummonkey/beacon/pkg/calculators"
	"github.com/platinummonkey/beacon/pkg/metric"
	"github.com/platinummonkey/beacon/pkg/metriccache"
	"github.com/platinummonkey/beacon/pkg/observability"
)

const (
	// DefaultWorkers bounds concurrent tenants per tier run
	DefaultWorkers = 8

	// storeBudget is added to the calculator timeout for the cache write
	storeBudget = 10 * time.Second
)

// Run outcomes reported on beacon_tier_runs_total
const (
	StatusSuccess = "success"
	StatusPartial = "partial"
	StatusFailed  = "failed"
)

// TenantError records why one tenant was not fully refreshed
type TenantError struct {
	TenantID string `json:"tenant_id"`
	Error    string `json:"error"`
}

// Summary reports the outcome of one tier run
type Summary struct {
	Tier      string        `json:"tier"`
	RunID     string        `json:"run_id"`
	Processed int           `json:"processed"`
	Total     int           `json:"total"`
	Errors    []TenantError `json:"errors"`
	Purged    int64         `json:"purged"`
	Failure   string        `json:"failure,omitempty"` // run level failure, e.g. tenant listing
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration_ns"`
}

// Status classifies the run for metrics and logs
func (s Summary) Status() string {
	switch {
	case s.Failure != "":
		return StatusFailed
	case len(s.Errors) == 0:
		return StatusSuccess
	case s.Processed == 0:
		return StatusFailed
	default:
		return StatusPartial
	}
}

// Runner executes tier runs against a metric cache. Each run is
// self-contained; concurrent runs of different tiers share nothing but the store.
type Runner struct {
	store   metriccache.Store
	calcs   *calculators.Set
	tiers   Tiers
	clock   clockwork.Clock
	logger  *observability.Logger
	metrics *observability.Metrics
	workers int
}

// Option configures a Runner
type Option func(*Runner)

// WithTiers replaces the default tier table
func WithTiers(tiers Tiers) Option {
	return func(r *Runner) { r.tiers = tiers }
}

// WithClock sets the clock used for run timestamps
func WithClock(clock clockwork.Clock) Option {
	return func(r *Runner) { r.clock = clock }
}

// WithLogger sets the logger
func WithLogger(logger *observability.Logger) Option {
	return func(r *Runner) { r.logger = logger }
}

// WithMetrics sets the Prometheus metrics
func WithMetrics(metrics *observability.Metrics) Option {
	return func(r *Runner) { r.metrics = metrics }
}

// WithWorkers bounds concurrent tenants per run
func WithWorkers(n int) Option {
	return func(r *Runner) { r.workers = n }
}

// NewRunner creates a tier runner
func NewRunner(store metriccache.Store, calcs *calculators.Set, opts ...Option) *Runner {
	r := &Runner{
		store:   store,
		calcs:   calcs,
		tiers:   DefaultTiers(),
		clock:   clockwork.NewRealClock(),
		logger:  observability.NopLogger(),
		workers: DefaultWorkers,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.workers <= 0 {
		r.workers = DefaultWorkers
	}
	return r
}

// Tiers returns the tier table the runner was built with
func (r *Runner) Tiers() Tiers {
	return r.tiers
}

// RunFast refreshes the fast tier for every active tenant
func (r *Runner) RunFast(ctx context.Context) Summary { return r.runNamed(ctx, TierFast) }

// RunMedium refreshes the medium tier for every active tenant
func (r *Runner) RunMedium(ctx context.Context) Summary { return r.runNamed(ctx, TierMedium) }

// RunSlow purges expired rows then refreshes the slow tier for every active tenant
func (r *Runner) RunSlow(ctx context.Context) Summary { return r.runNamed(ctx, TierSlow) }

// RunByName runs the named tier. Only an unknown name is an error.
func (r *Runner) RunByName(ctx context.Context, name string) (Summary, error) {
	tier, err := r.tiers.Get(name)
	if err != nil {
		return Summary{}, err
	}
	return r.Run(ctx, tier), nil
}

func (r *Runner) runNamed(ctx context.Context, name string) Summary {
	tier, err := r.tiers.Get(name)
	if err != nil {
		return Summary{Tier: name, RunID: uuid.NewString(), StartedAt: r.clock.Now(), Errors: []TenantError{}, Failure: err.Error()}
	}
	return r.Run(ctx, tier)
}

// Run recomputes every kind the tier owns for every active tenant and
// overwrites the cached rows. Tenant failures are collected in the summary;
// Run itself never fails.
func (r *Runner) Run(ctx context.Context, tier Tier) (summary Summary) {
	summary = Summary{
		Tier:      tier.Name,
		RunID:     uuid.NewString(),
		StartedAt: r.clock.Now(),
		Errors:    []TenantError{},
	}

	ctx, span := observability.Tracer().Start(ctx, "scheduler.Run",
		trace.WithAttributes(
			attribute.String("tier", tier.Name),
			attribute.String("run_id", summary.RunID),
		))
	defer span.End()

	logger := observability.UpdateLoggerWithTraceContext(ctx, r.logger).WithFields(map[string]interface{}{
		"tier":   tier.Name,
		"run_id": summary.RunID,
	})
	logger.Info("Tier run started")

	defer func() {
		summary.Duration = r.clock.Since(summary.StartedAt)
		r.record(summary)
		span.SetAttributes(
			attribute.Int("tenants.total", summary.Total),
			attribute.Int("tenants.processed", summary.Processed),
			attribute.Int64("rows.purged", summary.Purged),
		)
		if summary.Status() != StatusSuccess {
			span.SetStatus(codes.Error, summary.Status())
		}
		logger.WithFields(map[string]interface{}{
			"processed": summary.Processed,
			"total":     summary.Total,
			"errors":    len(summary.Errors),
			"purged":    summary.Purged,
			"duration":  summary.Duration.String(),
			"status":    summary.Status(),
		}).Info("Tier run finished")
	}()

	// purge first so it never removes a row this run writes
	if tier.Purge {
		purged, err := r.store.PurgeExpired(ctx)
		if err != nil {
			logger.WithError(err).Warn("Failed to purge expired metrics")
		}
		summary.Purged = purged
	}

	tenants, err := r.store.ListActiveTenants(ctx)
	if err != nil {
		logger.WithError(err).Error("Failed to list active tenants")
		summary.Failure = fmt.Sprintf("list active tenants: %v", err)
		return summary
	}
	summary.Total = len(tenants)

	errs := async.Batch(ctx, tenants, r.workers, tier.Timeout+storeBudget, func(ctx context.Context, tenantID string) error {
		return r.refreshTenant(ctx, tier, summary.RunID, tenantID)
	})

	for i, err := range errs {
		if err == nil {
			summary.Processed++
			continue
		}
		logger.WithField("tenant_id", tenants[i]).WithError(err).Error("Tenant refresh failed")
		summary.Errors = append(summary.Errors, TenantError{TenantID: tenants[i], Error: err.Error()})
	}

	return summary
}

// refreshTenant computes the tier's kinds for one tenant concurrently. Every
// kind runs to completion; failures are joined.
func (r *Runner) refreshTenant(ctx context.Context, tier Tier, runID, tenantID string) error {
	ctx, span := observability.Tracer().Start(ctx, "scheduler.RefreshTenant",
		trace.WithAttributes(attribute.String("tenant_id", tenantID)))
	defer span.End()

	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	fail := func(err error) {
		mu.Lock()
		errs = append(errs, err)
		mu.Unlock()
	}

	for _, kind := range tier.Kinds {
		kind := kind
		g.Go(func() error {
			defer observability.RecoverPanicWithCallback(r.logger, "scheduler", func(rec interface{}) {
				fail(fmt.Errorf("%s: %w", kind, observability.PanicError(rec)))
			})
			if err := r.refreshKind(ctx, tier, runID, tenantID, kind); err != nil {
				fail(err)
			}
			return nil
		})
	}
	_ = g.Wait()

	if len(errs) > 0 {
		err := errors.Join(errs...)
		span.RecordError(err)
		span.SetStatus(codes.Error, "tenant refresh failed")
		return err
	}
	return nil
}

func (r *Runner) refreshKind(ctx context.Context, tier Tier, runID, tenantID string, kind metric.Kind) error {
	calcCtx, cancel := context.WithTimeout(ctx, tier.Timeout)
	defer cancel()

	res, err := r.calcs.Calculate(calcCtx, tenantID, kind)
	if err != nil {
		return fmt.Errorf("compute %s: %w", kind, err)
	}
	value, err := metric.Encode(res)
	if err != nil {
		return fmt.Errorf("encode %s: %w", kind, err)
	}

	metadata := map[string]interface{}{
		"computed_at": r.clock.Now().UTC().Format(time.RFC3339),
		"source":      tier.Source(),
		"run_id":      runID,
	}
	if err := r.store.Put(ctx, tenantID, kind, value, tier.TTL, metadata); err != nil {
		return fmt.Errorf("store %s: %w", kind, err)
	}
	return nil
}

func (r *Runner) record(s Summary) {
	if r.metrics == nil {
		return
	}
	status := s.Status()
	r.metrics.TierRunsTotal.WithLabelValues(s.Tier, status).Inc()
	r.metrics.TierRunDuration.WithLabelValues(s.Tier).Observe(s.Duration.Seconds())
	r.metrics.TierTenantsProcessed.WithLabelValues(s.Tier).Set(float64(s.Processed))
	r.metrics.TierTenantErrorsTotal.WithLabelValues(s.Tier).Add(float64(len(s.Errors)))
	if status != StatusFailed {
		r.metrics.TierLastSuccess.WithLabelValues(s.Tier).Set(float64(r.clock.Now().Unix()))
	}
}
