package dashboard

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/platinummonkey/beacon/pkg/calculators"
	"github.com/platinummonkey/beacon/pkg/metric"
	"github.com/platinummonkey/beacon/pkg/metriccache"
	"github.com/platinummonkey/beacon/pkg/observability"
	"github.com/platinummonkey/beacon/pkg/scheduler"
)

// SourceOnDemand tags rows written by a dashboard read
const SourceOnDemand = "on_demand"

// defaultTimeout bounds a calculator whose kind has no tier
const defaultTimeout = 30 * time.Second

// Dashboard is the composite view of all six metrics for one tenant. A kind
// that could not be computed carries its empty result and is listed in Degraded.
type Dashboard struct {
	TenantID              string                       `json:"tenant_id"`
	PopularContent        metric.PopularContent        `json:"popular_content"`
	EngagementConsistency metric.EngagementConsistency `json:"engagement_consistency"`
	CommitmentScore       metric.CommitmentScore       `json:"commitment_score"`
	AhaMoments            metric.AhaMoments            `json:"aha_moments"`
	ContentPathways       metric.ContentPathways       `json:"content_pathways"`
	FeedbackThemes        metric.FeedbackThemes        `json:"feedback_themes"`
	Degraded              []metric.Kind                `json:"degraded,omitempty"`
	GeneratedAt           time.Time                    `json:"generated_at"`
}

// Service serves metrics cache-aside: cached rows when live, otherwise a
// fresh computation that is written back.
type Service struct {
	store  metriccache.Store
	calcs  *calculators.Set
	tiers  scheduler.Tiers
	clock  clockwork.Clock
	logger *observability.Logger

	// collapses concurrent misses on the same key
	flight singleflight.Group
}

// Option configures a Service
type Option func(*Service)

// WithTiers sets the tier table that supplies TTLs and timeouts per kind
func WithTiers(tiers scheduler.Tiers) Option {
	return func(s *Service) { s.tiers = tiers }
}

// WithClock sets the clock used for computed_at
func WithClock(clock clockwork.Clock) Option {
	return func(s *Service) { s.clock = clock }
}

// WithLogger sets the logger
func WithLogger(logger *observability.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// NewService creates a dashboard service
func NewService(store metriccache.Store, calcs *calculators.Set, opts ...Option) *Service {
	s := &Service{
		store:  store,
		calcs:  calcs,
		tiers:  scheduler.DefaultTiers(),
		clock:  clockwork.NewRealClock(),
		logger: observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Metric returns one metric using its tier's TTL
func (s *Service) Metric(ctx context.Context, tenantID string, kind metric.Kind) (metric.Result, bool) {
	return s.GetOrCompute(ctx, tenantID, kind, 0)
}

// GetOrCompute returns the cached value of kind for the tenant, computing and
// storing it on a miss. ttl <= 0 uses the owning tier's TTL. When computation
// fails the kind's empty result is returned with ok=false and nothing is cached.
func (s *Service) GetOrCompute(ctx context.Context, tenantID string, kind metric.Kind, ttl time.Duration) (res metric.Result, ok bool) {
	ctx, span := observability.Tracer().Start(ctx, "dashboard.GetOrCompute",
		trace.WithAttributes(
			attribute.String("tenant_id", tenantID),
			attribute.String("metric_kind", string(kind)),
		))
	defer span.End()

	logger := observability.UpdateLoggerWithTraceContext(ctx, s.logger).WithFields(map[string]interface{}{
		"tenant_id":   tenantID,
		"metric_kind": string(kind),
	})

	if !kind.Valid() {
		span.SetStatus(codes.Error, "unknown metric kind")
		return nil, false
	}

	if res, hit := s.cached(ctx, logger, tenantID, kind); hit {
		span.SetAttributes(attribute.Bool("cache.hit", true))
		return res, true
	}
	span.SetAttributes(attribute.Bool("cache.hit", false))

	tier, owned := s.tiers.For(kind)
	timeout := defaultTimeout
	if owned {
		timeout = tier.Timeout
		if ttl <= 0 {
			ttl = tier.TTL
		}
	}
	if ttl <= 0 {
		ttl = time.Hour
	}

	v, err, _ := s.flight.Do(tenantID+"/"+string(kind), func() (interface{}, error) {
		// shared by every waiter, so it must not die with the first caller
		computeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
		defer cancel()
		return s.compute(computeCtx, logger, tenantID, kind, ttl)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "metric computation failed")
		return metric.Empty(kind), false
	}
	return v.(metric.Result), true
}

// cached reads and decodes a live row. Undecodable rows count as misses.
func (s *Service) cached(ctx context.Context, logger *observability.Logger, tenantID string, kind metric.Kind) (metric.Result, bool) {
	row, err := s.store.Get(ctx, tenantID, kind)
	if err != nil {
		if !errors.Is(err, metriccache.ErrNotFound) {
			logger.WithError(err).Warn("Metric cache read failed")
		}
		return nil, false
	}
	res, err := metric.Decode(kind, row.Value)
	if err != nil {
		logger.WithError(err).Warn("Cached metric is unreadable, recomputing")
		return nil, false
	}
	return res, true
}

func (s *Service) compute(ctx context.Context, logger *observability.Logger, tenantID string, kind metric.Kind, ttl time.Duration) (metric.Result, error) {
	res, err := s.calcs.Calculate(ctx, tenantID, kind)
	if err != nil {
		// the calculator already logged the cause
		return nil, err
	}

	value, err := metric.Encode(res)
	if err != nil {
		logger.WithError(err).Error("Failed to encode metric")
		return res, nil
	}
	metadata := map[string]interface{}{
		"computed_at": s.clock.Now().UTC().Format(time.RFC3339),
		"source":      SourceOnDemand,
	}
	if err := s.store.Put(ctx, tenantID, kind, value, ttl, metadata); err != nil {
		// the caller still gets a correct value; the next read recomputes
		logger.WithError(err).Warn("Failed to cache computed metric")
	}
	return res, nil
}

// Dashboard fetches all six metrics concurrently and merges them, defaulting
// any that fail to their empty result.
func (s *Service) Dashboard(ctx context.Context, tenantID string) Dashboard {
	ctx, span := observability.Tracer().Start(ctx, "dashboard.Dashboard",
		trace.WithAttributes(attribute.String("tenant_id", tenantID)))
	defer span.End()

	kinds := metric.AllKinds()
	results := make([]metric.Result, len(kinds))
	oks := make([]bool, len(kinds))

	var g errgroup.Group
	for i, kind := range kinds {
		i, kind := i, kind
		g.Go(func() error {
			results[i], oks[i] = s.Metric(ctx, tenantID, kind)
			return nil
		})
	}
	_ = g.Wait()

	d := Dashboard{
		TenantID:              tenantID,
		PopularContent:        metric.Empty(metric.KindPopularContentDaily).(metric.PopularContent),
		EngagementConsistency: metric.Empty(metric.KindEngagementConsistency).(metric.EngagementConsistency),
		CommitmentScore:       metric.Empty(metric.KindCommitmentScore).(metric.CommitmentScore),
		AhaMoments:            metric.Empty(metric.KindAhaMoments).(metric.AhaMoments),
		ContentPathways:       metric.Empty(metric.KindContentPathways).(metric.ContentPathways),
		FeedbackThemes:        metric.Empty(metric.KindFeedbackThemes).(metric.FeedbackThemes),
		GeneratedAt:           s.clock.Now().UTC(),
	}
	for i, kind := range kinds {
		if !oks[i] {
			d.Degraded = append(d.Degraded, kind)
		}
		switch r := results[i].(type) {
		case metric.PopularContent:
			d.PopularContent = r
		case metric.EngagementConsistency:
			d.EngagementConsistency = r
		case metric.CommitmentScore:
			d.CommitmentScore = r
		case metric.AhaMoments:
			d.AhaMoments = r
		case metric.ContentPathways:
			d.ContentPathways = r
		case metric.FeedbackThemes:
			d.FeedbackThemes = r
		}
	}
	if len(d.Degraded) > 0 {
		span.SetAttributes(attribute.Int("metrics.degraded", len(d.Degraded)))
	}
	return d
}

// Invalidate drops the cached row so the next read recomputes
func (s *Service) Invalidate(ctx context.Context, tenantID string, kind metric.Kind) error {
	if err := s.store.Invalidate(ctx, tenantID, kind); err != nil {
		return fmt.Errorf("failed to invalidate %s for %s: %w", kind, tenantID, err)
	}
	s.logger.WithFields(map[string]interface{}{
		"tenant_id":   tenantID,
		"metric_kind": string(kind),
	}).Info("Metric invalidated")
	return nil
}
