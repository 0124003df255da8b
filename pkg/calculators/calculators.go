package calculators

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/tidwall/gjson"

	"github.com/platinummonkey/beacon/pkg/eventstore"
	"github.com/platinummonkey/beacon/pkg/metric"
	"github.com/platinummonkey/beacon/pkg/observability"
)

const day = 24 * time.Hour

// Calculator computes one metric kind for one tenant.
// On failure it returns the kind's empty result together with the error.
type Calculator func(ctx context.Context, tenantID string) (metric.Result, error)

// Set holds the six calculators built over one event store accessor
type Set struct {
	store   eventstore.Accessor
	clock   clockwork.Clock
	logger  *observability.Logger
	metrics *observability.Metrics

	calcs map[metric.Kind]Calculator
}

// NewSet wires every calculator to the accessor. clock, logger and metrics may be nil.
func NewSet(store eventstore.Accessor, clock clockwork.Clock, logger *observability.Logger, metrics *observability.Metrics) *Set {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = observability.NopLogger()
	}

	s := &Set{
		store:   store,
		clock:   clock,
		logger:  logger,
		metrics: metrics,
	}
	s.calcs = map[metric.Kind]Calculator{
		metric.KindPopularContentDaily:   s.instrument(metric.KindPopularContentDaily, s.PopularContent),
		metric.KindEngagementConsistency: s.instrument(metric.KindEngagementConsistency, s.EngagementConsistency),
		metric.KindCommitmentScore:       s.instrument(metric.KindCommitmentScore, s.CommitmentScore),
		metric.KindAhaMoments:            s.instrument(metric.KindAhaMoments, s.AhaMoments),
		metric.KindContentPathways:       s.instrument(metric.KindContentPathways, s.ContentPathways),
		metric.KindFeedbackThemes:        s.instrument(metric.KindFeedbackThemes, s.FeedbackThemes),
	}
	return s
}

// For returns the instrumented calculator for kind
func (s *Set) For(kind metric.Kind) (Calculator, error) {
	calc, ok := s.calcs[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", metric.ErrUnknownKind, kind)
	}
	return calc, nil
}

// Calculate runs the calculator for kind
func (s *Set) Calculate(ctx context.Context, tenantID string, kind metric.Kind) (metric.Result, error) {
	calc, err := s.For(kind)
	if err != nil {
		return nil, err
	}
	return calc(ctx, tenantID)
}

// instrument adds logging, metrics and panic recovery around a calculator
func (s *Set) instrument(kind metric.Kind, calc Calculator) Calculator {
	return func(ctx context.Context, tenantID string) (res metric.Result, err error) {
		start := time.Now()
		defer func() {
			if r := recover(); r != nil {
				res, err = metric.Empty(kind), observability.PanicError(r)
			}
			if err != nil {
				s.logger.WithError(err).WithFields(map[string]interface{}{
					"tenant_id":   tenantID,
					"metric_kind": string(kind),
				}).Error("Metric calculation failed")
			}
			s.metrics.ObserveCalculation(string(kind), start, err)
		}()

		res, err = calc(ctx, tenantID)
		if res == nil {
			res = metric.Empty(kind)
		}
		return res, err
	}
}

func (s *Set) now() time.Time {
	return s.clock.Now().UTC()
}

func failed(kind metric.Kind, op string, err error) (metric.Result, error) {
	return metric.Empty(kind), fmt.Errorf("%s: %s: %w", kind, op, err)
}

// contentID extracts the content identifier from an event payload
func contentID(payload json.RawMessage) string {
	if len(payload) == 0 || !gjson.ValidBytes(payload) {
		return ""
	}
	for _, r := range gjson.GetManyBytes(payload, "content_id", "contentId", "content.id") {
		if id := strings.TrimSpace(r.String()); r.Exists() && id != "" {
			return id
		}
	}
	return ""
}

func contentTitle(payload json.RawMessage) string {
	if len(payload) == 0 {
		return ""
	}
	return strings.TrimSpace(gjson.GetBytes(payload, "content_title").String())
}

func isContentEvent(eventType string) bool {
	return eventType == eventstore.EventContentViewed || eventType == eventstore.EventContentCompleted
}

func dayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

func startOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// byEntity groups events with an entity id, preserving time order
func byEntity(events []eventstore.RawEvent) map[string][]eventstore.RawEvent {
	out := make(map[string][]eventstore.RawEvent)
	for _, ev := range events {
		if ev.EntityID == nil || *ev.EntityID == "" {
			continue
		}
		out[*ev.EntityID] = append(out[*ev.EntityID], ev)
	}
	for id := range out {
		evs := out[id]
		sort.SliceStable(evs, func(i, j int) bool { return evs[i].OccurredAt.Before(evs[j].OccurredAt) })
	}
	return out
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
