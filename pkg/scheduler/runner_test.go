package scheduler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/beacon/pkg/calculators"
	"github.com/platinummonkey/beacon/pkg/eventstore"
	"github.com/platinummonkey/beacon/pkg/metric"
	"github.com/platinummonkey/beacon/pkg/metriccache"
	"github.com/platinummonkey/beacon/pkg/observability"
)

var testNow = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

// flakyEvents fails every query for one tenant
type flakyEvents struct {
	*eventstore.Memory
	failTenant string
}

var errEventStoreDown = errors.New("event store unavailable")

func (f *flakyEvents) QueryEvents(ctx context.Context, tenantID string, q eventstore.EventQuery) ([]eventstore.RawEvent, error) {
	if tenantID == f.failTenant {
		return nil, errEventStoreDown
	}
	return f.Memory.QueryEvents(ctx, tenantID, q)
}

func (f *flakyEvents) QueryEntities(ctx context.Context, tenantID string) ([]eventstore.Entity, error) {
	if tenantID == f.failTenant {
		return nil, errEventStoreDown
	}
	return f.Memory.QueryEntities(ctx, tenantID)
}

// panickyStore panics on writes for one tenant
type panickyStore struct {
	metriccache.Store
	tenant string
}

func (p panickyStore) Put(ctx context.Context, tenantID string, kind metric.Kind, value json.RawMessage, ttl time.Duration, metadata map[string]interface{}) error {
	if tenantID == p.tenant {
		panic("write path exploded")
	}
	return p.Store.Put(ctx, tenantID, kind, value, ttl, metadata)
}

type fixture struct {
	clock   *clockwork.FakeClock
	events  *flakyEvents
	store   *metriccache.MemoryStore
	metrics *observability.Metrics
	logs    *bytes.Buffer
	logger  *observability.Logger
}

func newFixture(t *testing.T, tenants ...string) *fixture {
	t.Helper()
	clock := clockwork.NewFakeClockAt(testNow)
	events := &flakyEvents{Memory: eventstore.NewMemory()}
	for _, id := range tenants {
		events.SetTenant(id, true)
	}
	store, err := metriccache.NewMemoryStore(100, metriccache.WithClock(clock), metriccache.WithTenantLister(events))
	require.NoError(t, err)

	var logs bytes.Buffer
	return &fixture{
		clock:   clock,
		events:  events,
		store:   store,
		metrics: observability.NewMetrics(prometheus.NewRegistry()),
		logs:    &logs,
		logger:  observability.NewLogger(observability.InfoLevel, &logs),
	}
}

func (f *fixture) runner(store metriccache.Store) *Runner {
	calcs := calculators.NewSet(f.events, f.clock, f.logger, f.metrics)
	return NewRunner(store, calcs,
		WithClock(f.clock),
		WithLogger(f.logger),
		WithMetrics(f.metrics),
		WithWorkers(2))
}

func TestRunFast_PopulatesEmptyCache(t *testing.T) {
	f := newFixture(t, "tenant-t")
	learner := "learner-1"
	f.events.AddEvents("tenant-t", eventstore.RawEvent{
		EntityID:   &learner,
		Type:       eventstore.EventContentViewed,
		Payload:    json.RawMessage(`{"content_id":"lesson-1"}`),
		OccurredAt: testNow.Add(-time.Hour),
	})

	_, err := f.store.Get(context.Background(), "tenant-t", metric.KindPopularContentDaily)
	require.ErrorIs(t, err, metriccache.ErrNotFound)

	summary := f.runner(f.store).RunFast(context.Background())

	assert.Equal(t, TierFast, summary.Tier)
	assert.NotEmpty(t, summary.RunID)
	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, 1, summary.Total)
	assert.Empty(t, summary.Errors)
	assert.Equal(t, StatusSuccess, summary.Status())

	row, err := f.store.Get(context.Background(), "tenant-t", metric.KindPopularContentDaily)
	require.NoError(t, err)
	assert.WithinDuration(t, testNow.Add(20*time.Minute), row.ExpiresAt, time.Second)
	assert.Equal(t, "fast_tier", row.Metadata["source"])
	assert.Equal(t, summary.RunID, row.Metadata["run_id"])
	assert.Equal(t, testNow.Format(time.RFC3339), row.Metadata["computed_at"])

	res, err := metric.Decode(metric.KindPopularContentDaily, row.Value)
	require.NoError(t, err)
	popular := res.(metric.PopularContent)
	assert.True(t, popular.HasData)
	require.Len(t, popular.Items, 1)
	assert.Equal(t, "lesson-1", popular.Items[0].ContentID)

	// the fast tier leaves other kinds alone
	_, err = f.store.Get(context.Background(), "tenant-t", metric.KindCommitmentScore)
	assert.ErrorIs(t, err, metriccache.ErrNotFound)
}

func TestRunMedium_TenantFailureIsIsolated(t *testing.T) {
	tenants := []string{"tenant-1", "tenant-2", "tenant-3", "tenant-4", "tenant-5"}
	f := newFixture(t, tenants...)
	f.events.failTenant = "tenant-3"

	// the failing tenant's previous value must survive the run
	require.NoError(t, f.store.Put(context.Background(), "tenant-3", metric.KindCommitmentScore,
		json.RawMessage(`{"previous":true}`), 2*time.Hour, nil))

	summary := f.runner(f.store).RunMedium(context.Background())

	assert.Equal(t, 4, summary.Processed)
	assert.Equal(t, 5, summary.Total)
	require.Len(t, summary.Errors, 1)
	assert.Equal(t, "tenant-3", summary.Errors[0].TenantID)
	assert.Contains(t, summary.Errors[0].Error, "event store unavailable")
	assert.Equal(t, StatusPartial, summary.Status())

	for _, tenant := range tenants {
		for _, kind := range []metric.Kind{metric.KindEngagementConsistency, metric.KindCommitmentScore} {
			row, err := f.store.Get(context.Background(), tenant, kind)
			if tenant == "tenant-3" {
				if kind == metric.KindCommitmentScore {
					require.NoError(t, err)
					assert.JSONEq(t, `{"previous":true}`, string(row.Value))
				} else {
					assert.ErrorIs(t, err, metriccache.ErrNotFound)
				}
				continue
			}
			require.NoError(t, err, "tenant %s kind %s", tenant, kind)
			assert.Equal(t, "medium_tier", row.Metadata["source"])
			assert.WithinDuration(t, testNow.Add(70*time.Minute), row.ExpiresAt, time.Second)
		}
	}

	assert.Contains(t, f.logs.String(), "Tenant refresh failed")
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.TierRunsTotal.WithLabelValues("medium", StatusPartial)))
	assert.Equal(t, 4.0, testutil.ToFloat64(f.metrics.TierTenantsProcessed.WithLabelValues("medium")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.TierTenantErrorsTotal.WithLabelValues("medium")))
}

func TestRunSlow_PurgesBeforeRecompute(t *testing.T) {
	f := newFixture(t, "tenant-a")
	ctx := context.Background()

	require.NoError(t, f.store.Put(ctx, "gone", metric.KindAhaMoments, json.RawMessage(`{}`), time.Minute, nil))
	require.NoError(t, f.store.Put(ctx, "gone", metric.KindContentPathways, json.RawMessage(`{}`), time.Minute, nil))
	f.clock.Advance(2 * time.Minute)

	summary := f.runner(f.store).RunSlow(ctx)

	assert.Equal(t, int64(2), summary.Purged)
	assert.Equal(t, 1, summary.Processed)
	for _, kind := range []metric.Kind{metric.KindAhaMoments, metric.KindContentPathways, metric.KindFeedbackThemes} {
		row, err := f.store.Get(ctx, "tenant-a", kind)
		require.NoError(t, err)
		assert.Equal(t, "slow_tier", row.Metadata["source"])
	}
	// nothing this run wrote is expired, so three live rows remain
	assert.Equal(t, 3, f.store.Len())
}

func TestRun_ListFailureIsReported(t *testing.T) {
	f := newFixture(t)
	store, err := metriccache.NewMemoryStore(10, metriccache.WithClock(f.clock))
	require.NoError(t, err)

	summary := f.runner(store).RunFast(context.Background())

	assert.Equal(t, 0, summary.Total)
	assert.Contains(t, summary.Failure, "no tenant lister configured")
	assert.Equal(t, StatusFailed, summary.Status())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.TierRunsTotal.WithLabelValues("fast", StatusFailed)))
}

func TestRun_RecoversPanickingTenant(t *testing.T) {
	f := newFixture(t, "tenant-a", "tenant-b")

	summary := f.runner(panickyStore{Store: f.store, tenant: "tenant-b"}).RunFast(context.Background())

	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, 2, summary.Total)
	require.Len(t, summary.Errors, 1)
	assert.Equal(t, "tenant-b", summary.Errors[0].TenantID)
	assert.Contains(t, summary.Errors[0].Error, "write path exploded")
	assert.Contains(t, f.logs.String(), "PANIC recovered")
}

func TestRun_IsIdempotent(t *testing.T) {
	f := newFixture(t, "tenant-a")
	runner := f.runner(f.store)
	ctx := context.Background()

	first := runner.RunMedium(ctx)
	f.clock.Advance(time.Hour)
	second := runner.RunMedium(ctx)

	assert.NotEqual(t, first.RunID, second.RunID)
	assert.Equal(t, first.Processed, second.Processed)
	assert.Equal(t, 2, f.store.Len())

	row, err := f.store.Get(ctx, "tenant-a", metric.KindEngagementConsistency)
	require.NoError(t, err)
	assert.Equal(t, second.RunID, row.Metadata["run_id"])
	assert.WithinDuration(t, testNow.Add(time.Hour+70*time.Minute), row.ExpiresAt, time.Second)
}

func TestRun_CancelledContext(t *testing.T) {
	f := newFixture(t, "tenant-a", "tenant-b")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary := f.runner(f.store).RunFast(ctx)

	// the lister honours cancellation, so nothing is attempted
	assert.Equal(t, StatusFailed, summary.Status())
	assert.Equal(t, 0, f.store.Len())
}

func TestRunByName(t *testing.T) {
	f := newFixture(t, "tenant-a")
	runner := f.runner(f.store)

	summary, err := runner.RunByName(context.Background(), TierMedium)
	require.NoError(t, err)
	assert.Equal(t, TierMedium, summary.Tier)

	_, err = runner.RunByName(context.Background(), "hourly")
	assert.ErrorContains(t, err, "unknown tier")
}

func TestRun_ManyTenants(t *testing.T) {
	var tenants []string
	for i := 0; i < 25; i++ {
		tenants = append(tenants, fmt.Sprintf("tenant-%02d", i))
	}
	f := newFixture(t, tenants...)

	summary := f.runner(f.store).RunFast(context.Background())

	assert.Equal(t, 25, summary.Processed)
	assert.Equal(t, 25, f.store.Len())
}
