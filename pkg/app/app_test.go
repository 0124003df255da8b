package app

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/beacon/pkg/config"
	"github.com/platinummonkey/beacon/pkg/metric"
	"github.com/platinummonkey/beacon/pkg/metriccache"
	"github.com/platinummonkey/beacon/pkg/observability"
	"github.com/platinummonkey/beacon/pkg/scheduler"
)

func testConfig() *config.Config {
	return &config.Config{
		Cache: metriccache.DefaultConfig(),
		Scheduler: config.SchedulerConfig{
			Workers: 2,
			Tiers: map[string]config.TierOverride{
				scheduler.TierFast: {TTL: 10 * time.Minute},
			},
		},
		Observability: config.ObservabilityConfig{MetricsEnabled: true},
	}
}

func TestNew_Memory(t *testing.T) {
	var logs bytes.Buffer
	logger := observability.NewLogger(observability.InfoLevel, &logs)

	a, err := New(context.Background(), testConfig(), logger, "test")
	require.NoError(t, err)
	defer a.Close(context.Background())

	assert.NotNil(t, a.Metrics)
	assert.Equal(t, metriccache.BackendMemory, a.Cache.Backend())
	assert.Contains(t, logs.String(), "No event store configured")

	fast, err := a.Runner.Tiers().Get(scheduler.TierFast)
	require.NoError(t, err)
	assert.Equal(t, 10*time.Minute, fast.TTL)

	// an empty event store yields an empty but successful run
	summary := a.Runner.RunFast(context.Background())
	assert.Equal(t, scheduler.StatusSuccess, summary.Status())
	assert.Equal(t, 0, summary.Total)

	status := a.Health.Check(context.Background())
	assert.Equal(t, observability.StatusHealthy, status.Status)
	assert.Empty(t, status.Dependencies)
}

func TestNew_SQLiteRegistersHealthCheck(t *testing.T) {
	cfg := testConfig()
	cfg.Cache.Backend = metriccache.BackendSQLite
	cfg.Cache.SQLitePath = filepath.Join(t.TempDir(), "metrics.db")

	a, err := New(context.Background(), cfg, observability.NopLogger(), "test")
	require.NoError(t, err)

	ctx := context.Background()
	res, ok := a.Dashboard.GetOrCompute(ctx, "acme", metric.KindFeedbackThemes, 0)
	require.True(t, ok)
	assert.Equal(t, metric.KindFeedbackThemes, res.Kind())

	status := a.Health.Check(ctx)
	assert.Contains(t, status.Dependencies, "metric_cache")
	assert.Equal(t, observability.StatusHealthy, status.Status)

	require.NoError(t, a.Close(ctx))
	assert.Equal(t, observability.StatusUnhealthy, a.Health.Check(ctx).Status)
}

func TestNew_MetricsDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.Observability.MetricsEnabled = false

	a, err := New(context.Background(), cfg, observability.NopLogger(), "test")
	require.NoError(t, err)
	defer a.Close(context.Background())

	assert.Nil(t, a.Metrics)
	a.Runner.RunSlow(context.Background())
}

func TestNew_InvalidTierOverride(t *testing.T) {
	cfg := testConfig()
	cfg.Scheduler.Tiers = map[string]config.TierOverride{"weekly": {TTL: time.Hour}}

	_, err := New(context.Background(), cfg, observability.NopLogger(), "test")
	assert.ErrorContains(t, err, "unknown tier")
}

func TestNew_StartupFailureReturnsError(t *testing.T) {
	tests := []struct {
		name   string
		modify func(t *testing.T, cfg *config.Config)
		want   string
	}{
		{
			name: "unknown cache backend",
			modify: func(t *testing.T, cfg *config.Config) {
				cfg.Cache.Backend = "bogus"
			},
			want: "bogus",
		},
		{
			name: "unwritable sqlite path",
			modify: func(t *testing.T, cfg *config.Config) {
				cfg.Cache.Backend = metriccache.BackendSQLite
				cfg.Cache.SQLitePath = filepath.Join(t.TempDir(), "missing", "dir", "metrics.db")
			},
			want: "failed to open sqlite metric cache",
		},
		{
			name: "bad override after the cache is open",
			modify: func(t *testing.T, cfg *config.Config) {
				cfg.Cache.Backend = metriccache.BackendSQLite
				cfg.Cache.SQLitePath = filepath.Join(t.TempDir(), "metrics.db")
				cfg.Scheduler.Tiers = map[string]config.TierOverride{"weekly": {TTL: time.Hour}}
			},
			want: "unknown tier",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.modify(t, cfg)

			var (
				a   *App
				err error
			)
			assert.NotPanics(t, func() {
				a, err = New(context.Background(), cfg, observability.NopLogger(), "test")
			})
			assert.Nil(t, a)
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func TestInitFailureClosesOpenedCache(t *testing.T) {
	cfg := testConfig()
	cfg.Cache.Backend = metriccache.BackendSQLite
	cfg.Cache.SQLitePath = filepath.Join(t.TempDir(), "metrics.db")
	cfg.Scheduler.Tiers = map[string]config.TierOverride{"weekly": {TTL: time.Hour}}

	a := newApp(cfg, observability.NopLogger(), "test")
	ctx := context.Background()
	require.Error(t, a.init(ctx))
	require.NotNil(t, a.Cache, "cache should have been opened before the failure")

	sqlStore, ok := a.Cache.Unwrap().(*metriccache.SQLStore)
	require.True(t, ok)
	require.NoError(t, sqlStore.DB().PingContext(ctx))

	require.NoError(t, a.Close(ctx))
	assert.ErrorContains(t, sqlStore.DB().PingContext(ctx), "database is closed")

	// closing twice is harmless
	assert.NoError(t, a.Close(ctx))
}

func TestNewCron(t *testing.T) {
	a, err := New(context.Background(), testConfig(), observability.NopLogger(), "test")
	require.NoError(t, err)
	defer a.Close(context.Background())

	c, err := a.NewCron()
	require.NoError(t, err)
	assert.Len(t, c.Next(), 3)
}
