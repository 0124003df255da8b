package scheduler

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/beacon/pkg/metriccache"
	"github.com/platinummonkey/beacon/pkg/observability"
)

func TestNewCron_RegistersEveryTier(t *testing.T) {
	f := newFixture(t)
	c, err := NewCron(f.runner(f.store), f.logger)
	require.NoError(t, err)

	c.Start(context.Background())
	defer c.Stop()

	next := c.Next()
	require.Len(t, next, 3)
	for name, at := range next {
		assert.False(t, at.IsZero(), "tier %s has no next run", name)
	}
}

func TestNewCron_InvalidSchedule(t *testing.T) {
	f := newFixture(t)
	tiers := DefaultTiers()
	tiers[0].Schedule = "every now and then"

	runner := f.runner(f.store)
	runner.tiers = tiers

	_, err := NewCron(runner, nil)
	assert.ErrorContains(t, err, "failed to schedule fast tier")
}

func TestCronJob_SkipsOverlappingRuns(t *testing.T) {
	f := newFixture(t, "tenant-a")
	blocking := &blockingStore{Store: f.store, release: make(chan struct{}), entered: make(chan struct{}, 4)}
	c, err := NewCron(f.runner(blocking), observability.NopLogger())
	require.NoError(t, err)

	fast, err := DefaultTiers().Get(TierFast)
	require.NoError(t, err)
	job := c.job(fast)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		job.Run()
	}()
	<-blocking.entered

	// a second tick while the first is still running is dropped
	job.Run()
	close(blocking.release)
	wg.Wait()

	assert.Len(t, blocking.entered, 0)
}

// blockingStore holds ListActiveTenants until released
type blockingStore struct {
	metriccache.Store
	release chan struct{}
	entered chan struct{}
}

func (b *blockingStore) ListActiveTenants(ctx context.Context) ([]string, error) {
	b.entered <- struct{}{}
	<-b.release
	return b.Store.ListActiveTenants(ctx)
}
