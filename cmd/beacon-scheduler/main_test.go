package main

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/platinummonkey/beacon/pkg/calculators"
	"github.com/platinummonkey/beacon/pkg/eventstore"
	"github.com/platinummonkey/beacon/pkg/metriccache"
	"github.com/platinummonkey/beacon/pkg/observability"
	"github.com/platinummonkey/beacon/pkg/scheduler"
)

func newRunner(t *testing.T, withLister bool) *scheduler.Runner {
	t.Helper()
	events := eventstore.NewMemory()
	events.SetTenant("acme", true)

	var opts []metriccache.Option
	if withLister {
		opts = append(opts, metriccache.WithTenantLister(events))
	}
	store, err := metriccache.NewMemoryStore(10, opts...)
	if err != nil {
		t.Fatal(err)
	}
	return scheduler.NewRunner(store, calculators.NewSet(events, nil, nil, nil))
}

func TestRunTiers(t *testing.T) {
	tests := []struct {
		name       string
		tier       string
		withLister bool
		wantCode   int
		wantRuns   int
	}{
		{name: "all", tier: "all", withLister: true, wantCode: 0, wantRuns: 3},
		{name: "single tier case insensitive", tier: "Medium", withLister: true, wantCode: 0, wantRuns: 1},
		{name: "unknown tier", tier: "hourly", withLister: true, wantCode: 1, wantRuns: 0},
		{name: "listing fails", tier: "fast", withLister: false, wantCode: 1, wantRuns: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var logs bytes.Buffer
			logger := observability.NewLogger(observability.InfoLevel, &logs)

			code := runTiers(context.Background(), newRunner(t, tt.withLister), logger, tt.tier)

			assert.Equal(t, tt.wantCode, code)
			assert.Equal(t, tt.wantRuns, bytes.Count(logs.Bytes(), []byte("Tier run finished")))
		})
	}
}
