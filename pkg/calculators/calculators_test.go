package calculators

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/beacon/pkg/eventstore"
	"github.com/platinummonkey/beacon/pkg/metric"
	"github.com/platinummonkey/beacon/pkg/observability"
)

var testNow = time.Date(2026, time.March, 15, 12, 0, 0, 0, time.UTC)

const tenant = "tenant-a"

func newTestSet(store eventstore.Accessor) *Set {
	return NewSet(store, clockwork.NewFakeClockAt(testNow), nil, nil)
}

func ev(entity, eventType string, at time.Time, payload string) eventstore.RawEvent {
	e := eventstore.RawEvent{Type: eventType, OccurredAt: at}
	if entity != "" {
		id := entity
		e.EntityID = &id
	}
	if payload != "" {
		e.Payload = json.RawMessage(payload)
	}
	return e
}

func content(id string) string {
	return fmt.Sprintf(`{"content_id":%q}`, id)
}

func entities(ids ...string) []eventstore.Entity {
	out := make([]eventstore.Entity, 0, len(ids))
	for _, id := range ids {
		out = append(out, eventstore.Entity{ID: id, CreatedAt: testNow.Add(-90 * day)})
	}
	return out
}

// failingStore fails or panics on every query
type failingStore struct {
	err   error
	panic bool
}

func (f failingStore) fail() error {
	if f.panic {
		panic("accessor exploded")
	}
	return f.err
}

func (f failingStore) ListActiveTenants(ctx context.Context) ([]string, error) {
	return nil, f.fail()
}

func (f failingStore) QueryEvents(ctx context.Context, tenantID string, q eventstore.EventQuery) ([]eventstore.RawEvent, error) {
	return nil, f.fail()
}

func (f failingStore) QueryEntities(ctx context.Context, tenantID string) ([]eventstore.Entity, error) {
	return nil, f.fail()
}

func (f failingStore) QuerySubmissions(ctx context.Context, tenantID string, r eventstore.Range) ([]eventstore.Submission, error) {
	return nil, f.fail()
}

func (f failingStore) QueryInsights(ctx context.Context, tenantID string, q eventstore.InsightQuery) ([]eventstore.Insight, error) {
	return nil, f.fail()
}

func TestSet_For(t *testing.T) {
	set := newTestSet(eventstore.NewMemory())

	for _, kind := range metric.AllKinds() {
		calc, err := set.For(kind)
		require.NoError(t, err, kind)
		require.NotNil(t, calc, kind)
	}

	_, err := set.For(metric.Kind("nope"))
	assert.ErrorIs(t, err, metric.ErrUnknownKind)
}

func TestSet_EmptyTenantReturnsEmptyResults(t *testing.T) {
	set := newTestSet(eventstore.NewMemory())

	for _, kind := range metric.AllKinds() {
		res, err := set.Calculate(context.Background(), tenant, kind)
		require.NoError(t, err, kind)
		assert.Equal(t, metric.Empty(kind), res, kind)
	}
}

func TestSet_AccessorFailureReturnsEmptyAndError(t *testing.T) {
	var buf bytes.Buffer
	boom := errors.New("connection refused")
	set := NewSet(failingStore{err: boom}, clockwork.NewFakeClockAt(testNow), observability.NewLogger(observability.InfoLevel, &buf), nil)

	for _, kind := range metric.AllKinds() {
		res, err := set.Calculate(context.Background(), tenant, kind)
		require.Error(t, err, kind)
		assert.ErrorIs(t, err, boom, kind)
		assert.Equal(t, metric.Empty(kind), res, kind)
	}
	assert.Contains(t, buf.String(), "Metric calculation failed")
	assert.Contains(t, buf.String(), tenant)
}

func TestSet_PanicIsRecovered(t *testing.T) {
	set := newTestSet(failingStore{panic: true})

	res, err := set.Calculate(context.Background(), tenant, metric.KindAhaMoments)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accessor exploded")
	assert.Equal(t, metric.Empty(metric.KindAhaMoments), res)
}

func TestSet_CancelledContext(t *testing.T) {
	store := eventstore.NewMemory()
	store.AddEvents(tenant, ev("u1", eventstore.EventContentViewed, testNow.Add(-time.Hour), content("c1")))
	set := newTestSet(store)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := set.Calculate(ctx, tenant, metric.KindPopularContentDaily)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, metric.Empty(metric.KindPopularContentDaily), res)
}

func TestContentID(t *testing.T) {
	tests := []struct {
		payload string
		want    string
	}{
		{`{"content_id":"a"}`, "a"},
		{`{"contentId":"b"}`, "b"},
		{`{"content":{"id":"c"}}`, "c"},
		{`{"content_id":"","contentId":"d"}`, "d"},
		{`{"content_id":42}`, "42"},
		{`{"other":"x"}`, ""},
		{`not json`, ""},
		{``, ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, contentID(json.RawMessage(tt.payload)), tt.payload)
	}
}
