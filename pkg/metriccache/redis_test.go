package metriccache

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/beacon/pkg/metric"
)

func TestRedisStore_HashLayoutAndExpiry(t *testing.T) {
	clock := clockwork.NewFakeClockAt(testNow)
	store, mr := setupRedisTest(t, clock)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, tenantA, metric.KindPopularContentDaily, []byte(`{"has_data":false}`), 20*time.Minute,
		map[string]interface{}{"source": "fast_tier"}))

	key := DefaultRedisKeyPrefix + tenantA + ":popular_content_daily"
	assert.True(t, mr.Exists(key))
	assert.Equal(t, `{"has_data":false}`, mr.HGet(key, "value"))
	assert.Equal(t, `{"source":"fast_tier"}`, mr.HGet(key, "metadata"))
	assert.Equal(t, 20*time.Minute, mr.TTL(key))
}

func TestRedisStore_ServerEvictionIsAMiss(t *testing.T) {
	clock := clockwork.NewFakeClockAt(testNow)
	store, mr := setupRedisTest(t, clock)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, tenantA, metric.KindAhaMoments, []byte(`{}`), time.Hour, nil))
	mr.FastForward(time.Hour)

	_, err := store.Get(ctx, tenantA, metric.KindAhaMoments)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStore_PurgeKeepsRewrittenKeys(t *testing.T) {
	clock := clockwork.NewFakeClockAt(testNow)
	store, _ := setupRedisTest(t, clock)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, tenantA, metric.KindAhaMoments, []byte(`{"v":1}`), time.Minute, nil))
	require.NoError(t, store.Put(ctx, tenantB, metric.KindAhaMoments, []byte(`{"v":1}`), time.Minute, nil))
	clock.Advance(2 * time.Minute)

	// tenant-b is refreshed before the purge reaches it
	require.NoError(t, store.Put(ctx, tenantB, metric.KindAhaMoments, []byte(`{"v":2}`), time.Hour, nil))

	n, err := store.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	row, err := store.Get(ctx, tenantB, metric.KindAhaMoments)
	require.NoError(t, err)
	assert.JSONEq(t, `{"v":2}`, string(row.Value))
}

func TestRedisStore_PurgeIgnoresForeignKeys(t *testing.T) {
	clock := clockwork.NewFakeClockAt(testNow)
	store, mr := setupRedisTest(t, clock)

	require.NoError(t, mr.Set("session:abc", "x"))

	n, err := store.PurgeExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
	assert.True(t, mr.Exists("session:abc"))
}

func TestRedisStore_ConnectionError(t *testing.T) {
	clock := clockwork.NewFakeClockAt(testNow)
	store, mr := setupRedisTest(t, clock)
	mr.Close()

	_, err := store.Get(context.Background(), tenantA, metric.KindAhaMoments)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestOpenRedis_InvalidURL(t *testing.T) {
	_, err := OpenRedis(context.Background(), RedisConfig{URL: "invalid://url"})
	assert.ErrorContains(t, err, "invalid redis URL")
}

func TestParseMicros(t *testing.T) {
	got, err := parseMicros("1773576000000000")
	require.NoError(t, err)
	assert.True(t, got.Equal(testNow))

	_, err = parseMicros("")
	assert.Error(t, err)
}
