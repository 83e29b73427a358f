package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"classifieds-catalog/internal/platform/metrics"
)

type payload struct {
	Names []string `json:"names"`
}

func newTestCache(t *testing.T) (*Redis, *miniredis.Miniredis, *metrics.MetricsManager) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	m := metrics.NewMetricsManager("test")
	return NewRedis(client, "catalog:", time.Second, zap.NewNop(), m), mr, m
}

func TestRedis_SetGetInvalidate(t *testing.T) {
	c, mr, m := newTestCache(t)
	ctx := context.Background()

	var got payload
	assert.False(t, c.Get(ctx, KeyActiveListings, &got))

	c.Set(ctx, KeyActiveListings, payload{Names: []string{"a", "b"}}, 5*time.Minute)
	assert.True(t, mr.Exists("catalog:all_active_listings"))

	require.True(t, c.Get(ctx, KeyActiveListings, &got))
	assert.Equal(t, []string{"a", "b"}, got.Names)

	c.Invalidate(ctx, KeyActiveListings)
	assert.False(t, mr.Exists("catalog:all_active_listings"))
	assert.False(t, c.Get(ctx, KeyActiveListings, &got))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheRequestsTotal.WithLabelValues("hit")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.CacheRequestsTotal.WithLabelValues("miss")))
}

func TestRedis_ExpiredByRedisTTL(t *testing.T) {
	c, mr, _ := newTestCache(t)
	ctx := context.Background()

	c.Set(ctx, "k", payload{Names: []string{"x"}}, 300*time.Second)
	mr.FastForward(301 * time.Second)

	var got payload
	assert.False(t, c.Get(ctx, "k", &got))
}

func TestRedis_NeverServesOlderThanTTL(t *testing.T) {
	c, _, _ := newTestCache(t)
	ctx := context.Background()

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	c.Set(ctx, "k", payload{Names: []string{"x"}}, time.Minute)

	// Redis still holds the key; the envelope timestamp decides.
	now = now.Add(time.Minute + time.Millisecond)
	var got payload
	assert.False(t, c.Get(ctx, "k", &got))

	now = now.Add(-2 * time.Millisecond)
	assert.True(t, c.Get(ctx, "k", &got))
}

func TestRedis_FailuresAreMisses(t *testing.T) {
	c, mr, m := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, mr.Set("catalog:garbage", "not json"))
	var got payload
	assert.False(t, c.Get(ctx, "garbage", &got))

	mr.Close()
	assert.False(t, c.Get(ctx, "k", &got))
	assert.NotPanics(t, func() {
		c.Set(ctx, "k", payload{}, time.Minute)
		c.Invalidate(ctx, "k")
	})

	assert.Equal(t, 4.0, testutil.ToFloat64(m.CacheRequestsTotal.WithLabelValues("error")))
}

func TestNoop(t *testing.T) {
	var c Cache = Noop{}
	c.Set(context.Background(), "k", 1, time.Minute)
	var v int
	assert.False(t, c.Get(context.Background(), "k", &v))
}
