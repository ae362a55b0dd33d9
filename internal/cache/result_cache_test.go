package cache

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestMemoryCache_HitAndExpiry(t *testing.T) {
	c := NewMemoryCache(time.Minute)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	_, ok := c.Get(ctx, "k")
	assert.False(t, ok)

	c.Set(ctx, "k", Entry{Data: json.RawMessage(`{"score":0.4}`), Provider: "cryptopanic"})
	got, ok := c.Get(ctx, "k")
	require.True(t, ok)
	assert.JSONEq(t, `{"score":0.4}`, string(got.Data))
	assert.Equal(t, now.Add(time.Minute), got.ExpiresAt)

	now = now.Add(time.Minute)
	_, ok = c.Get(ctx, "k")
	assert.False(t, ok, "entry expires at its TTL")
	assert.Equal(t, 1, c.Purge())

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(2), stats.Misses)
	assert.Equal(t, int64(1), stats.Sets)
}

func TestRedisCache_RoundTripWithTTL(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	c := NewRedisCache(client, "sentiment_analysis", 15*time.Minute, nil)
	ctx := context.Background()

	c.Set(ctx, "abc", Entry{Data: json.RawMessage(`[1,2]`)})
	assert.True(t, mr.Exists("tool_cache:sentiment_analysis:abc"))
	assert.Equal(t, 15*time.Minute, mr.TTL("tool_cache:sentiment_analysis:abc"))

	got, ok := c.Get(ctx, "abc")
	require.True(t, ok)
	assert.JSONEq(t, `[1,2]`, string(got.Data))

	mr.FastForward(16 * time.Minute)
	_, ok = c.Get(ctx, "abc")
	assert.False(t, ok)

	c.Set(ctx, "x", Entry{Data: json.RawMessage(`1`)})
	n, err := c.Clear(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRedisCache_FailureIsMiss(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()

	core, logs := observer.New(zapcore.WarnLevel)
	c := NewRedisCache(client, "onchain_metrics", time.Hour, zap.New(core))
	mr.Close()

	_, ok := c.Get(context.Background(), "k")
	assert.False(t, ok)
	assert.Equal(t, 1, logs.FilterMessage("Tool cache read failed").Len())
	assert.Equal(t, int64(1), c.Stats().Misses)
}

func TestNewFactory(t *testing.T) {
	mem := NewFactory(nil, nil)("technical_indicators", 5*time.Minute)
	_, isMem := mem.(*MemoryCache)
	assert.True(t, isMem)
	assert.Equal(t, 5*time.Minute, mem.TTL())

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	rc := NewFactory(client, zap.NewNop())("market_research", 6*time.Hour)
	_, isRedis := rc.(*RedisCache)
	assert.True(t, isRedis)
}

func TestStats_HitRate(t *testing.T) {
	assert.Equal(t, 0.0, Stats{}.HitRate())
	assert.Equal(t, 75.0, Stats{Hits: 3, Misses: 1}.HitRate())
}
