package tools

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/irfndi/tradepilot/internal/cache"
	"github.com/irfndi/tradepilot/internal/credentials"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTool struct {
	name  string
	ttl   time.Duration
	keyed bool
	calls atomic.Int32
	run   func(ctx context.Context, params map[string]any) (any, error)
}

func (f *fakeTool) Descriptor() ToolDescriptor {
	return ToolDescriptor{
		Name:                f.name,
		Description:         f.name + " tool",
		Provider:            "fake",
		CacheTTL:            f.ttl,
		RequiresCredentials: f.keyed,
	}
}

func (f *fakeTool) Execute(ctx context.Context, params map[string]any) (any, error) {
	f.calls.Add(1)
	return f.run(ctx, params)
}

func okTool(name string, ttl time.Duration) *fakeTool {
	return &fakeTool{name: name, ttl: ttl, run: func(_ context.Context, params map[string]any) (any, error) {
		return map[string]any{"echo": params["symbol"]}, nil
	}}
}

func TestHub_CachesSuccessfulResults(t *testing.T) {
	hub := NewHub(HubConfig{}, cache.NewFactory(nil, nil), nil)
	tool := okTool("sentiment_analysis", time.Minute)
	hub.Register(tool)
	ctx := context.Background()

	first := hub.Execute(ctx, "sentiment_analysis", map[string]any{"symbol": "BTC"})
	require.True(t, first.Success)
	assert.False(t, first.FromCache)
	assert.JSONEq(t, `{"echo":"BTC"}`, string(first.Data))

	second := hub.Execute(ctx, "sentiment_analysis", map[string]any{"symbol": "  btc "})
	require.True(t, second.Success)
	assert.True(t, second.FromCache, "normalized params share a cache entry")
	assert.Equal(t, "fake", second.Provider)
	assert.Equal(t, int32(1), tool.calls.Load())
}

func TestHub_CredentialToolsCachePerUser(t *testing.T) {
	hub := NewHub(HubConfig{}, cache.NewFactory(nil, nil), nil)
	tool := &fakeTool{name: "onchain_metrics", ttl: time.Minute, keyed: true,
		run: func(ctx context.Context, _ map[string]any) (any, error) {
			return map[string]any{"user": credentials.UserFromContext(ctx)}, nil
		}}
	hub.Register(tool)
	params := map[string]any{"symbol": "BTC"}
	alice := credentials.ContextWithUser(context.Background(), "alice")
	bob := credentials.ContextWithUser(context.Background(), "bob")

	first := hub.Execute(alice, "onchain_metrics", params)
	require.True(t, first.Success)
	assert.JSONEq(t, `{"user":"alice"}`, string(first.Data))

	other := hub.Execute(bob, "onchain_metrics", params)
	require.True(t, other.Success)
	assert.False(t, other.FromCache)
	assert.JSONEq(t, `{"user":"bob"}`, string(other.Data))

	again := hub.Execute(alice, "onchain_metrics", params)
	assert.True(t, again.FromCache)
	assert.JSONEq(t, `{"user":"alice"}`, string(again.Data))
	assert.Equal(t, int32(2), tool.calls.Load())
}

func TestHub_PublicToolsShareCacheAcrossUsers(t *testing.T) {
	hub := NewHub(HubConfig{}, cache.NewFactory(nil, nil), nil)
	tool := okTool("technical_indicators", time.Minute)
	hub.Register(tool)
	params := map[string]any{"symbol": "BTC"}

	hub.Execute(credentials.ContextWithUser(context.Background(), "alice"), "technical_indicators", params)
	res := hub.Execute(credentials.ContextWithUser(context.Background(), "bob"), "technical_indicators", params)
	assert.True(t, res.FromCache)
	assert.Equal(t, int32(1), tool.calls.Load())
}

func TestHub_FailuresAreResultsAndNotCached(t *testing.T) {
	hub := NewHub(HubConfig{}, nil, nil)
	tool := &fakeTool{name: "onchain_metrics", ttl: time.Hour, run: func(context.Context, map[string]any) (any, error) {
		return nil, errors.New("provider down")
	}}
	hub.Register(tool)

	for range 2 {
		res := hub.Execute(context.Background(), "onchain_metrics", nil)
		assert.False(t, res.Success)
		assert.Equal(t, "provider down", res.Error)
	}
	assert.Equal(t, int32(2), tool.calls.Load())
}

func TestHub_UnknownTool(t *testing.T) {
	res := NewHub(HubConfig{}, nil, nil).Execute(context.Background(), "nope", nil)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "unknown tool")
}

func TestHub_PanicAndTimeoutAreIsolated(t *testing.T) {
	hub := NewHub(HubConfig{Timeout: 50 * time.Millisecond}, nil, nil)
	hub.Register(&fakeTool{name: "panicky", run: func(context.Context, map[string]any) (any, error) {
		panic("boom")
	}})
	hub.Register(&fakeTool{name: "slow", run: func(ctx context.Context, _ map[string]any) (any, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(5 * time.Second):
			return "late", nil
		}
	}})
	hub.Register(okTool("fine", 0))

	results := hub.ExecuteMany(context.Background(), []ToolRequest{
		{Name: "panicky"},
		{Name: "slow"},
		{Name: "fine", Parameters: map[string]any{"symbol": "ETH"}},
	})
	require.Len(t, results, 3)
	assert.False(t, results[0].Success)
	assert.Contains(t, results[0].Error, "panicked")
	assert.False(t, results[1].Success)
	assert.Equal(t, "slow", results[1].ToolName)
	assert.True(t, results[2].Success, "healthy tool unaffected by failing siblings")
}

func TestHub_ExecuteManyRespectsLimit(t *testing.T) {
	hub := NewHub(HubConfig{MaxParallel: 2}, nil, nil)
	var inFlight, peak atomic.Int32
	hub.Register(&fakeTool{name: "busy", run: func(context.Context, map[string]any) (any, error) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		inFlight.Add(-1)
		return true, nil
	}})

	requests := make([]ToolRequest, 6)
	for i := range requests {
		requests[i] = ToolRequest{Name: "busy"}
	}
	results := hub.ExecuteMany(context.Background(), requests)
	assert.Len(t, results, 6)
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestHub_ListToolsSorted(t *testing.T) {
	hub := NewHub(HubConfig{}, nil, nil)
	hub.Register(okTool("technical_indicators", 0))
	hub.Register(okTool("market_research", 0))
	hub.Register(okTool("onchain_metrics", 0))

	var names []string
	for _, d := range hub.ListTools() {
		names = append(names, d.Name)
	}
	assert.Equal(t, []string{"market_research", "onchain_metrics", "technical_indicators"}, names)
}

func TestCacheKey_Normalization(t *testing.T) {
	a, err := CacheKey(map[string]any{"Symbol": " BTC ", "window": 7, "tags": []any{"A", "b"}})
	require.NoError(t, err)
	b, err := CacheKey(map[string]any{"window": 7, "tags": []string{"a", "B "}, "symbol": "btc"})
	require.NoError(t, err)
	assert.Equal(t, a, b)

	c, err := CacheKey(map[string]any{"symbol": "eth", "window": 7})
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}
