package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func limitedRouter(rl *RateLimiter) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(rl.Middleware())
	router.GET("/test", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	router.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })
	return router
}

func get(router http.Handler, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestDefaultRateLimitConfig_Keys(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cfg := DefaultRateLimitConfig()

	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodGet, "/api/v1/x", nil)
	assert.Contains(t, cfg.KeyFunc(c), "ip:")
	assert.False(t, cfg.SkipFunc(c))

	c.Set(UserIDKey, "u1")
	assert.Equal(t, "user:u1", cfg.KeyFunc(c))

	c.Request = httptest.NewRequest(http.MethodGet, "/health", nil)
	assert.True(t, cfg.SkipFunc(c))
}

func TestRateLimiter_Redis(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	rl := NewRateLimiter(RateLimitConfig{
		Requests: 2,
		Window:   time.Minute,
		KeyFunc:  func(*gin.Context) string { return "client" },
	}, client, zap.NewNop())
	router := limitedRouter(rl)

	for i := 0; i < 2; i++ {
		w := get(router, "/test")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "2", w.Header().Get(RateLimitHeader))
	}
	w := get(router, "/test")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "0", w.Header().Get(RateLimitRemainingHeader))
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
	assert.JSONEq(t, `{"status":"error","code":"rate_limited","error":"rate limit exceeded"}`, w.Body.String())

	mr.FastForward(time.Minute + time.Second)
	assert.Equal(t, http.StatusOK, get(router, "/test").Code)

	require.NoError(t, rl.Reset(context.Background(), "client"))
	assert.False(t, mr.Exists("ratelimit:client"))
}

func TestRateLimiter_Local(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(RateLimitConfig{Requests: 3, Window: time.Minute}, nil, nil)
	rl.now = func() time.Time { return now }

	for want := 2; want >= 0; want-- {
		allowed, remaining, resetAt, err := rl.take(context.Background(), "k")
		require.NoError(t, err)
		assert.True(t, allowed)
		assert.Equal(t, want, remaining)
		assert.Equal(t, now.Add(time.Minute), resetAt)
	}
	allowed, _, _, err := rl.take(context.Background(), "k")
	require.NoError(t, err)
	assert.False(t, allowed)

	now = now.Add(time.Minute)
	allowed, remaining, _, err := rl.take(context.Background(), "k")
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.Equal(t, 2, remaining)

	require.NoError(t, rl.Reset(context.Background(), "k"))
	assert.Empty(t, rl.window)
}

func TestRateLimiter_SkipsHealth(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{
		Requests: 1,
		Window:   time.Minute,
		SkipFunc: DefaultRateLimitConfig().SkipFunc,
	}, nil, nil)
	router := limitedRouter(rl)

	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, get(router, "/health").Code)
	}
	assert.Equal(t, http.StatusOK, get(router, "/test").Code)
	assert.Equal(t, http.StatusTooManyRequests, get(router, "/test").Code)
}

func TestRateLimiter_FailsOpenOnRedisError(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	mr.Close()

	rl := NewRateLimiter(RateLimitConfig{Requests: 1, Window: time.Minute}, client, nil)
	router := limitedRouter(rl)
	assert.Equal(t, http.StatusOK, get(router, "/test").Code)
	assert.Equal(t, http.StatusOK, get(router, "/test").Code)
}
