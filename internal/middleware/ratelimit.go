// Package middleware holds the gin middleware shared by every route:
// authentication, rate limiting, request logging and error telemetry.
package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	RateLimitHeader          = "X-RateLimit-Limit"
	RateLimitRemainingHeader = "X-RateLimit-Remaining"
	RateLimitResetHeader     = "X-RateLimit-Reset"
)

// RateLimitConfig allows Requests per Window for each bucket KeyFunc picks.
type RateLimitConfig struct {
	Requests int
	Window   time.Duration
	KeyFunc  func(*gin.Context) string
	SkipFunc func(*gin.Context) bool
}

// DefaultRateLimitConfig allows 100 requests a minute per user, falling back
// to the client IP for unauthenticated requests. /health is never limited.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Requests: 100,
		Window:   time.Minute,
		KeyFunc: func(c *gin.Context) string {
			if id := CurrentUserID(c); id != "" {
				return "user:" + id
			}
			return "ip:" + c.ClientIP()
		},
		SkipFunc: func(c *gin.Context) bool {
			return c.Request.URL.Path == "/health"
		},
	}
}

// RateLimiter is a fixed-window limiter counted in Redis when a client is
// given and in process memory otherwise.
type RateLimiter struct {
	config RateLimitConfig
	redis  *redis.Client
	logger *zap.Logger

	mu     sync.Mutex
	window map[string]*windowCount
	now    func() time.Time
}

type windowCount struct {
	count   int
	resetAt time.Time
}

func NewRateLimiter(config RateLimitConfig, redisClient *redis.Client, logger *zap.Logger) *RateLimiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	defaults := DefaultRateLimitConfig()
	if config.Requests <= 0 {
		config.Requests = defaults.Requests
	}
	if config.Window <= 0 {
		config.Window = defaults.Window
	}
	if config.KeyFunc == nil {
		config.KeyFunc = defaults.KeyFunc
	}
	return &RateLimiter{
		config: config,
		redis:  redisClient,
		logger: logger,
		window: make(map[string]*windowCount),
		now:    time.Now,
	}
}

func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if rl.config.SkipFunc != nil && rl.config.SkipFunc(c) {
			c.Next()
			return
		}

		key := rl.config.KeyFunc(c)
		allowed, remaining, resetAt, err := rl.take(c.Request.Context(), key)
		if err != nil {
			// Fail open.
			rl.logger.Error("Rate limit check failed", zap.String("key", key), zap.Error(err))
			c.Next()
			return
		}

		c.Header(RateLimitHeader, strconv.Itoa(rl.config.Requests))
		c.Header(RateLimitRemainingHeader, strconv.Itoa(remaining))
		c.Header(RateLimitResetHeader, strconv.FormatInt(resetAt.Unix(), 10))

		if !allowed {
			retryAfter := int(time.Until(resetAt).Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"status": "error",
				"code":   "rate_limited",
				"error":  "rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}

func (rl *RateLimiter) take(ctx context.Context, key string) (bool, int, time.Time, error) {
	if rl.redis != nil {
		return rl.takeRedis(ctx, key)
	}
	return rl.takeLocal(key)
}

var fixedWindowScript = redis.NewScript(`
local current = tonumber(redis.call("GET", KEYS[1]) or "0")
if current >= tonumber(ARGV[1]) then
	return {0, 0, redis.call("PTTL", KEYS[1])}
end
current = redis.call("INCR", KEYS[1])
if current == 1 then
	redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return {1, tonumber(ARGV[1]) - current, redis.call("PTTL", KEYS[1])}
`)

func (rl *RateLimiter) takeRedis(ctx context.Context, key string) (bool, int, time.Time, error) {
	res, err := fixedWindowScript.Run(ctx, rl.redis, []string{"ratelimit:" + key},
		rl.config.Requests, rl.config.Window.Milliseconds()).Int64Slice()
	if err != nil {
		return false, 0, time.Time{}, err
	}
	if len(res) != 3 {
		return false, 0, time.Time{}, fmt.Errorf("unexpected rate limit reply of length %d", len(res))
	}
	ttl := time.Duration(res[2]) * time.Millisecond
	if ttl < 0 {
		ttl = rl.config.Window
	}
	return res[0] == 1, int(res[1]), rl.now().Add(ttl), nil
}

func (rl *RateLimiter) takeLocal(key string) (bool, int, time.Time, error) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if len(rl.window) > 1024 {
		for k, w := range rl.window {
			if !now.Before(w.resetAt) {
				delete(rl.window, k)
			}
		}
	}

	w, ok := rl.window[key]
	if !ok || !now.Before(w.resetAt) {
		w = &windowCount{resetAt: now.Add(rl.config.Window)}
		rl.window[key] = w
	}
	if w.count >= rl.config.Requests {
		return false, 0, w.resetAt, nil
	}
	w.count++
	return true, rl.config.Requests - w.count, w.resetAt, nil
}

// Reset clears the window for key.
func (rl *RateLimiter) Reset(ctx context.Context, key string) error {
	if rl.redis != nil {
		return rl.redis.Del(ctx, "ratelimit:"+key).Err()
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.window, key)
	return nil
}
