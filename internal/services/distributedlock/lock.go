// Package distributedlock serialises writers per key, across instances via
// Redis or within one process via mutexes.
package distributedlock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ErrLockHeld is returned when the key stays locked past the wait timeout.
var ErrLockHeld = errors.New("lock already held")

// Locker hands out exclusive ownership of a key. The returned release func
// is safe to call more than once.
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// UserKey is the lock guarding a user's configuration, counters and ledger.
func UserKey(userID string) string {
	return "lock:user:" + userID
}

// Options configures lock behaviour.
type Options struct {
	// TTL bounds how long a crashed holder can block others.
	TTL time.Duration
	// WaitTimeout is how long Acquire retries before giving up. Zero means
	// a single attempt.
	WaitTimeout   time.Duration
	RetryInterval time.Duration
}

func DefaultOptions() Options {
	return Options{
		TTL:           30 * time.Second,
		WaitTimeout:   10 * time.Second,
		RetryInterval: 50 * time.Millisecond,
	}
}

// releaseScript deletes the key only if the caller still owns it.
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

type RedisLocker struct {
	client *redis.Client
	opts   Options
	logger *zap.Logger
}

func NewRedisLocker(client *redis.Client, opts Options, logger *zap.Logger) *RedisLocker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultOptions().TTL
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = DefaultOptions().RetryInterval
	}
	return &RedisLocker{client: client, opts: opts, logger: logger}
}

func (l *RedisLocker) Acquire(ctx context.Context, key string) (func(), error) {
	token := uuid.NewString()
	deadline := time.Now().Add(l.opts.WaitTimeout)

	for {
		ok, err := l.client.SetNX(ctx, key, token, l.opts.TTL).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
		}
		if ok {
			break
		}
		if !time.Now().Before(deadline) {
			return nil, fmt.Errorf("%w: %s", ErrLockHeld, key)
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("timeout waiting for lock %s: %w", key, ctx.Err())
		case <-time.After(l.opts.RetryInterval):
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			n, err := l.client.Eval(ctx, releaseScript, []string{key}, token).Int64()
			switch {
			case err != nil:
				l.logger.Warn("Failed to release lock", zap.String("key", key), zap.Error(err))
			case n == 0:
				l.logger.Warn("Lock expired before release", zap.String("key", key))
			}
		})
	}, nil
}

// LocalLocker is the in-process fallback when Redis is not configured.
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]chan struct{}
	opts  Options
}

func NewLocalLocker(opts Options) *LocalLocker {
	return &LocalLocker{locks: make(map[string]chan struct{}), opts: opts}
}

func (l *LocalLocker) slot(key string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.locks[key]
	if !ok {
		ch = make(chan struct{}, 1)
		l.locks[key] = ch
	}
	return ch
}

func (l *LocalLocker) Acquire(ctx context.Context, key string) (func(), error) {
	ch := l.slot(key)

	var timeout <-chan time.Time
	if l.opts.WaitTimeout > 0 {
		t := time.NewTimer(l.opts.WaitTimeout)
		defer t.Stop()
		timeout = t.C
	} else {
		select {
		case ch <- struct{}{}:
			return releaser(ch), nil
		default:
			return nil, fmt.Errorf("%w: %s", ErrLockHeld, key)
		}
	}

	select {
	case ch <- struct{}{}:
		return releaser(ch), nil
	case <-timeout:
		return nil, fmt.Errorf("%w: %s", ErrLockHeld, key)
	case <-ctx.Done():
		return nil, fmt.Errorf("timeout waiting for lock %s: %w", key, ctx.Err())
	}
}

func releaser(ch chan struct{}) func() {
	var once sync.Once
	return func() {
		once.Do(func() { <-ch })
	}
}
