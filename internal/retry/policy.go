// Package retry holds the explicit retry policy used by outbound transports.
package retry

import (
	"context"
	"time"
)

// Policy retries an operation a bounded number of times with a fixed delay.
// Only errors accepted by Retryable are retried; a nil Retryable retries
// every error.
type Policy struct {
	MaxAttempts int
	Delay       time.Duration
	Retryable   func(error) bool
	OnRetry     func(attempt int, err error)
}

// Do runs fn until it succeeds, returns a non-retryable error, the attempts
// are exhausted, or ctx is done. The last error is returned.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if attempt == attempts || (p.Retryable != nil && !p.Retryable(err)) {
			return err
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt, err)
		}

		if p.Delay > 0 {
			timer := time.NewTimer(p.Delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return err
			case <-timer.C:
			}
		} else if ctx.Err() != nil {
			return err
		}
	}
	return err
}
