package httpx

import (
	"context"
	"errors"
	"time"
)

// ErrRateLimited marks a call rejected by the upstream rate limiter. Retry
// loops back off only on this error; everything else fails fast.
var ErrRateLimited = errors.New("rate limited")

// RetryConfig bounds an exponential backoff loop. With BaseDelay=1s and
// MaxAttempts=3 the delays are 1s, 2s before the final attempt.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxAttempts: 3, BaseDelay: time.Second}
}

// RetryWithBackoff runs fn up to cfg.MaxAttempts times, doubling the delay
// between attempts. Only ErrRateLimited is retried; retries stop early when
// ctx is done.
func RetryWithBackoff(ctx context.Context, cfg RetryConfig, fn func() error) error {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Second
	}

	delay := cfg.BaseDelay
	var err error
	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}
		err = fn()
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrRateLimited) {
			return err
		}
	}
	return err
}
