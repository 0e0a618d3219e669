package httpx_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guardmesh/sentinel/pkg/infra/httpx"
)

func TestRetryWithBackoff(t *testing.T) {
	cfg := httpx.RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond}

	t.Run("returns on first success", func(t *testing.T) {
		calls := 0
		err := httpx.RetryWithBackoff(context.Background(), cfg, func() error {
			calls++
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("retries only rate-limit errors", func(t *testing.T) {
		calls := 0
		err := httpx.RetryWithBackoff(context.Background(), cfg, func() error {
			calls++
			if calls < 3 {
				return fmt.Errorf("%w: status 429", httpx.ErrRateLimited)
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("other errors fail fast", func(t *testing.T) {
		calls := 0
		boom := errors.New("upstream exploded")
		err := httpx.RetryWithBackoff(context.Background(), cfg, func() error {
			calls++
			return boom
		})
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, 1, calls)
	})

	t.Run("attempts are bounded", func(t *testing.T) {
		calls := 0
		err := httpx.RetryWithBackoff(context.Background(), cfg, func() error {
			calls++
			return httpx.ErrRateLimited
		})
		assert.ErrorIs(t, err, httpx.ErrRateLimited)
		assert.Equal(t, 3, calls)
	})

	t.Run("stops when context is cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		calls := 0
		err := httpx.RetryWithBackoff(ctx, httpx.RetryConfig{MaxAttempts: 5, BaseDelay: 50 * time.Millisecond}, func() error {
			calls++
			cancel()
			return httpx.ErrRateLimited
		})
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, calls)
	})

	t.Run("zero config falls back to defaults", func(t *testing.T) {
		calls := 0
		err := httpx.RetryWithBackoff(context.Background(), httpx.RetryConfig{}, func() error {
			calls++
			return errors.New("nope")
		})
		assert.Error(t, err)
		assert.Equal(t, 1, calls)
	})
}
