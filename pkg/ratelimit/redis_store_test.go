package ratelimit_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/priceradar/billingkit/pkg/ratelimit"
)

func newRedisLimiter(t *testing.T, cfg ratelimit.Config) *ratelimit.Limiter {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	limiter, err := ratelimit.New(ratelimit.NewRedisStore(client, "test:rl:"), cfg)
	require.NoError(t, err)
	return limiter
}

func TestRedisStoreConsume(t *testing.T) {
	t.Parallel()

	t.Run("enforces capacity", func(t *testing.T) {
		t.Parallel()

		limiter := newRedisLimiter(t, ratelimit.Config{
			Capacity:       2,
			RefillRate:     2,
			RefillInterval: time.Hour,
		})

		ctx := context.Background()
		for i := range 2 {
			result, err := limiter.Allow(ctx, "src")
			require.NoError(t, err)
			assert.True(t, result.Allowed(), "request %d should pass", i+1)
		}

		result, err := limiter.Allow(ctx, "src")
		require.NoError(t, err)
		assert.False(t, result.Allowed())
	})

	t.Run("reset restores the bucket", func(t *testing.T) {
		t.Parallel()

		limiter := newRedisLimiter(t, ratelimit.Config{
			Capacity:       1,
			RefillRate:     1,
			RefillInterval: time.Hour,
		})

		ctx := context.Background()
		_, err := limiter.Allow(ctx, "src")
		require.NoError(t, err)

		require.NoError(t, limiter.Reset(ctx, "src"))

		result, err := limiter.Allow(ctx, "src")
		require.NoError(t, err)
		assert.True(t, result.Allowed())
	})
}
