package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestNoOpRateLimiter(t *testing.T) {
	limiter := &NoOpRateLimiter{}
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		allowed, err := limiter.Allow(ctx, "inst-1")
		require.NoError(t, err)
		assert.True(t, allowed)
	}
	assert.NoError(t, limiter.Close())
}

func TestNewRedisRateLimiter_Invalid(t *testing.T) {
	_, client := setupTestRedis(t)

	_, err := NewRedisRateLimiter(nil, "rl", 5, time.Second)
	assert.Error(t, err)

	_, err = NewRedisRateLimiter(client, "rl", 0, time.Second)
	assert.Error(t, err)

	_, err = NewRedisRateLimiter(client, "rl", 5, 0)
	assert.Error(t, err)
}

func newTestLimiter(t *testing.T, limit int, window time.Duration) (*redisRateLimiter, *time.Time) {
	t.Helper()
	_, client := setupTestRedis(t)

	rl, err := NewRedisRateLimiter(client, "test:ratelimit", limit, window)
	require.NoError(t, err)

	limiter := rl.(*redisRateLimiter)
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return clock }
	return limiter, &clock
}

func TestRedisRateLimiter_Limit(t *testing.T) {
	limiter, clock := newTestLimiter(t, 5, time.Second)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		allowed, err := limiter.Allow(ctx, "inst-1")
		require.NoError(t, err)
		assert.True(t, allowed, "request %d", i+1)
	}

	allowed, err := limiter.Allow(ctx, "inst-1")
	require.NoError(t, err)
	assert.False(t, allowed, "request 6 should be rate limited")

	*clock = clock.Add(1100 * time.Millisecond)
	allowed, err = limiter.Allow(ctx, "inst-1")
	require.NoError(t, err)
	assert.True(t, allowed, "window expired")
}

func TestRedisRateLimiter_DifferentKeys(t *testing.T) {
	limiter, _ := newTestLimiter(t, 2, time.Second)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		for _, key := range []string{"inst-1", "inst-2"} {
			allowed, err := limiter.Allow(ctx, key)
			require.NoError(t, err)
			assert.True(t, allowed)
		}
	}

	for _, key := range []string{"inst-1", "inst-2"} {
		allowed, err := limiter.Allow(ctx, key)
		require.NoError(t, err)
		assert.False(t, allowed)
	}
}

func TestRedisRateLimiter_SlidingWindow(t *testing.T) {
	limiter, clock := newTestLimiter(t, 3, 2*time.Second)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		allowed, err := limiter.Allow(ctx, "inst-1")
		require.NoError(t, err)
		assert.True(t, allowed)
		*clock = clock.Add(500 * time.Millisecond)
	}

	// 1.5s in: all three still inside the window.
	allowed, err := limiter.Allow(ctx, "inst-1")
	require.NoError(t, err)
	assert.False(t, allowed)

	// 2.1s in: the first request has slid out.
	*clock = clock.Add(600 * time.Millisecond)
	allowed, err = limiter.Allow(ctx, "inst-1")
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestRedisRateLimiter_RedisDown(t *testing.T) {
	mr, client := setupTestRedis(t)
	rl, err := NewRedisRateLimiter(client, "rl", 1, time.Second)
	require.NoError(t, err)

	mr.SetError("LOADING")
	_, err = rl.Allow(context.Background(), "inst-1")
	assert.Error(t, err)
}
