package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/NolanEssertaize/Know-it-backend/internal/testutil"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisLimiterWindow(t *testing.T) {
	client := testutil.RedisTest(t)
	l := NewRedisLimiter(client, Rates{ClassDefault: {Limit: 3, Window: time.Minute}})
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		d, err := l.Allow(ctx, "10.0.0.1", ClassAuth)
		require.NoError(t, err)
		assert.True(t, d.Permitted)
		assert.Equal(t, 3-i, d.Remaining)
	}

	d, err := l.Allow(ctx, "10.0.0.1", ClassAuth)
	require.NoError(t, err)
	assert.False(t, d.Permitted)
	assert.GreaterOrEqual(t, d.RetryAfter, 1)
	assert.LessOrEqual(t, d.RetryAfter, 60)

	ttl, err := client.PTTL(ctx, "rate_limit:auth:10.0.0.1").Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))

	d, err = l.Allow(ctx, "10.0.0.2", ClassAuth)
	require.NoError(t, err)
	assert.True(t, d.Permitted)
}

func TestRedisLimiterReportsUnreachableServer(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1, DialTimeout: 200 * time.Millisecond})
	defer client.Close()

	_, err := NewRedisLimiter(client, testRates).Allow(context.Background(), "a", ClassAI)
	assert.Error(t, err)
}
