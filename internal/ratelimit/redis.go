package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// fixedWindowScript increments the window counter and returns it with the window's remaining ttl in ms
var fixedWindowScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
	ttl = tonumber(ARGV[1])
end
return {current, ttl}
`)

// RedisLimiter counts requests in fixed windows stored in Redis, shared by all instances
type RedisLimiter struct {
	client *redis.Client
	rates  Rates
}

func NewRedisLimiter(client *redis.Client, rates Rates) *RedisLimiter {
	return &RedisLimiter{client: client, rates: rates}
}

// Allow increments the counter of (address, class) and compares it with the limit in one script call
func (l *RedisLimiter) Allow(ctx context.Context, address string, class Class) (Decision, error) {
	rate := l.rates.For(class)
	key := fmt.Sprintf("rate_limit:%s:%s", class, address)

	res, err := fixedWindowScript.Run(ctx, l.client, []string{key}, rate.Window.Milliseconds()).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit script failed: %w", err)
	}
	if len(res) != 2 {
		return Decision{}, fmt.Errorf("rate limit script returned %d values", len(res))
	}

	count, ttl := int(res[0]), time.Duration(res[1])*time.Millisecond
	if count > rate.Limit {
		return Decision{
			Permitted:  false,
			Limit:      rate.Limit,
			RetryAfter: retryAfterSeconds(ttl),
		}, nil
	}
	return Decision{Permitted: true, Limit: rate.Limit, Remaining: rate.Limit - count}, nil
}
