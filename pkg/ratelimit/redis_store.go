package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// consumeScript implements the token bucket atomically on the Redis
// side. KEYS[1] holds a hash {tokens, last_refill}; ARGV carries
// capacity, refill rate, refill interval (ms) and the current time
// (ms). Returns {remaining, reset_at_ms}.
var consumeScript = redis.NewScript(`
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local rate = tonumber(ARGV[2])
local interval = tonumber(ARGV[3])
local now = tonumber(ARGV[4])

local state = redis.call('HMGET', key, 'tokens', 'last_refill')
local tokens = tonumber(state[1])
local last_refill = tonumber(state[2])

if tokens == nil then
	tokens = capacity
	last_refill = now
end

local elapsed = now - last_refill
local max_intervals = math.floor(capacity / rate) + 1
local intervals = math.floor(elapsed / interval)
if intervals > max_intervals then
	intervals = max_intervals
end

if intervals > 0 then
	tokens = math.min(tokens + intervals * rate, capacity)
	last_refill = now
end

tokens = tokens - 1

redis.call('HMSET', key, 'tokens', tokens, 'last_refill', last_refill)
redis.call('PEXPIRE', key, interval * (max_intervals + 1))

return {tokens, last_refill + interval}
`)

// RedisStore implements Store on Redis so bucket state is shared
// across service instances. The Lua script keeps refill-and-consume
// atomic per key.
type RedisStore struct {
	client    redis.UniversalClient
	keyPrefix string
}

// NewRedisStore creates a Redis-backed store. Panics on a nil client
// to fail fast during initialization.
func NewRedisStore(client redis.UniversalClient, keyPrefix string) *RedisStore {
	if client == nil {
		panic("ratelimit: redis client is required")
	}
	if keyPrefix == "" {
		keyPrefix = "ratelimit:"
	}
	return &RedisStore{client: client, keyPrefix: keyPrefix}
}

func (rs *RedisStore) Consume(ctx context.Context, key string, cfg Config) (int, time.Time, error) {
	res, err := consumeScript.Run(ctx, rs.client,
		[]string{rs.keyPrefix + key},
		cfg.Capacity,
		cfg.RefillRate,
		cfg.RefillInterval.Milliseconds(),
		time.Now().UnixMilli(),
	).Int64Slice()
	if err != nil {
		return 0, time.Time{}, errors.Join(ErrStoreUnavailable, err)
	}
	if len(res) != 2 {
		return 0, time.Time{}, ErrStoreUnavailable
	}

	return int(res[0]), time.UnixMilli(res[1]), nil
}

func (rs *RedisStore) Reset(ctx context.Context, key string) error {
	if err := rs.client.Del(ctx, rs.keyPrefix+key).Err(); err != nil {
		return errors.Join(ErrStoreUnavailable, err)
	}
	return nil
}
