package idempotency

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrStoreUnavailable indicates the Redis backend could not be reached.
var ErrStoreUnavailable = errors.New("idempotency: store unavailable")

// RedisStore implements Store on Redis. SET NX with a TTL gives an
// atomic acquire shared across all service instances, which makes
// deduplication correct under horizontal scaling.
type RedisStore struct {
	client    redis.UniversalClient
	keyPrefix string
}

// NewRedisStore creates a Redis-backed store. Panics on a nil client
// to fail fast during initialization.
func NewRedisStore(client redis.UniversalClient, keyPrefix string) *RedisStore {
	if client == nil {
		panic("idempotency: redis client is required")
	}
	if keyPrefix == "" {
		keyPrefix = "idem:"
	}
	return &RedisStore{client: client, keyPrefix: keyPrefix}
}

func (rs *RedisStore) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := rs.client.SetNX(ctx, rs.keyPrefix+key, time.Now().Unix(), ttl).Result()
	if err != nil {
		return false, errors.Join(ErrStoreUnavailable, err)
	}
	return ok, nil
}

func (rs *RedisStore) Forget(ctx context.Context, key string) error {
	if err := rs.client.Del(ctx, rs.keyPrefix+key).Err(); err != nil {
		return errors.Join(ErrStoreUnavailable, err)
	}
	return nil
}
