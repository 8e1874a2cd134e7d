// Package ratelimit provides token bucket rate limiting for the
// webhook ingress with pluggable storage backends.
//
// The bucket replenishes continuously, which approximates a sliding
// window: with capacity 100 and a refill of 100 tokens per 15 minutes
// a source can never exceed 100 requests in any 15-minute span beyond
// its initial burst. The memory backend is for tests and single-node
// deployments; the Redis backend keeps counting correct when the
// ingress runs on multiple nodes.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidConfig indicates an invalid limiter configuration.
	ErrInvalidConfig = errors.New("ratelimit: invalid configuration")
	// ErrStoreUnavailable indicates the storage backend failed.
	ErrStoreUnavailable = errors.New("ratelimit: store unavailable")
)

// Config defines the token bucket parameters.
type Config struct {
	Capacity       int           `env:"RATE_LIMIT_CAPACITY" envDefault:"100"`
	RefillRate     int           `env:"RATE_LIMIT_REFILL_RATE" envDefault:"100"`
	RefillInterval time.Duration `env:"RATE_LIMIT_REFILL_INTERVAL" envDefault:"15m"`
}

func (c Config) validate() error {
	if c.Capacity <= 0 {
		return fmt.Errorf("%w: capacity must be positive, got %d", ErrInvalidConfig, c.Capacity)
	}
	if c.RefillRate <= 0 {
		return fmt.Errorf("%w: refill rate must be positive, got %d", ErrInvalidConfig, c.RefillRate)
	}
	if c.RefillInterval <= 0 {
		return fmt.Errorf("%w: refill interval must be positive, got %v", ErrInvalidConfig, c.RefillInterval)
	}
	return nil
}

// Result contains the outcome of a rate limit check.
type Result struct {
	Limit     int       // bucket capacity
	Remaining int       // tokens left; negative means denied
	ResetAt   time.Time // when tokens are next added
}

// Allowed reports whether the request may proceed.
func (r *Result) Allowed() bool {
	return r.Remaining >= 0
}

// RetryAfter returns how long to wait before retrying, 0 if allowed.
func (r *Result) RetryAfter() time.Duration {
	if r.Allowed() {
		return 0
	}
	return time.Until(r.ResetAt)
}

// Store defines the storage backend for bucket state.
type Store interface {
	// Consume takes one token for key. A negative remaining count means
	// the request must be denied. Implementations must be atomic per key.
	Consume(ctx context.Context, key string, cfg Config) (remaining int, resetAt time.Time, err error)

	// Reset clears the bucket state for key.
	Reset(ctx context.Context, key string) error
}

// Limiter is a token bucket rate limiter over a Store.
type Limiter struct {
	store Store
	cfg   Config
}

// New creates a Limiter. Returns ErrInvalidConfig for bad parameters.
func New(store Store, cfg Config) (*Limiter, error) {
	if store == nil {
		panic("ratelimit: store is required")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Limiter{store: store, cfg: cfg}, nil
}

// Allow consumes one token for key and reports the resulting state.
func (l *Limiter) Allow(ctx context.Context, key string) (*Result, error) {
	remaining, resetAt, err := l.store.Consume(ctx, key, l.cfg)
	if err != nil {
		return nil, err
	}
	return &Result{
		Limit:     l.cfg.Capacity,
		Remaining: remaining,
		ResetAt:   resetAt,
	}, nil
}

// Reset clears the limiter state for key.
func (l *Limiter) Reset(ctx context.Context, key string) error {
	return l.store.Reset(ctx, key)
}
