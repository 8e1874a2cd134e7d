// Package idempotency deduplicates webhook deliveries by external
// order id within a trailing window.
//
// The store is an injected interface so the same guard logic is correct
// whether backed by a process-local map (tests, single instance) or
// Redis (production, multiple instances). Acquire is atomic in both
// backends, closing the check-then-insert race under concurrent
// duplicate delivery.
package idempotency

import (
	"context"
	"errors"
	"time"
)

// ErrEmptyKey indicates an empty idempotency key was passed.
var ErrEmptyKey = errors.New("idempotency: key must not be empty")

// Store records idempotency keys with a bounded lifetime.
type Store interface {
	// Acquire records key if it is not already held and reports whether
	// the caller won the slot. Implementations must make the
	// check-and-set atomic.
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// Forget drops a key so a later delivery is processed again.
	Forget(ctx context.Context, key string) error
}

// Guard wraps a Store with a fixed dedup window.
type Guard struct {
	store  Store
	window time.Duration
}

// NewGuard returns a Guard deduplicating within the given window.
// Panics on a nil store to fail fast during initialization.
func NewGuard(store Store, window time.Duration) *Guard {
	if store == nil {
		panic("idempotency: store is required")
	}
	if window <= 0 {
		window = 5 * time.Minute
	}
	return &Guard{store: store, window: window}
}

// Check reports whether key has already been seen within the window.
// A first-time key is recorded as a side effect.
func (g *Guard) Check(ctx context.Context, key string) (duplicate bool, err error) {
	if key == "" {
		return false, ErrEmptyKey
	}
	acquired, err := g.store.Acquire(ctx, key, g.window)
	if err != nil {
		return false, err
	}
	return !acquired, nil
}
