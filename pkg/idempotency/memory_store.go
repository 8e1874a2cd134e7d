package idempotency

import (
	"context"
	"sync"
	"time"
)

// MemoryStore implements Store with a process-local map. Correct only
// for single-instance deployments; use RedisStore behind a load
// balancer.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]time.Time // key -> expiry

	sweepInterval time.Duration
	stopSweep     chan struct{}
	closeOnce     sync.Once
}

// MemoryStoreOption configures a MemoryStore.
type MemoryStoreOption func(*MemoryStore)

// WithSweepInterval sets how often expired entries are evicted.
// Set to 0 to disable the background sweep.
func WithSweepInterval(interval time.Duration) MemoryStoreOption {
	return func(ms *MemoryStore) {
		ms.sweepInterval = interval
	}
}

// NewMemoryStore creates an in-memory store with a background sweep
// that bounds memory by evicting expired keys.
func NewMemoryStore(opts ...MemoryStoreOption) *MemoryStore {
	ms := &MemoryStore{
		entries:       make(map[string]time.Time),
		sweepInterval: time.Minute,
		stopSweep:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(ms)
	}

	if ms.sweepInterval > 0 {
		go ms.sweep()
	}
	return ms
}

func (ms *MemoryStore) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	now := time.Now()
	if expiry, exists := ms.entries[key]; exists && now.Before(expiry) {
		return false, nil
	}
	ms.entries[key] = now.Add(ttl)
	return true, nil
}

func (ms *MemoryStore) Forget(ctx context.Context, key string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	delete(ms.entries, key)
	return nil
}

// Len reports the number of tracked keys, expired or not.
func (ms *MemoryStore) Len() int {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return len(ms.entries)
}

func (ms *MemoryStore) sweep() {
	ticker := time.NewTicker(ms.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ms.evictExpired()
		case <-ms.stopSweep:
			return
		}
	}
}

func (ms *MemoryStore) evictExpired() {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	now := time.Now()
	for key, expiry := range ms.entries {
		if now.After(expiry) {
			delete(ms.entries, key)
		}
	}
}

// Close stops the sweep goroutine. Safe to call multiple times.
func (ms *MemoryStore) Close() {
	ms.closeOnce.Do(func() {
		close(ms.stopSweep)
	})
}
