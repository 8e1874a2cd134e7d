package billing

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore implements Store with process-local maps. Intended for
// tests and local development.
type MemoryStore struct {
	mu           sync.RWMutex
	users        map[uuid.UUID]*User
	usersByEmail map[string]uuid.UUID
	subs         map[uuid.UUID]*Subscription
	subsByOrder  map[string]uuid.UUID
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:        make(map[uuid.UUID]*User),
		usersByEmail: make(map[string]uuid.UUID),
		subs:         make(map[uuid.UUID]*Subscription),
		subsByOrder:  make(map[string]uuid.UUID),
	}
}

func (ms *MemoryStore) UserByID(ctx context.Context, id uuid.UUID) (*User, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	u, ok := ms.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	return copyUser(u), nil
}

func (ms *MemoryStore) UserByEmail(ctx context.Context, email string) (*User, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	id, ok := ms.usersByEmail[normalizeEmail(email)]
	if !ok {
		return nil, ErrUserNotFound
	}
	return copyUser(ms.users[id]), nil
}

func (ms *MemoryStore) SubscriptionByOrderID(ctx context.Context, orderID string) (*Subscription, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	id, ok := ms.subsByOrder[orderID]
	if !ok {
		return nil, ErrSubscriptionNotFound
	}
	return copySubscription(ms.subs[id]), nil
}

func (ms *MemoryStore) LapsedSubscriptions(ctx context.Context, asOf time.Time) ([]*Subscription, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	var lapsed []*Subscription
	for _, sub := range ms.subs {
		if sub.IsLapsedAt(asOf) {
			lapsed = append(lapsed, copySubscription(sub))
		}
	}
	return lapsed, nil
}

func (ms *MemoryStore) Apply(ctx context.Context, sub *Subscription, user *User) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if sub != nil {
		c := copySubscription(sub)
		ms.subs[c.ID] = c
		ms.subsByOrder[c.ExternalOrderID] = c.ID
	}
	if user != nil {
		c := copyUser(user)
		ms.users[c.ID] = c
		ms.usersByEmail[normalizeEmail(c.Email)] = c.ID
	}
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Copies isolate callers from the store's internal state.

func copyUser(u *User) *User {
	c := *u
	if u.PlanExpiry != nil {
		t := *u.PlanExpiry
		c.PlanExpiry = &t
	}
	if u.ActiveSubscriptionID != nil {
		id := *u.ActiveSubscriptionID
		c.ActiveSubscriptionID = &id
	}
	if u.PasswordHash != nil {
		c.PasswordHash = append([]byte(nil), u.PasswordHash...)
	}
	return &c
}

func copySubscription(s *Subscription) *Subscription {
	c := *s
	if s.NextBillingDate != nil {
		t := *s.NextBillingDate
		c.NextBillingDate = &t
	}
	if s.CancelledAt != nil {
		t := *s.CancelledAt
		c.CancelledAt = &t
	}
	if s.RawEvent != nil {
		c.RawEvent = append([]byte(nil), s.RawEvent...)
	}
	return &c
}
