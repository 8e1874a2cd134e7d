package billing

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store persists User and Subscription records.
//
// Apply is the single mutation entry point: it upserts a subscription
// and its owning user as one unit so a crash can never persist one
// half of a transition. The PostgreSQL implementation wraps both
// writes in a transaction; the memory implementation applies them
// under one lock.
type Store interface {
	// UserByID retrieves a user by id. Returns ErrUserNotFound if absent.
	UserByID(ctx context.Context, id uuid.UUID) (*User, error)

	// UserByEmail retrieves a user by email. Returns ErrUserNotFound if absent.
	UserByEmail(ctx context.Context, email string) (*User, error)

	// SubscriptionByOrderID retrieves a subscription by external order id.
	// Returns ErrSubscriptionNotFound if absent.
	SubscriptionByOrderID(ctx context.Context, orderID string) (*Subscription, error)

	// LapsedSubscriptions returns active subscriptions whose endDate is
	// before asOf. Used by the reconciliation sweeper.
	LapsedSubscriptions(ctx context.Context, asOf time.Time) ([]*Subscription, error)

	// Apply upserts the given subscription and user atomically. Either
	// argument may be nil when a transition touches only one entity.
	Apply(ctx context.Context, sub *Subscription, user *User) error
}
