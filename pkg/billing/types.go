package billing

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/priceradar/billingkit/pkg/plans"
)

// SubscriptionStatus represents the lifecycle state of a subscription.
type SubscriptionStatus string

const (
	StatusPending   SubscriptionStatus = "pending"
	StatusActive    SubscriptionStatus = "active"
	StatusCancelled SubscriptionStatus = "cancelled"
	StatusExpired   SubscriptionStatus = "expired"
)

// User carries the commercial state of an account. Commercial fields
// are mutated exclusively by the lifecycle service and the sweeper.
type User struct {
	ID                   uuid.UUID
	Email                string
	Name                 string
	PasswordHash         []byte
	Plan                 plans.Tier
	PlanExpiry           *time.Time // nil means never expires (free tier)
	ActiveSubscriptionID *uuid.UUID
	ExternalCustomerID   string
	HasChargeback        bool // sticky, never cleared automatically
	ReportsThisMonth     int64
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// IsPaid reports whether the user currently holds a paid tier.
func (u *User) IsPaid() bool {
	return u.Plan != plans.TierFree
}

// Subscription is one purchase order with the payment processor.
// Records are never deleted; expired and cancelled rows persist as
// billing history.
type Subscription struct {
	ID                uuid.UUID
	UserID            uuid.UUID
	Plan              plans.Tier
	Status            SubscriptionStatus
	ExternalOrderID   string // globally unique, the idempotency key
	ExternalProductID string
	Amount            int64 // minor units
	Currency          string
	PaymentMethod     string
	StartDate         time.Time
	EndDate           time.Time
	NextBillingDate   *time.Time
	CancelledAt       *time.Time
	RawEvent          json.RawMessage // last provider payload, kept for forensic replay
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// IsActive reports whether the subscription is in the active state.
func (s *Subscription) IsActive() bool {
	return s.Status == StatusActive
}

// IsLapsedAt reports whether an active subscription's paid period has
// ended as of now.
func (s *Subscription) IsLapsedAt(now time.Time) bool {
	return s.Status == StatusActive && s.EndDate.Before(now)
}
