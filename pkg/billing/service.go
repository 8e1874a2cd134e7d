package billing

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/priceradar/billingkit/pkg/plans"
)

// AlertFunc is invoked when a chargeback arrives. Wire it to the
// operator notification channel of choice.
type AlertFunc func(ctx context.Context, user *User, ev Event)

// Service applies payment processor events to the Subscription/User
// pair. It is the only writer of commercial state besides the sweeper,
// which reuses its downgrade transition.
type Service struct {
	store   Store
	catalog *plans.Catalog
	alert   AlertFunc
	log     *slog.Logger
	now     func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

// WithAlertFunc sets the chargeback alert hook.
func WithAlertFunc(fn AlertFunc) Option {
	return func(s *Service) {
		if fn != nil {
			s.alert = fn
		}
	}
}

// WithClock overrides the time source, used by tests for fixed times.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService creates the lifecycle service. Panics if store or catalog
// is nil to fail fast during initialization.
func NewService(store Store, catalog *plans.Catalog, opts ...Option) *Service {
	if store == nil {
		panic("billing: store is required")
	}
	if catalog == nil {
		panic("billing: plan catalog is required")
	}

	s := &Service{
		store:   store,
		catalog: catalog,
		log:     slog.Default(),
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.alert == nil {
		s.alert = func(ctx context.Context, user *User, ev Event) {
			s.log.ErrorContext(ctx, "chargeback received",
				slog.String("email", user.Email),
				slog.String("order_id", ev.OrderID))
		}
	}
	return s
}

// HandleEvent applies one event to persisted state. Unrecognized event
// types are logged and acknowledged without effect.
func (s *Service) HandleEvent(ctx context.Context, ev Event) error {
	var err error
	switch ev.Type {
	case EventOrderPaid, EventOrderApproved:
		err = s.activate(ctx, ev)
	case EventSubscriptionRenewed:
		err = s.renew(ctx, ev)
	case EventSubscriptionCancelled:
		err = s.cancel(ctx, ev)
	case EventOrderRefunded:
		err = s.refund(ctx, ev)
	case EventOrderChargeback:
		err = s.chargeback(ctx, ev)
	default:
		s.log.InfoContext(ctx, "unhandled event type acknowledged",
			slog.String("event", string(ev.Type)),
			slog.String("order_id", ev.OrderID))
		eventsProcessed.WithLabelValues(string(ev.Type), outcomeUnhandled).Inc()
		return nil
	}

	if err != nil {
		eventsProcessed.WithLabelValues(string(ev.Type), outcomeFailed).Inc()
		return err
	}
	eventsProcessed.WithLabelValues(string(ev.Type), outcomeApplied).Inc()
	return nil
}

// activate handles an approved or paid order. The subscription is
// created, or reactivated if the order id is already known, and the
// owning user is provisioned on the fly when the purchase arrived
// before registration.
func (s *Service) activate(ctx context.Context, ev Event) error {
	plan, err := s.catalog.Resolve(ev.ProductID)
	if err != nil {
		return fmt.Errorf("activate order %s: %w", ev.OrderID, err)
	}

	user, err := s.findOrCreateUser(ctx, ev)
	if err != nil {
		return err
	}

	now := s.now()
	sub, err := s.store.SubscriptionByOrderID(ctx, ev.OrderID)
	switch {
	case err == nil:
		// Re-delivery past the dedup window: reactivate in place, never
		// duplicate the row and never move endDate backward.
		sub.Status = StatusActive
		sub.Plan = plan.Tier
		sub.RawEvent = ev.Raw
		sub.UpdatedAt = now
	case errors.Is(err, ErrSubscriptionNotFound):
		endDate := now.AddDate(0, plan.DurationMonths, 0)
		sub = &Subscription{
			ID:                uuid.New(),
			UserID:            user.ID,
			Plan:              plan.Tier,
			Status:            StatusActive,
			ExternalOrderID:   ev.OrderID,
			ExternalProductID: ev.ProductID,
			Amount:            ev.Payment.Amount,
			Currency:          ev.Currency,
			PaymentMethod:     ev.Payment.Method,
			StartDate:         now,
			EndDate:           endDate,
			NextBillingDate:   &endDate,
			RawEvent:          ev.Raw,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
	default:
		return err
	}

	user.Plan = plan.Tier
	user.PlanExpiry = &sub.EndDate
	user.ActiveSubscriptionID = &sub.ID
	if ev.Customer.ID != "" {
		user.ExternalCustomerID = ev.Customer.ID
	}
	user.UpdatedAt = now

	if err := s.store.Apply(ctx, sub, user); err != nil {
		return err
	}

	transitionsApplied.WithLabelValues("activate").Inc()
	s.log.InfoContext(ctx, "subscription activated",
		slog.String("order_id", sub.ExternalOrderID),
		slog.String("plan", string(sub.Plan)),
		slog.String("email", user.Email),
		slog.Time("end_date", sub.EndDate))
	return nil
}

// renew extends an existing subscription by one plan duration from its
// current endDate. endDate only ever moves forward.
func (s *Service) renew(ctx context.Context, ev Event) error {
	sub, err := s.store.SubscriptionByOrderID(ctx, ev.OrderID)
	if err != nil {
		return fmt.Errorf("renew order %s: %w", ev.OrderID, err)
	}

	plan, err := s.catalog.Resolve(sub.ExternalProductID)
	if err != nil {
		return fmt.Errorf("renew order %s: %w", ev.OrderID, err)
	}

	now := s.now()
	sub.EndDate = sub.EndDate.AddDate(0, plan.DurationMonths, 0)
	sub.Status = StatusActive
	sub.NextBillingDate = &sub.EndDate
	sub.RawEvent = ev.Raw
	sub.UpdatedAt = now

	user, err := s.store.UserByID(ctx, sub.UserID)
	if err != nil {
		return fmt.Errorf("renew order %s: %w", ev.OrderID, err)
	}
	user.Plan = sub.Plan
	user.PlanExpiry = &sub.EndDate
	user.ActiveSubscriptionID = &sub.ID
	user.UpdatedAt = now

	if err := s.store.Apply(ctx, sub, user); err != nil {
		return err
	}

	transitionsApplied.WithLabelValues("renew").Inc()
	s.log.InfoContext(ctx, "subscription renewed",
		slog.String("order_id", sub.ExternalOrderID),
		slog.Time("end_date", sub.EndDate))
	return nil
}

// cancel marks the subscription cancelled but leaves the user's plan
// untouched: access is retained until natural expiry, at which point
// the sweeper performs the downgrade.
func (s *Service) cancel(ctx context.Context, ev Event) error {
	sub, err := s.store.SubscriptionByOrderID(ctx, ev.OrderID)
	if err != nil {
		return fmt.Errorf("cancel order %s: %w", ev.OrderID, err)
	}

	now := s.now()
	sub.Status = StatusCancelled
	sub.CancelledAt = &now
	sub.RawEvent = ev.Raw
	sub.UpdatedAt = now

	if err := s.store.Apply(ctx, sub, nil); err != nil {
		return err
	}

	transitionsApplied.WithLabelValues("cancel").Inc()
	s.log.InfoContext(ctx, "subscription cancelled, access retained until expiry",
		slog.String("order_id", sub.ExternalOrderID),
		slog.Time("end_date", sub.EndDate))
	return nil
}

// refund forces the user back to the free tier immediately, regardless
// of remaining paid time.
func (s *Service) refund(ctx context.Context, ev Event) error {
	return s.forceDowngrade(ctx, ev, "refund", false)
}

// chargeback is a refund plus a permanent trust flag and an operator
// alert.
func (s *Service) chargeback(ctx context.Context, ev Event) error {
	return s.forceDowngrade(ctx, ev, "chargeback", true)
}

func (s *Service) forceDowngrade(ctx context.Context, ev Event, transition string, isChargeback bool) error {
	user, err := s.store.UserByEmail(ctx, ev.Customer.Email)
	if err != nil {
		return fmt.Errorf("%s for %s: %w", transition, ev.Customer.Email, err)
	}

	now := s.now()
	s.downgradeToFree(user, now)
	if isChargeback {
		user.HasChargeback = true
	}

	// Force the subscription out of active as well when the order is
	// known; the user downgrade proceeds either way.
	var sub *Subscription
	if ev.OrderID != "" {
		if found, err := s.store.SubscriptionByOrderID(ctx, ev.OrderID); err == nil {
			sub = found
			sub.Status = StatusExpired
			sub.RawEvent = ev.Raw
			sub.UpdatedAt = now
		}
	}

	if err := s.store.Apply(ctx, sub, user); err != nil {
		return err
	}

	transitionsApplied.WithLabelValues(transition).Inc()
	s.log.WarnContext(ctx, "user downgraded to free tier",
		slog.String("reason", transition),
		slog.String("email", user.Email),
		slog.String("order_id", ev.OrderID))

	if isChargeback {
		s.alert(ctx, user, ev)
	}
	return nil
}

// downgradeToFree resets the commercial fields to the free tier. The
// chargeback flag is deliberately left alone: it is sticky.
func (s *Service) downgradeToFree(user *User, now time.Time) {
	user.Plan = plans.TierFree
	user.PlanExpiry = nil
	user.ActiveSubscriptionID = nil
	user.UpdatedAt = now
}

// findOrCreateUser resolves the buyer, auto-provisioning a minimal
// account when the purchase arrives before registration. The account
// gets a random credential and is unusable until a password reset.
func (s *Service) findOrCreateUser(ctx context.Context, ev Event) (*User, error) {
	email := strings.ToLower(strings.TrimSpace(ev.Customer.Email))
	if email == "" {
		return nil, ErrCustomerEmailMissing
	}

	user, err := s.store.UserByEmail(ctx, email)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, ErrUserNotFound) {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(randomCredential()), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("billing: failed to hash bootstrap credential: %w", err)
	}

	now := s.now()
	user = &User{
		ID:                 uuid.New(),
		Email:              email,
		Name:               ev.Customer.Name,
		PasswordHash:       hash,
		Plan:               plans.TierFree,
		ExternalCustomerID: ev.Customer.ID,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	s.log.InfoContext(ctx, "auto-provisioned account for purchase",
		slog.String("email", email))
	return user, nil
}

func randomCredential() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Sprintf("billing: crypto/rand unavailable: %v", err))
	}
	return hex.EncodeToString(buf)
}
