package billing

import (
	"context"
	"log/slog"
	"time"

	"github.com/priceradar/billingkit/pkg/plans"
)

// Sweeper is the reconciliation job that repairs plan state when
// webhooks are delayed, dropped, or never sent. It expires every
// active subscription whose paid period has lapsed and downgrades the
// owning user, which is what actually guarantees that a paid plan
// never outlives its endDate.
type Sweeper struct {
	store    Store
	interval time.Duration
	log      *slog.Logger
	now      func() time.Time
}

// SweeperOption configures a Sweeper.
type SweeperOption func(*Sweeper)

// WithSweeperLogger sets the sweeper logger.
func WithSweeperLogger(log *slog.Logger) SweeperOption {
	return func(s *Sweeper) {
		if log != nil {
			s.log = log
		}
	}
}

// WithSweeperClock overrides the time source, used by tests.
func WithSweeperClock(now func() time.Time) SweeperOption {
	return func(s *Sweeper) {
		if now != nil {
			s.now = now
		}
	}
}

// NewSweeper creates a Sweeper running every interval. Panics on a nil
// store to fail fast during initialization.
func NewSweeper(store Store, interval time.Duration, opts ...SweeperOption) *Sweeper {
	if store == nil {
		panic("billing: store is required")
	}
	if interval <= 0 {
		interval = time.Hour
	}

	s := &Sweeper{
		store:    store,
		interval: interval,
		log:      slog.Default(),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run executes sweep passes on the configured interval until ctx is
// cancelled. Pass failures are logged and the loop continues; the next
// pass naturally retries anything left inconsistent.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.log.InfoContext(ctx, "reconciliation sweeper started",
		slog.Duration("interval", s.interval))

	for {
		select {
		case <-ctx.Done():
			s.log.InfoContext(ctx, "reconciliation sweeper stopped")
			return
		case <-ticker.C:
			if _, err := s.RunOnce(ctx); err != nil {
				s.log.ErrorContext(ctx, "sweep pass failed", slog.Any("error", err))
			}
		}
	}
}

// RunOnce performs a single sweep pass and reports how many
// subscriptions were expired. Exposed as the manual trigger hook for
// operational testing.
func (s *Sweeper) RunOnce(ctx context.Context) (int, error) {
	now := s.now()
	lapsed, err := s.store.LapsedSubscriptions(ctx, now)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, sub := range lapsed {
		if err := s.expire(ctx, sub, now); err != nil {
			// Keep going: the next pass picks up whatever failed.
			s.log.ErrorContext(ctx, "failed to expire subscription",
				slog.String("order_id", sub.ExternalOrderID),
				slog.Any("error", err))
			continue
		}
		expired++
	}

	if expired > 0 {
		s.log.InfoContext(ctx, "sweep pass complete", slog.Int("expired", expired))
	}
	return expired, nil
}

func (s *Sweeper) expire(ctx context.Context, sub *Subscription, now time.Time) error {
	sub.Status = StatusExpired
	sub.UpdatedAt = now

	user, err := s.store.UserByID(ctx, sub.UserID)
	if err != nil {
		return err
	}

	// Only downgrade when this subscription still backs the user's
	// plan; a newer purchase supersedes the reference and must win.
	if user.ActiveSubscriptionID != nil && *user.ActiveSubscriptionID == sub.ID {
		user.Plan = plans.TierFree
		user.PlanExpiry = nil
		user.ActiveSubscriptionID = nil
		user.UpdatedAt = now
	} else {
		user = nil
	}

	if err := s.store.Apply(ctx, sub, user); err != nil {
		return err
	}

	sweeperExpired.Inc()
	return nil
}
