package billing_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/priceradar/billingkit/pkg/billing"
	"github.com/priceradar/billingkit/pkg/plans"
)

// seedSubscription activates a subscription at fixedNow so tests can
// move the sweeper clock around it.
func seedSubscription(t *testing.T, svc *billing.Service, store *billing.MemoryStore, orderID, email string) *billing.Subscription {
	t.Helper()

	ctx := context.Background()
	require.NoError(t, svc.HandleEvent(ctx, paidEvent(orderID, "PID_PRO", email)))
	sub, err := store.SubscriptionByOrderID(ctx, orderID)
	require.NoError(t, err)
	return sub
}

func TestSweeperRunOnce(t *testing.T) {
	t.Parallel()

	t.Run("expires lapsed subscription and downgrades owner", func(t *testing.T) {
		t.Parallel()

		svc, store := newTestService(t)
		seedSubscription(t, svc, store, "S1", "s1@x.com")

		// Two months later the one-month subscription has lapsed.
		afterExpiry := fixedNow.AddDate(0, 2, 0)
		sweeper := billing.NewSweeper(store, time.Hour,
			billing.WithSweeperClock(func() time.Time { return afterExpiry }))

		expired, err := sweeper.RunOnce(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, expired)

		ctx := context.Background()
		sub, err := store.SubscriptionByOrderID(ctx, "S1")
		require.NoError(t, err)
		assert.Equal(t, billing.StatusExpired, sub.Status)

		user, err := store.UserByEmail(ctx, "s1@x.com")
		require.NoError(t, err)
		assert.Equal(t, plans.TierFree, user.Plan)
		assert.Nil(t, user.PlanExpiry)
		assert.Nil(t, user.ActiveSubscriptionID)
	})

	t.Run("future endDate is left alone", func(t *testing.T) {
		t.Parallel()

		svc, store := newTestService(t)
		seedSubscription(t, svc, store, "S2", "s2@x.com")

		beforeExpiry := fixedNow.AddDate(0, 0, 7)
		sweeper := billing.NewSweeper(store, time.Hour,
			billing.WithSweeperClock(func() time.Time { return beforeExpiry }))

		expired, err := sweeper.RunOnce(context.Background())
		require.NoError(t, err)
		assert.Zero(t, expired)

		ctx := context.Background()
		sub, err := store.SubscriptionByOrderID(ctx, "S2")
		require.NoError(t, err)
		assert.Equal(t, billing.StatusActive, sub.Status)

		user, err := store.UserByEmail(ctx, "s2@x.com")
		require.NoError(t, err)
		assert.Equal(t, plans.TierPro, user.Plan)
	})

	t.Run("cancelled subscription expires on schedule", func(t *testing.T) {
		t.Parallel()

		svc, store := newTestService(t)
		seedSubscription(t, svc, store, "S3", "s3@x.com")

		ctx := context.Background()
		require.NoError(t, svc.HandleEvent(ctx, billing.Event{
			Type:     billing.EventSubscriptionCancelled,
			OrderID:  "S3",
			Customer: billing.Customer{Email: "s3@x.com"},
		}))

		// Cancelled is terminal for the record; the user downgrade rides
		// on the sweep only while the subscription is still active, so a
		// cancelled-but-unexpired sub leaves the user paid.
		user, err := store.UserByEmail(ctx, "s3@x.com")
		require.NoError(t, err)
		assert.Equal(t, plans.TierPro, user.Plan)
	})

	t.Run("superseded subscription does not downgrade the owner", func(t *testing.T) {
		t.Parallel()

		svc, store := newTestService(t)
		seedSubscription(t, svc, store, "S4", "s4@x.com")
		// A second purchase takes over the active reference.
		seedSubscription(t, svc, store, "S5", "s4@x.com")

		afterExpiry := fixedNow.AddDate(0, 2, 0)
		sweeper := billing.NewSweeper(store, time.Hour,
			billing.WithSweeperClock(func() time.Time { return afterExpiry }))

		// Manually push the second subscription's endDate past the sweep
		// horizon so only the first one lapses.
		ctx := context.Background()
		newer, err := store.SubscriptionByOrderID(ctx, "S5")
		require.NoError(t, err)
		newer.EndDate = afterExpiry.AddDate(0, 1, 0)
		require.NoError(t, store.Apply(ctx, newer, nil))

		_, err = sweeper.RunOnce(ctx)
		require.NoError(t, err)

		older, err := store.SubscriptionByOrderID(ctx, "S4")
		require.NoError(t, err)
		assert.Equal(t, billing.StatusExpired, older.Status)

		user, err := store.UserByEmail(ctx, "s4@x.com")
		require.NoError(t, err)
		assert.Equal(t, plans.TierPro, user.Plan, "owner still holds the newer subscription")
		require.NotNil(t, user.ActiveSubscriptionID)
		assert.Equal(t, newer.ID, *user.ActiveSubscriptionID)
	})
}

func TestSweeperRun(t *testing.T) {
	t.Parallel()

	svc, store := newTestService(t)
	seedSubscription(t, svc, store, "S6", "s6@x.com")

	afterExpiry := fixedNow.AddDate(0, 2, 0)
	sweeper := billing.NewSweeper(store, 10*time.Millisecond,
		billing.WithSweeperClock(func() time.Time { return afterExpiry }))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		sweeper.Run(ctx)
	}()

	assert.Eventually(t, func() bool {
		sub, err := store.SubscriptionByOrderID(context.Background(), "S6")
		return err == nil && sub.Status == billing.StatusExpired
	}, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop on context cancellation")
	}
}
