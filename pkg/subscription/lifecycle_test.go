package subscription_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/courseloop/courseloop/pkg/plan"
	"github.com/courseloop/courseloop/pkg/subscription"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func timePtr(t time.Time) *time.Time { return &t }

func TestLifecycleActivate(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Date(2025, 3, 15, 12, 0, 0, 0, time.UTC)

	t.Run("first activation sets tier and expiry", func(t *testing.T) {
		t.Parallel()

		store := subscription.NewMemoryStore()
		store.Put(&subscription.User{ID: "u1"})
		lc := subscription.NewLifecycle(store, discardLogger())

		expiry := now.AddDate(0, 1, 0)
		err := lc.Activate(ctx, "u1", plan.TierPro, expiry,
			subscription.CustomerRefs{CustomerID: "cus_1", SubscriptionID: "sub_1"},
			&subscription.BillingEvent{
				Type:      "payment",
				Amount:    9.99,
				Currency:  "USD",
				Date:      now,
				Reference: "cs_1",
				Status:    subscription.BillingSuccess,
			})
		require.NoError(t, err)

		u, err := store.Get(ctx, "u1")
		require.NoError(t, err)
		require.NotNil(t, u.Subscription)
		assert.Equal(t, plan.TierPro, u.Subscription.Tier)
		assert.Equal(t, plan.TierPro, u.Subscription.Plan)
		assert.Equal(t, subscription.StatusActive, u.Subscription.Status)
		assert.True(t, u.Subscription.AutoRenew)
		assert.Equal(t, "cus_1", u.Subscription.StripeCustomerID)
		require.NotNil(t, u.Subscription.ExpiryDate)
		assert.True(t, u.Subscription.ExpiryDate.Equal(expiry))
		require.Len(t, u.BillingHistory, 1)
		assert.Equal(t, "cs_1", u.BillingHistory[0].Reference)
	})

	t.Run("renewal extends expiry and rearms reminder", func(t *testing.T) {
		t.Parallel()

		store := subscription.NewMemoryStore()
		store.Put(&subscription.User{
			ID: "u1",
			Subscription: &subscription.Subscription{
				Tier:                  plan.TierPro,
				Status:                subscription.StatusActive,
				ExpiryDate:            timePtr(now.AddDate(0, 0, 3)),
				RenewalReminderSent:   true,
				RenewalReminderSentAt: timePtr(now.AddDate(0, 0, -4)),
			},
		})
		lc := subscription.NewLifecycle(store, discardLogger())

		newExpiry := now.AddDate(0, 1, 3)
		err := lc.Activate(ctx, "u1", plan.TierPro, newExpiry, subscription.CustomerRefs{},
			&subscription.BillingEvent{Reference: "in_2", Status: subscription.BillingSuccess})
		require.NoError(t, err)

		u, err := store.Get(ctx, "u1")
		require.NoError(t, err)
		assert.True(t, u.Subscription.ExpiryDate.Equal(newExpiry))
		assert.False(t, u.Subscription.RenewalReminderSent)
		assert.Nil(t, u.Subscription.RenewalReminderSentAt)
	})

	t.Run("stale expiry is not applied", func(t *testing.T) {
		t.Parallel()

		current := now.AddDate(0, 2, 0)
		store := subscription.NewMemoryStore()
		store.Put(&subscription.User{
			ID: "u1",
			Subscription: &subscription.Subscription{
				Tier:       plan.TierPro,
				Status:     subscription.StatusActive,
				ExpiryDate: timePtr(current),
			},
		})
		lc := subscription.NewLifecycle(store, discardLogger())

		err := lc.Activate(ctx, "u1", plan.TierPro, now.AddDate(0, 1, 0), subscription.CustomerRefs{}, nil)
		require.NoError(t, err)

		u, err := store.Get(ctx, "u1")
		require.NoError(t, err)
		assert.True(t, u.Subscription.ExpiryDate.Equal(current))
		assert.Empty(t, u.BillingHistory)
	})

	t.Run("unknown user", func(t *testing.T) {
		t.Parallel()

		lc := subscription.NewLifecycle(subscription.NewMemoryStore(), discardLogger())

		err := lc.Activate(ctx, "ghost", plan.TierPro, now.AddDate(0, 1, 0), subscription.CustomerRefs{}, nil)
		require.ErrorIs(t, err, subscription.ErrUserNotFound)
	})
}

func TestLifecycleRequestCancellation(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Date(2025, 3, 15, 12, 0, 0, 0, time.UTC)

	t.Run("active subscription is cancelled but keeps access", func(t *testing.T) {
		t.Parallel()

		expiry := now.AddDate(0, 0, 20)
		store := subscription.NewMemoryStore()
		store.Put(&subscription.User{
			ID: "u1",
			Subscription: &subscription.Subscription{
				Tier:       plan.TierPro,
				Status:     subscription.StatusActive,
				ExpiryDate: &expiry,
				AutoRenew:  true,
			},
		})
		lc := subscription.NewLifecycle(store, discardLogger(),
			subscription.WithLifecycleClock(func() time.Time { return now }))

		require.NoError(t, lc.RequestCancellation(ctx, "u1"))

		u, err := store.Get(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, subscription.StatusCancelled, u.Subscription.Status)
		assert.False(t, u.Subscription.AutoRenew)
		require.NotNil(t, u.Subscription.CanceledAt)
		assert.True(t, u.Subscription.CanceledAt.Equal(now))
		// Tier and expiry untouched: paid access runs until the period ends.
		assert.Equal(t, plan.TierPro, u.Subscription.Tier)
		assert.True(t, u.Subscription.ExpiryDate.Equal(expiry))
	})

	t.Run("not active returns ErrNotActive", func(t *testing.T) {
		t.Parallel()

		store := subscription.NewMemoryStore()
		store.Put(&subscription.User{
			ID:           "u1",
			Subscription: &subscription.Subscription{Status: subscription.StatusExpired},
		})
		lc := subscription.NewLifecycle(store, discardLogger())

		err := lc.RequestCancellation(ctx, "u1")
		require.ErrorIs(t, err, subscription.ErrNotActive)
	})

	t.Run("no subscription returns ErrNotActive", func(t *testing.T) {
		t.Parallel()

		store := subscription.NewMemoryStore()
		store.Put(&subscription.User{ID: "u1"})
		lc := subscription.NewLifecycle(store, discardLogger())

		err := lc.RequestCancellation(ctx, "u1")
		require.ErrorIs(t, err, subscription.ErrNotActive)
	})

	t.Run("unknown user", func(t *testing.T) {
		t.Parallel()

		lc := subscription.NewLifecycle(subscription.NewMemoryStore(), discardLogger())

		err := lc.RequestCancellation(ctx, "ghost")
		require.ErrorIs(t, err, subscription.ErrUserNotFound)
	})
}

func TestLifecycleReconcileExpiry(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Date(2025, 3, 15, 12, 0, 0, 0, time.UTC)

	t.Run("lapsed subscription is downgraded in store and in memory", func(t *testing.T) {
		t.Parallel()

		store := subscription.NewMemoryStore()
		store.Put(&subscription.User{
			ID: "u1",
			Subscription: &subscription.Subscription{
				Tier:       plan.TierPro,
				Status:     subscription.StatusActive,
				ExpiryDate: timePtr(now.AddDate(0, 0, -1)),
			},
		})
		lc := subscription.NewLifecycle(store, discardLogger())

		u, err := store.Get(ctx, "u1")
		require.NoError(t, err)

		applied, err := lc.ReconcileExpiry(ctx, u, now)
		require.NoError(t, err)
		assert.True(t, applied)

		// In-memory record reflects the transition without a re-read.
		assert.Equal(t, subscription.StatusExpired, u.Subscription.Status)
		assert.Equal(t, plan.TierFree, u.Subscription.Tier)

		stored, err := store.Get(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, subscription.StatusExpired, stored.Subscription.Status)
		require.NotNil(t, stored.Subscription.ExpiryDate, "expiry kept for audit")
	})

	t.Run("current subscription is untouched", func(t *testing.T) {
		t.Parallel()

		store := subscription.NewMemoryStore()
		store.Put(&subscription.User{
			ID: "u1",
			Subscription: &subscription.Subscription{
				Tier:       plan.TierPro,
				Status:     subscription.StatusActive,
				ExpiryDate: timePtr(now.AddDate(0, 0, 5)),
			},
		})
		lc := subscription.NewLifecycle(store, discardLogger())

		u, err := store.Get(ctx, "u1")
		require.NoError(t, err)

		applied, err := lc.ReconcileExpiry(ctx, u, now)
		require.NoError(t, err)
		assert.False(t, applied)
		assert.Equal(t, subscription.StatusActive, u.Subscription.Status)
	})

	t.Run("already expired record is a no-op", func(t *testing.T) {
		t.Parallel()

		store := subscription.NewMemoryStore()
		store.Put(&subscription.User{
			ID: "u1",
			Subscription: &subscription.Subscription{
				Tier:       plan.TierFree,
				Status:     subscription.StatusExpired,
				ExpiryDate: timePtr(now.AddDate(0, 0, -10)),
			},
		})
		lc := subscription.NewLifecycle(store, discardLogger())

		u, err := store.Get(ctx, "u1")
		require.NoError(t, err)

		applied, err := lc.ReconcileExpiry(ctx, u, now)
		require.NoError(t, err)
		assert.False(t, applied)
	})
}

func TestLifecycleExpireSweep(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Date(2025, 3, 15, 12, 0, 0, 0, time.UTC)

	newStore := func() *subscription.MemoryStore {
		store := subscription.NewMemoryStore()
		store.Put(&subscription.User{
			ID: "lapsed-active",
			Subscription: &subscription.Subscription{
				Tier:       plan.TierPro,
				Status:     subscription.StatusActive,
				ExpiryDate: timePtr(now.AddDate(0, 0, -2)),
			},
		})
		store.Put(&subscription.User{
			ID: "lapsed-cancelled",
			Subscription: &subscription.Subscription{
				Tier:       plan.TierPro,
				Status:     subscription.StatusCancelled,
				ExpiryDate: timePtr(now.AddDate(0, 0, -1)),
			},
		})
		store.Put(&subscription.User{
			ID: "still-paid",
			Subscription: &subscription.Subscription{
				Tier:       plan.TierPro,
				Status:     subscription.StatusActive,
				ExpiryDate: timePtr(now.AddDate(0, 0, 10)),
			},
		})
		store.Put(&subscription.User{ID: "free-user"})
		return store
	}

	t.Run("downgrades every lapsed paid user", func(t *testing.T) {
		t.Parallel()

		store := newStore()
		lc := subscription.NewLifecycle(store, discardLogger())

		report, err := lc.ExpireSweep(ctx, now)
		require.NoError(t, err)
		assert.Equal(t, 2, report.Scanned)
		assert.Equal(t, 2, report.Applied)
		assert.Empty(t, report.Failures)

		for _, id := range []string{"lapsed-active", "lapsed-cancelled"} {
			u, err := store.Get(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, subscription.StatusExpired, u.Subscription.Status)
			assert.Equal(t, plan.TierFree, u.Subscription.Tier)
			require.NotNil(t, u.Subscription.DowngradedAt)
		}

		u, err := store.Get(ctx, "still-paid")
		require.NoError(t, err)
		assert.Equal(t, subscription.StatusActive, u.Subscription.Status)
	})

	t.Run("second run is a no-op and keeps first downgrade timestamp", func(t *testing.T) {
		t.Parallel()

		store := newStore()
		lc := subscription.NewLifecycle(store, discardLogger())

		_, err := lc.ExpireSweep(ctx, now)
		require.NoError(t, err)

		first, err := store.Get(ctx, "lapsed-active")
		require.NoError(t, err)

		report, err := lc.ExpireSweep(ctx, now.Add(time.Hour))
		require.NoError(t, err)
		assert.Equal(t, 0, report.Scanned)
		assert.Equal(t, 0, report.Applied)

		second, err := store.Get(ctx, "lapsed-active")
		require.NoError(t, err)
		assert.True(t, second.Subscription.DowngradedAt.Equal(*first.Subscription.DowngradedAt))
	})
}

func TestLifecycleReminderSweep(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Date(2025, 3, 15, 12, 0, 0, 0, time.UTC)

	t.Run("flags users expiring within horizon once", func(t *testing.T) {
		t.Parallel()

		store := subscription.NewMemoryStore()
		store.Put(&subscription.User{
			ID: "expires-soon",
			Subscription: &subscription.Subscription{
				Tier:       plan.TierPro,
				Status:     subscription.StatusActive,
				ExpiryDate: timePtr(now.AddDate(0, 0, 3)),
			},
		})
		store.Put(&subscription.User{
			ID: "expires-later",
			Subscription: &subscription.Subscription{
				Tier:       plan.TierPro,
				Status:     subscription.StatusActive,
				ExpiryDate: timePtr(now.AddDate(0, 1, 0)),
			},
		})
		store.Put(&subscription.User{
			ID: "already-reminded",
			Subscription: &subscription.Subscription{
				Tier:                plan.TierPro,
				Status:              subscription.StatusActive,
				ExpiryDate:          timePtr(now.AddDate(0, 0, 2)),
				RenewalReminderSent: true,
			},
		})
		lc := subscription.NewLifecycle(store, discardLogger())

		report, err := lc.ReminderSweep(ctx, now, subscription.DefaultReminderHorizon)
		require.NoError(t, err)
		assert.Equal(t, 1, report.Scanned)
		assert.Equal(t, 1, report.Applied)

		u, err := store.Get(ctx, "expires-soon")
		require.NoError(t, err)
		assert.True(t, u.Subscription.RenewalReminderSent)
		require.NotNil(t, u.Subscription.RenewalReminderSentAt)

		// Re-run inside the same window never re-fires.
		report, err = lc.ReminderSweep(ctx, now.Add(time.Hour), subscription.DefaultReminderHorizon)
		require.NoError(t, err)
		assert.Equal(t, 0, report.Applied)
	})

	t.Run("cancelled users are not reminded", func(t *testing.T) {
		t.Parallel()

		store := subscription.NewMemoryStore()
		store.Put(&subscription.User{
			ID: "cancelled",
			Subscription: &subscription.Subscription{
				Tier:       plan.TierPro,
				Status:     subscription.StatusCancelled,
				ExpiryDate: timePtr(now.AddDate(0, 0, 3)),
			},
		})
		lc := subscription.NewLifecycle(store, discardLogger())

		report, err := lc.ReminderSweep(ctx, now, subscription.DefaultReminderHorizon)
		require.NoError(t, err)
		assert.Equal(t, 0, report.Scanned)
	})
}
