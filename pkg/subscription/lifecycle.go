package subscription

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/courseloop/courseloop/pkg/logger"
	"github.com/courseloop/courseloop/pkg/plan"
)

// DefaultReminderHorizon is how far ahead of expiry the renewal reminder
// sweep looks.
const DefaultReminderHorizon = 7 * 24 * time.Hour

// Lifecycle drives subscription state transitions. It is called from three
// independent writers: webhook event application, the scheduled sweeps, and
// user-initiated cancellation. All coordination happens through the store's
// conditional updates; Lifecycle itself holds no mutable state.
type Lifecycle struct {
	store UserStore
	log   *slog.Logger
	now   func() time.Time
}

// LifecycleOption configures a Lifecycle.
type LifecycleOption func(*Lifecycle)

// WithLifecycleClock overrides the time source. Intended for tests.
func WithLifecycleClock(now func() time.Time) LifecycleOption {
	return func(l *Lifecycle) {
		if now != nil {
			l.now = now
		}
	}
}

// NewLifecycle creates a lifecycle manager over the given store.
// Panics on a nil store to fail fast during initialization.
func NewLifecycle(store UserStore, log *slog.Logger, opts ...LifecycleOption) *Lifecycle {
	if store == nil {
		panic("subscription: UserStore is required")
	}
	if log == nil {
		log = slog.Default()
	}
	l := &Lifecycle{
		store: store,
		log:   log,
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Activate moves a user onto a paid tier until expiry. Used for both first
// checkout and renewals; renewals extend the expiry and reset the renewal
// reminder flag so a future cycle can remind again. The store's conditional
// guard makes a replayed activation with the same expiry a no-op.
func (l *Lifecycle) Activate(ctx context.Context, userID string, tier plan.Tier, expiry time.Time, refs CustomerRefs, ev *BillingEvent) error {
	applied, err := l.store.Activate(ctx, userID, Activation{
		Tier:       tier,
		ExpiryDate: expiry.UTC(),
		Refs:       refs,
		Event:      ev,
	})
	if err != nil {
		return fmt.Errorf("activate subscription for user %s: %w", userID, err)
	}
	if !applied {
		l.log.InfoContext(ctx, "activation skipped: stored expiry is not earlier",
			logger.UserID(userID),
			slog.Time("expiry", expiry))
		return nil
	}

	l.log.InfoContext(ctx, "subscription activated",
		logger.UserID(userID),
		slog.String("tier", string(tier)),
		slog.Time("expiry", expiry))
	return nil
}

// RequestCancellation stops auto-renewal. The subscription is not downgraded:
// paid access remains valid until the stored expiry, after which the expiry
// sweep (or lazy reconciliation) drops the user to free.
func (l *Lifecycle) RequestCancellation(ctx context.Context, userID string) error {
	applied, err := l.store.Cancel(ctx, userID, l.now())
	if err != nil {
		return fmt.Errorf("cancel subscription for user %s: %w", userID, err)
	}
	if !applied {
		return ErrNotActive
	}

	l.log.InfoContext(ctx, "subscription cancelled", logger.UserID(userID))
	return nil
}

// ReconcileExpiry lazily downgrades a user whose paid period has lapsed,
// updating the in-memory record to match so the caller can proceed without a
// re-read. Returns true when a transition was applied.
func (l *Lifecycle) ReconcileExpiry(ctx context.Context, u *User, now time.Time) (bool, error) {
	if u == nil || !u.Subscription.ExpiredAt(now) {
		return false, nil
	}

	applied, err := l.store.ApplyExpiryIfDue(ctx, u.ID, now)
	if err != nil {
		return false, fmt.Errorf("reconcile expiry for user %s: %w", u.ID, err)
	}
	if applied {
		u.Subscription.Status = StatusExpired
		u.Subscription.Tier = plan.TierFree
		u.Subscription.Plan = plan.TierFree
		u.Subscription.DowngradedAt = &now
		l.log.InfoContext(ctx, "subscription expired on access",
			logger.UserID(u.ID))
	}
	// A concurrent sweep may have transitioned the user first; either way the
	// stored state is now consistent.
	return applied, nil
}

// SweepFailure records a single user whose update failed during a sweep.
type SweepFailure struct {
	UserID string
	Err    error
}

// SweepReport summarizes a batch sweep. A sweep never aborts on a single
// user's failure; failures are collected for the caller to log.
type SweepReport struct {
	Scanned  int
	Applied  int
	Failures []SweepFailure
}

// ExpireSweep downgrades every user whose paid period lapsed before now.
// Safe to run concurrently with itself: the per-user predicate lives in the
// store filter, so a user already transitioned is simply not matched again.
// The stored expiryDate is kept for audit; only provider-driven deletion
// clears it.
func (l *Lifecycle) ExpireSweep(ctx context.Context, now time.Time) (SweepReport, error) {
	ids, err := l.store.ListExpiring(ctx, now)
	if err != nil {
		return SweepReport{}, fmt.Errorf("list expiring subscriptions: %w", err)
	}

	report := SweepReport{Scanned: len(ids)}
	for _, id := range ids {
		applied, err := l.store.ApplyExpiryIfDue(ctx, id, now)
		if err != nil {
			report.Failures = append(report.Failures, SweepFailure{UserID: id, Err: err})
			l.log.ErrorContext(ctx, "expiry sweep: user update failed",
				logger.UserID(id),
				slog.Any("error", err))
			continue
		}
		if applied {
			report.Applied++
		}
	}

	l.log.InfoContext(ctx, "expiry sweep finished",
		slog.Int("scanned", report.Scanned),
		slog.Int("applied", report.Applied),
		slog.Int("failed", len(report.Failures)))
	return report, nil
}

// ReminderSweep flags users whose expiry falls within the horizon and who
// have not been reminded this cycle. MarkReminded is conditional on the flag
// being unset, so re-running the sweep inside the window never re-fires.
// Activation resets the flag, which re-arms the reminder for the new period.
func (l *Lifecycle) ReminderSweep(ctx context.Context, now time.Time, horizon time.Duration) (SweepReport, error) {
	if horizon <= 0 {
		horizon = DefaultReminderHorizon
	}

	ids, err := l.store.ListRenewalsDue(ctx, now, now.Add(horizon))
	if err != nil {
		return SweepReport{}, fmt.Errorf("list renewals due: %w", err)
	}

	report := SweepReport{Scanned: len(ids)}
	for _, id := range ids {
		applied, err := l.store.MarkReminded(ctx, id, now)
		if err != nil {
			report.Failures = append(report.Failures, SweepFailure{UserID: id, Err: err})
			l.log.ErrorContext(ctx, "reminder sweep: user update failed",
				logger.UserID(id),
				slog.Any("error", err))
			continue
		}
		if applied {
			report.Applied++
		}
	}

	l.log.InfoContext(ctx, "reminder sweep finished",
		slog.Int("scanned", report.Scanned),
		slog.Int("applied", report.Applied),
		slog.Int("failed", len(report.Failures)))
	return report, nil
}
