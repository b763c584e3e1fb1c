package usage

import (
	"context"
	"time"

	"github.com/courseloop/courseloop/pkg/plan"
)

// Record is one per-user, per-feature, per-calendar-month usage counter.
// At most one record exists per (user, feature, month) tuple; Count only
// ever grows within a month.
type Record struct {
	UserID    string       `bson:"userId" json:"userId"`
	Feature   plan.Feature `bson:"apiName" json:"apiName"` // historical field name
	Month     time.Time    `bson:"month" json:"month"`     // first instant of the month, UTC
	Count     int64        `bson:"count" json:"count"`
	UpdatedAt time.Time    `bson:"updatedAt" json:"updatedAt"`
}

// Store is the persistence collaborator for usage counters.
// Increment must be a single atomic upsert-increment at the storage engine,
// not a read-modify-write, so concurrent requests from the same user never
// lose an update.
type Store interface {
	Increment(ctx context.Context, userID string, feature plan.Feature, month time.Time) (int64, error)
	Count(ctx context.Context, userID string, feature plan.Feature, month time.Time) (int64, error)
	DeleteBefore(ctx context.Context, month time.Time) (int64, error)
}

// MonthStart truncates t to the first instant of its calendar month in UTC.
// UTC is the single month boundary for the whole system: a record created at
// 23:59 UTC on the last day of a month never counts toward the next month.
func MonthStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// Tracker maintains monthly usage counters.
type Tracker struct {
	store Store
	now   func() time.Time
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock overrides the time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		if now != nil {
			t.now = now
		}
	}
}

// NewTracker creates a tracker over the given store.
// Panics on a nil store to fail fast during initialization.
func NewTracker(store Store, opts ...Option) *Tracker {
	if store == nil {
		panic("usage: Store is required")
	}
	t := &Tracker{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Record increments the current-month counter for the feature and returns
// the new count. Callers invoke it only after the gated action succeeded, so
// quota is never charged for actions that failed downstream.
func (t *Tracker) Record(ctx context.Context, userID string, feature plan.Feature) (int64, error) {
	return t.store.Increment(ctx, userID, feature, MonthStart(t.now()))
}

// Current returns the current-month count, 0 when no record exists yet.
func (t *Tracker) Current(ctx context.Context, userID string, feature plan.Feature) (int64, error) {
	return t.store.Count(ctx, userID, feature, MonthStart(t.now()))
}

// PurgeStale deletes all records for months strictly before the cutoff.
// Intended to run once per calendar month; deleting an already-deleted range
// is a no-op, so re-runs are safe.
func (t *Tracker) PurgeStale(ctx context.Context, before time.Time) (int64, error) {
	return t.store.DeleteBefore(ctx, MonthStart(before))
}

// PreviousMonthStart returns the first instant of the month before now's
// month, the default purge cutoff (keep current and previous month).
func (t *Tracker) PreviousMonthStart() time.Time {
	return MonthStart(t.now()).AddDate(0, -1, 0)
}
