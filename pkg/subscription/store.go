package subscription

import (
	"context"
	"time"

	"github.com/courseloop/courseloop/pkg/plan"
)

// CustomerRefs are the payment provider's identifiers mirrored on the user
// document for webhook lookup. The provider owns these values.
type CustomerRefs struct {
	CustomerID     string
	SubscriptionID string
}

// Activation describes a paid-period start or renewal. When Event is set the
// store must apply the subscription fields and the billing history append in
// a single document write so a failure leaves neither half behind, and must
// additionally guard the write on Event.Reference not already being present
// in the billing history.
type Activation struct {
	Tier       plan.Tier
	ExpiryDate time.Time
	Refs       CustomerRefs
	Event      *BillingEvent
}

// ProviderUpdate carries the fields a subscription.updated event is allowed
// to touch. Nil ExpiryDate leaves the stored value unchanged.
type ProviderUpdate struct {
	Status     Status
	ExpiryDate *time.Time
	AutoRenew  bool
}

// UserStore is the persistence collaborator for user subscription state.
//
// Every mutation is a targeted field update on the subscription sub-document,
// never a whole-document overwrite: the webhook reconciler, the scheduled
// sweeps, and user-initiated cancellation write concurrently and must not
// clobber each other's unrelated fields. Each write sets a self-consistent
// (tier, status, expiry) triple.
//
// Implementations return ErrUserNotFound for missing users and wrap
// infrastructure failures with ErrStoreUnavailable so callers can classify
// them as retryable.
type UserStore interface {
	// Get retrieves a user by its identifier.
	Get(ctx context.Context, userID string) (*User, error)

	// GetByCustomerID retrieves a user by the provider's customer reference.
	// Used for renewal events that lack the original checkout metadata.
	GetByCustomerID(ctx context.Context, customerID string) (*User, error)

	// Activate applies a paid activation or renewal. The expiry extension is
	// conditional: it is applied only when the stored expiry is absent or
	// earlier than act.ExpiryDate, which makes replayed checkout events
	// no-ops. Returns false when the guard rejected the write.
	// A successful activation resets the renewal reminder flags.
	Activate(ctx context.Context, userID string, act Activation) (bool, error)

	// UpdateFromProvider applies a subscription.updated event. A Status of
	// StatusExpired also drops the tier to free in the same write, keeping
	// the (tier, status, expiry) triple self-consistent; an expired status
	// with a paid tier matches none of the sweep predicates and would
	// strand the user on paid limits.
	UpdateFromProvider(ctx context.Context, userID string, upd ProviderUpdate) error

	// Cancel stops auto-renewal. Applies only while the subscription is
	// active; returns false otherwise. Paid access continues until expiry.
	Cancel(ctx context.Context, userID string, at time.Time) (bool, error)

	// DowngradeToFree drops the user to the free tier immediately and clears
	// the stored expiry. Used for subscription.deleted events.
	DowngradeToFree(ctx context.Context, userID string, at time.Time) error

	// MarkExpired transitions the subscription to expired/free, optionally
	// appending a billing event in the same document write. Returns false if
	// the subscription was already expired.
	MarkExpired(ctx context.Context, userID string, at time.Time, ev *BillingEvent) (bool, error)

	// ApplyExpiryIfDue downgrades the user iff the stored expiry has passed
	// and the status still reflects a paid state. The predicate lives in the
	// storage filter, which makes concurrent sweeps idempotent per user.
	ApplyExpiryIfDue(ctx context.Context, userID string, now time.Time) (bool, error)

	// ListExpiring returns ids of users whose paid period has lapsed but
	// whose status has not been downgraded yet.
	ListExpiring(ctx context.Context, now time.Time) ([]string, error)

	// ListRenewalsDue returns ids of users whose expiry falls inside
	// [from, to] and who have not been reminded this cycle.
	ListRenewalsDue(ctx context.Context, from, to time.Time) ([]string, error)

	// MarkReminded sets the renewal reminder flag. Returns false when the
	// flag was already set, so a re-run sweep never re-fires.
	MarkReminded(ctx context.Context, userID string, at time.Time) (bool, error)

	// AppendBillingEvent appends an immutable entry to the billing history.
	AppendBillingEvent(ctx context.Context, userID string, ev BillingEvent) error

	// WasProcessed reports whether a provider event id has already been
	// applied. Payment providers guarantee at-least-once delivery; replays
	// must be acknowledged without effect.
	WasProcessed(ctx context.Context, eventID string) (bool, error)

	// MarkProcessed records a provider event id after successful application.
	// Recording after (not before) application means a transient failure
	// leaves the event unrecorded and the provider's retry re-applies it;
	// the conditional guards on Activate and the billing-reference guard on
	// event appends keep the rare concurrent duplicate harmless.
	MarkProcessed(ctx context.Context, eventID string) error
}
