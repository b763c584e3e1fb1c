package subscription

import (
	"time"

	"github.com/courseloop/courseloop/pkg/plan"
)

// Status represents the current state of a user's subscription.
type Status string

const (
	StatusActive    Status = "active"
	StatusTrialing  Status = "trialing"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
)

// Subscription is the billing state embedded in the user document.
//
// Tier is the canonical plan field. Plan is a legacy alias kept in sync on
// every write for older readers; it is only consulted as a resolution
// fallback in the entitlement resolver.
type Subscription struct {
	Tier                  plan.Tier  `bson:"tier" json:"tier"`
	Plan                  plan.Tier  `bson:"plan" json:"plan"`
	Status                Status     `bson:"status" json:"status"`
	ExpiryDate            *time.Time `bson:"expiryDate,omitempty" json:"expiryDate,omitempty"`
	StripeCustomerID      string     `bson:"stripeCustomerId,omitempty" json:"stripeCustomerId,omitempty"`
	StripeSubscriptionID  string     `bson:"stripeSubscriptionId,omitempty" json:"stripeSubscriptionId,omitempty"`
	AutoRenew             bool       `bson:"autoRenew" json:"autoRenew"`
	RenewalReminderSent   bool       `bson:"renewalReminderSent" json:"renewalReminderSent"`
	RenewalReminderSentAt *time.Time `bson:"renewalReminderSentAt,omitempty" json:"renewalReminderSentAt,omitempty"`
	CanceledAt            *time.Time `bson:"canceledAt,omitempty" json:"canceledAt,omitempty"`
	DowngradedAt          *time.Time `bson:"downgradedAt,omitempty" json:"downgradedAt,omitempty"`
}

// IsActive returns true if the subscription is active (paid).
func (s *Subscription) IsActive() bool {
	return s != nil && s.Status == StatusActive
}

// IsCancelled returns true if the user stopped auto-renewal.
// Cancelled subscriptions keep paid access until ExpiryDate.
func (s *Subscription) IsCancelled() bool {
	return s != nil && s.Status == StatusCancelled
}

// ExpiredAt reports whether the paid period has lapsed at the given time but
// the record has not been downgraded yet. Such records are reconciled lazily
// by the access gate or by the scheduled expiry sweep, whichever runs first.
func (s *Subscription) ExpiredAt(now time.Time) bool {
	if s == nil || s.ExpiryDate == nil {
		return false
	}
	if s.Status == StatusExpired {
		return false
	}
	return s.ExpiryDate.Before(now)
}

// BillingEventStatus marks a billing history entry as a success or failure.
type BillingEventStatus string

const (
	BillingSuccess BillingEventStatus = "success"
	BillingFailed  BillingEventStatus = "failed"
)

// BillingEvent is an append-only entry in the user's billing history.
// Entries are created only by the webhook reconciler or the lifecycle
// manager and never mutated after insertion.
type BillingEvent struct {
	Type        string             `bson:"type" json:"type"`
	Description string             `bson:"description" json:"description"`
	Amount      float64            `bson:"amount" json:"amount"`
	Currency    string             `bson:"currency" json:"currency"`
	Date        time.Time          `bson:"date" json:"date"`
	Reference   string             `bson:"reference" json:"reference"`
	Status      BillingEventStatus `bson:"status" json:"status"`
}

// User is the slice of the user document this core reads and writes.
// The user entity is the sole owner of its embedded subscription and
// billing history.
type User struct {
	ID             string         `bson:"_id" json:"id"`
	Email          string         `bson:"email,omitempty" json:"email,omitempty"`
	IsPremium      bool           `bson:"isPremium,omitempty" json:"isPremium,omitempty"` // legacy flag, read-only
	Subscription   *Subscription  `bson:"subscription,omitempty" json:"subscription,omitempty"`
	BillingHistory []BillingEvent `bson:"billingHistory,omitempty" json:"billingHistory,omitempty"`
}
