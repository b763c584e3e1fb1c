package subscription

import (
	"encoding/json"

	"github.com/courseloop/courseloop/pkg/plan"
)

// Provider event types handled by the reconciler.
const (
	EventCheckoutCompleted    = "checkout.completed"
	EventSubscriptionUpdated  = "subscription.updated"
	EventSubscriptionDeleted  = "subscription.deleted"
	EventInvoicePaymentFailed = "invoice.payment_failed"
)

// envelope is the provider's webhook event wrapper.
type envelope struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

// checkoutSession is the data.object of a checkout.completed event.
type checkoutSession struct {
	ID             string            `json:"id"`
	Customer       string            `json:"customer"`
	SubscriptionID string            `json:"subscription"`
	AmountTotal    int64             `json:"amount_total"` // smallest currency unit
	Currency       string            `json:"currency"`
	Metadata       map[string]string `json:"metadata"`
}

// providerSubscription is the data.object of subscription.updated/deleted events.
type providerSubscription struct {
	ID                string `json:"id"`
	Customer          string `json:"customer"`
	Status            string `json:"status"`
	CurrentPeriodEnd  int64  `json:"current_period_end"` // unix seconds
	CancelAtPeriodEnd bool   `json:"cancel_at_period_end"`
}

// invoice is the data.object of invoice.payment_failed events.
type invoice struct {
	ID        string `json:"id"`
	Customer  string `json:"customer"`
	AmountDue int64  `json:"amount_due"`
	Currency  string `json:"currency"`
}

// tierForPlanID maps the provider-side plan identifier from checkout metadata
// to an internal tier. "premium" is the historical name of the pro tier.
// A paid checkout with an unrecognized plan id defaults to pro: the payment
// succeeded, so withholding paid access would be the worse failure mode.
func tierForPlanID(planID string) (plan.Tier, bool) {
	switch planID {
	case "premium", "pro":
		return plan.TierPro, true
	case "enterprise":
		return plan.TierEnterprise, true
	default:
		return plan.TierPro, false
	}
}

// statusFromProvider maps the provider's subscription status vocabulary to
// internal statuses. Payment trouble maps to expired, not cancelled:
// "can't charge" is distinct from "user chose to leave".
func statusFromProvider(status string) (Status, bool) {
	switch status {
	case "active":
		return StatusActive, true
	case "trialing":
		return StatusTrialing, true
	case "canceled", "cancelled":
		return StatusCancelled, true
	case "past_due", "unpaid", "incomplete", "incomplete_expired":
		return StatusExpired, true
	default:
		return StatusExpired, false
	}
}
