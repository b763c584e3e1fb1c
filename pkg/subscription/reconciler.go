package subscription

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/courseloop/courseloop/pkg/logger"
)

// DefaultSignatureTolerance bounds how old a webhook delivery may be before
// it is rejected as a potential replay of captured traffic.
const DefaultSignatureTolerance = 5 * time.Minute

// Reconciler verifies and applies payment-provider webhook events to user
// subscription state, idempotently.
//
// Error contract: ApplyEvent returns an error only when the caller should
// make the provider retry (ErrStoreUnavailable) or reject the delivery
// outright (ErrInvalidSignature, ErrInvalidPayload). Every other failure,
// including an unknown user, is logged and acknowledged so the provider's
// retry policy cannot hammer a permanently-failing event.
type Reconciler struct {
	store     UserStore
	lifecycle *Lifecycle
	secret    string
	tolerance time.Duration
	log       *slog.Logger
	now       func() time.Time
}

// ReconcilerOption configures a Reconciler.
type ReconcilerOption func(*Reconciler)

// WithSignatureTolerance overrides the replay-protection window.
func WithSignatureTolerance(d time.Duration) ReconcilerOption {
	return func(r *Reconciler) {
		if d > 0 {
			r.tolerance = d
		}
	}
}

// WithReconcilerClock overrides the time source. Intended for tests.
func WithReconcilerClock(now func() time.Time) ReconcilerOption {
	return func(r *Reconciler) {
		if now != nil {
			r.now = now
		}
	}
}

// NewReconciler creates a webhook reconciler.
// Panics on nil dependencies or an empty signing secret to fail fast during
// initialization.
func NewReconciler(store UserStore, lifecycle *Lifecycle, signingSecret string, log *slog.Logger, opts ...ReconcilerOption) *Reconciler {
	if store == nil {
		panic("subscription: UserStore is required")
	}
	if lifecycle == nil {
		panic("subscription: Lifecycle is required")
	}
	if signingSecret == "" {
		panic("subscription: webhook signing secret is required")
	}
	if log == nil {
		log = slog.Default()
	}
	r := &Reconciler{
		store:     store,
		lifecycle: lifecycle,
		secret:    signingSecret,
		tolerance: DefaultSignatureTolerance,
		log:       log,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// IsRetryable reports whether the provider should redeliver the event.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}

// ApplyEvent verifies the raw payload's signature, de-duplicates by provider
// event id, and applies the event to subscription state.
//
// The signature check runs over the raw body before any JSON parsing.
// Replays are caught by the processed-event check up front; the event id is
// recorded only after successful application so a transient failure leaves
// the event eligible for the provider's retry. The conditional expiry and
// billing-reference guards in the store keep the remaining race (replay
// arriving while the first delivery is mid-flight) harmless.
func (r *Reconciler) ApplyEvent(ctx context.Context, payload []byte, signatureHeader string) error {
	if err := VerifySignature(r.secret, payload, signatureHeader, r.tolerance, r.now()); err != nil {
		return err
	}

	var ev envelope
	if err := json.Unmarshal(payload, &ev); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	if ev.Type == "" {
		return fmt.Errorf("%w: missing event type", ErrInvalidPayload)
	}

	eventID := ev.ID
	if eventID == "" {
		// No id means no de-duplication handle; synthesize one so the
		// processed-events record still has a key.
		eventID = "evt_local_" + uuid.NewString()
		r.log.WarnContext(ctx, "webhook event without id, de-duplication disabled",
			slog.String("type", ev.Type))
	}

	seen, err := r.store.WasProcessed(ctx, eventID)
	if err != nil {
		return fmt.Errorf("check webhook event %s: %w", eventID, err)
	}
	if seen {
		r.log.InfoContext(ctx, "webhook event replay acknowledged",
			slog.String("event_id", eventID),
			slog.String("type", ev.Type))
		return nil
	}

	switch ev.Type {
	case EventCheckoutCompleted:
		err = r.applyCheckoutCompleted(ctx, ev)
	case EventSubscriptionUpdated:
		err = r.applySubscriptionUpdated(ctx, ev)
	case EventSubscriptionDeleted:
		err = r.applySubscriptionDeleted(ctx, ev)
	case EventInvoicePaymentFailed:
		err = r.applyPaymentFailed(ctx, ev)
	default:
		// Intentionally ignored event types are acknowledged so the provider
		// does not retry them.
		r.log.InfoContext(ctx, "ignoring webhook event",
			slog.String("event_id", eventID),
			slog.String("type", ev.Type))
	}
	if err != nil {
		return err
	}

	// Best effort: a failure here only risks one redundant, guarded replay.
	if err := r.store.MarkProcessed(ctx, eventID); err != nil {
		r.log.ErrorContext(ctx, "failed to record processed webhook event",
			slog.String("event_id", eventID),
			slog.Any("error", err))
	}
	return nil
}

func (r *Reconciler) applyCheckoutCompleted(ctx context.Context, ev envelope) error {
	var session checkoutSession
	if err := json.Unmarshal(ev.Data.Object, &session); err != nil {
		return fmt.Errorf("%w: checkout session: %w", ErrInvalidPayload, err)
	}

	user, err := r.resolveUser(ctx, session.Metadata["userId"], session.Customer)
	if err != nil {
		return r.terminal(ctx, ev, "checkout target user not found", err)
	}

	tier, known := tierForPlanID(session.Metadata["planId"])
	if !known {
		r.log.WarnContext(ctx, "unrecognized plan id in checkout metadata, defaulting to pro",
			slog.String("event_id", ev.ID),
			slog.String("plan_id", session.Metadata["planId"]))
	}

	now := r.now()
	err = r.lifecycle.Activate(ctx, user.ID, tier, now.AddDate(0, 1, 0), CustomerRefs{
		CustomerID:     session.Customer,
		SubscriptionID: session.SubscriptionID,
	}, &BillingEvent{
		Type:        EventCheckoutCompleted,
		Description: fmt.Sprintf("Subscription payment (%s)", tier),
		Amount:      float64(session.AmountTotal) / 100,
		Currency:    strings.ToUpper(session.Currency),
		Date:        now,
		Reference:   session.ID,
		Status:      BillingSuccess,
	})
	if err != nil {
		return r.terminal(ctx, ev, "checkout activation failed", err)
	}
	return nil
}

func (r *Reconciler) applySubscriptionUpdated(ctx context.Context, ev envelope) error {
	var sub providerSubscription
	if err := json.Unmarshal(ev.Data.Object, &sub); err != nil {
		return fmt.Errorf("%w: subscription object: %w", ErrInvalidPayload, err)
	}

	user, err := r.resolveUser(ctx, "", sub.Customer)
	if err != nil {
		return r.terminal(ctx, ev, "subscription update target not found", err)
	}

	status, known := statusFromProvider(sub.Status)
	if !known {
		r.log.WarnContext(ctx, "unrecognized provider subscription status",
			slog.String("event_id", ev.ID),
			slog.String("status", sub.Status))
	}

	upd := ProviderUpdate{
		Status:    status,
		AutoRenew: !sub.CancelAtPeriodEnd,
	}
	if sub.CurrentPeriodEnd > 0 {
		end := time.Unix(sub.CurrentPeriodEnd, 0).UTC()
		upd.ExpiryDate = &end
	}

	if err := r.store.UpdateFromProvider(ctx, user.ID, upd); err != nil {
		return r.terminal(ctx, ev, "subscription update failed", err)
	}

	r.log.InfoContext(ctx, "subscription updated from provider",
		logger.UserID(user.ID),
		slog.String("status", string(status)))
	return nil
}

func (r *Reconciler) applySubscriptionDeleted(ctx context.Context, ev envelope) error {
	var sub providerSubscription
	if err := json.Unmarshal(ev.Data.Object, &sub); err != nil {
		return fmt.Errorf("%w: subscription object: %w", ErrInvalidPayload, err)
	}

	user, err := r.resolveUser(ctx, "", sub.Customer)
	if err != nil {
		return r.terminal(ctx, ev, "subscription delete target not found", err)
	}

	if err := r.store.DowngradeToFree(ctx, user.ID, r.now()); err != nil {
		return r.terminal(ctx, ev, "downgrade to free failed", err)
	}

	r.log.InfoContext(ctx, "subscription deleted by provider",
		logger.UserID(user.ID))
	return nil
}

func (r *Reconciler) applyPaymentFailed(ctx context.Context, ev envelope) error {
	var inv invoice
	if err := json.Unmarshal(ev.Data.Object, &inv); err != nil {
		return fmt.Errorf("%w: invoice object: %w", ErrInvalidPayload, err)
	}

	user, err := r.resolveUser(ctx, "", inv.Customer)
	if err != nil {
		return r.terminal(ctx, ev, "payment failure target not found", err)
	}

	now := r.now()
	_, err = r.store.MarkExpired(ctx, user.ID, now, &BillingEvent{
		Type:        EventInvoicePaymentFailed,
		Description: "Subscription payment failed",
		Amount:      float64(inv.AmountDue) / 100,
		Currency:    strings.ToUpper(inv.Currency),
		Date:        now,
		Reference:   inv.ID,
		Status:      BillingFailed,
	})
	if err != nil {
		return r.terminal(ctx, ev, "mark expired failed", err)
	}

	r.log.WarnContext(ctx, "subscription expired after failed payment",
		logger.UserID(user.ID),
		slog.String("invoice", inv.ID))
	return nil
}

// resolveUser finds the reconciliation target by the userId embedded in event
// metadata, falling back to the provider's customer reference for recurring
// events that lack the original checkout metadata.
func (r *Reconciler) resolveUser(ctx context.Context, userID, customerID string) (*User, error) {
	if userID != "" {
		u, err := r.store.Get(ctx, userID)
		if err == nil {
			return u, nil
		}
		if !errors.Is(err, ErrUserNotFound) {
			return nil, err
		}
	}
	if customerID == "" {
		return nil, ErrUserNotFound
	}
	return r.store.GetByCustomerID(ctx, customerID)
}

// terminal decides whether an application error warrants a provider retry.
// Transient persistence failures propagate; everything else is logged and
// acknowledged.
func (r *Reconciler) terminal(ctx context.Context, ev envelope, msg string, err error) error {
	if IsRetryable(err) {
		return err
	}
	r.log.ErrorContext(ctx, "webhook event dropped: "+msg,
		slog.String("event_id", ev.ID),
		slog.String("type", ev.Type),
		slog.Any("error", err))
	return nil
}
