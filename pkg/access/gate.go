package access

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/courseloop/courseloop/pkg/entitlement"
	"github.com/courseloop/courseloop/pkg/logger"
	"github.com/courseloop/courseloop/pkg/plan"
	"github.com/courseloop/courseloop/pkg/subscription"
	"github.com/courseloop/courseloop/pkg/usage"
)

// Reason explains a gate decision. Denials are values, never errors.
type Reason string

const (
	ReasonOK             Reason = "ok"
	ReasonLimitReached   Reason = "limit_reached"
	ReasonUnknownFeature Reason = "unknown_feature"
)

// Decision is the structured outcome of an access check. It carries enough
// for the caller to render an upgrade prompt; a bare boolean is never
// sufficient.
type Decision struct {
	Allowed   bool         `json:"allowed"`
	Feature   plan.Feature `json:"feature"`
	Tier      plan.Tier    `json:"tier"`
	Limit     int64        `json:"limit"`
	Used      int64        `json:"used"`
	Remaining int64        `json:"remaining"` // -1 when unlimited
	Unlimited bool         `json:"unlimited"`
	IsPremium bool         `json:"isPremium"`
	Reason    Reason       `json:"reason"`
}

// Gate answers "can this user perform action X now". It composes the
// lifecycle manager (lazy expiry reconciliation), the entitlement resolver,
// and the usage tracker. Checking never consumes quota: the caller records
// usage separately after the gated action succeeds.
type Gate struct {
	users     subscription.UserStore
	lifecycle *subscription.Lifecycle
	resolver  *entitlement.Resolver
	tracker   *usage.Tracker
	log       *slog.Logger
	now       func() time.Time
}

// Option configures a Gate.
type Option func(*Gate)

// WithClock overrides the time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(g *Gate) {
		if now != nil {
			g.now = now
		}
	}
}

// NewGate creates an access gate.
// Panics on nil dependencies to fail fast during initialization.
func NewGate(users subscription.UserStore, lifecycle *subscription.Lifecycle, resolver *entitlement.Resolver, tracker *usage.Tracker, log *slog.Logger, opts ...Option) *Gate {
	if users == nil {
		panic("access: UserStore is required")
	}
	if lifecycle == nil {
		panic("access: Lifecycle is required")
	}
	if resolver == nil {
		panic("access: Resolver is required")
	}
	if tracker == nil {
		panic("access: usage Tracker is required")
	}
	if log == nil {
		log = slog.Default()
	}
	g := &Gate{
		users:     users,
		lifecycle: lifecycle,
		resolver:  resolver,
		tracker:   tracker,
		log:       log,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Check loads the user, reconciles a lapsed subscription inline (so the
// decision is correct even when the scheduled sweep has not run yet),
// resolves entitlements, and compares current-month usage against the limit.
//
// The cap is inclusive on prior usage: allowed iff used < limit, with
// limit -1 always allowed. Only infrastructure failures return an error; a
// denial is a normal Decision.
func (g *Gate) Check(ctx context.Context, userID string, feature plan.Feature) (Decision, error) {
	user, err := g.users.Get(ctx, userID)
	if err != nil {
		return Decision{}, fmt.Errorf("access check for user %s: %w", userID, err)
	}

	now := g.now()
	if _, err := g.lifecycle.ReconcileExpiry(ctx, user, now); err != nil {
		return Decision{}, err
	}

	if !g.resolver.KnownTier(user) {
		g.log.WarnContext(ctx, "unknown subscription tier, using free limits",
			logger.UserID(userID))
	}
	ent := g.resolver.Resolve(user)

	decision := Decision{
		Feature:   feature,
		Tier:      ent.Tier,
		IsPremium: ent.IsPremium,
	}

	limit, ok := ent.LimitFor(feature)
	if !ok {
		// Fail closed: a feature the catalog does not know cannot be granted.
		g.log.WarnContext(ctx, "access check for unknown feature",
			logger.UserID(userID),
			logger.Feature(string(feature)))
		decision.Reason = ReasonUnknownFeature
		return decision, nil
	}
	decision.Limit = limit

	if limit == plan.Unlimited {
		decision.Allowed = true
		decision.Unlimited = true
		decision.Remaining = plan.Unlimited
		decision.Reason = ReasonOK
		// Unlimited still reports usage for dashboards.
		if used, err := g.tracker.Current(ctx, userID, feature); err == nil {
			decision.Used = used
		}
		return decision, nil
	}

	used, err := g.tracker.Current(ctx, userID, feature)
	if err != nil {
		return Decision{}, fmt.Errorf("read usage for user %s: %w", userID, err)
	}
	decision.Used = used

	if used < limit {
		decision.Allowed = true
		decision.Remaining = limit - used
		decision.Reason = ReasonOK
	} else {
		decision.Reason = ReasonLimitReached
	}
	return decision, nil
}
