package entitlement

import (
	"maps"

	"github.com/courseloop/courseloop/pkg/plan"
	"github.com/courseloop/courseloop/pkg/subscription"
)

// Entitlements is the resolved set of limits and flags applicable to a user
// at a point in time.
type Entitlements struct {
	Tier      plan.Tier
	Limits    map[plan.Feature]int64
	IsPremium bool
}

// LimitFor returns the user's limit for a feature and whether the feature is
// known to the plan catalog.
func (e Entitlements) LimitFor(feature plan.Feature) (int64, bool) {
	limit, ok := e.Limits[feature]
	return limit, ok
}

// Resolver computes effective entitlements from a user record and the plan
// catalog. It is side-effect free and safe to call repeatedly.
type Resolver struct {
	catalog *plan.Catalog
}

// NewResolver creates a resolver over the given catalog.
// Panics on a nil catalog to fail fast during initialization.
func NewResolver(catalog *plan.Catalog) *Resolver {
	if catalog == nil {
		panic("entitlement: plan catalog is required")
	}
	return &Resolver{catalog: catalog}
}

// Resolve derives the user's effective tier and limits.
//
// Tier precedence: subscription.tier, then the legacy subscription.plan
// alias, then the legacy top-level isPremium flag (which maps to pro), then
// free. IsPremium is true iff the effective tier is paid AND the
// subscription status is active.
//
// Resolve reflects the user record as stored. It deliberately does not check
// expiry: the access gate reconciles a lapsed subscription through the
// lifecycle manager before resolving, so a record reaching this point is
// assumed current. Calling Resolve on an unreconciled record yields
// potentially stale entitlements.
func (r *Resolver) Resolve(u *subscription.User) Entitlements {
	tier := effectiveTier(u)
	def := r.catalog.LimitsFor(tier)

	premium := false
	if u != nil && (tier == plan.TierPro || tier == plan.TierEnterprise) {
		premium = u.Subscription.IsActive()
	}

	return Entitlements{
		Tier:      def.Tier,
		Limits:    maps.Clone(def.Limits),
		IsPremium: premium,
	}
}

// KnownTier reports whether the user's stored tier string is recognized by
// the catalog. Unknown tiers resolve to free limits; callers log them.
func (r *Resolver) KnownTier(u *subscription.User) bool {
	return r.catalog.Known(effectiveTier(u))
}

func effectiveTier(u *subscription.User) plan.Tier {
	if u == nil {
		return plan.TierFree
	}
	if sub := u.Subscription; sub != nil {
		if sub.Tier != "" {
			return sub.Tier
		}
		if sub.Plan != "" {
			return sub.Plan
		}
	}
	if u.IsPremium {
		return plan.TierPro
	}
	return plan.TierFree
}
