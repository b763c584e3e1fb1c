package entitlement_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/courseloop/courseloop/pkg/entitlement"
	"github.com/courseloop/courseloop/pkg/plan"
	"github.com/courseloop/courseloop/pkg/subscription"
)

func TestResolverResolve(t *testing.T) {
	t.Parallel()

	resolver := entitlement.NewResolver(plan.Default())

	tests := []struct {
		name        string
		user        *subscription.User
		wantTier    plan.Tier
		wantPremium bool
	}{
		{
			name:        "nil user resolves to free",
			user:        nil,
			wantTier:    plan.TierFree,
			wantPremium: false,
		},
		{
			name:        "no subscription resolves to free",
			user:        &subscription.User{ID: "u1"},
			wantTier:    plan.TierFree,
			wantPremium: false,
		},
		{
			name: "tier field wins over legacy plan alias",
			user: &subscription.User{
				ID: "u1",
				Subscription: &subscription.Subscription{
					Tier:   plan.TierEnterprise,
					Plan:   plan.TierPro,
					Status: subscription.StatusActive,
				},
			},
			wantTier:    plan.TierEnterprise,
			wantPremium: true,
		},
		{
			name: "legacy plan alias used when tier empty",
			user: &subscription.User{
				ID: "u1",
				Subscription: &subscription.Subscription{
					Plan:   plan.TierPro,
					Status: subscription.StatusActive,
				},
			},
			wantTier:    plan.TierPro,
			wantPremium: true,
		},
		{
			name:        "legacy isPremium flag maps to pro",
			user:        &subscription.User{ID: "u1", IsPremium: true},
			wantTier:    plan.TierPro,
			wantPremium: false, // no active subscription record
		},
		{
			name: "subscription beats legacy flag",
			user: &subscription.User{
				ID:        "u1",
				IsPremium: true,
				Subscription: &subscription.Subscription{
					Tier:   plan.TierFree,
					Status: subscription.StatusExpired,
				},
			},
			wantTier:    plan.TierFree,
			wantPremium: false,
		},
		{
			name: "paid tier without active status is not premium",
			user: &subscription.User{
				ID: "u1",
				Subscription: &subscription.Subscription{
					Tier:   plan.TierPro,
					Status: subscription.StatusExpired,
				},
			},
			wantTier:    plan.TierPro,
			wantPremium: false,
		},
		{
			name: "cancelled paid tier is not premium",
			user: &subscription.User{
				ID: "u1",
				Subscription: &subscription.Subscription{
					Tier:   plan.TierPro,
					Status: subscription.StatusCancelled,
				},
			},
			wantTier:    plan.TierPro,
			wantPremium: false,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := resolver.Resolve(tt.user)

			assert.Equal(t, tt.wantTier, got.Tier)
			assert.Equal(t, tt.wantPremium, got.IsPremium)
		})
	}
}

func TestResolveUnknownTierFallsBackToFree(t *testing.T) {
	t.Parallel()

	resolver := entitlement.NewResolver(plan.Default())
	user := &subscription.User{
		ID: "u1",
		Subscription: &subscription.Subscription{
			Tier:   plan.Tier("platinum"),
			Status: subscription.StatusActive,
		},
	}

	assert.False(t, resolver.KnownTier(user))

	got := resolver.Resolve(user)
	assert.Equal(t, plan.TierFree, got.Tier)

	free := plan.Default().LimitsFor(plan.TierFree)
	assert.Equal(t, free.Limits, got.Limits)
}

func TestEntitlementsLimitFor(t *testing.T) {
	t.Parallel()

	resolver := entitlement.NewResolver(plan.Default())
	got := resolver.Resolve(&subscription.User{
		ID: "u1",
		Subscription: &subscription.Subscription{
			Tier:   plan.TierPro,
			Status: subscription.StatusActive,
		},
	})

	limit, ok := got.LimitFor(plan.FeatureAICalls)
	assert.True(t, ok)
	assert.Equal(t, int64(1000), limit)

	_, ok = got.LimitFor(plan.Feature("teleportation"))
	assert.False(t, ok)
}

func TestResolveReturnsClonedLimits(t *testing.T) {
	t.Parallel()

	resolver := entitlement.NewResolver(plan.Default())
	user := &subscription.User{ID: "u1"}

	first := resolver.Resolve(user)
	first.Limits[plan.FeatureCourses] = 999

	second := resolver.Resolve(user)
	assert.Equal(t, int64(3), second.Limits[plan.FeatureCourses])
}

func TestNewResolverPanicsOnNilCatalog(t *testing.T) {
	t.Parallel()

	assert.Panics(t, func() {
		entitlement.NewResolver(nil)
	})
}
