package plan

import (
	"errors"
	"fmt"
	"maps"
)

// Catalog is an immutable tier -> limits lookup table built once at process start.
// It is safe for concurrent use because it is never mutated after construction.
type Catalog struct {
	defs map[Tier]Definition
}

// NewCatalog builds a catalog from the given definitions.
// Every known tier must be present, every tier must cover every feature the
// free tier covers, and limits must be monotonically generous
// (free <= pro <= enterprise per feature, with Unlimited greater than any
// finite value). Configuration errors fail construction so a misconfigured
// catalog never reaches request handling.
func NewCatalog(defs ...Definition) (*Catalog, error) {
	byTier := make(map[Tier]Definition, len(defs))
	for _, d := range defs {
		if _, dup := byTier[d.Tier]; dup {
			return nil, errors.Join(ErrInvalidCatalog, fmt.Errorf("duplicate tier %q", d.Tier))
		}
		byTier[d.Tier] = Definition{Tier: d.Tier, Limits: maps.Clone(d.Limits)}
	}

	if err := validate(byTier); err != nil {
		return nil, err
	}

	return &Catalog{defs: byTier}, nil
}

// MustCatalog is like NewCatalog but panics on configuration errors.
// Intended for compiled-in defaults where failure means a programming mistake.
func MustCatalog(defs ...Definition) *Catalog {
	c, err := NewCatalog(defs...)
	if err != nil {
		panic(err)
	}
	return c
}

// LimitsFor returns the definition for the given tier.
// It is total: unrecognized tiers fall back to the free tier so a bad tier
// string degrades access instead of blocking the request entirely.
// The returned limits map is a copy; callers may not mutate catalog state.
func (c *Catalog) LimitsFor(tier Tier) Definition {
	d, ok := c.defs[tier]
	if !ok {
		d = c.defs[TierFree]
	}
	return Definition{Tier: d.Tier, Limits: maps.Clone(d.Limits)}
}

// Known reports whether the tier exists in the catalog.
// Callers use this to log unknown tiers before falling back to free limits.
func (c *Catalog) Known(tier Tier) bool {
	_, ok := c.defs[tier]
	return ok
}

// Features returns the feature keys covered by the free tier, which by
// construction every tier covers.
func (c *Catalog) Features() []Feature {
	free := c.defs[TierFree]
	features := make([]Feature, 0, len(free.Limits))
	for f := range free.Limits {
		features = append(features, f)
	}
	return features
}

func validate(defs map[Tier]Definition) error {
	for _, tier := range Tiers() {
		if _, ok := defs[tier]; !ok {
			return errors.Join(ErrInvalidCatalog, fmt.Errorf("missing tier %q", tier))
		}
	}

	free := defs[TierFree]
	if len(free.Limits) == 0 {
		return errors.Join(ErrInvalidCatalog, errors.New("free tier defines no limits"))
	}

	// Each tier must cover every feature and never be less generous than the
	// tier below it.
	tiers := Tiers()
	for i := 1; i < len(tiers); i++ {
		lower, upper := defs[tiers[i-1]], defs[tiers[i]]
		for feature, lowerLimit := range lower.Limits {
			upperLimit, ok := upper.Limits[feature]
			if !ok {
				return errors.Join(ErrInvalidCatalog,
					fmt.Errorf("tier %q missing limit for feature %q", upper.Tier, feature))
			}
			if lowerLimit == Unlimited && upperLimit != Unlimited {
				return errors.Join(ErrInvalidCatalog,
					fmt.Errorf("tier %q reduces feature %q from unlimited", upper.Tier, feature))
			}
			if lowerLimit != Unlimited && upperLimit != Unlimited && upperLimit < lowerLimit {
				return errors.Join(ErrInvalidCatalog,
					fmt.Errorf("tier %q limit for feature %q is below tier %q", upper.Tier, feature, lower.Tier))
			}
		}
	}

	return nil
}

// Default returns the compiled-in catalog used when no override file is configured.
func Default() *Catalog {
	return MustCatalog(
		Definition{
			Tier: TierFree,
			Limits: map[Feature]int64{
				FeatureCourses:       3,
				FeatureQuizzes:       5,
				FeatureFlashcards:    10,
				FeaturePresentations: 2,
				FeatureReports:       2,
				FeatureAICalls:       20,
			},
		},
		Definition{
			Tier: TierPro,
			Limits: map[Feature]int64{
				FeatureCourses:       50,
				FeatureQuizzes:       100,
				FeatureFlashcards:    200,
				FeaturePresentations: 50,
				FeatureReports:       50,
				FeatureAICalls:       1000,
			},
		},
		Definition{
			Tier: TierEnterprise,
			Limits: map[Feature]int64{
				FeatureCourses:       Unlimited,
				FeatureQuizzes:       Unlimited,
				FeatureFlashcards:    Unlimited,
				FeaturePresentations: Unlimited,
				FeatureReports:       Unlimited,
				FeatureAICalls:       Unlimited,
			},
		},
	)
}
