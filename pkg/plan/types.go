package plan

// Tier is a named subscription level determining feature limits.
type Tier string

const (
	TierFree       Tier = "free"
	TierPro        Tier = "pro"
	TierEnterprise Tier = "enterprise"
)

// Feature identifies a quota-limited action.
type Feature string

const (
	FeatureCourses       Feature = "courses"
	FeatureQuizzes       Feature = "quizzes"
	FeatureFlashcards    Feature = "flashcards"
	FeaturePresentations Feature = "presentations"
	FeatureReports       Feature = "reports"
	FeatureAICalls       Feature = "ai_calls"
)

const (
	// Unlimited indicates no limit for a feature (-1 chosen for wire compatibility)
	Unlimited int64 = -1
)

// Definition describes one tier and its per-feature monthly limits.
type Definition struct {
	Tier   Tier              `yaml:"tier"`
	Limits map[Feature]int64 `yaml:"limits"` // -1 represents unlimited
}

// Tiers returns the known tiers in ascending order of generosity.
func Tiers() []Tier {
	return []Tier{TierFree, TierPro, TierEnterprise}
}
