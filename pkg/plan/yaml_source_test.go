package plan_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/courseloop/courseloop/pkg/plan"
)

const validCatalogYAML = `
plans:
  - tier: free
    limits:
      courses: 3
      ai_calls: 20
  - tier: pro
    limits:
      courses: 50
      ai_calls: 1000
  - tier: enterprise
    limits:
      courses: -1
      ai_calls: -1
`

func TestLoadYAML(t *testing.T) {
	t.Parallel()

	t.Run("parses a complete catalog", func(t *testing.T) {
		t.Parallel()

		catalog, err := plan.LoadYAML(strings.NewReader(validCatalogYAML))
		require.NoError(t, err)

		pro := catalog.LimitsFor(plan.TierPro)
		assert.Equal(t, int64(1000), pro.Limits[plan.FeatureAICalls])

		enterprise := catalog.LimitsFor(plan.TierEnterprise)
		assert.Equal(t, plan.Unlimited, enterprise.Limits[plan.FeatureCourses])
	})

	t.Run("rejects malformed yaml", func(t *testing.T) {
		t.Parallel()

		_, err := plan.LoadYAML(strings.NewReader("plans: [not valid"))
		require.ErrorIs(t, err, plan.ErrFailedToLoad)
	})

	t.Run("rejects empty document", func(t *testing.T) {
		t.Parallel()

		_, err := plan.LoadYAML(strings.NewReader("plans: []"))
		require.ErrorIs(t, err, plan.ErrFailedToLoad)
	})

	t.Run("partial override fails validation", func(t *testing.T) {
		t.Parallel()

		partial := `
plans:
  - tier: free
    limits:
      courses: 3
`
		_, err := plan.LoadYAML(strings.NewReader(partial))
		require.ErrorIs(t, err, plan.ErrInvalidCatalog)
	})
}

func TestLoadYAMLFile(t *testing.T) {
	t.Parallel()

	t.Run("missing file", func(t *testing.T) {
		t.Parallel()

		_, err := plan.LoadYAMLFile("testdata/does-not-exist.yml")
		require.ErrorIs(t, err, plan.ErrFailedToLoad)
	})
}
