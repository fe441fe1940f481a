package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCatalogEntry(t *testing.T) {
	t.Run("should expose the free plan quotas", func(t *testing.T) {
		limits := CatalogEntry(PlanFree)

		assert.Equal(t, int64(3), limits.FormsLimit)
		assert.Equal(t, int64(100), limits.SubmissionsLimit)
		assert.Empty(t, limits.Features)
	})

	t.Run("should expose the basic plan quotas and features", func(t *testing.T) {
		limits := CatalogEntry(PlanBasic)

		assert.Equal(t, int64(10), limits.FormsLimit)
		assert.Equal(t, int64(1000), limits.SubmissionsLimit)
		assert.True(t, limits.HasFeature(FeatureCustomBranding))
		assert.True(t, limits.HasFeature(FeatureSubmissionAlerts))
		assert.True(t, limits.HasFeature(FeatureDocumentImport))
		assert.False(t, limits.HasFeature(FeatureAnalytics))
	})

	t.Run("should leave the premium plan unmetered", func(t *testing.T) {
		limits := CatalogEntry(PlanPremium)

		assert.Equal(t, Unlimited, limits.FormsLimit)
		assert.Equal(t, Unlimited, limits.SubmissionsLimit)
		assert.True(t, limits.HasFeature(FeatureAnalytics))
		assert.True(t, limits.HasFeature(FeatureTeamMembers))
	})

	t.Run("should fall back to the free plan for unknown values", func(t *testing.T) {
		limits := CatalogEntry(Plan("enterprise"))

		assert.Equal(t, CatalogEntry(PlanFree), limits)
	})
}

func TestWithinLimit(t *testing.T) {
	t.Run("should allow counts strictly below the limit", func(t *testing.T) {
		assert.True(t, WithinLimit(3, 0))
		assert.True(t, WithinLimit(3, 2))
	})

	t.Run("should deny counts at or above the limit", func(t *testing.T) {
		assert.False(t, WithinLimit(3, 3))
		assert.False(t, WithinLimit(3, 10))
	})

	t.Run("should always allow unlimited quotas", func(t *testing.T) {
		assert.True(t, WithinLimit(Unlimited, 0))
		assert.True(t, WithinLimit(Unlimited, 1_000_000))
	})
}
