package plans_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/priceradar/billingkit/pkg/plans"
)

func testPlans() []plans.Plan {
	return []plans.Plan{
		{ProductID: "PID_STARTER", Tier: plans.TierStarter, Name: "Starter", DurationMonths: 1, PriceAmount: 2900, PriceCurrency: "USD"},
		{ProductID: "PID_PRO", Tier: plans.TierPro, Name: "Pro", DurationMonths: 1, PriceAmount: 6700, PriceCurrency: "USD"},
		{ProductID: "PID_BUSINESS_YEAR", Tier: plans.TierBusiness, Name: "Business Annual", DurationMonths: 12, PriceAmount: 99900, PriceCurrency: "USD"},
	}
}

func TestCatalogResolve(t *testing.T) {
	t.Parallel()

	catalog, err := plans.NewCatalog(context.Background(), plans.NewStaticSource(testPlans()...))
	require.NoError(t, err)
	require.Equal(t, 3, catalog.Len())

	t.Run("resolves every configured product", func(t *testing.T) {
		t.Parallel()

		for _, want := range testPlans() {
			got, err := catalog.Resolve(want.ProductID)
			require.NoError(t, err)
			assert.Equal(t, want.Tier, got.Tier)
			assert.Equal(t, want.DurationMonths, got.DurationMonths)
		}
	})

	t.Run("unknown product id is a hard error", func(t *testing.T) {
		t.Parallel()

		_, err := catalog.Resolve("PID_NOPE")
		assert.ErrorIs(t, err, plans.ErrUnknownProduct)
	})
}

func TestNewCatalogValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		plan plans.Plan
	}{
		{"unknown tier", plans.Plan{ProductID: "P1", Tier: "platinum", DurationMonths: 1}},
		{"zero duration", plans.Plan{ProductID: "P2", Tier: plans.TierPro, DurationMonths: 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := plans.NewCatalog(context.Background(), plans.NewStaticSource(tt.plan))
			assert.ErrorIs(t, err, plans.ErrInvalidPlan)
		})
	}
}

func TestTierValid(t *testing.T) {
	t.Parallel()

	assert.True(t, plans.TierFree.Valid())
	assert.True(t, plans.TierPro.Valid())
	assert.False(t, plans.Tier("platinum").Valid())
}
