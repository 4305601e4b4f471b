package entitlements

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/docsignal/DocSignal/app/models"
)

func TestEffectivePlan(t *testing.T) {
	tests := []struct {
		tier   string
		status string
		want   Plan
	}{
		{"premium", models.BillingStatusActive, PlanPremium},
		{"premium_max", models.BillingStatusActive, PlanPremiumMax},
		{"Premium ", models.BillingStatusActive, PlanPremium},
		{"premium", models.BillingStatusPastDue, PlanPremium}, // dunning window
		{"premium", models.BillingStatusCanceled, PlanFree},
		{"premium", models.BillingStatusIncomplete, PlanFree},
		{"gold", models.BillingStatusActive, PlanFree}, // unknown tier
		{"", models.BillingStatusActive, PlanFree},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, EffectivePlan(tt.tier, tt.status), "EffectivePlan(%q, %q)", tt.tier, tt.status)
	}
}

func TestPlanRankOrdering(t *testing.T) {
	assert.Less(t, Rank(PlanFree), Rank(PlanPremium))
	assert.Less(t, Rank(PlanPremium), Rank(PlanPremiumMax))
	assert.Equal(t, Rank(PlanFree), Rank(Plan("made_up")))
}

func TestQuotaForUnknownPlanFallsBackToFree(t *testing.T) {
	assert.Equal(t, QuotaFor(PlanFree), QuotaFor(Plan("made_up")))
	assert.Greater(t, QuotaFor(PlanPremium).MaxDocuments, QuotaFor(PlanFree).MaxDocuments)
	assert.Greater(t, QuotaFor(PlanPremiumMax).MaxStorageBytes, QuotaFor(PlanPremium).MaxStorageBytes)
}

func TestKnownPlan(t *testing.T) {
	assert.True(t, KnownPlan("premium"))
	assert.True(t, KnownPlan(" PREMIUM_MAX "))
	assert.False(t, KnownPlan("enterprise"))
	assert.False(t, KnownPlan(""))
}
