package entitlements

import (
	"strings"

	"github.com/docsignal/DocSignal/app/models"
)

type Plan string

const (
	PlanFree       Plan = "free"
	PlanPremium    Plan = "premium"
	PlanPremiumMax Plan = "premium_max"
)

// Quota is what a plan entitles a user to.
type Quota struct {
	MaxDocuments      int
	MaxStorageBytes   int64
	ConcurrentWatches int
}

var planQuotas = map[Plan]Quota{
	PlanFree:       {MaxDocuments: 25, MaxStorageBytes: 250 << 20, ConcurrentWatches: 2},
	PlanPremium:    {MaxDocuments: 500, MaxStorageBytes: 10 << 30, ConcurrentWatches: 10},
	PlanPremiumMax: {MaxDocuments: 5000, MaxStorageBytes: 100 << 30, ConcurrentWatches: 50},
}

var planRanks = map[Plan]int{
	PlanFree:       0,
	PlanPremium:    1,
	PlanPremiumMax: 2,
}

// KnownPlan reports whether tier names a plan we sell.
func KnownPlan(tier string) bool {
	_, ok := planRanks[Plan(strings.ToLower(strings.TrimSpace(tier)))]
	return ok
}

// Rank orders plans from least to most entitled. Unknown plans rank as free.
func Rank(plan Plan) int {
	return planRanks[plan]
}

// QuotaFor returns the quota attached to a plan.
func QuotaFor(plan Plan) Quota {
	if q, ok := planQuotas[plan]; ok {
		return q
	}
	return planQuotas[PlanFree]
}

// EffectivePlan resolves a subscribed tier and status to the plan the user
// actually gets: only entitling statuses keep a paid tier.
func EffectivePlan(tier, status string) Plan {
	p := Plan(strings.ToLower(strings.TrimSpace(tier)))
	if _, ok := planRanks[p]; !ok {
		p = PlanFree
	}
	if !isEntitlingStatus(status) {
		return PlanFree
	}
	return p
}

func isEntitlingStatus(status string) bool {
	switch status {
	case models.BillingStatusActive, models.BillingStatusPastDue:
		// Past-due keeps entitlements through the dunning window.
		return true
	default:
		return false
	}
}
