package entitlements

import "github.com/leaflabhq/leaflab-backend/pkg/enums"

// Plan prices in cents as configured in the Stripe dashboard. Anything not
// matching a known price grants the free tier rather than failing the event.
const (
	basicPriceCents = 1500
	proPriceCents   = 3500
)

const (
	freeQuota  = 1
	basicQuota = 100
	proQuota   = 500
)

// InferPlan derives the plan and monthly generation quota from a
// subscription's status and price. Only active and trialing subscriptions
// grant a paid tier; every other status falls back to free regardless of the
// price on the subscription.
func InferPlan(status enums.SubscriptionStatus, amountCents int64) (enums.Plan, int) {
	if status != enums.SubscriptionStatusActive && status != enums.SubscriptionStatusTrialing {
		return enums.PlanFree, freeQuota
	}
	switch amountCents {
	case basicPriceCents:
		return enums.PlanBasic, basicQuota
	case proPriceCents:
		return enums.PlanPro, proQuota
	default:
		return enums.PlanFree, freeQuota
	}
}
