package billing

import (
	"context"
	"fmt"

	"github.com/R3E-Network/runtime-trust-plane/internal/apperrors"
	"github.com/R3E-Network/runtime-trust-plane/internal/corecontext"
)

// Ledger implements enforce_quota.
type Ledger struct {
	store Store
	core  *corecontext.Context
}

// New builds a Ledger.
func New(store Store, core *corecontext.Context) *Ledger {
	return &Ledger{store: store, core: core}
}

// EnforceQuota implements §4.H's 8-step algorithm.
func (l *Ledger) EnforceQuota(ctx context.Context, orgID, entitlementKey string, requestedQuantity int64, recordUsage bool) (Decision, error) {
	if requestedQuantity < 0 {
		return Decision{}, apperrors.BadRequest("requested_quantity must be non-negative")
	}

	sub, err := l.store.ActiveSubscriptionByOrg(ctx, orgID)
	if err != nil {
		return Decision{}, err
	}
	if sub == nil {
		zero := int64(0)
		return Decision{Allowed: false, Limit: &zero, Used: 0, Notes: []string{"billing:subscription-missing"}}, nil
	}

	entitlement, err := l.store.EntitlementForPlan(ctx, sub.PlanID, entitlementKey)
	if err != nil {
		return Decision{}, err
	}
	if entitlement == nil {
		return Decision{Allowed: true, Notes: []string{"billing:entitlement-unlimited"}}, nil
	}
	if entitlement.QuotaLimit == nil {
		return Decision{Allowed: true, Notes: []string{"billing:entitlement-unlimited"}}, nil
	}
	limit := *entitlement.QuotaLimit

	now := l.core.Now()
	windowStart, windowEnd := windowFor(entitlement.ResetInterval, now)

	used, err := l.store.UsageInWindow(ctx, sub.ID, entitlementKey, windowStart, windowEnd)
	if err != nil {
		return Decision{}, err
	}

	var decision Decision
	if used+requestedQuantity > limit {
		remaining := limit - used
		if remaining < 0 {
			remaining = 0
		}
		decision = Decision{
			Allowed:   false,
			Limit:     &limit,
			Used:      used,
			Remaining: &remaining,
			Notes:     []string{fmt.Sprintf("billing:quota-exceeded:%s", entitlementKey)},
		}
	} else {
		remaining := limit - (used + requestedQuantity)
		decision = Decision{
			Allowed:   true,
			Limit:     &limit,
			Used:      used,
			Remaining: &remaining,
			Notes:     []string{fmt.Sprintf("billing:quota:%s:%d/%d", entitlementKey, used+requestedQuantity, limit)},
		}
	}

	if decision.Allowed && recordUsage && requestedQuantity > 0 {
		if err := l.store.AddUsage(ctx, sub.ID, entitlementKey, windowStart, windowEnd, requestedQuantity); err != nil {
			return Decision{}, err
		}
	}

	return decision, nil
}
