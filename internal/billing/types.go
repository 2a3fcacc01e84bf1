// Package billing implements the Billing/Entitlement Ledger: a windowed
// quota enforcement check consulted on placement, plus a renewal
// scheduler that folds lapsed subscriptions to past_due.
package billing

import "time"

// ResetInterval names the window cadence an entitlement resets on.
const (
	ResetDaily   = "daily"
	ResetWeekly  = "weekly"
	ResetMonthly = "monthly"
)

// Subscription status values.
const (
	StatusTrialing = "trialing"
	StatusActive   = "active"
	StatusPastDue  = "past_due"
	StatusSuspended = "suspended"
)

// Subscription is an org's active plan link.
type Subscription struct {
	ID                 int64
	TenantID           string
	OrgID              string
	PlanID             int64
	PlanCode           string
	Status             string
	CurrentPeriodStart time.Time
	ExpectedPeriodEnd  *time.Time
	PastDueSince       *time.Time
}

// Entitlement is a plan's quota definition for one key.
type Entitlement struct {
	PlanID         int64
	EntitlementKey string
	QuotaLimit     *int64
	ResetInterval  string
}

// LedgerRow is the usage accumulated for one subscription/key/window.
type LedgerRow struct {
	SubscriptionID int64
	EntitlementKey string
	WindowStart    time.Time
	WindowEnd      time.Time
	UsedQuantity   int64
}

// Decision is the result of enforce_quota.
type Decision struct {
	Allowed   bool
	Limit     *int64
	Used      int64
	Remaining *int64
	Notes     []string
}
