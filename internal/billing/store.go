package billing

import (
	"context"
	"database/sql"
	"time"

	"github.com/R3E-Network/runtime-trust-plane/internal/apperrors"
)

// Store is the persistence surface the Ledger consumes.
type Store interface {
	ActiveSubscriptionByOrg(ctx context.Context, orgID string) (*Subscription, error)
	EntitlementForPlan(ctx context.Context, planID int64, key string) (*Entitlement, error)
	UsageInWindow(ctx context.Context, subscriptionID int64, key string, windowStart, windowEnd time.Time) (int64, error)
	AddUsage(ctx context.Context, subscriptionID int64, key string, windowStart, windowEnd time.Time, quantity int64) error
	LapsedSubscriptions(ctx context.Context, now time.Time) ([]Subscription, error)
	PastDueSubscriptionsOlderThan(ctx context.Context, cutoff time.Time) ([]Subscription, error)
	MarkPastDue(ctx context.Context, subscriptionID int64, since time.Time) error
	DowngradeOrSuspend(ctx context.Context, subscriptionID int64, fallbackPlanID *int64) error
}

// PostgresStore is the Store backed by app_billing_*.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore builds a PostgresStore.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) ActiveSubscriptionByOrg(ctx context.Context, orgID string) (*Subscription, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT sub.id, sub.tenant_id, sub.org_id, sub.plan_id, plan.plan_code, sub.status,
		       sub.current_period_start, sub.expected_period_end, sub.past_due_since
		FROM app_billing_subscriptions sub
		JOIN app_billing_plans plan ON plan.id = sub.plan_id
		WHERE sub.org_id=$1 AND sub.status IN ('trialing','active','past_due')
		ORDER BY sub.created_at DESC LIMIT 1`, orgID)

	var sub Subscription
	var expectedEnd, pastDueSince sql.NullTime
	err := row.Scan(&sub.ID, &sub.TenantID, &sub.OrgID, &sub.PlanID, &sub.PlanCode, &sub.Status,
		&sub.CurrentPeriodStart, &expectedEnd, &pastDueSince)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Downstream("billing.active_subscription_by_org", err)
	}
	if expectedEnd.Valid {
		t := expectedEnd.Time
		sub.ExpectedPeriodEnd = &t
	}
	if pastDueSince.Valid {
		t := pastDueSince.Time
		sub.PastDueSince = &t
	}
	return &sub, nil
}

func (s *PostgresStore) EntitlementForPlan(ctx context.Context, planID int64, key string) (*Entitlement, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT plan_id, entitlement_key, quota_limit, reset_interval
		FROM app_billing_entitlements WHERE plan_id=$1 AND entitlement_key=$2`, planID, key)

	var e Entitlement
	var limit sql.NullInt64
	err := row.Scan(&e.PlanID, &e.EntitlementKey, &limit, &e.ResetInterval)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Downstream("billing.entitlement_for_plan", err)
	}
	if limit.Valid {
		v := limit.Int64
		e.QuotaLimit = &v
	}
	return &e, nil
}

func (s *PostgresStore) UsageInWindow(ctx context.Context, subscriptionID int64, key string, windowStart, windowEnd time.Time) (int64, error) {
	var used int64
	err := s.db.QueryRowContext(ctx, `
		SELECT used_quantity FROM app_billing_usage_ledger
		WHERE subscription_id=$1 AND entitlement_key=$2 AND window_start=$3 AND window_end=$4`,
		subscriptionID, key, windowStart, windowEnd).Scan(&used)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, apperrors.Downstream("billing.usage_in_window", err)
	}
	return used, nil
}

func (s *PostgresStore) AddUsage(ctx context.Context, subscriptionID int64, key string, windowStart, windowEnd time.Time, quantity int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_billing_usage_ledger (subscription_id, entitlement_key, window_start, window_end, used_quantity)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (subscription_id, entitlement_key, window_start, window_end)
		DO UPDATE SET used_quantity = app_billing_usage_ledger.used_quantity + EXCLUDED.used_quantity,
		              updated_at = now()`,
		subscriptionID, key, windowStart, windowEnd, quantity)
	if err != nil {
		return apperrors.Downstream("billing.add_usage", err)
	}
	return nil
}

func (s *PostgresStore) LapsedSubscriptions(ctx context.Context, now time.Time) ([]Subscription, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT sub.id, sub.tenant_id, sub.org_id, sub.plan_id, plan.plan_code, sub.status,
		       sub.current_period_start, sub.expected_period_end, sub.past_due_since
		FROM app_billing_subscriptions sub
		JOIN app_billing_plans plan ON plan.id = sub.plan_id
		WHERE sub.status IN ('trialing','active') AND sub.expected_period_end < $1`, now)
	if err != nil {
		return nil, apperrors.Downstream("billing.lapsed_subscriptions", err)
	}
	defer rows.Close()

	var subs []Subscription
	for rows.Next() {
		var sub Subscription
		var expectedEnd, pastDueSince sql.NullTime
		if err := rows.Scan(&sub.ID, &sub.TenantID, &sub.OrgID, &sub.PlanID, &sub.PlanCode, &sub.Status,
			&sub.CurrentPeriodStart, &expectedEnd, &pastDueSince); err != nil {
			return nil, apperrors.Downstream("billing.lapsed_subscriptions.scan", err)
		}
		if expectedEnd.Valid {
			t := expectedEnd.Time
			sub.ExpectedPeriodEnd = &t
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

func (s *PostgresStore) PastDueSubscriptionsOlderThan(ctx context.Context, cutoff time.Time) ([]Subscription, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT sub.id, sub.tenant_id, sub.org_id, sub.plan_id, plan.plan_code, sub.status,
		       sub.current_period_start, sub.expected_period_end, sub.past_due_since
		FROM app_billing_subscriptions sub
		JOIN app_billing_plans plan ON plan.id = sub.plan_id
		WHERE sub.status='past_due' AND sub.past_due_since < $1`, cutoff)
	if err != nil {
		return nil, apperrors.Downstream("billing.past_due_subscriptions_older_than", err)
	}
	defer rows.Close()

	var subs []Subscription
	for rows.Next() {
		var sub Subscription
		var expectedEnd, pastDueSince sql.NullTime
		if err := rows.Scan(&sub.ID, &sub.TenantID, &sub.OrgID, &sub.PlanID, &sub.PlanCode, &sub.Status,
			&sub.CurrentPeriodStart, &expectedEnd, &pastDueSince); err != nil {
			return nil, apperrors.Downstream("billing.past_due_subscriptions_older_than.scan", err)
		}
		if expectedEnd.Valid {
			t := expectedEnd.Time
			sub.ExpectedPeriodEnd = &t
		}
		if pastDueSince.Valid {
			t := pastDueSince.Time
			sub.PastDueSince = &t
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

func (s *PostgresStore) MarkPastDue(ctx context.Context, subscriptionID int64, since time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE app_billing_subscriptions SET status='past_due', past_due_since=$2, updated_at=now() WHERE id=$1`,
		subscriptionID, since)
	if err != nil {
		return apperrors.Downstream("billing.mark_past_due", err)
	}
	return nil
}

func (s *PostgresStore) DowngradeOrSuspend(ctx context.Context, subscriptionID int64, fallbackPlanID *int64) error {
	if fallbackPlanID != nil {
		_, err := s.db.ExecContext(ctx, `
			UPDATE app_billing_subscriptions SET plan_id=$2, status='active', past_due_since=NULL, updated_at=now() WHERE id=$1`,
			subscriptionID, *fallbackPlanID)
		if err != nil {
			return apperrors.Downstream("billing.downgrade", err)
		}
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE app_billing_subscriptions SET status='suspended', updated_at=now() WHERE id=$1`, subscriptionID)
	if err != nil {
		return apperrors.Downstream("billing.suspend", err)
	}
	return nil
}
