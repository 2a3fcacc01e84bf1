package billing

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/R3E-Network/runtime-trust-plane/internal/corecontext"
	"github.com/R3E-Network/runtime-trust-plane/internal/logging"
)

// RenewalConfig tunes the grace window and fallback plan for lapsed
// subscriptions.
type RenewalConfig struct {
	Schedule       string
	GraceWindow    time.Duration
	FallbackPlanID *int64
}

// DefaultRenewalConfig matches a daily sweep with a 72h grace window.
func DefaultRenewalConfig() RenewalConfig {
	return RenewalConfig{Schedule: "@daily", GraceWindow: 72 * time.Hour}
}

// RenewalScheduler folds lapsed (trialing|active) subscriptions to
// past_due, then downgrades or suspends after the grace window.
type RenewalScheduler struct {
	store Store
	core  *corecontext.Context
	log   *logging.Logger
	cfg   RenewalConfig
	cron  *cron.Cron
}

// NewRenewalScheduler builds a RenewalScheduler.
func NewRenewalScheduler(store Store, core *corecontext.Context, log *logging.Logger, cfg RenewalConfig) *RenewalScheduler {
	return &RenewalScheduler{store: store, core: core, log: log, cfg: cfg, cron: cron.New()}
}

// Start registers the sweep and begins the cron scheduler loop.
func (r *RenewalScheduler) Start(ctx context.Context) error {
	_, err := r.cron.AddFunc(r.cfg.Schedule, func() {
		if err := r.Sweep(ctx); err != nil {
			r.log.Error(ctx, "billing renewal sweep failed", err, nil)
		}
	})
	if err != nil {
		return err
	}
	r.cron.Start()
	return nil
}

// Stop halts the cron scheduler loop, waiting for any in-flight sweep.
func (r *RenewalScheduler) Stop() {
	<-r.cron.Stop().Done()
}

// Sweep runs one pass of the renewal scheduler immediately.
func (r *RenewalScheduler) Sweep(ctx context.Context) error {
	now := r.core.Now()

	lapsed, err := r.store.LapsedSubscriptions(ctx, now)
	if err != nil {
		return err
	}
	for _, sub := range lapsed {
		if err := r.store.MarkPastDue(ctx, sub.ID, now); err != nil {
			return err
		}
	}

	overdue, err := r.store.PastDueSubscriptionsOlderThan(ctx, now.Add(-r.cfg.GraceWindow))
	if err != nil {
		return err
	}
	for _, sub := range overdue {
		if err := r.store.DowngradeOrSuspend(ctx, sub.ID, r.cfg.FallbackPlanID); err != nil {
			return err
		}
	}
	return nil
}
