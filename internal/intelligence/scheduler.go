package intelligence

import (
	"context"

	"github.com/robfig/cron/v3"

	"github.com/R3E-Network/runtime-trust-plane/internal/logging"
)

// ServerLister enumerates the servers a sweep should recompute scores for.
type ServerLister interface {
	ActiveServerIDs(ctx context.Context) ([]string, error)
}

// Scheduler runs Engine.Recompute over every active server on a cron
// schedule.
type Scheduler struct {
	engine   *Engine
	servers  ServerLister
	tenantID string
	log      *logging.Logger
	cron     *cron.Cron
	schedule string
}

// NewScheduler builds a Scheduler; schedule defaults to every 5 minutes,
// comfortably inside the 15-minute staleness threshold.
func NewScheduler(engine *Engine, servers ServerLister, tenantID string, log *logging.Logger, schedule string) *Scheduler {
	if schedule == "" {
		schedule = "@every 5m"
	}
	return &Scheduler{engine: engine, servers: servers, tenantID: tenantID, log: log, cron: cron.New(), schedule: schedule}
}

// Start registers the sweep and begins the cron loop.
func (s *Scheduler) Start(ctx context.Context) error {
	_, err := s.cron.AddFunc(s.schedule, func() {
		if err := s.Sweep(ctx); err != nil {
			s.log.Error(ctx, "intelligence sweep failed", err, nil)
		}
	})
	if err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

// Stop halts the cron loop, waiting for any in-flight sweep.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// Sweep recomputes scores for every active server immediately.
func (s *Scheduler) Sweep(ctx context.Context) error {
	serverIDs, err := s.servers.ActiveServerIDs(ctx)
	if err != nil {
		return err
	}
	for _, serverID := range serverIDs {
		if _, err := s.engine.Recompute(ctx, s.tenantID, serverID); err != nil {
			s.log.Error(ctx, "recompute failed for server", err, map[string]interface{}{"server_id": serverID})
		}
	}
	return nil
}
