// Package corecontext bundles the process-wide resources every component
// needs — database pool, event bus, logger, metrics, clock — replacing the
// global-singleton pattern with an explicit lifecycle-managed handle created
// at startup and torn down on shutdown.
package corecontext

import (
	"context"
	"database/sql"
	"time"

	"github.com/R3E-Network/runtime-trust-plane/internal/config"
	"github.com/R3E-Network/runtime-trust-plane/internal/eventbus"
	"github.com/R3E-Network/runtime-trust-plane/internal/logging"
	"github.com/R3E-Network/runtime-trust-plane/internal/telemetry"
)

// Clock abstracts time.Now so tests can inject a fixed or stepped clock.
type Clock interface {
	Now() time.Time
}

// SystemClock is the production Clock backed by time.Now.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// Context bundles the shared resources passed through every operation in
// this module, per the CoreContext redesign note.
type Context struct {
	DB      *sql.DB
	Bus     *eventbus.Bus
	Log     *logging.Logger
	Metrics *telemetry.Metrics
	Clock   Clock
	Config  *config.Config
}

// New wires a Context from already-constructed resources. Startup code in
// cmd/controlplane is responsible for opening the DB and event bus and
// calling Close on shutdown.
func New(db *sql.DB, bus *eventbus.Bus, log *logging.Logger, metrics *telemetry.Metrics, cfg *config.Config) *Context {
	return &Context{DB: db, Bus: bus, Log: log, Metrics: metrics, Clock: SystemClock{}, Config: cfg}
}

// Close releases the bundled resources in dependency order: event bus
// before the database, since the bus holds its own listener connection.
func (c *Context) Close() error {
	var firstErr error
	if c.Bus != nil {
		if err := c.Bus.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if c.DB != nil {
		if err := c.DB.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Now returns the current time from the bundled clock, or the wall clock if
// none was configured.
func (c *Context) Now() time.Time {
	if c.Clock == nil {
		return time.Now().UTC()
	}
	return c.Clock.Now()
}

// WithTimeout derives a context bounded by d, unless the caller's context
// already carries a deadline, in which case that deadline is kept as is.
func WithTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
