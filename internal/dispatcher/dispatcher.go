package dispatcher

import (
	"context"
	"encoding/json"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/R3E-Network/runtime-trust-plane/internal/logging"
	"github.com/R3E-Network/runtime-trust-plane/internal/redaction"
)

// Dispatcher drains the durable queue with a bounded worker pool,
// fanning each claimed job out to its registered Handler.
type Dispatcher struct {
	store        Store
	log          *logging.Logger
	handlers     map[JobType]Handler
	concurrency  int64
	pollInterval time.Duration
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithConcurrency bounds the number of jobs processed at once.
func WithConcurrency(n int64) Option {
	return func(d *Dispatcher) { d.concurrency = n }
}

// WithPollInterval sets the idle backoff between empty ClaimNext calls.
func WithPollInterval(interval time.Duration) Option {
	return func(d *Dispatcher) { d.pollInterval = interval }
}

// New builds a Dispatcher with the given job-type handlers.
func New(store Store, log *logging.Logger, handlers map[JobType]Handler, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		store:        store,
		log:          log,
		handlers:     handlers,
		concurrency:  8,
		pollInterval: 500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// ReplayStartup folds any rows left processing by a prior crash back to
// queued so they are redispatched on the next Run loop.
func (d *Dispatcher) ReplayStartup(ctx context.Context) error {
	replayed, err := d.store.ReplayStuckProcessing(ctx)
	if err != nil {
		return err
	}
	if len(replayed) > 0 {
		d.log.Info(ctx, "replayed stuck jobs on startup", map[string]interface{}{"count": len(replayed)})
	}
	return nil
}

// Run drains the queue until ctx is cancelled, fanning work out across a
// bounded worker pool via an errgroup + weighted semaphore.
func (d *Dispatcher) Run(ctx context.Context) error {
	group, groupCtx := errgroup.WithContext(ctx)
	sem := semaphore.NewWeighted(d.concurrency)

	for {
		select {
		case <-groupCtx.Done():
			return group.Wait()
		default:
		}

		job, err := d.store.ClaimNext(groupCtx)
		if err != nil {
			return err
		}
		if job == nil {
			select {
			case <-time.After(d.pollInterval):
				continue
			case <-groupCtx.Done():
				return group.Wait()
			}
		}

		if err := sem.Acquire(groupCtx, 1); err != nil {
			return group.Wait()
		}
		claimed := *job
		group.Go(func() error {
			defer sem.Release(1)
			d.process(groupCtx, claimed)
			return nil
		})
	}
}

func (d *Dispatcher) process(ctx context.Context, job Job) {
	handler, ok := d.handlers[job.JobType]
	if !ok {
		d.failJob(ctx, job, "no handler registered for job type")
		return
	}

	if err := handler(ctx, job); err != nil {
		d.failJob(ctx, job, err.Error())
		return
	}

	if err := d.store.MarkCompleted(ctx, job.ID); err != nil {
		d.log.Error(ctx, "mark job completed failed", err, map[string]interface{}{"job_id": job.ID})
	}
}

func (d *Dispatcher) failJob(ctx context.Context, job Job, reason string) {
	if err := d.store.MarkFailed(ctx, job.ID, reason); err != nil {
		d.log.Error(ctx, "mark job failed failed", err, map[string]interface{}{"job_id": job.ID})
		return
	}
	d.log.Error(ctx, "job execution failed", nil, map[string]interface{}{
		"job_id":   job.ID,
		"job_type": string(job.JobType),
		"reason":   reason,
		"payload":  redactedPayload(job.Payload),
	})
}

// redactedPayload renders a job's raw payload as a loggable map with any
// secret-bearing fields (key material from a rotate-and-rekey remediation
// payload, hypervisor credentials) scrubbed before it reaches the log sink.
func redactedPayload(raw json.RawMessage) map[string]interface{} {
	if len(raw) == 0 {
		return nil
	}
	var fields map[string]interface{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return map[string]interface{}{"raw": redaction.RedactAll(string(raw))}
	}
	return redaction.RedactMap(fields)
}
