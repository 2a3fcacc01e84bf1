package remediation

import (
	"context"
	"errors"
	"time"

	"github.com/R3E-Network/runtime-trust-plane/internal/eventbus"
	"github.com/R3E-Network/runtime-trust-plane/internal/logging"
	"github.com/R3E-Network/runtime-trust-plane/internal/telemetry"
	"github.com/R3E-Network/runtime-trust-plane/internal/trust"
)

const serviceName = "remediation"

// Orchestrator subscribes to post-commit Trust Registry transitions and
// drives the §4.E sequence for every quarantine event.
type Orchestrator struct {
	runs      Store
	trustSvc  *trust.Service
	executors map[string]PlaybookExecutor
	playbooks map[string]Playbook
	log       *logging.Logger
	metrics   *telemetry.Metrics
}

// New builds an Orchestrator. playbooks maps a playbook key to its
// definition; executors maps a Playbook.ExecutorType to the driver that
// runs it.
func New(runs Store, trustSvc *trust.Service, playbooks map[string]Playbook, executors map[string]PlaybookExecutor, log *logging.Logger, metrics *telemetry.Metrics) *Orchestrator {
	return &Orchestrator{runs: runs, trustSvc: trustSvc, executors: executors, playbooks: playbooks, log: log, metrics: metrics}
}

// Subscribe wires this orchestrator's handler to bus on the trust
// transition channel, decoding each TrustEvent notification automatically.
func (o *Orchestrator) Subscribe(bus *eventbus.Bus) error {
	return eventbus.SubscribeJSON(bus, trust.TransitionChannel, o.handleTrustTransition)
}

func (o *Orchestrator) handleTrustTransition(ctx context.Context, notification trust.Notification) error {
	if notification.CurrentLifecycleState != trust.LifecycleQuarantined {
		return nil
	}

	return o.HandleQuarantine(ctx, notification.RuntimeVMInstanceID, "default-quarantine-response")
}

// HandleQuarantine implements §4.E steps 1-3: skip if already remediating,
// otherwise dedupe-insert a run and advance the registry under the same
// expected version. On a version conflict the inserted run is not rolled
// back: it is marked failed (transient) and the conflict is returned.
func (o *Orchestrator) HandleQuarantine(ctx context.Context, vmInstanceID int64, playbookKey string) error {
	entry, err := o.trustSvc.GetState(ctx, vmInstanceID)
	if err != nil {
		return err
	}
	if entry == nil {
		return nil
	}
	if entry.LifecycleState == trust.LifecycleRemediating && entry.RemediationState == "automation-running" {
		return nil
	}

	playbook := o.playbooks[playbookKey]
	run, err := o.runs.EnsureRunningPlaybook(ctx, entry.TenantID, vmInstanceID, playbookKey, playbook.ApprovalRequired, entry.Provenance)
	if errors.Is(err, ErrActiveRunExists) {
		return nil
	}
	if err != nil {
		return err
	}

	expectedVersion := entry.Version
	attempts := entry.RemediationAttempts + 1
	_, _, err = o.trustSvc.UpsertState(ctx, trust.UpsertInput{
		VMInstanceID:        vmInstanceID,
		TenantID:            entry.TenantID,
		AttestationStatus:   entry.AttestationStatus,
		LifecycleState:      trust.LifecycleRemediating,
		RemediationState:    "automation-running",
		RemediationAttempts: attempts,
		FreshnessDeadline:   entry.FreshnessDeadline,
		ProvenanceRef:       entry.ProvenanceRef,
		Provenance:          entry.Provenance,
		TransitionReason:    "remediation_started",
	}, &expectedVersion)
	if err != nil {
		_ = o.runs.MarkRunFailed(ctx, run.ID, "registry version conflict", FailureTransient)
		return err
	}

	o.log.LogRemediationStep(ctx, vmInstanceID, playbookKey, "started", nil)
	go o.drivePlaybook(run, playbook, entry.Provenance)
	return nil
}

// drivePlaybook runs step 4/5 of §4.E asynchronously: execute, then
// mark the run and registry accordingly.
func (o *Orchestrator) drivePlaybook(run Run, playbook Playbook, provenance []byte) {
	ctx := context.Background()
	executor, ok := o.executors[playbook.ExecutorType]
	if !ok {
		executor = NoopExecutor{}
	}

	o.metrics.RecordRemediationRun(serviceName, run.PlaybookKey, "started", 0)

	err := executor.Execute(ctx, run.VMInstanceID, run.PlaybookKey, provenance)
	if err != nil {
		o.completeFailedRun(ctx, run, err)
		return
	}
	o.completeSucceededRun(ctx, run)
}

func (o *Orchestrator) completeSucceededRun(ctx context.Context, run Run) {
	if err := o.runs.MarkRunCompleted(ctx, run.ID); err != nil {
		o.log.Error(ctx, "remediation: failed to mark run completed", err, nil)
		return
	}

	entry, err := o.trustSvc.GetState(ctx, run.VMInstanceID)
	if err != nil || entry == nil {
		return
	}
	expectedVersion := entry.Version
	_, _, _ = o.trustSvc.UpsertState(ctx, trust.UpsertInput{
		VMInstanceID:        run.VMInstanceID,
		TenantID:            entry.TenantID,
		AttestationStatus:   entry.AttestationStatus,
		LifecycleState:      trust.LifecycleRemediating,
		RemediationState:    "automation-complete",
		RemediationAttempts: entry.RemediationAttempts,
		FreshnessDeadline:   entry.FreshnessDeadline,
		ProvenanceRef:       entry.ProvenanceRef,
		Provenance:          entry.Provenance,
		TransitionReason:    "remediation_completed",
	}, &expectedVersion)
	o.log.LogRemediationStep(ctx, run.VMInstanceID, run.PlaybookKey, "completed", nil)
	o.metrics.RecordRemediationRun(serviceName, run.PlaybookKey, "succeeded", time.Since(run.StartedAt))
}

func (o *Orchestrator) completeFailedRun(ctx context.Context, run Run, playbookErr error) {
	classification := classifyFailure(playbookErr)
	if err := o.runs.MarkRunFailed(ctx, run.ID, playbookErr.Error(), classification); err != nil {
		o.log.Error(ctx, "remediation: failed to mark run failed", err, nil)
	}

	entry, err := o.trustSvc.GetState(ctx, run.VMInstanceID)
	if err != nil || entry == nil {
		return
	}
	expectedVersion := entry.Version
	_, _, _ = o.trustSvc.UpsertState(ctx, trust.UpsertInput{
		VMInstanceID:        run.VMInstanceID,
		TenantID:            entry.TenantID,
		AttestationStatus:   entry.AttestationStatus,
		LifecycleState:      trust.LifecycleQuarantined,
		RemediationState:    "automation-failed",
		RemediationAttempts: entry.RemediationAttempts,
		FreshnessDeadline:   entry.FreshnessDeadline,
		ProvenanceRef:       entry.ProvenanceRef,
		Provenance:          entry.Provenance,
		TransitionReason:    "remediation_failed",
	}, &expectedVersion)
	o.log.LogRemediationStep(ctx, run.VMInstanceID, run.PlaybookKey, "failed", playbookErr)
	o.metrics.RecordRemediationRun(serviceName, run.PlaybookKey, "failed", time.Since(run.StartedAt))
}

// classifyFailure defaults unrecognized errors to Transient so Placement
// Gate stays conservative (blocks) rather than silently unblocking.
func classifyFailure(err error) FailureClass {
	if err == nil {
		return FailureCancelled
	}
	if errors.Is(err, context.Canceled) {
		return FailureCancelled
	}
	return FailureTransient
}
