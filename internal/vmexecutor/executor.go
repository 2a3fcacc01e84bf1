// Package vmexecutor orchestrates the launch sequence for a placement
// decision: provision, attest, persist, and act on the trust outcome.
package vmexecutor

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/R3E-Network/runtime-trust-plane/internal/apperrors"
	"github.com/R3E-Network/runtime-trust-plane/internal/attestation"
	"github.com/R3E-Network/runtime-trust-plane/internal/corecontext"
	"github.com/R3E-Network/runtime-trust-plane/internal/logging"
	"github.com/R3E-Network/runtime-trust-plane/internal/provisioner"
	"github.com/R3E-Network/runtime-trust-plane/internal/telemetry"
	"github.com/R3E-Network/runtime-trust-plane/internal/trust"
	"github.com/R3E-Network/runtime-trust-plane/internal/vminstance"
)

// ServerStatus mirrors the server-facing status set by the launch
// sequence in §4.D.
type ServerStatus string

const (
	ServerStatusProvisioning       ServerStatus = "provisioning"
	ServerStatusPendingAttestation ServerStatus = "pending-attestation"
	ServerStatusRunning            ServerStatus = "running"
	ServerStatusBlocked            ServerStatus = "blocked"
	ServerStatusError              ServerStatus = "error"
)

// StatusReporter records the server-facing status a caller (typically the
// Job Dispatcher) exposes for a launch task.
type StatusReporter interface {
	SetServerStatus(ctx context.Context, serverID string, status ServerStatus, lastError string)
}

// NoopStatusReporter discards status updates; useful where a caller does
// not track server status independently of VmInstance rows.
type NoopStatusReporter struct{}

func (NoopStatusReporter) SetServerStatus(context.Context, string, ServerStatus, string) {}

// Launch is the request to provision, attest, and register one VM.
type Launch struct {
	TenantID string
	ServerID string
	Decision provisioner.Decision
	Config   provisioner.Config
}

// Result is what the launch sequence produced.
type Result struct {
	Instance vminstance.Instance
	Outcome  attestation.Outcome
	Status   ServerStatus
}

// serviceName labels every telemetry series this executor emits.
const serviceName = "vmexecutor"

// Executor drives the launch sequence described in §4.D.
type Executor struct {
	core         *corecontext.Context
	metrics      *telemetry.Metrics
	log          *logging.Logger
	provisioners map[string]provisioner.Provisioner
	instances    vminstance.Store
	trustSvc     *trust.Service
	attestation  attestation.Config
	reporter     StatusReporter
}

// New builds an Executor. provisioners maps a Decision.Backend key (e.g.
// "hypervisor-http", "libvirt") to the adapter that serves it.
func New(
	core *corecontext.Context,
	metrics *telemetry.Metrics,
	log *logging.Logger,
	provisioners map[string]provisioner.Provisioner,
	instances vminstance.Store,
	trustSvc *trust.Service,
	attestationCfg attestation.Config,
	reporter StatusReporter,
) *Executor {
	if reporter == nil {
		reporter = NoopStatusReporter{}
	}
	return &Executor{
		core:         core,
		metrics:      metrics,
		log:          log,
		provisioners: provisioners,
		instances:    instances,
		trustSvc:     trustSvc,
		attestation:  attestationCfg,
		reporter:     reporter,
	}
}

// Run executes the 6-step sequence in §4.D for one launch request.
func (e *Executor) Run(ctx context.Context, launch Launch) (Result, error) {
	e.reporter.SetServerStatus(ctx, launch.ServerID, ServerStatusProvisioning, "")
	e.metrics.RecordVMProvisionStart(serviceName, launch.ServerID)

	adapter, ok := e.provisioners[launch.Decision.Backend]
	if !ok {
		return e.fail(ctx, launch, "unknown backend: "+launch.Decision.Backend)
	}

	provisionResult, err := adapter.Provision(ctx, launch.ServerID, launch.Decision, launch.Config)
	if err != nil {
		return e.fail(ctx, launch, err.Error())
	}

	instance, err := e.instances.Create(ctx, vminstance.Instance{
		TenantID:            launch.TenantID,
		ServerID:            launch.ServerID,
		InstanceID:          provisionResult.InstanceID,
		IsolationTier:       provisionResult.IsolationTier,
		AttestationStatus:   string(attestation.StatusUnknown),
		AttestationEvidence: provisionResult.AttestationEvidence,
		PolicyVersion:       0,
		CapabilityNotes:     launch.Decision.Capabilities,
		NetworkTemplate:     launch.Config.NetworkTemplate,
		VolumeTemplate:      launch.Config.VolumeTemplate,
		GPUPolicy:           launch.Config.GPUPolicy,
	})
	if err != nil {
		return e.fail(ctx, launch, err.Error())
	}

	outcome := attestation.Verify(provisionResult.AttestationEvidence, e.attestation, e.core.Now())
	e.log.LogAttestationVerification(ctx, instance.ID, string(outcome.Kind), string(outcome.Status), nil)

	evidenceJSON, _ := json.Marshal(outcome.Evidence)
	if err := e.instances.UpdateAttestation(ctx, instance.ID, string(outcome.Status), evidenceJSON); err != nil {
		return e.fail(ctx, launch, err.Error())
	}

	existing, err := e.trustSvc.GetState(ctx, instance.ID)
	if err != nil {
		return e.fail(ctx, launch, err.Error())
	}

	prevAttempts := 0
	prevLifecycle := trust.LifecycleState("")
	var expectedVersion *int64
	if existing != nil {
		prevAttempts = existing.RemediationAttempts
		prevLifecycle = trust.LifecycleState(existing.LifecycleState)
		v := existing.Version
		expectedVersion = &v
	}

	status := attestationStatusFromOutcome(outcome.Status)
	lifecycle := trust.NextLifecycle(status, prevLifecycle, "")
	attempts := trust.NextRemediationAttempts(status, prevAttempts)

	_, _, err = e.trustSvc.UpsertState(ctx, trust.UpsertInput{
		VMInstanceID:         instance.ID,
		TenantID:             launch.TenantID,
		AttestationStatus:    status,
		LifecycleState:       lifecycle,
		RemediationAttempts:  attempts,
		FreshnessDeadline:    outcome.FreshnessDeadline,
		TransitionReason:     "vm_launch",
		ProvenanceRef:        string(outcome.Kind),
		Provenance:           evidenceJSON,
	}, expectedVersion)
	if err != nil {
		return e.fail(ctx, launch, err.Error())
	}

	return e.act(ctx, launch, adapter, instance, outcome)
}

func (e *Executor) act(ctx context.Context, launch Launch, adapter provisioner.Provisioner, instance vminstance.Instance, outcome attestation.Outcome) (Result, error) {
	switch outcome.Status {
	case attestation.StatusTrusted:
		if err := adapter.Start(ctx, instance.InstanceID); err != nil {
			return e.fail(ctx, launch, err.Error())
		}
		e.reporter.SetServerStatus(ctx, launch.ServerID, ServerStatusRunning, "")
		e.metrics.RecordVMProvisionSuccess(serviceName, launch.ServerID)
		return Result{Instance: instance, Outcome: outcome, Status: ServerStatusRunning}, nil

	case attestation.StatusUnknown:
		e.reporter.SetServerStatus(ctx, launch.ServerID, ServerStatusPendingAttestation, "")
		return Result{Instance: instance, Outcome: outcome, Status: ServerStatusPendingAttestation}, nil

	case attestation.StatusUntrusted:
		if err := adapter.Teardown(ctx, instance.InstanceID); err != nil {
			e.log.Error(ctx, "teardown of untrusted instance failed", err, map[string]interface{}{"instance_id": instance.InstanceID})
		}
		e.reporter.SetServerStatus(ctx, launch.ServerID, ServerStatusBlocked, "")
		e.metrics.RecordVMProvisionFailure(serviceName, launch.ServerID, "untrusted")
		return Result{Instance: instance, Outcome: outcome, Status: ServerStatusBlocked}, apperrors.AttestationRejected(attestationRejectionReason(outcome))

	default:
		return e.fail(ctx, launch, "unrecognized attestation status")
	}
}

func (e *Executor) fail(ctx context.Context, launch Launch, reason string) (Result, error) {
	e.reporter.SetServerStatus(ctx, launch.ServerID, ServerStatusError, reason)
	e.metrics.RecordVMProvisionFailure(serviceName, launch.ServerID, "error")
	e.log.Error(ctx, "vm launch sequence failed", nil, map[string]interface{}{
		"server_id": launch.ServerID,
		"reason":    reason,
	})
	return Result{Status: ServerStatusError}, apperrors.Downstream("vmexecutor.launch", errors.New(reason))
}

func attestationStatusFromOutcome(s attestation.Status) trust.AttestationStatus {
	switch s {
	case attestation.StatusTrusted:
		return trust.StatusTrusted
	case attestation.StatusUntrusted:
		return trust.StatusUntrusted
	default:
		return trust.StatusUnknown
	}
}

// attestationRejectionReason extracts the most specific note recorded by
// the Attestation Verifier for an Untrusted outcome, falling back to a
// generic reason when none were recorded.
func attestationRejectionReason(outcome attestation.Outcome) string {
	if len(outcome.Notes) > 0 {
		return outcome.Notes[len(outcome.Notes)-1]
	}
	return "attestation rejected"
}
