// Package placement implements the Placement Gate: a synchronous,
// read-only lookup answering "can this server accept a new job" by
// joining the latest VmInstance with its Trust Registry entry and active
// remediation state.
package placement

import (
	"context"
	"time"

	"github.com/R3E-Network/runtime-trust-plane/internal/remediation"
	"github.com/R3E-Network/runtime-trust-plane/internal/trust"
	"github.com/R3E-Network/runtime-trust-plane/internal/vminstance"
)

// Decision is the gate's answer for one server_id.
type Decision struct {
	AttestationStatus   trust.AttestationStatus
	LifecycleState      trust.LifecycleState
	RemediationState    string
	RemediationAttempts int
	FreshnessDeadline   *time.Time
	ProvenanceRef       string
	Blocked             bool
	Stale               bool
	Notes               []string
}

// BlockedStatus implements blocked_status(): the server-facing status a
// caller should surface while this decision blocks placement.
func (d Decision) BlockedStatus() string {
	if d.Stale {
		return "pending-attestation"
	}
	return "pending-remediation"
}

// Gate evaluates placement decisions.
type Gate struct {
	instances vminstance.Store
	trustSvc  *trust.Service
	runs      remediation.Store
}

// New builds a Gate.
func New(instances vminstance.Store, trustSvc *trust.Service, runs remediation.Store) *Gate {
	return &Gate{instances: instances, trustSvc: trustSvc, runs: runs}
}

// Evaluate implements §4.F for serverID.
func (g *Gate) Evaluate(ctx context.Context, serverID string, now time.Time) (Decision, error) {
	instance, err := g.instances.LatestNonTerminatedByServer(ctx, serverID)
	if err != nil {
		return Decision{}, err
	}
	if instance == nil {
		return Decision{Blocked: false, Notes: []string{"trust:no-instance"}}, nil
	}

	entry, err := g.trustSvc.GetState(ctx, instance.ID)
	if err != nil {
		return Decision{}, err
	}
	if entry == nil {
		return Decision{Blocked: false, Notes: []string{"trust:no-registry-entry"}}, nil
	}

	stale := entry.FreshnessDeadline != nil && !entry.FreshnessDeadline.After(now)

	var notes []string
	blocked := false

	if entry.LifecycleState == trust.LifecycleQuarantined || entry.LifecycleState == trust.LifecycleRemediating {
		blocked = true
		notes = append(notes, "trust:lifecycle-"+string(entry.LifecycleState))
	}
	if stale {
		blocked = true
		notes = append(notes, "trust:stale")
	}

	activeRun, err := g.runs.ActiveRun(ctx, instance.ID)
	if err != nil {
		return Decision{}, err
	}
	if activeRun != nil {
		blocked = true
		notes = append(notes, "remediation:active-run")
		if activeRun.ApprovalRequired && activeRun.ApprovalState == "pending" {
			blocked = true
			notes = append(notes, "remediation:awaiting-approval")
		}
	}

	latestRun, err := g.runs.LatestRun(ctx, instance.ID)
	if err != nil {
		return Decision{}, err
	}
	if latestRun != nil && (latestRun.FailureClassification == remediation.FailureStructural || latestRun.FailureClassification == remediation.FailureTransient) {
		blocked = true
		notes = append(notes, "remediation:failure-"+string(latestRun.FailureClassification))
	}

	return Decision{
		AttestationStatus:   entry.AttestationStatus,
		LifecycleState:      entry.LifecycleState,
		RemediationState:    entry.RemediationState,
		RemediationAttempts: entry.RemediationAttempts,
		FreshnessDeadline:   entry.FreshnessDeadline,
		ProvenanceRef:       entry.ProvenanceRef,
		Blocked:             blocked,
		Stale:               stale,
		Notes:               notes,
	}, nil
}
