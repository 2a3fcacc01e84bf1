// Package remediation implements the Remediation Orchestrator: reacts to
// quarantine transitions by driving an at-most-one-active playbook run per
// instance through its executor.
package remediation

import (
	"context"
	"time"
)

// RunStatus is the lifecycle of a remediation run.
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// FailureClass drives Placement Gate blocking decisions.
type FailureClass string

const (
	FailureStructural FailureClass = "structural"
	FailureTransient  FailureClass = "transient"
	FailureCancelled  FailureClass = "cancelled"
)

// Run is a RemediationRun row.
type Run struct {
	ID                    int64
	TenantID              string
	VMInstanceID          int64
	PlaybookKey           string
	Status                RunStatus
	ApprovalRequired      bool
	ApprovalState         string
	FailureReason         string
	FailureClassification FailureClass
	Version               int64
	StartedAt             time.Time
	CompletedAt           *time.Time
	CancelledAt           *time.Time
}

// Playbook identifies what an executor runs to remediate an instance.
type Playbook struct {
	Key              string
	ExecutorType     string
	ApprovalRequired bool
}

// PlaybookExecutor drives a playbook against an instance; implementations
// include shell-backed automation and a no-op for testing/dry-run.
type PlaybookExecutor interface {
	Execute(ctx context.Context, vmInstanceID int64, playbookKey string, provenance []byte) error
}
