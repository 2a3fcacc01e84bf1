// Package trust implements the Trust Registry: the authoritative,
// optimistically versioned state machine of each VM instance's attestation
// status, lifecycle, and remediation posture.
package trust

import (
	"time"

	"github.com/R3E-Network/runtime-trust-plane/internal/eventbus"
)

// AttestationStatus is the trust verdict carried on a registry entry.
type AttestationStatus string

const (
	StatusPending   AttestationStatus = "pending"
	StatusTrusted   AttestationStatus = "trusted"
	StatusUntrusted AttestationStatus = "untrusted"
	StatusUnknown   AttestationStatus = "unknown"
)

// LifecycleState is the registry's lifecycle dimension.
type LifecycleState string

const (
	LifecycleSuspect     LifecycleState = "suspect"
	LifecycleQuarantined LifecycleState = "quarantined"
	LifecycleRemediating LifecycleState = "remediating"
	LifecycleRestored    LifecycleState = "restored"
)

// Entry is a TrustRegistryEntry row, keyed by vm_instance_id.
type Entry struct {
	VMInstanceID        int64
	TenantID            string
	AttestationStatus   AttestationStatus
	LifecycleState      LifecycleState
	RemediationState    string
	RemediationAttempts int
	FreshnessDeadline   *time.Time
	ProvenanceRef       string
	Provenance          []byte
	Version             int64
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Event is an append-only TrustEvent row.
type Event struct {
	ID                  int64
	VMInstanceID        int64
	TenantID            string
	PreviousStatus      *AttestationStatus
	CurrentStatus       AttestationStatus
	PreviousLifecycle   *LifecycleState
	CurrentLifecycle    LifecycleState
	TransitionReason    string
	RemediationState    string
	RemediationAttempts int
	FreshnessDeadline   *time.Time
	ProvenanceRef       string
	Provenance          []byte
	AttestationID       *int64
	Metadata            map[string]any
	TriggeredAt         time.Time
}

// UpsertInput is the caller-supplied shape for upsert_state.
type UpsertInput struct {
	VMInstanceID        int64
	TenantID            string
	AttestationStatus   AttestationStatus
	LifecycleState      LifecycleState
	RemediationState    string
	RemediationAttempts int
	FreshnessDeadline   *time.Time
	ProvenanceRef       string
	Provenance          []byte
	TransitionReason    string
	AttestationID       *int64
}

// Notification is the payload published to runtime_vm_trust_transition
// after a successful transition commits, matching spec §6 exactly.
type Notification struct {
	RuntimeVMInstanceID   int64              `json:"runtime_vm_instance_id"`
	AttestationID         *int64             `json:"attestation_id"`
	PreviousStatus        *AttestationStatus `json:"previous_status"`
	CurrentStatus         AttestationStatus  `json:"current_status"`
	PreviousLifecycleState *LifecycleState   `json:"previous_lifecycle_state"`
	CurrentLifecycleState LifecycleState     `json:"current_lifecycle_state"`
	TransitionReason      string             `json:"transition_reason"`
	RemediationState      string             `json:"remediation_state"`
	RemediationAttempts   int                `json:"remediation_attempts"`
	FreshnessDeadline     *time.Time         `json:"freshness_deadline"`
	ProvenanceRef         string             `json:"provenance_ref"`
	Provenance            any                `json:"provenance"`
	TriggeredAt           time.Time          `json:"triggered_at"`
}

// TransitionChannel is the LISTEN/NOTIFY channel carrying TrustEvent
// notifications, per spec §6.
const TransitionChannel = eventbus.ChannelTrustTransition
