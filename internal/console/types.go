// Package console implements the Lifecycle Console Aggregator: a read-side
// fan-in joining per-workspace trust, remediation, intelligence, and
// promotion posture into cursor-paginated delta envelopes.
package console

import "time"

// EnvelopeKind distinguishes what a Poll response carries.
type EnvelopeKind string

const (
	EnvelopeSnapshot  EnvelopeKind = "snapshot"
	EnvelopeHeartbeat EnvelopeKind = "heartbeat"
	EnvelopeError     EnvelopeKind = "error"
)

// DefaultHeartbeat and the interval clamp bounds from §4.M.
const (
	DefaultHeartbeat = 5 * time.Second
	MinHeartbeat     = 1 * time.Second
	MaxHeartbeat     = 60 * time.Second
)

// ClampHeartbeat enforces the 1-60s bound, defaulting to 5s when zero.
func ClampHeartbeat(interval time.Duration) time.Duration {
	if interval <= 0 {
		return DefaultHeartbeat
	}
	if interval < MinHeartbeat {
		return MinHeartbeat
	}
	if interval > MaxHeartbeat {
		return MaxHeartbeat
	}
	return interval
}

// WorkspaceSnapshot is one joined row in a console page.
type WorkspaceSnapshot struct {
	ServerID            string
	VMInstanceID         int64
	RunStatus           string
	TrustLifecycle      string
	TrustAttestation    string
	RemediationState    string
	IntelligenceStatus  string
	PromotionSatisfied  bool
	ArtifactDigests     []string
}

// Delta describes what changed for one workspace since the caller's
// previous snapshot.
type Delta struct {
	ServerID    string
	FieldDiffs  map[string]string // field -> "old -> new"
	ArtifactsAdded   []string
	ArtifactsRemoved []string
}

// Envelope is one Poll response.
type Envelope struct {
	Kind        EnvelopeKind
	Cursor      int64
	Snapshots   []WorkspaceSnapshot
	Deltas      []Delta
	RemovedIDs  []string
	Error       string
}
