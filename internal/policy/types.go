// Package policy implements the Runtime Policy Engine: composes a single
// recorded placement decision from artifact health, capability
// requirements, tier classification, and governance posture.
package policy

import "time"

// Backend names the runtime_trust_plane recognizes for workload placement.
const (
	BackendContainerDaemon  = "container-daemon"
	BackendClusterScheduler = "cluster-scheduler"
	BackendConfidentialVM   = "confidential-vm"
)

// Config carries the operator-tunable defaults for decide_and_record.
type Config struct {
	DefaultBackend        string
	GPUCapableBackend     string
	ServerTypeDefaultImage map[string]string
}

// DefaultConfig returns sensible defaults grounded in the three backends
// the VM Provisioner Adapter and cluster scheduler support.
func DefaultConfig() Config {
	return Config{
		DefaultBackend:    BackendContainerDaemon,
		GPUCapableBackend: BackendClusterScheduler,
		ServerTypeDefaultImage: map[string]string{
			"general":      "registry.internal/runtime/general:latest",
			"gpu":          "registry.internal/runtime/gpu:latest",
			"confidential": "registry.internal/runtime/confidential:latest",
		},
	}
}

// WorkloadConfig is the caller-supplied override set for one decision,
// matching the `config?` argument of decide_and_record.
type WorkloadConfig struct {
	Runtime string
	Image   string
	RepoURL string
}

// Decision is a persisted RuntimePolicyDecision row.
type Decision struct {
	ID                     int64
	TenantID               string
	ServerID               string
	Backend                string
	Image                  string
	RequiresBuild          bool
	ArtifactRunID          *int64
	ManifestDigest         string
	PolicyVersion          int64
	EvaluationRequired     bool
	Tier                   string
	HealthOverall          string
	CapabilityRequirements []string
	CapabilitiesSatisfied  bool
	Notes                  []string
	PromotionSatisfied     bool
	PromotionRunID         *int64
	DecidedAt              time.Time
}
