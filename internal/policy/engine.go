package policy

import (
	"context"
	"database/sql"
	"time"

	"github.com/R3E-Network/runtime-trust-plane/internal/apperrors"
	"github.com/R3E-Network/runtime-trust-plane/internal/buildartifact"
	"github.com/R3E-Network/runtime-trust-plane/internal/governance"
	"github.com/R3E-Network/runtime-trust-plane/internal/storage"
)

// Store persists and reads back RuntimePolicyDecision rows.
type Store interface {
	Insert(ctx context.Context, decision Decision) (Decision, error)
	LatestByServer(ctx context.Context, serverID string) (*Decision, error)
}

// PostgresStore is the Store backed by app_runtime_policy_decisions.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore builds a PostgresStore.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const decisionColumns = `id, tenant_id, server_id, backend, image, requires_build, artifact_run_id,
	manifest_digest, policy_version, evaluation_required, tier, health_overall,
	capability_requirements, capabilities_satisfied, notes, promotion_satisfied, promotion_run_id, decided_at`

func (s *PostgresStore) Insert(ctx context.Context, decision Decision) (Decision, error) {
	capReqs, err := jsonMarshal(decision.CapabilityRequirements)
	if err != nil {
		return Decision{}, apperrors.Downstream("policy.insert.marshal_capabilities", err)
	}
	notes, err := jsonMarshal(decision.Notes)
	if err != nil {
		return Decision{}, apperrors.Downstream("policy.insert.marshal_notes", err)
	}

	row := s.db.QueryRowContext(ctx, `
		INSERT INTO app_runtime_policy_decisions
			(tenant_id, server_id, backend, image, requires_build, artifact_run_id,
			 manifest_digest, evaluation_required, tier, health_overall,
			 capability_requirements, capabilities_satisfied, notes,
			 promotion_satisfied, promotion_run_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
		RETURNING `+decisionColumns,
		decision.TenantID, decision.ServerID, decision.Backend, decision.Image, decision.RequiresBuild,
		decision.ArtifactRunID, storage.ToNullString(decision.ManifestDigest), decision.EvaluationRequired,
		storage.ToNullString(decision.Tier), storage.ToNullString(decision.HealthOverall),
		capReqs, decision.CapabilitiesSatisfied, notes, decision.PromotionSatisfied, decision.PromotionRunID,
	)

	return scanDecision(row)
}

func (s *PostgresStore) LatestByServer(ctx context.Context, serverID string) (*Decision, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+decisionColumns+` FROM app_runtime_policy_decisions
		WHERE server_id=$1 ORDER BY decided_at DESC LIMIT 1`, serverID)
	decision, err := scanDecision(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Downstream("policy.latest_by_server", err)
	}
	return &decision, nil
}

func scanDecision(scanner storage.RowScanner) (Decision, error) {
	var d Decision
	var manifestDigest, tier, healthOverall sql.NullString
	var capReqs, notes []byte

	err := scanner.Scan(
		&d.ID, &d.TenantID, &d.ServerID, &d.Backend, &d.Image, &d.RequiresBuild, &d.ArtifactRunID,
		&manifestDigest, &d.PolicyVersion, &d.EvaluationRequired, &tier, &healthOverall,
		&capReqs, &d.CapabilitiesSatisfied, &notes, &d.PromotionSatisfied, &d.PromotionRunID, &d.DecidedAt,
	)
	if err != nil {
		return Decision{}, err
	}

	d.ManifestDigest = storage.StringOrEmpty(manifestDigest)
	d.Tier = storage.StringOrEmpty(tier)
	d.HealthOverall = storage.StringOrEmpty(healthOverall)
	_ = jsonUnmarshal(capReqs, &d.CapabilityRequirements)
	_ = jsonUnmarshal(notes, &d.Notes)
	return d, nil
}

// Engine implements decide_and_record.
type Engine struct {
	cfg        Config
	artifacts  buildartifact.Store
	governance *governance.Gate
	store      Store
}

// New builds an Engine.
func New(cfg Config, artifacts buildartifact.Store, governanceGate *governance.Gate, store Store) *Engine {
	return &Engine{cfg: cfg, artifacts: artifacts, governance: governanceGate, store: store}
}

// Request is the input to decide_and_record.
type Request struct {
	TenantID   string
	ServerID   string
	ServerType string
	Config     WorkloadConfig
	UseGPU     bool
}

// DecideAndRecord implements §4.G's 7-step algorithm.
func (e *Engine) DecideAndRecord(ctx context.Context, req Request) (Decision, error) {
	notes := newNoteSet()

	// Step 1: backend selection.
	backend := e.cfg.DefaultBackend
	if backend == "" {
		backend = BackendContainerDaemon
	}
	if req.UseGPU && backend != BackendClusterScheduler {
		backend = e.cfg.GPUCapableBackend
		if backend == "" {
			backend = BackendClusterScheduler
		}
		notes.add("policy:gpu-override-cluster-scheduler")
	}
	if req.Config.Runtime != "" && req.Config.Runtime != backend {
		backend = req.Config.Runtime
		notes.add("policy:runtime-override-" + backend)
	}

	// Steps 2-4: artifact lookup, image resolution, health/tier.
	artifact, err := e.artifacts.LatestByServer(ctx, req.ServerID)
	if err != nil {
		return Decision{}, err
	}
	successfulArtifact, err := e.artifacts.LatestSuccessfulByServer(ctx, req.ServerID)
	if err != nil {
		return Decision{}, err
	}

	image := req.Config.Image
	switch {
	case image != "":
		notes.add("policy:image-from-config")
	case successfulArtifact != nil && successfulArtifact.RegistryImage != "":
		image = successfulArtifact.RegistryImage
		notes.add("policy:image-from-registry")
	case successfulArtifact != nil && successfulArtifact.LocalImage != "":
		image = successfulArtifact.LocalImage
		notes.add("policy:image-from-local-build")
	default:
		image = e.cfg.ServerTypeDefaultImage[req.ServerType]
		notes.add("policy:image-from-server-type-default")
	}

	requiresBuild := req.Config.RepoURL != ""

	var manifestDigest, healthOverall, tier string
	var artifactRunID *int64
	var multiArch bool
	if artifact != nil {
		manifestDigest = artifact.ManifestDigest
		healthOverall = artifact.HealthOverall()
		multiArch = artifact.MultiArch
		id := artifact.ID
		artifactRunID = &id
	} else {
		healthOverall = "unhealthy"
		notes.add("policy:no-artifact-history")
	}
	tier = classifyTier(req.ServerType, multiArch, healthOverall)

	// Step 5.
	evaluationRequired := requiresBuild || healthOverall != "healthy"

	// Step 6: governance gate.
	readiness, err := e.governance.EnsurePromotionReady(ctx, manifestDigest, tier)
	if err != nil {
		return Decision{}, err
	}
	notes.add(readiness.Notes...)

	capabilityRequirements := capabilitiesFor(backend, requiresBuild)
	capabilitiesSatisfied := readiness.Satisfied && healthOverall == "healthy"

	decision := Decision{
		TenantID:               req.TenantID,
		ServerID:                req.ServerID,
		Backend:                 backend,
		Image:                   image,
		RequiresBuild:           requiresBuild,
		ArtifactRunID:           artifactRunID,
		ManifestDigest:          manifestDigest,
		EvaluationRequired:      evaluationRequired,
		Tier:                    tier,
		HealthOverall:           healthOverall,
		CapabilityRequirements:  capabilityRequirements,
		CapabilitiesSatisfied:   capabilitiesSatisfied,
		Notes:                   notes.values,
		PromotionSatisfied:      readiness.Satisfied,
		PromotionRunID:          readiness.RunID,
		DecidedAt:               time.Now().UTC(),
	}

	// Step 7: persist.
	return e.store.Insert(ctx, decision)
}

func classifyTier(serverType string, multiArch bool, healthOverall string) string {
	switch {
	case healthOverall != "healthy":
		return "bronze"
	case multiArch && serverType == "confidential":
		return "gold"
	case multiArch || serverType == "confidential":
		return "silver"
	default:
		return "bronze"
	}
}

// capabilitiesFor lists the capability requirements a workload on backend
// carries, plus an image-build requirement whenever the request supplies
// a source to build from (RepoURL set) rather than a pre-built image.
func capabilitiesFor(backend string, requiresBuild bool) []string {
	var caps []string
	switch backend {
	case BackendConfidentialVM:
		caps = []string{"tpm-attestation", "sev-snp-or-tdx"}
	case BackendClusterScheduler:
		caps = []string{"nvidia-gpu-passthrough"}
	default:
		caps = []string{"container-runtime"}
	}
	if requiresBuild {
		caps = append(caps, "image-build")
	}
	return caps
}

// noteSet preserves insertion order while deduping, per §4.G's tie-break rule.
type noteSet struct {
	seen   map[string]bool
	values []string
}

func newNoteSet() *noteSet {
	return &noteSet{seen: make(map[string]bool)}
}

func (n *noteSet) add(notes ...string) {
	for _, note := range notes {
		if n.seen[note] {
			continue
		}
		n.seen[note] = true
		n.values = append(n.values, note)
	}
}
