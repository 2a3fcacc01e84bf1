// Package buildartifact reads BuildArtifactRun rows: external build
// pipeline output consumed read-only by the Runtime Policy Engine.
package buildartifact

import (
	"context"
	"database/sql"
	"time"

	"github.com/R3E-Network/runtime-trust-plane/internal/apperrors"
	"github.com/R3E-Network/runtime-trust-plane/internal/storage"
)

// Run is a BuildArtifactRun row.
type Run struct {
	ID                    int64
	ServerID              string
	ManifestDigest        string
	RegistryImage         string
	LocalImage            string
	Status                string
	MultiArch             bool
	CredentialHealthState string
	CompletedAt           *time.Time
	CreatedAt             time.Time
}

// HealthyStatuses and HealthyCredentialStates are the "healthy" sets from
// §4.G step 4.
var (
	HealthyStatuses         = map[string]bool{"succeeded": true, "success": true, "completed": true}
	HealthyCredentialStates = map[string]bool{"healthy": true, "ok": true, "passing": true}
)

// HealthOverall derives health_overall per §4.G step 4.
func (r Run) HealthOverall() string {
	if HealthyStatuses[r.Status] && HealthyCredentialStates[r.CredentialHealthState] {
		return "healthy"
	}
	return "unhealthy"
}

// Store reads BuildArtifactRun rows.
type Store interface {
	LatestSuccessfulByServer(ctx context.Context, serverID string) (*Run, error)
	LatestByServer(ctx context.Context, serverID string) (*Run, error)
}

// PostgresStore is the Store backed by app_build_artifact_runs.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore builds a PostgresStore.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const runColumns = `id, server_id, manifest_digest, registry_image, local_image, status,
	multi_arch, credential_health_status, completed_at, created_at`

func (s *PostgresStore) LatestSuccessfulByServer(ctx context.Context, serverID string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+runColumns+` FROM app_build_artifact_runs
		WHERE server_id=$1 AND status IN ('succeeded', 'success', 'completed')
		ORDER BY completed_at DESC NULLS LAST, created_at DESC LIMIT 1`, serverID)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Downstream("buildartifact.latest_successful_by_server", err)
	}
	return &run, nil
}

func (s *PostgresStore) LatestByServer(ctx context.Context, serverID string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+runColumns+` FROM app_build_artifact_runs
		WHERE server_id=$1
		ORDER BY created_at DESC LIMIT 1`, serverID)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Downstream("buildartifact.latest_by_server", err)
	}
	return &run, nil
}

func scanRun(scanner storage.RowScanner) (Run, error) {
	var r Run
	var manifestDigest, registryImage, credentialHealth sql.NullString
	var completedAt sql.NullTime

	err := scanner.Scan(
		&r.ID, &r.ServerID, &manifestDigest, &registryImage, &r.LocalImage, &r.Status,
		&r.MultiArch, &credentialHealth, &completedAt, &r.CreatedAt,
	)
	if err != nil {
		return Run{}, err
	}

	r.ManifestDigest = storage.StringOrEmpty(manifestDigest)
	r.RegistryImage = storage.StringOrEmpty(registryImage)
	r.CredentialHealthState = storage.StringOrEmpty(credentialHealth)
	if completedAt.Valid {
		t := completedAt.Time
		r.CompletedAt = &t
	}
	return r, nil
}
