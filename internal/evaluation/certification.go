// Package evaluation implements Evaluation Certifications: digest-tier
// certification records written by the evaluation-refresh job handler.
// Neither the Governance Gate nor the Placement Gate reads them.
package evaluation

import (
	"context"
	"database/sql"
	"time"

	"github.com/R3E-Network/runtime-trust-plane/internal/apperrors"
	"github.com/R3E-Network/runtime-trust-plane/internal/storage"
)

// Status values a certification can carry.
const (
	StatusPending = "pending"
	StatusPass    = "pass"
	StatusFail    = "fail"
)

// Certification is one app_evaluation_certifications row.
type Certification struct {
	ID                int64
	TenantID          string
	BuildArtifactRunID *int64
	ManifestDigest    string
	Tier              string
	PolicyRequirement string
	Status            string
	Evidence          []byte
	ValidFrom         time.Time
	ValidUntil        *time.Time
}

// IsActive implements is_active(now).
func (c Certification) IsActive(now time.Time) bool {
	if now.Before(c.ValidFrom) {
		return false
	}
	if c.ValidUntil != nil && now.After(*c.ValidUntil) {
		return false
	}
	return true
}

// Store persists certification records.
type Store interface {
	Upsert(ctx context.Context, cert Certification) (Certification, error)
	Get(ctx context.Context, manifestDigest, tier, policyRequirement string) (*Certification, error)
}

// PostgresStore is the Store backed by app_evaluation_certifications.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore builds a PostgresStore.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const certColumns = `id, tenant_id, build_artifact_run_id, manifest_digest, tier, policy_requirement,
	status, evidence, valid_from, valid_until`

// Upsert implements the idempotent upsert: a retry (conflict on the
// unique key) resets status to pending, valid_from to now, valid_until
// to null, regardless of what the caller passed for those fields.
func (s *PostgresStore) Upsert(ctx context.Context, cert Certification) (Certification, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO app_evaluation_certifications
			(tenant_id, build_artifact_run_id, manifest_digest, tier, policy_requirement, status, evidence)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (manifest_digest, tier, policy_requirement)
		DO UPDATE SET status='pending', valid_from=now(), valid_until=NULL,
		              build_artifact_run_id=EXCLUDED.build_artifact_run_id,
		              evidence=EXCLUDED.evidence, updated_at=now()
		RETURNING `+certColumns,
		cert.TenantID, cert.BuildArtifactRunID, cert.ManifestDigest, cert.Tier, cert.PolicyRequirement,
		StatusPending, cert.Evidence,
	)

	certification, err := scanCertification(row)
	if err != nil {
		return Certification{}, apperrors.Downstream("evaluation.upsert", err)
	}
	return certification, nil
}

func (s *PostgresStore) Get(ctx context.Context, manifestDigest, tier, policyRequirement string) (*Certification, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+certColumns+` FROM app_evaluation_certifications
		WHERE manifest_digest=$1 AND tier=$2 AND policy_requirement=$3`,
		manifestDigest, tier, policyRequirement)
	cert, err := scanCertification(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Downstream("evaluation.get", err)
	}
	return &cert, nil
}

func scanCertification(scanner storage.RowScanner) (Certification, error) {
	var c Certification
	var validUntil sql.NullTime
	err := scanner.Scan(&c.ID, &c.TenantID, &c.BuildArtifactRunID, &c.ManifestDigest, &c.Tier,
		&c.PolicyRequirement, &c.Status, &c.Evidence, &c.ValidFrom, &validUntil)
	if err != nil {
		return Certification{}, err
	}
	if validUntil.Valid {
		t := validUntil.Time
		c.ValidUntil = &t
	}
	return c, nil
}
