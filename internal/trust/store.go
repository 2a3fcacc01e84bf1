package trust

import (
	"context"
	"database/sql"
	"time"

	"github.com/R3E-Network/runtime-trust-plane/internal/apperrors"
	"github.com/R3E-Network/runtime-trust-plane/internal/storage"
)

// Store is the Trust Registry's persistence contract.
type Store interface {
	GetState(ctx context.Context, vmInstanceID int64) (*Entry, error)
	UpsertState(ctx context.Context, input UpsertInput, expectedVersion *int64) (Entry, Event, error)
}

// PostgresStore implements Store against the control plane's Postgres
// schema, grounded on the teacher's optimistic-version store idiom:
// read-existing, compare, conditional UPDATE ... WHERE id=$1 AND version=$2,
// RowsAffected()==0 signals a conflict.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a Trust Registry store backed by db.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// GetState implements get_state.
func (s *PostgresStore) GetState(ctx context.Context, vmInstanceID int64) (*Entry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT vm_instance_id, tenant_id, attestation_status, lifecycle_state,
		       remediation_state, remediation_attempts, freshness_deadline,
		       provenance_ref, provenance, version, created_at, updated_at
		FROM app_trust_registry
		WHERE vm_instance_id = $1
	`, vmInstanceID)
	entry, err := scanEntry(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &entry, nil
}

// UpsertState implements upsert_state: atomic insert-or-update with
// optimistic concurrency, appending a TrustEvent in the same transaction.
func (s *PostgresStore) UpsertState(ctx context.Context, input UpsertInput, expectedVersion *int64) (Entry, Event, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Entry{}, Event{}, apperrors.Downstream("trust.upsert_state.begin", err)
	}
	defer tx.Rollback()

	existing, err := s.getStateTx(ctx, tx, input.VMInstanceID)
	if err != nil {
		return Entry{}, Event{}, err
	}

	var (
		previousStatus    *AttestationStatus
		previousLifecycle *LifecycleState
		nextVersion       int64
	)

	if existing == nil {
		if expectedVersion != nil {
			return Entry{}, Event{}, apperrors.VersionConflict("trust_registry", 0, -1)
		}
		nextVersion = 0
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO app_trust_registry (
				vm_instance_id, tenant_id, attestation_status, lifecycle_state,
				remediation_state, remediation_attempts, freshness_deadline,
				provenance_ref, provenance, version, created_at, updated_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,now(),now())
		`, input.VMInstanceID, input.TenantID, string(input.AttestationStatus), string(input.LifecycleState),
			storage.ToNullString(input.RemediationState), input.RemediationAttempts, nullTime(input.FreshnessDeadline),
			storage.ToNullString(input.ProvenanceRef), nullJSON(input.Provenance), nextVersion); err != nil {
			return Entry{}, Event{}, apperrors.Downstream("trust.upsert_state.insert", err)
		}
	} else {
		if expectedVersion == nil || *expectedVersion != existing.Version {
			got := int64(-1)
			if expectedVersion != nil {
				got = *expectedVersion
			}
			return Entry{}, Event{}, apperrors.VersionConflict("trust_registry", existing.Version, got)
		}
		status := existing.AttestationStatus
		lifecycle := existing.LifecycleState
		previousStatus = &status
		previousLifecycle = &lifecycle
		nextVersion = existing.Version + 1

		res, err := tx.ExecContext(ctx, `
			UPDATE app_trust_registry
			SET attestation_status = $3, lifecycle_state = $4, remediation_state = $5,
			    remediation_attempts = $6, freshness_deadline = $7, provenance_ref = $8,
			    provenance = $9, version = $10, updated_at = now()
			WHERE vm_instance_id = $1 AND version = $2
		`, input.VMInstanceID, existing.Version, string(input.AttestationStatus), string(input.LifecycleState),
			storage.ToNullString(input.RemediationState), input.RemediationAttempts, nullTime(input.FreshnessDeadline),
			storage.ToNullString(input.ProvenanceRef), nullJSON(input.Provenance), nextVersion)
		if err != nil {
			return Entry{}, Event{}, apperrors.Downstream("trust.upsert_state.update", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return Entry{}, Event{}, apperrors.Downstream("trust.upsert_state.rows_affected", err)
		}
		if affected == 0 {
			return Entry{}, Event{}, apperrors.VersionConflict("trust_registry", existing.Version, *expectedVersion)
		}
	}

	event := Event{
		VMInstanceID:        input.VMInstanceID,
		TenantID:            input.TenantID,
		PreviousStatus:      previousStatus,
		CurrentStatus:       input.AttestationStatus,
		PreviousLifecycle:   previousLifecycle,
		CurrentLifecycle:    input.LifecycleState,
		TransitionReason:    input.TransitionReason,
		RemediationState:    input.RemediationState,
		RemediationAttempts: input.RemediationAttempts,
		FreshnessDeadline:   input.FreshnessDeadline,
		ProvenanceRef:       input.ProvenanceRef,
		Provenance:          input.Provenance,
		AttestationID:       input.AttestationID,
		TriggeredAt:         time.Now().UTC(),
	}

	if err := tx.QueryRowContext(ctx, `
		INSERT INTO app_trust_events (
			vm_instance_id, tenant_id, previous_status, current_status,
			previous_lifecycle, current_lifecycle, transition_reason,
			remediation_state, remediation_attempts, freshness_deadline,
			provenance_ref, provenance, attestation_id, triggered_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		RETURNING id
	`, event.VMInstanceID, event.TenantID, nullStatus(event.PreviousStatus), string(event.CurrentStatus),
		nullLifecycle(event.PreviousLifecycle), string(event.CurrentLifecycle), storage.ToNullString(event.TransitionReason),
		storage.ToNullString(event.RemediationState), event.RemediationAttempts, nullTime(event.FreshnessDeadline),
		storage.ToNullString(event.ProvenanceRef), nullJSON(event.Provenance), nullInt64Ptr(event.AttestationID), event.TriggeredAt,
	).Scan(&event.ID); err != nil {
		return Entry{}, Event{}, apperrors.Downstream("trust.upsert_state.event_insert", err)
	}

	if err := tx.Commit(); err != nil {
		return Entry{}, Event{}, apperrors.Downstream("trust.upsert_state.commit", err)
	}

	result := Entry{
		VMInstanceID:        input.VMInstanceID,
		TenantID:            input.TenantID,
		AttestationStatus:   input.AttestationStatus,
		LifecycleState:      input.LifecycleState,
		RemediationState:    input.RemediationState,
		RemediationAttempts: input.RemediationAttempts,
		FreshnessDeadline:   input.FreshnessDeadline,
		ProvenanceRef:       input.ProvenanceRef,
		Provenance:          input.Provenance,
		Version:             nextVersion,
		UpdatedAt:           event.TriggeredAt,
	}
	if existing != nil {
		result.CreatedAt = existing.CreatedAt
	} else {
		result.CreatedAt = event.TriggeredAt
	}
	return result, event, nil
}

func (s *PostgresStore) getStateTx(ctx context.Context, tx *sql.Tx, vmInstanceID int64) (*Entry, error) {
	row := tx.QueryRowContext(ctx, `
		SELECT vm_instance_id, tenant_id, attestation_status, lifecycle_state,
		       remediation_state, remediation_attempts, freshness_deadline,
		       provenance_ref, provenance, version, created_at, updated_at
		FROM app_trust_registry
		WHERE vm_instance_id = $1
		FOR UPDATE
	`, vmInstanceID)
	entry, err := scanEntry(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, apperrors.Downstream("trust.get_state_tx", err)
	}
	return &entry, nil
}

func scanEntry(scanner storage.RowScanner) (Entry, error) {
	var (
		entry        Entry
		tenant       sql.NullString
		status       string
		lifecycle    string
		remediation  sql.NullString
		deadline     sql.NullTime
		provRef      sql.NullString
		provenance   []byte
		createdAt    time.Time
		updatedAt    time.Time
	)
	if err := scanner.Scan(&entry.VMInstanceID, &tenant, &status, &lifecycle, &remediation,
		&entry.RemediationAttempts, &deadline, &provRef, &provenance, &entry.Version, &createdAt, &updatedAt); err != nil {
		return Entry{}, err
	}
	entry.TenantID = storage.StringOrEmpty(tenant)
	entry.AttestationStatus = AttestationStatus(status)
	entry.LifecycleState = LifecycleState(lifecycle)
	entry.RemediationState = storage.StringOrEmpty(remediation)
	if deadline.Valid {
		t := deadline.Time.UTC()
		entry.FreshnessDeadline = &t
	}
	entry.ProvenanceRef = storage.StringOrEmpty(provRef)
	entry.Provenance = provenance
	entry.CreatedAt = createdAt.UTC()
	entry.UpdatedAt = updatedAt.UTC()
	return entry, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullJSON(raw []byte) []byte {
	if len(raw) == 0 {
		return nil
	}
	return raw
}

func nullStatus(s *AttestationStatus) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return storage.ToNullString(string(*s))
}

func nullLifecycle(l *LifecycleState) sql.NullString {
	if l == nil {
		return sql.NullString{}
	}
	return storage.ToNullString(string(*l))
}

func nullInt64Ptr(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}
