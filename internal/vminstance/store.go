// Package vminstance persists VmInstance rows: the adapter-assigned
// records the VM Executor creates on successful provisioning and mutates
// through the launch sequence.
package vminstance

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/R3E-Network/runtime-trust-plane/internal/apperrors"
	"github.com/R3E-Network/runtime-trust-plane/internal/storage"
)

// Status is the server-facing status surfaced alongside a VmInstance.
type Status string

const (
	StatusProvisioning       Status = "provisioning"
	StatusPendingAttestation Status = "pending-attestation"
	StatusRunning            Status = "running"
	StatusBlocked            Status = "blocked"
	StatusError              Status = "error"
	StatusTerminated         Status = "terminated"
)

// Instance is a VmInstance row.
type Instance struct {
	ID                    int64
	TenantID              string
	ServerID              string
	InstanceID            string
	IsolationTier         string
	AttestationStatus     string
	AttestationEvidence   []byte
	PolicyVersion         int64
	CapabilityNotes       []string
	HypervisorEndpoint    string
	HypervisorCredentials string
	NetworkTemplate       string
	VolumeTemplate        string
	GPUPolicy             string
	TerminatedAt          *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// Store persists VmInstance rows.
type Store interface {
	Create(ctx context.Context, instance Instance) (Instance, error)
	UpdateAttestation(ctx context.Context, id int64, status string, evidence []byte) error
	SetInstanceID(ctx context.Context, id int64, adapterInstanceID string) error
	Terminate(ctx context.Context, id int64, at time.Time) error
	GetByID(ctx context.Context, id int64) (*Instance, error)
	LatestNonTerminatedByServer(ctx context.Context, serverID string) (*Instance, error)
	ListPage(ctx context.Context, afterID int64, limit int) ([]Instance, error)
}

// PostgresStore is the Store backed by app_vm_instances.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore builds a PostgresStore.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const instanceColumns = `id, tenant_id, server_id, instance_id, isolation_tier, attestation_status,
	attestation_evidence, policy_version, capability_notes, hypervisor_endpoint,
	hypervisor_credentials, network_template, volume_template, gpu_policy,
	terminated_at, created_at, updated_at`

func (s *PostgresStore) Create(ctx context.Context, instance Instance) (Instance, error) {
	notes, err := json.Marshal(instance.CapabilityNotes)
	if err != nil {
		return Instance{}, apperrors.Downstream("vminstance.create.marshal_notes", err)
	}

	row := s.db.QueryRowContext(ctx, `
		INSERT INTO app_vm_instances (
			tenant_id, server_id, instance_id, isolation_tier, attestation_status,
			attestation_evidence, policy_version, capability_notes, hypervisor_endpoint,
			hypervisor_credentials, network_template, volume_template, gpu_policy
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		RETURNING `+instanceColumns,
		instance.TenantID, instance.ServerID, instance.InstanceID, storage.ToNullString(instance.IsolationTier),
		instance.AttestationStatus, instance.AttestationEvidence, instance.PolicyVersion, notes,
		storage.ToNullString(instance.HypervisorEndpoint), storage.ToNullString(instance.HypervisorCredentials),
		storage.ToNullString(instance.NetworkTemplate), storage.ToNullString(instance.VolumeTemplate),
		storage.ToNullString(instance.GPUPolicy),
	)

	created, err := scanInstance(row)
	if err != nil {
		return Instance{}, apperrors.Downstream("vminstance.create.scan", err)
	}
	return created, nil
}

func (s *PostgresStore) UpdateAttestation(ctx context.Context, id int64, status string, evidence []byte) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE app_vm_instances SET attestation_status=$1, attestation_evidence=$2, updated_at=now()
		WHERE id=$3`, status, evidence, id)
	if err != nil {
		return apperrors.Downstream("vminstance.update_attestation", err)
	}
	return nil
}

func (s *PostgresStore) SetInstanceID(ctx context.Context, id int64, adapterInstanceID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE app_vm_instances SET instance_id=$1, updated_at=now() WHERE id=$2`, adapterInstanceID, id)
	if err != nil {
		return apperrors.Downstream("vminstance.set_instance_id", err)
	}
	return nil
}

func (s *PostgresStore) Terminate(ctx context.Context, id int64, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE app_vm_instances SET terminated_at=$1, updated_at=now() WHERE id=$2`, at, id)
	if err != nil {
		return apperrors.Downstream("vminstance.terminate", err)
	}
	return nil
}

func (s *PostgresStore) GetByID(ctx context.Context, id int64) (*Instance, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+instanceColumns+` FROM app_vm_instances WHERE id=$1`, id)
	instance, err := scanInstance(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Downstream("vminstance.get_by_id", err)
	}
	return &instance, nil
}

func (s *PostgresStore) LatestNonTerminatedByServer(ctx context.Context, serverID string) (*Instance, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+instanceColumns+` FROM app_vm_instances
		WHERE server_id=$1 AND terminated_at IS NULL
		ORDER BY created_at DESC LIMIT 1`, serverID)
	instance, err := scanInstance(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Downstream("vminstance.latest_non_terminated", err)
	}
	return &instance, nil
}

// ListPage returns up to limit non-terminated instances with id > afterID,
// ordered by id ascending, for cursor-paginated console reads.
func (s *PostgresStore) ListPage(ctx context.Context, afterID int64, limit int) ([]Instance, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+instanceColumns+` FROM app_vm_instances
		WHERE id > $1
		ORDER BY id ASC LIMIT $2`, afterID, limit)
	if err != nil {
		return nil, apperrors.Downstream("vminstance.list_page", err)
	}
	defer rows.Close()

	var instances []Instance
	for rows.Next() {
		instance, err := scanInstance(rows)
		if err != nil {
			return nil, apperrors.Downstream("vminstance.list_page.scan", err)
		}
		instances = append(instances, instance)
	}
	return instances, rows.Err()
}

func scanInstance(scanner storage.RowScanner) (Instance, error) {
	var i Instance
	var isolationTier, hypervisorEndpoint, hypervisorCreds, networkTemplate, volumeTemplate, gpuPolicy sql.NullString
	var terminatedAt sql.NullTime
	var notes []byte

	err := scanner.Scan(
		&i.ID, &i.TenantID, &i.ServerID, &i.InstanceID, &isolationTier, &i.AttestationStatus,
		&i.AttestationEvidence, &i.PolicyVersion, &notes, &hypervisorEndpoint,
		&hypervisorCreds, &networkTemplate, &volumeTemplate, &gpuPolicy,
		&terminatedAt, &i.CreatedAt, &i.UpdatedAt,
	)
	if err != nil {
		return Instance{}, err
	}

	i.IsolationTier = storage.StringOrEmpty(isolationTier)
	i.HypervisorEndpoint = storage.StringOrEmpty(hypervisorEndpoint)
	i.HypervisorCredentials = storage.StringOrEmpty(hypervisorCreds)
	i.NetworkTemplate = storage.StringOrEmpty(networkTemplate)
	i.VolumeTemplate = storage.StringOrEmpty(volumeTemplate)
	i.GPUPolicy = storage.StringOrEmpty(gpuPolicy)
	if terminatedAt.Valid {
		t := terminatedAt.Time
		i.TerminatedAt = &t
	}
	if len(notes) > 0 {
		_ = json.Unmarshal(notes, &i.CapabilityNotes)
	}
	return i, nil
}
