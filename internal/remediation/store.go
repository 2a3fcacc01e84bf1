package remediation

import (
	"context"
	"database/sql"
	"errors"

	"github.com/lib/pq"

	"github.com/R3E-Network/runtime-trust-plane/internal/apperrors"
	"github.com/R3E-Network/runtime-trust-plane/internal/storage"
)

// ErrActiveRunExists signals ensure_running_playbook found a non-terminal
// run already in flight for the instance.
var ErrActiveRunExists = apperrors.Conflict("an active remediation run already exists for this instance")

// Store persists RemediationRun rows and enforces the at-most-one-active
// invariant via app_remediation_runs' partial unique index.
type Store interface {
	// EnsureRunningPlaybook inserts a pending run if no non-terminal run
	// exists for vmInstanceID, else returns ErrActiveRunExists.
	EnsureRunningPlaybook(ctx context.Context, tenantID string, vmInstanceID int64, playbookKey string, approvalRequired bool, automationPayload []byte) (Run, error)
	MarkRunCompleted(ctx context.Context, runID int64) error
	MarkRunFailed(ctx context.Context, runID int64, reason string, classification FailureClass) error
	ActiveRun(ctx context.Context, vmInstanceID int64) (*Run, error)
	LatestRun(ctx context.Context, vmInstanceID int64) (*Run, error)
}

// PostgresStore is the Store backed by app_remediation_runs.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore builds a PostgresStore.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const runColumns = `id, tenant_id, vm_instance_id, playbook_key, status, approval_required,
	approval_state, failure_reason, failure_classification, version, started_at,
	completed_at, cancelled_at`

// EnsureRunningPlaybook relies on the partial unique index
// idx_remediation_runs_active (status IN ('pending','running')) to make
// the insert atomic against concurrent orchestrators: a unique_violation
// is translated to ErrActiveRunExists.
func (s *PostgresStore) EnsureRunningPlaybook(ctx context.Context, tenantID string, vmInstanceID int64, playbookKey string, approvalRequired bool, automationPayload []byte) (Run, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO app_remediation_runs (tenant_id, vm_instance_id, playbook_key, status, approval_required, automation_payload)
		SELECT $1, $2, $3, 'pending', $4, $5
		WHERE NOT EXISTS (
			SELECT 1 FROM app_remediation_runs
			WHERE vm_instance_id = $2 AND status IN ('pending', 'running')
		)
		RETURNING `+runColumns,
		tenantID, vmInstanceID, playbookKey, approvalRequired, automationPayload,
	)

	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return Run{}, ErrActiveRunExists
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return Run{}, ErrActiveRunExists
	}
	if err != nil {
		return Run{}, apperrors.Downstream("remediation.ensure_running_playbook", err)
	}
	return run, nil
}

func (s *PostgresStore) MarkRunCompleted(ctx context.Context, runID int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE app_remediation_runs SET status='succeeded', completed_at=now(), version=version+1, updated_at=now()
		WHERE id=$1`, runID)
	if err != nil {
		return apperrors.Downstream("remediation.mark_run_completed", err)
	}
	return nil
}

func (s *PostgresStore) MarkRunFailed(ctx context.Context, runID int64, reason string, classification FailureClass) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE app_remediation_runs
		SET status='failed', completed_at=now(), failure_reason=$1, failure_classification=$2, version=version+1, updated_at=now()
		WHERE id=$3`, reason, string(classification), runID)
	if err != nil {
		return apperrors.Downstream("remediation.mark_run_failed", err)
	}
	return nil
}

func (s *PostgresStore) ActiveRun(ctx context.Context, vmInstanceID int64) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+runColumns+` FROM app_remediation_runs
		WHERE vm_instance_id=$1 AND status IN ('pending', 'running')
		ORDER BY started_at DESC LIMIT 1`, vmInstanceID)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Downstream("remediation.active_run", err)
	}
	return &run, nil
}

func (s *PostgresStore) LatestRun(ctx context.Context, vmInstanceID int64) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+runColumns+` FROM app_remediation_runs
		WHERE vm_instance_id=$1
		ORDER BY started_at DESC LIMIT 1`, vmInstanceID)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Downstream("remediation.latest_run", err)
	}
	return &run, nil
}

func scanRun(scanner storage.RowScanner) (Run, error) {
	var r Run
	var approvalState, failureReason, failureClassification sql.NullString
	var completedAt, cancelledAt sql.NullTime
	var status string

	err := scanner.Scan(
		&r.ID, &r.TenantID, &r.VMInstanceID, &r.PlaybookKey, &status, &r.ApprovalRequired,
		&approvalState, &failureReason, &failureClassification, &r.Version, &r.StartedAt,
		&completedAt, &cancelledAt,
	)
	if err != nil {
		return Run{}, err
	}

	r.Status = RunStatus(status)
	r.ApprovalState = storage.StringOrEmpty(approvalState)
	r.FailureReason = storage.StringOrEmpty(failureReason)
	r.FailureClassification = FailureClass(storage.StringOrEmpty(failureClassification))
	if completedAt.Valid {
		t := completedAt.Time
		r.CompletedAt = &t
	}
	if cancelledAt.Valid {
		t := cancelledAt.Time
		r.CancelledAt = &t
	}
	return r, nil
}
