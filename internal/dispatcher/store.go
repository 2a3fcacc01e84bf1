package dispatcher

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/R3E-Network/runtime-trust-plane/internal/apperrors"
	"github.com/R3E-Network/runtime-trust-plane/internal/storage"
)

// Store is the durable FIFO queue persistence surface.
type Store interface {
	Enqueue(ctx context.Context, tenantID string, jobType JobType, payload json.RawMessage) (Job, error)
	ClaimNext(ctx context.Context) (*Job, error)
	MarkCompleted(ctx context.Context, jobID int64) error
	MarkFailed(ctx context.Context, jobID int64, reason string) error
	ReplayStuckProcessing(ctx context.Context) ([]Job, error)
}

// PostgresStore is the Store backed by app_jobs.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore builds a PostgresStore.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const jobColumns = `id, tenant_id, job_type, payload, status, attempts, last_error`

func (s *PostgresStore) Enqueue(ctx context.Context, tenantID string, jobType JobType, payload json.RawMessage) (Job, error) {
	if payload == nil {
		payload = json.RawMessage(`{}`)
	}
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO app_jobs (tenant_id, job_type, payload) VALUES ($1,$2,$3)
		RETURNING `+jobColumns, tenantID, string(jobType), []byte(payload))
	job, err := scanJob(row)
	if err != nil {
		return Job{}, apperrors.Downstream("dispatcher.enqueue", err)
	}
	return job, nil
}

// ClaimNext pops the oldest queued job, atomically transitioning it to
// processing, using SELECT ... FOR UPDATE SKIP LOCKED so concurrent
// workers never contend on the same row.
func (s *PostgresStore) ClaimNext(ctx context.Context) (*Job, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, apperrors.Downstream("dispatcher.claim_next.begin", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `
		SELECT `+jobColumns+` FROM app_jobs
		WHERE status=$1
		ORDER BY created_at ASC
		FOR UPDATE SKIP LOCKED
		LIMIT 1`, StatusQueued)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Downstream("dispatcher.claim_next.scan", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE app_jobs SET status=$2, attempts=attempts+1, updated_at=now() WHERE id=$1`,
		job.ID, StatusProcessing); err != nil {
		return nil, apperrors.Downstream("dispatcher.claim_next.update", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, apperrors.Downstream("dispatcher.claim_next.commit", err)
	}
	job.Status = StatusProcessing
	job.Attempts++
	return &job, nil
}

func (s *PostgresStore) MarkCompleted(ctx context.Context, jobID int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE app_jobs SET status=$2, updated_at=now() WHERE id=$1`, jobID, StatusCompleted)
	if err != nil {
		return apperrors.Downstream("dispatcher.mark_completed", err)
	}
	return nil
}

func (s *PostgresStore) MarkFailed(ctx context.Context, jobID int64, reason string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE app_jobs SET status=$2, last_error=$3, updated_at=now() WHERE id=$1`,
		jobID, StatusFailed, reason)
	if err != nil {
		return apperrors.Downstream("dispatcher.mark_failed", err)
	}
	return nil
}

// ReplayStuckProcessing finds rows left processing by a crashed worker and
// folds them back to queued so startup replay can redispatch them.
func (s *PostgresStore) ReplayStuckProcessing(ctx context.Context) ([]Job, error) {
	rows, err := s.db.QueryContext(ctx, `
		UPDATE app_jobs SET status=$1, updated_at=now()
		WHERE status=$2
		RETURNING `+jobColumns, StatusQueued, StatusProcessing)
	if err != nil {
		return nil, apperrors.Downstream("dispatcher.replay_stuck_processing", err)
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, apperrors.Downstream("dispatcher.replay_stuck_processing.scan", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func scanJob(scanner storage.RowScanner) (Job, error) {
	var j Job
	var jobType string
	var payload []byte
	var lastError sql.NullString

	err := scanner.Scan(&j.ID, &j.TenantID, &jobType, &payload, &j.Status, &j.Attempts, &lastError)
	if err != nil {
		return Job{}, err
	}
	j.JobType = JobType(jobType)
	j.Payload = json.RawMessage(payload)
	j.LastError = storage.StringOrEmpty(lastError)
	return j, nil
}
