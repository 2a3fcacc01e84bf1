package remediation

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedTime = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func runColumnsList() []string {
	return []string{
		"id", "tenant_id", "vm_instance_id", "playbook_key", "status", "approval_required",
		"approval_state", "failure_reason", "failure_classification", "version", "started_at",
		"completed_at", "cancelled_at",
	}
}

func TestEnsureRunningPlaybookInsertsWhenNoActiveRun(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("INSERT INTO app_remediation_runs").WillReturnRows(
		sqlmock.NewRows(runColumnsList()).AddRow(
			int64(1), "tenant-1", int64(42), "quarantine-response", "pending", false,
			"pending", nil, nil, int64(0), fixedTime, nil, nil,
		))

	store := NewPostgresStore(db)
	run, err := store.EnsureRunningPlaybook(context.Background(), "tenant-1", 42, "quarantine-response", false, nil)
	require.NoError(t, err)
	assert.Equal(t, RunStatusPending, run.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureRunningPlaybookReturnsConflictWhenActiveRunExists(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("INSERT INTO app_remediation_runs").WillReturnRows(sqlmock.NewRows(runColumnsList()))

	store := NewPostgresStore(db)
	_, err = store.EnsureRunningPlaybook(context.Background(), "tenant-1", 42, "quarantine-response", false, nil)
	require.ErrorIs(t, err, ErrActiveRunExists)
}
