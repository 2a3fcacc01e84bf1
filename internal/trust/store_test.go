package trust

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/R3E-Network/runtime-trust-plane/internal/apperrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedTime = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestUpsertStateInsertsNewEntryAtVersionZero(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	store := NewPostgresStore(db)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT vm_instance_id, tenant_id, attestation_status").
		WithArgs(int64(42)).
		WillReturnRows(sqlmock.NewRows([]string{
			"vm_instance_id", "tenant_id", "attestation_status", "lifecycle_state",
			"remediation_state", "remediation_attempts", "freshness_deadline",
			"provenance_ref", "provenance", "version", "created_at", "updated_at",
		}))
	mock.ExpectExec("INSERT INTO app_trust_registry").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery("INSERT INTO app_trust_events").WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)))
	mock.ExpectCommit()

	entry, event, err := store.UpsertState(context.Background(), UpsertInput{
		VMInstanceID:      42,
		TenantID:          "tenant-a",
		AttestationStatus: StatusTrusted,
		LifecycleState:    LifecycleRestored,
		TransitionReason:  "initial provisioning",
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(0), entry.Version)
	assert.Equal(t, StatusTrusted, entry.AttestationStatus)
	assert.Nil(t, event.PreviousStatus)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertStateVersionConflictRollsBack(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	store := NewPostgresStore(db)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT vm_instance_id, tenant_id, attestation_status").
		WithArgs(int64(99)).
		WillReturnRows(sqlmock.NewRows([]string{
			"vm_instance_id", "tenant_id", "attestation_status", "lifecycle_state",
			"remediation_state", "remediation_attempts", "freshness_deadline",
			"provenance_ref", "provenance", "version", "created_at", "updated_at",
		}).AddRow(int64(99), "tenant-a", "untrusted", "quarantined", nil, 1, nil, nil, nil, int64(3), fixedTime, fixedTime))
	mock.ExpectRollback()

	stale := int64(1)
	_, _, err = store.UpsertState(context.Background(), UpsertInput{
		VMInstanceID:      99,
		TenantID:          "tenant-a",
		AttestationStatus: StatusTrusted,
		LifecycleState:    LifecycleRestored,
	}, &stale)
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindVersionConflict))
	assert.NoError(t, mock.ExpectationsWereMet())
}
