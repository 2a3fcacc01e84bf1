package vminstance

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedTime = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func instanceRow() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "tenant_id", "server_id", "instance_id", "isolation_tier", "attestation_status",
		"attestation_evidence", "policy_version", "capability_notes", "hypervisor_endpoint",
		"hypervisor_credentials", "network_template", "volume_template", "gpu_policy",
		"terminated_at", "created_at", "updated_at",
	}).AddRow(
		int64(1), "tenant-1", "server-1", "adapter-1", "confidential", "pending",
		[]byte(nil), int64(3), []byte(`["gpu"]`), "https://hv.local",
		"", "default-net", "default-vol", "",
		nil, fixedTime, fixedTime,
	)
}

func TestCreateInsertsAndReturnsInstance(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("INSERT INTO app_vm_instances").WillReturnRows(instanceRow())

	store := NewPostgresStore(db)
	created, err := store.Create(context.Background(), Instance{
		TenantID: "tenant-1", ServerID: "server-1", InstanceID: "adapter-1",
		AttestationStatus: "pending", PolicyVersion: 3, CapabilityNotes: []string{"gpu"},
	})

	require.NoError(t, err)
	assert.Equal(t, int64(1), created.ID)
	assert.Equal(t, "confidential", created.IsolationTier)
	assert.Equal(t, []string{"gpu"}, created.CapabilityNotes)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetByIDReturnsNilWhenMissing(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT .* FROM app_vm_instances WHERE id").WillReturnRows(
		sqlmock.NewRows([]string{
			"id", "tenant_id", "server_id", "instance_id", "isolation_tier", "attestation_status",
			"attestation_evidence", "policy_version", "capability_notes", "hypervisor_endpoint",
			"hypervisor_credentials", "network_template", "volume_template", "gpu_policy",
			"terminated_at", "created_at", "updated_at",
		}))

	store := NewPostgresStore(db)
	instance, err := store.GetByID(context.Background(), 42)
	require.NoError(t, err)
	assert.Nil(t, instance)
}
