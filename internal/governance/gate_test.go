package governance

import (
	"context"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresStoreNewestCompletedRunFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT id FROM app_governance_runs").
		WithArgs("sha256:abc", "gold").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(7)))

	store := NewPostgresStore(db)
	runID, err := store.NewestCompletedRun(context.Background(), "sha256:abc", "gold")
	require.NoError(t, err)
	require.NotNil(t, runID)
	assert.Equal(t, int64(7), *runID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreNewestCompletedRunNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT id FROM app_governance_runs").
		WithArgs("sha256:abc", "gold").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	store := NewPostgresStore(db)
	runID, err := store.NewestCompletedRun(context.Background(), "sha256:abc", "gold")
	require.NoError(t, err)
	assert.Nil(t, runID)
}

type fakeStore struct {
	runID *int64
}

func (f *fakeStore) NewestCompletedRun(context.Context, string, string) (*int64, error) {
	return f.runID, nil
}

func TestEnsurePromotionReadyMissingInput(t *testing.T) {
	gate := New(&fakeStore{})

	decision, err := gate.EnsurePromotionReady(context.Background(), "", "gold")
	require.NoError(t, err)
	assert.False(t, decision.Satisfied)
	assert.Contains(t, decision.Notes, "policy_hook:governance-missing-input")

	decision, err = gate.EnsurePromotionReady(context.Background(), "sha256:abc", "")
	require.NoError(t, err)
	assert.False(t, decision.Satisfied)
}

func TestEnsurePromotionReadyNoCompletedRun(t *testing.T) {
	gate := New(&fakeStore{runID: nil})

	decision, err := gate.EnsurePromotionReady(context.Background(), "sha256:abc", "gold")
	require.NoError(t, err)
	assert.False(t, decision.Satisfied)
	assert.Nil(t, decision.RunID)
	assert.Contains(t, decision.Notes, "policy_hook:governance-no-completed-run")
}

func TestEnsurePromotionReadySatisfied(t *testing.T) {
	id := int64(42)
	gate := New(&fakeStore{runID: &id})

	decision, err := gate.EnsurePromotionReady(context.Background(), "sha256:abc", "gold")
	require.NoError(t, err)
	assert.True(t, decision.Satisfied)
	require.NotNil(t, decision.RunID)
	assert.Equal(t, int64(42), *decision.RunID)
}

type fakeKeyBindingChecker struct {
	satisfied bool
}

func (f *fakeKeyBindingChecker) TierSatisfied(context.Context, string) (bool, error) {
	return f.satisfied, nil
}

func TestEnsurePromotionReadyBlocksOnUnboundBYOKTier(t *testing.T) {
	id := int64(42)
	gate := New(&fakeStore{runID: &id}).WithBYOK(&fakeKeyBindingChecker{satisfied: false}, []string{"gold"})

	decision, err := gate.EnsurePromotionReady(context.Background(), "sha256:abc", "gold")
	require.NoError(t, err)
	assert.False(t, decision.Satisfied)
	require.NotNil(t, decision.RunID)
	assert.Contains(t, decision.Notes, "policy_hook:governance-byok-unbound")
}

func TestEnsurePromotionReadySatisfiedWhenBYOKBound(t *testing.T) {
	id := int64(42)
	gate := New(&fakeStore{runID: &id}).WithBYOK(&fakeKeyBindingChecker{satisfied: true}, []string{"gold"})

	decision, err := gate.EnsurePromotionReady(context.Background(), "sha256:abc", "gold")
	require.NoError(t, err)
	assert.True(t, decision.Satisfied)
}

func TestEnsurePromotionReadyIgnoresBYOKForUnconfiguredTier(t *testing.T) {
	id := int64(42)
	gate := New(&fakeStore{runID: &id}).WithBYOK(&fakeKeyBindingChecker{satisfied: false}, []string{"gold"})

	decision, err := gate.EnsurePromotionReady(context.Background(), "sha256:abc", "silver")
	require.NoError(t, err)
	assert.True(t, decision.Satisfied)
}
