package remediation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/runtime-trust-plane/internal/logging"
	"github.com/R3E-Network/runtime-trust-plane/internal/telemetry"
	"github.com/R3E-Network/runtime-trust-plane/internal/trust"
)

type fakeRunStore struct {
	ensureCalls int
	ensureErr   error
	run         Run
	completed   bool
	failed      bool
	failureCls  FailureClass
}

func (f *fakeRunStore) EnsureRunningPlaybook(_ context.Context, tenantID string, vmInstanceID int64, playbookKey string, approvalRequired bool, automationPayload []byte) (Run, error) {
	f.ensureCalls++
	if f.ensureErr != nil {
		return Run{}, f.ensureErr
	}
	return f.run, nil
}
func (f *fakeRunStore) MarkRunCompleted(context.Context, int64) error { f.completed = true; return nil }
func (f *fakeRunStore) MarkRunFailed(_ context.Context, _ int64, _ string, cls FailureClass) error {
	f.failed = true
	f.failureCls = cls
	return nil
}
func (f *fakeRunStore) ActiveRun(context.Context, int64) (*Run, error) { return nil, nil }
func (f *fakeRunStore) LatestRun(context.Context, int64) (*Run, error) { return nil, nil }

type fakeTrustStore struct {
	entry *trust.Entry
}

func (f *fakeTrustStore) GetState(context.Context, int64) (*trust.Entry, error) {
	return f.entry, nil
}
func (f *fakeTrustStore) UpsertState(_ context.Context, input trust.UpsertInput, _ *int64) (trust.Entry, trust.Event, error) {
	f.entry = &trust.Entry{
		VMInstanceID:        input.VMInstanceID,
		TenantID:            input.TenantID,
		AttestationStatus:   input.AttestationStatus,
		LifecycleState:      input.LifecycleState,
		RemediationState:    input.RemediationState,
		RemediationAttempts: input.RemediationAttempts,
		Version:             0,
	}
	return *f.entry, trust.Event{}, nil
}

func TestHandleQuarantineSkipsWhenAlreadyRemediating(t *testing.T) {
	trustStore := &fakeTrustStore{entry: &trust.Entry{
		VMInstanceID: 1, LifecycleState: trust.LifecycleRemediating, RemediationState: "automation-running",
	}}
	runs := &fakeRunStore{}
	orch := New(runs, trust.NewService(trustStore, nil, logging.New("test", "error", "json")),
		nil, nil, logging.New("test", "error", "json"), telemetry.NewWithRegistry("test", nil))

	err := orch.HandleQuarantine(context.Background(), 1, "quarantine-response")
	require.NoError(t, err)
	assert.Equal(t, 0, runs.ensureCalls)
}

func TestHandleQuarantineSkipsWhenActiveRunExists(t *testing.T) {
	trustStore := &fakeTrustStore{entry: &trust.Entry{VMInstanceID: 1, LifecycleState: trust.LifecycleQuarantined}}
	runs := &fakeRunStore{ensureErr: ErrActiveRunExists}
	orch := New(runs, trust.NewService(trustStore, nil, logging.New("test", "error", "json")),
		nil, nil, logging.New("test", "error", "json"), telemetry.NewWithRegistry("test", nil))

	err := orch.HandleQuarantine(context.Background(), 1, "quarantine-response")
	require.NoError(t, err)
	assert.Equal(t, 1, runs.ensureCalls)
}

func TestHandleQuarantineStartsRunAndAdvancesLifecycle(t *testing.T) {
	trustStore := &fakeTrustStore{entry: &trust.Entry{VMInstanceID: 1, LifecycleState: trust.LifecycleQuarantined}}
	runs := &fakeRunStore{run: Run{ID: 7, VMInstanceID: 1, PlaybookKey: "quarantine-response", StartedAt: time.Now()}}
	orch := New(runs, trust.NewService(trustStore, nil, logging.New("test", "error", "json")),
		map[string]Playbook{"quarantine-response": {Key: "quarantine-response", ExecutorType: "noop"}},
		map[string]PlaybookExecutor{"noop": NoopExecutor{}},
		logging.New("test", "error", "json"), telemetry.NewWithRegistry("test", nil))

	err := orch.HandleQuarantine(context.Background(), 1, "quarantine-response")
	require.NoError(t, err)
	assert.Equal(t, trust.LifecycleRemediating, trustStore.entry.LifecycleState)
	assert.Equal(t, "automation-running", trustStore.entry.RemediationState)
}

func TestClassifyFailureDefaultsToTransient(t *testing.T) {
	assert.Equal(t, FailureTransient, classifyFailure(errors.New("boom")))
	assert.Equal(t, FailureCancelled, classifyFailure(context.Canceled))
}
