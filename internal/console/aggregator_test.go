package console

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/runtime-trust-plane/internal/intelligence"
	"github.com/R3E-Network/runtime-trust-plane/internal/logging"
	"github.com/R3E-Network/runtime-trust-plane/internal/policy"
	"github.com/R3E-Network/runtime-trust-plane/internal/remediation"
	"github.com/R3E-Network/runtime-trust-plane/internal/trust"
	"github.com/R3E-Network/runtime-trust-plane/internal/vminstance"
)

type fakeInstanceStore struct {
	pages [][]vminstance.Instance
	calls int
}

func (f *fakeInstanceStore) Create(context.Context, vminstance.Instance) (vminstance.Instance, error) {
	return vminstance.Instance{}, nil
}
func (f *fakeInstanceStore) UpdateAttestation(context.Context, int64, string, []byte) error { return nil }
func (f *fakeInstanceStore) SetInstanceID(context.Context, int64, string) error              { return nil }
func (f *fakeInstanceStore) Terminate(context.Context, int64, time.Time) error                { return nil }
func (f *fakeInstanceStore) GetByID(context.Context, int64) (*vminstance.Instance, error)      { return nil, nil }
func (f *fakeInstanceStore) LatestNonTerminatedByServer(context.Context, string) (*vminstance.Instance, error) {
	return nil, nil
}
func (f *fakeInstanceStore) ListPage(context.Context, int64, int) ([]vminstance.Instance, error) {
	if f.calls >= len(f.pages) {
		return nil, nil
	}
	page := f.pages[f.calls]
	f.calls++
	return page, nil
}

type fakeTrustStore struct {
	entry *trust.Entry
}

func (f *fakeTrustStore) GetState(context.Context, int64) (*trust.Entry, error) { return f.entry, nil }
func (f *fakeTrustStore) UpsertState(context.Context, trust.UpsertInput, *int64) (trust.Entry, trust.Event, error) {
	return trust.Entry{}, trust.Event{}, nil
}

type fakeRunStore struct {
	active *remediation.Run
}

func (f *fakeRunStore) EnsureRunningPlaybook(context.Context, string, int64, string, bool, []byte) (remediation.Run, error) {
	return remediation.Run{}, nil
}
func (f *fakeRunStore) MarkRunCompleted(context.Context, int64) error { return nil }
func (f *fakeRunStore) MarkRunFailed(context.Context, int64, string, remediation.FailureClass) error {
	return nil
}
func (f *fakeRunStore) ActiveRun(context.Context, int64) (*remediation.Run, error) { return f.active, nil }
func (f *fakeRunStore) LatestRun(context.Context, int64) (*remediation.Run, error) { return nil, nil }

type fakeScoreStore struct {
	scores []intelligence.Score
}

func (f *fakeScoreStore) Upsert(context.Context, intelligence.Score) (intelligence.Score, error) {
	return intelligence.Score{}, nil
}
func (f *fakeScoreStore) ByServer(context.Context, string) ([]intelligence.Score, error) {
	return f.scores, nil
}

type fakeDecisionStore struct {
	decision *policy.Decision
}

func (f *fakeDecisionStore) Insert(context.Context, policy.Decision) (policy.Decision, error) {
	return policy.Decision{}, nil
}
func (f *fakeDecisionStore) LatestByServer(context.Context, string) (*policy.Decision, error) {
	return f.decision, nil
}

func TestPollReturnsHeartbeatOnEmptyPage(t *testing.T) {
	agg := New(&fakeInstanceStore{}, trust.NewService(&fakeTrustStore{}, nil, logging.New("test", "error", "json")),
		&fakeRunStore{}, &fakeScoreStore{}, &fakeDecisionStore{})

	envelope, err := agg.Poll(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, EnvelopeHeartbeat, envelope.Kind)
}

func TestPollEmitsSnapshotWithNoDeltaOnFirstSight(t *testing.T) {
	instances := &fakeInstanceStore{pages: [][]vminstance.Instance{
		{{ID: 1, ServerID: "server-1"}},
	}}
	agg := New(instances, trust.NewService(&fakeTrustStore{entry: &trust.Entry{LifecycleState: trust.LifecycleRestored}}, nil, logging.New("test", "error", "json")),
		&fakeRunStore{}, &fakeScoreStore{}, &fakeDecisionStore{})

	envelope, err := agg.Poll(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, EnvelopeSnapshot, envelope.Kind)
	require.Len(t, envelope.Snapshots, 1)
	assert.Empty(t, envelope.Deltas)
	assert.Equal(t, int64(1), envelope.Cursor)
}

func TestPollEmitsDeltaWhenLifecycleChangesBetweenPolls(t *testing.T) {
	trustStore := &fakeTrustStore{entry: &trust.Entry{LifecycleState: trust.LifecycleRestored}}
	instances := &fakeInstanceStore{pages: [][]vminstance.Instance{
		{{ID: 1, ServerID: "server-1"}},
		{{ID: 1, ServerID: "server-1"}},
	}}
	agg := New(instances, trust.NewService(trustStore, nil, logging.New("test", "error", "json")),
		&fakeRunStore{}, &fakeScoreStore{}, &fakeDecisionStore{})

	_, err := agg.Poll(context.Background(), 0)
	require.NoError(t, err)

	trustStore.entry = &trust.Entry{LifecycleState: trust.LifecycleQuarantined}
	envelope, err := agg.Poll(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, envelope.Deltas, 1)
	assert.Contains(t, envelope.Deltas[0].FieldDiffs["trust_lifecycle"], "restored -> quarantined")
}

func TestClampHeartbeatBounds(t *testing.T) {
	assert.Equal(t, DefaultHeartbeat, ClampHeartbeat(0))
	assert.Equal(t, MinHeartbeat, ClampHeartbeat(100*time.Millisecond))
	assert.Equal(t, MaxHeartbeat, ClampHeartbeat(time.Hour))
	assert.Equal(t, 10*time.Second, ClampHeartbeat(10*time.Second))
}
