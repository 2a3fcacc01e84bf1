package main

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/runtime-trust-plane/internal/apperrors"
	"github.com/R3E-Network/runtime-trust-plane/internal/dispatcher"
	"github.com/R3E-Network/runtime-trust-plane/internal/policy"
	"github.com/R3E-Network/runtime-trust-plane/internal/provisioner"
	"github.com/R3E-Network/runtime-trust-plane/internal/vminstance"
)

type stubInstanceStore struct {
	vminstance.Store
	instance    *vminstance.Instance
	terminated  int64
	terminateAt time.Time
}

func (s *stubInstanceStore) LatestNonTerminatedByServer(ctx context.Context, serverID string) (*vminstance.Instance, error) {
	return s.instance, nil
}

func (s *stubInstanceStore) Terminate(ctx context.Context, id int64, at time.Time) error {
	s.terminated = id
	s.terminateAt = at
	return nil
}

type stubProvisioner struct {
	provisioner.Provisioner
	stopped   string
	tornDown  string
	returnErr error
}

func (s *stubProvisioner) Stop(ctx context.Context, instanceID string) error {
	s.stopped = instanceID
	return s.returnErr
}

func (s *stubProvisioner) Teardown(ctx context.Context, instanceID string) error {
	s.tornDown = instanceID
	return s.returnErr
}

func job(jobType dispatcher.JobType, payload interface{}) dispatcher.Job {
	raw, _ := json.Marshal(payload)
	return dispatcher.Job{ID: 1, JobType: jobType, Payload: raw}
}

func TestHandleStartInvalidPayload(t *testing.T) {
	handler := handleStart(jobHandlerDeps{})
	err := handler(context.Background(), dispatcher.Job{Payload: json.RawMessage(`not-json`)})
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindBadRequest))
}

func TestHandleStopInvalidPayload(t *testing.T) {
	handler := handleStop(jobHandlerDeps{})
	err := handler(context.Background(), dispatcher.Job{Payload: json.RawMessage(`not-json`)})
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindBadRequest))
}

func TestHandleStopInstanceNotFound(t *testing.T) {
	deps := jobHandlerDeps{
		instances:    &stubInstanceStore{instance: nil},
		provisioners: map[string]provisioner.Provisioner{},
	}
	handler := handleStop(deps)
	err := handler(context.Background(), job(dispatcher.JobStop, instancePayload{ServerID: "srv-1"}))
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindNotFound))
}

func TestHandleStopNoAdapterRegistered(t *testing.T) {
	deps := jobHandlerDeps{
		instances:    &stubInstanceStore{instance: &vminstance.Instance{ID: 1, ServerID: "srv-1", InstanceID: "inst-1"}},
		provisioners: map[string]provisioner.Provisioner{},
	}
	handler := handleStop(deps)
	err := handler(context.Background(), job(dispatcher.JobStop, instancePayload{ServerID: "srv-1"}))
	require.Error(t, err)
}

func TestHandleStopCallsProvisionerStop(t *testing.T) {
	adapter := &stubProvisioner{}
	deps := jobHandlerDeps{
		instances: &stubInstanceStore{instance: &vminstance.Instance{ID: 1, ServerID: "srv-1", InstanceID: "inst-1"}},
		provisioners: map[string]provisioner.Provisioner{
			policy.BackendContainerDaemon: adapter,
		},
	}
	handler := handleStop(deps)
	err := handler(context.Background(), job(dispatcher.JobStop, instancePayload{ServerID: "srv-1"}))
	require.NoError(t, err)
	assert.Equal(t, "inst-1", adapter.stopped)
}

func TestHandleDeleteTearsDownAndTerminates(t *testing.T) {
	adapter := &stubProvisioner{}
	store := &stubInstanceStore{instance: &vminstance.Instance{ID: 7, ServerID: "srv-1", InstanceID: "inst-1"}}
	deps := jobHandlerDeps{
		instances: store,
		provisioners: map[string]provisioner.Provisioner{
			policy.BackendContainerDaemon: adapter,
		},
	}
	handler := handleDelete(deps)
	err := handler(context.Background(), job(dispatcher.JobDelete, instancePayload{ServerID: "srv-1"}))
	require.NoError(t, err)
	assert.Equal(t, "inst-1", adapter.tornDown)
	assert.Equal(t, int64(7), store.terminated)
}

func TestHandleDeleteInvalidPayload(t *testing.T) {
	handler := handleDelete(jobHandlerDeps{})
	err := handler(context.Background(), dispatcher.Job{Payload: json.RawMessage(`not-json`)})
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindBadRequest))
}

func TestHandleIntelligenceRefreshInvalidPayload(t *testing.T) {
	handler := handleIntelligenceRefresh(jobHandlerDeps{})
	err := handler(context.Background(), dispatcher.Job{Payload: json.RawMessage(`not-json`)})
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindBadRequest))
}

func TestHandleEvaluationRefreshInvalidPayload(t *testing.T) {
	handler := handleEvaluationRefresh(jobHandlerDeps{})
	err := handler(context.Background(), dispatcher.Job{Payload: json.RawMessage(`not-json`)})
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindBadRequest))
}

func TestBuildJobHandlersRegistersAllJobTypes(t *testing.T) {
	handlers := buildJobHandlers(jobHandlerDeps{})
	for _, jobType := range []dispatcher.JobType{
		dispatcher.JobStart,
		dispatcher.JobStop,
		dispatcher.JobDelete,
		dispatcher.JobIntelligenceRefresh,
		dispatcher.JobEvaluationRefresh,
	} {
		_, ok := handlers[jobType]
		assert.True(t, ok, "missing handler for %s", jobType)
	}
}
