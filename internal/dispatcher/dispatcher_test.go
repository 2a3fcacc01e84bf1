package dispatcher

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/runtime-trust-plane/internal/logging"
)

type fakeQueueStore struct {
	mu        sync.Mutex
	pending   []Job
	completed []int64
	failed    []int64
}

func (f *fakeQueueStore) Enqueue(_ context.Context, tenantID string, jobType JobType, payload json.RawMessage) (Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job := Job{ID: int64(len(f.pending) + 1), TenantID: tenantID, JobType: jobType, Payload: payload, Status: StatusQueued}
	f.pending = append(f.pending, job)
	return job, nil
}

func (f *fakeQueueStore) ClaimNext(context.Context) (*Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.pending) == 0 {
		return nil, nil
	}
	job := f.pending[0]
	f.pending = f.pending[1:]
	job.Status = StatusProcessing
	return &job, nil
}

func (f *fakeQueueStore) MarkCompleted(_ context.Context, jobID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed = append(f.completed, jobID)
	return nil
}

func (f *fakeQueueStore) MarkFailed(_ context.Context, jobID int64, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed = append(f.failed, jobID)
	return nil
}

func (f *fakeQueueStore) ReplayStuckProcessing(context.Context) ([]Job, error) { return nil, nil }

func TestDispatcherProcessesEnqueuedJob(t *testing.T) {
	store := &fakeQueueStore{}
	processed := make(chan int64, 1)

	handlers := map[JobType]Handler{
		JobStart: func(_ context.Context, job Job) error {
			processed <- job.ID
			return nil
		},
	}
	d := New(store, logging.New("test", "error", "json"), handlers, WithPollInterval(10*time.Millisecond))

	_, err := store.Enqueue(context.Background(), "tenant-1", JobStart, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	go d.Run(ctx)

	select {
	case id := <-processed:
		assert.Equal(t, int64(1), id)
	case <-time.After(500 * time.Millisecond):
		t.Fatal("job was never processed")
	}
}

func TestDispatcherFailsJobWithNoHandler(t *testing.T) {
	store := &fakeQueueStore{}
	d := New(store, logging.New("test", "error", "json"), map[JobType]Handler{}, WithPollInterval(10*time.Millisecond))

	_, err := store.Enqueue(context.Background(), "tenant-1", JobDelete, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_ = d.Run(ctx)

	store.mu.Lock()
	defer store.mu.Unlock()
	assert.Equal(t, []int64{1}, store.failed)
}

func TestRedactedPayloadScrubsSecretFields(t *testing.T) {
	raw := json.RawMessage(`{"server_id":"srv-1","api_key":"sk-live-abc123"}`)
	fields := redactedPayload(raw)
	assert.Equal(t, "srv-1", fields["server_id"])
	assert.Equal(t, "***REDACTED***", fields["api_key"])
}

func TestRedactedPayloadHandlesEmptyPayload(t *testing.T) {
	assert.Nil(t, redactedPayload(nil))
}
