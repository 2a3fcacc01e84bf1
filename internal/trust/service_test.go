package trust

import (
	"context"
	"testing"

	"github.com/R3E-Network/runtime-trust-plane/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	entry *Entry
	event Event
	err   error
}

func (f *fakeStore) GetState(ctx context.Context, vmInstanceID int64) (*Entry, error) {
	return f.entry, f.err
}

func (f *fakeStore) UpsertState(ctx context.Context, input UpsertInput, expectedVersion *int64) (Entry, Event, error) {
	if f.err != nil {
		return Entry{}, Event{}, f.err
	}
	return *f.entry, f.event, nil
}

func TestServiceGetStateDelegatesToStore(t *testing.T) {
	want := &Entry{VMInstanceID: 7, AttestationStatus: StatusTrusted}
	svc := NewService(&fakeStore{entry: want}, nil, logging.New("test", "error", "json"))
	got, err := svc.GetState(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestServiceUpsertStateSkipsPublishWithoutBus(t *testing.T) {
	entry := &Entry{VMInstanceID: 7, Version: 1, AttestationStatus: StatusTrusted}
	svc := NewService(&fakeStore{entry: entry, event: Event{VMInstanceID: 7, CurrentStatus: StatusTrusted, CurrentLifecycle: LifecycleRestored}}, nil, logging.New("test", "error", "json"))
	got, event, err := svc.UpsertState(context.Background(), UpsertInput{VMInstanceID: 7}, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(7), got.VMInstanceID)
	assert.Equal(t, StatusTrusted, event.CurrentStatus)
}
