package trust

import (
	"context"

	"github.com/R3E-Network/runtime-trust-plane/internal/eventbus"
	"github.com/R3E-Network/runtime-trust-plane/internal/logging"
)

// Service is the Trust Registry's operation surface: GetState/UpsertState
// plus post-commit notification publishing over the event bus.
type Service struct {
	store Store
	bus   *eventbus.Bus
	log   *logging.Logger
}

// NewService builds a Trust Registry service over store, publishing
// transitions to bus on the runtime_vm_trust_transition channel.
func NewService(store Store, bus *eventbus.Bus, log *logging.Logger) *Service {
	return &Service{store: store, bus: bus, log: log}
}

// GetState implements get_state.
func (svc *Service) GetState(ctx context.Context, vmInstanceID int64) (*Entry, error) {
	return svc.store.GetState(ctx, vmInstanceID)
}

// UpsertState implements upsert_state, publishing the resulting transition
// after the underlying transaction commits. Publish failures are logged,
// not returned: per §9, notification-channel loss is tolerated because
// state is reconstructable from the registry table.
func (svc *Service) UpsertState(ctx context.Context, input UpsertInput, expectedVersion *int64) (Entry, Event, error) {
	entry, event, err := svc.store.UpsertState(ctx, input, expectedVersion)
	if err != nil {
		return Entry{}, Event{}, err
	}

	svc.log.LogTrustTransition(ctx, input.VMInstanceID, lifecycleOrEmpty(event.PreviousLifecycle), string(event.CurrentLifecycle), event.TransitionReason)

	if svc.bus != nil {
		notification := Notification{
			RuntimeVMInstanceID:    event.VMInstanceID,
			AttestationID:          event.AttestationID,
			PreviousStatus:         event.PreviousStatus,
			CurrentStatus:          event.CurrentStatus,
			PreviousLifecycleState: event.PreviousLifecycle,
			CurrentLifecycleState:  event.CurrentLifecycle,
			TransitionReason:       event.TransitionReason,
			RemediationState:       event.RemediationState,
			RemediationAttempts:    event.RemediationAttempts,
			FreshnessDeadline:      event.FreshnessDeadline,
			ProvenanceRef:          event.ProvenanceRef,
			TriggeredAt:            event.TriggeredAt,
		}
		if pubErr := svc.bus.Publish(ctx, TransitionChannel, notification); pubErr != nil {
			svc.log.WithError(pubErr).Warn("trust transition publish failed, registry is still authoritative")
		}
	}

	return entry, event, nil
}

func lifecycleOrEmpty(l *LifecycleState) string {
	if l == nil {
		return ""
	}
	return string(*l)
}
