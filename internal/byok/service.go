package byok

import (
	"context"

	"github.com/R3E-Network/runtime-trust-plane/internal/apperrors"
	"github.com/R3E-Network/runtime-trust-plane/internal/logging"
)

// Service drives the ProviderKey lifecycle: registration, activation,
// rotation, and retirement/compromise, persisting every transition via
// Store and encrypting key material at rest with EncryptEnvelope.
type Service struct {
	store     Store
	masterKey []byte
	log       *logging.Logger
}

// New builds a Service. masterKey is the module's envelope-encryption
// master key used to seal key material before it is persisted.
func New(store Store, masterKey []byte, log *logging.Logger) *Service {
	return &Service{store: store, masterKey: masterKey, log: log}
}

// RegisterKey seals plaintextKey under the tenant's envelope and persists
// a new ProviderKey in pending_registration state.
func (s *Service) RegisterKey(ctx context.Context, tenantID, fingerprint string, plaintextKey []byte) (ProviderKey, error) {
	sealed, err := EncryptEnvelope(s.masterKey, []byte(tenantID), fingerprint, plaintextKey)
	if err != nil {
		return ProviderKey{}, apperrors.Downstream("byok.register_key.seal", err)
	}
	return s.store.Register(ctx, tenantID, fingerprint, sealed)
}

// Activate moves a pending_registration key to active.
func (s *Service) Activate(ctx context.Context, keyID int64, expectedVersion int64) (ProviderKey, error) {
	key, err := s.store.Transition(ctx, keyID, KeyActive, expectedVersion)
	if err != nil {
		return ProviderKey{}, err
	}
	s.log.Info(ctx, "provider key activated", map[string]interface{}{"provider_key_id": keyID})
	return key, nil
}

// BeginRotation moves an active key to rotating and records a pending
// Rotation request, following the remediation run's request/approve idiom.
func (s *Service) BeginRotation(ctx context.Context, keyID int64, expectedVersion int64) (ProviderKey, Rotation, error) {
	key, err := s.store.Transition(ctx, keyID, KeyRotating, expectedVersion)
	if err != nil {
		return ProviderKey{}, Rotation{}, err
	}
	rotation, err := s.store.RequestRotation(ctx, keyID)
	if err != nil {
		return ProviderKey{}, Rotation{}, err
	}
	return key, rotation, nil
}

// CompleteRotation approves rotation and returns the key to active.
func (s *Service) CompleteRotation(ctx context.Context, keyID, rotationID int64, expectedVersion int64) (ProviderKey, error) {
	if err := s.store.ApproveRotation(ctx, rotationID); err != nil {
		return ProviderKey{}, err
	}
	return s.store.Transition(ctx, keyID, KeyActive, expectedVersion)
}

// Retire moves a key to retired from any state that allows it.
func (s *Service) Retire(ctx context.Context, keyID int64, expectedVersion int64) (ProviderKey, error) {
	return s.store.Transition(ctx, keyID, KeyRetired, expectedVersion)
}

// MarkCompromised moves a key directly to compromised, the terminal
// emergency edge available from pending_registration, active, or rotating.
func (s *Service) MarkCompromised(ctx context.Context, keyID int64, expectedVersion int64) (ProviderKey, error) {
	key, err := s.store.Transition(ctx, keyID, KeyCompromised, expectedVersion)
	if err != nil {
		return ProviderKey{}, err
	}
	s.log.Warn(ctx, "provider key marked compromised", map[string]interface{}{"provider_key_id": keyID})
	return key, nil
}

// BindTier attaches an active key's current version to a tier requirement.
func (s *Service) BindTier(ctx context.Context, keyID int64, tier string) (Binding, error) {
	key, err := s.store.GetByID(ctx, keyID)
	if err != nil {
		return Binding{}, err
	}
	if key == nil {
		return Binding{}, apperrors.NotFound("provider_key", "")
	}
	if key.State != KeyActive {
		return Binding{}, apperrors.BadRequest("only an active provider key may be bound to a tier")
	}
	return s.store.Bind(ctx, keyID, tier, key.Version)
}

// TierSatisfied reports whether tier has an active key bound — the check
// the Governance Gate consults when a tier is configured to require BYOK.
func (s *Service) TierSatisfied(ctx context.Context, tier string) (bool, error) {
	binding, err := s.store.ActiveBindingForTier(ctx, tier)
	if err != nil {
		return false, err
	}
	return binding != nil, nil
}
