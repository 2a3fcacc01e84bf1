package byok

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/R3E-Network/runtime-trust-plane/internal/apperrors"
)

// KeyState is a ProviderKey lifecycle state, mirroring RemediationRun's
// persisted-state-machine idiom.
type KeyState string

const (
	KeyPendingRegistration KeyState = "pending_registration"
	KeyActive              KeyState = "active"
	KeyRotating            KeyState = "rotating"
	KeyRetired             KeyState = "retired"
	KeyCompromised         KeyState = "compromised"
)

// allowedKeyTransitions enumerates the legal KeyState edges.
var allowedKeyTransitions = map[KeyState][]KeyState{
	KeyPendingRegistration: {KeyActive, KeyCompromised},
	KeyActive:              {KeyRotating, KeyRetired, KeyCompromised},
	KeyRotating:            {KeyActive, KeyRetired, KeyCompromised},
	KeyRetired:             {},
	KeyCompromised:         {},
}

// CanTransition reports whether from -> to is a legal ProviderKey edge.
func CanTransition(from, to KeyState) bool {
	for _, allowed := range allowedKeyTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// ProviderKey is one app_provider_keys row. EncryptedKey is produced by
// EncryptEnvelope against the module's master key.
type ProviderKey struct {
	ID           int64
	TenantID     string
	Fingerprint  string
	EncryptedKey []byte
	State        KeyState
	Version      int64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Binding attaches a key version to a tier requirement.
type Binding struct {
	ID            int64
	ProviderKeyID int64
	Tier          string
	KeyVersion    int64
	CreatedAt     time.Time
}

// Rotation status values.
const (
	RotationPending  = "pending"
	RotationApproved = "approved"
	RotationRejected = "rejected"
)

// Rotation is an auditable request->approve flow for rotating a key.
type Rotation struct {
	ID            int64
	ProviderKeyID int64
	RequestedAt   time.Time
	ApprovedAt    *time.Time
	Status        string
}

// Store persists ProviderKey/Binding/Rotation state.
type Store interface {
	Register(ctx context.Context, tenantID, fingerprint string, encryptedKey []byte) (ProviderKey, error)
	Transition(ctx context.Context, keyID int64, to KeyState, expectedVersion int64) (ProviderKey, error)
	GetByID(ctx context.Context, keyID int64) (*ProviderKey, error)
	Bind(ctx context.Context, keyID int64, tier string, keyVersion int64) (Binding, error)
	ActiveBindingForTier(ctx context.Context, tier string) (*Binding, error)
	RequestRotation(ctx context.Context, keyID int64) (Rotation, error)
	ApproveRotation(ctx context.Context, rotationID int64) error
}

// PostgresStore is the Store backed by app_provider_keys and friends.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore builds a PostgresStore.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const providerKeyColumns = `id, tenant_id, fingerprint, encrypted_key, state, version, created_at, updated_at`

func (s *PostgresStore) Register(ctx context.Context, tenantID, fingerprint string, encryptedKey []byte) (ProviderKey, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO app_provider_keys (tenant_id, fingerprint, encrypted_key)
		VALUES ($1,$2,$3) RETURNING `+providerKeyColumns,
		tenantID, fingerprint, encryptedKey)
	key, err := scanProviderKey(row)
	if err != nil {
		return ProviderKey{}, apperrors.Downstream("byok.register", err)
	}
	return key, nil
}

// Transition moves a key to a new state under optimistic concurrency,
// rejecting the call outright if the edge is not in allowedKeyTransitions.
func (s *PostgresStore) Transition(ctx context.Context, keyID int64, to KeyState, expectedVersion int64) (ProviderKey, error) {
	existing, err := s.GetByID(ctx, keyID)
	if err != nil {
		return ProviderKey{}, err
	}
	if existing == nil {
		return ProviderKey{}, apperrors.NotFound("provider_key", fmt.Sprintf("%d", keyID))
	}
	if !CanTransition(existing.State, to) {
		return ProviderKey{}, apperrors.BadRequest(fmt.Sprintf("illegal provider key transition %s -> %s", existing.State, to))
	}

	row := s.db.QueryRowContext(ctx, `
		UPDATE app_provider_keys SET state=$1, version=version+1, updated_at=now()
		WHERE id=$2 AND version=$3
		RETURNING `+providerKeyColumns, string(to), keyID, expectedVersion)
	key, err := scanProviderKey(row)
	if err == sql.ErrNoRows {
		return ProviderKey{}, apperrors.VersionConflict("provider_key", expectedVersion, existing.Version)
	}
	if err != nil {
		return ProviderKey{}, apperrors.Downstream("byok.transition", err)
	}
	return key, nil
}

func (s *PostgresStore) GetByID(ctx context.Context, keyID int64) (*ProviderKey, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+providerKeyColumns+` FROM app_provider_keys WHERE id=$1`, keyID)
	key, err := scanProviderKey(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Downstream("byok.get_by_id", err)
	}
	return &key, nil
}

func (s *PostgresStore) Bind(ctx context.Context, keyID int64, tier string, keyVersion int64) (Binding, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO app_provider_key_bindings (provider_key_id, tier, key_version)
		VALUES ($1,$2,$3)
		ON CONFLICT (tier, key_version) DO UPDATE SET provider_key_id=EXCLUDED.provider_key_id
		RETURNING id, provider_key_id, tier, key_version, created_at`, keyID, tier, keyVersion)

	var b Binding
	if err := row.Scan(&b.ID, &b.ProviderKeyID, &b.Tier, &b.KeyVersion, &b.CreatedAt); err != nil {
		return Binding{}, apperrors.Downstream("byok.bind", err)
	}
	return b, nil
}

// ActiveBindingForTier returns the binding for tier whose key is active,
// newest key version first.
func (s *PostgresStore) ActiveBindingForTier(ctx context.Context, tier string) (*Binding, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT binding.id, binding.provider_key_id, binding.tier, binding.key_version, binding.created_at
		FROM app_provider_key_bindings binding
		JOIN app_provider_keys key ON key.id = binding.provider_key_id
		WHERE binding.tier=$1 AND key.state=$2
		ORDER BY binding.key_version DESC LIMIT 1`, tier, string(KeyActive))

	var b Binding
	err := row.Scan(&b.ID, &b.ProviderKeyID, &b.Tier, &b.KeyVersion, &b.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Downstream("byok.active_binding_for_tier", err)
	}
	return &b, nil
}

func (s *PostgresStore) RequestRotation(ctx context.Context, keyID int64) (Rotation, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO app_provider_key_rotations (provider_key_id, status)
		VALUES ($1,$2) RETURNING id, provider_key_id, requested_at, approved_at, status`,
		keyID, RotationPending)

	var r Rotation
	var approvedAt sql.NullTime
	if err := row.Scan(&r.ID, &r.ProviderKeyID, &r.RequestedAt, &approvedAt, &r.Status); err != nil {
		return Rotation{}, apperrors.Downstream("byok.request_rotation", err)
	}
	if approvedAt.Valid {
		t := approvedAt.Time
		r.ApprovedAt = &t
	}
	return r, nil
}

func (s *PostgresStore) ApproveRotation(ctx context.Context, rotationID int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE app_provider_key_rotations SET status=$1, approved_at=now() WHERE id=$2`,
		RotationApproved, rotationID)
	if err != nil {
		return apperrors.Downstream("byok.approve_rotation", err)
	}
	return nil
}

func scanProviderKey(row *sql.Row) (ProviderKey, error) {
	var k ProviderKey
	var state string
	err := row.Scan(&k.ID, &k.TenantID, &k.Fingerprint, &k.EncryptedKey, &state, &k.Version, &k.CreatedAt, &k.UpdatedAt)
	if err != nil {
		return ProviderKey{}, err
	}
	k.State = KeyState(state)
	return k, nil
}
