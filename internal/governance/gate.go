// Package governance implements the Governance Gate: checks a completed
// promotion workflow run exists for a given (manifest_digest, tier) before
// the Runtime Policy Engine will treat an evaluation as satisfied.
package governance

import (
	"context"
	"database/sql"

	"github.com/R3E-Network/runtime-trust-plane/internal/apperrors"
)

// Readiness is the result of ensure_promotion_ready.
type Readiness struct {
	Satisfied bool
	RunID     *int64
	Notes     []string
}

// Store looks up completed promotion workflow runs.
type Store interface {
	NewestCompletedRun(ctx context.Context, manifestDigest, tier string) (*int64, error)
}

// PostgresStore is the Store backed by app_governance_runs.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore builds a PostgresStore.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) NewestCompletedRun(ctx context.Context, manifestDigest, tier string) (*int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
		SELECT id FROM app_governance_runs
		WHERE manifest_digest=$1 AND tier=$2 AND status='completed'
		ORDER BY completed_at DESC NULLS LAST LIMIT 1`, manifestDigest, tier).Scan(&id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Downstream("governance.newest_completed_run", err)
	}
	return &id, nil
}

// KeyBindingChecker reports whether a tier has an active BYOK key bound.
// Satisfied by *byok.Service.
type KeyBindingChecker interface {
	TierSatisfied(ctx context.Context, tier string) (bool, error)
}

// Gate evaluates promotion readiness.
type Gate struct {
	store     Store
	byok      KeyBindingChecker
	byokTiers map[string]bool
}

// New builds a Gate with no BYOK requirement configured.
func New(store Store) *Gate {
	return &Gate{store: store}
}

// WithBYOK attaches a KeyBindingChecker and the set of tiers that require
// an active bound key before promotion can be satisfied. A tier absent
// from requireForTiers is unaffected by BYOK coverage.
func (g *Gate) WithBYOK(checker KeyBindingChecker, requireForTiers []string) *Gate {
	g.byok = checker
	g.byokTiers = make(map[string]bool, len(requireForTiers))
	for _, tier := range requireForTiers {
		g.byokTiers[tier] = true
	}
	return g
}

// EnsurePromotionReady implements §4.I. When the gate has a BYOK checker
// configured and tier requires BYOK coverage, a tier otherwise ready is
// still blocked until an active key is bound.
func (g *Gate) EnsurePromotionReady(ctx context.Context, manifestDigest, tier string) (Readiness, error) {
	if manifestDigest == "" || tier == "" {
		return Readiness{Satisfied: false, Notes: []string{"policy_hook:governance-missing-input"}}, nil
	}

	runID, err := g.store.NewestCompletedRun(ctx, manifestDigest, tier)
	if err != nil {
		return Readiness{}, err
	}
	if runID == nil {
		return Readiness{Satisfied: false, Notes: []string{"policy_hook:governance-no-completed-run"}}, nil
	}

	if g.byok != nil && g.byokTiers[tier] {
		bound, err := g.byok.TierSatisfied(ctx, tier)
		if err != nil {
			return Readiness{}, err
		}
		if !bound {
			return Readiness{Satisfied: false, RunID: runID, Notes: []string{"policy_hook:governance-byok-unbound"}}, nil
		}
	}

	return Readiness{Satisfied: true, RunID: runID, Notes: []string{"policy_hook:governance-satisfied"}}, nil
}
