package intelligence

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/R3E-Network/runtime-trust-plane/internal/apperrors"
	"github.com/R3E-Network/runtime-trust-plane/internal/storage"
)

// Store persists capability scores.
type Store interface {
	Upsert(ctx context.Context, score Score) (Score, error)
	ByServer(ctx context.Context, serverID string) ([]Score, error)
}

// PostgresStore is the Store backed by app_intelligence_scores.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore builds a PostgresStore.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const scoreColumns = `id, tenant_id, server_id, capability, backend, tier, score, status,
	confidence, notes, evidence, computed_at`

func (s *PostgresStore) Upsert(ctx context.Context, score Score) (Score, error) {
	notes, err := json.Marshal(orEmpty(score.Notes))
	if err != nil {
		return Score{}, apperrors.Downstream("intelligence.upsert.marshal_notes", err)
	}
	evidence, err := json.Marshal(orEmpty(score.Evidence))
	if err != nil {
		return Score{}, apperrors.Downstream("intelligence.upsert.marshal_evidence", err)
	}

	row := s.db.QueryRowContext(ctx, `
		INSERT INTO app_intelligence_scores
			(tenant_id, server_id, capability, backend, tier, score, status, confidence, notes, evidence, computed_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10, now())
		ON CONFLICT (server_id, capability, backend, tier)
		DO UPDATE SET score=EXCLUDED.score, status=EXCLUDED.status, confidence=EXCLUDED.confidence,
		              notes=EXCLUDED.notes, evidence=EXCLUDED.evidence, computed_at=now()
		RETURNING `+scoreColumns,
		score.TenantID, score.ServerID, score.Capability, score.Backend, storage.ToNullString(score.Tier),
		score.Value, score.Status, score.Confidence, notes, evidence,
	)

	return scanScore(row)
}

func (s *PostgresStore) ByServer(ctx context.Context, serverID string) ([]Score, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+scoreColumns+` FROM app_intelligence_scores WHERE server_id=$1`, serverID)
	if err != nil {
		return nil, apperrors.Downstream("intelligence.by_server", err)
	}
	defer rows.Close()

	var scores []Score
	for rows.Next() {
		score, err := scanScore(rows)
		if err != nil {
			return nil, err
		}
		scores = append(scores, score)
	}
	return scores, rows.Err()
}

func scanScore(scanner storage.RowScanner) (Score, error) {
	var sc Score
	var tier sql.NullString
	var notes, evidence []byte

	err := scanner.Scan(&sc.ID, &sc.TenantID, &sc.ServerID, &sc.Capability, &sc.Backend, &tier,
		&sc.Value, &sc.Status, &sc.Confidence, &notes, &evidence, &sc.ComputedAt)
	if err != nil {
		return Score{}, apperrors.Downstream("intelligence.upsert.scan", err)
	}
	sc.Tier = storage.StringOrEmpty(tier)
	_ = json.Unmarshal(notes, &sc.Notes)
	_ = json.Unmarshal(evidence, &sc.Evidence)
	return sc, nil
}

func orEmpty(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}
