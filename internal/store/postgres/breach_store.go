package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/mmengine/internal/domain"
)

// BreachStore implements domain.BreachStore over the risk_breaches table.
type BreachStore struct {
	pool *pgxpool.Pool
}

// NewBreachStore creates a BreachStore backed by pool.
func NewBreachStore(pool *pgxpool.Pool) *BreachStore {
	return &BreachStore{pool: pool}
}

// Insert appends a breach record. Re-inserting an ID is a no-op.
func (s *BreachStore) Insert(ctx context.Context, b domain.LimitBreach) error {
	snap, err := json.Marshal(b.Snapshot)
	if err != nil {
		return fmt.Errorf("postgres: marshal risk snapshot: %w", err)
	}
	pos, err := json.Marshal(b.Position)
	if err != nil {
		return fmt.Errorf("postgres: marshal position: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO risk_breaches (id, symbol, violations, action, snapshot, position, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING`,
		b.ID, b.Symbol, b.Violations, b.Action, snap, pos, b.OccurredAt)
	if err != nil {
		return fmt.Errorf("postgres: insert breach %s: %w", b.ID, err)
	}
	return nil
}

// ListRecent returns the newest breaches for symbol, or for every symbol
// when symbol is empty.
func (s *BreachStore) ListRecent(ctx context.Context, symbol string, limit int) ([]domain.LimitBreach, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, symbol, violations, action, snapshot, position, occurred_at
		FROM risk_breaches
		WHERE ($1 = '' OR symbol = $1)
		ORDER BY occurred_at DESC LIMIT $2`, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list breaches: %w", err)
	}
	defer rows.Close()

	var out []domain.LimitBreach
	for rows.Next() {
		var b domain.LimitBreach
		var snap, pos []byte
		if err := rows.Scan(&b.ID, &b.Symbol, &b.Violations, &b.Action, &snap, &pos, &b.OccurredAt); err != nil {
			return nil, fmt.Errorf("postgres: scan breach: %w", err)
		}
		if err := json.Unmarshal(snap, &b.Snapshot); err != nil {
			return nil, fmt.Errorf("postgres: unmarshal breach snapshot: %w", err)
		}
		if err := json.Unmarshal(pos, &b.Position); err != nil {
			return nil, fmt.Errorf("postgres: unmarshal breach position: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

var _ domain.BreachStore = (*BreachStore)(nil)
