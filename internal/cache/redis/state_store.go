package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/mmengine/internal/domain"
)

// StateStore implements domain.StateStore with one JSON value per symbol.
type StateStore struct {
	c   *Client
	ttl time.Duration
}

// NewStateStore creates a StateStore. A zero ttl keeps snapshots forever.
func NewStateStore(c *Client, ttl time.Duration) *StateStore {
	return &StateStore{c: c, ttl: ttl}
}

// Save overwrites the snapshot for snap.Symbol.
func (s *StateStore) Save(ctx context.Context, snap domain.StateSnapshot) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("redis: encode state %s: %w", snap.Symbol, err)
	}
	if err := s.c.rdb.Set(ctx, s.c.key("state", snap.Symbol), raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis: save state %s: %w", snap.Symbol, err)
	}
	return nil
}

// Load returns the last snapshot for symbol or domain.ErrNotFound.
func (s *StateStore) Load(ctx context.Context, symbol string) (domain.StateSnapshot, error) {
	raw, err := s.c.rdb.Get(ctx, s.c.key("state", symbol)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.StateSnapshot{}, fmt.Errorf("redis: state %s: %w", symbol, domain.ErrNotFound)
	}
	if err != nil {
		return domain.StateSnapshot{}, fmt.Errorf("redis: load state %s: %w", symbol, err)
	}
	var snap domain.StateSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return domain.StateSnapshot{}, fmt.Errorf("redis: decode state %s: %w", symbol, err)
	}
	return snap, nil
}

// Delete removes the snapshot for symbol.
func (s *StateStore) Delete(ctx context.Context, symbol string) error {
	if err := s.c.rdb.Del(ctx, s.c.key("state", symbol)).Err(); err != nil {
		return fmt.Errorf("redis: delete state %s: %w", symbol, err)
	}
	return nil
}

var _ domain.StateStore = (*StateStore)(nil)
