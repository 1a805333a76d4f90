package domain

import (
	"context"
	"time"
)

// BookCache stores the latest order book view per symbol for readers
// outside the engine process.
type BookCache interface {
	SetSnapshot(ctx context.Context, snap OrderBookSnapshot, stats BookStats) error
	GetSnapshot(ctx context.Context, symbol string) (OrderBookSnapshot, error)
	GetStats(ctx context.Context, symbol string) (BookStats, error)
}

// StateStore persists engine state snapshots so a restarted process can
// resume with warm estimators.
type StateStore interface {
	Save(ctx context.Context, snap StateSnapshot) error
	Load(ctx context.Context, symbol string) (StateSnapshot, error)
	Delete(ctx context.Context, symbol string) error
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error)
}

// Lease is a held lock.
type Lease interface {
	// Lost is closed once the lock can no longer be extended, after which
	// another owner may hold it.
	Lost() <-chan struct{}
	// Release gives the lock up. It is idempotent.
	Release()
}

// StreamMessage represents a single entry from a Redis stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}
