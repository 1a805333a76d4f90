package domain

import "context"

// BacktestStore persists completed backtest runs and their trade ledgers.
type BacktestStore interface {
	SaveResult(ctx context.Context, res BacktestResult) error
	GetResult(ctx context.Context, runID string) (BacktestResult, error)
	ListRecent(ctx context.Context, symbol string, limit int) ([]BacktestResult, error)
}

// BreachStore is the audit log of risk limit breaches.
type BreachStore interface {
	Insert(ctx context.Context, breach LimitBreach) error
	ListRecent(ctx context.Context, symbol string, limit int) ([]LimitBreach, error)
}
