package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/mmengine/internal/domain"
)

// BacktestStore implements domain.BacktestStore.
type BacktestStore struct {
	pool *pgxpool.Pool
}

// NewBacktestStore creates a BacktestStore backed by pool.
func NewBacktestStore(pool *pgxpool.Pool) *BacktestStore {
	return &BacktestStore{pool: pool}
}

const runSelectCols = `run_id, symbol, start_time, end_time, ticks, quotes_emitted,
	breaches, initial_capital, final_capital, total_return, annualized_return,
	annualized_volatility, sharpe, sortino, calmar, max_drawdown, profit_factor,
	win_rate, total_trades, winning_trades, avg_trade_pnl, total_fees,
	final_position, equity_curve`

// SaveResult writes the run and its trade ledger in one transaction.
// Saving the same run ID twice fails.
func (s *BacktestStore) SaveResult(ctx context.Context, res domain.BacktestResult) error {
	pos, err := json.Marshal(res.FinalPosition)
	if err != nil {
		return fmt.Errorf("postgres: marshal final position: %w", err)
	}
	curve, err := json.Marshal(res.EquityCurve)
	if err != nil {
		return fmt.Errorf("postgres: marshal equity curve: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin save run %s: %w", res.RunID, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO backtest_runs (`+runSelectCols+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12,
		        $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24)`,
		res.RunID, res.Symbol, res.StartTime, res.EndTime, res.Ticks, res.QuotesEmitted,
		res.Breaches, res.InitialCapital, res.FinalCapital, res.TotalReturn, res.AnnualizedReturn,
		res.AnnualizedVolatility, res.Sharpe, res.Sortino, res.Calmar, res.MaxDrawdown, res.ProfitFactor,
		res.WinRate, res.TotalTrades, res.WinningTrades, res.AvgTradePnL, res.TotalFees,
		pos, curve,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert run %s: %w", res.RunID, err)
	}

	if len(res.Trades) > 0 {
		batch := &pgx.Batch{}
		const q = `
			INSERT INTO backtest_trades (
				run_id, seq, fill_id, side, price, quantity, fee,
				is_adverse, pnl, position_after, ts
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
		for i, t := range res.Trades {
			batch.Queue(q, res.RunID, i, t.Fill.ID, string(t.Fill.Side), t.Fill.Price,
				t.Fill.Quantity, t.Fill.Fee, t.Fill.IsAdverse, t.PnL, t.PositionAfter, t.Fill.Timestamp)
		}
		br := tx.SendBatch(ctx, batch)
		for i := range res.Trades {
			if _, err := br.Exec(); err != nil {
				_ = br.Close()
				return fmt.Errorf("postgres: insert trade %d of run %s: %w", i, res.RunID, err)
			}
		}
		if err := br.Close(); err != nil {
			return fmt.Errorf("postgres: close trade batch: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit run %s: %w", res.RunID, err)
	}
	return nil
}

// GetResult loads a run with its trades, or domain.ErrNotFound.
func (s *BacktestStore) GetResult(ctx context.Context, runID string) (domain.BacktestResult, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+runSelectCols+` FROM backtest_runs WHERE run_id = $1`, runID)
	res, err := scanRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.BacktestResult{}, fmt.Errorf("postgres: run %s: %w", runID, domain.ErrNotFound)
	}
	if err != nil {
		return domain.BacktestResult{}, fmt.Errorf("postgres: get run %s: %w", runID, err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT fill_id, side, price, quantity, fee, is_adverse, pnl, position_after, ts
		FROM backtest_trades WHERE run_id = $1 ORDER BY seq`, runID)
	if err != nil {
		return domain.BacktestResult{}, fmt.Errorf("postgres: list trades %s: %w", runID, err)
	}
	defer rows.Close()
	for rows.Next() {
		var t domain.TradeRecord
		var side string
		if err := rows.Scan(&t.Fill.ID, &side, &t.Fill.Price, &t.Fill.Quantity, &t.Fill.Fee,
			&t.Fill.IsAdverse, &t.PnL, &t.PositionAfter, &t.Fill.Timestamp); err != nil {
			return domain.BacktestResult{}, fmt.Errorf("postgres: scan trade: %w", err)
		}
		t.Fill.Side = domain.Side(side)
		t.Fill.Symbol = res.Symbol
		res.Trades = append(res.Trades, t)
	}
	if err := rows.Err(); err != nil {
		return domain.BacktestResult{}, fmt.Errorf("postgres: trades rows: %w", err)
	}
	return res, nil
}

// ListRecent returns the newest runs for symbol without their trade
// ledgers. An empty symbol lists every symbol.
func (s *BacktestStore) ListRecent(ctx context.Context, symbol string, limit int) ([]domain.BacktestResult, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+runSelectCols+` FROM backtest_runs
		WHERE ($1 = '' OR symbol = $1)
		ORDER BY created_at DESC LIMIT $2`, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list runs: %w", err)
	}
	defer rows.Close()

	var out []domain.BacktestResult
	for rows.Next() {
		res, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan run: %w", err)
		}
		out = append(out, res)
	}
	return out, rows.Err()
}

func scanRun(row pgx.Row) (domain.BacktestResult, error) {
	var r domain.BacktestResult
	var pos, curve []byte
	err := row.Scan(
		&r.RunID, &r.Symbol, &r.StartTime, &r.EndTime, &r.Ticks, &r.QuotesEmitted,
		&r.Breaches, &r.InitialCapital, &r.FinalCapital, &r.TotalReturn, &r.AnnualizedReturn,
		&r.AnnualizedVolatility, &r.Sharpe, &r.Sortino, &r.Calmar, &r.MaxDrawdown, &r.ProfitFactor,
		&r.WinRate, &r.TotalTrades, &r.WinningTrades, &r.AvgTradePnL, &r.TotalFees,
		&pos, &curve,
	)
	if err != nil {
		return r, err
	}
	if err := json.Unmarshal(pos, &r.FinalPosition); err != nil {
		return r, fmt.Errorf("unmarshal final position: %w", err)
	}
	if err := json.Unmarshal(curve, &r.EquityCurve); err != nil {
		return r, fmt.Errorf("unmarshal equity curve: %w", err)
	}
	return r, nil
}

var _ domain.BacktestStore = (*BacktestStore)(nil)
