package domain

import "time"

// TradeRecord is one simulated fill with its PnL contribution.
type TradeRecord struct {
	Fill          Fill    `json:"fill"`
	PnL           float64 `json:"pnl"`
	PositionAfter float64 `json:"position_after"`
}

// EquityPoint is marked-to-market equity at a tick.
type EquityPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Equity    float64   `json:"equity"`
	Drawdown  float64   `json:"drawdown"`
}

// BacktestResult is produced once per completed run.
type BacktestResult struct {
	RunID                string        `json:"run_id"`
	Symbol               string        `json:"symbol"`
	StartTime            time.Time     `json:"start_time"`
	EndTime              time.Time     `json:"end_time"`
	Ticks                int           `json:"ticks"`
	QuotesEmitted        int           `json:"quotes_emitted"`
	Breaches             int           `json:"breaches"`
	InitialCapital       float64       `json:"initial_capital"`
	FinalCapital         float64       `json:"final_capital"`
	TotalReturn          float64       `json:"total_return"`
	AnnualizedReturn     float64       `json:"annualized_return"`
	AnnualizedVolatility float64       `json:"annualized_volatility"`
	Sharpe               float64       `json:"sharpe"`
	Sortino              float64       `json:"sortino"`
	Calmar               float64       `json:"calmar"`
	MaxDrawdown          float64       `json:"max_drawdown"`
	ProfitFactor         float64       `json:"profit_factor"`
	WinRate              float64       `json:"win_rate"`
	TotalTrades          int           `json:"total_trades"`
	WinningTrades        int           `json:"winning_trades"`
	AvgTradePnL          float64       `json:"avg_trade_pnl"`
	TotalFees            float64       `json:"total_fees"`
	FinalPosition        Position      `json:"final_position"`
	Trades               []TradeRecord `json:"trades"`
	EquityCurve          []EquityPoint `json:"equity_curve"`
}

// StateSnapshot is an export of one symbol's engine state.
type StateSnapshot struct {
	Symbol     string          `json:"symbol"`
	Position   Position        `json:"position"`
	Volatility VolatilityState `json:"volatility"`
	Returns    []float64       `json:"returns"`
	LastMid    float64         `json:"last_mid"`
	PeakEquity float64         `json:"peak_equity"`
	TakenAt    time.Time       `json:"taken_at"`
}
