package domain

import "time"

// RiskSnapshot is computed fresh from a position and return history. It is
// replaced wholesale, never edited.
type RiskSnapshot struct {
	Symbol            string    `json:"symbol"`
	VaR95             float64   `json:"var_95"`
	VaR99             float64   `json:"var_99"`
	ExpectedShortfall float64   `json:"expected_shortfall"`
	GrossExposure     float64   `json:"gross_exposure"`
	NetExposure       float64   `json:"net_exposure"`
	Leverage          float64   `json:"leverage"`
	Concentration     float64   `json:"concentration"`
	Drawdown          float64   `json:"drawdown"`
	DailyPnL          float64   `json:"daily_pnl"`
	RiskScore         float64   `json:"risk_score"`
	LowConfidence     bool      `json:"low_confidence"`
	Timestamp         time.Time `json:"timestamp"`
}

// LimitBreach is an audit record of a failed limit check.
type LimitBreach struct {
	ID         string       `json:"id"`
	Symbol     string       `json:"symbol"`
	Violations []string     `json:"violations"`
	Snapshot   RiskSnapshot `json:"snapshot"`
	Position   Position     `json:"position"`
	Action     string       `json:"action"`
	OccurredAt time.Time    `json:"occurred_at"`
}
