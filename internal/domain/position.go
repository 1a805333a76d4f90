package domain

import "time"

// Side is the direction of a fill from the market maker's point of view.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Sign returns +1 for buys and -1 for sells.
func (s Side) Sign() float64 {
	if s == SideSell {
		return -1
	}
	return 1
}

// Position is the single inventory record for a symbol.
type Position struct {
	Symbol        string  `json:"symbol"`
	Quantity      float64 `json:"quantity"`
	AveragePrice  float64 `json:"average_price"`
	RealizedPnL   float64 `json:"realized_pnl"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
	MarkPrice     float64 `json:"mark_price"`
	TotalFees     float64 `json:"total_fees"`
	TradeCount    int     `json:"trade_count"`
	TradedVolume  float64 `json:"traded_volume"`
}

// Fill is an execution against one of our quotes. Fee is already expressed
// in quote currency and is charged against realized PnL.
type Fill struct {
	ID        string    `json:"id"`
	Symbol    string    `json:"symbol"`
	Side      Side      `json:"side"`
	Price     float64   `json:"price"`
	Quantity  float64   `json:"quantity"`
	Fee       float64   `json:"fee"`
	Timestamp time.Time `json:"timestamp"`
	IsAdverse bool      `json:"is_adverse"`
}
