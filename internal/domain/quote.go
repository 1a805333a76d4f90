package domain

import "time"

// Quote is the output of one decision cycle. A reduce-only quote carries a
// size on the flattening side only.
type Quote struct {
	ID         string    `json:"id"`
	Symbol     string    `json:"symbol"`
	BidPrice   float64   `json:"bid_price"`
	AskPrice   float64   `json:"ask_price"`
	BidSize    float64   `json:"bid_size"`
	AskSize    float64   `json:"ask_size"`
	SpreadBps  float64   `json:"spread_bps"`
	Skew       float64   `json:"skew"`
	Confidence float64   `json:"confidence"`
	Regime     Regime    `json:"regime"`
	ReduceOnly bool      `json:"reduce_only"`
	Timestamp  time.Time `json:"timestamp"`
}

// Mid returns the midpoint of the quoted prices.
func (q Quote) Mid() float64 {
	return (q.BidPrice + q.AskPrice) / 2
}
