package domain

import (
	"fmt"
	"math"
	"time"
)

// MarketTick is a top-of-book market data update for one symbol. It is the
// atomic unit of input to the engine and is never mutated after receipt.
type MarketTick struct {
	Symbol    string    `json:"symbol"`
	Timestamp time.Time `json:"timestamp"`
	LastPrice float64   `json:"last_price"`
	BidPrice  float64   `json:"bid_price"`
	AskPrice  float64   `json:"ask_price"`
	BidSize   float64   `json:"bid_size"`
	AskSize   float64   `json:"ask_size"`
	Volume    float64   `json:"volume"`
}

// Mid returns the midpoint of the best bid and ask.
func (t MarketTick) Mid() float64 {
	return (t.BidPrice + t.AskPrice) / 2
}

// Validate rejects malformed ticks. A zero LastPrice is accepted and means
// no trade print accompanied the quote update.
func (t MarketTick) Validate() error {
	if t.Symbol == "" {
		return fmt.Errorf("%w: empty symbol", ErrValidation)
	}
	if t.Timestamp.IsZero() {
		return fmt.Errorf("%w: %s: missing timestamp", ErrValidation, t.Symbol)
	}
	if !positiveFinite(t.BidPrice) || !positiveFinite(t.AskPrice) {
		return fmt.Errorf("%w: %s: non-positive price bid=%v ask=%v", ErrValidation, t.Symbol, t.BidPrice, t.AskPrice)
	}
	if !positiveFinite(t.BidSize) || !positiveFinite(t.AskSize) {
		return fmt.Errorf("%w: %s: non-positive size bid=%v ask=%v", ErrValidation, t.Symbol, t.BidSize, t.AskSize)
	}
	if t.LastPrice < 0 || math.IsNaN(t.LastPrice) || math.IsInf(t.LastPrice, 0) {
		return fmt.Errorf("%w: %s: invalid last price %v", ErrValidation, t.Symbol, t.LastPrice)
	}
	if t.Volume < 0 || math.IsNaN(t.Volume) {
		return fmt.Errorf("%w: %s: negative volume %v", ErrValidation, t.Symbol, t.Volume)
	}
	if t.BidPrice >= t.AskPrice {
		return fmt.Errorf("%w: %s: bid %v >= ask %v", ErrCrossedBook, t.Symbol, t.BidPrice, t.AskPrice)
	}
	return nil
}

func positiveFinite(v float64) bool {
	return v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}
