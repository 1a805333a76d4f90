package domain

import "time"

// BookSide selects one side of an order book.
type BookSide string

const (
	BookSideBid BookSide = "bid"
	BookSideAsk BookSide = "ask"
)

// OrderBookLevel is one price level. LevelIndex 0 is the best price.
type OrderBookLevel struct {
	Price      float64 `json:"price"`
	Quantity   float64 `json:"quantity"`
	LevelIndex int     `json:"level_index"`
}

// OrderBookSnapshot holds bids in descending and asks in ascending price
// order.
type OrderBookSnapshot struct {
	Symbol    string           `json:"symbol"`
	Bids      []OrderBookLevel `json:"bids"`
	Asks      []OrderBookLevel `json:"asks"`
	Timestamp time.Time        `json:"timestamp"`
}

// BestBid returns the highest bid price, or 0 when the bid side is empty.
func (s OrderBookSnapshot) BestBid() float64 {
	if len(s.Bids) == 0 {
		return 0
	}
	return s.Bids[0].Price
}

// BestAsk returns the lowest ask price, or 0 when the ask side is empty.
func (s OrderBookSnapshot) BestAsk() float64 {
	if len(s.Asks) == 0 {
		return 0
	}
	return s.Asks[0].Price
}

// BookStats is a point-in-time summary of the book used by quoting.
type BookStats struct {
	Mid          float64 `json:"mid"`
	Spread       float64 `json:"spread"`
	SpreadBps    float64 `json:"spread_bps"`
	BidDepth     float64 `json:"bid_depth"`
	AskDepth     float64 `json:"ask_depth"`
	Imbalance    float64 `json:"imbalance"`
	BookPressure float64 `json:"book_pressure"`
	// DepthRatio is meaningful only when DepthRatioOK is true.
	DepthRatio   float64 `json:"depth_ratio"`
	DepthRatioOK bool    `json:"depth_ratio_ok"`
}
