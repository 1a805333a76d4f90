// Package orderbook maintains a leveled view of one symbol's book from
// top-of-book ticks. Depth beyond the touch is synthetic: each level steps
// one tick away from the best price and its size decays geometrically.
package orderbook

import (
	"fmt"
	"math"
	"time"

	"github.com/alanyoungcy/mmengine/internal/domain"
)

// Config controls synthetic depth generation.
type Config struct {
	DepthLevels int
	TickSize    float64
	DepthDecay  float64
}

// DefaultConfig returns five levels one cent apart with 20% size decay per
// level.
func DefaultConfig() Config {
	return Config{DepthLevels: 5, TickSize: 0.01, DepthDecay: 0.8}
}

// Validate checks the depth parameters.
func (c Config) Validate() error {
	if c.DepthLevels < 1 {
		return fmt.Errorf("%w: orderbook: depth_levels must be >= 1", domain.ErrValidation)
	}
	if c.TickSize <= 0 {
		return fmt.Errorf("%w: orderbook: tick_size must be > 0", domain.ErrValidation)
	}
	if c.DepthDecay <= 0 || c.DepthDecay > 1 {
		return fmt.Errorf("%w: orderbook: depth_decay must be in (0, 1]", domain.ErrValidation)
	}
	return nil
}

// Book is the order book for a single symbol. It is not safe for concurrent
// use; the owning decision cycle serialises access.
type Book struct {
	cfg     Config
	symbol  string
	bids    []domain.OrderBookLevel
	asks    []domain.OrderBookLevel
	updated time.Time
}

// New creates an empty book for symbol.
func New(symbol string, cfg Config) (*Book, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Book{
		cfg:    cfg,
		symbol: symbol,
		bids:   make([]domain.OrderBookLevel, 0, cfg.DepthLevels),
		asks:   make([]domain.OrderBookLevel, 0, cfg.DepthLevels),
	}, nil
}

// Symbol returns the symbol this book tracks.
func (b *Book) Symbol() string { return b.symbol }

// Update replaces the book from tick. Malformed, foreign or stale ticks are
// rejected and leave the book unchanged.
func (b *Book) Update(tick domain.MarketTick) error {
	if err := tick.Validate(); err != nil {
		return err
	}
	if tick.Symbol != b.symbol {
		return fmt.Errorf("%w: orderbook: tick for %s applied to %s book", domain.ErrValidation, tick.Symbol, b.symbol)
	}
	if !b.updated.IsZero() && tick.Timestamp.Before(b.updated) {
		return fmt.Errorf("%w: orderbook: %s at %s precedes %s", domain.ErrOutOfOrder,
			b.symbol, tick.Timestamp.Format(time.RFC3339Nano), b.updated.Format(time.RFC3339Nano))
	}

	b.bids = b.synthesize(b.bids[:0], tick.BidPrice, tick.BidSize, -1)
	b.asks = b.synthesize(b.asks[:0], tick.AskPrice, tick.AskSize, +1)
	b.updated = tick.Timestamp
	return nil
}

func (b *Book) synthesize(dst []domain.OrderBookLevel, best, size, dir float64) []domain.OrderBookLevel {
	qty := size
	for i := 0; i < b.cfg.DepthLevels; i++ {
		price := best + dir*float64(i)*b.cfg.TickSize
		if price <= 0 {
			break
		}
		dst = append(dst, domain.OrderBookLevel{Price: price, Quantity: qty, LevelIndex: i})
		qty *= b.cfg.DepthDecay
	}
	return dst
}

// Empty reports whether either side has no levels.
func (b *Book) Empty() bool {
	return len(b.bids) == 0 || len(b.asks) == 0
}

// Mid returns the midpoint of the touch, or 0 for an empty book.
func (b *Book) Mid() float64 {
	if b.Empty() {
		return 0
	}
	return (b.bids[0].Price + b.asks[0].Price) / 2
}

// Imbalance returns (bid_depth - ask_depth) / (bid_depth + ask_depth) in
// [-1, 1], or 0 when both sides are empty.
func (b *Book) Imbalance() float64 {
	return normalizedDiff(depth(b.bids), depth(b.asks))
}

// DepthRatio returns total bid depth over total ask depth. The second
// result is false when the ask side has no depth.
func (b *Book) DepthRatio() (float64, bool) {
	ask := depth(b.asks)
	if ask == 0 {
		return 0, false
	}
	return depth(b.bids) / ask, true
}

// BookPressure is Imbalance with each level's quantity weighted by
// 1/(level_index+1).
func (b *Book) BookPressure() float64 {
	return normalizedDiff(weightedDepth(b.bids), weightedDepth(b.asks))
}

// VWAP returns the volume weighted average price across all levels of side.
func (b *Book) VWAP(side domain.BookSide) (float64, error) {
	levels, err := b.side(side)
	if err != nil {
		return 0, err
	}
	var notional, qty float64
	for _, l := range levels {
		notional += l.Price * l.Quantity
		qty += l.Quantity
	}
	if qty == 0 {
		return 0, fmt.Errorf("orderbook: vwap %s %s: %w", b.symbol, side, domain.ErrEmptySide)
	}
	return notional / qty, nil
}

// VWAPForSize returns the average price of sweeping size units from side,
// best level first. It fails with ErrInsufficientData if the side cannot
// absorb size.
func (b *Book) VWAPForSize(side domain.BookSide, size float64) (float64, error) {
	if size <= 0 || math.IsNaN(size) {
		return 0, fmt.Errorf("%w: orderbook: sweep size must be > 0", domain.ErrValidation)
	}
	levels, err := b.side(side)
	if err != nil {
		return 0, err
	}
	remaining := size
	var notional float64
	for _, l := range levels {
		take := math.Min(remaining, l.Quantity)
		notional += take * l.Price
		remaining -= take
		if remaining <= 0 {
			return notional / size, nil
		}
	}
	return 0, fmt.Errorf("orderbook: sweep %v from %s %s: %w", size, b.symbol, side, domain.ErrInsufficientData)
}

func (b *Book) side(side domain.BookSide) ([]domain.OrderBookLevel, error) {
	var levels []domain.OrderBookLevel
	switch side {
	case domain.BookSideBid:
		levels = b.bids
	case domain.BookSideAsk:
		levels = b.asks
	default:
		return nil, fmt.Errorf("%w: orderbook: unknown side %q", domain.ErrValidation, side)
	}
	if len(levels) == 0 {
		return nil, fmt.Errorf("orderbook: %s %s: %w", b.symbol, side, domain.ErrEmptySide)
	}
	return levels, nil
}

// Stats summarises the current book.
func (b *Book) Stats() domain.BookStats {
	st := domain.BookStats{
		BidDepth:     depth(b.bids),
		AskDepth:     depth(b.asks),
		Imbalance:    b.Imbalance(),
		BookPressure: b.BookPressure(),
	}
	st.DepthRatio, st.DepthRatioOK = b.DepthRatio()
	if !b.Empty() {
		st.Mid = b.Mid()
		st.Spread = b.asks[0].Price - b.bids[0].Price
		st.SpreadBps = st.Spread / st.Mid * 1e4
	}
	return st
}

// Snapshot returns a copy of the current levels.
func (b *Book) Snapshot() domain.OrderBookSnapshot {
	return domain.OrderBookSnapshot{
		Symbol:    b.symbol,
		Bids:      append([]domain.OrderBookLevel(nil), b.bids...),
		Asks:      append([]domain.OrderBookLevel(nil), b.asks...),
		Timestamp: b.updated,
	}
}

// LastUpdate returns the timestamp of the last accepted tick.
func (b *Book) LastUpdate() time.Time { return b.updated }

func depth(levels []domain.OrderBookLevel) float64 {
	var sum float64
	for _, l := range levels {
		sum += l.Quantity
	}
	return sum
}

func weightedDepth(levels []domain.OrderBookLevel) float64 {
	var sum float64
	for _, l := range levels {
		sum += l.Quantity / float64(l.LevelIndex+1)
	}
	return sum
}

func normalizedDiff(bid, ask float64) float64 {
	total := bid + ask
	if total == 0 {
		return 0
	}
	return (bid - ask) / total
}
