package marketmaker

import (
	"fmt"
	"time"

	"github.com/alanyoungcy/mmengine/internal/domain"
	"github.com/alanyoungcy/mmengine/internal/orderbook"
	"github.com/alanyoungcy/mmengine/internal/risk"
	"github.com/alanyoungcy/mmengine/internal/volatility"
)

// State is everything the engine mutates for one symbol. Exactly one
// goroutine may drive a State at a time; distinct States share nothing.
type State struct {
	Symbol string

	Book       *orderbook.Book
	Volatility *volatility.Model
	Risk       *risk.Manager

	adverse   *adverseDetector
	lastQuote domain.Quote
	hasQuote  bool
	lastTick  domain.MarketTick
	ticks     int
	breached  bool
}

// LastQuote returns the most recent two-sided or reduce-only quote.
func (s *State) LastQuote() (domain.Quote, bool) { return s.lastQuote, s.hasQuote }

// LastTick returns the most recent accepted tick.
func (s *State) LastTick() domain.MarketTick { return s.lastTick }

// Ticks returns the number of accepted ticks.
func (s *State) Ticks() int { return s.ticks }

// Breached reports whether the last cycle ended in a limit breach.
func (s *State) Breached() bool { return s.breached }

// AdverseRatio returns the adverse share of fills in the detection window.
func (s *State) AdverseRatio() float64 { return s.adverse.ratio() }

// Export captures position, estimator state and return history.
func (s *State) Export(at time.Time) domain.StateSnapshot {
	return domain.StateSnapshot{
		Symbol:     s.Symbol,
		Position:   s.Risk.Position(),
		Volatility: s.Volatility.State(),
		Returns:    s.Volatility.Returns(),
		LastMid:    s.Volatility.LastPrice(),
		PeakEquity: s.Risk.PeakEquity(),
		TakenAt:    at,
	}
}

// Restore loads a snapshot exported for the same symbol.
func (s *State) Restore(snap domain.StateSnapshot) error {
	if snap.Symbol != s.Symbol {
		return fmt.Errorf("%w: marketmaker: snapshot for %s restored into %s", domain.ErrValidation, snap.Symbol, s.Symbol)
	}
	if err := s.Volatility.Restore(snap.Volatility, snap.Returns, snap.LastMid); err != nil {
		return fmt.Errorf("marketmaker: restore %s: %w", s.Symbol, err)
	}
	s.Risk.Restore(snap.Position, snap.PeakEquity)
	return nil
}
