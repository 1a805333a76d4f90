package marketmaker

import (
	"time"

	"github.com/alanyoungcy/mmengine/internal/domain"
)

// Stage names one step of the decision cycle.
type Stage string

const (
	StageBook       Stage = "book"
	StageVolatility Stage = "volatility"
	StageRisk       Stage = "risk"
	StageQuote      Stage = "quote"
)

// StageObserver receives start and end markers around each stage. The
// engine never reads anything back from it.
type StageObserver interface {
	StageStarted(symbol string, stage Stage, at time.Time)
	StageFinished(symbol string, stage Stage, at time.Time)
}

// Recorder receives engine events for metrics.
type Recorder interface {
	TickProcessed(symbol string)
	TickRejected(symbol, reason string)
	QuoteEmitted(q domain.Quote)
	LimitBreached(symbol string, limits []string)
	FillApplied(f domain.Fill)
	RiskEvaluated(snap domain.RiskSnapshot, vol domain.VolatilityState)
}

type nopObserver struct{}

func (nopObserver) StageStarted(string, Stage, time.Time)  {}
func (nopObserver) StageFinished(string, Stage, time.Time) {}

type nopRecorder struct{}

func (nopRecorder) TickProcessed(string)                                      {}
func (nopRecorder) TickRejected(string, string)                               {}
func (nopRecorder) QuoteEmitted(domain.Quote)                                 {}
func (nopRecorder) LimitBreached(string, []string)                            {}
func (nopRecorder) FillApplied(domain.Fill)                                   {}
func (nopRecorder) RiskEvaluated(domain.RiskSnapshot, domain.VolatilityState) {}
