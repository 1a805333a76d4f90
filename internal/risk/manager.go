// Package risk owns the per-symbol position and evaluates tail risk,
// exposure and the composite risk score against hard limits.
package risk

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/alanyoungcy/mmengine/internal/domain"
)

// Config holds capital and hard limits. A zero limit disables that check.
type Config struct {
	Capital            float64
	MaxPosition        float64
	MaxDailyLoss       float64
	VaRLimit           float64
	LeverageLimit      float64
	GrossExposureLimit float64
	NetExposureLimit   float64
	ConcentrationLimit float64
	MaxDrawdown        float64
	MaxRiskScore       float64
	MinVaRSamples      int
}

// DefaultConfig returns desk-level defaults.
func DefaultConfig() Config {
	return Config{
		Capital:            10_000_000,
		MaxPosition:        100,
		MaxDailyLoss:       50_000,
		VaRLimit:           100_000,
		LeverageLimit:      5,
		GrossExposureLimit: 15_000_000,
		NetExposureLimit:   3_000_000,
		ConcentrationLimit: 0.3,
		MaxDrawdown:        0.15,
		MaxRiskScore:       80,
		MinVaRSamples:      DefaultMinVaRSamples,
	}
}

// Validate checks that capital and the position bound are usable.
func (c Config) Validate() error {
	var errs []string
	if c.Capital <= 0 {
		errs = append(errs, "capital must be > 0")
	}
	if c.MaxPosition <= 0 {
		errs = append(errs, "max_position must be > 0")
	}
	for name, v := range map[string]float64{
		"max_daily_loss":       c.MaxDailyLoss,
		"var_limit":            c.VaRLimit,
		"leverage_limit":       c.LeverageLimit,
		"gross_exposure_limit": c.GrossExposureLimit,
		"net_exposure_limit":   c.NetExposureLimit,
		"concentration_limit":  c.ConcentrationLimit,
		"max_drawdown":         c.MaxDrawdown,
		"max_risk_score":       c.MaxRiskScore,
	} {
		if v < 0 || math.IsNaN(v) {
			errs = append(errs, name+" must be >= 0")
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: risk: %s", domain.ErrValidation, strings.Join(errs, "; "))
	}
	return nil
}

// Violation is one failed limit.
type Violation struct {
	Limit     string
	Value     float64
	Threshold float64
}

func (v Violation) String() string {
	return fmt.Sprintf("%s %.6g > %.6g", v.Limit, v.Value, v.Threshold)
}

// BreachError reports every limit violated in one check. It unwraps to
// domain.ErrLimitBreached.
type BreachError struct {
	Symbol     string
	Violations []Violation
}

func (e *BreachError) Error() string {
	parts := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		parts[i] = v.String()
	}
	return fmt.Sprintf("risk: %s: %v: %s", e.Symbol, domain.ErrLimitBreached, strings.Join(parts, ", "))
}

func (e *BreachError) Unwrap() error { return domain.ErrLimitBreached }

// Limits returns the names of the violated limits.
func (e *BreachError) Limits() []string {
	out := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		out[i] = v.Limit
	}
	return out
}

// Manager is the only mutator of a symbol's Position. It is not safe for
// concurrent use.
type Manager struct {
	cfg       Config
	symbol    string
	pos       domain.Position
	peak      float64
	dayStart  float64
	day       time.Time
	last      domain.RiskSnapshot
	lastValid bool
}

// NewManager returns a flat manager for symbol.
func NewManager(symbol string, cfg Config) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Manager{
		cfg:      cfg,
		symbol:   symbol,
		pos:      domain.Position{Symbol: symbol},
		peak:     cfg.Capital,
		dayStart: cfg.Capital,
	}, nil
}

// Config returns the manager configuration.
func (m *Manager) Config() Config { return m.cfg }

// Position returns a copy of the current position.
func (m *Manager) Position() domain.Position { return m.pos }

// Equity is capital plus realized and unrealized PnL.
func (m *Manager) Equity() float64 {
	return m.cfg.Capital + m.pos.RealizedPnL + m.pos.UnrealizedPnL
}

// PeakEquity is the high-water mark used for drawdown.
func (m *Manager) PeakEquity() float64 { return m.peak }

// Drawdown is the fractional decline of equity from its peak.
func (m *Manager) Drawdown() float64 {
	if m.peak <= 0 {
		return 0
	}
	return math.Max(0, (m.peak-m.Equity())/m.peak)
}

// DailyPnL is the equity change since the last day roll.
func (m *Manager) DailyPnL() float64 { return m.Equity() - m.dayStart }

// RemainingCapacity returns how much more can be bought and sold before the
// position bound is reached.
func (m *Manager) RemainingCapacity() (buy, sell float64) {
	q := m.pos.Quantity
	return math.Max(0, m.cfg.MaxPosition-q), math.Max(0, m.cfg.MaxPosition+q)
}

// ApplyFill updates the position from an execution. A fill that would take
// |quantity| beyond MaxPosition is rejected with a *BreachError and the
// position is left unchanged.
func (m *Manager) ApplyFill(f domain.Fill) error {
	if err := validateFill(m.symbol, f); err != nil {
		return err
	}
	newQ := m.pos.Quantity + f.Side.Sign()*f.Quantity
	if math.Abs(newQ) > m.cfg.MaxPosition+quantityEpsilon {
		return &BreachError{
			Symbol:     m.symbol,
			Violations: []Violation{{Limit: "max_position", Value: math.Abs(newQ), Threshold: m.cfg.MaxPosition}},
		}
	}
	if m.pos.MarkPrice == 0 {
		m.pos.MarkPrice = f.Price
	}
	m.pos = applyFill(m.pos, f)
	m.updatePeak()
	return nil
}

// Mark revalues the position at price and rolls the daily PnL anchor when
// at crosses into a new UTC day.
func (m *Manager) Mark(price float64, at time.Time) {
	if price > 0 && !math.IsNaN(price) && !math.IsInf(price, 0) {
		m.pos = markPosition(m.pos, price)
		m.updatePeak()
	}
	if !at.IsZero() {
		day := at.UTC().Truncate(24 * time.Hour)
		if m.day.IsZero() {
			m.day = day
		} else if day.After(m.day) {
			m.day = day
			m.ResetDay()
		}
	}
}

// ResetDay starts a new daily PnL window at current equity.
func (m *Manager) ResetDay() {
	m.dayStart = m.Equity()
}

func (m *Manager) updatePeak() {
	if eq := m.Equity(); eq > m.peak {
		m.peak = eq
	}
}

// Evaluate computes a fresh RiskSnapshot from the position and returns and
// keeps it for CheckLimits. Portfolio value for VaR is the gross exposure.
func (m *Manager) Evaluate(returns []float64, at time.Time) domain.RiskSnapshot {
	snap := ComputeRisk(returns, m.pos, grossExposure(m.pos), m.cfg.MinVaRSamples)
	snap.Symbol = m.symbol
	snap.Timestamp = at

	equity := m.Equity()
	if equity > 0 {
		snap.Leverage = snap.GrossExposure / equity
	} else {
		// Leverage is undefined without positive equity; keep the prior value.
		snap.Leverage = m.last.Leverage
	}
	snap.Concentration = snap.GrossExposure / m.cfg.Capital
	snap.Drawdown = m.Drawdown()
	snap.DailyPnL = m.DailyPnL()
	snap.RiskScore = Score(ScoreInputs{
		VaR:           snap.VaR95,
		Drawdown:      snap.Drawdown,
		Leverage:      snap.Leverage,
		Concentration: snap.Concentration,
		GrossExposure: snap.GrossExposure,
	}, ScoreLimits{
		VaRLimit:           m.cfg.VaRLimit,
		MaxDrawdown:        m.cfg.MaxDrawdown,
		LeverageLimit:      m.cfg.LeverageLimit,
		GrossExposureLimit: m.cfg.GrossExposureLimit,
	})

	m.last = snap
	m.lastValid = true
	return snap
}

// Snapshot returns the most recent evaluation.
func (m *Manager) Snapshot() (domain.RiskSnapshot, bool) {
	return m.last, m.lastValid
}

// CheckLimits tests the position and the last evaluation against every
// configured limit. It returns nil or a *BreachError.
func (m *Manager) CheckLimits() error {
	var v []Violation
	add := func(name string, value, limit float64) {
		if limit > 0 && value > limit {
			v = append(v, Violation{Limit: name, Value: value, Threshold: limit})
		}
	}

	add("max_position", math.Abs(m.pos.Quantity), m.cfg.MaxPosition)
	if m.lastValid {
		s := m.last
		add("gross_exposure", s.GrossExposure, m.cfg.GrossExposureLimit)
		add("net_exposure", math.Abs(s.NetExposure), m.cfg.NetExposureLimit)
		add("concentration", s.Concentration, m.cfg.ConcentrationLimit)
		add("leverage", s.Leverage, m.cfg.LeverageLimit)
		add("drawdown", s.Drawdown, m.cfg.MaxDrawdown)
		add("daily_loss", -s.DailyPnL, m.cfg.MaxDailyLoss)
		if !s.LowConfidence {
			add("var_95", s.VaR95, m.cfg.VaRLimit)
		}
		add("risk_score", s.RiskScore, m.cfg.MaxRiskScore)
	}
	if len(v) == 0 {
		return nil
	}
	return &BreachError{Symbol: m.symbol, Violations: v}
}

// Restore replaces the position and equity high-water mark.
func (m *Manager) Restore(pos domain.Position, peak float64) {
	pos.Symbol = m.symbol
	m.pos = pos
	m.peak = math.Max(peak, m.Equity())
	m.dayStart = m.Equity()
	m.lastValid = false
}

// ComputeRisk derives tail risk on portfolioValue and the exposure of pos.
// It is a pure function; leverage, drawdown and the score need account
// state and are filled in by Manager.Evaluate.
func ComputeRisk(returns []float64, pos domain.Position, portfolioValue float64, minSamples int) domain.RiskSnapshot {
	tail := HistoricalVaR(returns, portfolioValue, minSamples)
	return domain.RiskSnapshot{
		Symbol:            pos.Symbol,
		VaR95:             tail.VaR95,
		VaR99:             tail.VaR99,
		ExpectedShortfall: tail.ExpectedShortfall,
		GrossExposure:     grossExposure(pos),
		NetExposure:       pos.Quantity * markOf(pos),
		LowConfidence:     tail.LowConfidence,
	}
}

func grossExposure(pos domain.Position) float64 {
	return math.Abs(pos.Quantity) * markOf(pos)
}

func markOf(pos domain.Position) float64 {
	if pos.MarkPrice > 0 {
		return pos.MarkPrice
	}
	return pos.AveragePrice
}
