// Package volatility estimates short-horizon volatility from a return
// stream with EWMA and GARCH(1,1) recursions and classifies the result
// into regimes.
package volatility

import (
	"fmt"
	"math"

	"github.com/alanyoungcy/mmengine/internal/domain"
)

// Thresholds are inclusive upper bounds on annualized volatility for the
// Low, Normal and High regimes. Anything above High is Extreme.
type Thresholds struct {
	Low    float64
	Normal float64
	High   float64
}

// Params configures the estimators.
type Params struct {
	EWMADecay           float64
	Omega               float64
	Alpha               float64
	Beta                float64
	AnnualizationFactor float64
	// EWMAWeight blends EWMA and GARCH volatility into one figure.
	EWMAWeight float64
	Thresholds Thresholds
}

// DefaultParams returns RiskMetrics-style EWMA decay and a calibrated
// GARCH(1,1).
func DefaultParams() Params {
	return Params{
		EWMADecay:           0.94,
		Omega:               1e-6,
		Alpha:               0.10,
		Beta:                0.85,
		AnnualizationFactor: 252,
		EWMAWeight:          0.6,
		Thresholds:          Thresholds{Low: 0.10, Normal: 0.20, High: 0.40},
	}
}

// Validate rejects non-stationary or otherwise unusable parameters.
func (p Params) Validate() error {
	switch {
	case p.EWMADecay <= 0 || p.EWMADecay >= 1:
		return fmt.Errorf("%w: volatility: ewma_decay %v outside (0, 1)", domain.ErrValidation, p.EWMADecay)
	case p.Omega <= 0:
		return fmt.Errorf("%w: volatility: garch omega %v must be > 0", domain.ErrNumericalInstability, p.Omega)
	case p.Alpha < 0 || p.Beta < 0:
		return fmt.Errorf("%w: volatility: garch alpha/beta must be >= 0", domain.ErrNumericalInstability)
	case p.Alpha+p.Beta >= 1:
		return fmt.Errorf("%w: volatility: garch alpha+beta = %v is not stationary", domain.ErrNumericalInstability, p.Alpha+p.Beta)
	case p.AnnualizationFactor <= 0:
		return fmt.Errorf("%w: volatility: annualization_factor must be > 0", domain.ErrValidation)
	case p.EWMAWeight < 0 || p.EWMAWeight > 1:
		return fmt.Errorf("%w: volatility: ewma_weight must be in [0, 1]", domain.ErrValidation)
	case !(p.Thresholds.Low < p.Thresholds.Normal && p.Thresholds.Normal < p.Thresholds.High):
		return fmt.Errorf("%w: volatility: regime thresholds must increase", domain.ErrValidation)
	}
	return nil
}

// LongRunVariance is the unconditional GARCH variance omega/(1-alpha-beta).
func (p Params) LongRunVariance() float64 {
	return p.Omega / (1 - p.Alpha - p.Beta)
}

// Initial returns the state before any return is observed: GARCH sits at
// its long-run variance and EWMA is unseeded.
func Initial(p Params) domain.VolatilityState {
	s := domain.VolatilityState{GARCHVariance: p.LongRunVariance()}
	fillDerived(p, &s)
	return s
}

// Step advances the estimators by one return. It is a pure function of
// (p, prev, r). GARCHVariance in the result is the conditional variance
// for the next period, omega + alpha*r^2 + beta*prev.GARCHVariance. On
// error prev is returned unchanged.
func Step(p Params, prev domain.VolatilityState, r float64) (domain.VolatilityState, error) {
	if math.IsNaN(r) || math.IsInf(r, 0) {
		return prev, fmt.Errorf("%w: volatility: non-finite return %v", domain.ErrValidation, r)
	}
	r2 := r * r

	next := prev
	if prev.Observations == 0 {
		next.EWMAVariance = r2
	} else {
		next.EWMAVariance = p.EWMADecay*prev.EWMAVariance + (1-p.EWMADecay)*r2
	}
	next.GARCHVariance = p.Omega + p.Alpha*r2 + p.Beta*prev.GARCHVariance
	next.LastReturn = r
	next.Observations = prev.Observations + 1

	if !validVariance(next.EWMAVariance) || !validVariance(next.GARCHVariance) {
		return prev, fmt.Errorf("%w: volatility: variance ewma=%v garch=%v",
			domain.ErrNumericalInstability, next.EWMAVariance, next.GARCHVariance)
	}
	fillDerived(p, &next)
	return next, nil
}

// Classify maps annualized volatility to a regime.
func Classify(t Thresholds, vol float64) domain.Regime {
	switch {
	case vol <= t.Low:
		return domain.RegimeLow
	case vol <= t.Normal:
		return domain.RegimeNormal
	case vol <= t.High:
		return domain.RegimeHigh
	default:
		return domain.RegimeExtreme
	}
}

// ForecastVariance projects the per-period GARCH variance h steps ahead;
// it reverts geometrically to the long-run level at rate alpha+beta.
func ForecastVariance(p Params, s domain.VolatilityState, h int) float64 {
	if h <= 0 {
		return s.GARCHVariance
	}
	lr := p.LongRunVariance()
	return lr + math.Pow(p.Alpha+p.Beta, float64(h-1))*(s.GARCHVariance-lr)
}

func fillDerived(p Params, s *domain.VolatilityState) {
	s.EWMAVolatility = math.Sqrt(s.EWMAVariance * p.AnnualizationFactor)
	s.GARCHVolatility = math.Sqrt(s.GARCHVariance * p.AnnualizationFactor)
	if s.Observations == 0 {
		s.Volatility = s.GARCHVolatility
	} else {
		s.Volatility = p.EWMAWeight*s.EWMAVolatility + (1-p.EWMAWeight)*s.GARCHVolatility
	}
	s.Regime = Classify(p.Thresholds, s.Volatility)
}

func validVariance(v float64) bool {
	return v >= 0 && !math.IsNaN(v) && !math.IsInf(v, 0)
}
