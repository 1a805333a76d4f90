package volatility

import (
	"fmt"
	"math"

	"github.com/alanyoungcy/mmengine/internal/domain"
)

// DefaultHistorySize is the number of returns retained for clustering and
// downstream VaR.
const DefaultHistorySize = 500

// DefaultMinClusteringReturns is the minimum window for a clustering score.
const DefaultMinClusteringReturns = 30

// Model wraps Step with a bounded return history and the price-to-return
// derivation. It is owned by one symbol's decision cycle.
type Model struct {
	params     Params
	state      domain.VolatilityState
	history    []float64
	next       int
	full       bool
	minCluster int
	lastPrice  float64
}

// NewModel validates p and returns a model in its initial state.
func NewModel(p Params, historySize, minClustering int) (*Model, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if historySize < 2 {
		historySize = DefaultHistorySize
	}
	if minClustering < 3 {
		minClustering = DefaultMinClusteringReturns
	}
	return &Model{
		params:     p,
		state:      Initial(p),
		history:    make([]float64, historySize),
		minCluster: minClustering,
	}, nil
}

// Params returns the model parameters.
func (m *Model) Params() Params { return m.params }

// State returns the current estimator state.
func (m *Model) State() domain.VolatilityState { return m.state }

// LastPrice returns the last price passed to OnPrice, 0 if none.
func (m *Model) LastPrice() float64 { return m.lastPrice }

// OnPrice derives a simple return from the previous price and updates the
// estimators. The first price only primes the model; ok is false in that
// case.
func (m *Model) OnPrice(price float64) (state domain.VolatilityState, ok bool, err error) {
	if price <= 0 || math.IsNaN(price) || math.IsInf(price, 0) {
		return m.state, false, fmt.Errorf("%w: volatility: invalid price %v", domain.ErrValidation, price)
	}
	if m.lastPrice == 0 {
		m.lastPrice = price
		return m.state, false, nil
	}
	r := price/m.lastPrice - 1
	state, err = m.Update(r)
	if err != nil {
		return state, false, err
	}
	m.lastPrice = price
	return state, true, nil
}

// Update feeds one return. On error the prior state is kept.
func (m *Model) Update(r float64) (domain.VolatilityState, error) {
	next, err := Step(m.params, m.state, r)
	if err != nil {
		return m.state, err
	}
	m.push(r)

	score, err := m.clustering()
	switch {
	case err == nil:
		next.ClusteringScore = score
		next.ClusteringOK = true
	case m.len() >= m.minCluster:
		// Degenerate window: keep whatever score the prior state carried.
	default:
		next.ClusteringScore = 0
		next.ClusteringOK = false
	}
	m.state = next
	return m.state, nil
}

// Clustering returns the lag-1 autocorrelation of absolute returns over the
// retained window. It fails with ErrInsufficientData below the minimum
// window and ErrNumericalInstability when all absolute returns are equal.
func (m *Model) Clustering() (float64, error) {
	return m.clustering()
}

func (m *Model) clustering() (float64, error) {
	rs := m.Returns()
	n := len(rs)
	if n < m.minCluster {
		return 0, fmt.Errorf("volatility: clustering needs %d returns, have %d: %w", m.minCluster, n, domain.ErrInsufficientData)
	}
	var mu float64
	for _, r := range rs {
		mu += math.Abs(r)
	}
	mu /= float64(n)

	var num, den float64
	for t := 0; t < n; t++ {
		d := math.Abs(rs[t]) - mu
		den += d * d
		if t > 0 {
			num += d * (math.Abs(rs[t-1]) - mu)
		}
	}
	if den == 0 {
		return 0, fmt.Errorf("volatility: clustering: %w: zero dispersion", domain.ErrNumericalInstability)
	}
	return num / den, nil
}

// Forecast returns annualized volatility h periods ahead from GARCH.
func (m *Model) Forecast(h int) float64 {
	return math.Sqrt(ForecastVariance(m.params, m.state, h) * m.params.AnnualizationFactor)
}

// Returns returns the retained returns, oldest first.
func (m *Model) Returns() []float64 {
	if !m.full {
		return append([]float64(nil), m.history[:m.next]...)
	}
	out := make([]float64, 0, len(m.history))
	out = append(out, m.history[m.next:]...)
	return append(out, m.history[:m.next]...)
}

// Restore replaces the model state from a snapshot. Returns beyond the
// history capacity are truncated from the oldest end.
func (m *Model) Restore(state domain.VolatilityState, returns []float64, lastPrice float64) error {
	if !validVariance(state.EWMAVariance) || !validVariance(state.GARCHVariance) {
		return fmt.Errorf("%w: volatility: restore with invalid variance", domain.ErrNumericalInstability)
	}
	m.next, m.full = 0, false
	if len(returns) > len(m.history) {
		returns = returns[len(returns)-len(m.history):]
	}
	for _, r := range returns {
		m.push(r)
	}
	m.state = state
	m.lastPrice = lastPrice
	return nil
}

func (m *Model) push(r float64) {
	m.history[m.next] = r
	m.next++
	if m.next == len(m.history) {
		m.next = 0
		m.full = true
	}
}

func (m *Model) len() int {
	if m.full {
		return len(m.history)
	}
	return m.next
}
