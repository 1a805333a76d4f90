package backtest

import (
	"math"
	"math/rand/v2"

	"github.com/alanyoungcy/mmengine/internal/domain"
)

// FillModelConfig parameterises quote acceptance:
//
//	p = MaxProbability * sigmoid(Intercept - SpreadSensitivity*spread_bps/10
//	        + ImbalanceSensitivity*pressure + VolatilitySensitivity*vol)
//
// where pressure is -imbalance for the bid and +imbalance for the ask.
// A quote crossed by the next tick fills with probability 1.
type FillModelConfig struct {
	MaxProbability        float64
	Intercept             float64
	SpreadSensitivity     float64
	ImbalanceSensitivity  float64
	VolatilitySensitivity float64
	// MinFillFraction is the smallest share of the quoted size a
	// probabilistic fill takes; the share is uniform in [min, 1].
	MinFillFraction float64
}

// DefaultFillModelConfig gives roughly a one-in-ten fill chance per side at
// a 12 bps spread in a balanced book.
func DefaultFillModelConfig() FillModelConfig {
	return FillModelConfig{
		MaxProbability:        0.5,
		Intercept:             0,
		SpreadSensitivity:     1.0,
		ImbalanceSensitivity:  1.0,
		VolatilitySensitivity: 2.0,
		MinFillFraction:       0.25,
	}
}

// fillModel is deterministic for a given seed.
type fillModel struct {
	cfg FillModelConfig
	rng *rand.Rand
}

func newFillModel(cfg FillModelConfig, seed uint64) *fillModel {
	return &fillModel{cfg: cfg, rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// Probability returns the acceptance probability for one side of a quote.
func (m *fillModel) Probability(side domain.Side, spreadBps, imbalance, vol float64) float64 {
	pressure := imbalance
	if side == domain.SideBuy {
		pressure = -imbalance
	}
	x := m.cfg.Intercept -
		m.cfg.SpreadSensitivity*spreadBps/10 +
		m.cfg.ImbalanceSensitivity*pressure +
		m.cfg.VolatilitySensitivity*vol
	return m.cfg.MaxProbability / (1 + math.Exp(-x))
}

// simulatedFill is an unpriced fill decision.
type simulatedFill struct {
	side     domain.Side
	price    float64
	quantity float64
}

// simulate decides fills of q against the next tick. Both sides may fill.
// Random draws happen in a fixed order so runs replay exactly.
func (m *fillModel) simulate(q domain.Quote, next domain.MarketTick, imbalance, vol float64) []simulatedFill {
	var out []simulatedFill
	if q.BidSize > 0 {
		crossed := next.AskPrice <= q.BidPrice
		if qty, ok := m.decide(crossed, q.BidSize, m.Probability(domain.SideBuy, q.SpreadBps, imbalance, vol)); ok {
			out = append(out, simulatedFill{side: domain.SideBuy, price: q.BidPrice, quantity: qty})
		}
	}
	if q.AskSize > 0 {
		crossed := next.BidPrice >= q.AskPrice
		if qty, ok := m.decide(crossed, q.AskSize, m.Probability(domain.SideSell, q.SpreadBps, imbalance, vol)); ok {
			out = append(out, simulatedFill{side: domain.SideSell, price: q.AskPrice, quantity: qty})
		}
	}
	return out
}

func (m *fillModel) decide(crossed bool, size, p float64) (float64, bool) {
	u := m.rng.Float64()
	frac := m.rng.Float64()
	if crossed {
		return size, true
	}
	if u >= p {
		return 0, false
	}
	minFrac := clamp01(m.cfg.MinFillFraction)
	return size * (minFrac + (1-minFrac)*frac), true
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
