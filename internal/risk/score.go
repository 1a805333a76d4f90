package risk

import "math"

// maxScore bounds the weighted sum. The default weights total 90, so it
// only binds when the weights are raised.
const maxScore = 100.0

// scoreWeights is the maximum contribution of each sub-score.
type scoreWeights struct {
	VaR           float64
	Drawdown      float64
	Leverage      float64
	Concentration float64
	Gross         float64
}

var defaultWeights = scoreWeights{VaR: 25, Drawdown: 20, Leverage: 20, Concentration: 15, Gross: 10}

// ScoreInputs are the five risk dimensions fed into the composite score.
type ScoreInputs struct {
	VaR           float64
	Drawdown      float64
	Leverage      float64
	Concentration float64
	GrossExposure float64
}

// ScoreLimits normalise each input. Concentration is already a fraction.
type ScoreLimits struct {
	VaRLimit           float64
	MaxDrawdown        float64
	LeverageLimit      float64
	GrossExposureLimit float64
}

// Score returns the composite risk score in [0, 100]. It is non-decreasing
// in every input; fully saturated inputs score 90.
func Score(in ScoreInputs, lim ScoreLimits) float64 {
	return weightedScore(in, lim, defaultWeights)
}

func weightedScore(in ScoreInputs, lim ScoreLimits, w scoreWeights) float64 {
	total := subScore(in.VaR, lim.VaRLimit, w.VaR) +
		subScore(in.Drawdown, lim.MaxDrawdown, w.Drawdown) +
		subScore(in.Leverage, lim.LeverageLimit, w.Leverage) +
		subScore(in.Concentration, 1, w.Concentration) +
		subScore(in.GrossExposure, lim.GrossExposureLimit, w.Gross)
	return math.Min(total, maxScore)
}

func subScore(value, limit, weight float64) float64 {
	if math.IsNaN(value) || value <= 0 {
		return 0
	}
	if limit <= 0 {
		return weight
	}
	return math.Min(weight, weight*value/limit)
}
