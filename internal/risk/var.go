package risk

import (
	"math"
	"sort"
)

// DefaultMinVaRSamples is the smallest return history treated as
// statistically meaningful for historical VaR.
const DefaultMinVaRSamples = 30

// TailRisk is the historical-simulation VaR and Expected Shortfall of a
// portfolio value. All amounts are non-negative losses.
type TailRisk struct {
	VaR95             float64
	VaR99             float64
	ExpectedShortfall float64
	// LowConfidence is set when the sample was too small and the figures
	// above are zero rather than estimates.
	LowConfidence bool
	Samples       int
}

// HistoricalVaR sorts returns ascending and reads the 5th and 1st
// percentiles. ES is the mean of returns at or below the 95% threshold.
// Non-finite returns are ignored.
func HistoricalVaR(returns []float64, portfolioValue float64, minSamples int) TailRisk {
	sorted := make([]float64, 0, len(returns))
	for _, r := range returns {
		if !math.IsNaN(r) && !math.IsInf(r, 0) {
			sorted = append(sorted, r)
		}
	}
	n := len(sorted)
	if minSamples < 1 {
		minSamples = DefaultMinVaRSamples
	}
	if n < minSamples {
		return TailRisk{LowConfidence: true, Samples: n}
	}
	sort.Float64s(sorted)

	value := math.Abs(portfolioValue)
	p95 := sorted[percentileIndex(n, 0.95)]
	p99 := sorted[percentileIndex(n, 0.99)]

	var tailSum float64
	var tailN int
	for _, r := range sorted {
		if r > p95 {
			break
		}
		tailSum += r
		tailN++
	}

	return TailRisk{
		VaR95:             loss(p95) * value,
		VaR99:             loss(p99) * value,
		ExpectedShortfall: loss(tailSum/float64(tailN)) * value,
		Samples:           n,
	}
}

func percentileIndex(n int, confidence float64) int {
	idx := int(math.Floor((1 - confidence) * float64(n)))
	if idx >= n {
		idx = n - 1
	}
	if idx < 0 {
		idx = 0
	}
	return idx
}

func loss(r float64) float64 {
	return math.Max(0, -r)
}
