package risk

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/mmengine/internal/domain"
)

func linearReturns(n int) []float64 {
	// -n/2 .. n/2-1 basis points, shuffled order is irrelevant to VaR.
	out := make([]float64, n)
	for i := range out {
		out[(i*37)%n] = float64(i-n/2) * 1e-4
	}
	return out
}

func TestHistoricalVaR(t *testing.T) {
	rs := linearReturns(100) // sorted: -0.0050 .. +0.0049
	tr := HistoricalVaR(rs, 1_000_000, 30)
	require.False(t, tr.LowConfidence)
	assert.Equal(t, 100, tr.Samples)

	// index floor(0.05*100)=5 -> -0.0045; floor(0.01*100)=1 -> -0.0049
	assert.InDelta(t, 4500, tr.VaR95, 1e-6)
	assert.InDelta(t, 4900, tr.VaR99, 1e-6)
	// tail: -0.0050..-0.0045, mean -0.00475
	assert.InDelta(t, 4750, tr.ExpectedShortfall, 1e-6)
	assert.GreaterOrEqual(t, tr.ExpectedShortfall, tr.VaR95)
	assert.GreaterOrEqual(t, tr.VaR99, tr.VaR95)
}

func TestHistoricalVaRInsufficientData(t *testing.T) {
	tr := HistoricalVaR(linearReturns(29), 1_000_000, 30)
	assert.True(t, tr.LowConfidence)
	assert.Zero(t, tr.VaR95)
	assert.Zero(t, tr.VaR99)
	assert.Zero(t, tr.ExpectedShortfall)
}

func TestHistoricalVaRAllGains(t *testing.T) {
	rs := make([]float64, 50)
	for i := range rs {
		rs[i] = 0.001 * float64(i+1)
	}
	tr := HistoricalVaR(rs, 1_000_000, 30)
	assert.Zero(t, tr.VaR95, "no loss in the tail")
	assert.Zero(t, tr.ExpectedShortfall)
}

func TestHistoricalVaRIgnoresNonFinite(t *testing.T) {
	rs := append(linearReturns(40), math.NaN(), math.Inf(-1))
	tr := HistoricalVaR(rs, 100, 30)
	assert.Equal(t, 40, tr.Samples)
	assert.False(t, math.IsNaN(tr.VaR95))
}

func TestComputeRiskIsPure(t *testing.T) {
	pos := domain.Position{Symbol: "ES", Quantity: 2, AveragePrice: 100, MarkPrice: 101}
	rs := linearReturns(60)
	a := ComputeRisk(rs, pos, 202, 30)
	b := ComputeRisk(rs, pos, 202, 30)
	assert.Equal(t, a, b)
	assert.InDelta(t, 202.0, a.GrossExposure, 1e-12)
	assert.InDelta(t, 202.0, a.NetExposure, 1e-12)
}
