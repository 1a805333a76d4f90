package marketmaker

import (
	"math"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/mmengine/internal/domain"
)

// Side reduction applied to the quote that would grow an existing position.
const inventorySideReduction = 0.7

// regimeMultiplier widens the volatility term in stressed regimes.
func regimeMultiplier(r domain.Regime) float64 {
	switch r {
	case domain.RegimeHigh:
		return 1.5
	case domain.RegimeExtreme:
		return 2.0
	default:
		return 1.0
	}
}

// SpreadComponents is the breakdown of one dynamic spread decision in bps.
type SpreadComponents struct {
	Base       float64
	Volatility float64
	Book       float64
	Adverse    float64
	Total      float64
}

// VolatilityTermBps converts annualized volatility into spread.
func VolatilityTermBps(c QuoteConfig, vol float64, regime domain.Regime) float64 {
	if vol <= 0 || math.IsNaN(vol) {
		return 0
	}
	return c.VolatilityAdjustmentFactor * vol * c.VolSpreadBpsPerUnit * regimeMultiplier(regime)
}

// BookAdjustmentBps widens for a thin bid side and for imbalance.
func BookAdjustmentBps(c QuoteConfig, st domain.BookStats) float64 {
	adj := math.Abs(st.Imbalance) * c.ImbalancePenaltyBps
	if !st.DepthRatioOK || st.DepthRatio < c.DepthRatioFloor {
		adj += c.DepthPenaltyBps
	}
	return adj
}

// DynamicSpread sums the spread terms and clamps to [min, max].
func DynamicSpread(c QuoteConfig, vol domain.VolatilityState, st domain.BookStats, adverseBps float64) SpreadComponents {
	sc := SpreadComponents{
		Base:       c.TargetSpreadBps,
		Volatility: VolatilityTermBps(c, vol.Volatility, vol.Regime),
		Book:       BookAdjustmentBps(c, st),
		Adverse:    adverseBps,
	}
	sc.Total = clamp(sc.Base+sc.Volatility+sc.Book+sc.Adverse, c.MinSpreadBps, c.MaxSpreadBps)
	return sc
}

// InventorySkew returns the price shift subtracted from both quotes:
// clamp(q/maxPosition, -1, 1) * skewFactor * halfSpread. Positive when long.
func InventorySkew(quantity, maxPosition, skewFactor, halfSpread float64) float64 {
	if maxPosition <= 0 {
		return 0
	}
	return clamp(quantity/maxPosition, -1, 1) * skewFactor * halfSpread
}

// QuoteSizes applies the inventory and volatility factors to base and then
// shrinks the side that would grow the position.
func QuoteSizes(base, quantity, maxDeviation, vol float64) (bid, ask float64) {
	invFactor := 1 - math.Min(math.Abs(quantity)/maxDeviation, 0.8)
	volFactor := math.Max(1/(1+5*math.Max(vol, 0)), 0.3)
	size := base * invFactor * volFactor

	bid, ask = size, size
	if quantity > 0 {
		bid *= inventorySideReduction
	}
	if quantity < 0 {
		ask *= inventorySideReduction
	}
	return bid, ask
}

// Confidence scores how much the quote can be trusted given market state,
// in [0.1, 1].
func Confidence(vol float64, st domain.BookStats) float64 {
	c := 0.8
	c -= math.Min(2*vol, 0.3)
	ratio := 0.0
	if st.DepthRatioOK {
		ratio = st.DepthRatio
	}
	c -= (1 - ratio) * 0.2
	c -= math.Abs(st.Imbalance) * 0.1
	return clamp(c, 0.1, 1)
}

// floorToTick and ceilToTick round through decimal so that prices land
// exactly on the tick grid.
func floorToTick(price, tick float64) float64 {
	t := decimal.NewFromFloat(tick)
	f, _ := decimal.NewFromFloat(price).Div(t).Floor().Mul(t).Float64()
	return f
}

func ceilToTick(price, tick float64) float64 {
	t := decimal.NewFromFloat(tick)
	f, _ := decimal.NewFromFloat(price).Div(t).Ceil().Mul(t).Float64()
	return f
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
