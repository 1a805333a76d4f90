package backtest

import "math"

// Performance holds the risk-adjusted statistics of a return series.
type Performance struct {
	AnnualizedReturn     float64
	AnnualizedVolatility float64
	Sharpe               float64
	Sortino              float64
	Calmar               float64
}

// ComputePerformance annualises per-period returns. Ratios with a zero
// denominator are reported as 0, never NaN or Inf.
func ComputePerformance(periodReturns []float64, periodsPerYear, riskFree, maxDrawdown float64) Performance {
	var p Performance
	n := len(periodReturns)
	if n == 0 {
		return p
	}
	mean := 0.0
	for _, r := range periodReturns {
		mean += r
	}
	mean /= float64(n)
	p.AnnualizedReturn = mean * periodsPerYear

	if n > 1 {
		var ss float64
		for _, r := range periodReturns {
			d := r - mean
			ss += d * d
		}
		p.AnnualizedVolatility = math.Sqrt(ss/float64(n-1)) * math.Sqrt(periodsPerYear)
	}

	var down float64
	for _, r := range periodReturns {
		if r < 0 {
			down += r * r
		}
	}
	downside := math.Sqrt(down/float64(n)) * math.Sqrt(periodsPerYear)

	excess := p.AnnualizedReturn - riskFree
	p.Sharpe = safeDiv(excess, p.AnnualizedVolatility)
	p.Sortino = safeDiv(excess, downside)
	p.Calmar = safeDiv(p.AnnualizedReturn, maxDrawdown)
	return p
}

// TradeStats summarises per-trade PnL.
type TradeStats struct {
	Total        int
	Winning      int
	WinRate      float64
	ProfitFactor float64
	AvgPnL       float64
	GrossProfit  float64
	GrossLoss    float64
}

// ComputeTradeStats returns win rate, profit factor and average PnL. The
// profit factor is 0 when there are no losing trades.
func ComputeTradeStats(pnls []float64) TradeStats {
	s := TradeStats{Total: len(pnls)}
	if s.Total == 0 {
		return s
	}
	var sum float64
	for _, p := range pnls {
		sum += p
		switch {
		case p > 0:
			s.Winning++
			s.GrossProfit += p
		case p < 0:
			s.GrossLoss -= p
		}
	}
	s.WinRate = float64(s.Winning) / float64(s.Total)
	s.ProfitFactor = safeDiv(s.GrossProfit, s.GrossLoss)
	s.AvgPnL = sum / float64(s.Total)
	return s
}

func safeDiv(num, den float64) float64 {
	if den <= 0 || math.IsNaN(den) || math.IsNaN(num) {
		return 0
	}
	v := num / den
	if math.IsInf(v, 0) {
		return 0
	}
	return v
}
