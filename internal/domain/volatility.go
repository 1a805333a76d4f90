package domain

// Regime classifies annualized volatility.
type Regime string

const (
	RegimeLow     Regime = "low"
	RegimeNormal  Regime = "normal"
	RegimeHigh    Regime = "high"
	RegimeExtreme Regime = "extreme"
)

// VolatilityState is the recursive estimator state after the most recent
// return. Volatility is the blended annualized figure used downstream.
type VolatilityState struct {
	EWMAVariance    float64 `json:"ewma_variance"`
	GARCHVariance   float64 `json:"garch_variance"`
	LastReturn      float64 `json:"last_return"`
	EWMAVolatility  float64 `json:"ewma_volatility"`
	GARCHVolatility float64 `json:"garch_volatility"`
	Volatility      float64 `json:"volatility"`
	Regime          Regime  `json:"regime"`
	ClusteringScore float64 `json:"clustering_score"`
	// ClusteringOK is false until enough returns exist for a score.
	ClusteringOK bool `json:"clustering_ok"`
	Observations int  `json:"observations"`
}
