package marketmaker

import (
	"fmt"
	"strings"

	"github.com/alanyoungcy/mmengine/internal/domain"
	"github.com/alanyoungcy/mmengine/internal/orderbook"
	"github.com/alanyoungcy/mmengine/internal/risk"
	"github.com/alanyoungcy/mmengine/internal/volatility"
)

// BreachAction selects what the engine emits while a risk limit is
// breached.
type BreachAction string

const (
	// BreachHalt emits no quote.
	BreachHalt BreachAction = "halt"
	// BreachLiquidate emits a reduce-only quote on the flattening side.
	BreachLiquidate BreachAction = "liquidate"
)

// AdverseConfig configures the adverse-selection detector.
type AdverseConfig struct {
	Threshold     float64
	PenaltyFactor float64
	Window        int
	MinFills      int
}

// QuoteConfig holds the quoting policy parameters.
type QuoteConfig struct {
	TargetSpreadBps       float64
	MinSpreadBps          float64
	MaxSpreadBps          float64
	DefaultQuoteSize      float64
	SkewFactor            float64
	MaxInventoryDeviation float64
	// VolatilityAdjustmentFactor scales annualized volatility into the
	// spread together with VolSpreadBpsPerUnit.
	VolatilityAdjustmentFactor float64
	VolSpreadBpsPerUnit        float64
	DepthRatioFloor            float64
	DepthPenaltyBps            float64
	ImbalancePenaltyBps        float64
	TickSize                   float64
	Adverse                    AdverseConfig
	BreachAction               BreachAction
}

// DefaultQuoteConfig returns a 10 bps target market in 10 lots.
func DefaultQuoteConfig() QuoteConfig {
	return QuoteConfig{
		TargetSpreadBps:            10,
		MinSpreadBps:               2,
		MaxSpreadBps:               50,
		DefaultQuoteSize:           10,
		SkewFactor:                 0.5,
		MaxInventoryDeviation:      100,
		VolatilityAdjustmentFactor: 2.0,
		VolSpreadBpsPerUnit:        10,
		DepthRatioFloor:            0.5,
		DepthPenaltyBps:            10,
		ImbalancePenaltyBps:        15,
		TickSize:                   0.01,
		Adverse: AdverseConfig{
			Threshold:     0.8,
			PenaltyFactor: 2.0,
			Window:        50,
			MinFills:      10,
		},
		BreachAction: BreachHalt,
	}
}

// Validate checks the quoting parameters.
func (c QuoteConfig) Validate() error {
	var errs []string
	if c.MinSpreadBps <= 0 {
		errs = append(errs, "min_spread_bps must be > 0")
	}
	if c.MaxSpreadBps < c.MinSpreadBps {
		errs = append(errs, "max_spread_bps must be >= min_spread_bps")
	}
	if c.TargetSpreadBps < 0 {
		errs = append(errs, "target_spread_bps must be >= 0")
	}
	if c.DefaultQuoteSize <= 0 {
		errs = append(errs, "default_quote_size must be > 0")
	}
	if c.MaxInventoryDeviation <= 0 {
		errs = append(errs, "max_inventory_deviation must be > 0")
	}
	if c.SkewFactor < 0 {
		errs = append(errs, "skew_factor must be >= 0")
	}
	if c.TickSize <= 0 {
		errs = append(errs, "tick_size must be > 0")
	}
	if c.Adverse.Window < 1 {
		errs = append(errs, "adverse window must be >= 1")
	}
	if c.Adverse.Threshold < 0 || c.Adverse.Threshold > 1 {
		errs = append(errs, "adverse threshold must be in [0, 1]")
	}
	if c.BreachAction != BreachHalt && c.BreachAction != BreachLiquidate {
		errs = append(errs, fmt.Sprintf("unknown breach_action %q", c.BreachAction))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: marketmaker: %s", domain.ErrValidation, strings.Join(errs, "; "))
	}
	return nil
}

// Config bundles everything needed to build per-symbol state.
type Config struct {
	Book                 orderbook.Config
	Volatility           volatility.Params
	HistorySize          int
	MinClusteringReturns int
	Risk                 risk.Config
	Quote                QuoteConfig
}

// DefaultConfig returns defaults for every component.
func DefaultConfig() Config {
	return Config{
		Book:                 orderbook.DefaultConfig(),
		Volatility:           volatility.DefaultParams(),
		HistorySize:          volatility.DefaultHistorySize,
		MinClusteringReturns: volatility.DefaultMinClusteringReturns,
		Risk:                 risk.DefaultConfig(),
		Quote:                DefaultQuoteConfig(),
	}
}

// Validate checks every component configuration.
func (c Config) Validate() error {
	if err := c.Book.Validate(); err != nil {
		return err
	}
	if err := c.Volatility.Validate(); err != nil {
		return err
	}
	if err := c.Risk.Validate(); err != nil {
		return err
	}
	return c.Quote.Validate()
}
