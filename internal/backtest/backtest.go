// Package backtest replays historical ticks through the market-making
// decision cycle, simulates fills and reports performance.
package backtest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/mmengine/internal/domain"
	"github.com/alanyoungcy/mmengine/internal/marketmaker"
)

// Config controls the replay.
type Config struct {
	CostBps        float64
	SlippageBps    float64
	RiskFreeRate   float64
	TicksPerPeriod int
	PeriodsPerYear float64
	WarmupTicks    int
	Seed           uint64
	// SkipInvalid drops malformed ticks instead of failing the run.
	SkipInvalid bool
	Fill        FillModelConfig
}

// DefaultConfig returns 2 bps cost, 1 bp slippage, a 50 tick warm-up and
// 100 tick periods annualised over 252.
func DefaultConfig() Config {
	return Config{
		CostBps:        2,
		SlippageBps:    1,
		RiskFreeRate:   0.02,
		TicksPerPeriod: 100,
		PeriodsPerYear: 252,
		WarmupTicks:    50,
		Seed:           42,
		Fill:           DefaultFillModelConfig(),
	}
}

// Validate checks the replay parameters.
func (c Config) Validate() error {
	switch {
	case c.CostBps < 0 || c.SlippageBps < 0:
		return fmt.Errorf("%w: backtest: cost and slippage must be >= 0", domain.ErrValidation)
	case c.TicksPerPeriod < 1:
		return fmt.Errorf("%w: backtest: ticks_per_period must be >= 1", domain.ErrValidation)
	case c.PeriodsPerYear <= 0:
		return fmt.Errorf("%w: backtest: periods_per_year must be > 0", domain.ErrValidation)
	case c.WarmupTicks < 0:
		return fmt.Errorf("%w: backtest: warmup_ticks must be >= 0", domain.ErrValidation)
	case c.Fill.MaxProbability < 0 || c.Fill.MaxProbability > 1:
		return fmt.Errorf("%w: backtest: fill max_probability must be in [0, 1]", domain.ErrValidation)
	}
	return nil
}

// Engine runs backtests. It holds no per-run state and may run several
// symbols concurrently.
type Engine struct {
	cfg    Config
	mm     *marketmaker.Engine
	logger *slog.Logger
	newID  func() string
}

// NewEngine returns a backtest engine driving mm.
func NewEngine(cfg Config, mm *marketmaker.Engine, logger *slog.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Engine{
		cfg:    cfg,
		mm:     mm,
		logger: logger.With(slog.String("component", "backtest")),
		newID:  uuid.NewString,
	}, nil
}

// Run replays ticks for one symbol. The run either completes and returns a
// result or fails and returns none.
func (e *Engine) Run(ctx context.Context, symbol string, ticks []domain.MarketTick) (*domain.BacktestResult, error) {
	if len(ticks) == 0 {
		return nil, fmt.Errorf("backtest: %s: no ticks: %w", symbol, domain.ErrInsufficientData)
	}
	for i := 1; i < len(ticks); i++ {
		if ticks[i].Timestamp.Before(ticks[i-1].Timestamp) {
			return nil, fmt.Errorf("backtest: %s: tick %d: %w", symbol, i, domain.ErrOutOfOrder)
		}
	}

	st, err := e.mm.NewState(symbol)
	if err != nil {
		return nil, fmt.Errorf("backtest: %s: %w", symbol, err)
	}
	r := &run{
		cfg:     e.cfg,
		mm:      e.mm,
		st:      st,
		fills:   newFillModel(e.cfg.Fill, e.cfg.Seed),
		initial: st.Risk.Equity(),
		logger:  e.logger,
	}
	r.peak = r.initial
	r.periodStart = r.initial

	for i, tick := range ticks {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		if tick.Symbol == "" {
			tick.Symbol = symbol
		}
		if err := r.step(tick); err != nil {
			return nil, fmt.Errorf("backtest: %s: tick %d: %w", symbol, i, err)
		}
	}
	if r.accepted == 0 {
		return nil, fmt.Errorf("backtest: %s: every tick rejected: %w", symbol, domain.ErrInsufficientData)
	}

	res := r.result()
	res.RunID = e.newID()
	res.Symbol = symbol
	e.logger.Info("backtest complete",
		slog.String("run_id", res.RunID),
		slog.String("symbol", symbol),
		slog.Int("ticks", res.Ticks),
		slog.Int("trades", res.TotalTrades),
		slog.Float64("total_return", res.TotalReturn),
		slog.Float64("sharpe", res.Sharpe),
		slog.Float64("max_drawdown", res.MaxDrawdown),
	)
	return res, nil
}

// RunAll groups ticks by symbol and runs each symbol in parallel. Any
// failure cancels the remaining runs and no results are returned.
func (e *Engine) RunAll(ctx context.Context, ticks []domain.MarketTick) (map[string]*domain.BacktestResult, error) {
	bySymbol := GroupBySymbol(ticks)
	if len(bySymbol) == 0 {
		return nil, fmt.Errorf("backtest: no ticks: %w", domain.ErrInsufficientData)
	}

	var mu sync.Mutex
	out := make(map[string]*domain.BacktestResult, len(bySymbol))
	g, gctx := errgroup.WithContext(ctx)
	for symbol, series := range bySymbol {
		g.Go(func() error {
			res, err := e.Run(gctx, symbol, series)
			if err != nil {
				return err
			}
			mu.Lock()
			out[symbol] = res
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// GroupBySymbol splits ticks per symbol, stable-sorted by timestamp.
func GroupBySymbol(ticks []domain.MarketTick) map[string][]domain.MarketTick {
	out := make(map[string][]domain.MarketTick)
	for _, t := range ticks {
		out[t.Symbol] = append(out[t.Symbol], t)
	}
	for _, series := range out {
		sort.SliceStable(series, func(i, j int) bool {
			return series[i].Timestamp.Before(series[j].Timestamp)
		})
	}
	return out
}

// run is the mutable state of one replay.
type run struct {
	cfg    Config
	mm     *marketmaker.Engine
	st     *marketmaker.State
	fills  *fillModel
	logger *slog.Logger

	pending    domain.Quote
	hasPending bool
	pendingImb float64
	pendingVol float64

	accepted  int
	quotes    int
	breaches  int
	fillSeq   int
	trades    []domain.TradeRecord
	equity    []domain.EquityPoint
	initial   float64
	peak      float64
	maxDD     float64
	fees      float64
	first     time.Time
	last      time.Time
	inPeriod  int
	periodRet []float64

	periodStart float64
}

func (r *run) step(tick domain.MarketTick) error {
	err := tick.Validate()
	if err == nil && tick.Symbol != r.st.Symbol {
		err = fmt.Errorf("%w: tick for %s in %s run", domain.ErrValidation, tick.Symbol, r.st.Symbol)
	}
	if err != nil {
		if r.cfg.SkipInvalid {
			r.logger.Debug("skipping invalid tick", slog.String("error", err.Error()))
			return nil
		}
		return err
	}

	if r.hasPending {
		if err := r.fillPending(tick); err != nil {
			return err
		}
	}

	d, err := r.mm.OnTick(r.st, tick)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrLimitBreached):
		r.breaches++
	case errors.Is(err, domain.ErrValidation) && r.cfg.SkipInvalid:
		return nil
	default:
		return err
	}

	if r.accepted == 0 {
		r.first = tick.Timestamp
	}
	r.accepted++
	r.last = tick.Timestamp

	r.hasPending = false
	if d.Quoted && r.accepted > r.cfg.WarmupTicks {
		r.pending, r.hasPending = d.Quote, true
		r.pendingImb = d.Book.Imbalance
		r.pendingVol = d.Volatility.Volatility
		r.quotes++
	}

	r.markEquity(tick.Timestamp)
	return nil
}

func (r *run) fillPending(next domain.MarketTick) error {
	mid := next.Mid()
	for _, sf := range r.fills.simulate(r.pending, next, r.pendingImb, r.pendingVol) {
		notional := sf.price * sf.quantity
		r.fillSeq++
		f := domain.Fill{
			ID:        fmt.Sprintf("%s-%d", r.st.Symbol, r.fillSeq),
			Symbol:    r.st.Symbol,
			Side:      sf.side,
			Price:     sf.price,
			Quantity:  sf.quantity,
			Fee:       notional * (r.cfg.CostBps + r.cfg.SlippageBps) / 1e4,
			Timestamp: next.Timestamp,
			IsAdverse: (sf.side == domain.SideBuy && mid < sf.price) || (sf.side == domain.SideSell && mid > sf.price),
		}
		before := r.st.Risk.Position().RealizedPnL
		if err := r.mm.OnFill(r.st, f); err != nil {
			if errors.Is(err, domain.ErrLimitBreached) {
				r.logger.Debug("simulated fill rejected", slog.String("error", err.Error()))
				continue
			}
			return err
		}
		pos := r.st.Risk.Position()
		r.fees += f.Fee
		r.trades = append(r.trades, domain.TradeRecord{
			Fill:          f,
			PnL:           pos.RealizedPnL - before,
			PositionAfter: pos.Quantity,
		})
	}
	return nil
}

func (r *run) markEquity(at time.Time) {
	eq := r.st.Risk.Equity()
	if eq > r.peak {
		r.peak = eq
	}
	dd := 0.0
	if r.peak > 0 {
		dd = (r.peak - eq) / r.peak
	}
	r.maxDD = math.Max(r.maxDD, dd)
	r.equity = append(r.equity, domain.EquityPoint{Timestamp: at, Equity: eq, Drawdown: dd})

	if r.accepted <= r.cfg.WarmupTicks {
		r.periodStart = eq
		return
	}
	r.inPeriod++
	if r.inPeriod == r.cfg.TicksPerPeriod {
		r.closePeriod(eq)
	}
}

func (r *run) closePeriod(eq float64) {
	ret := 0.0
	if r.periodStart > 0 {
		ret = eq/r.periodStart - 1
	}
	r.periodRet = append(r.periodRet, ret)
	r.periodStart = eq
	r.inPeriod = 0
}

func (r *run) result() *domain.BacktestResult {
	final := r.st.Risk.Equity()
	if r.inPeriod > 0 {
		r.closePeriod(final)
	}

	pnls := make([]float64, len(r.trades))
	for i, t := range r.trades {
		pnls[i] = t.PnL
	}
	ts := ComputeTradeStats(pnls)
	perf := ComputePerformance(r.periodRet, r.cfg.PeriodsPerYear, r.cfg.RiskFreeRate, r.maxDD)

	totalReturn := 0.0
	if r.initial > 0 {
		totalReturn = final/r.initial - 1
	}
	return &domain.BacktestResult{
		StartTime:            r.first,
		EndTime:              r.last,
		Ticks:                r.accepted,
		QuotesEmitted:        r.quotes,
		Breaches:             r.breaches,
		InitialCapital:       r.initial,
		FinalCapital:         final,
		TotalReturn:          totalReturn,
		AnnualizedReturn:     perf.AnnualizedReturn,
		AnnualizedVolatility: perf.AnnualizedVolatility,
		Sharpe:               perf.Sharpe,
		Sortino:              perf.Sortino,
		Calmar:               perf.Calmar,
		MaxDrawdown:          r.maxDD,
		ProfitFactor:         ts.ProfitFactor,
		WinRate:              ts.WinRate,
		TotalTrades:          ts.Total,
		WinningTrades:        ts.Winning,
		AvgTradePnL:          ts.AvgPnL,
		TotalFees:            r.fees,
		FinalPosition:        r.st.Risk.Position(),
		Trades:               r.trades,
		EquityCurve:          r.equity,
	}
}
