// Package marketmaker runs the per-tick decision cycle: book update,
// volatility update, risk gate and quote construction.
package marketmaker

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/mmengine/internal/domain"
	"github.com/alanyoungcy/mmengine/internal/orderbook"
	"github.com/alanyoungcy/mmengine/internal/risk"
	"github.com/alanyoungcy/mmengine/internal/volatility"
)

// Decision is the outcome of one cycle. Quote is valid only when Quoted is
// true.
type Decision struct {
	Quote      domain.Quote
	Quoted     bool
	Spread     SpreadComponents
	Book       domain.BookStats
	Volatility domain.VolatilityState
	Risk       domain.RiskSnapshot
}

// Option customises an Engine.
type Option func(*Engine)

// WithObserver installs a stage timing observer.
func WithObserver(o StageObserver) Option {
	return func(e *Engine) { e.observer = o }
}

// WithRecorder installs a metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(e *Engine) { e.recorder = r }
}

// WithClock overrides the clock used for stage markers.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithIDs overrides quote ID generation.
func WithIDs(next func() string) Option {
	return func(e *Engine) { e.newID = next }
}

// Engine is stateless apart from configuration and collaborators; all
// per-symbol state lives in State values passed to each call, so one
// Engine may serve many symbols from different goroutines.
type Engine struct {
	cfg      Config
	logger   *slog.Logger
	observer StageObserver
	recorder Recorder
	now      func() time.Time
	newID    func() string
}

// NewEngine validates cfg and returns an Engine.
func NewEngine(cfg Config, logger *slog.Logger, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "market_maker")),
		observer: nopObserver{},
		recorder: nopRecorder{},
		now:      time.Now,
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Config returns the engine configuration.
func (e *Engine) Config() Config { return e.cfg }

// NewState builds an empty state bundle for symbol.
func (e *Engine) NewState(symbol string) (*State, error) {
	book, err := orderbook.New(symbol, e.cfg.Book)
	if err != nil {
		return nil, err
	}
	vol, err := volatility.NewModel(e.cfg.Volatility, e.cfg.HistorySize, e.cfg.MinClusteringReturns)
	if err != nil {
		return nil, err
	}
	rm, err := risk.NewManager(symbol, e.cfg.Risk)
	if err != nil {
		return nil, err
	}
	return &State{
		Symbol:     symbol,
		Book:       book,
		Volatility: vol,
		Risk:       rm,
		adverse:    newAdverseDetector(e.cfg.Quote.Adverse),
	}, nil
}

// OnTick runs one decision cycle. A malformed or stale tick returns an
// error wrapping domain.ErrValidation and leaves st untouched. A breach
// returns an error wrapping domain.ErrLimitBreached; in liquidate mode the
// Decision may still carry a reduce-only quote.
func (e *Engine) OnTick(st *State, tick domain.MarketTick) (Decision, error) {
	var d Decision

	e.observer.StageStarted(st.Symbol, StageBook, e.now())
	err := st.Book.Update(tick)
	e.observer.StageFinished(st.Symbol, StageBook, e.now())
	if err != nil {
		e.recorder.TickRejected(st.Symbol, rejectReason(err))
		e.logger.Debug("tick rejected",
			slog.String("symbol", st.Symbol),
			slog.String("error", err.Error()),
		)
		return d, fmt.Errorf("marketmaker: %s: %w", st.Symbol, err)
	}
	st.lastTick = tick
	st.ticks++
	e.recorder.TickProcessed(st.Symbol)
	d.Book = st.Book.Stats()
	mid := d.Book.Mid

	e.observer.StageStarted(st.Symbol, StageVolatility, e.now())
	d.Volatility, _, err = st.Volatility.OnPrice(mid)
	e.observer.StageFinished(st.Symbol, StageVolatility, e.now())
	if err != nil {
		// The model kept its prior state; quote from that.
		e.logger.Warn("volatility update failed",
			slog.String("symbol", st.Symbol),
			slog.String("error", err.Error()),
		)
		d.Volatility = st.Volatility.State()
	}

	e.observer.StageStarted(st.Symbol, StageRisk, e.now())
	st.Risk.Mark(mid, tick.Timestamp)
	d.Risk = st.Risk.Evaluate(st.Volatility.Returns(), tick.Timestamp)
	breach := st.Risk.CheckLimits()
	e.observer.StageFinished(st.Symbol, StageRisk, e.now())
	e.recorder.RiskEvaluated(d.Risk, d.Volatility)

	if breach != nil {
		return e.onBreach(st, d, tick, breach)
	}
	st.breached = false

	e.observer.StageStarted(st.Symbol, StageQuote, e.now())
	q, sc, err := e.buildQuote(st, d, tick)
	e.observer.StageFinished(st.Symbol, StageQuote, e.now())
	if err != nil {
		st.hasQuote = false
		return d, fmt.Errorf("marketmaker: %s: %w", st.Symbol, err)
	}
	d.Quote, d.Quoted, d.Spread = q, true, sc
	st.lastQuote, st.hasQuote = q, true
	e.recorder.QuoteEmitted(q)

	e.logger.Debug("quote",
		slog.String("symbol", q.Symbol),
		slog.Float64("bid", q.BidPrice),
		slog.Float64("ask", q.AskPrice),
		slog.Float64("bid_size", q.BidSize),
		slog.Float64("ask_size", q.AskSize),
		slog.Float64("spread_bps", sc.Total),
		slog.String("regime", string(q.Regime)),
	)
	return d, nil
}

func (e *Engine) onBreach(st *State, d Decision, tick domain.MarketTick, breach error) (Decision, error) {
	var limits []string
	var be *risk.BreachError
	if errors.As(breach, &be) {
		limits = be.Limits()
	}
	e.recorder.LimitBreached(st.Symbol, limits)
	if !st.breached {
		e.logger.Warn("risk limit breached, quoting suspended",
			slog.String("symbol", st.Symbol),
			slog.Any("limits", limits),
			slog.Float64("position", st.Risk.Position().Quantity),
			slog.Float64("risk_score", d.Risk.RiskScore),
			slog.String("action", string(e.cfg.Quote.BreachAction)),
		)
	}
	st.breached = true
	st.hasQuote = false

	if e.cfg.Quote.BreachAction == BreachLiquidate {
		if q, ok := e.liquidationQuote(st, d, tick); ok {
			d.Quote, d.Quoted = q, true
			st.lastQuote, st.hasQuote = q, true
			e.recorder.QuoteEmitted(q)
		}
	}
	return d, fmt.Errorf("marketmaker: %s: %w", st.Symbol, breach)
}

func (e *Engine) buildQuote(st *State, d Decision, tick domain.MarketTick) (domain.Quote, SpreadComponents, error) {
	qc := e.cfg.Quote
	mid := d.Book.Mid
	pos := st.Risk.Position()

	sc := DynamicSpread(qc, d.Volatility, d.Book, st.adverse.penaltyBps())
	half := sc.Total / 2 * mid / 1e4
	skew := InventorySkew(pos.Quantity, e.cfg.Risk.MaxPosition, qc.SkewFactor, half)

	bid := floorToTick(mid-half-skew, qc.TickSize)
	ask := ceilToTick(mid+half-skew, qc.TickSize)
	minSpread := qc.MinSpreadBps * mid / 1e4
	if ask-bid < minSpread {
		ask = ceilToTick(bid+minSpread, qc.TickSize)
	}
	if ask <= bid {
		ask = bid + qc.TickSize
	}
	if bid <= 0 || math.IsNaN(bid) || math.IsNaN(ask) {
		return domain.Quote{}, sc, fmt.Errorf("%w: quote prices bid=%v ask=%v", domain.ErrNumericalInstability, bid, ask)
	}

	bidSize, askSize := QuoteSizes(qc.DefaultQuoteSize, pos.Quantity, qc.MaxInventoryDeviation, d.Volatility.Volatility)
	buyCap, sellCap := st.Risk.RemainingCapacity()
	bidSize = math.Min(bidSize, buyCap)
	askSize = math.Min(askSize, sellCap)

	return domain.Quote{
		ID:         e.newID(),
		Symbol:     st.Symbol,
		BidPrice:   bid,
		AskPrice:   ask,
		BidSize:    bidSize,
		AskSize:    askSize,
		SpreadBps:  sc.Total,
		Skew:       skew,
		Confidence: Confidence(d.Volatility.Volatility, d.Book),
		Regime:     d.Volatility.Regime,
		Timestamp:  tick.Timestamp,
	}, sc, nil
}

// liquidationQuote offers the whole position on the flattening side at the
// minimum spread. The other side carries zero size.
func (e *Engine) liquidationQuote(st *State, d Decision, tick domain.MarketTick) (domain.Quote, bool) {
	qty := st.Risk.Position().Quantity
	if qty == 0 {
		return domain.Quote{}, false
	}
	qc := e.cfg.Quote
	mid := d.Book.Mid
	half := qc.MinSpreadBps / 2 * mid / 1e4
	bid := floorToTick(mid-half, qc.TickSize)
	ask := ceilToTick(mid+half, qc.TickSize)
	if ask <= bid {
		ask = bid + qc.TickSize
	}
	q := domain.Quote{
		ID:         e.newID(),
		Symbol:     st.Symbol,
		BidPrice:   bid,
		AskPrice:   ask,
		SpreadBps:  qc.MinSpreadBps,
		Confidence: Confidence(d.Volatility.Volatility, d.Book),
		Regime:     d.Volatility.Regime,
		ReduceOnly: true,
		Timestamp:  tick.Timestamp,
	}
	if qty > 0 {
		q.AskSize = qty
	} else {
		q.BidSize = -qty
	}
	return q, true
}

// OnFill applies an execution to the position and feeds the adverse
// selection detector. Rejected fills change nothing.
func (e *Engine) OnFill(st *State, f domain.Fill) error {
	if f.Symbol == "" {
		f.Symbol = st.Symbol
	}
	if err := st.Risk.ApplyFill(f); err != nil {
		return fmt.Errorf("marketmaker: %s fill: %w", st.Symbol, err)
	}
	st.adverse.record(f.IsAdverse)
	e.recorder.FillApplied(f)
	e.logger.Debug("fill applied",
		slog.String("symbol", st.Symbol),
		slog.String("side", string(f.Side)),
		slog.Float64("price", f.Price),
		slog.Float64("quantity", f.Quantity),
		slog.Bool("adverse", f.IsAdverse),
		slog.Float64("position", st.Risk.Position().Quantity),
	)
	return nil
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrCrossedBook):
		return "crossed"
	case errors.Is(err, domain.ErrOutOfOrder):
		return "out_of_order"
	default:
		return "invalid"
	}
}
