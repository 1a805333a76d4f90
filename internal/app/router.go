package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/mmengine/internal/domain"
	"github.com/alanyoungcy/mmengine/internal/marketmaker"
	"github.com/alanyoungcy/mmengine/internal/risk"
)

// BreachAlerter sends a notification for a limit breach.
type BreachAlerter interface {
	Alert(ctx context.Context, b domain.LimitBreach) (bool, error)
}

// PositionObserver is told the inventory after every fill.
type PositionObserver interface {
	PositionChanged(symbol string, quantity float64)
}

// sinkTimeout bounds a single write to an external sink.
const sinkTimeout = 5 * time.Second

// RouterConfig controls the live router. OutboxSize bounds the pending sink
// writes per symbol and defaults to four times QueueSize.
type RouterConfig struct {
	Symbols            []string
	QueueSize          int
	OutboxSize         int
	SnapshotInterval   time.Duration
	LockTTL            time.Duration
	QuoteChannelPrefix string
	QuoteStream        string
	RestoreState       bool
}

// Sinks are the router's outputs. Any of them may be nil.
type Sinks struct {
	Bus       domain.SignalBus
	Books     domain.BookCache
	States    domain.StateStore
	Locks     domain.LockManager
	Breaches  domain.BreachStore
	Alerter   BreachAlerter
	Positions PositionObserver
}

// Router owns one State per configured symbol and drives each from its own
// goroutine. Ticks for a busy symbol are dropped when its queue is full;
// fills are never dropped. Sink writes are handed to a per-symbol outbox and
// performed by a separate goroutine, so a slow sink never stalls quoting.
type Router struct {
	engine *marketmaker.Engine
	cfg    RouterConfig
	sinks  Sinks
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	tickChs map[string]chan domain.MarketTick
	fillChs map[string]chan domain.Fill
	dropped map[string]int
	lostOut map[string]int
}

// NewRouter creates the per-symbol queues. Run must be started before the
// queues drain.
func NewRouter(engine *marketmaker.Engine, cfg RouterConfig, sinks Sinks, logger *slog.Logger) (*Router, error) {
	if len(cfg.Symbols) == 0 {
		return nil, fmt.Errorf("%w: router: no symbols", domain.ErrValidation)
	}
	if cfg.QueueSize < 1 {
		cfg.QueueSize = 1
	}
	if cfg.OutboxSize < 1 {
		cfg.OutboxSize = 4 * cfg.QueueSize
	}
	r := &Router{
		engine:  engine,
		cfg:     cfg,
		sinks:   sinks,
		logger:  logger.With(slog.String("component", "router")),
		now:     time.Now,
		tickChs: make(map[string]chan domain.MarketTick, len(cfg.Symbols)),
		fillChs: make(map[string]chan domain.Fill, len(cfg.Symbols)),
		dropped: make(map[string]int),
		lostOut: make(map[string]int),
	}
	for _, s := range cfg.Symbols {
		if _, dup := r.tickChs[s]; dup {
			return nil, fmt.Errorf("%w: router: duplicate symbol %q", domain.ErrValidation, s)
		}
		r.tickChs[s] = make(chan domain.MarketTick, cfg.QueueSize)
		r.fillChs[s] = make(chan domain.Fill, cfg.QueueSize)
	}
	return r, nil
}

// HandleTick queues tick for its symbol. Unknown symbols are ignored.
func (r *Router) HandleTick(ctx context.Context, tick domain.MarketTick) error {
	ch, ok := r.tickChs[tick.Symbol]
	if !ok {
		r.logger.Debug("tick for unrouted symbol", slog.String("symbol", tick.Symbol))
		return nil
	}
	select {
	case ch <- tick:
	case <-ctx.Done():
		return ctx.Err()
	default:
		r.mu.Lock()
		r.dropped[tick.Symbol]++
		n := r.dropped[tick.Symbol]
		r.mu.Unlock()
		r.logger.Debug("tick queue full, dropping",
			slog.String("symbol", tick.Symbol),
			slog.Int("dropped", n),
		)
	}
	return nil
}

// HandleFill queues f for its symbol, blocking until there is room.
func (r *Router) HandleFill(ctx context.Context, f domain.Fill) error {
	ch, ok := r.fillChs[f.Symbol]
	if !ok {
		return fmt.Errorf("%w: router: fill for unrouted symbol %q", domain.ErrValidation, f.Symbol)
	}
	select {
	case ch <- f:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dropped returns how many ticks were discarded for symbol.
func (r *Router) Dropped(symbol string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped[symbol]
}

// DroppedOutputs returns how many book or quote writes were discarded for
// symbol because its outbox was full.
func (r *Router) DroppedOutputs(symbol string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lostOut[symbol]
}

// Run claims every symbol, restores saved state and runs one worker per
// symbol until ctx is cancelled or a worker fails.
func (r *Router) Run(ctx context.Context) error {
	workers := make([]*symbolWorker, 0, len(r.cfg.Symbols))
	defer func() {
		for _, w := range workers {
			w.release()
		}
	}()

	for _, sym := range r.cfg.Symbols {
		w, err := r.prepare(ctx, sym)
		if err != nil {
			return err
		}
		workers = append(workers, w)
	}

	r.logger.Info("router started", slog.Any("symbols", r.cfg.Symbols))
	defer r.logger.Info("router stopped")

	g, gctx := errgroup.WithContext(ctx)
	for _, w := range workers {
		g.Go(func() error {
			return w.run(gctx)
		})
		g.Go(func() error {
			w.drain(gctx)
			return nil
		})
	}
	return g.Wait()
}

func (r *Router) prepare(ctx context.Context, symbol string) (*symbolWorker, error) {
	w := &symbolWorker{
		router: r,
		ticks:  r.tickChs[symbol],
		fills:  r.fillChs[symbol],
		out:    make(chan output, r.cfg.OutboxSize),
		logger: r.logger.With(slog.String("symbol", symbol)),
	}

	if r.sinks.Locks != nil {
		lease, err := r.sinks.Locks.Acquire(ctx, "engine:symbol:"+symbol, r.cfg.LockTTL)
		if err != nil {
			return nil, fmt.Errorf("router: claim %s: %w", symbol, err)
		}
		w.lease = lease
	}

	st, err := r.engine.NewState(symbol)
	if err != nil {
		w.release()
		return nil, fmt.Errorf("router: state %s: %w", symbol, err)
	}
	w.state = st

	if r.cfg.RestoreState && r.sinks.States != nil {
		snap, err := r.sinks.States.Load(ctx, symbol)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			w.logger.Info("no saved state, starting cold")
		case err != nil:
			w.release()
			return nil, fmt.Errorf("router: load state %s: %w", symbol, err)
		default:
			if err := st.Restore(snap); err != nil {
				w.logger.Warn("discarding unusable saved state", slog.String("error", err.Error()))
			} else {
				w.logger.Info("state restored",
					slog.Time("taken_at", snap.TakenAt),
					slog.Float64("position", snap.Position.Quantity),
					slog.Int("returns", len(snap.Returns)),
				)
			}
		}
	}
	return w, nil
}

// output is one deferred write to an external sink. Critical outputs are
// never discarded; the rest are dropped when the outbox is full.
type output struct {
	name     string
	critical bool
	write    func(ctx context.Context) error
}

// symbolWorker is the single goroutine allowed to touch one State.
type symbolWorker struct {
	router   *Router
	state    *marketmaker.State
	ticks    <-chan domain.MarketTick
	fills    <-chan domain.Fill
	out      chan output
	lease    domain.Lease
	lockLost bool
	logger   *slog.Logger
}

func (w *symbolWorker) release() {
	if w.lease != nil {
		w.lease.Release()
		w.lease = nil
	}
}

func (w *symbolWorker) run(ctx context.Context) error {
	defer w.finish()

	var snapC <-chan time.Time
	if w.router.cfg.SnapshotInterval > 0 && w.router.sinks.States != nil {
		t := time.NewTicker(w.router.cfg.SnapshotInterval)
		defer t.Stop()
		snapC = t.C
	}
	var lost <-chan struct{}
	if w.lease != nil {
		lost = w.lease.Lost()
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-lost:
			w.lockLost = true
			w.logger.Error("symbol lock lost, stopping worker")
			return fmt.Errorf("router: %s: %w", w.state.Symbol, domain.ErrLockLost)
		case tick := <-w.ticks:
			w.onTick(ctx, tick)
		case f := <-w.fills:
			w.onFill(ctx, f)
		case <-snapC:
			w.save(ctx, false)
		}
	}
}

// finish queues the exit snapshot and closes the outbox. A worker that lost
// its lock does not save, since another instance now owns the symbol.
func (w *symbolWorker) finish() {
	if !w.lockLost {
		w.save(context.Background(), true)
	}
	close(w.out)
}

// drain performs queued sink writes until the worker closes the outbox.
// Writes outlive ctx so that the exit snapshot still lands.
func (w *symbolWorker) drain(ctx context.Context) {
	base := context.WithoutCancel(ctx)
	for o := range w.out {
		octx, cancel := context.WithTimeout(base, sinkTimeout)
		err := o.write(octx)
		cancel()
		if err != nil {
			w.logger.Warn("sink write failed",
				slog.String("output", o.name),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (w *symbolWorker) enqueue(ctx context.Context, o output) {
	if o.critical {
		select {
		case w.out <- o:
		case <-ctx.Done():
			w.logger.Error("output abandoned at shutdown", slog.String("output", o.name))
		}
		return
	}
	select {
	case w.out <- o:
	default:
		r := w.router
		r.mu.Lock()
		r.lostOut[w.state.Symbol]++
		r.mu.Unlock()
		w.logger.Debug("outbox full, dropping", slog.String("output", o.name))
	}
}

func (w *symbolWorker) onTick(ctx context.Context, tick domain.MarketTick) {
	r := w.router
	wasBreached := w.state.Breached()

	d, err := r.engine.OnTick(w.state, tick)
	if errors.Is(err, domain.ErrValidation) {
		return
	}

	if books := r.sinks.Books; books != nil {
		snap, stats := w.state.Book.Snapshot(), d.Book
		w.enqueue(ctx, output{name: "book", write: func(ctx context.Context) error {
			return books.SetSnapshot(ctx, snap, stats)
		}})
	}

	var be *risk.BreachError
	switch {
	case errors.As(err, &be):
		if !wasBreached {
			w.onBreach(ctx, d, be, tick.Timestamp)
		}
	case err != nil:
		w.logger.Warn("no quote", slog.String("error", err.Error()))
	}

	if d.Quoted {
		w.publish(ctx, d.Quote)
	}
}

func (w *symbolWorker) onBreach(ctx context.Context, d marketmaker.Decision, be *risk.BreachError, at time.Time) {
	r := w.router
	b := domain.LimitBreach{
		ID:         uuid.NewString(),
		Symbol:     w.state.Symbol,
		Violations: be.Limits(),
		Snapshot:   d.Risk,
		Position:   w.state.Risk.Position(),
		Action:     string(r.engine.Config().Quote.BreachAction),
		OccurredAt: at,
	}
	if r.sinks.Breaches == nil && r.sinks.Alerter == nil {
		return
	}
	logger := w.logger
	w.enqueue(ctx, output{name: "breach", critical: true, write: func(ctx context.Context) error {
		if r.sinks.Breaches != nil {
			if err := r.sinks.Breaches.Insert(ctx, b); err != nil {
				logger.Error("breach audit failed", slog.String("error", err.Error()))
			}
		}
		if r.sinks.Alerter != nil {
			if _, err := r.sinks.Alerter.Alert(ctx, b); err != nil {
				logger.Warn("breach alert failed", slog.String("error", err.Error()))
			}
		}
		return nil
	}})
}

func (w *symbolWorker) publish(ctx context.Context, q domain.Quote) {
	bus := w.router.sinks.Bus
	if bus == nil {
		return
	}
	payload, err := json.Marshal(q)
	if err != nil {
		w.logger.Error("quote encode failed", slog.String("error", err.Error()))
		return
	}
	channel, stream := "", w.router.cfg.QuoteStream
	if p := w.router.cfg.QuoteChannelPrefix; p != "" {
		channel = p + ":" + q.Symbol
	}
	w.enqueue(ctx, output{name: "quote", write: func(ctx context.Context) error {
		var errs []error
		if channel != "" {
			if err := bus.Publish(ctx, channel, payload); err != nil {
				errs = append(errs, fmt.Errorf("publish: %w", err))
			}
		}
		if stream != "" {
			if err := bus.StreamAppend(ctx, stream, payload); err != nil {
				errs = append(errs, fmt.Errorf("stream append: %w", err))
			}
		}
		return errors.Join(errs...)
	}})
}

func (w *symbolWorker) onFill(ctx context.Context, f domain.Fill) {
	r := w.router
	if err := r.engine.OnFill(w.state, f); err != nil {
		w.logger.Warn("fill rejected",
			slog.String("fill_id", f.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	if r.sinks.Positions != nil {
		r.sinks.Positions.PositionChanged(w.state.Symbol, w.state.Risk.Position().Quantity)
	}
}

// save queues a state snapshot. Periodic snapshots may be dropped since the
// next interval retries; the exit snapshot is not.
func (w *symbolWorker) save(ctx context.Context, final bool) {
	states := w.router.sinks.States
	if states == nil || w.state.Ticks() == 0 {
		return
	}
	snap := w.state.Export(w.router.now())
	w.enqueue(ctx, output{name: "state", critical: final, write: func(ctx context.Context) error {
		return states.Save(ctx, snap)
	}})
}
