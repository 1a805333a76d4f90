package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/mmengine/internal/backtest"
	"github.com/alanyoungcy/mmengine/internal/domain"
	"github.com/alanyoungcy/mmengine/internal/feed"
	"github.com/alanyoungcy/mmengine/internal/marketmaker"
	"github.com/alanyoungcy/mmengine/internal/notify"
	"github.com/alanyoungcy/mmengine/internal/server"
	"github.com/alanyoungcy/mmengine/internal/server/handler"
)

// LiveMode streams ticks from the configured feed through the per-symbol
// router, applies fills from the bus and serves operational endpoints. It
// blocks until ctx is cancelled or a component fails.
func (a *App) LiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting live mode", slog.Any("symbols", a.cfg.Engine.Symbols))

	mm, err := marketmaker.NewEngine(a.cfg.MarketMakerEngineConfig(), a.logger,
		marketmaker.WithRecorder(deps.Metrics),
		marketmaker.WithObserver(deps.Metrics),
	)
	if err != nil {
		return fmt.Errorf("app: live: %w", err)
	}

	var alerter BreachAlerter
	if deps.Notifier != nil && deps.Notifier.Enabled() {
		alerter = notify.NewBreachAlerter(deps.Notifier, deps.RateLimiter,
			a.cfg.Notify.AlertLimit, a.cfg.Notify.AlertWindow.Duration, a.logger)
	}

	router, err := NewRouter(mm, RouterConfig{
		Symbols:            a.cfg.Engine.Symbols,
		QueueSize:          a.cfg.Engine.QueueSize,
		SnapshotInterval:   a.cfg.Engine.SnapshotInterval.Duration,
		LockTTL:            a.cfg.Engine.LockTTL.Duration,
		QuoteChannelPrefix: a.cfg.Engine.QuoteChannelPrefix,
		QuoteStream:        a.cfg.Engine.QuoteStream,
		RestoreState:       a.cfg.Engine.RestoreState,
	}, Sinks{
		Bus:       deps.SignalBus,
		Books:     deps.BookCache,
		States:    deps.StateStore,
		Locks:     deps.LockManager,
		Breaches:  deps.BreachStore,
		Alerter:   alerter,
		Positions: deps.Metrics,
	}, a.logger)
	if err != nil {
		return fmt.Errorf("app: live: %w", err)
	}

	src, err := a.liveSource(deps)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return router.Run(ctx)
	})

	ticks := make(chan domain.MarketTick, a.cfg.Engine.QueueSize)
	g.Go(func() error {
		return src.Run(ctx, ticks)
	})
	g.Go(func() error {
		return pumpTicks(ctx, ticks, router)
	})

	if deps.SignalBus != nil && a.cfg.Engine.FillChannel != "" {
		g.Go(func() error {
			return consumeFills(ctx, deps.SignalBus, a.cfg.Engine.FillChannel, router, a.logger)
		})
	}

	if a.cfg.Metrics.Enabled {
		srv := a.opsServer(deps)
		g.Go(srv.Start)
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	a.notify(ctx, deps, notify.EventEngineStarted, "Engine started",
		"symbols: "+strings.Join(a.cfg.Engine.Symbols, ", "))
	err = g.Wait()
	a.notify(context.Background(), deps, notify.EventEngineStopped, "Engine stopped", stopReason(err))
	return err
}

func (a *App) liveSource(deps *Dependencies) (domain.TickSource, error) {
	switch strings.ToLower(a.cfg.Feed.Source) {
	case "websocket":
		return feed.NewWSSource(a.cfg.Feed.WSURL, a.cfg.Engine.Symbols, a.logger), nil
	case "redis":
		if deps.SignalBus == nil {
			return nil, fmt.Errorf("app: redis feed requires redis")
		}
		return feed.BusSource{
			Bus:     deps.SignalBus,
			Channel: a.cfg.Feed.RedisChannel,
			Stream:  a.cfg.Feed.RedisStream,
			LastID:  a.cfg.Feed.RedisStartID,
			Logger:  a.logger,
		}, nil
	default:
		return nil, fmt.Errorf("app: unknown feed source %q", a.cfg.Feed.Source)
	}
}

func (a *App) opsServer(deps *Dependencies) *server.Server {
	checks := make(map[string]handler.Check, len(deps.Health))
	for name, fn := range deps.Health {
		checks[name] = fn
	}
	return server.NewServer(
		server.Config{Addr: a.cfg.Metrics.Addr, MetricsPath: a.cfg.Metrics.Path},
		handler.NewHealthHandler(checks, 2*time.Second, a.logger),
		deps.Metrics.Handler(),
		a.logger,
	)
}

// pumpTicks moves feed output into the router.
func pumpTicks(ctx context.Context, ticks <-chan domain.MarketTick, router *Router) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case t := <-ticks:
			if err := router.HandleTick(ctx, t); err != nil {
				return err
			}
		}
	}
}

// consumeFills applies JSON-encoded fills published on channel.
func consumeFills(ctx context.Context, bus domain.SignalBus, channel string, router *Router, logger *slog.Logger) error {
	msgs, err := bus.Subscribe(ctx, channel)
	if err != nil {
		return fmt.Errorf("app: subscribe fills: %w", err)
	}
	logger = logger.With(slog.String("component", "fill_consumer"))
	logger.Info("fill consumer subscribed", slog.String("channel", channel))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case payload, ok := <-msgs:
			if !ok {
				return ctx.Err()
			}
			var f domain.Fill
			if err := json.Unmarshal(payload, &f); err != nil {
				logger.Warn("undecodable fill", slog.String("error", err.Error()))
				continue
			}
			if err := router.HandleFill(ctx, f); err != nil {
				if errors.Is(err, domain.ErrValidation) {
					logger.Warn("fill dropped", slog.String("error", err.Error()))
					continue
				}
				return err
			}
		}
	}
}

func stopReason(err error) string {
	if err == nil || errors.Is(err, context.Canceled) {
		return "shutdown requested"
	}
	return err.Error()
}

// BacktestMode replays the configured tick file or object, runs each symbol
// in parallel and hands the results to the configured sinks.
func (a *App) BacktestMode(ctx context.Context, deps *Dependencies) error {
	src, err := a.backtestSource(ctx, deps)
	if err != nil {
		return err
	}
	ticks, err := feed.Collect(ctx, src)
	if err != nil {
		return fmt.Errorf("app: load ticks: %w", err)
	}
	a.logger.InfoContext(ctx, "ticks loaded", slog.Int("count", len(ticks)))

	mm, err := marketmaker.NewEngine(a.cfg.BacktestMarketMakerConfig(), a.logger)
	if err != nil {
		return fmt.Errorf("app: backtest: %w", err)
	}
	bt, err := backtest.NewEngine(a.cfg.BacktestEngineConfig(), mm, a.logger)
	if err != nil {
		return fmt.Errorf("app: backtest: %w", err)
	}
	results, err := bt.RunAll(ctx, ticks)
	if err != nil {
		a.notify(ctx, deps, notify.EventError, "Backtest failed", err.Error())
		return fmt.Errorf("app: backtest: %w", err)
	}
	return a.publishResults(ctx, deps, results)
}

func (a *App) backtestSource(ctx context.Context, deps *Dependencies) (domain.TickSource, error) {
	if key := a.cfg.Backtest.InputS3Key; key != "" {
		if deps.BlobReader == nil {
			return nil, fmt.Errorf("app: input_s3_key requires s3")
		}
		ok, err := deps.BlobReader.Exists(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("app: backtest input: %w", err)
		}
		if !ok {
			return nil, fmt.Errorf("app: backtest input %s: %w", key, domain.ErrNotFound)
		}
		return feed.BlobSource{Reader: deps.BlobReader, Key: key}, nil
	}
	return feed.FileSource{Path: a.cfg.Backtest.InputPath}, nil
}

// publishResults logs, stores, archives and announces each result in
// symbol order. Sink failures are collected so one failing sink does not
// hide the others.
func (a *App) publishResults(ctx context.Context, deps *Dependencies, results map[string]*domain.BacktestResult) error {
	symbols := make([]string, 0, len(results))
	for s := range results {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)

	var errs []error
	for _, sym := range symbols {
		res := results[sym]
		a.logger.InfoContext(ctx, "backtest result",
			slog.String("symbol", sym),
			slog.String("run_id", res.RunID),
			slog.Int("ticks", res.Ticks),
			slog.Int("trades", res.TotalTrades),
			slog.Float64("total_return", res.TotalReturn),
			slog.Float64("sharpe", res.Sharpe),
			slog.Float64("max_drawdown", res.MaxDrawdown),
			slog.Float64("final_capital", res.FinalCapital),
		)

		if a.cfg.Backtest.StoreResults && deps.BacktestStore != nil {
			if err := deps.BacktestStore.SaveResult(ctx, *res); err != nil {
				errs = append(errs, fmt.Errorf("store %s: %w", sym, err))
			}
		}
		if a.cfg.Backtest.ArchiveResults && deps.Archiver != nil {
			dir, err := deps.Archiver.ArchiveResult(ctx, *res)
			if err != nil {
				errs = append(errs, fmt.Errorf("archive %s: %w", sym, err))
			} else {
				a.logger.InfoContext(ctx, "backtest archived", slog.String("symbol", sym), slog.String("path", dir))
			}
		}
		title, msg := notify.FormatBacktest(*res)
		a.notify(ctx, deps, notify.EventBacktestComplete, title, msg)
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("app: publish results: %w", err)
	}
	return nil
}

func (a *App) notify(ctx context.Context, deps *Dependencies, event, title, msg string) {
	if deps.Notifier == nil {
		return
	}
	if err := deps.Notifier.Notify(ctx, event, title, msg); err != nil {
		a.logger.Warn("notification failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
