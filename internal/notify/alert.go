package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alanyoungcy/mmengine/internal/domain"
)

// BreachAlerter turns limit breaches into notifications, at most Limit per
// Window for each symbol. Without a rate limiter every breach is sent.
type BreachAlerter struct {
	notifier *Notifier
	limiter  domain.RateLimiter
	limit    int
	window   time.Duration
	logger   *slog.Logger
}

// NewBreachAlerter creates an alerter. limiter may be nil.
func NewBreachAlerter(n *Notifier, limiter domain.RateLimiter, limit int, window time.Duration, logger *slog.Logger) *BreachAlerter {
	return &BreachAlerter{
		notifier: n,
		limiter:  limiter,
		limit:    max(limit, 1),
		window:   window,
		logger:   logger.With(slog.String("component", "breach_alerter")),
	}
}

// Alert sends b unless the symbol's alert budget is spent. It reports
// whether a notification went out.
func (a *BreachAlerter) Alert(ctx context.Context, b domain.LimitBreach) (bool, error) {
	if a.limiter != nil {
		ok, err := a.limiter.Allow(ctx, "alert:breach:"+b.Symbol, a.limit, a.window)
		if err != nil {
			// Fail open when the limiter is unreachable.
			a.logger.Warn("rate limiter unavailable", slog.String("error", err.Error()))
		} else if !ok {
			a.logger.Debug("breach alert suppressed", slog.String("symbol", b.Symbol))
			return false, nil
		}
	}
	title, msg := FormatBreach(b)
	if err := a.notifier.Notify(ctx, EventLimitBreach, title, msg); err != nil {
		return false, err
	}
	return true, nil
}

// FormatBreach renders a breach as a title and a multi-line body.
func FormatBreach(b domain.LimitBreach) (string, string) {
	title := fmt.Sprintf("Risk limit breach: %s", b.Symbol)
	var sb strings.Builder
	fmt.Fprintf(&sb, "limits: %s\n", strings.Join(b.Violations, ", "))
	fmt.Fprintf(&sb, "action: %s\n", b.Action)
	fmt.Fprintf(&sb, "position: %.4g @ %.6g\n", b.Position.Quantity, b.Position.AveragePrice)
	fmt.Fprintf(&sb, "risk score: %.1f  var95: %.2f  drawdown: %.2f%%\n",
		b.Snapshot.RiskScore, b.Snapshot.VaR95, b.Snapshot.Drawdown*100)
	fmt.Fprintf(&sb, "at: %s", b.OccurredAt.UTC().Format(time.RFC3339))
	return title, sb.String()
}

// FormatBacktest renders a backtest summary.
func FormatBacktest(r domain.BacktestResult) (string, string) {
	title := fmt.Sprintf("Backtest %s complete", r.Symbol)
	msg := fmt.Sprintf("run: %s\nticks: %d  trades: %d\nreturn: %.2f%%  sharpe: %.2f  max dd: %.2f%%\nprofit factor: %.2f  win rate: %.1f%%",
		r.RunID, r.Ticks, r.TotalTrades,
		r.TotalReturn*100, r.Sharpe, r.MaxDrawdown*100,
		r.ProfitFactor, r.WinRate*100)
	return title, msg
}
