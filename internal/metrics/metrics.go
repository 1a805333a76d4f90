// Package metrics exports engine activity as Prometheus collectors. It
// implements the market maker's Recorder and StageObserver hooks.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alanyoungcy/mmengine/internal/domain"
	"github.com/alanyoungcy/mmengine/internal/marketmaker"
)

const namespace = "mmengine"

// Metrics holds every collector. Create one per process with New.
type Metrics struct {
	gatherer prometheus.Gatherer

	ticks       *prometheus.CounterVec
	rejected    *prometheus.CounterVec
	quotes      *prometheus.CounterVec
	breaches    *prometheus.CounterVec
	fills       *prometheus.CounterVec
	fillVolume  *prometheus.CounterVec
	spread      *prometheus.GaugeVec
	skew        *prometheus.GaugeVec
	position    *prometheus.GaugeVec
	riskScore   *prometheus.GaugeVec
	var95       *prometheus.GaugeVec
	drawdown    *prometheus.GaugeVec
	volatility  *prometheus.GaugeVec
	regime      *prometheus.GaugeVec
	stageTiming *prometheus.HistogramVec

	mu      sync.Mutex
	started map[stageKey]time.Time
}

type stageKey struct {
	symbol string
	stage  marketmaker.Stage
}

var regimes = []domain.Regime{domain.RegimeLow, domain.RegimeNormal, domain.RegimeHigh, domain.RegimeExtreme}

// New creates the collectors and registers them on reg. A nil reg uses a
// fresh private registry.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &Metrics{
		gatherer: reg,
		ticks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "ticks_processed_total",
			Help: "Ticks accepted by the order book.",
		}, []string{"symbol"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "ticks_rejected_total",
			Help: "Ticks rejected before reaching the book.",
		}, []string{"symbol", "reason"}),
		quotes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "quotes_emitted_total",
			Help: "Quotes emitted, split by reduce-only.",
		}, []string{"symbol", "reduce_only"}),
		breaches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "limit_breaches_total",
			Help: "Failed limit checks per violated limit.",
		}, []string{"symbol", "limit"}),
		fills: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "fills_total",
			Help: "Fills applied to the position.",
		}, []string{"symbol", "side", "adverse"}),
		fillVolume: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "fill_notional_total",
			Help: "Notional traded.",
		}, []string{"symbol"}),
		spread: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "quote_spread_bps",
			Help: "Spread of the last quote in basis points.",
		}, []string{"symbol"}),
		skew: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "quote_skew",
			Help: "Inventory skew of the last quote in price units.",
		}, []string{"symbol"}),
		position: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "position_quantity",
			Help: "Signed position after the last fill.",
		}, []string{"symbol"}),
		riskScore: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "risk_score",
			Help: "Composite risk score, 0 to 100.",
		}, []string{"symbol"}),
		var95: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "var_95",
			Help: "Historical 95% value at risk.",
		}, []string{"symbol"}),
		drawdown: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "drawdown_ratio",
			Help: "Current drawdown from peak equity.",
		}, []string{"symbol"}),
		volatility: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "volatility_annualized",
			Help: "Blended annualized volatility.",
		}, []string{"symbol"}),
		regime: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "volatility_regime",
			Help: "1 for the active regime, 0 otherwise.",
		}, []string{"symbol", "regime"}),
		stageTiming: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "stage_duration_seconds",
			Help:    "Duration of each decision-cycle stage.",
			Buckets: prometheus.ExponentialBuckets(1e-6, 4, 10),
		}, []string{"stage"}),
		started: make(map[stageKey]time.Time),
	}
	reg.MustRegister(
		m.ticks, m.rejected, m.quotes, m.breaches, m.fills, m.fillVolume,
		m.spread, m.skew, m.position, m.riskScore, m.var95, m.drawdown,
		m.volatility, m.regime, m.stageTiming,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// TickProcessed counts an accepted tick.
func (m *Metrics) TickProcessed(symbol string) {
	m.ticks.WithLabelValues(symbol).Inc()
}

// TickRejected counts a tick that failed validation.
func (m *Metrics) TickRejected(symbol, reason string) {
	m.rejected.WithLabelValues(symbol, reason).Inc()
}

// QuoteEmitted counts the quote and records its spread and skew.
func (m *Metrics) QuoteEmitted(q domain.Quote) {
	reduce := "false"
	if q.ReduceOnly {
		reduce = "true"
	}
	m.quotes.WithLabelValues(q.Symbol, reduce).Inc()
	m.spread.WithLabelValues(q.Symbol).Set(q.SpreadBps)
	m.skew.WithLabelValues(q.Symbol).Set(q.Skew)
}

// LimitBreached counts one breach per violated limit.
func (m *Metrics) LimitBreached(symbol string, limits []string) {
	for _, l := range limits {
		m.breaches.WithLabelValues(symbol, l).Inc()
	}
}

// FillApplied counts the fill and adds its notional to the volume counter.
func (m *Metrics) FillApplied(f domain.Fill) {
	adverse := "false"
	if f.IsAdverse {
		adverse = "true"
	}
	m.fills.WithLabelValues(f.Symbol, string(f.Side), adverse).Inc()
	m.fillVolume.WithLabelValues(f.Symbol).Add(f.Price * f.Quantity)
}

// PositionChanged sets the position gauge.
func (m *Metrics) PositionChanged(symbol string, quantity float64) {
	m.position.WithLabelValues(symbol).Set(quantity)
}

// RiskEvaluated updates the risk and volatility gauges for one symbol.
func (m *Metrics) RiskEvaluated(snap domain.RiskSnapshot, vol domain.VolatilityState) {
	m.riskScore.WithLabelValues(snap.Symbol).Set(snap.RiskScore)
	m.var95.WithLabelValues(snap.Symbol).Set(snap.VaR95)
	m.drawdown.WithLabelValues(snap.Symbol).Set(snap.Drawdown)
	m.volatility.WithLabelValues(snap.Symbol).Set(vol.Volatility)
	for _, r := range regimes {
		v := 0.0
		if r == vol.Regime {
			v = 1
		}
		m.regime.WithLabelValues(snap.Symbol, string(r)).Set(v)
	}
}

// StageStarted marks the start of a pipeline stage.
func (m *Metrics) StageStarted(symbol string, stage marketmaker.Stage, at time.Time) {
	m.mu.Lock()
	m.started[stageKey{symbol, stage}] = at
	m.mu.Unlock()
}

// StageFinished observes the stage latency since the matching start.
func (m *Metrics) StageFinished(symbol string, stage marketmaker.Stage, at time.Time) {
	k := stageKey{symbol, stage}
	m.mu.Lock()
	start, ok := m.started[k]
	delete(m.started, k)
	m.mu.Unlock()
	if ok {
		m.stageTiming.WithLabelValues(string(stage)).Observe(at.Sub(start).Seconds())
	}
}

var (
	_ marketmaker.Recorder      = (*Metrics)(nil)
	_ marketmaker.StageObserver = (*Metrics)(nil)
)
