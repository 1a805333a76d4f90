package marketmaker

import (
	"errors"
	"io"
	"log/slog"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/mmengine/internal/domain"
)

var t0 = time.Date(2024, 6, 3, 14, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newEngine(t *testing.T, mutate func(*Config), opts ...Option) (*Engine, *State) {
	t.Helper()
	cfg := DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	e, err := NewEngine(cfg, discardLogger(), opts...)
	require.NoError(t, err)
	st, err := e.NewState("ES")
	require.NoError(t, err)
	return e, st
}

func esTick(mid float64, at time.Time) domain.MarketTick {
	return domain.MarketTick{
		Symbol:    "ES",
		Timestamp: at,
		LastPrice: mid,
		BidPrice:  mid - 0.25,
		AskPrice:  mid + 0.25,
		BidSize:   20,
		AskSize:   20,
		Volume:    5,
	}
}

func TestOnTickEmitsTwoSidedQuote(t *testing.T) {
	e, st := newEngine(t, nil)
	d, err := e.OnTick(st, esTick(18450, t0))
	require.NoError(t, err)
	require.True(t, d.Quoted)

	q := d.Quote
	assert.Equal(t, "ES", q.Symbol)
	assert.Less(t, q.BidPrice, 18450.0)
	assert.Greater(t, q.AskPrice, 18450.0)
	assert.Greater(t, q.BidSize, 0.0)
	assert.Greater(t, q.AskSize, 0.0)
	assert.Equal(t, domain.RegimeLow, q.Regime)
	assert.False(t, q.ReduceOnly)
	assert.NotEmpty(t, q.ID)
	assert.GreaterOrEqual(t, q.SpreadBps, e.Config().Quote.MinSpreadBps)
	assert.LessOrEqual(t, q.SpreadBps, e.Config().Quote.MaxSpreadBps)

	last, ok := st.LastQuote()
	require.True(t, ok)
	assert.Equal(t, q, last)
}

func TestOnTickRejectsMalformedWithoutStateChange(t *testing.T) {
	e, st := newEngine(t, nil)
	_, err := e.OnTick(st, esTick(100, t0))
	require.NoError(t, err)
	before := st.Export(t0)

	crossed := esTick(100, t0.Add(time.Second))
	crossed.BidPrice = 101
	_, err = e.OnTick(st, crossed)
	assert.True(t, errors.Is(err, domain.ErrValidation))

	_, err = e.OnTick(st, esTick(100, t0.Add(-time.Second)))
	assert.True(t, errors.Is(err, domain.ErrOutOfOrder))

	assert.Equal(t, before, st.Export(t0))
	assert.Equal(t, 1, st.Ticks())
}

func TestBidBelowAskUnderRandomInput(t *testing.T) {
	e, st := newEngine(t, func(c *Config) {
		c.Risk.MaxPosition = 50
		c.Quote.MaxInventoryDeviation = 50
	})
	rng := rand.New(rand.NewPCG(1, 2))
	mid := 100.0
	at := t0
	for i := 0; i < 3000; i++ {
		mid *= 1 + (rng.Float64()-0.5)*0.01
		half := 0.01 + rng.Float64()*0.2
		at = at.Add(time.Second)
		tk := domain.MarketTick{
			Symbol: "ES", Timestamp: at, LastPrice: mid,
			BidPrice: mid - half, AskPrice: mid + half,
			BidSize: 0.1 + rng.Float64()*50, AskSize: 0.1 + rng.Float64()*50,
		}
		d, err := e.OnTick(st, tk)
		if errors.Is(err, domain.ErrLimitBreached) {
			continue
		}
		require.NoError(t, err)
		require.True(t, d.Quoted)
		require.Less(t, d.Quote.BidPrice, d.Quote.AskPrice, "tick %d", i)

		if rng.Float64() < 0.3 {
			side, size := domain.SideBuy, d.Quote.BidSize
			price := d.Quote.BidPrice
			if rng.Float64() < 0.5 {
				side, size, price = domain.SideSell, d.Quote.AskSize, d.Quote.AskPrice
			}
			if size > 0 {
				require.NoError(t, e.OnFill(st, domain.Fill{Side: side, Price: price, Quantity: size, Timestamp: at, IsAdverse: rng.Float64() < 0.5}))
			}
		}
	}
}

func TestLimitBreachSuppressesNextQuote(t *testing.T) {
	e, st := newEngine(t, func(c *Config) {
		c.Risk.NetExposureLimit = 100_000
	})
	d, err := e.OnTick(st, esTick(18450, t0))
	require.NoError(t, err)
	require.True(t, d.Quoted)

	// 6 lots at 18450 is 110,700 of net exposure.
	require.NoError(t, e.OnFill(st, domain.Fill{Side: domain.SideBuy, Price: 18450, Quantity: 6, Timestamp: t0}))

	d, err = e.OnTick(st, esTick(18450, t0.Add(time.Second)))
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrLimitBreached))
	assert.False(t, d.Quoted)
	assert.True(t, st.Breached())
	_, ok := st.LastQuote()
	assert.False(t, ok)
}

func TestLiquidateModeEmitsReduceOnlyQuote(t *testing.T) {
	e, st := newEngine(t, func(c *Config) {
		c.Risk.NetExposureLimit = 100_000
		c.Quote.BreachAction = BreachLiquidate
	})
	_, err := e.OnTick(st, esTick(18450, t0))
	require.NoError(t, err)
	require.NoError(t, e.OnFill(st, domain.Fill{Side: domain.SideBuy, Price: 18450, Quantity: 6, Timestamp: t0}))

	d, err := e.OnTick(st, esTick(18450, t0.Add(time.Second)))
	require.True(t, errors.Is(err, domain.ErrLimitBreached))
	require.True(t, d.Quoted)
	assert.True(t, d.Quote.ReduceOnly)
	assert.Zero(t, d.Quote.BidSize)
	assert.Equal(t, 6.0, d.Quote.AskSize)
	assert.Less(t, d.Quote.BidPrice, d.Quote.AskPrice)

	require.NoError(t, e.OnFill(st, domain.Fill{Side: domain.SideSell, Price: d.Quote.AskPrice, Quantity: 6, Timestamp: t0.Add(time.Second)}))
	d, err = e.OnTick(st, esTick(18450, t0.Add(2*time.Second)))
	require.NoError(t, err)
	assert.False(t, d.Quote.ReduceOnly)
	assert.False(t, st.Breached())
}

func TestInventorySkewShiftsQuotes(t *testing.T) {
	e, flat := newEngine(t, nil)
	long, err := e.NewState("ES")
	require.NoError(t, err)

	_, err = e.OnTick(long, esTick(18450, t0))
	require.NoError(t, err)
	require.NoError(t, e.OnFill(long, domain.Fill{Side: domain.SideBuy, Price: 18450, Quantity: 90, Timestamp: t0}))

	_, err = e.OnTick(flat, esTick(18450, t0))
	require.NoError(t, err)

	df, err := e.OnTick(flat, esTick(18450, t0.Add(time.Second)))
	require.NoError(t, err)
	dl, err := e.OnTick(long, esTick(18450, t0.Add(time.Second)))
	require.NoError(t, err)

	assert.Less(t, dl.Quote.Mid(), df.Quote.Mid(), "long inventory lowers quotes")
	half := dl.Spread.Total / 2 * 18450 / 1e4
	assert.InDelta(t, 0.45*half, dl.Quote.Skew, 1e-9)
	assert.Less(t, dl.Quote.BidSize, dl.Quote.AskSize)
	assert.LessOrEqual(t, dl.Quote.BidSize, 10.0, "bid capped at remaining capacity")
}

func TestAdverseFillsWidenSpread(t *testing.T) {
	e, st := newEngine(t, func(c *Config) {
		c.Quote.Adverse = AdverseConfig{Threshold: 0.5, PenaltyFactor: 2, Window: 10, MinFills: 10}
	})
	d0, err := e.OnTick(st, esTick(18450, t0))
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		side := domain.SideBuy
		if i%2 == 1 {
			side = domain.SideSell
		}
		require.NoError(t, e.OnFill(st, domain.Fill{Side: side, Price: 18450, Quantity: 1, Timestamp: t0, IsAdverse: true}))
	}
	d1, err := e.OnTick(st, esTick(18450, t0.Add(time.Second)))
	require.NoError(t, err)
	assert.InDelta(t, 2.0, d1.Spread.Adverse, 1e-12)
	assert.Zero(t, d0.Spread.Adverse)
	assert.InDelta(t, 1.0, st.AdverseRatio(), 1e-12)
}

type recordingObserver struct {
	mu     sync.Mutex
	events []string
}

func (r *recordingObserver) StageStarted(_ string, s Stage, _ time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, "start:"+string(s))
}

func (r *recordingObserver) StageFinished(_ string, s Stage, _ time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, "end:"+string(s))
}

func TestObserverSeesEveryStage(t *testing.T) {
	obs := &recordingObserver{}
	e, st := newEngine(t, nil, WithObserver(obs))
	_, err := e.OnTick(st, esTick(100, t0))
	require.NoError(t, err)
	assert.Equal(t, []string{
		"start:book", "end:book",
		"start:volatility", "end:volatility",
		"start:risk", "end:risk",
		"start:quote", "end:quote",
	}, obs.events)
}

func TestExportRestoreRoundTrip(t *testing.T) {
	ids := func() string { return "q" }
	e, src := newEngine(t, nil, WithIDs(ids))
	at := t0
	for i := 0; i < 60; i++ {
		at = at.Add(time.Second)
		_, err := e.OnTick(src, esTick(100+float64(i%7)*0.1, at))
		require.NoError(t, err)
	}
	require.NoError(t, e.OnFill(src, domain.Fill{Side: domain.SideSell, Price: 100.3, Quantity: 4, Timestamp: at}))
	snap := src.Export(at)

	dst, err := e.NewState("ES")
	require.NoError(t, err)
	require.NoError(t, dst.Restore(snap))
	assert.Equal(t, snap.Position.Quantity, dst.Risk.Position().Quantity)
	assert.Equal(t, snap.Volatility, dst.Volatility.State())

	other, err := e.NewState("NQ")
	require.NoError(t, err)
	assert.True(t, errors.Is(other.Restore(snap), domain.ErrValidation))

	next := esTick(100.2, at.Add(time.Second))
	a, err := e.OnTick(src, next)
	require.NoError(t, err)
	b, err := e.OnTick(dst, next)
	require.NoError(t, err)
	assert.Equal(t, a.Volatility, b.Volatility)
	assert.Equal(t, a.Quote.BidPrice, b.Quote.BidPrice)
	assert.Equal(t, a.Quote.AskPrice, b.Quote.AskPrice)
}

func TestSymbolsAreIsolated(t *testing.T) {
	e, _ := newEngine(t, nil)
	var wg sync.WaitGroup
	results := make([]domain.Quote, 4)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			st, err := e.NewState("ES")
			if !assert.NoError(t, err) {
				return
			}
			at := t0
			var d Decision
			for k := 0; k < 200; k++ {
				at = at.Add(time.Second)
				d, err = e.OnTick(st, esTick(100+float64(k%5)*0.05, at))
				if !assert.NoError(t, err) {
					return
				}
			}
			results[i] = d.Quote
		}(i)
	}
	wg.Wait()
	for i := 1; i < len(results); i++ {
		assert.Equal(t, results[0].BidPrice, results[i].BidPrice)
		assert.Equal(t, results[0].AskPrice, results[i].AskPrice)
	}
}
