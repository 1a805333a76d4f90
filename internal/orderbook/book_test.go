package orderbook

import (
	"errors"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/mmengine/internal/domain"
)

var t0 = time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)

func tick(bid, ask, bidSize, askSize float64, at time.Time) domain.MarketTick {
	return domain.MarketTick{
		Symbol:    "NQ",
		Timestamp: at,
		LastPrice: (bid + ask) / 2,
		BidPrice:  bid,
		AskPrice:  ask,
		BidSize:   bidSize,
		AskSize:   askSize,
	}
}

func newBook(t *testing.T) *Book {
	t.Helper()
	b, err := New("NQ", DefaultConfig())
	require.NoError(t, err)
	return b
}

func TestUpdateSynthesizesLevels(t *testing.T) {
	b := newBook(t)
	require.NoError(t, b.Update(tick(100.00, 100.02, 10, 20, t0)))

	snap := b.Snapshot()
	require.Len(t, snap.Bids, 5)
	require.Len(t, snap.Asks, 5)
	assert.InDelta(t, 100.00, snap.BestBid(), 1e-9)
	assert.InDelta(t, 100.02, snap.BestAsk(), 1e-9)
	for i := 1; i < 5; i++ {
		assert.Less(t, snap.Bids[i].Price, snap.Bids[i-1].Price, "bids descend")
		assert.Greater(t, snap.Asks[i].Price, snap.Asks[i-1].Price, "asks ascend")
		assert.InDelta(t, snap.Bids[i-1].Quantity*0.8, snap.Bids[i].Quantity, 1e-9)
		assert.Equal(t, i, snap.Bids[i].LevelIndex)
	}
}

func TestUpdateRejectsBadTicks(t *testing.T) {
	b := newBook(t)
	require.NoError(t, b.Update(tick(100, 101, 5, 5, t0)))
	before := b.Snapshot()

	err := b.Update(tick(101, 100, 5, 5, t0.Add(time.Second)))
	assert.True(t, errors.Is(err, domain.ErrCrossedBook))

	err = b.Update(tick(100, 101, 0, 5, t0.Add(time.Second)))
	assert.True(t, errors.Is(err, domain.ErrValidation))

	err = b.Update(tick(100, 101, 5, 5, t0.Add(-time.Second)))
	assert.True(t, errors.Is(err, domain.ErrOutOfOrder))

	other := tick(100, 101, 5, 5, t0.Add(time.Second))
	other.Symbol = "ES"
	assert.True(t, errors.Is(b.Update(other), domain.ErrValidation))

	assert.Equal(t, before, b.Snapshot(), "rejected ticks leave the book unchanged")
}

func TestImbalance(t *testing.T) {
	b := newBook(t)
	assert.Equal(t, 0.0, b.Imbalance(), "empty book")

	require.NoError(t, b.Update(tick(100, 101, 7, 7, t0)))
	assert.InDelta(t, 0.0, b.Imbalance(), 1e-12)

	require.NoError(t, b.Update(tick(100, 101, 30, 10, t0.Add(time.Second))))
	assert.InDelta(t, 0.5, b.Imbalance(), 1e-12)
}

func TestImbalanceBounded(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))
	b := newBook(t)
	at := t0
	for i := 0; i < 500; i++ {
		bid := 50 + rng.Float64()*50
		ask := bid + 0.01 + rng.Float64()
		at = at.Add(time.Millisecond)
		require.NoError(t, b.Update(tick(bid, ask, 0.001+rng.Float64()*100, 0.001+rng.Float64()*100, at)))
		imb := b.Imbalance()
		assert.GreaterOrEqual(t, imb, -1.0)
		assert.LessOrEqual(t, imb, 1.0)
		bp := b.BookPressure()
		assert.GreaterOrEqual(t, bp, -1.0)
		assert.LessOrEqual(t, bp, 1.0)
	}
}

func TestDepthRatio(t *testing.T) {
	b := newBook(t)
	_, ok := b.DepthRatio()
	assert.False(t, ok, "undefined with no ask depth")

	require.NoError(t, b.Update(tick(100, 101, 20, 10, t0)))
	r, ok := b.DepthRatio()
	require.True(t, ok)
	assert.InDelta(t, 2.0, r, 1e-12)
}

func TestBookPressureWeightsNearLevels(t *testing.T) {
	b, err := New("NQ", Config{DepthLevels: 3, TickSize: 1, DepthDecay: 1})
	require.NoError(t, err)
	require.NoError(t, b.Update(tick(100, 101, 10, 5, t0)))
	// Uniform depth: pressure equals imbalance.
	assert.InDelta(t, b.Imbalance(), b.BookPressure(), 1e-12)
	assert.InDelta(t, 1.0/3.0, b.BookPressure(), 1e-12)
}

func TestVWAP(t *testing.T) {
	b, err := New("NQ", Config{DepthLevels: 2, TickSize: 1, DepthDecay: 0.5})
	require.NoError(t, err)

	_, err = b.VWAP(domain.BookSideBid)
	assert.True(t, errors.Is(err, domain.ErrEmptySide))

	require.NoError(t, b.Update(tick(100, 102, 10, 10, t0)))
	// bids: 100x10, 99x5
	v, err := b.VWAP(domain.BookSideBid)
	require.NoError(t, err)
	assert.InDelta(t, (100*10+99*5)/15.0, v, 1e-9)

	// asks: 102x10, 103x5; sweeping 12 takes 10@102 + 2@103
	v, err = b.VWAPForSize(domain.BookSideAsk, 12)
	require.NoError(t, err)
	assert.InDelta(t, (102*10+103*2)/12.0, v, 1e-9)

	_, err = b.VWAPForSize(domain.BookSideAsk, 100)
	assert.True(t, errors.Is(err, domain.ErrInsufficientData))
}

func TestStats(t *testing.T) {
	b := newBook(t)
	require.NoError(t, b.Update(tick(99.99, 100.01, 10, 10, t0)))
	st := b.Stats()
	assert.InDelta(t, 100.0, st.Mid, 1e-9)
	assert.InDelta(t, 0.02, st.Spread, 1e-9)
	assert.InDelta(t, 2.0, st.SpreadBps, 1e-6)
	assert.True(t, st.DepthRatioOK)
	assert.InDelta(t, 1.0, st.DepthRatio, 1e-12)
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
	assert.Error(t, Config{DepthLevels: 0, TickSize: 1, DepthDecay: 1}.Validate())
	assert.Error(t, Config{DepthLevels: 1, TickSize: 0, DepthDecay: 1}.Validate())
	assert.Error(t, Config{DepthLevels: 1, TickSize: 1, DepthDecay: 1.5}.Validate())
}
