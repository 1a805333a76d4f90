package domain

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validTick() MarketTick {
	return MarketTick{
		Symbol:    "ES",
		Timestamp: time.Date(2024, 1, 2, 14, 30, 0, 0, time.UTC),
		LastPrice: 18450,
		BidPrice:  18449.75,
		AskPrice:  18450.25,
		BidSize:   10,
		AskSize:   12,
		Volume:    100,
	}
}

func TestMarketTickValidate(t *testing.T) {
	require.NoError(t, validTick().Validate())

	tests := []struct {
		name    string
		mutate  func(*MarketTick)
		crossed bool
	}{
		{"empty symbol", func(tk *MarketTick) { tk.Symbol = "" }, false},
		{"zero timestamp", func(tk *MarketTick) { tk.Timestamp = time.Time{} }, false},
		{"zero bid", func(tk *MarketTick) { tk.BidPrice = 0 }, false},
		{"nan ask", func(tk *MarketTick) { tk.AskPrice = math.NaN() }, false},
		{"negative bid size", func(tk *MarketTick) { tk.BidSize = -1 }, false},
		{"zero ask size", func(tk *MarketTick) { tk.AskSize = 0 }, false},
		{"negative volume", func(tk *MarketTick) { tk.Volume = -5 }, false},
		{"crossed", func(tk *MarketTick) { tk.BidPrice = 18451 }, true},
		{"locked", func(tk *MarketTick) { tk.BidPrice = tk.AskPrice }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tk := validTick()
			tt.mutate(&tk)
			err := tk.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrValidation))
			assert.Equal(t, tt.crossed, errors.Is(err, ErrCrossedBook))
		})
	}
}

func TestMarketTickMid(t *testing.T) {
	assert.InDelta(t, 18450.0, validTick().Mid(), 1e-9)
}

func TestSideSign(t *testing.T) {
	assert.Equal(t, 1.0, SideBuy.Sign())
	assert.Equal(t, -1.0, SideSell.Sign())
}
