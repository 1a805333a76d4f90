package risk

import (
	"fmt"
	"math"

	"github.com/alanyoungcy/mmengine/internal/domain"
)

// applyFill returns pos after fill. Reducing trades realise PnL against the
// average price; a fill through zero closes the old position and opens the
// remainder at the fill price.
func applyFill(pos domain.Position, f domain.Fill) domain.Position {
	signed := f.Side.Sign() * f.Quantity
	q := pos.Quantity

	switch {
	case q == 0 || sameSign(q, signed):
		newQ := q + signed
		pos.AveragePrice = (math.Abs(q)*pos.AveragePrice + math.Abs(signed)*f.Price) / math.Abs(newQ)
		pos.Quantity = newQ
	default:
		closed := math.Min(math.Abs(q), math.Abs(signed))
		dir := math.Copysign(1, q)
		pos.RealizedPnL += closed * (f.Price - pos.AveragePrice) * dir
		newQ := q + signed
		switch {
		case math.Abs(newQ) < quantityEpsilon:
			pos.Quantity = 0
			pos.AveragePrice = 0
		case !sameSign(newQ, q):
			pos.Quantity = newQ
			pos.AveragePrice = f.Price
		default:
			pos.Quantity = newQ
		}
	}

	pos.RealizedPnL -= f.Fee
	pos.TotalFees += f.Fee
	pos.TradeCount++
	pos.TradedVolume += f.Quantity * f.Price
	return markPosition(pos, pos.MarkPrice)
}

func markPosition(pos domain.Position, mark float64) domain.Position {
	pos.MarkPrice = mark
	if mark > 0 && pos.Quantity != 0 {
		pos.UnrealizedPnL = pos.Quantity * (mark - pos.AveragePrice)
	} else {
		pos.UnrealizedPnL = 0
	}
	return pos
}

func validateFill(symbol string, f domain.Fill) error {
	if f.Symbol != "" && f.Symbol != symbol {
		return fmt.Errorf("%w: risk: fill for %s applied to %s", domain.ErrValidation, f.Symbol, symbol)
	}
	if f.Side != domain.SideBuy && f.Side != domain.SideSell {
		return fmt.Errorf("%w: risk: unknown side %q", domain.ErrValidation, f.Side)
	}
	if !(f.Price > 0) || math.IsInf(f.Price, 0) {
		return fmt.Errorf("%w: risk: fill price %v", domain.ErrValidation, f.Price)
	}
	if !(f.Quantity > 0) || math.IsInf(f.Quantity, 0) {
		return fmt.Errorf("%w: risk: fill quantity %v", domain.ErrValidation, f.Quantity)
	}
	if f.Fee < 0 || math.IsNaN(f.Fee) {
		return fmt.Errorf("%w: risk: negative fee %v", domain.ErrValidation, f.Fee)
	}
	return nil
}

const quantityEpsilon = 1e-12

func sameSign(a, b float64) bool {
	return (a > 0 && b > 0) || (a < 0 && b < 0)
}
