package trader

import (
	"github.com/shopspring/decimal"

	"github.com/ndrandal/arb-controller/internal/types"
	"github.com/ndrandal/arb-controller/internal/venue"
)

// minQty returns the larger of the venue's minimum order quantity and the
// quantity implied by a minimum notional of 5.5 at price, grounded on
// base_trader.py's calculate_min_qty. SymbolMeta carries no venue minimum
// notional, so 5.5 is always used.
func minQty(meta types.SymbolMeta, price decimal.Decimal) decimal.Decimal {
	minCost := decimal.NewFromFloat(5.5)
	byNotional := minCost.Div(price)
	if meta.MinQty.GreaterThan(byNotional) {
		return meta.MinQty
	}
	return byNotional
}

// qtyForFixedUSDT computes the order quantity for a fixed per-leg notional,
// snapping with round for ordinary sizing and ceil only when the result
// would otherwise fall under the venue minimum. Grounded on
// calculate_qty_for_fixed_usdt / make_qty_step.
func qtyForFixedUSDT(meta types.SymbolMeta, price, targetUSDT decimal.Decimal) decimal.Decimal {
	raw := targetUSDT.Div(price)
	min := minQty(meta, price)

	adjusted := venue.RoundStep(raw, meta.QtyStep)
	adjustedMin := venue.CeilStep(min, meta.QtyStep)

	if adjusted.GreaterThan(adjustedMin) {
		return adjusted
	}
	return adjustedMin
}

// quantityMismatchTooLarge reports whether two venues' snapped order
// quantities differ by more than 5x the relative price spread, which would
// break delta-neutrality if placed as-is.
func quantityMismatchTooLarge(qtyA, qtyB, priceA, priceB decimal.Decimal) bool {
	hiQ, loQ := qtyA, qtyB
	if loQ.GreaterThan(hiQ) {
		hiQ, loQ = loQ, hiQ
	}
	if loQ.IsZero() {
		return true
	}
	qtyRatio := hiQ.Sub(loQ).Div(loQ)

	hiP, loP := priceA, priceB
	if loP.GreaterThan(hiP) {
		hiP, loP = loP, hiP
	}
	priceRatio := hiP.Sub(loP).Div(loP)

	return qtyRatio.GreaterThan(priceRatio.Mul(decimal.NewFromInt(5)))
}
