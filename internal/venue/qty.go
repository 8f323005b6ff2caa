package venue

import "github.com/shopspring/decimal"

// RoundStep rounds qty to the nearest multiple of step (half-up), matching
// normal order sizing.
func RoundStep(qty, step decimal.Decimal) decimal.Decimal {
	if step.IsZero() {
		return qty
	}
	return qty.DivRound(step, 0).Mul(step)
}

// CeilStep rounds qty up to the next multiple of step, used when sizing up
// to a venue minimum.
func CeilStep(qty, step decimal.Decimal) decimal.Decimal {
	if step.IsZero() {
		return qty
	}
	divided := qty.Div(step)
	rounded := divided.Ceil()
	return rounded.Mul(step)
}

// SnapPrice rounds a price to the nearest multiple of tick, half-up.
func SnapPrice(price, tick decimal.Decimal) decimal.Decimal {
	return RoundStep(price, tick)
}
