package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Order mirrors one venue-level order, normalized across venues.
type Order struct {
	ID             string
	Venue          Venue
	Symbol         Symbol
	Side           Side
	Type           OrderType
	RequestedQty   decimal.Decimal
	RequestedPrice decimal.Decimal // zero for market orders
	FilledQty      decimal.Decimal
	AvgFillPrice   decimal.Decimal
	Status         OrderStatus
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Remaining returns the unfilled quantity.
func (o Order) Remaining() decimal.Decimal {
	r := o.RequestedQty.Sub(o.FilledQty)
	if r.IsNegative() {
		return decimal.Zero
	}
	return r
}

// FillRatio returns FilledQty/RequestedQty, or 0 if RequestedQty is zero.
func (o Order) FillRatio() float64 {
	if !o.RequestedQty.IsPositive() {
		return 0
	}
	r, _ := o.FilledQty.Div(o.RequestedQty).Float64()
	return r
}
