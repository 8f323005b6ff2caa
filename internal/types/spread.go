package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// SpreadSample is one aggregator observation of the signed spread between
// venue A and venue B for a symbol. Immutable once created.
type SpreadSample struct {
	Timestamp time.Time
	PriceA    decimal.Decimal
	PriceB    decimal.Decimal
	VolumeA   decimal.Decimal
	VolumeB   decimal.Decimal
	SpreadPct float64
	Sign      Sign
}

// AbsSpreadPct returns the absolute value of SpreadPct.
func (s SpreadSample) AbsSpreadPct() float64 {
	if s.SpreadPct < 0 {
		return -s.SpreadPct
	}
	return s.SpreadPct
}
