package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// PriceSample is a single observation of a symbol's last trade price and
// rolling 24h quote-currency volume from one venue's feed.
type PriceSample struct {
	LastPrice    decimal.Decimal
	Volume24hUSD decimal.Decimal
	ObservedAt   time.Time
}

// Valid reports whether the sample satisfies the ingress invariant
// (last_price > 0). Samples failing this are rejected at the feed boundary.
func (p PriceSample) Valid() bool {
	return p.LastPrice.IsPositive()
}

// Ticker is the subset of venue ticker data the Venue Gateway surfaces.
type Ticker struct {
	Symbol    Symbol
	LastPrice decimal.Decimal
	Bid       decimal.Decimal
	Ask       decimal.Decimal
	Volume24h decimal.Decimal
}

// SymbolMeta carries venue-specific trading constraints for a symbol.
type SymbolMeta struct {
	Symbol   Symbol
	Venue    Venue
	MinQty   decimal.Decimal
	QtyStep  decimal.Decimal
	TickSize decimal.Decimal
}
