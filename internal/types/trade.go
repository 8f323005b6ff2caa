package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// TradeRecord is the append-only outcome written when a trader reaches END
// with a realized position. One line of the trade log per completed trade.
type TradeRecord struct {
	Symbol     Symbol    `json:"symbol" bson:"symbol"`
	LongVenue  Venue     `json:"long_venue" bson:"long_venue"`
	ShortVenue Venue     `json:"short_venue" bson:"short_venue"`

	SignalSpreadPct float64 `json:"signal_spread_pct" bson:"signal_spread_pct"`
	EntrySpreadPct  float64 `json:"entry_spread_pct" bson:"entry_spread_pct"`
	ExitSpreadPct   float64 `json:"exit_spread_pct" bson:"exit_spread_pct"`

	LongEntryPrice  decimal.Decimal `json:"long_entry_price" bson:"long_entry_price"`
	ShortEntryPrice decimal.Decimal `json:"short_entry_price" bson:"short_entry_price"`
	LongExitPrice   decimal.Decimal `json:"long_exit_price" bson:"long_exit_price"`
	ShortExitPrice  decimal.Decimal `json:"short_exit_price" bson:"short_exit_price"`

	LongQty  decimal.Decimal `json:"long_qty" bson:"long_qty"`
	ShortQty decimal.Decimal `json:"short_qty" bson:"short_qty"`

	LongPnL  decimal.Decimal `json:"long_pnl" bson:"long_pnl"`
	ShortPnL decimal.Decimal `json:"short_pnl" bson:"short_pnl"`
	NetPnL   decimal.Decimal `json:"net_pnl" bson:"net_pnl"`

	ExitType  ExitType  `json:"exit_type" bson:"exit_type"`
	EnteredAt time.Time `json:"entered_at" bson:"entered_at"`
	ExitedAt  time.Time `json:"exited_at" bson:"exited_at"`
}
