package trader

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ndrandal/arb-controller/internal/types"
)

// TradeRecorder persists a completed trade. Implemented by the trade-log
// sink and by mongo-backed storage.
type TradeRecorder interface {
	RecordTrade(ctx context.Context, rec types.TradeRecord) error
}

// spreadPercent is the signed spread% between a venue-A and a venue-B price,
// using the same sign convention as the aggregator so entry/exit spreads
// read consistently with the signal that triggered admission.
func spreadPercent(priceA, priceB decimal.Decimal) float64 {
	pa, _ := priceA.Float64()
	pb, _ := priceB.Float64()
	min := pa
	if pb < min {
		min = pb
	}
	if min <= 0 {
		return 0
	}
	return (pa - pb) / min * 100
}

// realizedSpread reports the signed spread% between a pair of legs, one on
// venue A and one on venue B (in either long/short arrangement), at the
// given per-leg prices.
func realizedSpread(longLeg, shortLeg *leg, longPrice, shortPrice decimal.Decimal) float64 {
	priceA, priceB := longPrice, shortPrice
	if longLeg.VenueID == types.VenueB {
		priceA, priceB = shortPrice, longPrice
	}
	return spreadPercent(priceA, priceB)
}

// fee returns the taker fee charged on a fill of qty at price, in the same
// units as price*qty (quote currency).
func fee(qty, price decimal.Decimal, feeBps float64) decimal.Decimal {
	notional := qty.Mul(price)
	return notional.Mul(decimal.NewFromFloat(feeBps / 10000))
}

// legPnL computes one leg's realized PnL net of entry and exit taker fees.
// A long leg profits when price rises; a short leg profits when it falls.
func legPnL(isLong bool, entryPrice, exitPrice, qty decimal.Decimal, feeBps float64) decimal.Decimal {
	var gross decimal.Decimal
	if isLong {
		gross = exitPrice.Sub(entryPrice).Mul(qty)
	} else {
		gross = entryPrice.Sub(exitPrice).Mul(qty)
	}
	entryFee := fee(qty, entryPrice, feeBps)
	exitFee := fee(qty, exitPrice, feeBps)
	return gross.Sub(entryFee).Sub(exitFee)
}

// buildTradeRecord assembles the append-only TradeRecord for one completed
// position, grounded on taker_taker_trader.py's
// calculate_info_order_result/append_exit_monitor_result, generalized to
// also compute realized PnL net of fees (the original only logged spreads).
func buildTradeRecord(symbol types.Symbol, long, short *leg, signalSpreadPct float64, enteredAt time.Time, exitLong, exitShort *leg, exitType types.ExitType, exitedAt time.Time, cfg Config) types.TradeRecord {
	longEntryPrice := long.avgPrice()
	shortEntryPrice := short.avgPrice()
	longExitPrice := exitLong.avgPrice()
	shortExitPrice := exitShort.avgPrice()

	longQty := long.filledQty()
	shortQty := short.filledQty()

	entrySpread := realizedSpread(long, short, longEntryPrice, shortEntryPrice)
	exitSpread := realizedSpread(long, short, longExitPrice, shortExitPrice)

	longPnL := legPnL(true, longEntryPrice, longExitPrice, longQty, cfg.FeeBps)
	shortPnL := legPnL(false, shortEntryPrice, shortExitPrice, shortQty, cfg.FeeBps)

	return types.TradeRecord{
		Symbol:     symbol,
		LongVenue:  long.VenueID,
		ShortVenue: short.VenueID,

		SignalSpreadPct: signalSpreadPct,
		EntrySpreadPct:  entrySpread,
		ExitSpreadPct:   exitSpread,

		LongEntryPrice:  longEntryPrice,
		ShortEntryPrice: shortEntryPrice,
		LongExitPrice:   longExitPrice,
		ShortExitPrice:  shortExitPrice,

		LongQty:  longQty,
		ShortQty: shortQty,

		LongPnL:  longPnL,
		ShortPnL: shortPnL,
		NetPnL:   longPnL.Add(shortPnL),

		ExitType:  exitType,
		EnteredAt: enteredAt,
		ExitedAt:  exitedAt,
	}
}
