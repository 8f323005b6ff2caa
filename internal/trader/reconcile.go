package trader

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/ndrandal/arb-controller/internal/types"
	"github.com/ndrandal/arb-controller/internal/venue"
)

// errNoFill signals neither leg received any fill before the enter window
// closed; the caller aborts the position with no corrective action.
var errNoFill = errors.New("trader: no fill on either leg")

// partialTolerance is the maximum relative quantity imbalance between two
// partially-filled legs that is accepted as-is rather than topped up,
// grounded on taker_taker_trader.py's Case 4 "within 3%" check.
const partialTolerance = 0.03

// takerLimitPrice returns an aggressively marginned limit price intended to
// fill immediately, grounded on base_trader.py's buy/sell taker price
// margins (BUY_TAKER_PRICE_MARGIN / SELL_TAKER_PRICE_MARGIN).
func (l *leg) takerLimitPrice(cfg Config) decimal.Decimal {
	margin := cfg.BuyTakerPriceMargin
	if l.Side == types.SideSell {
		margin = cfg.SellTakerPriceMargin
	}
	raw := l.ReferencePrice.Mul(decimal.NewFromFloat(margin))
	return venue.SnapPrice(raw, l.Meta.TickSize)
}

// reconcileEnter runs the post-ENTER_MONITOR case analysis once both legs'
// initial limit orders have been cancelled (or filled), escalating
// under-filled legs with corrective taker orders so the pair ends up
// delta-neutral, or reporting errNoFill to abort. Grounded on
// taker_taker_trader.py's enter_order_monitor Cases 1-4.
func reconcileEnter(ctx context.Context, long, short *leg, cfg Config) error {
	longFilled := long.filledQty()
	shortFilled := short.filledQty()

	// Case 1: neither side filled at all.
	if longFilled.IsZero() && shortFilled.IsZero() {
		return errNoFill
	}

	longBelowMin := longFilled.LessThan(long.minQty())
	shortBelowMin := shortFilled.LessThan(short.minQty())

	// Case 2: both sides filled, but below the venue-enforced minimum on
	// both legs. Top each leg up independently to its own minimum instead
	// of matching them to each other.
	if longBelowMin && shortBelowMin {
		if err := topUpToMinimum(ctx, long, cfg); err != nil {
			return err
		}
		return topUpToMinimum(ctx, short, cfg)
	}

	// Case 3: one leg fully filled (filled >= requested), the other partial
	// or empty. Bring the lagging leg up to match the leading leg's filled
	// quantity, capped at what was originally requested.
	longFull := longFilled.GreaterThanOrEqual(long.RequestedQty)
	shortFull := shortFilled.GreaterThanOrEqual(short.RequestedQty)
	if longFull != shortFull {
		leading, lagging := long, short
		if shortFull {
			leading, lagging = short, long
		}
		return topUpToMatch(ctx, leading, lagging, cfg)
	}

	// Case 4: partial fills on both sides. Compare each leg's fill ratio
	// (filled/requested), not raw quantity, since the two legs' requested
	// quantities are sized independently per venue and can legitimately
	// differ. Accept as-is within tolerance, otherwise top the lagging leg
	// up to match the leading one.
	longRatio, _ := longFilled.Div(long.RequestedQty).Float64()
	shortRatio, _ := shortFilled.Div(short.RequestedQty).Float64()

	diff := longRatio - shortRatio
	if diff < 0 {
		diff = -diff
	}
	if diff <= partialTolerance {
		return nil
	}

	lagging := long
	laggingRatio, leadingRatio := longRatio, shortRatio
	if shortRatio < longRatio {
		lagging = short
		laggingRatio, leadingRatio = shortRatio, longRatio
	}
	return topUpByRatio(ctx, lagging, leadingRatio-laggingRatio, cfg)
}

// topUpToMinimum escalates l with a taker order for the shortfall between
// its current fill and its own venue minimum.
func topUpToMinimum(ctx context.Context, l *leg, cfg Config) error {
	shortfall := venue.CeilStep(l.minQty(), l.Meta.QtyStep).Sub(l.filledQty())
	if !shortfall.IsPositive() {
		return nil
	}
	return takerEscalate(ctx, l, shortfall, l.takerLimitPrice(cfg), cfg)
}

// topUpToMatch escalates lagging with a taker order for the shortfall
// between its current fill and leading's, never exceeding lagging's
// originally requested quantity.
func topUpToMatch(ctx context.Context, leading, lagging *leg, cfg Config) error {
	target := leading.filledQty()
	if target.GreaterThan(lagging.RequestedQty) {
		target = lagging.RequestedQty
	}
	shortfall := venue.RoundStep(target.Sub(lagging.filledQty()), lagging.Meta.QtyStep)
	if !shortfall.IsPositive() {
		return nil
	}
	return takerEscalate(ctx, lagging, shortfall, lagging.takerLimitPrice(cfg), cfg)
}

// topUpByRatio escalates lagging with a taker order sized to close the fill
// ratio gap against the other leg, grounded on taker_taker_trader.py's Case 4
// remain_qty formula (lagging's requested quantity times the ratio
// difference), floored at lagging's own venue minimum.
func topUpByRatio(ctx context.Context, lagging *leg, ratioDiff float64, cfg Config) error {
	shortfall := lagging.RequestedQty.Mul(decimal.NewFromFloat(ratioDiff))
	if shortfall.LessThan(lagging.minQty()) {
		shortfall = lagging.minQty()
	}
	shortfall = venue.RoundStep(shortfall, lagging.Meta.QtyStep)
	if !shortfall.IsPositive() {
		return nil
	}
	return takerEscalate(ctx, lagging, shortfall, lagging.takerLimitPrice(cfg), cfg)
}
