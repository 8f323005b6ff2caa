package trader

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ndrandal/arb-controller/internal/types"
	"github.com/ndrandal/arb-controller/internal/venue"
)

// fillRecord is one execution chunk on a leg, used to compute a
// volume-weighted average entry/exit price across possibly several orders
// (initial limit + taker corrective orders).
type fillRecord struct {
	Qty   decimal.Decimal
	Price decimal.Decimal
}

// leg tracks one side (long or short) of a paired position as it accumulates
// fills across the initial limit order and any corrective taker orders.
type leg struct {
	Gateway venue.Gateway
	VenueID types.Venue
	Symbol  types.Symbol
	Side    types.Side
	Meta    types.SymbolMeta

	RequestedQty   decimal.Decimal
	ReferencePrice decimal.Decimal
	OrderID        string

	Fills []fillRecord
}

func (l *leg) filledQty() decimal.Decimal {
	sum := decimal.Zero
	for _, f := range l.Fills {
		sum = sum.Add(f.Qty)
	}
	return sum
}

func (l *leg) avgPrice() decimal.Decimal {
	qty := decimal.Zero
	cost := decimal.Zero
	for _, f := range l.Fills {
		qty = qty.Add(f.Qty)
		cost = cost.Add(f.Qty.Mul(f.Price))
	}
	if qty.IsZero() {
		return decimal.Zero
	}
	return cost.Div(qty)
}

func (l *leg) appendFill(qty, price decimal.Decimal) {
	if qty.IsZero() {
		return
	}
	l.Fills = append(l.Fills, fillRecord{Qty: qty, Price: price})
}

func (l *leg) minQty() decimal.Decimal {
	return minQty(l.Meta, l.ReferencePrice)
}

// waitForOrder polls FetchOrder until the order is terminal or the deadline
// elapses, returning the last observed order state.
func waitForOrder(ctx context.Context, gw venue.Gateway, orderID string, symbol types.Symbol, timeout time.Duration, interval time.Duration) (*types.Order, error) {
	deadline := time.Now().Add(timeout)
	var last *types.Order
	for {
		order, err := gw.FetchOrder(ctx, orderID, symbol)
		if err == nil {
			last = order
			if order.Status.IsTerminal() {
				return order, nil
			}
		}
		if time.Now().After(deadline) {
			return last, nil
		}
		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case <-time.After(interval):
		}
	}
}

// takerEscalate places an aggressive limit order for qty at a taker-margined
// price, waits up to cfg.MaxTakerEnterOrderTime for it to close, and if it
// hasn't, market-orders the unfilled remainder. Every fill is appended to l.
// Grounded on the limit-then-market-fallback shape repeated across
// taker_taker_trader.py's Cases 2-4.
func takerEscalate(ctx context.Context, l *leg, qty, limitPrice decimal.Decimal, cfg Config) error {
	qty = venue.RoundStep(qty, l.Meta.QtyStep)
	if !qty.IsPositive() {
		return nil
	}

	order, err := l.Gateway.CreateLimitOrder(ctx, l.Symbol, l.Side, qty, limitPrice)
	if err != nil {
		return err
	}
	l.OrderID = order.ID

	final, err := waitForOrder(ctx, l.Gateway, order.ID, l.Symbol, cfg.MaxTakerEnterOrderTime, 100*time.Millisecond)
	if err != nil {
		return err
	}
	if final != nil {
		l.appendFill(final.FilledQty, final.AvgFillPrice)
	}
	if final != nil && final.Status == types.OrderFilled {
		return nil
	}

	// Unfilled remainder goes to market.
	filled := decimal.Zero
	if final != nil {
		filled = final.FilledQty
	}
	remainder := venue.RoundStep(qty.Sub(filled), l.Meta.QtyStep)
	if !remainder.IsPositive() {
		return nil
	}

	if _, err := safeCancel(ctx, l.Gateway, order.ID, l.Symbol); err != nil {
		return err
	}

	marketOrder, err := l.Gateway.CreateMarketOrder(ctx, l.Symbol, l.Side, remainder)
	if err != nil {
		return err
	}
	l.appendFill(marketOrder.FilledQty, marketOrder.AvgFillPrice)
	return nil
}

// safeCancel cancels an order, treating already-final states as success.
// Grounded on base_trader.py's safe_cancel_order.
func safeCancel(ctx context.Context, gw venue.Gateway, orderID string, symbol types.Symbol) (*types.Order, error) {
	order, err := gw.CancelOrder(ctx, orderID, symbol)
	if err == nil {
		return order, nil
	}

	fetched, fetchErr := gw.FetchOrder(ctx, orderID, symbol)
	if fetchErr != nil {
		return nil, err
	}
	if venue.IsAlreadyFinal(fetched.Status) {
		return fetched, nil
	}
	return nil, err
}
