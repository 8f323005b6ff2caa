// Package simulation implements venue.Gateway as an in-memory instant
// filler, used under simulation_mode so the trader state machine can be
// exercised without placing real orders.
package simulation

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ndrandal/arb-controller/internal/types"
)

// Gateway fills every order immediately at its requested price (or the last
// known ticker price for market orders), and tracks a starting balance that
// debits/credits are not applied to (simulation never runs out of funds).
type Gateway struct {
	name    string
	balance decimal.Decimal
	tickers func() map[types.Symbol]types.Ticker

	mu      sync.Mutex
	orders  map[string]*types.Order
	counter int64
	venue   types.Venue
}

// New creates a simulation gateway. tickers supplies the latest price for
// market orders; name/venue identify which side of the pair this stands in
// for (so logs/records read naturally).
func New(name string, v types.Venue, startingBalance decimal.Decimal, tickers func() map[types.Symbol]types.Ticker) *Gateway {
	return &Gateway{
		name:    name,
		venue:   v,
		balance: startingBalance,
		tickers: tickers,
		orders:  make(map[string]*types.Order),
	}
}

func (g *Gateway) Name() string { return g.name }

func (g *Gateway) FetchSymbols(ctx context.Context) ([]types.SymbolMeta, error) {
	return nil, nil
}

func (g *Gateway) FetchTickers(ctx context.Context) (map[types.Symbol]types.Ticker, error) {
	if g.tickers == nil {
		return map[types.Symbol]types.Ticker{}, nil
	}
	return g.tickers(), nil
}

func (g *Gateway) FetchVolumes24h(ctx context.Context) (map[types.Symbol]decimal.Decimal, error) {
	return map[types.Symbol]decimal.Decimal{}, nil
}

func (g *Gateway) nextID() string {
	n := atomic.AddInt64(&g.counter, 1)
	return fmt.Sprintf("sim-%s-%d", g.name, n)
}

func (g *Gateway) fill(symbol types.Symbol, side types.Side, orderType types.OrderType, qty, price decimal.Decimal) (*types.Order, error) {
	if price.IsZero() {
		tickers, err := g.FetchTickers(context.Background())
		if err != nil {
			return nil, err
		}
		t, ok := tickers[symbol]
		if !ok || !t.LastPrice.IsPositive() {
			return nil, fmt.Errorf("simulation: no ticker price available for %s", symbol)
		}
		price = t.LastPrice
	}

	now := time.Now()
	order := &types.Order{
		ID:             g.nextID(),
		Venue:          g.venue,
		Symbol:         symbol,
		Side:           side,
		Type:           orderType,
		RequestedQty:   qty,
		RequestedPrice: price,
		FilledQty:      qty,
		AvgFillPrice:   price,
		Status:         types.OrderFilled,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	g.mu.Lock()
	g.orders[order.ID] = order
	g.mu.Unlock()

	return order, nil
}

func (g *Gateway) CreateLimitOrder(ctx context.Context, symbol types.Symbol, side types.Side, qty, price decimal.Decimal) (*types.Order, error) {
	return g.fill(symbol, side, types.OrderLimit, qty, price)
}

func (g *Gateway) CreateMarketOrder(ctx context.Context, symbol types.Symbol, side types.Side, qty decimal.Decimal) (*types.Order, error) {
	return g.fill(symbol, side, types.OrderMarket, qty, decimal.Zero)
}

func (g *Gateway) FetchOrder(ctx context.Context, id string, symbol types.Symbol) (*types.Order, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	order, ok := g.orders[id]
	if !ok {
		return nil, fmt.Errorf("simulation: unknown order %s", id)
	}
	return order, nil
}

// CancelOrder is always a no-op success: simulated orders fill instantly on
// creation, so by the time a cancel is attempted the order is already
// terminal.
func (g *Gateway) CancelOrder(ctx context.Context, id string, symbol types.Symbol) (*types.Order, error) {
	return g.FetchOrder(ctx, id, symbol)
}

func (g *Gateway) SetLeverage(ctx context.Context, symbol types.Symbol, x int) error       { return nil }
func (g *Gateway) SetIsolatedMargin(ctx context.Context, symbol types.Symbol) error        { return nil }

func (g *Gateway) FetchBalance(ctx context.Context, asset string) (decimal.Decimal, error) {
	return g.balance, nil
}
