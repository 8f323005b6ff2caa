// Package venue defines the uniform façade over venue-specific REST APIs:
// authentication, request signing, rate limiting, and response-shape
// differences are hidden behind the Gateway interface.
package venue

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/ndrandal/arb-controller/internal/types"
)

// Gateway is implemented once per venue (binance, bybit) plus a simulation
// adapter used under simulation_mode.
type Gateway interface {
	Name() string

	FetchSymbols(ctx context.Context) ([]types.SymbolMeta, error)
	FetchTickers(ctx context.Context) (map[types.Symbol]types.Ticker, error)
	FetchVolumes24h(ctx context.Context) (map[types.Symbol]decimal.Decimal, error)

	CreateLimitOrder(ctx context.Context, symbol types.Symbol, side types.Side, qty, price decimal.Decimal) (*types.Order, error)
	CreateMarketOrder(ctx context.Context, symbol types.Symbol, side types.Side, qty decimal.Decimal) (*types.Order, error)
	FetchOrder(ctx context.Context, id string, symbol types.Symbol) (*types.Order, error)
	CancelOrder(ctx context.Context, id string, symbol types.Symbol) (*types.Order, error)

	SetLeverage(ctx context.Context, symbol types.Symbol, x int) error
	SetIsolatedMargin(ctx context.Context, symbol types.Symbol) error

	FetchBalance(ctx context.Context, asset string) (decimal.Decimal, error)
}

// IsAlreadyFinal reports whether an order status is a terminal state that a
// cancel-already-final response should be treated as success against.
func IsAlreadyFinal(status types.OrderStatus) bool {
	return status == types.OrderFilled || status == types.OrderCancelled
}
