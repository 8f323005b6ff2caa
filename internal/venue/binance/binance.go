// Package binance implements venue.Gateway against Binance USDT-M futures.
package binance

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ndrandal/arb-controller/internal/types"
	"github.com/ndrandal/arb-controller/internal/venue"
)

const defaultBaseURL = "https://fapi.binance.com"

// Gateway is the Binance USDT-M futures adapter, grounded on
// exchange/binance_api.py's REST endpoint shapes (/fapi/v1/exchangeInfo,
// /fapi/v1/ticker/24hr, /fapi/v1/ticker/price).
type Gateway struct {
	client    *venue.Client
	apiKey    string
	apiSecret string
	fetchOnly bool
}

// Config configures a Gateway instance.
type Config struct {
	BaseURL       string
	APIKey        string
	APISecret     string
	FetchOnly     bool
	RatePerSecond float64
}

// New creates a Binance gateway.
func New(cfg Config, logger *log.Logger) *Gateway {
	base := cfg.BaseURL
	if base == "" {
		base = defaultBaseURL
	}
	rps := cfg.RatePerSecond
	if rps <= 0 {
		rps = 20
	}
	return &Gateway{
		client:    venue.NewClient(base, rps, logger),
		apiKey:    cfg.APIKey,
		apiSecret: cfg.APISecret,
		fetchOnly: cfg.FetchOnly,
	}
}

func (g *Gateway) Name() string { return "binance" }

type exchangeInfoResponse struct {
	Symbols []struct {
		Symbol        string `json:"symbol"`
		ContractType  string `json:"contractType"`
		QuoteAsset    string `json:"quoteAsset"`
		Status        string `json:"status"`
		PricePrecision int   `json:"pricePrecision"`
		Filters       []struct {
			FilterType string `json:"filterType"`
			TickSize   string `json:"tickSize"`
			StepSize   string `json:"stepSize"`
			MinQty     string `json:"minQty"`
		} `json:"filters"`
	} `json:"symbols"`
}

// FetchSymbols returns perpetual USDT-margined symbols only, excluding any
// dated/quarterly contract.
func (g *Gateway) FetchSymbols(ctx context.Context) ([]types.SymbolMeta, error) {
	var resp exchangeInfoResponse
	if err := g.client.GetJSON(ctx, "/fapi/v1/exchangeInfo", nil, &resp); err != nil {
		return nil, err
	}

	metas := make([]types.SymbolMeta, 0, len(resp.Symbols))
	for _, s := range resp.Symbols {
		if s.ContractType != "PERPETUAL" || s.QuoteAsset != "USDT" || s.Status != "TRADING" {
			continue
		}

		var tickSize, stepSize, minQty decimal.Decimal
		for _, f := range s.Filters {
			switch f.FilterType {
			case "PRICE_FILTER":
				tickSize, _ = decimal.NewFromString(f.TickSize)
			case "LOT_SIZE":
				stepSize, _ = decimal.NewFromString(f.StepSize)
				minQty, _ = decimal.NewFromString(f.MinQty)
			}
		}

		metas = append(metas, types.SymbolMeta{
			Symbol:   types.Intern(s.Symbol),
			Venue:    types.VenueA,
			MinQty:   minQty,
			QtyStep:  stepSize,
			TickSize: tickSize,
		})
	}
	return metas, nil
}

type tickerPriceItem struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

// FetchTickers returns last price per symbol; bid/ask are left zero since
// the plain ticker/price endpoint doesn't carry book data.
func (g *Gateway) FetchTickers(ctx context.Context) (map[types.Symbol]types.Ticker, error) {
	var resp []tickerPriceItem
	if err := g.client.GetJSON(ctx, "/fapi/v1/ticker/price", nil, &resp); err != nil {
		return nil, err
	}

	out := make(map[types.Symbol]types.Ticker, len(resp))
	for _, item := range resp {
		price, err := decimal.NewFromString(item.Price)
		if err != nil || !price.IsPositive() {
			continue
		}
		sym := types.Intern(item.Symbol)
		out[sym] = types.Ticker{Symbol: sym, LastPrice: price}
	}
	return out, nil
}

type ticker24hItem struct {
	Symbol      string `json:"symbol"`
	QuoteVolume string `json:"quoteVolume"`
}

// FetchVolumes24h returns 24h quote-currency notional per symbol.
func (g *Gateway) FetchVolumes24h(ctx context.Context) (map[types.Symbol]decimal.Decimal, error) {
	var resp []ticker24hItem
	if err := g.client.GetJSON(ctx, "/fapi/v1/ticker/24hr", nil, &resp); err != nil {
		return nil, err
	}

	out := make(map[types.Symbol]decimal.Decimal, len(resp))
	for _, item := range resp {
		vol, err := decimal.NewFromString(item.QuoteVolume)
		if err != nil {
			continue
		}
		out[types.Intern(item.Symbol)] = vol
	}
	return out, nil
}

type orderResponse struct {
	OrderID       int64  `json:"orderId"`
	Status        string `json:"status"`
	ExecutedQty   string `json:"executedQty"`
	AvgPrice      string `json:"avgPrice"`
	OrigQty       string `json:"origQty"`
}

func normalizeStatus(s string) types.OrderStatus {
	switch s {
	case "NEW":
		return types.OrderPending
	case "PARTIALLY_FILLED":
		return types.OrderPartial
	case "FILLED":
		return types.OrderFilled
	case "CANCELED", "EXPIRED":
		return types.OrderCancelled
	case "REJECTED":
		return types.OrderRejected
	default:
		return types.OrderPending
	}
}

func (g *Gateway) toOrder(resp orderResponse, symbol types.Symbol, side types.Side, orderType types.OrderType, requestedQty, requestedPrice decimal.Decimal) *types.Order {
	filled, _ := decimal.NewFromString(resp.ExecutedQty)
	avg, _ := decimal.NewFromString(resp.AvgPrice)
	now := time.Now()
	return &types.Order{
		ID:             strconv.FormatInt(resp.OrderID, 10),
		Venue:          types.VenueA,
		Symbol:         symbol,
		Side:           side,
		Type:           orderType,
		RequestedQty:   requestedQty,
		RequestedPrice: requestedPrice,
		FilledQty:      filled,
		AvgFillPrice:   avg,
		Status:         normalizeStatus(resp.Status),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func (g *Gateway) sign(query url.Values, timestamp int64) map[string]string {
	query.Set("timestamp", strconv.FormatInt(timestamp, 10))
	mac := hmac.New(sha256.New, []byte(g.apiSecret))
	mac.Write([]byte(query.Encode()))
	query.Set("signature", hex.EncodeToString(mac.Sum(nil)))
	return map[string]string{"X-MBX-APIKEY": g.apiKey}
}

func (g *Gateway) createOrder(ctx context.Context, symbol types.Symbol, side types.Side, orderType types.OrderType, qty, price decimal.Decimal) (*types.Order, error) {
	if g.fetchOnly {
		return nil, fmt.Errorf("binance: %s is fetch-only, order entry disabled", symbol)
	}

	q := url.Values{}
	q.Set("symbol", symbol.String())
	q.Set("quantity", qty.String())
	if side == types.SideBuy {
		q.Set("side", "BUY")
	} else {
		q.Set("side", "SELL")
	}
	if orderType == types.OrderLimit {
		q.Set("type", "LIMIT")
		q.Set("timeInForce", "GTC")
		q.Set("price", price.String())
	} else {
		q.Set("type", "MARKET")
	}

	var resp orderResponse
	if err := g.client.SignedRequest(ctx, "POST", "/fapi/v1/order", q, g.sign, &resp); err != nil {
		return nil, err
	}
	return g.toOrder(resp, symbol, side, orderType, qty, price), nil
}

func (g *Gateway) CreateLimitOrder(ctx context.Context, symbol types.Symbol, side types.Side, qty, price decimal.Decimal) (*types.Order, error) {
	return g.createOrder(ctx, symbol, side, types.OrderLimit, qty, price)
}

func (g *Gateway) CreateMarketOrder(ctx context.Context, symbol types.Symbol, side types.Side, qty decimal.Decimal) (*types.Order, error) {
	return g.createOrder(ctx, symbol, side, types.OrderMarket, qty, decimal.Zero)
}

// FetchOrder looks up an order by id; Binance's futures API requires the
// symbol alongside the order id.
func (g *Gateway) FetchOrder(ctx context.Context, id string, symbol types.Symbol) (*types.Order, error) {
	q := url.Values{}
	q.Set("symbol", symbol.String())
	q.Set("orderId", id)

	var resp orderResponse
	if err := g.client.SignedRequest(ctx, "GET", "/fapi/v1/order", q, g.sign, &resp); err != nil {
		return nil, err
	}
	qty, _ := decimal.NewFromString(resp.OrigQty)
	return g.toOrder(resp, symbol, types.SideBuy, types.OrderLimit, qty, decimal.Zero), nil
}

// CancelOrder cancels an order, treating an already-final state as success
// per the idempotency contract: a "Unknown order sent" style error is
// followed by a status fetch, and a terminal result there is accepted.
func (g *Gateway) CancelOrder(ctx context.Context, id string, symbol types.Symbol) (*types.Order, error) {
	q := url.Values{}
	q.Set("symbol", symbol.String())
	q.Set("orderId", id)

	var resp orderResponse
	err := g.client.SignedRequest(ctx, "DELETE", "/fapi/v1/order", q, g.sign, &resp)
	if err == nil {
		return g.toOrder(resp, symbol, types.SideBuy, types.OrderLimit, decimal.Zero, decimal.Zero), nil
	}

	order, fetchErr := g.FetchOrder(ctx, id, symbol)
	if fetchErr != nil {
		return nil, err
	}
	if venue.IsAlreadyFinal(order.Status) {
		return order, nil
	}
	return nil, err
}

func (g *Gateway) SetLeverage(ctx context.Context, symbol types.Symbol, x int) error {
	q := url.Values{}
	q.Set("symbol", symbol.String())
	q.Set("leverage", strconv.Itoa(x))
	err := g.client.SignedRequest(ctx, "POST", "/fapi/v1/leverage", q, g.sign, nil)
	if err != nil && venue.IsLeverageUnchanged(err) {
		return nil
	}
	return err
}

func (g *Gateway) SetIsolatedMargin(ctx context.Context, symbol types.Symbol) error {
	q := url.Values{}
	q.Set("symbol", symbol.String())
	q.Set("marginType", "ISOLATED")
	err := g.client.SignedRequest(ctx, "POST", "/fapi/v1/marginType", q, g.sign, nil)
	if err != nil && venue.IsMarginTypeUnchanged(err) {
		return nil
	}
	return err
}

type balanceItem struct {
	Asset              string `json:"asset"`
	AvailableBalance   string `json:"availableBalance"`
}

func (g *Gateway) FetchBalance(ctx context.Context, asset string) (decimal.Decimal, error) {
	var resp []balanceItem
	if err := g.client.SignedRequest(ctx, "GET", "/fapi/v2/balance", nil, g.sign, &resp); err != nil {
		return decimal.Zero, err
	}
	for _, item := range resp {
		if item.Asset == asset {
			return decimal.NewFromString(item.AvailableBalance)
		}
	}
	return decimal.Zero, nil
}
