// Package bybit implements venue.Gateway against Bybit's v5 linear
// perpetual API.
package bybit

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

const defaultBaseURL = "https://api.bybit.com"

// Gateway is the Bybit v5 linear-perpetual adapter, grounded on
// exchanges/bybit_api.py's /v5/market/tickers shape.
type Gateway struct {
	client    *venue.Client
	apiKey    string
	apiSecret string
	fetchOnly bool
	recvWindow string
}

// Config configures a Gateway instance.
type Config struct {
	BaseURL       string
	APIKey        string
	APISecret     string
	FetchOnly     bool
	RatePerSecond float64
}

// New creates a Bybit gateway.
func New(cfg Config, logger *log.Logger) *Gateway {
	base := cfg.BaseURL
	if base == "" {
		base = defaultBaseURL
	}
	rps := cfg.RatePerSecond
	if rps <= 0 {
		rps = 10
	}
	return &Gateway{
		client:     venue.NewClient(base, rps, logger),
		apiKey:     cfg.APIKey,
		apiSecret:  cfg.APISecret,
		fetchOnly:  cfg.FetchOnly,
		recvWindow: "5000",
	}
}

func (g *Gateway) Name() string { return "bybit" }

type resultEnvelope[T any] struct {
	RetCode int    `json:"retCode"`
	RetMsg  string `json:"retMsg"`
	Result  T      `json:"result"`
}

type instrumentsResult struct {
	List []struct {
		Symbol        string `json:"symbol"`
		ContractType  string `json:"contractType"`
		QuoteCoin     string `json:"quoteCoin"`
		Status        string `json:"status"`
		PriceFilter   struct {
			TickSize string `json:"tickSize"`
		} `json:"priceFilter"`
		LotSizeFilter struct {
			QtyStep string `json:"qtyStep"`
			MinOrderQty string `json:"minOrderQty"`
		} `json:"lotSizeFilter"`
	} `json:"list"`
}

// FetchSymbols returns linear USDT perpetuals only.
func (g *Gateway) FetchSymbols(ctx context.Context) ([]types.SymbolMeta, error) {
	q := url.Values{}
	q.Set("category", "linear")

	var resp resultEnvelope[instrumentsResult]
	if err := g.client.GetJSON(ctx, "/v5/market/instruments-info", q, &resp); err != nil {
		return nil, err
	}
	if resp.RetCode != 0 {
		return nil, fmt.Errorf("bybit: instruments-info: %s", resp.RetMsg)
	}

	metas := make([]types.SymbolMeta, 0, len(resp.Result.List))
	for _, s := range resp.Result.List {
		if s.ContractType != "LinearPerpetual" || s.QuoteCoin != "USDT" || s.Status != "Trading" {
			continue
		}
		tickSize, _ := decimal.NewFromString(s.PriceFilter.TickSize)
		qtyStep, _ := decimal.NewFromString(s.LotSizeFilter.QtyStep)
		minQty, _ := decimal.NewFromString(s.LotSizeFilter.MinOrderQty)
		metas = append(metas, types.SymbolMeta{
			Symbol:   types.Intern(s.Symbol),
			Venue:    types.VenueB,
			MinQty:   minQty,
			QtyStep:  qtyStep,
			TickSize: tickSize,
		})
	}
	return metas, nil
}

type tickersResult struct {
	List []struct {
		Symbol    string `json:"symbol"`
		LastPrice string `json:"lastPrice"`
		Volume24h string `json:"volume24h"`
		Bid1Price string `json:"bid1Price"`
		Ask1Price string `json:"ask1Price"`
	} `json:"list"`
}

func (g *Gateway) fetchTickers(ctx context.Context) (tickersResult, error) {
	q := url.Values{}
	q.Set("category", "linear")

	var resp resultEnvelope[tickersResult]
	if err := g.client.GetJSON(ctx, "/v5/market/tickers", q, &resp); err != nil {
		return tickersResult{}, err
	}
	if resp.RetCode != 0 {
		return tickersResult{}, fmt.Errorf("bybit: tickers: %s", resp.RetMsg)
	}
	return resp.Result, nil
}

func (g *Gateway) FetchTickers(ctx context.Context) (map[types.Symbol]types.Ticker, error) {
	tickers, err := g.fetchTickers(ctx)
	if err != nil {
		return nil, err
	}

	out := make(map[types.Symbol]types.Ticker, len(tickers.List))
	for _, item := range tickers.List {
		price, err := decimal.NewFromString(item.LastPrice)
		if err != nil || !price.IsPositive() {
			continue
		}
		bid, _ := decimal.NewFromString(item.Bid1Price)
		ask, _ := decimal.NewFromString(item.Ask1Price)
		sym := types.Intern(item.Symbol)
		out[sym] = types.Ticker{Symbol: sym, LastPrice: price, Bid: bid, Ask: ask}
	}
	return out, nil
}

// FetchVolumes24h returns 24h notional, computed as base volume * last price
// (Bybit's volume24h is base-asset denominated).
func (g *Gateway) FetchVolumes24h(ctx context.Context) (map[types.Symbol]decimal.Decimal, error) {
	tickers, err := g.fetchTickers(ctx)
	if err != nil {
		return nil, err
	}

	out := make(map[types.Symbol]decimal.Decimal, len(tickers.List))
	for _, item := range tickers.List {
		price, err := decimal.NewFromString(item.LastPrice)
		if err != nil {
			continue
		}
		vol, err := decimal.NewFromString(item.Volume24h)
		if err != nil {
			continue
		}
		out[types.Intern(item.Symbol)] = vol.Mul(price)
	}
	return out, nil
}

type orderResult struct {
	OrderID string `json:"orderId"`
}

type orderInfoResult struct {
	List []struct {
		OrderID     string `json:"orderId"`
		OrderStatus string `json:"orderStatus"`
		Qty         string `json:"qty"`
		CumExecQty  string `json:"cumExecQty"`
		AvgPrice    string `json:"avgPrice"`
	} `json:"list"`
}

func normalizeStatus(s string) types.OrderStatus {
	switch s {
	case "New", "Untriggered":
		return types.OrderPending
	case "PartiallyFilled":
		return types.OrderPartial
	case "Filled":
		return types.OrderFilled
	case "Cancelled", "Deactivated":
		return types.OrderCancelled
	case "Rejected":
		return types.OrderRejected
	default:
		return types.OrderPending
	}
}

func (g *Gateway) sign(query url.Values, timestamp int64) map[string]string {
	ts := strconv.FormatInt(timestamp, 10)
	payload := ts + g.apiKey + g.recvWindow + query.Encode()
	mac := hmac.New(sha256.New, []byte(g.apiSecret))
	mac.Write([]byte(payload))
	signature := hex.EncodeToString(mac.Sum(nil))
	return map[string]string{
		"X-BAPI-API-KEY":     g.apiKey,
		"X-BAPI-TIMESTAMP":   ts,
		"X-BAPI-RECV-WINDOW": g.recvWindow,
		"X-BAPI-SIGN":        signature,
	}
}

func (g *Gateway) createOrder(ctx context.Context, symbol types.Symbol, side types.Side, orderType types.OrderType, qty, price decimal.Decimal) (*types.Order, error) {
	if g.fetchOnly {
		return nil, fmt.Errorf("bybit: %s is fetch-only, order entry disabled", symbol)
	}

	q := url.Values{}
	q.Set("category", "linear")
	q.Set("symbol", symbol.String())
	q.Set("qty", qty.String())
	if side == types.SideBuy {
		q.Set("side", "Buy")
	} else {
		q.Set("side", "Sell")
	}
	if orderType == types.OrderLimit {
		q.Set("orderType", "Limit")
		q.Set("timeInForce", "GTC")
		q.Set("price", price.String())
	} else {
		q.Set("orderType", "Market")
	}

	var resp resultEnvelope[orderResult]
	if err := g.client.SignedRequest(ctx, "POST", "/v5/order/create", q, g.sign, &resp); err != nil {
		return nil, err
	}
	if resp.RetCode != 0 {
		return nil, fmt.Errorf("bybit: create order: %s", resp.RetMsg)
	}

	now := time.Now()
	return &types.Order{
		ID: resp.Result.OrderID, Venue: types.VenueB, Symbol: symbol, Side: side, Type: orderType,
		RequestedQty: qty, RequestedPrice: price, Status: types.OrderPending,
		CreatedAt: now, UpdatedAt: now,
	}, nil
}

func (g *Gateway) CreateLimitOrder(ctx context.Context, symbol types.Symbol, side types.Side, qty, price decimal.Decimal) (*types.Order, error) {
	return g.createOrder(ctx, symbol, side, types.OrderLimit, qty, price)
}

func (g *Gateway) CreateMarketOrder(ctx context.Context, symbol types.Symbol, side types.Side, qty decimal.Decimal) (*types.Order, error) {
	return g.createOrder(ctx, symbol, side, types.OrderMarket, qty, decimal.Zero)
}

// FetchOrder uses fetch_open_order-equivalent history/realtime lookup,
// since Bybit returns both open and closed orders from the same endpoint
// regardless of state.
func (g *Gateway) FetchOrder(ctx context.Context, id string, symbol types.Symbol) (*types.Order, error) {
	q := url.Values{}
	q.Set("category", "linear")
	q.Set("symbol", symbol.String())
	q.Set("orderId", id)

	var resp resultEnvelope[orderInfoResult]
	if err := g.client.SignedRequest(ctx, "GET", "/v5/order/realtime", q, g.sign, &resp); err != nil {
		return nil, err
	}
	if resp.RetCode != 0 || len(resp.Result.List) == 0 {
		return nil, fmt.Errorf("bybit: order %s not found", id)
	}

	o := resp.Result.List[0]
	qty, _ := decimal.NewFromString(o.Qty)
	filled, _ := decimal.NewFromString(o.CumExecQty)
	avg, _ := decimal.NewFromString(o.AvgPrice)
	now := time.Now()
	return &types.Order{
		ID: o.OrderID, Venue: types.VenueB, Symbol: symbol, Side: types.SideBuy, Type: types.OrderLimit,
		RequestedQty: qty, FilledQty: filled, AvgFillPrice: avg, Status: normalizeStatus(o.OrderStatus),
		CreatedAt: now, UpdatedAt: now,
	}, nil
}

// CancelOrder treats Bybit's "order not exists or too late to cancel"
// response as success iff a follow-up fetch confirms a terminal state.
func (g *Gateway) CancelOrder(ctx context.Context, id string, symbol types.Symbol) (*types.Order, error) {
	q := url.Values{}
	q.Set("category", "linear")
	q.Set("symbol", symbol.String())
	q.Set("orderId", id)

	var resp resultEnvelope[orderResult]
	err := g.client.SignedRequest(ctx, "POST", "/v5/order/cancel", q, g.sign, &resp)
	if err == nil && resp.RetCode == 0 {
		return g.FetchOrder(ctx, id, symbol)
	}

	order, fetchErr := g.FetchOrder(ctx, id, symbol)
	if fetchErr != nil {
		if err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("bybit: cancel order: %s", resp.RetMsg)
	}
	if venue.IsAlreadyFinal(order.Status) {
		return order, nil
	}
	if err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("bybit: cancel order: %s", resp.RetMsg)
}

func (g *Gateway) SetLeverage(ctx context.Context, symbol types.Symbol, x int) error {
	q := url.Values{}
	q.Set("category", "linear")
	q.Set("symbol", symbol.String())
	q.Set("buyLeverage", strconv.Itoa(x))
	q.Set("sellLeverage", strconv.Itoa(x))

	var resp resultEnvelope[struct{}]
	err := g.client.SignedRequest(ctx, "POST", "/v5/position/set-leverage", q, g.sign, &resp)
	if err != nil {
		return err
	}
	if resp.RetCode != 0 && resp.RetCode != 110043 {
		return fmt.Errorf("bybit: set leverage: %s", resp.RetMsg)
	}
	return nil
}

func (g *Gateway) SetIsolatedMargin(ctx context.Context, symbol types.Symbol) error {
	q := url.Values{}
	q.Set("category", "linear")
	q.Set("symbol", symbol.String())
	q.Set("tradeMode", "1")
	q.Set("buyLeverage", "1")
	q.Set("sellLeverage", "1")

	var resp resultEnvelope[struct{}]
	err := g.client.SignedRequest(ctx, "POST", "/v5/position/switch-isolated", q, g.sign, &resp)
	if err != nil {
		return err
	}
	if resp.RetCode != 0 && venue.IsMarginTypeUnchanged(fmt.Errorf("%s", resp.RetMsg)) {
		return nil
	}
	if resp.RetCode != 0 {
		return fmt.Errorf("bybit: set isolated margin: %s", resp.RetMsg)
	}
	return nil
}

type walletBalanceResult struct {
	List []struct {
		Coin []struct {
			Coin            string `json:"coin"`
			WalletBalance   string `json:"walletBalance"`
			AvailableToWithdraw string `json:"availableToWithdraw"`
		} `json:"coin"`
	} `json:"list"`
}

func (g *Gateway) FetchBalance(ctx context.Context, asset string) (decimal.Decimal, error) {
	q := url.Values{}
	q.Set("accountType", "UNIFIED")

	var resp resultEnvelope[walletBalanceResult]
	if err := g.client.SignedRequest(ctx, "GET", "/v5/account/wallet-balance", q, g.sign, &resp); err != nil {
		return decimal.Zero, err
	}
	if resp.RetCode != 0 {
		return decimal.Zero, fmt.Errorf("bybit: wallet balance: %s", resp.RetMsg)
	}

	for _, account := range resp.Result.List {
		for _, coin := range account.Coin {
			if coin.Coin == asset {
				return decimal.NewFromString(coin.AvailableToWithdraw)
			}
		}
	}
	return decimal.Zero, nil
}
