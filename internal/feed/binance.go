package feed

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ndrandal/arb-controller/internal/types"
)

// BinanceAdapter streams Binance USDT-M futures mini-ticker updates over a
// single combined-stream connection covering every symbol at once, so no
// per-connection symbol chunking is needed.
type BinanceAdapter struct{}

// NewBinanceAdapter returns a feed Adapter for Binance USDT-M futures.
func NewBinanceAdapter() *BinanceAdapter { return &BinanceAdapter{} }

func (a *BinanceAdapter) Name() string { return "binance" }

// DialURL subscribes to the all-market mini-ticker array stream; symbols is
// unused since the stream already carries every symbol Binance lists.
func (a *BinanceAdapter) DialURL(symbols []types.Symbol) string {
	return "wss://fstream.binance.com/ws/!miniTicker@arr"
}

func (a *BinanceAdapter) SubscribeMessages(symbols []types.Symbol) [][]byte { return nil }

// KeepAlive relies on Binance's server-initiated ping / gorilla's default
// pong auto-reply; no client-side keepalive push is required.
func (a *BinanceAdapter) KeepAlive() (time.Duration, []byte, int) { return 0, nil, 0 }

type binanceMiniTicker struct {
	Symbol string `json:"s"`
	Close  string `json:"c"`
	Volume string `json:"q"` // quote asset volume over the rolling 24h window
}

func (a *BinanceAdapter) ParsePriceUpdate(msg []byte) (map[types.Symbol]types.PriceSample, bool) {
	var tickers []binanceMiniTicker
	if err := json.Unmarshal(msg, &tickers); err != nil || len(tickers) == 0 {
		return nil, false
	}

	out := make(map[types.Symbol]types.PriceSample, len(tickers))
	now := time.Now()
	for _, tk := range tickers {
		if !strings.HasSuffix(tk.Symbol, "USDT") {
			continue
		}
		price, err := decimal.NewFromString(tk.Close)
		if err != nil {
			continue
		}
		vol, _ := decimal.NewFromString(tk.Volume)
		out[types.Symbol(tk.Symbol)] = types.PriceSample{LastPrice: price, Volume24hUSD: vol, ObservedAt: now}
	}
	if len(out) == 0 {
		return nil, false
	}
	return out, true
}
