package feed

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/ndrandal/arb-controller/internal/types"
)

// BybitAdapter streams Bybit v5 linear-perpetual ticker updates. Unlike
// Binance's all-market stream, Bybit requires an explicit topic
// subscription per symbol, chunked to stay under the venue's per-message
// argument limit.
type BybitAdapter struct {
	// ArgsPerMessage caps how many "tickers.<symbol>" topics go in one
	// subscribe request; Bybit rejects overly large arg lists.
	ArgsPerMessage int
}

// NewBybitAdapter returns a feed Adapter for Bybit's linear perpetual market.
func NewBybitAdapter() *BybitAdapter { return &BybitAdapter{ArgsPerMessage: 10} }

func (a *BybitAdapter) Name() string { return "bybit" }

func (a *BybitAdapter) DialURL(symbols []types.Symbol) string {
	return "wss://stream.bybit.com/v5/public/linear"
}

type bybitSubscribeMessage struct {
	Op   string   `json:"op"`
	Args []string `json:"args"`
}

func (a *BybitAdapter) SubscribeMessages(symbols []types.Symbol) [][]byte {
	chunkSize := a.ArgsPerMessage
	if chunkSize <= 0 {
		chunkSize = 10
	}
	var messages [][]byte
	for i := 0; i < len(symbols); i += chunkSize {
		end := i + chunkSize
		if end > len(symbols) {
			end = len(symbols)
		}
		args := make([]string, 0, end-i)
		for _, s := range symbols[i:end] {
			args = append(args, "tickers."+string(s))
		}
		payload, err := json.Marshal(bybitSubscribeMessage{Op: "subscribe", Args: args})
		if err != nil {
			continue
		}
		messages = append(messages, payload)
	}
	return messages
}

// KeepAlive pushes Bybit's required application-level ping every 20s; Bybit
// does not rely on native websocket control frames for this.
func (a *BybitAdapter) KeepAlive() (time.Duration, []byte, int) {
	return 20 * time.Second, []byte(`{"op":"ping"}`), 1 // websocket.TextMessage == 1
}

type bybitTickerMessage struct {
	Topic string `json:"topic"`
	Data  struct {
		Symbol      string `json:"symbol"`
		LastPrice   string `json:"lastPrice"`
		Turnover24h string `json:"turnover24h"`
	} `json:"data"`
}

func (a *BybitAdapter) ParsePriceUpdate(msg []byte) (map[types.Symbol]types.PriceSample, bool) {
	var tk bybitTickerMessage
	if err := json.Unmarshal(msg, &tk); err != nil || tk.Data.Symbol == "" || tk.Data.LastPrice == "" {
		return nil, false
	}
	price, err := decimal.NewFromString(tk.Data.LastPrice)
	if err != nil {
		return nil, false
	}
	vol, _ := decimal.NewFromString(tk.Data.Turnover24h)
	return map[types.Symbol]types.PriceSample{
		types.Symbol(tk.Data.Symbol): {LastPrice: price, Volume24hUSD: vol, ObservedAt: time.Now()},
	}, true
}
