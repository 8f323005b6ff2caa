// Package feed maintains one streaming price connection per venue: a
// last-trade price and periodically-refreshed 24h quote-volume snapshot for
// every tradable perpetual symbol. Readers take an immutable snapshot copy;
// the connection goroutine is the sole writer.
package feed

import (
	"context"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ndrandal/arb-controller/internal/backoff"
	"github.com/ndrandal/arb-controller/internal/types"
	"github.com/ndrandal/arb-controller/internal/venue"
)

// Adapter hides venue-specific websocket framing behind a uniform shape:
// how to build the dial URL, what (if anything) to send after connecting,
// and how to decode inbound frames into price updates.
type Adapter interface {
	Name() string
	DialURL(symbols []types.Symbol) string
	SubscribeMessages(symbols []types.Symbol) [][]byte
	ParsePriceUpdate(msg []byte) (map[types.Symbol]types.PriceSample, bool)

	// KeepAlive returns the client-initiated keepalive cadence. Returning
	// interval=0 means the venue only needs the default pong auto-reply to
	// its own server-sent pings (e.g. Binance); a positive interval with a
	// message means the client must push an application-level ping of its
	// own (e.g. Bybit's {"op":"ping"} text frame every 20s).
	KeepAlive() (interval time.Duration, message []byte, messageType int)
}

// Config controls reconnect behavior and volume refresh cadence.
type Config struct {
	ReconnectPolicy backoff.Policy
	VolumeRefresh   time.Duration
}

// DefaultConfig returns the standard reconnect/refresh defaults: base=1s,
// cap=60s backoff, volume refreshed once a minute.
func DefaultConfig() Config {
	return Config{
		ReconnectPolicy: backoff.Default(),
		VolumeRefresh:   time.Minute,
	}
}

// Feed is the read side every downstream stage consumes: an immutable
// snapshot of the latest price observed per symbol.
type Feed interface {
	Snapshot() map[types.Symbol]types.PriceSample
	Run(ctx context.Context) error
}

// streamingFeed drives one venue's websocket connection, falling back to
// REST polling for 24h volume (most venues don't push volume on every
// trade tick).
type streamingFeed struct {
	adapter Adapter
	gateway venue.Gateway
	cfg     Config
	log     *log.Logger

	snapshot atomic.Value // map[types.Symbol]types.PriceSample
}

// New builds a Feed for one venue. gateway is used only for REST symbol
// discovery and periodic volume refresh; all price ticks come from the
// websocket adapter.
func New(adapter Adapter, gateway venue.Gateway, cfg Config, logger *log.Logger) Feed {
	f := &streamingFeed{adapter: adapter, gateway: gateway, cfg: cfg, log: logger}
	f.snapshot.Store(map[types.Symbol]types.PriceSample{})
	return f
}

func (f *streamingFeed) Snapshot() map[types.Symbol]types.PriceSample {
	return f.snapshot.Load().(map[types.Symbol]types.PriceSample)
}

// set performs a copy-on-write update: readers never see a partially
// written map, and never need a lock.
func (f *streamingFeed) set(symbol types.Symbol, sample types.PriceSample) {
	old := f.Snapshot()
	next := make(map[types.Symbol]types.PriceSample, len(old)+1)
	for k, v := range old {
		next[k] = v
	}
	next[symbol] = sample
	f.snapshot.Store(next)
}

// Run discovers tradable symbols, then drives the websocket connection with
// exponential-backoff reconnect until ctx is cancelled, using a client-side
// ping/pong Dialer loop.
func (f *streamingFeed) Run(ctx context.Context) error {
	symbols, err := f.discoverSymbols(ctx)
	if err != nil {
		return fmt.Errorf("%s: discover symbols: %w", f.adapter.Name(), err)
	}
	if len(symbols) == 0 {
		return fmt.Errorf("%s: no tradable symbols found", f.adapter.Name())
	}

	go f.refreshVolumesLoop(ctx, symbols)

	counter := backoff.NewCounter(f.cfg.ReconnectPolicy)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		err := f.runOnce(ctx, symbols, counter)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			f.log.Printf("feed[%s]: connection error: %v", f.adapter.Name(), err)
		}
		wait, exhausted := counter.Next()
		if exhausted {
			return fmt.Errorf("%s: reconnect attempts exhausted", f.adapter.Name())
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

func (f *streamingFeed) discoverSymbols(ctx context.Context) ([]types.Symbol, error) {
	metas, err := f.gateway.FetchSymbols(ctx)
	if err != nil {
		return nil, err
	}
	symbols := make([]types.Symbol, 0, len(metas))
	for _, m := range metas {
		symbols = append(symbols, m.Symbol)
	}
	return symbols, nil
}

func (f *streamingFeed) refreshVolumesLoop(ctx context.Context, symbols []types.Symbol) {
	ticker := time.NewTicker(f.cfg.VolumeRefresh)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		volumes, err := f.gateway.FetchVolumes24h(ctx)
		if err != nil {
			f.log.Printf("feed[%s]: volume refresh: %v", f.adapter.Name(), err)
			continue
		}
		for symbol, vol := range volumes {
			old := f.Snapshot()
			sample, ok := old[symbol]
			if !ok {
				continue
			}
			sample.Volume24hUSD = vol
			f.set(symbol, sample)
		}
	}
}

// runOnce dials once and drives the read loop until the connection drops or
// ctx is cancelled, resetting counter on the first valid message (matching
// the "attempt counter resets on any successful message" rule).
func (f *streamingFeed) runOnce(ctx context.Context, symbols []types.Symbol, counter *backoff.Counter) error {
	url := f.adapter.DialURL(symbols)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	for _, msg := range f.adapter.SubscribeMessages(symbols) {
		if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return fmt.Errorf("subscribe: %w", err)
		}
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	conn.SetPongHandler(func(string) error { return nil })

	if interval, message, messageType := f.adapter.KeepAlive(); interval > 0 {
		pingTicker := time.NewTicker(interval)
		defer pingTicker.Stop()
		go func() {
			for {
				select {
				case <-done:
					return
				case <-pingTicker.C:
					conn.WriteMessage(messageType, message)
				}
			}
		}()
	}

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		updates, ok := f.adapter.ParsePriceUpdate(msg)
		if !ok {
			continue
		}
		counter.Reset()
		for symbol, sample := range updates {
			if !sample.Valid() {
				continue
			}
			f.set(symbol, sample)
		}
	}
}
