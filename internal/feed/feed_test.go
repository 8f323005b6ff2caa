package feed

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ndrandal/arb-controller/internal/backoff"
	"github.com/ndrandal/arb-controller/internal/types"
)

// fakeGateway supplies symbol discovery and volume refresh only; no order
// methods are exercised by the feed package.
type fakeGateway struct {
	symbols []types.SymbolMeta
	volumes map[types.Symbol]decimal.Decimal
}

func (g *fakeGateway) Name() string { return "fake" }
func (g *fakeGateway) FetchSymbols(ctx context.Context) ([]types.SymbolMeta, error) {
	return g.symbols, nil
}
func (g *fakeGateway) FetchTickers(ctx context.Context) (map[types.Symbol]types.Ticker, error) {
	return nil, nil
}
func (g *fakeGateway) FetchVolumes24h(ctx context.Context) (map[types.Symbol]decimal.Decimal, error) {
	return g.volumes, nil
}
func (g *fakeGateway) CreateLimitOrder(ctx context.Context, symbol types.Symbol, side types.Side, qty, price decimal.Decimal) (*types.Order, error) {
	return nil, errors.New("not implemented")
}
func (g *fakeGateway) CreateMarketOrder(ctx context.Context, symbol types.Symbol, side types.Side, qty decimal.Decimal) (*types.Order, error) {
	return nil, errors.New("not implemented")
}
func (g *fakeGateway) FetchOrder(ctx context.Context, id string, symbol types.Symbol) (*types.Order, error) {
	return nil, errors.New("not implemented")
}
func (g *fakeGateway) CancelOrder(ctx context.Context, id string, symbol types.Symbol) (*types.Order, error) {
	return nil, errors.New("not implemented")
}
func (g *fakeGateway) SetLeverage(ctx context.Context, symbol types.Symbol, x int) error { return nil }
func (g *fakeGateway) SetIsolatedMargin(ctx context.Context, symbol types.Symbol) error  { return nil }
func (g *fakeGateway) FetchBalance(ctx context.Context, asset string) (decimal.Decimal, error) {
	return decimal.Zero, nil
}

func TestStreamingFeedSnapshotIsCopyOnWrite(t *testing.T) {
	f := New(NewBinanceAdapter(), &fakeGateway{}, DefaultConfig(), log.New(io.Discard, "", 0)).(*streamingFeed)

	first := f.Snapshot()
	if len(first) != 0 {
		t.Fatalf("expected empty initial snapshot, got %d entries", len(first))
	}

	f.set("BTCUSDT", types.PriceSample{LastPrice: decimal.NewFromInt(100), ObservedAt: time.Now()})

	if len(first) != 0 {
		t.Fatalf("earlier snapshot reference was mutated, copy-on-write violated")
	}
	second := f.Snapshot()
	if len(second) != 1 {
		t.Fatalf("expected 1 entry after set, got %d", len(second))
	}
	if _, ok := second["BTCUSDT"]; !ok {
		t.Fatalf("expected BTCUSDT in snapshot")
	}

	f.set("ETHUSDT", types.PriceSample{LastPrice: decimal.NewFromInt(2000), ObservedAt: time.Now()})
	if len(second) != 1 {
		t.Fatalf("prior snapshot mutated by later set")
	}
	third := f.Snapshot()
	if len(third) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(third))
	}
}

func TestRunReturnsErrorWhenNoSymbolsDiscovered(t *testing.T) {
	f := New(NewBinanceAdapter(), &fakeGateway{symbols: nil}, DefaultConfig(), log.New(io.Discard, "", 0))
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := f.Run(ctx); err == nil {
		t.Fatalf("expected error when no symbols discovered")
	}
}

// dialFailAdapter always produces a dial URL that no listener answers,
// forcing runOnce to fail immediately so the reconnect loop's exhaustion
// path is exercised without a real network dependency.
type dialFailAdapter struct {
	mu    sync.Mutex
	calls int
}

func (a *dialFailAdapter) Name() string { return "dialfail" }
func (a *dialFailAdapter) DialURL(symbols []types.Symbol) string {
	a.mu.Lock()
	a.calls++
	a.mu.Unlock()
	return "ws://127.0.0.1:1/no-listener"
}
func (a *dialFailAdapter) SubscribeMessages(symbols []types.Symbol) [][]byte { return nil }
func (a *dialFailAdapter) ParsePriceUpdate(msg []byte) (map[types.Symbol]types.PriceSample, bool) {
	return nil, false
}
func (a *dialFailAdapter) KeepAlive() (time.Duration, []byte, int) { return 0, nil, 0 }

func TestRunReturnsErrorWhenReconnectAttemptsExhausted(t *testing.T) {
	adapter := &dialFailAdapter{}
	gw := &fakeGateway{symbols: []types.SymbolMeta{{Symbol: "BTCUSDT", Venue: types.VenueA}}}
	cfg := Config{
		ReconnectPolicy: backoff.Policy{Base: time.Millisecond, Cap: 10 * time.Millisecond, MaxAttempts: 2},
		VolumeRefresh:   time.Hour,
	}
	f := New(adapter, gw, cfg, log.New(io.Discard, "", 0))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := f.Run(ctx)
	if err == nil {
		t.Fatalf("expected error once reconnect attempts exhausted")
	}
}
