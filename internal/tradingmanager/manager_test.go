package tradingmanager

import (
	"context"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/ndrandal/arb-controller/internal/types"
)

type blockingTrader struct {
	started chan struct{}
	release chan struct{}
}

func (t *blockingTrader) Run(ctx context.Context) error {
	close(t.started)
	select {
	case <-t.release:
	case <-ctx.Done():
	}
	return nil
}

func TestTryAdmitRejectsAtCapacity(t *testing.T) {
	ctx := context.Background()
	var mu sync.Mutex
	traders := map[types.Symbol]*blockingTrader{}

	m := New(ctx, 1, func(symbol types.Symbol, direction bool) Trader {
		mu.Lock()
		defer mu.Unlock()
		tr := &blockingTrader{started: make(chan struct{}), release: make(chan struct{})}
		traders[symbol] = tr
		return tr
	}, log.Default())

	if !m.TryAdmit("BTCUSDT", true) {
		t.Fatal("expected first admit to succeed")
	}
	mu.Lock()
	btc := traders["BTCUSDT"]
	mu.Unlock()
	<-btc.started

	if m.TryAdmit("ETHUSDT", false) {
		t.Fatal("expected second admit to be rejected at capacity")
	}
	if !m.Full() {
		t.Fatal("expected manager to report full")
	}

	close(btc.release)
	m.Shutdown()
}

func TestTryAdmitRejectsDuplicateSymbol(t *testing.T) {
	ctx := context.Background()
	tr := &blockingTrader{started: make(chan struct{}), release: make(chan struct{})}
	m := New(ctx, 5, func(symbol types.Symbol, direction bool) Trader { return tr }, log.Default())

	if !m.TryAdmit("BTCUSDT", true) {
		t.Fatal("expected first admit to succeed")
	}
	<-tr.started
	if m.TryAdmit("BTCUSDT", true) {
		t.Fatal("expected duplicate symbol admit to be rejected")
	}

	close(tr.release)
	m.Shutdown()
}

func TestSlotReclaimedOnCompletion(t *testing.T) {
	ctx := context.Background()
	tr := &blockingTrader{started: make(chan struct{}), release: make(chan struct{})}
	m := New(ctx, 1, func(symbol types.Symbol, direction bool) Trader { return tr }, log.Default())

	m.TryAdmit("BTCUSDT", true)
	<-tr.started
	close(tr.release)

	deadline := time.After(time.Second)
	for m.ActiveCount() != 0 {
		select {
		case <-deadline:
			t.Fatal("slot was never reclaimed after trader completed")
		case <-time.After(time.Millisecond):
		}
	}

	if !m.TryAdmit("ETHUSDT", false) {
		t.Fatal("expected admit to succeed after slot reclaimed")
	}
	m.Shutdown()
}

type panickingTrader struct {
	started chan struct{}
}

func (t *panickingTrader) Run(ctx context.Context) error {
	close(t.started)
	panic("boom")
}

func TestPanicInTraderIsRecoveredAndSlotReclaimed(t *testing.T) {
	ctx := context.Background()
	tr := &panickingTrader{started: make(chan struct{})}
	m := New(ctx, 1, func(symbol types.Symbol, direction bool) Trader { return tr }, log.Default())

	if !m.TryAdmit("BTCUSDT", true) {
		t.Fatal("expected admit to succeed")
	}
	<-tr.started

	deadline := time.After(time.Second)
	for m.ActiveCount() != 0 {
		select {
		case <-deadline:
			t.Fatal("slot was never reclaimed after trader panicked")
		case <-time.After(time.Millisecond):
		}
	}

	if !m.TryAdmit("ETHUSDT", false) {
		t.Fatal("expected manager to still accept new admits after a trader panic")
	}
	m.Shutdown()
}

func TestShutdownCancelsActiveTraders(t *testing.T) {
	ctx := context.Background()
	tr := &blockingTrader{started: make(chan struct{}), release: make(chan struct{})}
	m := New(ctx, 1, func(symbol types.Symbol, direction bool) Trader { return tr }, log.Default())

	m.TryAdmit("BTCUSDT", true)
	<-tr.started

	done := make(chan struct{})
	go func() {
		m.Shutdown()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Shutdown did not return after cancelling active traders")
	}
}
