package aggregator

import (
	"log"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ndrandal/arb-controller/internal/types"
)

type fakeFeed struct {
	snap map[types.Symbol]types.PriceSample
}

func (f fakeFeed) Snapshot() map[types.Symbol]types.PriceSample { return f.snap }

func dec(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

func TestSpreadSignBoundary(t *testing.T) {
	now := time.Now()
	pa := types.PriceSample{LastPrice: dec(100.5), ObservedAt: now}
	pb := types.PriceSample{LastPrice: dec(100), ObservedAt: now}

	s, ok := computeSpread(pa, pb, now, 0.5)
	if !ok {
		t.Fatal("expected valid sample")
	}
	if s.Sign != types.SignPositive {
		t.Fatalf("spread %.4f at exactly threshold should be SignPositive, got %v", s.SpreadPct, s.Sign)
	}
}

func TestSpreadJustBelowThresholdIsZero(t *testing.T) {
	now := time.Now()
	pa := types.PriceSample{LastPrice: dec(100.49), ObservedAt: now}
	pb := types.PriceSample{LastPrice: dec(100), ObservedAt: now}

	s, ok := computeSpread(pa, pb, now, 0.5)
	if !ok {
		t.Fatal("expected valid sample")
	}
	if s.Sign != types.SignZero {
		t.Fatalf("spread %.4f just under threshold should be SignZero, got %v", s.SpreadPct, s.Sign)
	}
}

func TestSanityFilterRejectsExtremeRatio(t *testing.T) {
	now := time.Now()
	pa := types.PriceSample{LastPrice: dec(1000), ObservedAt: now}
	pb := types.PriceSample{LastPrice: dec(50), ObservedAt: now} // 20x ratio
	if _, ok := computeSpread(pa, pb, now, 0.5); ok {
		t.Fatal("expected sanity filter to reject 20x price ratio")
	}
}

func TestSanityFilterRejectsOverCapSpread(t *testing.T) {
	now := time.Now()
	// avg price >= 1000 => cap 1%; use a ratio under 10x but spread over 1%
	pa := types.PriceSample{LastPrice: dec(1030), ObservedAt: now}
	pb := types.PriceSample{LastPrice: dec(1000), ObservedAt: now}
	if _, ok := computeSpread(pa, pb, now, 0.5); ok {
		t.Fatal("expected sanity filter to reject spread over price-band cap")
	}
}

func TestTickAppendsForCommonSymbolsOnly(t *testing.T) {
	now := time.Now()
	a := New(Config{Interval: time.Second, MaxHistory: 10, SpreadThreshold: 0.5}, fakeFeed{
		snap: map[types.Symbol]types.PriceSample{
			"BTCUSDT": {LastPrice: dec(101), Volume24hUSD: dec(1_000_000), ObservedAt: now},
			"ETHUSDT": {LastPrice: dec(10), Volume24hUSD: dec(500_000), ObservedAt: now},
		},
	}, fakeFeed{
		snap: map[types.Symbol]types.PriceSample{
			"BTCUSDT": {LastPrice: dec(100), Volume24hUSD: dec(900_000), ObservedAt: now},
			"SOLUSDT": {LastPrice: dec(20), Volume24hUSD: dec(200_000), ObservedAt: now},
		},
	}, log.Default())

	a.Tick()

	buffers := a.Buffers()
	if len(buffers) != 1 {
		t.Fatalf("expected exactly 1 buffer (common symbol only), got %d", len(buffers))
	}
	if _, ok := buffers["BTCUSDT"]; !ok {
		t.Fatal("expected BTCUSDT buffer")
	}
}

func TestTickEmptyFeedProducesNoSpreads(t *testing.T) {
	a := New(Config{Interval: time.Second, MaxHistory: 10, SpreadThreshold: 0.5},
		fakeFeed{snap: map[types.Symbol]types.PriceSample{}},
		fakeFeed{snap: map[types.Symbol]types.PriceSample{"BTCUSDT": {LastPrice: dec(100), ObservedAt: time.Now()}}},
		log.Default())

	a.Tick()
	if len(a.Buffers()) != 0 {
		t.Fatal("expected no buffers when one feed is empty")
	}
}

func TestBufferCapRespected(t *testing.T) {
	now := time.Now()
	a := New(Config{Interval: time.Second, MaxHistory: 3, SpreadThreshold: 0.5}, fakeFeed{
		snap: map[types.Symbol]types.PriceSample{"BTCUSDT": {LastPrice: dec(101), ObservedAt: now}},
	}, fakeFeed{
		snap: map[types.Symbol]types.PriceSample{"BTCUSDT": {LastPrice: dec(100), ObservedAt: now}},
	}, log.Default())

	for i := 0; i < 5; i++ {
		a.Tick()
	}
	buf := a.Buffers()["BTCUSDT"]
	if buf.Len() > 3 {
		t.Fatalf("buffer length %d exceeds max_history 3", buf.Len())
	}
}
