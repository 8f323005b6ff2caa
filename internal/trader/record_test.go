package trader

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ndrandal/arb-controller/internal/types"
)

func legWithFill(venueID types.Venue, side types.Side, qty, price decimal.Decimal) *leg {
	l := &leg{VenueID: venueID, Side: side, Meta: testMeta(), RequestedQty: qty, ReferencePrice: price}
	l.appendFill(qty, price)
	return l
}

func TestBuildTradeRecordComputesSpreadAndPnL(t *testing.T) {
	long := legWithFill(types.VenueA, types.SideBuy, decimal.NewFromInt(10), decimal.NewFromInt(100))
	short := legWithFill(types.VenueB, types.SideSell, decimal.NewFromInt(10), decimal.NewFromInt(101))

	exitLong := legWithFill(types.VenueA, types.SideSell, decimal.NewFromInt(10), decimal.NewFromInt(102))
	exitShort := legWithFill(types.VenueB, types.SideBuy, decimal.NewFromInt(10), decimal.NewFromInt(100))

	cfg := DefaultConfig()
	cfg.FeeBps = 0

	entered := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	exited := entered.Add(5 * time.Minute)

	rec := buildTradeRecord("BTCUSDT", long, short, 0.6, entered, exitLong, exitShort, types.ExitTakeProfit, exited, cfg)

	if rec.Symbol != "BTCUSDT" {
		t.Fatalf("symbol = %s", rec.Symbol)
	}
	if rec.LongVenue != types.VenueA || rec.ShortVenue != types.VenueB {
		t.Fatalf("venues = %s/%s", rec.LongVenue, rec.ShortVenue)
	}

	// entry spread: (100-101)/100*100 = -1
	if !floatClose(rec.EntrySpreadPct, -1.0) {
		t.Fatalf("entry spread = %v, want -1.0", rec.EntrySpreadPct)
	}
	// exit spread: (102-100)/100*100 = 2
	if !floatClose(rec.ExitSpreadPct, 2.0) {
		t.Fatalf("exit spread = %v, want 2.0", rec.ExitSpreadPct)
	}

	// long: bought at 100, sold at 102, qty 10 -> +20
	if !rec.LongPnL.Equal(decimal.NewFromInt(20)) {
		t.Fatalf("long pnl = %s, want 20", rec.LongPnL)
	}
	// short: sold at 101, bought back at 100, qty 10 -> +10
	if !rec.ShortPnL.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("short pnl = %s, want 10", rec.ShortPnL)
	}
	if !rec.NetPnL.Equal(decimal.NewFromInt(30)) {
		t.Fatalf("net pnl = %s, want 30", rec.NetPnL)
	}
	if rec.ExitType != types.ExitTakeProfit {
		t.Fatalf("exit type = %s", rec.ExitType)
	}
}

func TestBuildTradeRecordDeductsFees(t *testing.T) {
	long := legWithFill(types.VenueA, types.SideBuy, decimal.NewFromInt(10), decimal.NewFromInt(100))
	short := legWithFill(types.VenueB, types.SideSell, decimal.NewFromInt(10), decimal.NewFromInt(100))
	exitLong := legWithFill(types.VenueA, types.SideSell, decimal.NewFromInt(10), decimal.NewFromInt(100))
	exitShort := legWithFill(types.VenueB, types.SideBuy, decimal.NewFromInt(10), decimal.NewFromInt(100))

	cfg := DefaultConfig()
	cfg.FeeBps = 10 // 0.1% per fill

	rec := buildTradeRecord("ETHUSDT", long, short, 0, time.Now().Add(-time.Minute), exitLong, exitShort, types.ExitTimeOut, time.Now(), cfg)

	// zero price movement, but fees still deducted on both entry+exit: 2 * (10*100*0.001) = 2 per leg
	if !rec.LongPnL.Equal(decimal.NewFromInt(-2)) {
		t.Fatalf("long pnl = %s, want -2 (fee drag)", rec.LongPnL)
	}
	if !rec.ShortPnL.Equal(decimal.NewFromInt(-2)) {
		t.Fatalf("short pnl = %s, want -2 (fee drag)", rec.ShortPnL)
	}
}

func floatClose(a, b float64) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d < 1e-9
}
