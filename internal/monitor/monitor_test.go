package monitor

import (
	"log"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ndrandal/arb-controller/internal/aggregator"
	"github.com/ndrandal/arb-controller/internal/types"
)

func decFromFloat(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

type fakeBuffers struct {
	bufs map[types.Symbol]*aggregator.Buffer
}

func (f fakeBuffers) Buffers() map[types.Symbol]*aggregator.Buffer { return f.bufs }

type fakeAdmitter struct {
	admitted []types.Symbol
	accept   bool
}

func (f *fakeAdmitter) TryAdmit(symbol types.Symbol, direction bool) bool {
	f.admitted = append(f.admitted, symbol)
	return f.accept
}

func fill(buf *aggregator.Buffer, n int, sign types.Sign, volB float64) {
	for i := 0; i < n; i++ {
		buf.Append(types.SpreadSample{
			Timestamp: time.Now(),
			VolumeB:   decFromFloat(volB),
			Sign:      sign,
			SpreadPct: 1.0,
		})
	}
}

func TestTickQualifiesConsecutiveSameSignOnly(t *testing.T) {
	btc := aggregator.NewBuffer(10)
	fill(btc, 3, types.SignPositive, 2_000_000)

	eth := aggregator.NewBuffer(10)
	eth.Append(types.SpreadSample{Timestamp: time.Now(), VolumeB: decFromFloat(2_000_000), Sign: types.SignPositive})
	eth.Append(types.SpreadSample{Timestamp: time.Now(), VolumeB: decFromFloat(2_000_000), Sign: types.SignNegative})
	eth.Append(types.SpreadSample{Timestamp: time.Now(), VolumeB: decFromFloat(2_000_000), Sign: types.SignPositive})

	admitter := &fakeAdmitter{accept: true}
	m := New(Config{
		Interval: time.Second, MinVolumeUSDT: 1_000_000, TopVolumeNum: 10,
		ConsecutiveCount: 3, TopSymbols: 10,
	}, fakeBuffers{bufs: map[types.Symbol]*aggregator.Buffer{"BTCUSDT": btc, "ETHUSDT": eth}}, admitter, log.Default())

	m.Tick()

	if len(admitter.admitted) != 1 || admitter.admitted[0] != types.Symbol("BTCUSDT") {
		t.Fatalf("expected only BTCUSDT admitted, got %v", admitter.admitted)
	}
}

func TestTickFiltersLowVolume(t *testing.T) {
	buf := aggregator.NewBuffer(10)
	fill(buf, 3, types.SignPositive, 100)

	admitter := &fakeAdmitter{accept: true}
	m := New(Config{
		Interval: time.Second, MinVolumeUSDT: 1_000_000, TopVolumeNum: 10,
		ConsecutiveCount: 3, TopSymbols: 10,
	}, fakeBuffers{bufs: map[types.Symbol]*aggregator.Buffer{"BTCUSDT": buf}}, admitter, log.Default())

	m.Tick()

	if len(admitter.admitted) != 0 {
		t.Fatalf("expected no admissions below min volume, got %v", admitter.admitted)
	}
}

func TestTickCapsTopSymbols(t *testing.T) {
	bufs := map[types.Symbol]*aggregator.Buffer{}
	for _, sym := range []types.Symbol{"A", "B", "C"} {
		b := aggregator.NewBuffer(10)
		fill(b, 3, types.SignPositive, 2_000_000)
		bufs[sym] = b
	}

	admitter := &fakeAdmitter{accept: true}
	m := New(Config{
		Interval: time.Second, MinVolumeUSDT: 1_000_000, TopVolumeNum: 10,
		ConsecutiveCount: 3, TopSymbols: 1,
	}, fakeBuffers{bufs: bufs}, admitter, log.Default())

	m.Tick()

	if len(admitter.admitted) != 1 {
		t.Fatalf("expected exactly 1 admission capped by TopSymbols, got %d", len(admitter.admitted))
	}
}

func TestTickRecoversFromPanicInAdmitter(t *testing.T) {
	buf := aggregator.NewBuffer(10)
	fill(buf, 3, types.SignPositive, 2_000_000)

	m := New(Config{
		Interval: time.Second, MinVolumeUSDT: 1_000_000, TopVolumeNum: 10,
		ConsecutiveCount: 3, TopSymbols: 10,
	}, fakeBuffers{bufs: map[types.Symbol]*aggregator.Buffer{"BTCUSDT": buf}}, panicAdmitter{}, log.Default())

	m.Tick() // must not panic out of the test
}

type panicAdmitter struct{}

func (panicAdmitter) TryAdmit(symbol types.Symbol, direction bool) bool {
	panic("boom")
}
