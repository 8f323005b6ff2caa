package trader

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ndrandal/arb-controller/internal/types"
	"github.com/ndrandal/arb-controller/internal/venue"
)

// SpreadSource is the read side of the aggregator a trader samples for the
// signal that admitted it and for every exit-monitor tick.
type SpreadSource interface {
	LatestSpread(symbol types.Symbol) (types.SpreadSample, bool)
}

// State is one step of the trader's lifecycle. Step returns the next state,
// or a nil state to signal a terminal transition (the driver loop stops).
type State interface {
	Step(ctx context.Context, t *Trader) (State, error)
}

// Trader drives one symbol's paired position from admission to close. It
// satisfies tradingmanager.Trader so the manager can run it as a bounded
// background task.
type Trader struct {
	Symbol    types.Symbol
	Direction bool // true: venue A richer at signal time -> short A / long B
	GatewayA  venue.Gateway
	GatewayB  venue.Gateway
	Spread    SpreadSource
	Config    Config
	Recorder  TradeRecorder
	Log       *log.Logger

	metaA, metaB types.SymbolMeta

	long, short *leg

	signalSpreadPct   float64
	enteredAt         time.Time
	entrySpreadSigned float64

	exitType            types.ExitType
	exitLong, exitShort *leg
}

// New builds a Trader ready to run from INIT.
func New(symbol types.Symbol, direction bool, gwA, gwB venue.Gateway, spread SpreadSource, cfg Config, recorder TradeRecorder, logger *log.Logger) *Trader {
	return &Trader{
		Symbol:    symbol,
		Direction: direction,
		GatewayA:  gwA,
		GatewayB:  gwB,
		Spread:    spread,
		Config:    cfg,
		Recorder:  recorder,
		Log:       logger,
	}
}

// Run drives the state machine until a terminal state, context cancellation,
// or an unrecoverable error. Run does not recover panics itself; the trading
// manager's runTrader does, and frees the slot either way.
func (t *Trader) Run(ctx context.Context) error {
	var state State = initState{}
	for state != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		next, err := state.Step(ctx, t)
		if err != nil {
			t.logf("aborting: %v", err)
			return err
		}
		state = next
	}
	return nil
}

func (t *Trader) logf(format string, args ...interface{}) {
	if t.Log == nil {
		return
	}
	t.Log.Printf("trader[%s]: %s", t.Symbol, fmt.Sprintf(format, args...))
}

// initState loads market metadata for both legs and configures isolated
// margin + 1x leverage, matching base_trader.py's initialize/safe_set_margin_mode/safe_set_leverage.
type initState struct{}

func (initState) Step(ctx context.Context, t *Trader) (State, error) {
	metaA, err := findSymbolMeta(ctx, t.GatewayA, t.Symbol)
	if err != nil {
		return nil, fmt.Errorf("venue A metadata: %w", err)
	}
	metaB, err := findSymbolMeta(ctx, t.GatewayB, t.Symbol)
	if err != nil {
		return nil, fmt.Errorf("venue B metadata: %w", err)
	}
	t.metaA, t.metaB = metaA, metaB

	if err := t.GatewayA.SetIsolatedMargin(ctx, t.Symbol); err != nil {
		t.logf("set isolated margin on A: %v", err)
	}
	if err := t.GatewayB.SetIsolatedMargin(ctx, t.Symbol); err != nil {
		t.logf("set isolated margin on B: %v", err)
	}
	if err := t.GatewayA.SetLeverage(ctx, t.Symbol, t.Config.Leverage); err != nil {
		t.logf("set leverage on A: %v", err)
	}
	if err := t.GatewayB.SetLeverage(ctx, t.Symbol, t.Config.Leverage); err != nil {
		t.logf("set leverage on B: %v", err)
	}

	return enterOrderState{}, nil
}

func findSymbolMeta(ctx context.Context, gw venue.Gateway, symbol types.Symbol) (types.SymbolMeta, error) {
	metas, err := gw.FetchSymbols(ctx)
	if err != nil {
		return types.SymbolMeta{}, err
	}
	for _, m := range metas {
		if m.Symbol == symbol {
			return m, nil
		}
	}
	return types.SymbolMeta{}, fmt.Errorf("symbol %s not found", symbol)
}

// enterOrderState re-validates the signal, sizes both legs, and places the
// paired entry limit orders. Grounded on taker_taker_trader.py's enter_order.
type enterOrderState struct{}

func (enterOrderState) Step(ctx context.Context, t *Trader) (State, error) {
	sample, ok := t.Spread.LatestSpread(t.Symbol)
	if !ok {
		t.exitType = types.ExitNoFill
		return endState{}, nil
	}
	t.signalSpreadPct = sample.SpreadPct

	stillValid := (t.Direction && sample.Sign == types.SignPositive) || (!t.Direction && sample.Sign == types.SignNegative)
	if !stillValid {
		t.exitType = types.ExitNoFill
		return endState{}, nil
	}

	priceA, priceB := sample.PriceA, sample.PriceB

	// direction=true: A richer -> short A, long B. direction=false: long A, short B.
	var longGW, shortGW venue.Gateway
	var longMeta, shortMeta types.SymbolMeta
	var longPrice, shortPrice decimal.Decimal
	var longVenue, shortVenue types.Venue
	if t.Direction {
		longGW, shortGW = t.GatewayB, t.GatewayA
		longMeta, shortMeta = t.metaB, t.metaA
		longPrice, shortPrice = priceB, priceA
		longVenue, shortVenue = types.VenueB, types.VenueA
	} else {
		longGW, shortGW = t.GatewayA, t.GatewayB
		longMeta, shortMeta = t.metaA, t.metaB
		longPrice, shortPrice = priceA, priceB
		longVenue, shortVenue = types.VenueA, types.VenueB
	}

	longQty := qtyForFixedUSDT(longMeta, longPrice, t.Config.TargetUSDT)
	shortQty := qtyForFixedUSDT(shortMeta, shortPrice, t.Config.TargetUSDT)
	if quantityMismatchTooLarge(longQty, shortQty, longPrice, shortPrice) {
		return nil, fmt.Errorf("%w for %s", types.ErrQuantityMismatch, t.Symbol)
	}

	required := t.Config.TargetUSDT.Mul(decimal.NewFromFloat(t.Config.UsdtRequiredMultiplier))
	longBalance, err := longGW.FetchBalance(ctx, "USDT")
	if err != nil {
		return nil, fmt.Errorf("fetch long balance: %w", err)
	}
	shortBalance, err := shortGW.FetchBalance(ctx, "USDT")
	if err != nil {
		return nil, fmt.Errorf("fetch short balance: %w", err)
	}
	if longBalance.LessThan(required) || shortBalance.LessThan(required) {
		return nil, fmt.Errorf("%w for %s", types.ErrInsufficientBalance, t.Symbol)
	}

	longLimitPrice := venue.SnapPrice(longPrice.Mul(decimal.NewFromFloat(t.Config.EnterBuyPriceMargin)), longMeta.TickSize)
	shortLimitPrice := venue.SnapPrice(shortPrice.Mul(decimal.NewFromFloat(t.Config.EnterSellPriceMargin)), shortMeta.TickSize)

	longOrder, err := longGW.CreateLimitOrder(ctx, t.Symbol, types.SideBuy, longQty, longLimitPrice)
	if err != nil {
		return nil, fmt.Errorf("place long entry order: %w", err)
	}
	shortOrder, err := shortGW.CreateLimitOrder(ctx, t.Symbol, types.SideSell, shortQty, shortLimitPrice)
	if err != nil {
		return nil, fmt.Errorf("place short entry order: %w", err)
	}

	t.long = &leg{Gateway: longGW, VenueID: longVenue, Symbol: t.Symbol, Side: types.SideBuy, Meta: longMeta, RequestedQty: longQty, ReferencePrice: longPrice, OrderID: longOrder.ID}
	t.short = &leg{Gateway: shortGW, VenueID: shortVenue, Symbol: t.Symbol, Side: types.SideSell, Meta: shortMeta, RequestedQty: shortQty, ReferencePrice: shortPrice, OrderID: shortOrder.ID}

	return enterMonitorState{}, nil
}

// enterMonitorState polls both entry orders until both are filled or the
// enter window elapses, then reconciles any shortfall.
type enterMonitorState struct{}

func (enterMonitorState) Step(ctx context.Context, t *Trader) (State, error) {
	deadline := time.Now().Add(t.Config.MaxEnterOrderTime)
	var longOrder, shortOrder *types.Order

	for {
		var err error
		longOrder, err = t.long.Gateway.FetchOrder(ctx, t.long.OrderID, t.Symbol)
		if err != nil {
			t.logf("poll long entry order: %v", err)
		}
		shortOrder, err = t.short.Gateway.FetchOrder(ctx, t.short.OrderID, t.Symbol)
		if err != nil {
			t.logf("poll short entry order: %v", err)
		}

		bothFilled := longOrder != nil && shortOrder != nil &&
			longOrder.Status == types.OrderFilled && shortOrder.Status == types.OrderFilled
		if bothFilled || time.Now().After(deadline) {
			break
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(t.Config.EnterPollInterval):
		}
	}

	// Cancel whatever remains open (no-op on already-terminal orders) and
	// append whatever the venue ultimately reports as filled.
	finalLong, err := safeCancel(ctx, t.long.Gateway, t.long.OrderID, t.Symbol)
	if err != nil {
		t.logf("cancel long entry order: %v", err)
		finalLong = longOrder
	}
	finalShort, err := safeCancel(ctx, t.short.Gateway, t.short.OrderID, t.Symbol)
	if err != nil {
		t.logf("cancel short entry order: %v", err)
		finalShort = shortOrder
	}
	if finalLong != nil {
		t.long.appendFill(finalLong.FilledQty, finalLong.AvgFillPrice)
	}
	if finalShort != nil {
		t.short.appendFill(finalShort.FilledQty, finalShort.AvgFillPrice)
	}

	if !closeEnough(t.long.filledQty(), t.long.RequestedQty, t.long.minQty()) ||
		!closeEnough(t.short.filledQty(), t.short.RequestedQty, t.short.minQty()) {
		if err := reconcileEnter(ctx, t.long, t.short, t.Config); err != nil {
			t.exitType = types.ExitNoFill
			t.logf("reconciliation: %v", err)
			return endState{}, nil
		}
	}

	if !t.long.filledQty().IsPositive() || !t.short.filledQty().IsPositive() {
		t.exitType = types.ExitNoFill
		return endState{}, nil
	}

	t.entrySpreadSigned = realizedSpread(t.long, t.short, t.long.avgPrice(), t.short.avgPrice())
	t.enteredAt = time.Now()
	return exitMonitorState{}, nil
}

// closeEnough reports whether filled is within one min-qty of requested.
func closeEnough(filled, requested, minQty decimal.Decimal) bool {
	return requested.Sub(filled).LessThanOrEqual(minQty)
}

// exitMonitorState samples the live spread and debounces stop-loss/
// take-profit over a sliding window of observations, grounded on
// taker_taker_trader.py's exit_monitor.
type exitMonitorState struct{}

func (exitMonitorState) Step(ctx context.Context, t *Trader) (State, error) {
	stopLossDeque := newConditionDeque(t.Config.MaxExitDequeLen)
	takeProfitDeque := newConditionDeque(t.Config.MaxExitDequeLen)
	deadline := time.Now().Add(t.Config.MaxExitMonitorTime)

	for {
		sample, ok := t.Spread.LatestSpread(t.Symbol)
		if ok {
			wrong, slNow, tpNow := evaluateExit(t.Direction, t.entrySpreadSigned, sample.SpreadPct, t.Config.StopLossPercent, t.Config.TakeProfitPercent)
			if wrong {
				t.exitType = types.ExitWrongEntry
				return exitOrderState{}, nil
			}
			stopLossDeque.Push(slNow)
			takeProfitDeque.Push(tpNow)
			if stopLossDeque.AllTrue() {
				t.exitType = types.ExitStopLoss
				return exitOrderState{}, nil
			}
			if takeProfitDeque.AllTrue() {
				t.exitType = types.ExitTakeProfit
				return exitOrderState{}, nil
			}
		}

		if time.Now().After(deadline) {
			t.exitType = types.ExitTimeOut
			return exitOrderState{}, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(t.Config.ExitMonitorInterval):
		}
	}
}

// exitOrderState places the paired closing limit orders: sell the long leg,
// buy back the short leg.
type exitOrderState struct{}

func (exitOrderState) Step(ctx context.Context, t *Trader) (State, error) {
	sample, ok := t.Spread.LatestSpread(t.Symbol)
	longPrice, shortPrice := t.long.ReferencePrice, t.short.ReferencePrice
	if ok {
		if t.long.VenueID == types.VenueA {
			longPrice, shortPrice = sample.PriceA, sample.PriceB
		} else {
			longPrice, shortPrice = sample.PriceB, sample.PriceA
		}
	}

	closeLongPrice := venue.SnapPrice(longPrice.Mul(decimal.NewFromFloat(t.Config.EnterSellPriceMargin)), t.long.Meta.TickSize)
	closeShortPrice := venue.SnapPrice(shortPrice.Mul(decimal.NewFromFloat(t.Config.EnterBuyPriceMargin)), t.short.Meta.TickSize)

	qty := t.long.filledQty()
	order, err := t.long.Gateway.CreateLimitOrder(ctx, t.Symbol, types.SideSell, qty, closeLongPrice)
	if err != nil {
		return nil, fmt.Errorf("place long exit order: %w", err)
	}
	t.exitLong = &leg{Gateway: t.long.Gateway, VenueID: t.long.VenueID, Symbol: t.Symbol, Side: types.SideSell, Meta: t.long.Meta, RequestedQty: qty, ReferencePrice: longPrice, OrderID: order.ID}

	qty = t.short.filledQty()
	order, err = t.short.Gateway.CreateLimitOrder(ctx, t.Symbol, types.SideBuy, qty, closeShortPrice)
	if err != nil {
		return nil, fmt.Errorf("place short exit order: %w", err)
	}
	t.exitShort = &leg{Gateway: t.short.Gateway, VenueID: t.short.VenueID, Symbol: t.Symbol, Side: types.SideBuy, Meta: t.short.Meta, RequestedQty: qty, ReferencePrice: shortPrice, OrderID: order.ID}

	return exitMonitorOrderState{}, nil
}

// exitMonitorOrderState waits for both closing orders to fill, falling back
// to a market order for any remainder, then records the trade.
type exitMonitorOrderState struct{}

func (exitMonitorOrderState) Step(ctx context.Context, t *Trader) (State, error) {
	if err := settleExitLeg(ctx, t.exitLong, t.Config); err != nil {
		t.logf("settle long exit leg: %v", err)
	}
	if err := settleExitLeg(ctx, t.exitShort, t.Config); err != nil {
		t.logf("settle short exit leg: %v", err)
	}

	rec := buildTradeRecord(t.Symbol, t.long, t.short, t.signalSpreadPct, t.enteredAt, t.exitLong, t.exitShort, t.exitType, time.Now(), t.Config)
	if t.Recorder != nil {
		if err := t.Recorder.RecordTrade(ctx, rec); err != nil {
			t.logf("record trade: %v", err)
		}
	}

	return endState{}, nil
}

// settleExitLeg waits for a closing order to fill, market-ordering any
// remainder, and appends whatever filled to the leg.
func settleExitLeg(ctx context.Context, l *leg, cfg Config) error {
	final, err := waitForOrder(ctx, l.Gateway, l.OrderID, l.Symbol, cfg.MaxTakerEnterOrderTime, 200*time.Millisecond)
	if err != nil {
		return err
	}
	filled := decimal.Zero
	if final != nil {
		filled = final.FilledQty
		l.appendFill(final.FilledQty, final.AvgFillPrice)
	}
	if final != nil && final.Status == types.OrderFilled {
		return nil
	}

	remainder := venue.RoundStep(l.RequestedQty.Sub(filled), l.Meta.QtyStep)
	if !remainder.IsPositive() {
		return nil
	}
	if _, err := safeCancel(ctx, l.Gateway, l.OrderID, l.Symbol); err != nil {
		return err
	}
	marketOrder, err := l.Gateway.CreateMarketOrder(ctx, l.Symbol, l.Side, remainder)
	if err != nil {
		return err
	}
	l.appendFill(marketOrder.FilledQty, marketOrder.AvgFillPrice)
	return nil
}

// endState is terminal: its Step returns a nil next-state, which stops Run.
type endState struct{}

func (endState) Step(ctx context.Context, t *Trader) (State, error) {
	return nil, nil
}
