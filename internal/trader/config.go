package trader

import (
	"time"

	"github.com/shopspring/decimal"
)

// Config holds every tunable the state machine reads, generalized from the
// original's config.ini [TRADER]/[TRADING] sections.
type Config struct {
	TargetUSDT decimal.Decimal

	MaxEnterOrderTime      time.Duration
	MaxTakerEnterOrderTime time.Duration
	EnterPollInterval      time.Duration

	EnterBuyPriceMargin  float64 // e.g. 1.001
	EnterSellPriceMargin float64 // e.g. 0.999
	BuyTakerPriceMargin  float64
	SellTakerPriceMargin float64

	UsdtRequiredMultiplier float64 // balance must be >= target_usdt * this

	StopLossPercent     float64
	TakeProfitPercent   float64
	MaxExitDequeLen      int
	MaxExitMonitorTime   time.Duration
	ExitMonitorInterval  time.Duration

	Leverage int

	// FeeBps is the taker fee, in basis points of notional, charged on each
	// fill. Applied to both entry and exit on both legs when computing
	// realized PnL.
	FeeBps float64
}

// DefaultConfig returns sane defaults matching the original's config.ini.
func DefaultConfig() Config {
	return Config{
		TargetUSDT:             decimal.NewFromInt(100),
		MaxEnterOrderTime:      30 * time.Second,
		MaxTakerEnterOrderTime: 10 * time.Second,
		EnterPollInterval:      500 * time.Millisecond,
		EnterBuyPriceMargin:    1.001,
		EnterSellPriceMargin:   0.999,
		BuyTakerPriceMargin:    1.003,
		SellTakerPriceMargin:   0.997,
		UsdtRequiredMultiplier: 1.2,
		StopLossPercent:        0.5,
		TakeProfitPercent:      0.3,
		MaxExitDequeLen:        3,
		MaxExitMonitorTime:     10 * time.Minute,
		ExitMonitorInterval:    time.Second,
		Leverage:               1,
		FeeBps:                 4.5,
	}
}
