// Package config loads the controller's configuration surface from flags
// and environment variables, using flag.XxxVar backed by envStr/envInt
// helpers so every setting has a flag, an env var, and a default.
package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// VenueConfig is the per-venue subset of the configuration surface:
// {enabled, fetch_only, api_key, secret}. fetch_only disables order-entry on
// that venue, leaving it usable only for its read-only price feed.
type VenueConfig struct {
	Name      string
	Enabled   bool
	FetchOnly bool
	APIKey    string
	Secret    string
}

// Config holds the full controller configuration surface.
type Config struct {
	// Trading
	MaxPositions     int
	TargetUSDT       float64
	SpreadThreshold  float64
	SpreadHoldCount  int
	ExitPercent      float64
	StopLossPercent  float64
	DefaultOrderType string // "limit" or "market"

	// Cadences
	FetchInterval       time.Duration
	AggregationInterval time.Duration
	MonitoringInterval  time.Duration

	// Monitoring filters
	MinVolumeUSDT float64
	TopVolumeNum  int
	TopSymbols    int

	// Risk
	PositionTimeout time.Duration
	OrderTimeout    time.Duration

	// Output
	TradeLogPath string

	// Simulation replaces gateway order-entry with an in-memory filler that
	// instantly settles every order at its requested price.
	SimulationMode bool

	// Venues is keyed by upper-case venue name (e.g. "BINANCE", "BYBIT").
	Venues map[string]VenueConfig

	LogLevel string
}

// Load parses CLI flags and environment variables into a Config. An
// explicit flag always wins; absent a flag, the matching environment
// variable is used; absent both, the default applies.
func Load() (*Config, error) {
	c := &Config{Venues: map[string]VenueConfig{}}

	flag.String("config", "", "path to a config file (reserved for future use)")
	simulation := flag.Bool("simulation", envBool("SIMULATION_MODE", false), "run with an in-memory order filler instead of live venues")
	flag.Float64Var(&c.SpreadThreshold, "spread-threshold", envFloat("SPREAD_THRESHOLD", 0.5), "entry-qualification absolute spread percent")
	flag.IntVar(&c.MaxPositions, "max-positions", envInt("MAX_POSITIONS", 3), "upper bound on concurrent traders")
	fetchIntervalSec := flag.Int("fetch-interval", envInt("FETCH_INTERVAL_SECONDS", 5), "venue feed fetch / volume-refresh interval in seconds")
	flag.StringVar(&c.LogLevel, "log-level", envStr("LOG_LEVEL", "info"), "log verbosity: debug, info, warn, error")

	flag.Float64Var(&c.TargetUSDT, "target-usdt", envFloat("TARGET_USDT", 100), "per-leg notional in USDT")
	flag.IntVar(&c.SpreadHoldCount, "spread-hold-count", envInt("SPREAD_HOLD_COUNT", 3), "consecutive same-sign samples required to qualify")
	flag.Float64Var(&c.ExitPercent, "exit-percent", envFloat("EXIT_PERCENT", 0.3), "convergence delta triggering take-profit")
	flag.Float64Var(&c.StopLossPercent, "stop-loss-percent", envFloat("STOP_LOSS_PERCENT", 0.4), "divergence delta triggering stop-loss")
	flag.StringVar(&c.DefaultOrderType, "default-order-type", envStr("DEFAULT_ORDER_TYPE", "limit"), "limit or market")

	aggIntervalSec := flag.Int("aggregation-interval", envInt("AGGREGATION_INTERVAL_SECONDS", 1), "aggregator tick interval in seconds")
	monIntervalSec := flag.Int("monitoring-interval", envInt("MONITORING_INTERVAL_SECONDS", 5), "monitor tick interval in seconds")

	flag.Float64Var(&c.MinVolumeUSDT, "min-volume-usdt", envFloat("MIN_VOLUME_USDT", 1_000_000), "minimum 24h quote volume to be considered")
	flag.IntVar(&c.TopVolumeNum, "top-volume-num", envInt("TOP_VOLUME_NUM", 50), "number of highest-volume symbols retained before ranking")
	flag.IntVar(&c.TopSymbols, "top-symbols", envInt("TOP_SYMBOLS", 10), "number of candidate symbols proposed per monitor tick")

	positionTimeoutSec := flag.Int("position-timeout-seconds", envInt("RISK_POSITION_TIMEOUT_SECONDS", 3600), "max time a position may remain open")
	orderTimeoutSec := flag.Int("order-timeout-seconds", envInt("RISK_ORDER_TIMEOUT_SECONDS", 30), "max time an order may remain unfilled before escalation")

	flag.StringVar(&c.TradeLogPath, "trade-log", envStr("TRADE_LOG_PATH", "trades.ndjson"), "path to the append-only trade log")

	flag.Parse()

	c.SimulationMode = *simulation
	c.FetchInterval = time.Duration(*fetchIntervalSec) * time.Second
	c.AggregationInterval = time.Duration(*aggIntervalSec) * time.Second
	c.MonitoringInterval = time.Duration(*monIntervalSec) * time.Second
	c.PositionTimeout = time.Duration(*positionTimeoutSec) * time.Second
	c.OrderTimeout = time.Duration(*orderTimeoutSec) * time.Second

	for _, name := range []string{"BINANCE", "BYBIT"} {
		c.Venues[name] = VenueConfig{
			Name:      strings.ToLower(name),
			Enabled:   envBool(name+"_ENABLED", true),
			FetchOnly: envBool(name+"_FETCH_ONLY", false),
			APIKey:    os.Getenv(name + "_API_KEY"),
			Secret:    os.Getenv(name + "_SECRET"),
		}
	}

	if c.DefaultOrderType != "limit" && c.DefaultOrderType != "market" {
		return nil, fmt.Errorf("config: default-order-type must be limit or market, got %q", c.DefaultOrderType)
	}
	if c.MaxPositions <= 0 {
		return nil, fmt.Errorf("config: max-positions must be positive, got %d", c.MaxPositions)
	}

	return c, nil
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func envBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}
