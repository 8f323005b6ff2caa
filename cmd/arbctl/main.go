package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ndrandal/arb-controller/internal/aggregator"
	"github.com/ndrandal/arb-controller/internal/api"
	"github.com/ndrandal/arb-controller/internal/archive"
	"github.com/ndrandal/arb-controller/internal/backoff"
	"github.com/ndrandal/arb-controller/internal/config"
	"github.com/ndrandal/arb-controller/internal/feed"
	"github.com/ndrandal/arb-controller/internal/monitor"
	"github.com/ndrandal/arb-controller/internal/persist"
	"github.com/ndrandal/arb-controller/internal/supervisor"
	"github.com/ndrandal/arb-controller/internal/trader"
	"github.com/ndrandal/arb-controller/internal/tradingmanager"
	"github.com/ndrandal/arb-controller/internal/types"
	"github.com/ndrandal/arb-controller/internal/venue"
	"github.com/ndrandal/arb-controller/internal/venue/binance"
	"github.com/ndrandal/arb-controller/internal/venue/bybit"
	"github.com/ndrandal/arb-controller/internal/venue/simulation"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)
	log.Println("arb-controller starting")
	if cfg.SimulationMode {
		log.Println("simulation mode: order-entry is an in-memory instant filler")
	}

	binanceCfg := cfg.Venues["BINANCE"]
	bybitCfg := cfg.Venues["BYBIT"]

	// REST gateways always back symbol discovery and volume refresh for both
	// venues, even under simulation_mode: internal/venue/simulation has no
	// FetchSymbols backing of its own.
	binanceGW := binance.New(binance.Config{
		APIKey:    binanceCfg.APIKey,
		APISecret: binanceCfg.Secret,
		FetchOnly: binanceCfg.FetchOnly,
	}, log.Default())
	bybitGW := bybit.New(bybit.Config{
		APIKey:    bybitCfg.APIKey,
		APISecret: bybitCfg.Secret,
		FetchOnly: bybitCfg.FetchOnly,
	}, log.Default())

	feedCfgA := feed.DefaultConfig()
	feedCfgA.ReconnectPolicy = backoff.Policy{Base: time.Second, Cap: 60 * time.Second, MaxAttempts: 10}
	feedCfgA.VolumeRefresh = cfg.FetchInterval

	feedCfgB := feed.DefaultConfig()
	feedCfgB.ReconnectPolicy = backoff.Policy{Base: time.Second, Cap: 60 * time.Second}
	feedCfgB.VolumeRefresh = cfg.FetchInterval

	feedA := feed.New(feed.NewBinanceAdapter(), binanceGW, feedCfgA, log.Default())
	feedB := feed.New(feed.NewBybitAdapter(), bybitGW, feedCfgB, log.Default())

	aggCfg := aggregator.Config{
		Interval:        cfg.AggregationInterval,
		MaxHistory:      512,
		SpreadThreshold: cfg.SpreadThreshold,
		StaleTTL:        2 * cfg.FetchInterval,
	}
	agg := aggregator.New(aggCfg, feedA, feedB, log.Default())

	store, err := persist.NewStore(context.Background(), mongoURI())
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer store.Close(context.Background())

	if err := persist.EnsureIndexes(context.Background(), store.DB()); err != nil {
		log.Fatalf("ensure indexes: %v", err)
	}

	tradeLog, err := persist.NewTradeLog(cfg.TradeLogPath)
	if err != nil {
		log.Fatalf("trade log: %v", err)
	}
	defer tradeLog.Close()

	recorder := persist.NewMultiRecorder(tradeLog, persist.NewTradeMirror(store))

	symbolCache := persist.NewSymbolCache(store, binanceGW.FetchSymbols, bybitGW.FetchSymbols)

	// Order-entry gateways: real REST gateways, or an in-memory instant
	// filler per venue under simulation_mode. Feed discovery always uses the
	// real gateways above regardless of this choice.
	var orderGWA, orderGWB venue.Gateway = binanceGW, bybitGW
	if cfg.SimulationMode {
		orderGWA = simulation.New("binance-sim", types.VenueA, decimal.NewFromInt(10_000), tickersFrom(feedA))
		orderGWB = simulation.New("bybit-sim", types.VenueB, decimal.NewFromInt(10_000), tickersFrom(feedB))
	}

	traderCfg := trader.DefaultConfig()
	traderCfg.TargetUSDT = decimal.NewFromFloat(cfg.TargetUSDT)
	traderCfg.StopLossPercent = cfg.StopLossPercent
	traderCfg.TakeProfitPercent = cfg.ExitPercent

	factory := func(symbol types.Symbol, direction bool) tradingmanager.Trader {
		return trader.New(symbol, direction, orderGWA, orderGWB, agg, traderCfg, recorder, log.Default())
	}

	mgrCtx, mgrCancel := context.WithCancel(context.Background())
	defer mgrCancel()
	mgr := tradingmanager.New(mgrCtx, cfg.MaxPositions, factory, log.Default())

	mon := monitor.New(monitor.Config{
		Interval:         cfg.MonitoringInterval,
		MinVolumeUSDT:    cfg.MinVolumeUSDT,
		TopVolumeNum:     cfg.TopVolumeNum,
		ConsecutiveCount: cfg.SpreadHoldCount,
		TopSymbols:       cfg.TopSymbols,
	}, agg, mgr, log.Default())

	feeds := map[types.Venue]api.FeedStatus{
		types.VenueA: feedA,
		types.VenueB: feedB,
	}
	apiServer := api.NewServer(persist.NewMongoTradeReader(store.DB()), feeds, agg, mgr)

	mux := http.NewServeMux()
	apiServer.Register(mux)

	addr := fmt.Sprintf(":%s", envOr("HTTP_PORT", "8080"))
	httpServer := &http.Server{Addr: addr, Handler: mux}

	archiveDir := os.Getenv("ARCHIVE_DIR")
	var archiver *archive.Archiver
	if archiveDir != "" {
		archiver = archive.New(store.DB(), archiveDir, envInt("ARCHIVE_MAX_GB", 10), envInt("ARCHIVE_INTERVAL_HOURS", 24), envInt("ARCHIVE_AFTER_HOURS", 24*30))
		if bucket := os.Getenv("S3_ARCHIVE_BUCKET"); bucket != "" {
			if err := archiver.WithS3Mirror(context.Background(), bucket); err != nil {
				log.Printf("archive: s3 mirror disabled: %v", err)
			}
		}
	}

	retentionDays := envInt("TRADE_RETENTION_DAYS", 0)

	sup := supervisor.New(log.Default())
	tasks := []supervisor.Named{
		{Name: "feed-binance", Task: feedA.Run},
		{Name: "feed-bybit", Task: feedB.Run},
		{Name: "aggregator", Task: supervisor.Ticker(agg.Run)},
		{Name: "monitor", Task: supervisor.Ticker(mon.Run)},
		{Name: "symbol-cache", Task: func(ctx context.Context) error {
			symbolCache.Run(ctx, cfg.FetchInterval)
			return nil
		}},
		{Name: "retention", Task: func(ctx context.Context) error {
			persist.RunRetention(ctx, store, retentionDays)
			return nil
		}},
		{Name: "http", Task: func(ctx context.Context) error {
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				httpServer.Shutdown(shutdownCtx)
			}()
			log.Printf("http listening on %s", addr)
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		}},
	}
	if archiver != nil {
		tasks = append(tasks, supervisor.Named{Name: "archiver", Task: func(ctx context.Context) error {
			archiver.Run(ctx)
			return nil
		}})
	}

	if err := sup.Run(context.Background(), tasks...); err != nil {
		mgr.Shutdown()
		log.Fatalf("arb-controller exited: %v", err)
	}
	mgr.Shutdown()
	log.Println("arb-controller stopped cleanly")
}

// tickersFrom adapts a feed's price snapshot into the ticker lookup the
// simulation gateway needs to fill market orders.
func tickersFrom(f feed.Feed) func() map[types.Symbol]types.Ticker {
	return func() map[types.Symbol]types.Ticker {
		snap := f.Snapshot()
		out := make(map[types.Symbol]types.Ticker, len(snap))
		for sym, sample := range snap {
			out[sym] = types.Ticker{Symbol: sym, LastPrice: sample.LastPrice}
		}
		return out
	}
}

func mongoURI() string {
	return envOr("MONGO_URI", "mongodb://localhost:27017/arbctl")
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
