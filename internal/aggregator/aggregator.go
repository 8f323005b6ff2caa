package aggregator

import (
	"log"
	"sync"
	"time"

	"github.com/ndrandal/arb-controller/internal/types"
)

// FeedSnapshotter is satisfied by internal/feed.Feed; kept narrow here so
// the aggregator doesn't need to import the feed package.
type FeedSnapshotter interface {
	Snapshot() map[types.Symbol]types.PriceSample
}

// Config holds the aggregator's tunable parameters.
type Config struct {
	Interval       time.Duration
	MaxHistory     int
	SpreadThreshold float64 // percent
	StaleTTL       time.Duration
}

// Aggregator joins two venue feeds on their common symbols every Interval,
// computing signed spread samples into bounded per-symbol buffers.
type Aggregator struct {
	cfg   Config
	feedA FeedSnapshotter
	feedB FeedSnapshotter
	log   *log.Logger

	mu      sync.RWMutex
	buffers map[types.Symbol]*Buffer

	lastGoodA time.Time
	lastGoodB time.Time
}

// New creates an Aggregator reading from the two given feeds.
func New(cfg Config, feedA, feedB FeedSnapshotter, logger *log.Logger) *Aggregator {
	if logger == nil {
		logger = log.Default()
	}
	return &Aggregator{
		cfg:     cfg,
		feedA:   feedA,
		feedB:   feedB,
		log:     logger,
		buffers: make(map[types.Symbol]*Buffer),
	}
}

// Run drives Tick on cfg.Interval until stop is closed.
func (a *Aggregator) Run(stop <-chan struct{}) {
	ticker := time.NewTicker(a.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			a.Tick()
		}
	}
}

// Tick snapshots both feeds, computes spreads for common symbols passing the
// sanity filter, and appends them to per-symbol buffers. A failure on a
// single symbol is swallowed with a warning; the tick still advances.
func (a *Aggregator) Tick() {
	snapA := a.feedA.Snapshot()
	snapB := a.feedB.Snapshot()

	if len(snapA) == 0 || len(snapB) == 0 {
		// A degraded/stale feed tolerated: produce no spreads this tick.
		return
	}

	now := time.Now()
	if a.cfg.StaleTTL > 0 {
		// The caller is expected to have stamped feed snapshots with
		// observed_at per-sample; here we defensively check the newest
		// sample's age across the snapshot as a whole-feed staleness proxy.
		if isStale(snapA, now, a.cfg.StaleTTL) || isStale(snapB, now, a.cfg.StaleTTL) {
			return
		}
	}

	for symbol, pa := range snapA {
		func() {
			defer func() {
				if r := recover(); r != nil {
					a.log.Printf("aggregator: recovered panic processing %s: %v", symbol, r)
				}
			}()

			pb, ok := snapB[symbol]
			if !ok {
				return
			}
			if !pa.Valid() || !pb.Valid() {
				return
			}

			sample, ok := computeSpread(pa, pb, now, a.cfg.SpreadThreshold)
			if !ok {
				return
			}

			a.mu.Lock()
			buf, ok := a.buffers[symbol]
			if !ok {
				buf = NewBuffer(a.cfg.MaxHistory)
				a.buffers[symbol] = buf
			}
			a.mu.Unlock()

			buf.Append(sample)
		}()
	}
}

func isStale(snap map[types.Symbol]types.PriceSample, now time.Time, ttl time.Duration) bool {
	if len(snap) == 0 {
		return true
	}
	var newest time.Time
	for _, p := range snap {
		if p.ObservedAt.After(newest) {
			newest = p.ObservedAt
		}
	}
	return now.Sub(newest) > ttl
}

// computeSpread computes the signed spread sample for a pair of price
// samples, rejecting obviously bad ticks per the sanity filter: price ratio
// <= 10x, and spread% under a price-band-dependent cap.
func computeSpread(pa, pb types.PriceSample, now time.Time, threshold float64) (types.SpreadSample, bool) {
	priceA, _ := pa.LastPrice.Float64()
	priceB, _ := pb.LastPrice.Float64()
	if priceA <= 0 || priceB <= 0 {
		return types.SpreadSample{}, false
	}

	hi, lo := priceA, priceB
	if lo > hi {
		hi, lo = lo, hi
	}
	if hi/lo > 10 {
		return types.SpreadSample{}, false
	}

	minPrice := priceA
	if priceB < minPrice {
		minPrice = priceB
	}
	spreadPct := (priceA - priceB) / minPrice * 100

	avg := (priceA + priceB) / 2
	cap := sanityCap(avg)
	if abs(spreadPct) > cap {
		return types.SpreadSample{}, false
	}

	sign := types.SignZero
	switch {
	case spreadPct >= threshold:
		sign = types.SignPositive
	case spreadPct <= -threshold:
		sign = types.SignNegative
	}

	return types.SpreadSample{
		Timestamp: now,
		PriceA:    pa.LastPrice,
		PriceB:    pb.LastPrice,
		VolumeA:   pa.Volume24hUSD,
		VolumeB:   pb.Volume24hUSD,
		SpreadPct: spreadPct,
		Sign:      sign,
	}, true
}

// sanityCap returns the maximum plausible |spread%| for a given average
// price band: 1% for avg>=1000, 2% for >=10, 5% for >=0.1, else 10%.
func sanityCap(avgPrice float64) float64 {
	switch {
	case avgPrice >= 1000:
		return 1
	case avgPrice >= 10:
		return 2
	case avgPrice >= 0.1:
		return 5
	default:
		return 10
	}
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

// LatestSpread returns the most recent spread sample recorded for symbol.
func (a *Aggregator) LatestSpread(symbol types.Symbol) (types.SpreadSample, bool) {
	a.mu.RLock()
	buf, ok := a.buffers[symbol]
	a.mu.RUnlock()
	if !ok {
		return types.SpreadSample{}, false
	}
	return buf.Last()
}

// Buffers returns a snapshot of the known symbols and their buffers.
// Callers must treat the map and buffers as read-only.
func (a *Aggregator) Buffers() map[types.Symbol]*Buffer {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make(map[types.Symbol]*Buffer, len(a.buffers))
	for k, v := range a.buffers {
		out[k] = v
	}
	return out
}
