// Package monitor scans aggregator spread buffers and nominates qualified
// symbols to the trading manager.
package monitor

import (
	"log"
	"sort"
	"time"

	"github.com/ndrandal/arb-controller/internal/aggregator"
	"github.com/ndrandal/arb-controller/internal/types"
)

// BufferSource is satisfied by *aggregator.Aggregator.
type BufferSource interface {
	Buffers() map[types.Symbol]*aggregator.Buffer
}

// Admitter is satisfied by internal/tradingmanager.Manager.
type Admitter interface {
	TryAdmit(symbol types.Symbol, direction bool) bool
}

// Config holds the monitor's tunable parameters.
type Config struct {
	Interval         time.Duration
	MinVolumeUSDT    float64
	TopVolumeNum     int
	ConsecutiveCount int
	TopSymbols       int
}

// Monitor periodically ranks and proposes candidate symbols for trading.
type Monitor struct {
	cfg      Config
	buffers  BufferSource
	manager  Admitter
	log      *log.Logger
}

// New creates a Monitor.
func New(cfg Config, buffers BufferSource, manager Admitter, logger *log.Logger) *Monitor {
	if logger == nil {
		logger = log.Default()
	}
	return &Monitor{cfg: cfg, buffers: buffers, manager: manager, log: logger}
}

// Run drives Tick on cfg.Interval until stop is closed.
func (m *Monitor) Run(stop <-chan struct{}) {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.Tick()
		}
	}
}

type candidate struct {
	symbol    types.Symbol
	volumeB   float64
	score     float64
	direction bool // true = A richer (short A, long B)
}

// Tick scans buffers, filters/ranks/qualifies, and proposes to the manager.
// A failure anywhere in the tick is logged and the tick returns without
// stalling the system.
func (m *Monitor) Tick() {
	defer func() {
		if r := recover(); r != nil {
			m.log.Printf("monitor: recovered panic: %v", r)
		}
	}()

	buffers := m.buffers.Buffers()

	byVolume := make([]candidate, 0, len(buffers))
	for symbol, buf := range buffers {
		last, ok := buf.Last()
		if !ok {
			continue
		}
		volB, _ := last.VolumeB.Float64()
		if volB < m.cfg.MinVolumeUSDT {
			continue
		}
		byVolume = append(byVolume, candidate{symbol: symbol, volumeB: volB})
	}

	sort.Slice(byVolume, func(i, j int) bool { return byVolume[i].volumeB > byVolume[j].volumeB })
	if m.cfg.TopVolumeNum > 0 && len(byVolume) > m.cfg.TopVolumeNum {
		byVolume = byVolume[:m.cfg.TopVolumeNum]
	}

	qualified := make([]candidate, 0, len(byVolume))
	for _, c := range byVolume {
		buf := buffers[c.symbol]
		samples := buf.LastN(m.cfg.ConsecutiveCount)
		if len(samples) < m.cfg.ConsecutiveCount {
			continue
		}

		allPos, allNeg := true, true
		var sumAbs float64
		for _, s := range samples {
			if s.Sign != types.SignPositive {
				allPos = false
			}
			if s.Sign != types.SignNegative {
				allNeg = false
			}
			sumAbs += s.AbsSpreadPct()
		}
		if !allPos && !allNeg {
			continue
		}

		c.score = sumAbs / float64(len(samples))
		c.direction = allPos // true = A richer
		qualified = append(qualified, c)
	}

	sort.Slice(qualified, func(i, j int) bool { return qualified[i].score > qualified[j].score })
	if m.cfg.TopSymbols > 0 && len(qualified) > m.cfg.TopSymbols {
		qualified = qualified[:m.cfg.TopSymbols]
	}

	for _, c := range qualified {
		accepted := m.manager.TryAdmit(c.symbol, c.direction)
		m.log.Printf("monitor: proposed %s direction=%v score=%.4f accepted=%v", c.symbol, c.direction, c.score, accepted)
	}

	m.log.Printf("monitor: tick complete candidates=%d qualified=%d", len(byVolume), len(qualified))
}
