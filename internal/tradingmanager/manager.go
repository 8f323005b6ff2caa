// Package tradingmanager admits symbols into a capacity-bounded set of
// concurrently running traders and reclaims their slot on completion.
package tradingmanager

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/ndrandal/arb-controller/internal/types"
)

// Trader is the minimal contract a trading strategy must satisfy to be run
// under the manager. Run blocks until the position's lifecycle is complete
// or ctx is cancelled.
type Trader interface {
	Run(ctx context.Context) error
}

// Factory constructs a Trader for a newly admitted symbol and direction.
// direction=true means venue A is the richer side (short A, long B).
type Factory func(symbol types.Symbol, direction bool) Trader

// Manager bounds the number of concurrently active traders and dispatches
// each admitted symbol onto its own goroutine, freeing the slot when the
// trader's Run returns.
type Manager struct {
	mu         sync.Mutex
	active     map[types.Symbol]context.CancelFunc
	maxSymbols int

	factory Factory
	log     *log.Logger

	ctx context.Context
	wg  sync.WaitGroup
}

// New creates a Manager bounded to maxSymbols concurrently active traders.
// ctx is the parent context for all spawned traders; cancelling it stops
// every active trader.
func New(ctx context.Context, maxSymbols int, factory Factory, logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.Default()
	}
	return &Manager{
		active:     make(map[types.Symbol]context.CancelFunc),
		maxSymbols: maxSymbols,
		factory:    factory,
		log:        logger,
		ctx:        ctx,
	}
}

// Full reports whether the manager is at capacity.
func (m *Manager) Full() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active) >= m.maxSymbols
}

// ActiveCount returns the number of currently active traders.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

// ActiveSymbols returns a snapshot of the currently active symbols.
func (m *Manager) ActiveSymbols() []types.Symbol {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.Symbol, 0, len(m.active))
	for s := range m.active {
		out = append(out, s)
	}
	return out
}

// TryAdmit attempts to start a trader for symbol/direction. It rejects if the
// manager is at capacity or the symbol already has an active trader, and
// returns false in either case without blocking.
func (m *Manager) TryAdmit(symbol types.Symbol, direction bool) bool {
	m.mu.Lock()
	if len(m.active) >= m.maxSymbols {
		m.mu.Unlock()
		return false
	}
	if _, exists := m.active[symbol]; exists {
		m.mu.Unlock()
		return false
	}

	traderCtx, cancel := context.WithCancel(m.ctx)
	m.active[symbol] = cancel
	count := len(m.active)
	m.mu.Unlock()

	trader := m.factory(symbol, direction)

	m.log.Printf("tradingmanager: started %s direction=%v | active=%d/%d", symbol, direction, count, m.maxSymbols)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer cancel()

		err := m.runTrader(trader, traderCtx, symbol)

		m.mu.Lock()
		delete(m.active, symbol)
		remaining := len(m.active)
		syms := make([]types.Symbol, 0, remaining)
		for s := range m.active {
			syms = append(syms, s)
		}
		m.mu.Unlock()

		if err != nil {
			m.log.Printf("tradingmanager: %s exited with error: %v | active=%d/%d", symbol, err, remaining, m.maxSymbols)
		} else {
			m.log.Printf("tradingmanager: completed %s | active=%d/%d", symbol, remaining, m.maxSymbols)
		}
		if remaining > 0 {
			m.log.Printf("tradingmanager: remaining symbols: %v", syms)
		}
	}()

	return true
}

// runTrader recovers a panicking trader and returns the panic as an error,
// which is only logged: a crash in one trader never brings down the manager
// or any other trader's goroutine.
func (m *Manager) runTrader(trader Trader, ctx context.Context, symbol types.Symbol) (err error) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Printf("tradingmanager: %s recovered panic: %v", symbol, r)
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return trader.Run(ctx)
}

// Shutdown cancels every active trader and blocks until they have all
// returned.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	for _, cancel := range m.active {
		cancel()
	}
	m.mu.Unlock()
	m.wg.Wait()
}
