package aggregator

import (
	"sync"

	"github.com/ndrandal/arb-controller/internal/types"
)

// Buffer is a bounded FIFO ring of SpreadSamples for a single symbol.
// When full, the oldest sample is dropped on insert. Samples are always
// readable in ascending observed-time order via Snapshot.
type Buffer struct {
	mu       sync.RWMutex
	samples  []types.SpreadSample
	capacity int
	start    int // index of oldest element within samples
	count    int
}

// NewBuffer creates an empty buffer with the given capacity (max_history).
func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = 1
	}
	return &Buffer{
		samples:  make([]types.SpreadSample, capacity),
		capacity: capacity,
	}
}

// Append adds a sample, evicting the oldest if the buffer is full.
func (b *Buffer) Append(s types.SpreadSample) {
	b.mu.Lock()
	defer b.mu.Unlock()

	idx := (b.start + b.count) % b.capacity
	if b.count == b.capacity {
		// full: overwrite oldest, advance start
		b.samples[idx] = s
		b.start = (b.start + 1) % b.capacity
		return
	}
	b.samples[idx] = s
	b.count++
}

// Len returns the current number of samples.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.count
}

// Snapshot returns a copy of all samples in ascending observed-time order.
func (b *Buffer) Snapshot() []types.SpreadSample {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]types.SpreadSample, b.count)
	for i := 0; i < b.count; i++ {
		out[i] = b.samples[(b.start+i)%b.capacity]
	}
	return out
}

// Last returns the most recently appended sample and whether one exists.
func (b *Buffer) Last() (types.SpreadSample, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.count == 0 {
		return types.SpreadSample{}, false
	}
	idx := (b.start + b.count - 1) % b.capacity
	return b.samples[idx], true
}

// LastN returns up to n of the most recent samples, oldest first. If fewer
// than n samples exist, it returns all of them (caller must check length).
func (b *Buffer) LastN(n int) []types.SpreadSample {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if n > b.count {
		n = b.count
	}
	out := make([]types.SpreadSample, n)
	offset := b.count - n
	for i := 0; i < n; i++ {
		out[i] = b.samples[(b.start+offset+i)%b.capacity]
	}
	return out
}
