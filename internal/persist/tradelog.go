package persist

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/ndrandal/arb-controller/internal/types"
)

// TradeLog appends one JSON line per completed trade to a file, satisfying
// the external-interfaces requirement for a line-delimited append-only
// output independent of whether Mongo is reachable.
type TradeLog struct {
	mu   sync.Mutex
	file *os.File
	enc  *json.Encoder
}

// NewTradeLog opens (or creates) the file at path for appending.
func NewTradeLog(path string) (*TradeLog, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open trade log: %w", err)
	}
	return &TradeLog{file: f, enc: json.NewEncoder(f)}, nil
}

// RecordTrade appends rec as one JSON line. A mutex serializes concurrent
// traders; each write is one os.File.Write call so lines never interleave.
func (l *TradeLog) RecordTrade(ctx context.Context, rec types.TradeRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.enc.Encode(rec); err != nil {
		return fmt.Errorf("append trade log line: %w", err)
	}
	return nil
}

// Close flushes and closes the underlying file.
func (l *TradeLog) Close() error {
	return l.file.Close()
}

// MultiRecorder fans a single completed trade out to several recorders
// (ndjson file + Mongo mirror), continuing past a failing recorder instead
// of losing the record entirely.
type MultiRecorder struct {
	recorders []tradeRecorder
}

type tradeRecorder interface {
	RecordTrade(ctx context.Context, rec types.TradeRecord) error
}

// NewMultiRecorder fans RecordTrade out to every given recorder.
func NewMultiRecorder(recorders ...tradeRecorder) *MultiRecorder {
	return &MultiRecorder{recorders: recorders}
}

// RecordTrade calls RecordTrade on every recorder, returning the first error
// (if any) after attempting all of them.
func (m *MultiRecorder) RecordTrade(ctx context.Context, rec types.TradeRecord) error {
	var firstErr error
	for _, r := range m.recorders {
		if err := r.RecordTrade(ctx, rec); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
