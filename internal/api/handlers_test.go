package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ndrandal/arb-controller/internal/aggregator"
	"github.com/ndrandal/arb-controller/internal/persist"
	"github.com/ndrandal/arb-controller/internal/tradingmanager"
	"github.com/ndrandal/arb-controller/internal/types"
)

// --- stub TradeReader ---

type stubTradeReader struct {
	trades    []types.TradeRecord
	tradesErr error
	stats     persist.TradeStats
	statsErr  error

	lastTradeFilter persist.TradeFilter
}

func (s *stubTradeReader) QueryTrades(_ context.Context, f persist.TradeFilter) ([]types.TradeRecord, error) {
	s.lastTradeFilter = f
	return s.trades, s.tradesErr
}

func (s *stubTradeReader) QueryTradeStats(_ context.Context) (persist.TradeStats, error) {
	return s.stats, s.statsErr
}

// --- stub feed ---

type stubFeed struct {
	snap map[types.Symbol]types.PriceSample
}

func (f *stubFeed) Snapshot() map[types.Symbol]types.PriceSample {
	return f.snap
}

// --- test helpers ---

func noopFactory(symbol types.Symbol, direction bool) tradingmanager.Trader {
	return nil
}

func newTestServer(stub *stubTradeReader) (*Server, *http.ServeMux) {
	agg := aggregator.New(aggregator.Config{
		Interval:        time.Second,
		MaxHistory:      10,
		SpreadThreshold: 0.5,
		StaleTTL:        time.Minute,
	}, &stubFeed{}, &stubFeed{}, nil)

	mgr := tradingmanager.New(context.Background(), 5, noopFactory, nil)

	feeds := map[types.Venue]FeedStatus{
		types.VenueA: &stubFeed{snap: map[types.Symbol]types.PriceSample{
			"BTCUSDT": {LastPrice: decimal.NewFromInt(65000), ObservedAt: time.Now()},
		}},
		types.VenueB: &stubFeed{snap: map[types.Symbol]types.PriceSample{}},
	}

	srv := NewServer(stub, feeds, agg, mgr)

	mux := http.NewServeMux()
	srv.Register(mux)
	return srv, mux
}

func mustDecodeJSON(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("failed to decode JSON: %v", err)
	}
}

// --- tests ---

func TestHandleTrades(t *testing.T) {
	stub := &stubTradeReader{
		trades: []types.TradeRecord{
			{Symbol: "BTCUSDT", ExitType: types.ExitTakeProfit, ExitedAt: time.Now()},
			{Symbol: "BTCUSDT", ExitType: types.ExitStopLoss, ExitedAt: time.Now()},
		},
	}
	_, mux := newTestServer(stub)
	req := httptest.NewRequest("GET", "/api/trades?symbol=BTCUSDT", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var out []types.TradeRecord
	mustDecodeJSON(t, w.Result(), &out)

	if len(out) != 2 {
		t.Fatalf("expected 2 trades, got %d", len(out))
	}
	if stub.lastTradeFilter.Symbol != "BTCUSDT" {
		t.Errorf("expected symbol filter BTCUSDT, got %q", stub.lastTradeFilter.Symbol)
	}
}

func TestHandleTradesParams(t *testing.T) {
	stub := &stubTradeReader{trades: []types.TradeRecord{}}
	_, mux := newTestServer(stub)
	req := httptest.NewRequest("GET", "/api/trades?limit=5&offset=10", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if stub.lastTradeFilter.Limit != 5 {
		t.Errorf("expected limit=5, got %d", stub.lastTradeFilter.Limit)
	}
	if stub.lastTradeFilter.Offset != 10 {
		t.Errorf("expected offset=10, got %d", stub.lastTradeFilter.Offset)
	}
}

func TestHandleTradesDBError(t *testing.T) {
	stub := &stubTradeReader{tradesErr: errors.New("db connection lost")}
	_, mux := newTestServer(stub)
	req := httptest.NewRequest("GET", "/api/trades", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
}

func TestHandleStats(t *testing.T) {
	stub := &stubTradeReader{
		stats: persist.TradeStats{TotalTrades: 42, Wins: 30, Losses: 12, TotalNetPnL: 1234.5},
	}
	_, mux := newTestServer(stub)
	req := httptest.NewRequest("GET", "/api/stats", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var out map[string]any
	mustDecodeJSON(t, w.Result(), &out)

	for _, key := range []string{"uptime", "activeTrades", "activeSymbols", "totalTrades", "wins", "losses", "totalNetPnl"} {
		if _, ok := out[key]; !ok {
			t.Errorf("missing key %q in stats response", key)
		}
	}

	if out["totalTrades"] != float64(42) {
		t.Errorf("expected totalTrades=42, got %v", out["totalTrades"])
	}
	if out["activeTrades"] != float64(0) {
		t.Errorf("expected activeTrades=0, got %v", out["activeTrades"])
	}
}

func TestHandleStatsDBError(t *testing.T) {
	stub := &stubTradeReader{statsErr: errors.New("db down")}
	_, mux := newTestServer(stub)
	req := httptest.NewRequest("GET", "/api/stats", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
}

func TestHandleSpreadNotFound(t *testing.T) {
	_, mux := newTestServer(&stubTradeReader{})
	req := httptest.NewRequest("GET", "/api/spreads/BTCUSDT", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestHandleFeeds(t *testing.T) {
	_, mux := newTestServer(&stubTradeReader{})
	req := httptest.NewRequest("GET", "/api/feeds", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var out []feedStatusJSON
	mustDecodeJSON(t, w.Result(), &out)

	if len(out) != 2 {
		t.Fatalf("expected 2 feed statuses, got %d", len(out))
	}

	var foundA bool
	for _, fs := range out {
		if fs.Venue == types.VenueA {
			foundA = true
			if fs.SymbolCount != 1 {
				t.Errorf("expected venue A symbolCount=1, got %d", fs.SymbolCount)
			}
		}
	}
	if !foundA {
		t.Error("expected venue A in feed status list")
	}
}

func TestHandleHealth(t *testing.T) {
	_, mux := newTestServer(&stubTradeReader{})
	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestContentTypeJSON(t *testing.T) {
	_, mux := newTestServer(&stubTradeReader{})

	endpoints := []string{
		"/api/trades",
		"/api/stats",
		"/api/feeds",
		"/health",
	}

	for _, ep := range endpoints {
		req := httptest.NewRequest("GET", ep, nil)
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, req)

		ct := w.Header().Get("Content-Type")
		if ct != "application/json" {
			t.Errorf("%s: expected Content-Type application/json, got %q", ep, ct)
		}
	}
}

func TestParseIntParam(t *testing.T) {
	tests := []struct {
		url  string
		key  string
		def  int
		want int
	}{
		{"/test", "limit", 100, 100},
		{"/test?limit=50", "limit", 100, 50},
		{"/test?limit=abc", "limit", 100, 100},
	}

	for _, tt := range tests {
		req := httptest.NewRequest("GET", tt.url, nil)
		got := parseIntParam(req, tt.key, tt.def)
		if got != tt.want {
			t.Errorf("parseIntParam(%q, %q, %d) = %d, want %d", tt.url, tt.key, tt.def, got, tt.want)
		}
	}
}

func TestParseTimeParam(t *testing.T) {
	req := httptest.NewRequest("GET", "/test", nil)
	if got := parseTimeParam(req, "from"); got != nil {
		t.Errorf("expected nil for empty param, got %v", got)
	}

	req = httptest.NewRequest("GET", "/test?from=not-a-time", nil)
	if got := parseTimeParam(req, "from"); got != nil {
		t.Errorf("expected nil for bad format, got %v", got)
	}

	ts := "2025-01-15T10:30:00Z"
	req = httptest.NewRequest("GET", "/test?from="+ts, nil)
	got := parseTimeParam(req, "from")
	if got == nil {
		t.Fatal("expected non-nil time")
	}
	expected, _ := time.Parse(time.RFC3339, ts)
	if !got.Equal(expected) {
		t.Errorf("expected %v, got %v", expected, *got)
	}
}
