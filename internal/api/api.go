package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/ndrandal/arb-controller/internal/aggregator"
	"github.com/ndrandal/arb-controller/internal/persist"
	"github.com/ndrandal/arb-controller/internal/tradingmanager"
	"github.com/ndrandal/arb-controller/internal/types"
)

// FeedStatus reports the live connectivity and last-seen price state of one
// venue's feed. Satisfied by internal/feed.Feed.
type FeedStatus interface {
	Snapshot() map[types.Symbol]types.PriceSample
}

// Server provides REST API endpoints for the arbitrage controller.
type Server struct {
	reader  persist.TradeReader
	feeds   map[types.Venue]FeedStatus
	agg     *aggregator.Aggregator
	traders *tradingmanager.Manager
	startAt time.Time
}

// NewServer creates a new API server. feeds maps each venue name to its feed
// for /api/feeds connectivity reporting.
func NewServer(reader persist.TradeReader, feeds map[types.Venue]FeedStatus, agg *aggregator.Aggregator, traders *tradingmanager.Manager) *Server {
	return &Server{
		reader:  reader,
		feeds:   feeds,
		agg:     agg,
		traders: traders,
		startAt: time.Now(),
	}
}

// Register attaches API routes to the given mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/trades", s.handleTrades)
	mux.HandleFunc("GET /api/stats", s.handleStats)
	mux.HandleFunc("GET /api/spreads/{symbol}", s.handleSpread)
	mux.HandleFunc("GET /api/feeds", s.handleFeeds)
	mux.HandleFunc("GET /health", s.handleHealth)
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// parseIntParam parses an integer query parameter with a default value.
func parseIntParam(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// parseTimeParam parses an RFC3339 query parameter.
func parseTimeParam(r *http.Request, key string) *time.Time {
	v := r.URL.Query().Get(key)
	if v == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil
	}
	return &t
}
