package api

import (
	"context"
	"net/http"
	"time"

	"github.com/ndrandal/arb-controller/internal/persist"
	"github.com/ndrandal/arb-controller/internal/types"
)

// handleTrades returns paginated completed trades, optionally filtered by
// symbol and time range.
func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	filter := persist.TradeFilter{
		Symbol: types.Symbol(r.URL.Query().Get("symbol")),
		Limit:  parseIntParam(r, "limit", 100),
		Offset: parseIntParam(r, "offset", 0),
		From:   parseTimeParam(r, "from"),
		To:     parseTimeParam(r, "to"),
	}

	trades, err := s.reader.QueryTrades(ctx, filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, trades)
}

type statsResponse struct {
	Uptime        string         `json:"uptime"`
	ActiveTrades  int            `json:"activeTrades"`
	ActiveSymbols []types.Symbol `json:"activeSymbols"`
	TotalTrades   int64          `json:"totalTrades"`
	Wins          int64          `json:"wins"`
	Losses        int64          `json:"losses"`
	TotalNetPnL   float64        `json:"totalNetPnl"`
}

// handleStats returns runtime and aggregate trade statistics.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	ts, err := s.reader.QueryTradeStats(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, statsResponse{
		Uptime:        time.Since(s.startAt).Truncate(time.Second).String(),
		ActiveTrades:  s.traders.ActiveCount(),
		ActiveSymbols: s.traders.ActiveSymbols(),
		TotalTrades:   ts.TotalTrades,
		Wins:          ts.Wins,
		Losses:        ts.Losses,
		TotalNetPnL:   ts.TotalNetPnL,
	})
}

type spreadSampleJSON struct {
	Timestamp time.Time `json:"timestamp"`
	PriceA    string    `json:"priceA"`
	PriceB    string    `json:"priceB"`
	SpreadPct float64   `json:"spreadPct"`
	Sign      string    `json:"sign"`
}

type spreadResponse struct {
	Symbol  types.Symbol       `json:"symbol"`
	Latest  *spreadSampleJSON  `json:"latest,omitempty"`
	History []spreadSampleJSON `json:"history"`
}

// handleSpread returns the latest spread sample and recent history for a
// symbol from the aggregator's in-memory buffers.
func (s *Server) handleSpread(w http.ResponseWriter, r *http.Request) {
	symbol := types.Symbol(r.PathValue("symbol"))

	buffers := s.agg.Buffers()
	buf, ok := buffers[symbol]
	if !ok {
		writeError(w, http.StatusNotFound, "no spread history for symbol: "+string(symbol))
		return
	}

	limit := parseIntParam(r, "limit", 100)
	samples := buf.LastN(limit)

	resp := spreadResponse{
		Symbol:  symbol,
		History: make([]spreadSampleJSON, len(samples)),
	}
	for i, sm := range samples {
		resp.History[i] = toSpreadJSON(sm)
	}

	if latest, ok := s.agg.LatestSpread(symbol); ok {
		j := toSpreadJSON(latest)
		resp.Latest = &j
	}

	writeJSON(w, http.StatusOK, resp)
}

func toSpreadJSON(s types.SpreadSample) spreadSampleJSON {
	return spreadSampleJSON{
		Timestamp: s.Timestamp,
		PriceA:    s.PriceA.String(),
		PriceB:    s.PriceB.String(),
		SpreadPct: s.SpreadPct,
		Sign:      s.Sign.String(),
	}
}

type feedStatusJSON struct {
	Venue        types.Venue `json:"venue"`
	SymbolCount  int         `json:"symbolCount"`
	NewestSample time.Time   `json:"newestSample"`
}

// handleFeeds reports per-venue feed connectivity: how many symbols each
// feed currently holds a sample for and the most recent observation time.
func (s *Server) handleFeeds(w http.ResponseWriter, r *http.Request) {
	out := make([]feedStatusJSON, 0, len(s.feeds))
	for venue, feed := range s.feeds {
		snap := feed.Snapshot()
		var newest time.Time
		for _, sample := range snap {
			if sample.ObservedAt.After(newest) {
				newest = sample.ObservedAt
			}
		}
		out = append(out, feedStatusJSON{
			Venue:        venue,
			SymbolCount:  len(snap),
			NewestSample: newest,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// handleHealth is a liveness probe: it never depends on the database, only
// that the process is accepting connections.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
