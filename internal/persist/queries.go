package persist

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/ndrandal/arb-controller/internal/types"
)

// tradeDocument mirrors types.TradeRecord for Mongo storage. Decimal fields
// are kept as strings: shopspring/decimal doesn't implement the bson.Value
// marshaler interfaces, and round-tripping through float64 would lose the
// precision the venue gateways snap to.
type tradeDocument struct {
	Symbol     string `bson:"symbol"`
	LongVenue  string `bson:"long_venue"`
	ShortVenue string `bson:"short_venue"`

	SignalSpreadPct float64 `bson:"signal_spread_pct"`
	EntrySpreadPct  float64 `bson:"entry_spread_pct"`
	ExitSpreadPct   float64 `bson:"exit_spread_pct"`

	LongEntryPrice  string `bson:"long_entry_price"`
	ShortEntryPrice string `bson:"short_entry_price"`
	LongExitPrice   string `bson:"long_exit_price"`
	ShortExitPrice  string `bson:"short_exit_price"`

	LongQty  string `bson:"long_qty"`
	ShortQty string `bson:"short_qty"`

	LongPnL  string `bson:"long_pnl"`
	ShortPnL string `bson:"short_pnl"`
	NetPnL   string `bson:"net_pnl"`

	ExitType  string    `bson:"exit_type"`
	EnteredAt time.Time `bson:"entered_at"`
	ExitedAt  time.Time `bson:"exited_at"`
}

func toDocument(r types.TradeRecord) tradeDocument {
	return tradeDocument{
		Symbol:          string(r.Symbol),
		LongVenue:       string(r.LongVenue),
		ShortVenue:      string(r.ShortVenue),
		SignalSpreadPct: r.SignalSpreadPct,
		EntrySpreadPct:  r.EntrySpreadPct,
		ExitSpreadPct:   r.ExitSpreadPct,
		LongEntryPrice:  r.LongEntryPrice.String(),
		ShortEntryPrice: r.ShortEntryPrice.String(),
		LongExitPrice:   r.LongExitPrice.String(),
		ShortExitPrice:  r.ShortExitPrice.String(),
		LongQty:         r.LongQty.String(),
		ShortQty:        r.ShortQty.String(),
		LongPnL:         r.LongPnL.String(),
		ShortPnL:        r.ShortPnL.String(),
		NetPnL:          r.NetPnL.String(),
		ExitType:        string(r.ExitType),
		EnteredAt:       r.EnteredAt,
		ExitedAt:        r.ExitedAt,
	}
}

func fromDocument(d tradeDocument) types.TradeRecord {
	dec := func(s string) decimal.Decimal {
		v, err := decimal.NewFromString(s)
		if err != nil {
			return decimal.Zero
		}
		return v
	}
	return types.TradeRecord{
		Symbol:          types.Symbol(d.Symbol),
		LongVenue:       types.Venue(d.LongVenue),
		ShortVenue:      types.Venue(d.ShortVenue),
		SignalSpreadPct: d.SignalSpreadPct,
		EntrySpreadPct:  d.EntrySpreadPct,
		ExitSpreadPct:   d.ExitSpreadPct,
		LongEntryPrice:  dec(d.LongEntryPrice),
		ShortEntryPrice: dec(d.ShortEntryPrice),
		LongExitPrice:   dec(d.LongExitPrice),
		ShortExitPrice:  dec(d.ShortExitPrice),
		LongQty:         dec(d.LongQty),
		ShortQty:        dec(d.ShortQty),
		LongPnL:         dec(d.LongPnL),
		ShortPnL:        dec(d.ShortPnL),
		NetPnL:          dec(d.NetPnL),
		ExitType:        types.ExitType(d.ExitType),
		EnteredAt:       d.EnteredAt,
		ExitedAt:        d.ExitedAt,
	}
}

// TradeFilter controls which trades to return.
type TradeFilter struct {
	Symbol types.Symbol
	Limit  int
	Offset int
	From   *time.Time
	To     *time.Time
}

// TradeStats holds aggregate trade statistics.
type TradeStats struct {
	TotalTrades int64   `json:"totalTrades"`
	Wins        int64   `json:"wins"`
	Losses      int64   `json:"losses"`
	TotalNetPnL float64 `json:"totalNetPnl"`
}

// TradeReader abstracts read-only trade/stats queries, backing the
// /api/trades and /api/stats endpoints.
type TradeReader interface {
	QueryTrades(ctx context.Context, f TradeFilter) ([]types.TradeRecord, error)
	QueryTradeStats(ctx context.Context) (TradeStats, error)
}

// MongoTradeReader implements TradeReader using a mongo.Database.
type MongoTradeReader struct {
	db *mongo.Database
}

// NewMongoTradeReader creates a new MongoTradeReader.
func NewMongoTradeReader(db *mongo.Database) *MongoTradeReader {
	return &MongoTradeReader{db: db}
}

// QueryTrades returns trade records with optional symbol filter, time range,
// and pagination, newest exit first.
func (r *MongoTradeReader) QueryTrades(ctx context.Context, f TradeFilter) ([]types.TradeRecord, error) {
	if f.Limit <= 0 || f.Limit > 1000 {
		f.Limit = 100
	}

	filter := bson.M{}
	if f.Symbol != "" {
		filter["symbol"] = string(f.Symbol)
	}
	if f.From != nil || f.To != nil {
		timeFilter := bson.M{}
		if f.From != nil {
			timeFilter["$gte"] = *f.From
		}
		if f.To != nil {
			timeFilter["$lte"] = *f.To
		}
		filter["exited_at"] = timeFilter
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "exited_at", Value: -1}}).
		SetLimit(int64(f.Limit)).
		SetSkip(int64(f.Offset))

	cursor, err := r.db.Collection("trades").Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("query trades: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []tradeDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode trades: %w", err)
	}
	out := make([]types.TradeRecord, len(docs))
	for i, d := range docs {
		out[i] = fromDocument(d)
	}
	return out, nil
}

// QueryTradeStats returns aggregate win/loss counts and total net PnL across
// every recorded trade.
func (r *MongoTradeReader) QueryTradeStats(ctx context.Context) (TradeStats, error) {
	cursor, err := r.db.Collection("trades").Find(ctx, bson.M{})
	if err != nil {
		return TradeStats{}, fmt.Errorf("query trade stats: %w", err)
	}
	defer cursor.Close(ctx)

	var stats TradeStats
	for cursor.Next(ctx) {
		var d tradeDocument
		if err := cursor.Decode(&d); err != nil {
			return TradeStats{}, fmt.Errorf("decode trade stats: %w", err)
		}
		rec := fromDocument(d)
		stats.TotalTrades++
		pnl, _ := rec.NetPnL.Float64()
		stats.TotalNetPnL += pnl
		if rec.NetPnL.IsPositive() {
			stats.Wins++
		} else if rec.NetPnL.IsNegative() {
			stats.Losses++
		}
	}
	if err := cursor.Err(); err != nil {
		return TradeStats{}, fmt.Errorf("iterate trade stats: %w", err)
	}
	return stats, nil
}
