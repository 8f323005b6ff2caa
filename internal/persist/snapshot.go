package persist

import (
	"context"
	"fmt"
	"log"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/ndrandal/arb-controller/internal/types"
)

// SymbolSource supplies the tradable symbol metadata to mirror, one call per
// venue gateway (internal/venue.Gateway.FetchSymbols satisfies this).
type SymbolSource func(ctx context.Context) ([]types.SymbolMeta, error)

// SymbolCache periodically upserts discovered symbol metadata into Mongo for
// observability: what each venue currently considers tradable.
type SymbolCache struct {
	store   *Store
	sources []SymbolSource
}

// NewSymbolCache creates a SymbolCache drawing from one FetchSymbols source
// per venue gateway.
func NewSymbolCache(store *Store, sources ...SymbolSource) *SymbolCache {
	return &SymbolCache{store: store, sources: sources}
}

// Run upserts symbol metadata from every source on interval, until ctx is
// cancelled.
func (c *SymbolCache) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	c.refresh(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.refresh(ctx)
		}
	}
}

func (c *SymbolCache) refresh(ctx context.Context) {
	for _, source := range c.sources {
		metas, err := source(ctx)
		if err != nil {
			log.Printf("symbol cache: refresh error: %v", err)
			continue
		}
		for _, m := range metas {
			filter := bson.M{"symbol": string(m.Symbol), "venue": string(m.Venue)}
			update := bson.M{"$set": bson.M{
				"symbol":     string(m.Symbol),
				"venue":      string(m.Venue),
				"min_qty":    m.MinQty.String(),
				"qty_step":   m.QtyStep.String(),
				"tick_size":  m.TickSize.String(),
				"updated_at": time.Now(),
			}}
			opts := options.UpdateOne().SetUpsert(true)
			if _, err := c.store.db.Collection("symbols").UpdateOne(ctx, filter, update, opts); err != nil {
				log.Printf("symbol cache: upsert %s/%s: %v", m.Venue, m.Symbol, err)
			}
		}
	}
}

// TradeMirror implements trader.TradeRecorder by inserting each completed
// trade into the Mongo trades collection, alongside the ndjson trade log, so
// /api/trades and /api/stats have a queryable source.
type TradeMirror struct {
	store *Store
}

// NewTradeMirror creates a TradeMirror writing to store.
func NewTradeMirror(store *Store) *TradeMirror {
	return &TradeMirror{store: store}
}

// RecordTrade inserts rec into the trades collection.
func (m *TradeMirror) RecordTrade(ctx context.Context, rec types.TradeRecord) error {
	if _, err := m.store.db.Collection("trades").InsertOne(ctx, toDocument(rec)); err != nil {
		return fmt.Errorf("mirror trade: %w", err)
	}
	return nil
}
