package archive

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// s3Uploader is the subset of *s3.Client the archiver needs; narrowed so
// tests can substitute a fake without pulling in AWS credentials.
type s3Uploader interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Archiver periodically moves old trade records from MongoDB to gzipped
// NDJSON files, written to local disk and, if configured, mirrored to S3.
// Local files beyond maxBytes are rotated out regardless of the S3 mirror.
type Archiver struct {
	db       *mongo.Database
	dir      string
	maxBytes int64
	interval time.Duration
	maxAge   time.Duration

	s3     s3Uploader
	bucket string
}

// New creates a new Archiver.
func New(db *mongo.Database, dir string, maxGB, intervalHours, afterHours int) *Archiver {
	return &Archiver{
		db:       db,
		dir:      dir,
		maxBytes: int64(maxGB) * 1 << 30,
		interval: time.Duration(intervalHours) * time.Hour,
		maxAge:   time.Duration(afterHours) * time.Hour,
	}
}

// WithS3Mirror configures the archiver to additionally upload every archived
// batch to the given S3 bucket, keyed the same way as the local path
// (trades/YYYY/MM/DD.jsonl.gz). Loads credentials from the standard AWS
// environment/config chain.
func (a *Archiver) WithS3Mirror(ctx context.Context, bucket string) error {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return fmt.Errorf("load aws config: %w", err)
	}
	a.s3 = s3.NewFromConfig(cfg)
	a.bucket = bucket
	return nil
}

// Run starts the periodic archive loop. Blocks until ctx is cancelled.
func (a *Archiver) Run(ctx context.Context) {
	log.Printf("trade archiver: dir=%s max=%dGB interval=%v age=%v",
		a.dir, a.maxBytes>>30, a.interval, a.maxAge)

	a.cycle(ctx)

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.cycle(ctx)
		}
	}
}

func (a *Archiver) cycle(ctx context.Context) {
	cursor, err := a.loadCursor(ctx)
	if err != nil {
		log.Printf("trade archiver: load cursor: %v", err)
		return
	}

	cutoff := time.Now().Add(-a.maxAge)
	if !cursor.Before(cutoff) {
		return
	}

	trades, err := a.queryTrades(ctx, cursor, cutoff)
	if err != nil {
		log.Printf("trade archiver: query: %v", err)
		return
	}
	if len(trades) == 0 {
		a.saveCursor(ctx, cutoff)
		return
	}

	batches := groupByDay(trades)

	for day, batch := range batches {
		if err := a.writeBatch(ctx, day, batch); err != nil {
			log.Printf("trade archiver: write %s: %v", day, err)
			return
		}

		if err := a.deleteBatch(ctx, batch); err != nil {
			log.Printf("trade archiver: delete %s: %v", day, err)
			return
		}

		log.Printf("trade archiver: archived %d trades for %s", len(batch), day)
	}

	a.saveCursor(ctx, cutoff)
	a.rotate()
}

// archivedTrade mirrors internal/persist's trade document shape: decimal
// fields travel as strings so archived NDJSON round-trips without precision
// loss, same as the Mongo mirror.
type archivedTrade struct {
	ID              bson.ObjectID `bson:"_id" json:"-"`
	Symbol          string        `bson:"symbol" json:"symbol"`
	LongVenue       string        `bson:"long_venue" json:"long_venue"`
	ShortVenue      string        `bson:"short_venue" json:"short_venue"`
	SignalSpreadPct float64       `bson:"signal_spread_pct" json:"signal_spread_pct"`
	EntrySpreadPct  float64       `bson:"entry_spread_pct" json:"entry_spread_pct"`
	ExitSpreadPct   float64       `bson:"exit_spread_pct" json:"exit_spread_pct"`
	LongEntryPrice  string        `bson:"long_entry_price" json:"long_entry_price"`
	ShortEntryPrice string        `bson:"short_entry_price" json:"short_entry_price"`
	LongExitPrice   string        `bson:"long_exit_price" json:"long_exit_price"`
	ShortExitPrice  string        `bson:"short_exit_price" json:"short_exit_price"`
	LongQty         string        `bson:"long_qty" json:"long_qty"`
	ShortQty        string        `bson:"short_qty" json:"short_qty"`
	LongPnL         string        `bson:"long_pnl" json:"long_pnl"`
	ShortPnL        string        `bson:"short_pnl" json:"short_pnl"`
	NetPnL          string        `bson:"net_pnl" json:"net_pnl"`
	ExitType        string        `bson:"exit_type" json:"exit_type"`
	EnteredAt       time.Time     `bson:"entered_at" json:"entered_at"`
	ExitedAt        time.Time     `bson:"exited_at" json:"exited_at"`
}

func (a *Archiver) loadCursor(ctx context.Context) (time.Time, error) {
	var doc struct {
		ValueTime time.Time `bson:"value_time"`
	}
	err := a.db.Collection("archive_state").FindOne(ctx, bson.M{"key": "archive_cursor"}).Decode(&doc)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return time.Time{}, nil
		}
		return time.Time{}, err
	}
	return doc.ValueTime, nil
}

func (a *Archiver) saveCursor(ctx context.Context, t time.Time) {
	_, err := a.db.Collection("archive_state").UpdateOne(ctx,
		bson.M{"key": "archive_cursor"},
		bson.M{"$set": bson.M{
			"key":        "archive_cursor",
			"value_time": t,
			"updated_at": time.Now(),
		}},
		options.UpdateOne().SetUpsert(true),
	)
	if err != nil {
		log.Printf("trade archiver: save cursor: %v", err)
	}
}

func (a *Archiver) queryTrades(ctx context.Context, from, to time.Time) ([]archivedTrade, error) {
	filter := bson.M{
		"exited_at": bson.M{"$gte": from, "$lt": to},
	}
	opts := options.Find().SetSort(bson.D{{Key: "exited_at", Value: 1}})

	cur, err := a.db.Collection("trades").Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("find trades: %w", err)
	}
	defer cur.Close(ctx)

	var trades []archivedTrade
	if err := cur.All(ctx, &trades); err != nil {
		return nil, fmt.Errorf("decode trades: %w", err)
	}
	return trades, nil
}

func groupByDay(trades []archivedTrade) map[string][]archivedTrade {
	batches := make(map[string][]archivedTrade)
	for _, t := range trades {
		day := t.ExitedAt.UTC().Format("2006/01/02")
		batches[day] = append(batches[day], t)
	}
	return batches
}

// writeBatch writes trades as gzipped NDJSON to dir/trades/YYYY/MM/DD.jsonl.gz,
// additionally uploading the same bytes to the configured S3 bucket (if any)
// under the identical key.
func (a *Archiver) writeBatch(ctx context.Context, day string, trades []archivedTrade) error {
	key := filepath.Join("trades", day+".jsonl.gz")
	path := filepath.Join(a.dir, key)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	enc := json.NewEncoder(gz)
	for _, t := range trades {
		if err := enc.Encode(t); err != nil {
			gz.Close()
			return fmt.Errorf("encode: %w", err)
		}
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("gzip close: %w", err)
	}

	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write: %w", err)
	}

	if a.s3 != nil {
		if err := a.uploadToS3(ctx, key, buf.Bytes()); err != nil {
			// The local file is already durable; S3 is a mirror, so log and
			// continue rather than losing the local archive over it.
			log.Printf("trade archiver: s3 upload %s: %v", key, err)
		}
	}

	return nil
}

func (a *Archiver) uploadToS3(ctx context.Context, key string, body []byte) error {
	_, err := a.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket: &a.bucket,
		Key:    &key,
		Body:   bytes.NewReader(body),
	})
	if err != nil {
		return fmt.Errorf("put object: %w", err)
	}
	return nil
}

func (a *Archiver) deleteBatch(ctx context.Context, trades []archivedTrade) error {
	ids := make([]bson.ObjectID, len(trades))
	for i, t := range trades {
		ids[i] = t.ID
	}

	_, err := a.db.Collection("trades").DeleteMany(ctx, bson.M{
		"_id": bson.M{"$in": ids},
	})
	if err != nil {
		return fmt.Errorf("delete archived trades: %w", err)
	}
	return nil
}

// rotate deletes the oldest archive files until total size is under maxBytes.
func (a *Archiver) rotate() {
	root := filepath.Join(a.dir, "trades")

	type entry struct {
		path string
		size int64
	}

	var files []entry
	var total int64

	filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return nil
		}
		files = append(files, entry{path: path, size: info.Size()})
		total += info.Size()
		return nil
	})

	if total <= a.maxBytes {
		return
	}

	// Sort oldest first (path is YYYY/MM/DD so lexicographic = chronological).
	sort.Slice(files, func(i, j int) bool {
		return files[i].path < files[j].path
	})

	for _, f := range files {
		if total <= a.maxBytes {
			break
		}
		if err := os.Remove(f.path); err != nil {
			log.Printf("trade archiver: remove %s: %v", f.path, err)
			continue
		}
		total -= f.size
		log.Printf("trade archiver: rotated out %s (%d bytes)", f.path, f.size)
	}
}
