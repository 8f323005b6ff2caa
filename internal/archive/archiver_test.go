package archive

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.mongodb.org/mongo-driver/v2/bson"
)

func sampleArchivedTrade(symbol string, exitedAt time.Time) archivedTrade {
	return archivedTrade{
		ID:              bson.NewObjectID(),
		Symbol:          symbol,
		LongVenue:       "A",
		ShortVenue:      "B",
		SignalSpreadPct: 0.6,
		EntrySpreadPct:  0.55,
		ExitSpreadPct:   0.1,
		LongEntryPrice:  "100",
		ShortEntryPrice: "100.6",
		LongExitPrice:   "100",
		ShortExitPrice:  "100.1",
		LongQty:         "1",
		ShortQty:        "1",
		LongPnL:         "0",
		ShortPnL:        "0.5",
		NetPnL:          "0.5",
		ExitType:        "take_profit",
		EnteredAt:       exitedAt.Add(-time.Minute),
		ExitedAt:        exitedAt,
	}
}

func TestGroupByDayBucketsOnExitedAt(t *testing.T) {
	day1 := time.Date(2026, 7, 29, 10, 0, 0, 0, time.UTC)
	day2 := time.Date(2026, 7, 30, 10, 0, 0, 0, time.UTC)

	trades := []archivedTrade{
		sampleArchivedTrade("BTCUSDT", day1),
		sampleArchivedTrade("ETHUSDT", day1),
		sampleArchivedTrade("BTCUSDT", day2),
	}

	batches := groupByDay(trades)

	if len(batches["2026/07/29"]) != 2 {
		t.Fatalf("expected 2 trades for day1, got %d", len(batches["2026/07/29"]))
	}
	if len(batches["2026/07/30"]) != 1 {
		t.Fatalf("expected 1 trade for day2, got %d", len(batches["2026/07/30"]))
	}
}

func TestWriteBatchWritesGzippedNDJSONLocally(t *testing.T) {
	dir := t.TempDir()
	a := New(nil, dir, 10, 24, 720)

	trades := []archivedTrade{
		sampleArchivedTrade("BTCUSDT", time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC)),
		sampleArchivedTrade("ETHUSDT", time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC)),
	}

	if err := a.writeBatch(context.Background(), "2026/07/30", trades); err != nil {
		t.Fatalf("writeBatch: %v", err)
	}

	path := filepath.Join(dir, "trades", "2026/07/30.jsonl.gz")
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read archived file: %v", err)
	}

	gz, err := gzip.NewReader(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("gzip reader: %v", err)
	}
	defer gz.Close()

	var decoded []archivedTrade
	dec := json.NewDecoder(gz)
	for dec.More() {
		var d archivedTrade
		if err := dec.Decode(&d); err != nil {
			t.Fatalf("decode: %v", err)
		}
		decoded = append(decoded, d)
	}
	if len(decoded) != 2 {
		t.Fatalf("expected 2 decoded trades, got %d", len(decoded))
	}
}

type fakeS3Uploader struct {
	calls int
	key   string
}

func (f *fakeS3Uploader) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.calls++
	if params.Key != nil {
		f.key = *params.Key
	}
	return &s3.PutObjectOutput{}, nil
}

func TestWriteBatchMirrorsToS3WhenConfigured(t *testing.T) {
	dir := t.TempDir()
	a := New(nil, dir, 10, 24, 720)

	fake := &fakeS3Uploader{}
	a.s3 = fake
	a.bucket = "archived-trades"

	trades := []archivedTrade{sampleArchivedTrade("BTCUSDT", time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC))}

	if err := a.writeBatch(context.Background(), "2026/07/30", trades); err != nil {
		t.Fatalf("writeBatch: %v", err)
	}

	if fake.calls != 1 {
		t.Fatalf("expected 1 S3 upload call, got %d", fake.calls)
	}
	if fake.key != filepath.Join("trades", "2026/07/30.jsonl.gz") {
		t.Errorf("unexpected S3 key: %q", fake.key)
	}
}

func TestRotateDeletesOldestFilesUntilUnderLimit(t *testing.T) {
	dir := t.TempDir()
	a := New(nil, dir, 0, 24, 720) // maxBytes=0 forces rotation of everything
	a.maxBytes = 10                // small limit so rotation kicks in

	root := filepath.Join(dir, "trades")
	os.MkdirAll(filepath.Join(root, "2026/07"), 0o755)

	paths := []string{
		filepath.Join(root, "2026/07/28.jsonl.gz"),
		filepath.Join(root, "2026/07/29.jsonl.gz"),
		filepath.Join(root, "2026/07/30.jsonl.gz"),
	}
	for _, p := range paths {
		if err := os.WriteFile(p, []byte("0123456789"), 0o644); err != nil {
			t.Fatalf("write fixture: %v", err)
		}
	}

	a.rotate()

	remaining := 0
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			remaining++
		}
	}
	if remaining >= len(paths) {
		t.Fatalf("expected rotate to remove at least one file, %d remain", remaining)
	}
}
