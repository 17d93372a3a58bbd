package recorder

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/gannbot/internal/codec"
	"github.com/alanyoungcy/gannbot/internal/domain"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func offerEvent(i int) domain.Event {
	return domain.OfferAdded(domain.Offer{
		OrderID:   "order-" + strconv.Itoa(i),
		Amount:    decimal.RequireFromString("0.5"),
		MinAmount: decimal.RequireFromString("0.01"),
		Price:     int64(450000 + i),
		Side:      domain.SideSell,
		Pair:      domain.PairBTCEUR,
		Date:      time.Unix(1_700_000_000+int64(i), 0).UTC(),
	})
}

type memBlobs struct {
	objects   map[string][]byte
	puts      int
	multipart int
}

func newMemBlobs() *memBlobs { return &memBlobs{objects: map[string][]byte{}} }

func (m *memBlobs) Put(_ context.Context, path string, data io.Reader, _ string) error {
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	m.objects[path] = b
	m.puts++
	return nil
}

func (m *memBlobs) PutMultipart(_ context.Context, path string, data io.Reader, _ int64) error {
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	m.objects[path] = b
	m.multipart++
	return nil
}

func (m *memBlobs) Get(_ context.Context, path string) (io.ReadCloser, error) {
	b, ok := m.objects[path]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (m *memBlobs) List(_ context.Context, prefix string) ([]domain.BlobInfo, error) {
	var out []domain.BlobInfo
	for k, v := range m.objects {
		if strings.HasPrefix(k, prefix) {
			out = append(out, domain.BlobInfo{Path: k, Size: int64(len(v))})
		}
	}
	return out, nil
}

func (m *memBlobs) Exists(_ context.Context, path string) (bool, error) {
	_, ok := m.objects[path]
	return ok, nil
}

func collect(t *testing.T, r io.Reader) []domain.Event {
	t.Helper()
	out := make(chan domain.Event, 1024)
	n, err := Replay(context.Background(), r, out)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	close(out)
	var evs []domain.Event
	for ev := range out {
		evs = append(evs, ev)
	}
	if len(evs) != n {
		t.Fatalf("Replay reported %d events, delivered %d", n, len(evs))
	}
	return evs
}

func TestRecordRotateAndUpload(t *testing.T) {
	dir := t.TempDir()
	blobs := newMemBlobs()
	one, err := codec.Marshal(offerEvent(0))
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	rec, err := New(Options{Dir: dir, Prefix: "btc", RotateBytes: int64(2 * len(one)), Uploader: blobs}, discard())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	rec.now = func() time.Time { return time.Unix(1_700_000_000, 0) }

	ctx := context.Background()
	for i := range 5 {
		if err := rec.Record(ctx, offerEvent(i)); err != nil {
			t.Fatalf("Record %d: %v", i, err)
		}
	}
	if err := rec.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}

	files, _ := filepath.Glob(filepath.Join(dir, "btc-*.bin"))
	slices.Sort(files)
	want := []string{"btc-1700000000.bin", "btc-1700000001.bin", "btc-1700000002.bin"}
	if len(files) != len(want) {
		t.Fatalf("segments = %v", files)
	}
	for i, f := range files {
		if filepath.Base(f) != want[i] {
			t.Fatalf("segment %d = %s, want %s", i, filepath.Base(f), want[i])
		}
		if _, ok := blobs.objects["btc/"+want[i]]; !ok {
			t.Fatalf("segment %s not uploaded", want[i])
		}
	}

	segs, err := OpenSegments(ctx, Source{Dir: dir, Prefix: "btc"})
	if err != nil {
		t.Fatalf("OpenSegments: %v", err)
	}
	defer segs.Close()
	evs := collect(t, segs)
	if len(evs) != 5 {
		t.Fatalf("replayed %d events, want 5", len(evs))
	}
	for i, ev := range evs {
		if ev.Offer.OrderID != "order-"+strconv.Itoa(i) {
			t.Fatalf("event %d out of order: %s", i, ev.Offer.OrderID)
		}
	}
}

func TestUploadLargeSegmentInParts(t *testing.T) {
	dir := t.TempDir()
	blobs := newMemBlobs()
	one, err := codec.Marshal(offerEvent(0))
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	// The first segment holds two records and crosses the threshold, the
	// second holds one and does not.
	rec, err := New(Options{
		Dir:            dir,
		Prefix:         "btc",
		RotateBytes:    int64(2 * len(one)),
		MultipartBytes: int64(2 * len(one)),
		Uploader:       blobs,
	}, discard())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	rec.now = func() time.Time { return time.Unix(1_700_000_000, 0) }

	ctx := context.Background()
	for i := range 3 {
		if err := rec.Record(ctx, offerEvent(i)); err != nil {
			t.Fatalf("Record %d: %v", i, err)
		}
	}
	if err := rec.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if blobs.multipart != 1 || blobs.puts != 1 {
		t.Fatalf("multipart = %d, puts = %d, want 1 and 1", blobs.multipart, blobs.puts)
	}
	if got := len(blobs.objects["btc/btc-1700000000.bin"]); got != 2*len(one) {
		t.Fatalf("multipart object is %d bytes, want %d", got, 2*len(one))
	}
}

func TestUploadSkipsStoredSegment(t *testing.T) {
	dir := t.TempDir()
	blobs := newMemBlobs()
	blobs.objects["btc/btc-1700000000.bin"] = []byte("stored")

	rec, err := New(Options{Dir: dir, Prefix: "btc", Uploader: blobs, Remote: blobs}, discard())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	rec.now = func() time.Time { return time.Unix(1_700_000_000, 0) }

	ctx := context.Background()
	if err := rec.Record(ctx, offerEvent(0)); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := rec.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if blobs.puts != 0 || blobs.multipart != 0 {
		t.Fatalf("stored segment uploaded again (puts %d, multipart %d)", blobs.puts, blobs.multipart)
	}
	if string(blobs.objects["btc/btc-1700000000.bin"]) != "stored" {
		t.Fatal("stored segment overwritten")
	}
}

func TestOpenSegmentsFromBlobs(t *testing.T) {
	blobs := newMemBlobs()
	for i, name := range []string{"btc/btc-1700000005.bin", "btc/btc-1700000001.bin"} {
		b, err := codec.Marshal(offerEvent(10 - i))
		if err != nil {
			t.Fatalf("Marshal: %v", err)
		}
		blobs.objects[name] = b
	}
	blobs.objects["btc/notes.txt"] = []byte("ignored")

	segs, err := OpenSegments(context.Background(), Source{Prefix: "btc", Blobs: blobs})
	if err != nil {
		t.Fatalf("OpenSegments: %v", err)
	}
	if names := segs.Names(); len(names) != 2 || names[0] != "btc/btc-1700000001.bin" {
		t.Fatalf("names = %v", names)
	}
	evs := collect(t, segs)
	if len(evs) != 2 || evs[0].Offer.OrderID != "order-9" || evs[1].Offer.OrderID != "order-10" {
		t.Fatalf("events = %+v", evs)
	}
}

func TestReplayTruncatedTail(t *testing.T) {
	var buf bytes.Buffer
	enc := codec.NewEncoder(&buf)
	for i := range 2 {
		if _, err := enc.Encode(offerEvent(i)); err != nil {
			t.Fatalf("Encode: %v", err)
		}
	}
	data := buf.Bytes()[:buf.Len()-3]

	out := make(chan domain.Event, 4)
	n, err := Replay(context.Background(), bytes.NewReader(data), out)
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("err = %v, want unexpected EOF", err)
	}
	if n != 1 {
		t.Fatalf("delivered %d events before the truncated one, want 1", n)
	}
}

func TestNewRequiresDir(t *testing.T) {
	if _, err := New(Options{}, discard()); err == nil {
		t.Fatalf("expected error without directory")
	}
}
