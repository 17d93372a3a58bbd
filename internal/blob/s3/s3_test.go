package s3blob

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/gannbot/internal/domain"
)

func TestNormaliseEndpoint(t *testing.T) {
	cases := []struct {
		in     string
		useSSL bool
		want   string
	}{
		{"minio:9000", false, "http://minio:9000"},
		{"e2.example.com", true, "https://e2.example.com"},
		{"https://s3.example.com", false, "https://s3.example.com"},
	}
	for _, c := range cases {
		if got := normaliseEndpoint(c.in, c.useSSL); got != c.want {
			t.Fatalf("normaliseEndpoint(%q, %v) = %q, want %q", c.in, c.useSSL, got, c.want)
		}
	}
}

type memWriter struct {
	objects map[string][]byte
}

func (m *memWriter) Put(_ context.Context, path string, data io.Reader, _ string) error {
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	m.objects[path] = b
	return nil
}

func (m *memWriter) PutMultipart(ctx context.Context, path string, data io.Reader, _ int64) error {
	return m.Put(ctx, path, data, "")
}

type memTrades struct {
	fills []domain.Fill
	opts  domain.ListOpts
}

func (m *memTrades) Record(_ context.Context, f domain.Fill) error {
	m.fills = append(m.fills, f)
	return nil
}

func (m *memTrades) ListByTrader(_ context.Context, trader string, opts domain.ListOpts) ([]domain.Fill, error) {
	m.opts = opts
	var out []domain.Fill
	for _, f := range m.fills {
		if f.Trader == trader {
			out = append(out, f)
		}
	}
	return out, nil
}

type memAudit struct {
	events []string
}

func (m *memAudit) Log(_ context.Context, event string, _ map[string]any) error {
	m.events = append(m.events, event)
	return nil
}

func TestArchiveFills(t *testing.T) {
	w := &memWriter{objects: map[string][]byte{}}
	trades := &memTrades{fills: []domain.Fill{
		{ID: "a", Trader: "alpha", Action: domain.ActionBought, Price: 450000, Filled: decimal.RequireFromString("0.0222")},
		{ID: "b", Trader: "alpha", Action: domain.ActionSold, Price: 500000, Filled: decimal.RequireFromString("0.0222")},
		{ID: "c", Trader: "beta", Action: domain.ActionBought, Price: 440000},
	}}
	audit := &memAudit{}
	before := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	n, err := NewArchiver(w, trades, audit).ArchiveFills(context.Background(), "alpha", before)
	if err != nil {
		t.Fatalf("ArchiveFills: %v", err)
	}
	if n != 2 {
		t.Fatalf("archived %d, want 2", n)
	}
	if trades.opts.Until == nil || !trades.opts.Until.Equal(before) {
		t.Fatalf("query not bounded by cutoff: %+v", trades.opts)
	}

	body, ok := w.objects["archive/fills/alpha/2024-03.jsonl"]
	if !ok {
		t.Fatalf("objects = %v", w.objects)
	}
	if lines := bytes.Count(body, []byte("\n")); lines != 2 {
		t.Fatalf("lines = %d, want 2", lines)
	}
	if !strings.Contains(string(body), `"0.0222"`) {
		t.Fatalf("quantity not serialized as decimal string: %s", body)
	}
	if len(audit.events) != 1 || audit.events[0] != "archive.fills" {
		t.Fatalf("audit events = %v", audit.events)
	}
}

func TestArchiveFillsEmpty(t *testing.T) {
	w := &memWriter{objects: map[string][]byte{}}
	n, err := NewArchiver(w, &memTrades{}, nil).ArchiveFills(context.Background(), "alpha", time.Now())
	if err != nil || n != 0 {
		t.Fatalf("ArchiveFills = %d, %v", n, err)
	}
	if len(w.objects) != 0 {
		t.Fatalf("uploaded %v for empty journal", w.objects)
	}
}
