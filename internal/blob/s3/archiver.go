package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/gannbot/internal/domain"
)

// Archiver copies the trade journal of each trader to object storage as
// newline-delimited JSON. Archived fills stay in the journal; pruning them
// is a separate, explicit step.
type Archiver struct {
	writer domain.BlobWriter
	trades domain.TradeStore
	audit  domain.AuditStore
}

// NewArchiver creates an Archiver. audit may be nil.
func NewArchiver(writer domain.BlobWriter, trades domain.TradeStore, audit domain.AuditStore) *Archiver {
	return &Archiver{writer: writer, trades: trades, audit: audit}
}

// ArchiveFills uploads every fill of trader executed before the cutoff to
// archive/fills/{trader}/YYYY-MM.jsonl and returns the number archived.
func (a *Archiver) ArchiveFills(ctx context.Context, trader string, before time.Time) (int64, error) {
	fills, err := a.trades.ListByTrader(ctx, trader, domain.ListOpts{Until: &before})
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive fills query: %w", err)
	}
	if len(fills) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(fills)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive fills marshal: %w", err)
	}

	path := archivePath(trader, before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive fills upload: %w", err)
	}

	count := int64(len(fills))
	if a.audit == nil {
		return count, nil
	}
	if err := a.audit.Log(ctx, "archive.fills", map[string]any{
		"trader": trader,
		"path":   path,
		"count":  count,
		"before": before.Format(time.RFC3339),
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive fills audit log: %w", err)
	}
	return count, nil
}

// archivePath builds the object key for an archive file, partitioned by the
// year-month of the cutoff time.
//
//	archive/fills/alpha/2025-01.jsonl
func archivePath(trader string, before time.Time) string {
	return fmt.Sprintf("archive/fills/%s/%s.jsonl", trader, before.UTC().Format("2006-01"))
}

// marshalJSONL serialises a slice of values as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
