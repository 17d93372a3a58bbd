// Package file persists trader snapshots as JSON files that are overwritten
// in place after every trade.
package file

import (
	"bytes"
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/gannbot/internal/domain"
)

// SnapshotStore implements domain.SnapshotStore on a single file.
type SnapshotStore struct {
	path string
	mu   sync.Mutex
}

// NewSnapshotStore returns a store writing to path. Parent directories are
// created on the first save.
func NewSnapshotStore(path string) *SnapshotStore {
	return &SnapshotStore{path: path}
}

// Path returns the file location.
func (s *SnapshotStore) Path() string { return s.path }

// Load reads the snapshot. It returns domain.ErrNotFound if nothing was
// saved yet. Files holding the depot as a price-keyed object are accepted.
func (s *SnapshotStore) Load(_ context.Context) (domain.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return domain.Snapshot{}, fmt.Errorf("file: load %s: %w", s.path, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("file: load %s: %w", s.path, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return domain.Snapshot{}, fmt.Errorf("file: load %s: empty: %w", s.path, domain.ErrNotFound)
	}
	snap, err := decodeSnapshot(data)
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("file: load %s: %w", s.path, err)
	}
	return snap, nil
}

// Save overwrites the file with snap. A shorter snapshot leaves no trailing
// bytes of the previous one.
func (s *SnapshotStore) Save(_ context.Context, snap domain.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("file: encode snapshot: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("file: create dir: %w", err)
		}
	}
	f, err := os.OpenFile(s.path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("file: open %s: %w", s.path, err)
	}
	defer f.Close()

	if _, err := f.WriteAt(data, 0); err != nil {
		return fmt.Errorf("file: write %s: %w", s.path, err)
	}
	if err := f.Truncate(int64(len(data))); err != nil {
		return fmt.Errorf("file: truncate %s: %w", s.path, err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("file: sync %s: %w", s.path, err)
	}
	return nil
}

func decodeSnapshot(data []byte) (domain.Snapshot, error) {
	var raw struct {
		domain.Snapshot
		Depot json.RawMessage `json:"depot"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return domain.Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	snap := raw.Snapshot

	depot := bytes.TrimSpace(raw.Depot)
	switch {
	case len(depot) == 0 || bytes.Equal(depot, []byte("null")):
		snap.Ledger = nil
	case depot[0] == '{':
		var legacy map[string]decimal.Decimal
		if err := json.Unmarshal(depot, &legacy); err != nil {
			return domain.Snapshot{}, fmt.Errorf("decode depot: %w", err)
		}
		snap.Ledger = make([]domain.Tier, 0, len(legacy))
		for k, q := range legacy {
			price, err := strconv.ParseInt(k, 10, 64)
			if err != nil {
				return domain.Snapshot{}, fmt.Errorf("decode depot price %q: %w", k, err)
			}
			snap.Ledger = append(snap.Ledger, domain.Tier{Price: price, Quantity: q})
		}
		slices.SortFunc(snap.Ledger, func(a, b domain.Tier) int {
			return cmp.Compare(a.Price, b.Price)
		})
	default:
		if err := json.Unmarshal(depot, &snap.Ledger); err != nil {
			return domain.Snapshot{}, fmt.Errorf("decode depot: %w", err)
		}
	}
	return snap, nil
}

var _ domain.SnapshotStore = (*SnapshotStore)(nil)
