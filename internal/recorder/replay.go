package recorder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/alanyoungcy/gannbot/internal/codec"
	"github.com/alanyoungcy/gannbot/internal/domain"
)

// Replay decodes events from r into out until a clean end of stream and
// returns the number of events delivered. A truncated final record is
// reported as io.ErrUnexpectedEOF.
func Replay(ctx context.Context, r io.Reader, out chan<- domain.Event) (int, error) {
	dec := codec.NewDecoder(r)
	n := 0
	for {
		ev, err := dec.Decode()
		if errors.Is(err, io.EOF) {
			return n, nil
		}
		if err != nil {
			return n, fmt.Errorf("recorder: replay event %d: %w", n, err)
		}
		select {
		case out <- ev:
			n++
		case <-ctx.Done():
			return n, ctx.Err()
		}
	}
}

// Source selects where OpenSegments finds recorded segments. With Blobs set
// segments are listed under "{Prefix}/" in object storage, otherwise they
// are matched as "{Dir}/{Prefix}-*.bin".
type Source struct {
	Dir    string
	Prefix string
	Blobs  domain.BlobReader
}

// Segments reads a sequence of segments back to back, opening each one
// only when the previous is exhausted.
type Segments struct {
	ctx   context.Context
	names []string
	open  func(ctx context.Context, name string) (io.ReadCloser, error)
	next  int
	cur   io.ReadCloser
}

// OpenSegments lists the segments of src in lexical (chronological) order.
func OpenSegments(ctx context.Context, src Source) (*Segments, error) {
	prefix := src.Prefix
	if prefix == "" {
		prefix = "events"
	}

	if src.Blobs != nil {
		infos, err := src.Blobs.List(ctx, prefix+"/")
		if err != nil {
			return nil, fmt.Errorf("recorder: list segments: %w", err)
		}
		var names []string
		for _, info := range infos {
			if strings.HasSuffix(info.Path, ".bin") {
				names = append(names, info.Path)
			}
		}
		slices.Sort(names)
		return &Segments{ctx: ctx, names: names, open: src.Blobs.Get}, nil
	}

	names, err := filepath.Glob(filepath.Join(src.Dir, prefix+"-*.bin"))
	if err != nil {
		return nil, fmt.Errorf("recorder: glob segments: %w", err)
	}
	slices.Sort(names)
	openFile := func(_ context.Context, name string) (io.ReadCloser, error) {
		return os.Open(name)
	}
	return &Segments{ctx: ctx, names: names, open: openFile}, nil
}

// Names returns the segments in the order they are read.
func (s *Segments) Names() []string {
	return slices.Clone(s.names)
}

func (s *Segments) Read(p []byte) (int, error) {
	for {
		if s.cur == nil {
			if s.next >= len(s.names) {
				return 0, io.EOF
			}
			rc, err := s.open(s.ctx, s.names[s.next])
			if err != nil {
				return 0, fmt.Errorf("recorder: open segment %s: %w", s.names[s.next], err)
			}
			s.cur = rc
			s.next++
		}

		n, err := s.cur.Read(p)
		if errors.Is(err, io.EOF) {
			_ = s.cur.Close()
			s.cur = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

// Close releases the segment currently open, if any.
func (s *Segments) Close() error {
	if s.cur == nil {
		return nil
	}
	err := s.cur.Close()
	s.cur = nil
	return err
}
