// Package recorder persists the marketplace event stream as binary segment
// files and plays them back.
package recorder

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/alanyoungcy/gannbot/internal/codec"
	"github.com/alanyoungcy/gannbot/internal/domain"
)

const (
	// DefaultRotateBytes is the segment size after which a new file is started.
	DefaultRotateBytes int64 = 64 << 20

	// DefaultMultipartBytes is the segment size from which uploads are split
	// into parts.
	DefaultMultipartBytes int64 = 16 << 20

	// uploadPartSize is the part size of multipart segment uploads.
	uploadPartSize int64 = 8 << 20
)

// Options configures a Recorder.
type Options struct {
	Dir         string
	Prefix      string
	RotateBytes int64
	// Uploader receives finished segments under "{Prefix}/{file}". Nil keeps
	// segments local only.
	Uploader domain.BlobWriter
	// MultipartBytes is the size from which a segment is uploaded in parts.
	MultipartBytes int64
	// Remote, when set, is asked whether a segment is already stored; such
	// segments are not uploaded again.
	Remote domain.BlobReader
}

// Recorder appends codec-encoded events to the current segment file.
type Recorder struct {
	opts   Options
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	file    *os.File
	buf     *bufio.Writer
	enc     *codec.Encoder
	path    string
	written int64
}

// New creates a Recorder writing into opts.Dir, creating it if needed.
func New(opts Options, logger *slog.Logger) (*Recorder, error) {
	if opts.Dir == "" {
		return nil, errors.New("recorder: directory is required")
	}
	if opts.Prefix == "" {
		opts.Prefix = "events"
	}
	if opts.RotateBytes <= 0 {
		opts.RotateBytes = DefaultRotateBytes
	}
	if opts.MultipartBytes <= 0 {
		opts.MultipartBytes = DefaultMultipartBytes
	}
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("recorder: create dir: %w", err)
	}
	return &Recorder{
		opts:   opts,
		logger: logger.With(slog.String("component", "recorder")),
		now:    time.Now,
	}, nil
}

// Record appends ev to the current segment, rotating first when the segment
// has reached the configured size.
func (r *Recorder) Record(ctx context.Context, ev domain.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file != nil && r.written >= r.opts.RotateBytes {
		if err := r.finish(ctx); err != nil {
			return err
		}
	}
	if r.file == nil {
		if err := r.open(); err != nil {
			return err
		}
	}

	n, err := r.enc.Encode(ev)
	r.written += int64(n)
	if err != nil {
		return fmt.Errorf("recorder: encode: %w", err)
	}
	if err := r.buf.Flush(); err != nil {
		return fmt.Errorf("recorder: flush %s: %w", r.path, err)
	}
	return nil
}

// Close finishes the open segment, uploading it when an uploader is set.
func (r *Recorder) Close(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return nil
	}
	return r.finish(ctx)
}

// Segment returns the path of the segment currently being written, or "".
func (r *Recorder) Segment() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.path
}

func (r *Recorder) open() error {
	ts := r.now().Unix()
	for {
		path := filepath.Join(r.opts.Dir, segmentName(r.opts.Prefix, ts))
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if errors.Is(err, fs.ErrExist) {
			ts++
			continue
		}
		if err != nil {
			return fmt.Errorf("recorder: open segment: %w", err)
		}
		r.file = f
		r.buf = bufio.NewWriter(f)
		r.enc = codec.NewEncoder(r.buf)
		r.path = path
		r.written = 0
		r.logger.Info("segment opened", slog.String("path", path))
		return nil
	}
}

func (r *Recorder) finish(ctx context.Context) error {
	path := r.path
	err := r.buf.Flush()
	if syncErr := r.file.Sync(); err == nil {
		err = syncErr
	}
	if closeErr := r.file.Close(); err == nil {
		err = closeErr
	}
	r.file, r.buf, r.enc, r.path = nil, nil, nil, ""
	if err != nil {
		return fmt.Errorf("recorder: close segment %s: %w", path, err)
	}

	r.logger.Info("segment finished", slog.String("path", path), slog.Int64("bytes", r.written))
	if r.opts.Uploader == nil {
		return nil
	}
	return r.upload(ctx, path)
}

func (r *Recorder) upload(ctx context.Context, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("recorder: reopen %s: %w", path, err)
	}
	defer f.Close()

	key := r.opts.Prefix + "/" + filepath.Base(path)
	if r.opts.Remote != nil {
		exists, err := r.opts.Remote.Exists(ctx, key)
		if err != nil {
			return fmt.Errorf("recorder: check %s: %w", key, err)
		}
		if exists {
			r.logger.Info("segment already uploaded", slog.String("key", key))
			return nil
		}
	}

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("recorder: stat %s: %w", path, err)
	}
	if info.Size() >= r.opts.MultipartBytes {
		err = r.opts.Uploader.PutMultipart(ctx, key, f, uploadPartSize)
	} else {
		err = r.opts.Uploader.Put(ctx, key, f, "application/octet-stream")
	}
	if err != nil {
		return fmt.Errorf("recorder: upload %s: %w", key, err)
	}
	r.logger.Info("segment uploaded", slog.String("key", key), slog.Int64("bytes", info.Size()))
	return nil
}

func segmentName(prefix string, unix int64) string {
	return prefix + "-" + strconv.FormatInt(unix, 10) + ".bin"
}
