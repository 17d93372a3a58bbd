package feed

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/gannbot/internal/domain"
)

// Dedup remembers which events were seen within a time-to-live window. An
// offer is identified by its order id and type, so the addition and the
// removal of one order are distinct events. It is safe for concurrent use.
type Dedup struct {
	seen map[dedupKey]time.Time
	ttl  time.Duration
	now  func() time.Time
	mu   sync.Mutex
}

type dedupKey struct {
	typ     domain.EventType
	orderID string
}

// NewDedup creates a Dedup which treats an event as a duplicate if it was
// seen within ttl.
func NewDedup(ttl time.Duration) *Dedup {
	return &Dedup{
		seen: make(map[dedupKey]time.Time),
		ttl:  ttl,
		now:  time.Now,
	}
}

// IsDuplicate reports whether ev was seen within the TTL window. An unseen or
// expired event is recorded and false is returned.
func (d *Dedup) IsDuplicate(ev domain.Event) bool {
	key := dedupKey{typ: ev.Type, orderID: ev.Offer.OrderID}
	if ev.Type == domain.EventOfferRemoved {
		key.orderID = ev.Removal.OrderID
	}
	if key.orderID == "" {
		return false
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if lastSeen, ok := d.seen[key]; ok && now.Sub(lastSeen) < d.ttl {
		return true
	}
	d.seen[key] = now
	return false
}

// Cleanup removes expired entries.
func (d *Dedup) Cleanup() {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	for k, ts := range d.seen {
		if now.Sub(ts) >= d.ttl {
			delete(d.seen, k)
		}
	}
}

// Len returns the number of remembered events.
func (d *Dedup) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}

// DedupSource drops events its inner source repeats within the TTL, such as
// the offers replayed after a websocket reconnect.
type DedupSource struct {
	inner  Source
	dedup  *Dedup
	logger *slog.Logger
}

// Deduplicate wraps src. A non-positive ttl returns src unchanged.
func Deduplicate(src Source, ttl time.Duration, logger *slog.Logger) Source {
	if ttl <= 0 {
		return src
	}
	return &DedupSource{
		inner:  src,
		dedup:  NewDedup(ttl),
		logger: logger.With(slog.String("component", "feed_dedup")),
	}
}

// Run runs the inner source and forwards the first sighting of every event.
func (s *DedupSource) Run(ctx context.Context, out chan<- domain.Event) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	in := make(chan domain.Event)
	errc := make(chan error, 1)
	go func() {
		defer close(in)
		errc <- s.inner.Run(ctx, in)
	}()

	ticker := time.NewTicker(s.dedup.ttl)
	defer ticker.Stop()

	var dropped int
	for {
		select {
		case <-ctx.Done():
			// Drain so the inner source can observe cancellation and exit.
			for range in {
			}
			return <-errc
		case <-ticker.C:
			s.dedup.Cleanup()
			if dropped > 0 {
				s.logger.Debug("dropped duplicate events", slog.Int("count", dropped))
				dropped = 0
			}
		case ev, ok := <-in:
			if !ok {
				return <-errc
			}
			if s.dedup.IsDuplicate(ev) {
				dropped++
				continue
			}
			select {
			case out <- ev:
			case <-ctx.Done():
			}
		}
	}
}
