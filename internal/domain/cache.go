package domain

import (
	"context"
	"time"
)

// PriceCache provides fast access to the latest observed offer prices.
type PriceCache interface {
	SetPrice(ctx context.Context, pair TradingPair, side Side, price int64, ts time.Time) error
	GetPrice(ctx context.Context, pair TradingPair, side Side) (int64, time.Time, error)
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
	Refresh(ctx context.Context, key string, ttl time.Duration) error
}

// OfferBook tracks the offers currently open on the marketplace.
type OfferBook interface {
	Add(ctx context.Context, o Offer) error
	Remove(ctx context.Context, orderID string) error
	Best(ctx context.Context, pair TradingPair, side Side) (Offer, error)
}

// StreamMessage represents a single entry from a Redis stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}
