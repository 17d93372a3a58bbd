package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/alanyoungcy/gannbot/internal/domain"
	"github.com/redis/go-redis/v9"
)

// PriceCache implements domain.PriceCache using Redis hashes.
// The latest price per market side is stored at "gannbot:price:{pair}:{side}"
// with fields "price" (minor units) and "ts" (Unix nanoseconds).
type PriceCache struct {
	rdb *redis.Client
}

// NewPriceCache creates a PriceCache backed by the given Client.
func NewPriceCache(c *Client) *PriceCache {
	return &PriceCache{rdb: c.Underlying()}
}

func priceKey(pair domain.TradingPair, side domain.Side) string {
	return "gannbot:price:" + string(pair) + ":" + string(side)
}

// SetPrice stores the latest observed offer price for a market side.
func (pc *PriceCache) SetPrice(ctx context.Context, pair domain.TradingPair, side domain.Side, price int64, ts time.Time) error {
	fields := map[string]any{
		"price": strconv.FormatInt(price, 10),
		"ts":    strconv.FormatInt(ts.UnixNano(), 10),
	}
	if err := pc.rdb.HSet(ctx, priceKey(pair, side), fields).Err(); err != nil {
		return fmt.Errorf("redis: set price %s/%s: %w", pair, side, err)
	}
	return nil
}

// GetPrice retrieves the latest price and timestamp for a market side.
// It returns domain.ErrNotFound when nothing has been recorded.
func (pc *PriceCache) GetPrice(ctx context.Context, pair domain.TradingPair, side domain.Side) (int64, time.Time, error) {
	vals, err := pc.rdb.HGetAll(ctx, priceKey(pair, side)).Result()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: get price %s/%s: %w", pair, side, err)
	}

	priceStr, ok := vals["price"]
	if !ok {
		return 0, time.Time{}, domain.ErrNotFound
	}
	price, err := strconv.ParseInt(priceStr, 10, 64)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: parse price %s/%s: %w", pair, side, err)
	}

	tsStr, ok := vals["ts"]
	if !ok {
		return 0, time.Time{}, domain.ErrNotFound
	}
	tsNano, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: parse ts %s/%s: %w", pair, side, err)
	}

	return price, time.Unix(0, tsNano), nil
}

// Compile-time interface check.
var _ domain.PriceCache = (*PriceCache)(nil)
