package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/alanyoungcy/gannbot/internal/codec"
	"github.com/alanyoungcy/gannbot/internal/domain"
	"github.com/redis/go-redis/v9"
)

// OfferBook implements domain.OfferBook: the set of offers currently open
// on the marketplace.
//
// Key schema:
//
//	gannbot:book:{pair}:{side} - sorted set of order ids (score = price)
//	gannbot:book:offers        - hash mapping order id -> codec-encoded offer
type OfferBook struct {
	rdb *redis.Client
}

// NewOfferBook creates an OfferBook backed by the given Client.
func NewOfferBook(c *Client) *OfferBook {
	return &OfferBook{rdb: c.Underlying()}
}

const bookOffersKey = "gannbot:book:offers"

func bookSideKey(pair domain.TradingPair, side domain.Side) string {
	return "gannbot:book:" + string(pair) + ":" + string(side)
}

// Add records an open offer.
func (b *OfferBook) Add(ctx context.Context, o domain.Offer) error {
	data, err := codec.Marshal(domain.OfferAdded(o))
	if err != nil {
		return fmt.Errorf("redis: encode offer %s: %w", o.OrderID, err)
	}

	pipe := b.rdb.TxPipeline()
	pipe.HSet(ctx, bookOffersKey, o.OrderID, data)
	pipe.ZAdd(ctx, bookSideKey(o.Pair, o.Side), redis.Z{Score: float64(o.Price), Member: o.OrderID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: add offer %s: %w", o.OrderID, err)
	}
	return nil
}

// Remove drops an offer. Removing an unknown offer is not an error.
func (b *OfferBook) Remove(ctx context.Context, orderID string) error {
	o, err := b.get(ctx, orderID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	pipe := b.rdb.TxPipeline()
	pipe.HDel(ctx, bookOffersKey, orderID)
	pipe.ZRem(ctx, bookSideKey(o.Pair, o.Side), orderID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: remove offer %s: %w", orderID, err)
	}
	return nil
}

// Best returns the most attractive open offer on one side of a market: the
// highest bid for buy offers and the cheapest ask for sell offers.
func (b *OfferBook) Best(ctx context.Context, pair domain.TradingPair, side domain.Side) (domain.Offer, error) {
	key := bookSideKey(pair, side)

	var ids []string
	var err error
	if side == domain.SideBuy {
		ids, err = b.rdb.ZRevRange(ctx, key, 0, 0).Result()
	} else {
		ids, err = b.rdb.ZRange(ctx, key, 0, 0).Result()
	}
	if err != nil {
		return domain.Offer{}, fmt.Errorf("redis: best offer %s/%s: %w", pair, side, err)
	}
	if len(ids) == 0 {
		return domain.Offer{}, domain.ErrNotFound
	}
	return b.get(ctx, ids[0])
}

// Len returns the number of open offers on one side of a market.
func (b *OfferBook) Len(ctx context.Context, pair domain.TradingPair, side domain.Side) (int64, error) {
	n, err := b.rdb.ZCard(ctx, bookSideKey(pair, side)).Result()
	if err != nil {
		return 0, fmt.Errorf("redis: count offers %s/%s: %w", pair, side, err)
	}
	return n, nil
}

func (b *OfferBook) get(ctx context.Context, orderID string) (domain.Offer, error) {
	data, err := b.rdb.HGet(ctx, bookOffersKey, orderID).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Offer{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Offer{}, fmt.Errorf("redis: get offer %s: %w", orderID, err)
	}
	ev, err := codec.Unmarshal(data)
	if err != nil {
		return domain.Offer{}, fmt.Errorf("redis: decode offer %s: %w", orderID, err)
	}
	return ev.Offer, nil
}

// Compile-time interface check.
var _ domain.OfferBook = (*OfferBook)(nil)
