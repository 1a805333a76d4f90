package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/mmengine/internal/domain"
)

// bookTTL bounds how long a stale book survives a dead engine.
const bookTTL = 10 * time.Minute

// BookCache implements domain.BookCache.
//
// Key schema:
//
//	book:{symbol}:bids   sorted set of bid prices (score = price)
//	book:{symbol}:asks   sorted set of ask prices (score = price)
//	book:{symbol}:levels JSON of the full snapshot
//	book:{symbol}:stats  hash of BookStats fields
type BookCache struct {
	c *Client
}

// NewBookCache creates a BookCache backed by c.
func NewBookCache(c *Client) *BookCache {
	return &BookCache{c: c}
}

// SetSnapshot replaces the cached book for snap.Symbol in one transaction.
func (bc *BookCache) SetSnapshot(ctx context.Context, snap domain.OrderBookSnapshot, stats domain.BookStats) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("redis: encode book %s: %w", snap.Symbol, err)
	}
	bidsKey := bc.c.key("book", snap.Symbol, "bids")
	asksKey := bc.c.key("book", snap.Symbol, "asks")
	levelsKey := bc.c.key("book", snap.Symbol, "levels")
	statsKey := bc.c.key("book", snap.Symbol, "stats")

	pipe := bc.c.rdb.TxPipeline()
	pipe.Del(ctx, bidsKey, asksKey, statsKey)
	for _, lvl := range snap.Bids {
		pipe.ZAdd(ctx, bidsKey, redis.Z{Score: lvl.Price, Member: formatFloat(lvl.Quantity) + "@" + formatFloat(lvl.Price)})
	}
	for _, lvl := range snap.Asks {
		pipe.ZAdd(ctx, asksKey, redis.Z{Score: lvl.Price, Member: formatFloat(lvl.Quantity) + "@" + formatFloat(lvl.Price)})
	}
	pipe.Set(ctx, levelsKey, raw, bookTTL)
	pipe.HSet(ctx, statsKey,
		"mid", formatFloat(stats.Mid),
		"spread", formatFloat(stats.Spread),
		"spread_bps", formatFloat(stats.SpreadBps),
		"bid_depth", formatFloat(stats.BidDepth),
		"ask_depth", formatFloat(stats.AskDepth),
		"imbalance", formatFloat(stats.Imbalance),
		"book_pressure", formatFloat(stats.BookPressure),
		"depth_ratio", formatFloat(stats.DepthRatio),
		"depth_ratio_ok", strconv.FormatBool(stats.DepthRatioOK),
		"ts", strconv.FormatInt(snap.Timestamp.UnixNano(), 10),
	)
	for _, k := range []string{bidsKey, asksKey, statsKey} {
		pipe.Expire(ctx, k, bookTTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set book %s: %w", snap.Symbol, err)
	}
	return nil
}

// GetSnapshot returns the cached book or domain.ErrNotFound.
func (bc *BookCache) GetSnapshot(ctx context.Context, symbol string) (domain.OrderBookSnapshot, error) {
	raw, err := bc.c.rdb.Get(ctx, bc.c.key("book", symbol, "levels")).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.OrderBookSnapshot{}, fmt.Errorf("redis: book %s: %w", symbol, domain.ErrNotFound)
	}
	if err != nil {
		return domain.OrderBookSnapshot{}, fmt.Errorf("redis: get book %s: %w", symbol, err)
	}
	var snap domain.OrderBookSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return domain.OrderBookSnapshot{}, fmt.Errorf("redis: decode book %s: %w", symbol, err)
	}
	return snap, nil
}

// GetStats returns the cached book statistics or domain.ErrNotFound.
func (bc *BookCache) GetStats(ctx context.Context, symbol string) (domain.BookStats, error) {
	vals, err := bc.c.rdb.HGetAll(ctx, bc.c.key("book", symbol, "stats")).Result()
	if err != nil {
		return domain.BookStats{}, fmt.Errorf("redis: get book stats %s: %w", symbol, err)
	}
	if len(vals) == 0 {
		return domain.BookStats{}, fmt.Errorf("redis: book stats %s: %w", symbol, domain.ErrNotFound)
	}
	ok, _ := strconv.ParseBool(vals["depth_ratio_ok"])
	return domain.BookStats{
		Mid:          parseFloat(vals["mid"]),
		Spread:       parseFloat(vals["spread"]),
		SpreadBps:    parseFloat(vals["spread_bps"]),
		BidDepth:     parseFloat(vals["bid_depth"]),
		AskDepth:     parseFloat(vals["ask_depth"]),
		Imbalance:    parseFloat(vals["imbalance"]),
		BookPressure: parseFloat(vals["book_pressure"]),
		DepthRatio:   parseFloat(vals["depth_ratio"]),
		DepthRatioOK: ok,
	}, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func parseFloat(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}

var _ domain.BookCache = (*BookCache)(nil)
