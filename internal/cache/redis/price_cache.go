package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/optionsim/internal/domain"
)

// priceTTL bounds how long a cached underlying price is served. A price older
// than this is treated as missing rather than stale-but-usable.
const priceTTL = 10 * time.Minute

// PriceCache implements domain.PriceCache using Redis hashes. The latest
// underlying price per ticker lives at key "underlying:{ticker}" with fields
// "price" and "ts" (Unix nanosecond timestamp), expiring after priceTTL.
type PriceCache struct {
	rdb *redis.Client
}

// NewPriceCache creates a PriceCache backed by the given Client.
func NewPriceCache(c *Client) *PriceCache {
	return &PriceCache{rdb: c.Underlying()}
}

func underlyingKey(ticker string) string {
	return "underlying:" + ticker
}

// SetPrice stores the latest underlying price and tick timestamp for a ticker.
func (pc *PriceCache) SetPrice(ctx context.Context, ticker string, price float64, ts time.Time) error {
	key := underlyingKey(ticker)
	fields := map[string]interface{}{
		"price": strconv.FormatFloat(price, 'f', -1, 64),
		"ts":    strconv.FormatInt(ts.UnixNano(), 10),
	}
	pipe := pc.rdb.Pipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, priceTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set underlying %s: %w", ticker, err)
	}
	return nil
}

// GetPrice retrieves the latest underlying price and its tick timestamp.
// It returns domain.ErrNotFound when no fresh price exists for the ticker.
func (pc *PriceCache) GetPrice(ctx context.Context, ticker string) (float64, time.Time, error) {
	vals, err := pc.rdb.HGetAll(ctx, underlyingKey(ticker)).Result()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: get underlying %s: %w", ticker, err)
	}
	price, ts, ok := parsePriceFields(vals)
	if !ok {
		return 0, time.Time{}, domain.ErrNotFound
	}
	return price, ts, nil
}

// GetPrices retrieves the latest underlying prices for multiple tickers using
// a pipeline. Tickers without a fresh price are omitted from the result map.
func (pc *PriceCache) GetPrices(ctx context.Context, tickers []string) (map[string]float64, error) {
	if len(tickers) == 0 {
		return map[string]float64{}, nil
	}

	pipe := pc.rdb.Pipeline()
	cmds := make(map[string]*redis.MapStringStringCmd, len(tickers))
	for _, t := range tickers {
		cmds[t] = pipe.HGetAll(ctx, underlyingKey(t))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis: get underlyings pipeline: %w", err)
	}

	result := make(map[string]float64, len(tickers))
	for t, cmd := range cmds {
		vals, err := cmd.Result()
		if err != nil {
			continue
		}
		if price, _, ok := parsePriceFields(vals); ok {
			result[t] = price
		}
	}
	return result, nil
}

func parsePriceFields(vals map[string]string) (float64, time.Time, bool) {
	if len(vals) == 0 {
		return 0, time.Time{}, false
	}
	price, err := strconv.ParseFloat(vals["price"], 64)
	if err != nil {
		return 0, time.Time{}, false
	}
	tsNano, err := strconv.ParseInt(vals["ts"], 10, 64)
	if err != nil {
		return 0, time.Time{}, false
	}
	return price, time.Unix(0, tsNano), true
}

// Compile-time interface check.
var _ domain.PriceCache = (*PriceCache)(nil)
