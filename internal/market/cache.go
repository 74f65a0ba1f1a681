package market

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/signal-scanner/internal/logging"
	"github.com/signal-scanner/internal/models"
	"github.com/signal-scanner/internal/storage"
	"github.com/signal-scanner/internal/types"
)

// CachedSource wraps a DataSource with a Redis cache for kline fetches.
// A full-market scan asks for the same series repeatedly across tasks, so
// bars are cached for a short TTL. Stock list reads pass through.
type CachedSource struct {
	inner DataSource
	cache *storage.RedisCache
	ttl   time.Duration
}

// NewCachedSource creates a caching data source
func NewCachedSource(inner DataSource, cache *storage.RedisCache, ttl time.Duration) *CachedSource {
	return &CachedSource{inner: inner, cache: cache, ttl: ttl}
}

// AllStocks returns every tradable stock
func (c *CachedSource) AllStocks(ctx context.Context) ([]models.Stock, error) {
	return c.inner.AllStocks(ctx)
}

// StocksByBoards returns the union of stocks on the given boards
func (c *CachedSource) StocksByBoards(ctx context.Context, boards []string) ([]models.Stock, error) {
	return c.inner.StocksByBoards(ctx, boards)
}

// StocksByCodes returns reference rows for the given codes
func (c *CachedSource) StocksByCodes(ctx context.Context, codes []string) ([]models.Stock, error) {
	return c.inner.StocksByCodes(ctx, codes)
}

// Klines returns up to limit bars for a stock, oldest first, serving from
// the cache when possible. Cache failures degrade to the inner source.
func (c *CachedSource) Klines(ctx context.Context, code string, klineType types.KlineType, limit int) ([]models.Kline, error) {
	key := klineKey(code, klineType, limit)

	cached, err := c.cache.Get(ctx, key)
	if err == nil {
		var klines []models.Kline
		if err := json.Unmarshal([]byte(cached), &klines); err == nil {
			return klines, nil
		}
		// Corrupt entry: drop it and refetch
		_ = c.cache.Del(ctx, key)
	} else if !storage.IsMiss(err) {
		logging.FromContext(ctx).WithError(err).Warn("Kline cache read failed")
	}

	klines, err := c.inner.Klines(ctx, code, klineType, limit)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(klines); err == nil {
		if err := c.cache.Set(ctx, key, data, c.ttl); err != nil {
			logging.FromContext(ctx).WithError(err).Warn("Kline cache write failed")
		}
	}

	return klines, nil
}

func klineKey(code string, klineType types.KlineType, limit int) string {
	return fmt.Sprintf("klines:%s:%s:%d", code, klineType, limit)
}
