package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/phrazzld/signal-api/internal/domain"
	"github.com/redis/go-redis/v9"
)

// BarCache stores daily bar series keyed by symbol and lookback.
type BarCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewBarCache creates a bar cache whose entries expire after ttl.
func NewBarCache(client *redis.Client, prefix string, ttl time.Duration) *BarCache {
	return &BarCache{client: client, prefix: prefix, ttl: ttl}
}

func (c *BarCache) key(symbol string, lookback int) string {
	return c.prefix + "bars:" + symbol + ":" + strconv.Itoa(lookback)
}

// Get returns the cached bars and true on a hit.
func (c *BarCache) Get(ctx context.Context, symbol string, lookback int) ([]domain.Bar, bool, error) {
	data, err := c.client.Get(ctx, c.key(symbol, lookback)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read cached bars: %w", err)
	}

	var bars []domain.Bar
	if err := json.Unmarshal(data, &bars); err != nil {
		return nil, false, fmt.Errorf("failed to decode cached bars: %w", err)
	}
	return bars, true, nil
}

// Set caches bars for the symbol.
func (c *BarCache) Set(ctx context.Context, symbol string, lookback int, bars []domain.Bar) error {
	data, err := json.Marshal(bars)
	if err != nil {
		return fmt.Errorf("failed to encode bars: %w", err)
	}
	if err := c.client.Set(ctx, c.key(symbol, lookback), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache bars: %w", err)
	}
	return nil
}
