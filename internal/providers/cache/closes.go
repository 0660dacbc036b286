// Package cache is the warm tier between the MDL scan pipeline and the
// upstream market-data API: fetched daily-close histories are kept in
// Redis with a TTL so repeat scans of the same symbol do not burn the
// provider's request budget.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/regimescan/internal/providers/alphavantage"
)

// CloseCache stores per-symbol close histories in Redis. It satisfies
// alphavantage.CloseCache; cache failures degrade to upstream fetches
// and are logged, never surfaced.
type CloseCache struct {
	client  redis.Cmdable
	ttl     time.Duration
	timeout time.Duration
}

// New creates a close cache around an existing Redis client.
func New(client redis.Cmdable, ttl time.Duration) *CloseCache {
	return &CloseCache{
		client:  client,
		ttl:     ttl,
		timeout: 2 * time.Second,
	}
}

// Connect dials Redis at addr and returns a cache over the connection.
func Connect(addr string, ttl time.Duration) *CloseCache {
	return New(redis.NewClient(&redis.Options{Addr: addr}), ttl)
}

func closeKey(symbol string) string {
	return fmt.Sprintf("regimescan:closes:%s", symbol)
}

// Get returns the cached close history for symbol, if present.
func (c *CloseCache) Get(symbol string) ([]alphavantage.Daily, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	payload, err := c.client.Get(ctx, closeKey(symbol)).Bytes()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		log.Warn().Err(err).Str("symbol", symbol).Msg("close cache read failed")
		return nil, false
	}

	var closes []alphavantage.Daily
	if err := json.Unmarshal(payload, &closes); err != nil {
		log.Warn().Err(err).Str("symbol", symbol).Msg("close cache entry corrupt, ignoring")
		return nil, false
	}
	return closes, true
}

// Set stores the close history for symbol with the configured TTL.
func (c *CloseCache) Set(symbol string, closes []alphavantage.Daily) {
	payload, err := json.Marshal(closes)
	if err != nil {
		log.Warn().Err(err).Str("symbol", symbol).Msg("close cache marshal failed")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	if err := c.client.Set(ctx, closeKey(symbol), payload, c.ttl).Err(); err != nil {
		log.Warn().Err(err).Str("symbol", symbol).Msg("close cache write failed")
	}
}
