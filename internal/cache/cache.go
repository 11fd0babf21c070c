package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// Keys for the read-through caches. Stock is intentionally absent: counters
// are always read from Postgres so reservations never act on stale numbers.
const (
	KeyPromoPrefix       = "promo:code:"
	KeyShippingRules     = "shipping:rules:active"
	KeyHoldPrefix        = "stock:hold:"
	KeyIdempotencyPrefix = "checkout:idem:"
)

// PromoKey builds the cache key for a promo code lookup.
func PromoKey(code string) string {
	return KeyPromoPrefix + code
}

// HoldKey builds the redis key backing a reservation hold token.
func HoldKey(token string) string {
	return KeyHoldPrefix + token
}

// Cache wraps Redis helpers for JSON payloads with explicit invalidation.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// New constructs a cache helper. A nil client yields a no-op cache so tests
// and degraded deployments skip caching entirely.
func New(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

// GetJSON unmarshals a cached JSON payload into dst. It reports whether the
// key existed.
func (c *Cache) GetJSON(ctx context.Context, key string, dst any) (bool, error) {
	if c == nil || c.client == nil || key == "" {
		return false, nil
	}
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return false, err
	}
	return true, nil
}

// SetJSON serialises v as JSON and stores it with the configured TTL.
func (c *Cache) SetJSON(ctx context.Context, key string, v any) error {
	if c == nil || c.client == nil || key == "" {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, data, c.ttl).Err()
}

// Invalidate removes keys after a write so the next read repopulates from
// Postgres.
func (c *Cache) Invalidate(ctx context.Context, keys ...string) error {
	if c == nil || c.client == nil || len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}
