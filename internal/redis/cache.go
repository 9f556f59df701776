package redisclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// AvailabilitySnapshot is a cached availability computation tagged with the
// ledger revision it was built from. A snapshot whose revision no longer
// matches the ledger is stale and must be recomputed.
type AvailabilitySnapshot struct {
	Revision  int64    `json:"revision"`
	Slots     []string `json:"slots"`
	Available bool     `json:"available"`
	Reason    string   `json:"reason,omitempty"`
}

// AvailabilityCache stores per-date availability snapshots.
type AvailabilityCache interface {
	Get(ctx context.Context, dateKey string) (AvailabilitySnapshot, bool, error)
	Set(ctx context.Context, dateKey string, snap AvailabilitySnapshot) error
}

type redisAvailabilityCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewAvailabilityCache(client *redis.Client, ttl time.Duration) AvailabilityCache {
	return &redisAvailabilityCache{client: client, ttl: ttl}
}

func availabilityKey(dateKey string) string {
	return fmt.Sprintf("availability:%s", dateKey)
}

func (c *redisAvailabilityCache) Get(ctx context.Context, dateKey string) (AvailabilitySnapshot, bool, error) {
	raw, err := c.client.Get(ctx, availabilityKey(dateKey)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return AvailabilitySnapshot{}, false, nil
		}
		return AvailabilitySnapshot{}, false, fmt.Errorf("get availability cache: %w", err)
	}

	var snap AvailabilitySnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		// Treat a corrupt entry as a miss; it will be overwritten.
		return AvailabilitySnapshot{}, false, nil
	}
	return snap, true, nil
}

func (c *redisAvailabilityCache) Set(ctx context.Context, dateKey string, snap AvailabilitySnapshot) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal availability snapshot: %w", err)
	}
	if err := c.client.Set(ctx, availabilityKey(dateKey), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("set availability cache: %w", err)
	}
	return nil
}
