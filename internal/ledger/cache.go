package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

const cacheVersionPrefix = "ledger:version:"

// OnHandCache caches derived on-hand projections in Redis behind a per-store
// version counter. Appending a movement bumps the store's version, which
// orphans every key built against the previous version; stale entries age out
// via TTL instead of explicit deletes.
type OnHandCache struct {
	client *redis.Client
	ttl    time.Duration
	group  singleflight.Group
}

// NewOnHandCache instantiates the cache helper. A nil client degrades to a
// pass-through loader.
func NewOnHandCache(client *redis.Client, ttl time.Duration) *OnHandCache {
	return &OnHandCache{client: client, ttl: ttl}
}

// Version returns the store's current cache version, initialising when missing.
func (c *OnHandCache) Version(ctx context.Context, storeID int64) (int64, error) {
	if c == nil || c.client == nil {
		return 0, nil
	}
	key := cacheVersionPrefix + strconv.FormatInt(storeID, 10)
	ver, err := c.client.Get(ctx, key).Int64()
	if err == redis.Nil {
		if err := c.client.Set(ctx, key, 1, 0).Err(); err != nil {
			return 0, err
		}
		return 1, nil
	}
	if err != nil {
		return 0, err
	}
	return ver, nil
}

// BuildKey composes a cache key with the store's current version.
func (c *OnHandCache) BuildKey(ctx context.Context, storeID int64, parts ...string) (string, error) {
	joined := strings.Join(append([]string{"ledger", strconv.FormatInt(storeID, 10)}, parts...), ":")
	if c == nil || c.client == nil {
		return joined, nil
	}
	ver, err := c.Version(ctx, storeID)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s:%d", joined, ver), nil
}

// Fetch loads a cached value or populates it using the loader. Concurrent
// fetches for the same key collapse into a single loader call.
func (c *OnHandCache) Fetch(ctx context.Context, key string, dest any, loader func(context.Context) (any, error)) error {
	if c == nil || c.client == nil {
		value, err := loader(ctx)
		if err != nil {
			return err
		}
		return recodeJSON(value, dest)
	}
	payload, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		return json.Unmarshal(payload, dest)
	}
	if err != redis.Nil {
		return err
	}
	raw, err, _ := c.group.Do(key, func() (any, error) {
		value, err := loader(ctx)
		if err != nil {
			return nil, err
		}
		encoded, err := json.Marshal(value)
		if err != nil {
			return nil, err
		}
		if err := c.client.Set(ctx, key, encoded, c.ttl).Err(); err != nil {
			return nil, err
		}
		return encoded, nil
	})
	if err != nil {
		return err
	}
	return json.Unmarshal(raw.([]byte), dest)
}

// Bump invalidates the store's cached projections by incrementing its version.
func (c *OnHandCache) Bump(ctx context.Context, storeID int64) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Incr(ctx, cacheVersionPrefix+strconv.FormatInt(storeID, 10)).Err()
}

func recodeJSON(value, dest any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dest)
}
