package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// generationKey counts invalidations. It sits outside every listing prefix.
const generationKey = "cache:generation"

var errStaleLoad = errors.New("cache: invalidated during load")

// JSONCache is a read-through cache for listing payloads. Entries are grouped
// under key prefixes so a mutation can drop every listing it may have changed.
type JSONCache struct {
	client *redis.Client
	ttl    time.Duration
	group  singleflight.Group
}

// NewJSONCache instantiates the cache helper. A nil client disables caching.
func NewJSONCache(client *redis.Client, ttl time.Duration) *JSONCache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &JSONCache{client: client, ttl: ttl}
}

// Key joins key parts with ':'.
func Key(parts ...string) string {
	return strings.Join(parts, ":")
}

// FetchJSON loads a cached value or populates it using the loader. Concurrent
// misses for the same key share one loader call. A loaded value is only
// written back if no invalidation ran while the loader was reading.
func (c *JSONCache) FetchJSON(ctx context.Context, key string, dest any, loader func(context.Context) (any, error)) error {
	if loader == nil {
		return errors.New("cache: loader required")
	}
	if c == nil || c.client == nil {
		return load(ctx, dest, loader)
	}
	payload, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		return json.Unmarshal(payload, dest)
	}
	if !errors.Is(err, redis.Nil) {
		return load(ctx, dest, loader)
	}
	raw, err, _ := c.group.Do(key, func() (any, error) {
		gen, err := generation(ctx, c.client)
		if err != nil {
			return nil, err
		}
		value, err := loader(ctx)
		if err != nil {
			return nil, err
		}
		raw, err := json.Marshal(value)
		if err != nil {
			return nil, err
		}
		// a failed or stale write only costs the next reader a reload
		_ = c.store(ctx, key, raw, gen)
		return raw, nil
	})
	if err != nil {
		return err
	}
	return json.Unmarshal(raw.([]byte), dest)
}

// InvalidatePrefix deletes every key starting with prefix. It bumps the
// cache generation first so loads already in flight do not write back.
func (c *JSONCache) InvalidatePrefix(ctx context.Context, prefix string) (int, error) {
	if c == nil || c.client == nil {
		return 0, nil
	}
	if err := c.client.Incr(ctx, generationKey).Err(); err != nil {
		return 0, err
	}
	var (
		cursor  uint64
		removed int
	)
	for {
		keys, next, err := c.client.Scan(ctx, cursor, prefix+"*", 200).Result()
		if err != nil {
			return removed, err
		}
		if len(keys) > 0 {
			n, err := c.client.Del(ctx, keys...).Result()
			if err != nil {
				return removed, err
			}
			removed += int(n)
		}
		cursor = next
		if cursor == 0 {
			return removed, nil
		}
	}
}

func load(ctx context.Context, dest any, loader func(context.Context) (any, error)) error {
	value, err := loader(ctx)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dest)
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func generation(ctx context.Context, r getter) (int64, error) {
	n, err := r.Get(ctx, generationKey).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return n, err
}

// store writes raw under key unless the generation moved past gen. WATCH
// aborts the write if an invalidation lands between the check and EXEC.
func (c *JSONCache) store(ctx context.Context, key string, raw []byte, gen int64) error {
	return c.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := generation(ctx, tx)
		if err != nil {
			return err
		}
		if current != gen {
			return errStaleLoad
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, raw, c.ttl)
			return nil
		})
		return err
	}, generationKey)
}
