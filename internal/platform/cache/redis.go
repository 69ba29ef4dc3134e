package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const pingTimeout = 5 * time.Second

// New connects to Redis and fails fast when the server does not answer. The
// client backs the listing cache and the reconcile lock.
func New(ctx context.Context, addr string) (*redis.Client, error) {
	if addr == "" {
		return nil, fmt.Errorf("platform/cache: empty redis address")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("platform/cache: ping %s: %w", addr, err)
	}
	return client, nil
}
