// Package redis implements the message bus on Redis pub/sub.
package redis

import (
	"context"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
)

// NewClient parses a redis:// URL and returns a client. The connection is
// established lazily; ping reports whether it is reachable right now.
func NewClient(ctx context.Context, redisURL string) (client *goredis.Client, ping error) {
	opts, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	client = goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return client, fmt.Errorf("failed to ping redis: %w", err)
	}
	return client, nil
}
