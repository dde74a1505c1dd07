// Package redis holds the Redis-backed coordination primitives: activity
// counters, per-owner locks, sweeper leadership and request rate limiting.
package redis

import (
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "engageflow:"

// NewClient creates and returns a new Redis client.
func NewClient(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  1 * time.Second,
		WriteTimeout: 1 * time.Second,
		PoolSize:     10,
	})
}
