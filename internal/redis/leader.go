package redis

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

var renewScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("pexpire", KEYS[1], ARGV[2])
	end
	return 0
`)

// LeaderElector grants leadership of a named singleton job to one instance at a time.
type LeaderElector struct {
	client     redis.UniversalClient
	key        string
	instanceID string
	ttl        time.Duration
	logger     *slog.Logger
}

// NewLeaderElector returns an elector for the given role (e.g. "sweeper").
func NewLeaderElector(client redis.UniversalClient, role, instanceID string, ttl time.Duration, logger *slog.Logger) *LeaderElector {
	return &LeaderElector{
		client:     client,
		key:        keyPrefix + role + ":leader",
		instanceID: instanceID,
		ttl:        ttl,
		logger:     logger,
	}
}

// IsLeader attempts SETNX and otherwise renews a lease this instance already holds.
func (e *LeaderElector) IsLeader(ctx context.Context) bool {
	ok, err := e.client.SetNX(ctx, e.key, e.instanceID, e.ttl).Result()
	if err != nil {
		e.logger.Error("leader election SetNX", slog.String("error", err.Error()))
		return false
	}
	if ok {
		e.logger.Info("acquired leadership", slog.String("key", e.key), slog.String("instance_id", e.instanceID))
		return true
	}

	// Already set: renew only if we own it.
	result, err := renewScript.Run(ctx, e.client, []string{e.key}, e.instanceID, e.ttl.Milliseconds()).Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		e.logger.Error("leader renewal", slog.String("error", err.Error()))
		return false
	}
	return result == 1
}

// Resign drops leadership if held, so a successor need not wait out the TTL.
func (e *LeaderElector) Resign(ctx context.Context) {
	_ = releaseScript.Run(ctx, e.client, []string{e.key}, e.instanceID).Err()
}
