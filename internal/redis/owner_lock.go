package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the lock only if this holder still owns it.
var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	end
	return 0
`)

func ownerLockKey(ownerID string) string { return keyPrefix + "lock:owner:" + ownerID }

// OwnerLock serialises work per owner across processes with SET NX PX.
// The TTL bounds how long a crashed holder can block the owner.
type OwnerLock struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewOwnerLock returns a distributed per-owner lock.
func NewOwnerLock(client redis.UniversalClient, ttl time.Duration) *OwnerLock {
	return &OwnerLock{client: client, ttl: ttl}
}

// TryLock acquires the owner's lock without waiting. ok is false when another
// holder has it.
func (l *OwnerLock) TryLock(ctx context.Context, ownerID string) (unlock func(), ok bool, err error) {
	key := ownerLockKey(ownerID)
	token := uuid.NewString()

	ok, err = l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("lock owner %s: %w", ownerID, err)
	}
	if !ok {
		return nil, false, nil
	}
	return func() {
		// The caller's context may already be cancelled; release on a fresh one.
		rctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = releaseScript.Run(rctx, l.client, []string{key}, token).Err()
	}, true, nil
}
