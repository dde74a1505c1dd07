package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	// activityRetention bounds the sorted set; the day cap is the widest window read.
	activityRetention = 48 * time.Hour
	authorRetention   = 7 * 24 * time.Hour
)

func activityKey(ownerID string) string { return keyPrefix + "activity:" + ownerID }
func authorKey(ownerID, author string) string {
	return keyPrefix + "author:" + ownerID + ":" + author
}

// ActivityCounter tracks each owner's completed actions in a sorted set scored
// by completion time in milliseconds, so window counts are a single ZCOUNT.
type ActivityCounter struct {
	client redis.Cmdable
}

// NewActivityCounter returns a Redis-backed activity counter.
func NewActivityCounter(client redis.Cmdable) *ActivityCounter {
	return &ActivityCounter{client: client}
}

// Record adds a completed action at time at.
func (c *ActivityCounter) Record(ctx context.Context, ownerID, author string, at time.Time) error {
	key := activityKey(ownerID)
	score := at.UnixMilli()

	pipe := c.client.TxPipeline()
	// Evict entries no window will ever read again.
	pipe.ZRemRangeByScore(ctx, key, "-inf", "("+strconv.FormatInt(at.Add(-activityRetention).UnixMilli(), 10))
	// The member is unique so two actions in the same millisecond both count.
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(score), Member: strconv.FormatInt(score, 10) + ":" + uuid.NewString()[:8]})
	pipe.Expire(ctx, key, activityRetention)
	if author != "" {
		pipe.Set(ctx, authorKey(ownerID, author), strconv.FormatInt(score, 10), authorRetention)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("record activity for %s: %w", ownerID, err)
	}
	return nil
}

// CountSince returns how many actions completed at or after since.
func (c *ActivityCounter) CountSince(ctx context.Context, ownerID string, since time.Time) (int, error) {
	n, err := c.client.ZCount(ctx, activityKey(ownerID), strconv.FormatInt(since.UnixMilli(), 10), "+inf").Result()
	if err != nil {
		return 0, fmt.Errorf("count activity for %s: %w", ownerID, err)
	}
	return int(n), nil
}

// LastAction returns the most recent completion time, if any.
func (c *ActivityCounter) LastAction(ctx context.Context, ownerID string) (time.Time, bool, error) {
	zs, err := c.client.ZRevRangeWithScores(ctx, activityKey(ownerID), 0, 0).Result()
	if err != nil {
		return time.Time{}, false, fmt.Errorf("last activity for %s: %w", ownerID, err)
	}
	if len(zs) == 0 {
		return time.Time{}, false, nil
	}
	return time.UnixMilli(int64(zs[0].Score)).UTC(), true, nil
}

// LastAuthorAction returns the most recent completion on author's content, if any.
func (c *ActivityCounter) LastAuthorAction(ctx context.Context, ownerID, author string) (time.Time, bool, error) {
	raw, err := c.client.Get(ctx, authorKey(ownerID, author)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("last author activity for %s: %w", ownerID, err)
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parse author activity for %s: %w", ownerID, err)
	}
	return time.UnixMilli(ms).UTC(), true, nil
}
