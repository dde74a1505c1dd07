package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	tryOwnerLockSQL = `INSERT INTO owner_locks (owner_id, token, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(owner_id) DO UPDATE SET token = excluded.token, expires_at = excluded.expires_at
		WHERE owner_locks.expires_at <= ?`
	releaseOwnerLockSQL = "DELETE FROM owner_locks WHERE owner_id = ? AND token = ?"
)

// OwnerLock serialises work for one owner across every process sharing the
// database file. Holders lease the row for ttl, so a crashed holder blocks
// the owner for at most that long.
type OwnerLock struct {
	store *Store
	ttl   time.Duration
	now   func() time.Time
}

// OwnerLock returns a lease-based owner lock on the store's database.
func (s *Store) OwnerLock(ttl time.Duration) *OwnerLock {
	return &OwnerLock{store: s, ttl: ttl, now: time.Now}
}

// TryLock never waits: ok is false while an unexpired lease is held by someone else.
func (l *OwnerLock) TryLock(ctx context.Context, ownerID string) (unlock func(), ok bool, err error) {
	now := l.now()
	expires := now.Add(l.ttl)
	token := uuid.NewString()

	res, err := l.store.db.ExecContext(ctx, tryOwnerLockSQL,
		ownerID, token, dialect.Time(&expires), dialect.Time(&now))
	if err != nil {
		return nil, false, fmt.Errorf("lock owner %s: %w", ownerID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("lock owner %s: %w", ownerID, err)
	}
	if n == 0 {
		return nil, false, nil
	}
	return func() {
		rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_, _ = l.store.db.ExecContext(rctx, releaseOwnerLockSQL, ownerID, token)
	}, true, nil
}
