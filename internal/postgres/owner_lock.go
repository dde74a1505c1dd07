package postgres

import (
	"context"
	"fmt"
	"sync"
	"time"
)

const tryOwnerLockSQL = "SELECT pg_try_advisory_xact_lock(hashtext($1))"

func ownerLockKey(ownerID string) string { return "engageflow:owner:" + ownerID }

// OwnerLock serialises work for one owner across processes with a
// transaction-scoped advisory lock. The transaction pins one pooled
// connection until unlock, and the lock dies with it if the process does.
type OwnerLock struct {
	db DB
}

// NewOwnerLock returns an OwnerLock on db.
func NewOwnerLock(db DB) *OwnerLock {
	return &OwnerLock{db: db}
}

// TryLock never waits: ok is false while another session holds the owner.
func (l *OwnerLock) TryLock(ctx context.Context, ownerID string) (unlock func(), ok bool, err error) {
	tx, err := l.db.Begin(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("lock owner %s: %w", ownerID, err)
	}
	rollback := func() {
		rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tx.Rollback(rctx)
	}

	if err := tx.QueryRow(ctx, tryOwnerLockSQL, ownerLockKey(ownerID)).Scan(&ok); err != nil {
		rollback()
		return nil, false, fmt.Errorf("lock owner %s: %w", ownerID, err)
	}
	if !ok {
		rollback()
		return nil, false, nil
	}
	var once sync.Once
	return func() { once.Do(rollback) }, true, nil
}
