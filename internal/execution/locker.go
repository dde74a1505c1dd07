package execution

import (
	"context"
	"sync"
)

// OwnerLocker serialises work for one owner across workers. TryLock never
// waits: ok is false when another holder has the owner.
type OwnerLocker interface {
	TryLock(ctx context.Context, ownerID string) (unlock func(), ok bool, err error)
}

// LocalLocker is an OwnerLocker for a single process.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewLocalLocker returns an empty LocalLocker.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]struct{})}
}

func (l *LocalLocker) TryLock(_ context.Context, ownerID string) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, busy := l.held[ownerID]; busy {
		return nil, false, nil
	}
	l.held[ownerID] = struct{}{}
	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, ownerID)
			l.mu.Unlock()
		})
	}, true, nil
}
