package admission

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/ramiqadoumi/engageflow/internal/domain"
	"github.com/ramiqadoumi/engageflow/internal/store"
)

// ActivityCounter answers the frequency questions admission asks about an
// owner's completed actions.
type ActivityCounter interface {
	CountSince(ctx context.Context, ownerID string, since time.Time) (int, error)
	LastAction(ctx context.Context, ownerID string) (time.Time, bool, error)
	LastAuthorAction(ctx context.Context, ownerID, author string) (time.Time, bool, error)
	Record(ctx context.Context, ownerID, author string, at time.Time) error
}

// StoreCounter derives activity from Completed opportunities in the store.
// Record is a no-op because completion itself is the record.
type StoreCounter struct {
	Store store.Store
}

var completed = []domain.Status{domain.StatusCompleted}

func (c StoreCounter) CountSince(ctx context.Context, ownerID string, since time.Time) (int, error) {
	return c.Store.Count(ctx, store.Filter{OwnerID: ownerID, Statuses: completed, CompletedSince: &since})
}

func (c StoreCounter) LastAction(ctx context.Context, ownerID string) (time.Time, bool, error) {
	return c.last(ctx, store.Filter{OwnerID: ownerID})
}

func (c StoreCounter) LastAuthorAction(ctx context.Context, ownerID, author string) (time.Time, bool, error) {
	return c.last(ctx, store.Filter{OwnerID: ownerID, TargetAuthor: author})
}

func (c StoreCounter) Record(context.Context, string, string, time.Time) error { return nil }

func (c StoreCounter) last(ctx context.Context, f store.Filter) (time.Time, bool, error) {
	f.Statuses = completed
	f.OrderBy = store.OrderCompletedDesc
	f.Limit = 1
	found, err := c.Store.Find(ctx, f)
	if err != nil || len(found) == 0 || found[0].CompletedAt == nil {
		return time.Time{}, false, err
	}
	return *found[0].CompletedAt, true, nil
}

// Merged answers from several counters with the most restrictive view: the
// highest count and the latest action. Pairing a fast counter with a
// StoreCounter keeps the caps honest when the fast one loses writes.
type Merged []ActivityCounter

func (m Merged) CountSince(ctx context.Context, ownerID string, since time.Time) (int, error) {
	most := 0
	for _, c := range m {
		n, err := c.CountSince(ctx, ownerID, since)
		if err != nil {
			return 0, err
		}
		most = max(most, n)
	}
	return most, nil
}

func (m Merged) LastAction(ctx context.Context, ownerID string) (time.Time, bool, error) {
	return m.latest(func(c ActivityCounter) (time.Time, bool, error) {
		return c.LastAction(ctx, ownerID)
	})
}

func (m Merged) LastAuthorAction(ctx context.Context, ownerID, author string) (time.Time, bool, error) {
	return m.latest(func(c ActivityCounter) (time.Time, bool, error) {
		return c.LastAuthorAction(ctx, ownerID, author)
	})
}

// Record writes to every counter, even when an earlier one fails.
func (m Merged) Record(ctx context.Context, ownerID, author string, at time.Time) error {
	var errs []error
	for _, c := range m {
		if err := c.Record(ctx, ownerID, author, at); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Merged) latest(fn func(ActivityCounter) (time.Time, bool, error)) (time.Time, bool, error) {
	var last time.Time
	found := false
	for _, c := range m {
		at, ok, err := fn(c)
		if err != nil {
			return time.Time{}, false, err
		}
		if ok && (!found || at.After(last)) {
			last, found = at, true
		}
	}
	return last, found, nil
}

// MemoryCounter is a process-local ActivityCounter.
type MemoryCounter struct {
	mu      sync.Mutex
	actions map[string][]time.Time
	authors map[string]time.Time
}

// NewMemoryCounter returns an empty in-memory counter.
func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{
		actions: make(map[string][]time.Time),
		authors: make(map[string]time.Time),
	}
}

func (c *MemoryCounter) CountSince(_ context.Context, ownerID string, since time.Time) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	times := c.actions[ownerID]
	i := sort.Search(len(times), func(i int) bool { return !times[i].Before(since) })
	return len(times) - i, nil
}

func (c *MemoryCounter) LastAction(_ context.Context, ownerID string) (time.Time, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	times := c.actions[ownerID]
	if len(times) == 0 {
		return time.Time{}, false, nil
	}
	return times[len(times)-1], true, nil
}

func (c *MemoryCounter) LastAuthorAction(_ context.Context, ownerID, author string) (time.Time, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	at, ok := c.authors[ownerID+"\x00"+author]
	return at, ok, nil
}

func (c *MemoryCounter) Record(_ context.Context, ownerID, author string, at time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	times := append(c.actions[ownerID], at)
	sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })
	c.actions[ownerID] = times
	if author != "" {
		key := ownerID + "\x00" + author
		if prev, ok := c.authors[key]; !ok || at.After(prev) {
			c.authors[key] = at
		}
	}
	return nil
}
