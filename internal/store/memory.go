package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ramiqadoumi/engageflow/internal/domain"
)

// Memory is a process-local Store. Every read returns a copy.
type Memory struct {
	mu   sync.RWMutex
	rows map[string]*domain.Opportunity
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{rows: make(map[string]*domain.Opportunity)}
}

func (m *Memory) Get(_ context.Context, id string) (*domain.Opportunity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.rows[id]
	if !ok {
		return nil, &domain.NotFoundError{ID: id}
	}
	return o.Clone(), nil
}

func (m *Memory) Create(_ context.Context, o *domain.Opportunity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.rows[o.ID]; exists {
		return fmt.Errorf("create opportunity %s: already exists", o.ID)
	}
	if err := m.checkUniqueCompletion(o); err != nil {
		return err
	}
	m.rows[o.ID] = o.Clone()
	return nil
}

func (m *Memory) Update(_ context.Context, id string, fn MutateFunc) (*domain.Opportunity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.rows[id]
	if !ok {
		return nil, &domain.NotFoundError{ID: id}
	}
	next := cur.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	next.ID = cur.ID
	if err := m.checkUniqueCompletion(next); err != nil {
		return nil, err
	}
	m.rows[id] = next
	return next.Clone(), nil
}

func (m *Memory) Claim(_ context.Context, id, workerID string, now time.Time) (*domain.Opportunity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.rows[id]
	if !ok {
		return nil, &domain.NotFoundError{ID: id}
	}
	next := cur.Clone()
	if err := next.Claim(workerID, now); err != nil {
		return nil, ClaimFailure(cur, now)
	}
	m.rows[id] = next
	return next.Clone(), nil
}

func (m *Memory) Find(_ context.Context, f Filter) ([]*domain.Opportunity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.Opportunity
	for _, o := range m.rows {
		if Matches(o, f) {
			out = append(out, o.Clone())
		}
	}
	SortOpportunities(out, f.OrderBy)
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *Memory) Count(_ context.Context, f Filter) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, o := range m.rows {
		if Matches(o, f) {
			n++
		}
	}
	return n, nil
}

// checkUniqueCompletion mirrors the partial unique index the SQL backends carry.
// Callers must hold m.mu.
func (m *Memory) checkUniqueCompletion(o *domain.Opportunity) error {
	if o.Status != domain.StatusCompleted {
		return nil
	}
	for id, other := range m.rows {
		if id == o.ID || other.Status != domain.StatusCompleted {
			continue
		}
		if other.OwnerID == o.OwnerID &&
			other.Target.ExternalID == o.Target.ExternalID &&
			other.ActionType == o.ActionType {
			return &domain.DuplicateCompletionError{
				OwnerID:          o.OwnerID,
				TargetExternalID: o.Target.ExternalID,
				ActionType:       o.ActionType,
			}
		}
	}
	return nil
}

// SortOpportunities orders list in place according to order.
func SortOpportunities(list []*domain.Opportunity, order Order) {
	switch order {
	case OrderDue:
		sort.SliceStable(list, func(i, j int) bool {
			a, b := list[i].ScheduledFor, list[j].ScheduledFor
			switch {
			case a == nil && b != nil:
				return true
			case a != nil && b == nil:
				return false
			case a != nil && b != nil && !a.Equal(*b):
				return a.Before(*b)
			}
			return list[i].CreatedAt.Before(list[j].CreatedAt)
		})
	case OrderCompletedDesc:
		sort.SliceStable(list, func(i, j int) bool {
			a, b := list[i].CompletedAt, list[j].CompletedAt
			if a == nil || b == nil {
				return a != nil
			}
			return a.After(*b)
		})
	default:
		sort.SliceStable(list, func(i, j int) bool {
			return list[i].CreatedAt.After(list[j].CreatedAt)
		})
	}
}
