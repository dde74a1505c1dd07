// Package scheduling picks the instant an admitted opportunity should execute.
package scheduling

import (
	"context"
	"fmt"
	"time"

	"github.com/ramiqadoumi/engageflow/internal/admission"
	"github.com/ramiqadoumi/engageflow/internal/domain"
	"github.com/ramiqadoumi/engageflow/pkg/clock"
)

// preferredWindow is how far past the base time a preferred time of day may pull the slot.
const preferredWindow = time.Hour

// Scheduler computes execution slots from target freshness, the owner's
// preferred times, spacing since the last action and active hours.
type Scheduler struct {
	counter admission.ActivityCounter
	clock   clock.Clock
}

// New returns a Scheduler reading last-action times from counter.
func New(counter admission.ActivityCounter, clk clock.Clock) *Scheduler {
	return &Scheduler{counter: counter, clock: clk}
}

// OptimalTime returns the slot for o. The result is never before now and
// never moves backwards as adjustments are applied.
func (s *Scheduler) OptimalTime(ctx context.Context, o *domain.Opportunity, owner *domain.Owner) (time.Time, error) {
	now := s.clock.Now()
	rules := owner.Rules.WithDefaults()
	loc := owner.Location()

	slot := now.Add(BaseDelay(o.TargetAge(now)))
	slot = snapToPreferred(slot, owner.PreferredTimes(), loc)

	last, ok, err := s.counter.LastAction(ctx, owner.ID)
	if err != nil {
		return time.Time{}, fmt.Errorf("last action for %s: %w", owner.ID, err)
	}
	if ok {
		if earliest := last.Add(rules.MinSpacing()); slot.Before(earliest) {
			slot = earliest
		}
	}

	slot = intoActiveHours(slot, rules.ActiveHoursStart, rules.ActiveHoursEnd, loc)
	if slot.Before(now) {
		slot = now
	}
	return slot.UTC(), nil
}

// BaseDelay is the delay from now derived from target age: fresh targets are
// engaged sooner.
func BaseDelay(age time.Duration) time.Duration {
	switch {
	case age < 2*time.Hour:
		return 30 * time.Minute
	case age < 6*time.Hour:
		return time.Hour
	default:
		return 2 * time.Hour
	}
}

// snapToPreferred moves base forward to the earliest preferred time of day
// that falls within preferredWindow after it.
func snapToPreferred(base time.Time, preferred []domain.TimeOfDay, loc *time.Location) time.Time {
	local := base.In(loc)
	best := base
	found := false
	for _, day := range []time.Time{local, local.AddDate(0, 0, 1)} {
		for _, p := range preferred {
			cand := p.On(day)
			if cand.Before(base) || cand.Sub(base) > preferredWindow {
				continue
			}
			if !found || cand.Before(best) {
				best, found = cand, true
			}
		}
	}
	return best
}

// intoActiveHours pushes t forward to the next active-hours start when it
// falls outside [start, end) in loc.
func intoActiveHours(t time.Time, start, end int, loc *time.Location) time.Time {
	local := t.In(loc)
	y, m, d := local.Date()
	switch h := local.Hour(); {
	case h < start:
		return time.Date(y, m, d, start, 0, 0, 0, loc)
	case h >= end:
		return time.Date(y, m, d+1, start, 0, 0, 0, loc)
	}
	return t
}
