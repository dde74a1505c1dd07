// Package admission decides whether an owner may act on an opportunity now.
// Denials are ordinary values, not errors; errors mean a dependency failed.
package admission

import (
	"context"
	"fmt"
	"time"

	"github.com/ramiqadoumi/engageflow/internal/domain"
	"github.com/ramiqadoumi/engageflow/internal/scoring"
	"github.com/ramiqadoumi/engageflow/internal/store"
	"github.com/ramiqadoumi/engageflow/pkg/clock"
)

// Check names the rule that produced a decision.
type Check string

const (
	CheckFrequency     Check = "frequency"
	CheckAuthorSpacing Check = "author_spacing"
	CheckSafety        Check = "safety"
	CheckTiming        Check = "timing"
	CheckDuplication   Check = "duplication"
	CheckCapacity      Check = "capacity"
)

// Decision is the outcome of admission. Reason is set when Allowed is false.
type Decision struct {
	Allowed bool
	Reason  string
	Check   Check
}

func allow() Decision { return Decision{Allowed: true} }

func deny(check Check, format string, args ...any) Decision {
	return Decision{Check: check, Reason: fmt.Sprintf(format, args...)}
}

var (
	defaultNegativeTerms = []string{
		"layoff", "laid off", "fired", "lawsuit", "scandal", "fraud", "bankruptcy",
		"passed away", "rest in peace", "condolences", "tragedy", "grief", "harassment",
	}
	defaultControversyTerms = []string{
		"politic", "election", "religion", "abortion", "immigration",
		"gun control", "boycott", "unpopular opinion", "hot take",
	}
)

// Controller evaluates admission rules in a fixed order and stops at the first denial.
type Controller struct {
	store            store.Store
	counter          ActivityCounter
	clock            clock.Clock
	negativeTerms    []string
	controversyTerms []string
}

// Option configures a Controller.
type Option func(*Controller)

// WithSafetyTerms replaces the built-in negative-sentiment and controversy lists.
func WithSafetyTerms(negative, controversy []string) Option {
	return func(c *Controller) {
		c.negativeTerms = negative
		c.controversyTerms = controversy
	}
}

// NewController builds an admission controller.
func NewController(s store.Store, counter ActivityCounter, clk clock.Clock, opts ...Option) *Controller {
	c := &Controller{
		store:            s,
		counter:          counter,
		clock:            clk,
		negativeTerms:    defaultNegativeTerms,
		controversyTerms: defaultControversyTerms,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type check func(ctx context.Context, o *domain.Opportunity, owner *domain.Owner, rules domain.CommentingRules, now time.Time) (Decision, error)

// Admit runs the full rule set: frequency, author spacing, safety, timing,
// duplication, capacity.
func (c *Controller) Admit(ctx context.Context, o *domain.Opportunity, owner *domain.Owner) (Decision, error) {
	return c.run(ctx, o, owner, c.frequency, c.authorSpacing, c.safety, c.timing, c.duplication, c.capacity)
}

// Screen runs the checks that do not depend on when the action would execute:
// safety, staleness, duplication, capacity. Intake uses it before persisting.
func (c *Controller) Screen(ctx context.Context, o *domain.Opportunity, owner *domain.Owner) (Decision, error) {
	return c.run(ctx, o, owner, c.safety, c.staleness, c.duplication, c.capacity)
}

func (c *Controller) run(ctx context.Context, o *domain.Opportunity, owner *domain.Owner, checks ...check) (Decision, error) {
	rules := owner.Rules.WithDefaults()
	now := c.clock.Now()
	for _, chk := range checks {
		d, err := chk(ctx, o, owner, rules, now)
		if err != nil {
			return Decision{}, err
		}
		if !d.Allowed {
			return d, nil
		}
	}
	return allow(), nil
}

// frequency enforces the daily and hourly caps over rolling windows, then the
// minimum spacing since the last completed action.
func (c *Controller) frequency(ctx context.Context, _ *domain.Opportunity, owner *domain.Owner, rules domain.CommentingRules, now time.Time) (Decision, error) {
	day, err := c.counter.CountSince(ctx, owner.ID, now.Add(-24*time.Hour))
	if err != nil {
		return Decision{}, fmt.Errorf("count daily actions for %s: %w", owner.ID, err)
	}
	if day >= rules.MaxPerDay {
		return deny(CheckFrequency, "daily cap reached: %d of %d actions in the last 24h", day, rules.MaxPerDay), nil
	}
	hour, err := c.counter.CountSince(ctx, owner.ID, now.Add(-time.Hour))
	if err != nil {
		return Decision{}, fmt.Errorf("count hourly actions for %s: %w", owner.ID, err)
	}
	if hour >= rules.MaxPerHour {
		return deny(CheckFrequency, "hourly cap reached: %d of %d actions in the last hour", hour, rules.MaxPerHour), nil
	}
	last, ok, err := c.counter.LastAction(ctx, owner.ID)
	if err != nil {
		return Decision{}, fmt.Errorf("last action for %s: %w", owner.ID, err)
	}
	if ok && now.Sub(last) < rules.MinSpacing() {
		return deny(CheckFrequency, "last action was %s ago, minimum spacing is %s",
			now.Sub(last).Round(time.Minute), rules.MinSpacing()), nil
	}
	return allow(), nil
}

func (c *Controller) authorSpacing(ctx context.Context, o *domain.Opportunity, owner *domain.Owner, rules domain.CommentingRules, now time.Time) (Decision, error) {
	if o.Target.Author == "" {
		return allow(), nil
	}
	last, ok, err := c.counter.LastAuthorAction(ctx, owner.ID, o.Target.Author)
	if err != nil {
		return Decision{}, fmt.Errorf("last action on author for %s: %w", owner.ID, err)
	}
	if ok && now.Sub(last) < rules.MinAuthorSpacing() {
		return deny(CheckAuthorSpacing, "already engaged with %s %s ago, minimum is %s",
			o.Target.Author, now.Sub(last).Round(time.Minute), rules.MinAuthorSpacing()), nil
	}
	return allow(), nil
}

func (c *Controller) safety(_ context.Context, o *domain.Opportunity, _ *domain.Owner, rules domain.CommentingRules, _ time.Time) (Decision, error) {
	text := scoring.NewHaystack(o.Target.Text())
	if term, ok := text.First(rules.SensitiveTopics); ok {
		return deny(CheckSafety, "content mentions sensitive topic %q", term), nil
	}
	if term, ok := text.First(c.negativeTerms); ok {
		return deny(CheckSafety, "content carries negative sentiment (%q)", term), nil
	}
	if term, ok := text.First(c.controversyTerms); ok {
		return deny(CheckSafety, "content is controversial (%q)", term), nil
	}
	return allow(), nil
}

func (c *Controller) timing(ctx context.Context, o *domain.Opportunity, owner *domain.Owner, rules domain.CommentingRules, now time.Time) (Decision, error) {
	local := now.In(owner.Location())
	if h := local.Hour(); h < rules.ActiveHoursStart || h >= rules.ActiveHoursEnd {
		return deny(CheckTiming, "outside active hours %02d:00-%02d:00 (local time %s)",
			rules.ActiveHoursStart, rules.ActiveHoursEnd, local.Format("15:04")), nil
	}
	return c.staleness(ctx, o, owner, rules, now)
}

func (c *Controller) staleness(_ context.Context, o *domain.Opportunity, _ *domain.Owner, rules domain.CommentingRules, now time.Time) (Decision, error) {
	if age := o.TargetAge(now); age > rules.MaxTargetAge() {
		return deny(CheckTiming, "target is %s old, maximum is %s", age.Round(time.Minute), rules.MaxTargetAge()), nil
	}
	return allow(), nil
}

func (c *Controller) duplication(ctx context.Context, o *domain.Opportunity, owner *domain.Owner, _ domain.CommentingRules, _ time.Time) (Decision, error) {
	n, err := c.store.Count(ctx, store.Filter{
		OwnerID:          owner.ID,
		Statuses:         completed,
		ActionType:       o.ActionType,
		TargetExternalID: o.Target.ExternalID,
		ExcludeID:        o.ID,
	})
	if err != nil {
		return Decision{}, fmt.Errorf("check duplicates for %s: %w", o.ID, err)
	}
	if n > 0 {
		return deny(CheckDuplication, "already completed %s on target %s", o.ActionType, o.Target.ExternalID), nil
	}
	return allow(), nil
}

func (c *Controller) capacity(ctx context.Context, o *domain.Opportunity, owner *domain.Owner, rules domain.CommentingRules, _ time.Time) (Decision, error) {
	if !owner.Active {
		return deny(CheckCapacity, "owner account %s is inactive", owner.ID), nil
	}
	outstanding, err := c.store.Count(ctx, store.Filter{
		OwnerID:   owner.ID,
		Statuses:  []domain.Status{domain.StatusPending, domain.StatusScheduled},
		ExcludeID: o.ID,
	})
	if err != nil {
		return Decision{}, fmt.Errorf("count backlog for %s: %w", owner.ID, err)
	}
	if outstanding+1 > rules.MaxBacklog {
		return deny(CheckCapacity, "backlog full: %d outstanding opportunities, cap is %d", outstanding, rules.MaxBacklog), nil
	}
	return allow(), nil
}
