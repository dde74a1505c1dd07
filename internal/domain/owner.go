package domain

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// CommentingRules are the owner-configurable admission thresholds.
type CommentingRules struct {
	MaxPerDay                 int      `json:"max_per_day" yaml:"max_per_day" validate:"gte=1"`
	MaxPerHour                int      `json:"max_per_hour" yaml:"max_per_hour" validate:"gte=1"`
	MinHoursBetweenActions    float64  `json:"min_hours_between_actions" yaml:"min_hours_between_actions" validate:"gte=0"`
	MinHoursBetweenSameAuthor float64  `json:"min_hours_between_same_author" yaml:"min_hours_between_same_author" validate:"gte=0"`
	SensitiveTopics           []string `json:"sensitive_topics" yaml:"sensitive_topics"`
	RequireManualApproval     bool     `json:"require_manual_approval" yaml:"require_manual_approval"`

	CommentThreshold  float64 `json:"comment_threshold" yaml:"comment_threshold" validate:"gte=0,lte=1"`
	ActiveHoursStart  int     `json:"active_hours_start" yaml:"active_hours_start" validate:"gte=0,lte=23"`
	ActiveHoursEnd    int     `json:"active_hours_end" yaml:"active_hours_end" validate:"gte=1,lte=24,gtfield=ActiveHoursStart"`
	MaxTargetAgeHours float64 `json:"max_target_age_hours" yaml:"max_target_age_hours" validate:"gt=0"`
	MaxBacklog        int     `json:"max_backlog" yaml:"max_backlog" validate:"gte=1"`
	MaxAttempts       int     `json:"max_attempts" yaml:"max_attempts" validate:"gte=1"`
}

// DefaultRules returns the documented defaults.
func DefaultRules() CommentingRules {
	return CommentingRules{
		MaxPerDay:                 10,
		MaxPerHour:                3,
		MinHoursBetweenActions:    2,
		MinHoursBetweenSameAuthor: 24,
		CommentThreshold:          0.65,
		ActiveHoursStart:          6,
		ActiveHoursEnd:            22,
		MaxTargetAgeHours:         48,
		MaxBacklog:                20,
		MaxAttempts:               3,
	}
}

// WithDefaults fills zero-valued fields from DefaultRules.
func (r CommentingRules) WithDefaults() CommentingRules {
	d := DefaultRules()
	if r.MaxPerDay == 0 {
		r.MaxPerDay = d.MaxPerDay
	}
	if r.MaxPerHour == 0 {
		r.MaxPerHour = d.MaxPerHour
	}
	if r.MinHoursBetweenActions == 0 {
		r.MinHoursBetweenActions = d.MinHoursBetweenActions
	}
	if r.MinHoursBetweenSameAuthor == 0 {
		r.MinHoursBetweenSameAuthor = d.MinHoursBetweenSameAuthor
	}
	if r.CommentThreshold == 0 {
		r.CommentThreshold = d.CommentThreshold
	}
	if r.ActiveHoursStart == 0 && r.ActiveHoursEnd == 0 {
		r.ActiveHoursStart = d.ActiveHoursStart
		r.ActiveHoursEnd = d.ActiveHoursEnd
	}
	if r.MaxTargetAgeHours == 0 {
		r.MaxTargetAgeHours = d.MaxTargetAgeHours
	}
	if r.MaxBacklog == 0 {
		r.MaxBacklog = d.MaxBacklog
	}
	if r.MaxAttempts == 0 {
		r.MaxAttempts = d.MaxAttempts
	}
	return r
}

// MinSpacing is MinHoursBetweenActions as a duration.
func (r CommentingRules) MinSpacing() time.Duration {
	return hours(r.MinHoursBetweenActions)
}

// MinAuthorSpacing is MinHoursBetweenSameAuthor as a duration.
func (r CommentingRules) MinAuthorSpacing() time.Duration {
	return hours(r.MinHoursBetweenSameAuthor)
}

// MaxTargetAge is MaxTargetAgeHours as a duration.
func (r CommentingRules) MaxTargetAge() time.Duration {
	return hours(r.MaxTargetAgeHours)
}

func hours(h float64) time.Duration {
	return time.Duration(h * float64(time.Hour))
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks rule bounds.
func (r CommentingRules) Validate() error {
	if err := validate.Struct(r); err != nil {
		return fmt.Errorf("invalid commenting rules: %w", err)
	}
	return nil
}

// Owner is the account on whose behalf actions are performed.
type Owner struct {
	ID           string          `json:"id" yaml:"id" validate:"required"`
	Name         string          `json:"name" yaml:"name"`
	Active       bool            `json:"active" yaml:"active"`
	Timezone     string          `json:"timezone" yaml:"timezone"`
	Interests    []string        `json:"interests" yaml:"interests"`
	Organization string          `json:"organization" yaml:"organization"`
	ToneProfile  string          `json:"tone_profile" yaml:"tone_profile"`
	PreferredAt  []string        `json:"preferred_times" yaml:"preferred_times" validate:"dive,datetime=15:04"`
	Rules        CommentingRules `json:"rules" yaml:"rules"`
}

// Validate checks the owner record and its rules.
func (o *Owner) Validate() error {
	if err := validate.Struct(o); err != nil {
		return fmt.Errorf("invalid owner %q: %w", o.ID, err)
	}
	if _, err := time.LoadLocation(o.Timezone); err != nil {
		return fmt.Errorf("invalid owner %q timezone: %w", o.ID, err)
	}
	return nil
}

// Location returns the owner's time zone, falling back to UTC.
func (o *Owner) Location() *time.Location {
	if o.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(o.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// PreferredTimes parses PreferredAt into hour/minute pairs; malformed entries are ignored.
func (o *Owner) PreferredTimes() []TimeOfDay {
	out := make([]TimeOfDay, 0, len(o.PreferredAt))
	for _, raw := range o.PreferredAt {
		t, err := time.Parse("15:04", raw)
		if err != nil {
			continue
		}
		out = append(out, TimeOfDay{Hour: t.Hour(), Minute: t.Minute()})
	}
	return out
}

// TimeOfDay is a wall-clock time in the owner's zone.
type TimeOfDay struct {
	Hour   int
	Minute int
}

// On returns the instant of the time of day on the calendar day of ref, in ref's location.
func (t TimeOfDay) On(ref time.Time) time.Time {
	y, m, d := ref.Date()
	return time.Date(y, m, d, t.Hour, t.Minute, 0, 0, ref.Location())
}
