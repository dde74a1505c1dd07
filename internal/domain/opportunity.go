package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Status represents the lifecycle states an opportunity can be in.
type Status string

const (
	StatusPending    Status = "pending"
	StatusScheduled  Status = "scheduled"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusSkipped    Status = "skipped"
	StatusExpired    Status = "expired"
)

// IsTerminal returns true if no further state transitions are possible.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusSkipped || s == StatusExpired
}

// IsOutstanding reports whether the opportunity still counts against the owner's backlog.
func (s Status) IsOutstanding() bool {
	return s == StatusPending || s == StatusScheduled
}

// ParseStatus validates a raw status string.
func ParseStatus(raw string) (Status, error) {
	s := Status(raw)
	switch s {
	case StatusPending, StatusScheduled, StatusInProgress, StatusCompleted,
		StatusFailed, StatusSkipped, StatusExpired:
		return s, nil
	}
	return "", fmt.Errorf("unknown status %q", raw)
}

// ActionType is the closed set of engagement actions the engine can perform.
type ActionType string

const (
	ActionLike    ActionType = "like"
	ActionComment ActionType = "comment"
	ActionShare   ActionType = "share"
	ActionFollow  ActionType = "follow"
	ActionConnect ActionType = "connect"
	ActionMessage ActionType = "message"
)

// ParseActionType validates a raw action type string.
func ParseActionType(raw string) (ActionType, error) {
	a := ActionType(raw)
	switch a {
	case ActionLike, ActionComment, ActionShare, ActionFollow, ActionConnect, ActionMessage:
		return a, nil
	}
	return "", fmt.Errorf("unknown action type %q", raw)
}

// NeedsText reports whether submitting the action requires generated text.
func (a ActionType) NeedsText() bool {
	switch a {
	case ActionComment, ActionMessage, ActionConnect:
		return true
	case ActionLike, ActionShare, ActionFollow:
		return false
	}
	return false
}

// MaxTextLength is the longest text the network accepts for the action.
func (a ActionType) MaxTextLength() int {
	switch a {
	case ActionComment:
		return 1250
	case ActionMessage:
		return 2000
	case ActionConnect:
		return 300
	case ActionLike, ActionShare, ActionFollow:
		return 0
	}
	return 0
}

// Priority ranks opportunities for operators.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Feedback is the owner's verdict on an executed action.
type Feedback string

const (
	FeedbackPositive Feedback = "positive"
	FeedbackNegative Feedback = "negative"
	FeedbackNeutral  Feedback = "neutral"
)

// ParseFeedback validates a raw feedback string.
func ParseFeedback(raw string) (Feedback, error) {
	f := Feedback(raw)
	switch f {
	case FeedbackPositive, FeedbackNegative, FeedbackNeutral:
		return f, nil
	}
	return "", fmt.Errorf("unknown feedback %q", raw)
}

// Approach is the tone the generated text should take.
type Approach string

const (
	ApproachExpertInsight    Approach = "expert_insight"
	ApproachEngagingQuestion Approach = "engaging_question"
	ApproachSupportive       Approach = "supportive"
	ApproachThoughtful       Approach = "thoughtful"
)

// FailureKind classifies the last failed attempt.
type FailureKind string

const (
	FailureNone      FailureKind = ""
	FailureRetryable FailureKind = "retryable"
	FailureTerminal  FailureKind = "terminal"
)

// EngagementMetrics are the target's current public counters.
type EngagementMetrics struct {
	Likes    int `json:"likes"`
	Comments int `json:"comments"`
	Shares   int `json:"shares"`
	Views    int `json:"views"`
}

// Total returns likes + comments + shares. Views are not interactions.
func (m EngagementMetrics) Total() int {
	return m.Likes + m.Comments + m.Shares
}

// Target describes the external object the action is performed on.
type Target struct {
	Type           string            `json:"type"`
	URL            string            `json:"url"`
	ExternalID     string            `json:"external_id"`
	Author         string            `json:"author"`
	AuthorHeadline string            `json:"author_headline,omitempty"`
	Title          string            `json:"title,omitempty"`
	Content        string            `json:"content,omitempty"`
	Company        string            `json:"company,omitempty"`
	PublishedAt    *time.Time        `json:"published_at,omitempty"`
	Metrics        EngagementMetrics `json:"metrics"`
}

// Text is the searchable body of the target.
func (t Target) Text() string {
	if t.Title == "" {
		return t.Content
	}
	if t.Content == "" {
		return t.Title
	}
	return t.Title + "\n" + t.Content
}

// ScoreBreakdown is the structured output of the scoring engine.
type ScoreBreakdown struct {
	Relevance           float64  `json:"relevance"`
	EngagementPotential float64  `json:"engagement_potential"`
	Timing              float64  `json:"timing"`
	Relationship        float64  `json:"relationship"`
	Composite           float64  `json:"composite"`
	ShouldAct           bool     `json:"should_act"`
	Approach            Approach `json:"approach"`
	Priority            Priority `json:"priority"`
}

// ExecutionResult is stored on the opportunity after a successful submission.
type ExecutionResult struct {
	ActionID   string    `json:"action_id"`
	Confidence float64   `json:"confidence"`
	Approach   Approach  `json:"approach"`
	ExecutedAt time.Time `json:"executed_at"`
}

// Opportunity is the core domain entity: a candidate action on an external target.
type Opportunity struct {
	ID      string `json:"id"`
	OwnerID string `json:"owner_id"`

	Target     Target     `json:"target"`
	ActionType ActionType `json:"action_type"`
	Priority   Priority   `json:"priority"`

	SuggestedText    string `json:"suggested_text,omitempty"`
	RequiresApproval bool   `json:"requires_approval"`

	RelevanceScore           int             `json:"relevance_score"`
	EngagementPotentialScore int             `json:"engagement_potential_score"`
	Score                    *ScoreBreakdown `json:"score,omitempty"`
	Tags                     []string        `json:"tags,omitempty"`
	Reasoning                string          `json:"reasoning,omitempty"`
	AnalysisMetadata         json.RawMessage `json:"analysis_metadata,omitempty"`

	Status          Status           `json:"status"`
	ScheduledFor    *time.Time       `json:"scheduled_for,omitempty"`
	ExpiresAt       *time.Time       `json:"expires_at,omitempty"`
	AttemptedAt     *time.Time       `json:"attempted_at,omitempty"`
	CompletedAt     *time.Time       `json:"completed_at,omitempty"`
	AttemptsCount   int              `json:"attempts_count"`
	LastError       string           `json:"last_error,omitempty"`
	FailureKind     FailureKind      `json:"failure_kind,omitempty"`
	SkipReason      string           `json:"skip_reason,omitempty"`
	ExecutionResult *ExecutionResult `json:"execution_result,omitempty"`
	UserFeedback    *Feedback        `json:"user_feedback,omitempty"`
	ClaimedBy       string           `json:"claimed_by,omitempty"`
	ClaimedAt       *time.Time       `json:"claimed_at,omitempty"`

	DiscoverySource   string          `json:"discovery_source,omitempty"`
	DiscoveryMetadata json.RawMessage `json:"discovery_metadata,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsExpired reports whether expires_at is at or before now.
func (o *Opportunity) IsExpired(now time.Time) bool {
	return o.ExpiresAt != nil && !o.ExpiresAt.After(now)
}

// TargetAge is how long ago the target was published. When the publish time is
// unknown the discovery time stands in for it.
func (o *Opportunity) TargetAge(now time.Time) time.Duration {
	ref := o.CreatedAt
	if o.Target.PublishedAt != nil {
		ref = *o.Target.PublishedAt
	}
	age := now.Sub(ref)
	if age < 0 {
		return 0
	}
	return age
}

// CanRetry reports whether a failed opportunity may be rescheduled.
func (o *Opportunity) CanRetry(now time.Time, maxAttempts int) bool {
	return o.Status == StatusFailed &&
		o.FailureKind != FailureTerminal &&
		o.AttemptsCount < maxAttempts &&
		!o.IsExpired(now)
}

// ApplyScore copies a breakdown onto the opportunity's 0-100 score columns.
func (o *Opportunity) ApplyScore(b ScoreBreakdown) {
	o.Score = &b
	o.RelevanceScore = int(b.Relevance*100 + 0.5)
	o.EngagementPotentialScore = int(b.EngagementPotential*100 + 0.5)
	o.Priority = b.Priority
}

// Clone returns a deep copy safe to mutate independently.
func (o *Opportunity) Clone() *Opportunity {
	c := *o
	c.Tags = append([]string(nil), o.Tags...)
	c.AnalysisMetadata = append(json.RawMessage(nil), o.AnalysisMetadata...)
	c.DiscoveryMetadata = append(json.RawMessage(nil), o.DiscoveryMetadata...)
	c.Target.PublishedAt = cloneTime(o.Target.PublishedAt)
	c.ScheduledFor = cloneTime(o.ScheduledFor)
	c.ExpiresAt = cloneTime(o.ExpiresAt)
	c.AttemptedAt = cloneTime(o.AttemptedAt)
	c.CompletedAt = cloneTime(o.CompletedAt)
	c.ClaimedAt = cloneTime(o.ClaimedAt)
	if o.Score != nil {
		s := *o.Score
		c.Score = &s
	}
	if o.ExecutionResult != nil {
		r := *o.ExecutionResult
		c.ExecutionResult = &r
	}
	if o.UserFeedback != nil {
		f := *o.UserFeedback
		c.UserFeedback = &f
	}
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
