package store

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ramiqadoumi/engageflow/internal/domain"
)

// Columns is the persisted column order shared by the SQL backends.
var Columns = []string{
	"id", "owner_id",
	"target_type", "target_url", "target_external_id", "target_author", "target_author_headline",
	"target_title", "target_content", "target_company", "target_published_at", "target_metrics",
	"action_type", "priority", "suggested_text", "requires_approval",
	"relevance_score", "engagement_potential_score", "score", "tags", "reasoning", "analysis_metadata",
	"status", "scheduled_for", "expires_at", "attempted_at", "completed_at", "attempts_count",
	"last_error", "failure_kind", "skip_reason", "execution_result", "user_feedback",
	"claimed_by", "claimed_at",
	"discovery_source", "discovery_metadata",
	"created_at", "updated_at",
}

// ColumnList is Columns joined for SELECT and INSERT statements.
var ColumnList = strings.Join(Columns, ", ")

// Dialect adapts the shared row codec to a SQL engine.
type Dialect struct {
	// Placeholder formats the n-th (1-based) bind parameter.
	Placeholder func(n int) string
	Time        func(t *time.Time) any
	ScanTime    func(dst **time.Time) any
	Strings     func(s []string) any
	ScanStrings func(dst *[]string) any
}

// Row is the flat, column-per-field form of an opportunity.
type Row struct {
	ID, OwnerID                                                 string
	TargetType, TargetURL, TargetExternalID, TargetAuthor       string
	TargetAuthorHeadline, TargetTitle, TargetContent, TargetOrg string
	TargetPublishedAt                                           *time.Time
	TargetMetrics                                               []byte
	ActionType, Priority, SuggestedText                         string
	RequiresApproval                                            bool
	RelevanceScore, EngagementPotentialScore                    int
	Score                                                       []byte
	Tags                                                        []string
	Reasoning                                                   string
	AnalysisMetadata                                            []byte
	Status                                                      string
	ScheduledFor, ExpiresAt, AttemptedAt, CompletedAt           *time.Time
	AttemptsCount                                               int
	LastError, FailureKind, SkipReason                          string
	ExecutionResult                                             []byte
	UserFeedback, ClaimedBy                                     string
	ClaimedAt                                                   *time.Time
	DiscoverySource                                             string
	DiscoveryMetadata                                           []byte
	CreatedAt, UpdatedAt                                        *time.Time
}

// EncodeRow flattens o for persistence.
func EncodeRow(o *domain.Opportunity) (Row, error) {
	metrics, err := json.Marshal(o.Target.Metrics)
	if err != nil {
		return Row{}, fmt.Errorf("encode metrics: %w", err)
	}
	score, err := marshalOptional(o.Score)
	if err != nil {
		return Row{}, fmt.Errorf("encode score: %w", err)
	}
	result, err := marshalOptional(o.ExecutionResult)
	if err != nil {
		return Row{}, fmt.Errorf("encode execution result: %w", err)
	}
	var feedback string
	if o.UserFeedback != nil {
		feedback = string(*o.UserFeedback)
	}
	created, updated := o.CreatedAt.UTC(), o.UpdatedAt.UTC()
	return Row{
		ID: o.ID, OwnerID: o.OwnerID,
		TargetType: o.Target.Type, TargetURL: o.Target.URL, TargetExternalID: o.Target.ExternalID,
		TargetAuthor: o.Target.Author, TargetAuthorHeadline: o.Target.AuthorHeadline,
		TargetTitle: o.Target.Title, TargetContent: o.Target.Content, TargetOrg: o.Target.Company,
		TargetPublishedAt: utc(o.Target.PublishedAt), TargetMetrics: metrics,
		ActionType: string(o.ActionType), Priority: string(o.Priority),
		SuggestedText: o.SuggestedText, RequiresApproval: o.RequiresApproval,
		RelevanceScore: o.RelevanceScore, EngagementPotentialScore: o.EngagementPotentialScore,
		Score: score, Tags: o.Tags, Reasoning: o.Reasoning, AnalysisMetadata: nilIfEmpty(o.AnalysisMetadata),
		Status:       string(o.Status),
		ScheduledFor: utc(o.ScheduledFor), ExpiresAt: utc(o.ExpiresAt),
		AttemptedAt: utc(o.AttemptedAt), CompletedAt: utc(o.CompletedAt),
		AttemptsCount: o.AttemptsCount,
		LastError:     o.LastError, FailureKind: string(o.FailureKind), SkipReason: o.SkipReason,
		ExecutionResult: result, UserFeedback: feedback,
		ClaimedBy: o.ClaimedBy, ClaimedAt: utc(o.ClaimedAt),
		DiscoverySource: o.DiscoverySource, DiscoveryMetadata: nilIfEmpty(o.DiscoveryMetadata),
		CreatedAt: &created, UpdatedAt: &updated,
	}, nil
}

// Decode rebuilds the domain entity.
func (r Row) Decode() (*domain.Opportunity, error) {
	o := &domain.Opportunity{
		ID:      r.ID,
		OwnerID: r.OwnerID,
		Target: domain.Target{
			Type: r.TargetType, URL: r.TargetURL, ExternalID: r.TargetExternalID,
			Author: r.TargetAuthor, AuthorHeadline: r.TargetAuthorHeadline,
			Title: r.TargetTitle, Content: r.TargetContent, Company: r.TargetOrg,
			PublishedAt: r.TargetPublishedAt,
		},
		ActionType:               domain.ActionType(r.ActionType),
		Priority:                 domain.Priority(r.Priority),
		SuggestedText:            r.SuggestedText,
		RequiresApproval:         r.RequiresApproval,
		RelevanceScore:           r.RelevanceScore,
		EngagementPotentialScore: r.EngagementPotentialScore,
		Tags:                     r.Tags,
		Reasoning:                r.Reasoning,
		AnalysisMetadata:         r.AnalysisMetadata,
		Status:                   domain.Status(r.Status),
		ScheduledFor:             r.ScheduledFor,
		ExpiresAt:                r.ExpiresAt,
		AttemptedAt:              r.AttemptedAt,
		CompletedAt:              r.CompletedAt,
		AttemptsCount:            r.AttemptsCount,
		LastError:                r.LastError,
		FailureKind:              domain.FailureKind(r.FailureKind),
		SkipReason:               r.SkipReason,
		ClaimedBy:                r.ClaimedBy,
		ClaimedAt:                r.ClaimedAt,
		DiscoverySource:          r.DiscoverySource,
		DiscoveryMetadata:        r.DiscoveryMetadata,
	}
	if r.CreatedAt != nil {
		o.CreatedAt = *r.CreatedAt
	}
	if r.UpdatedAt != nil {
		o.UpdatedAt = *r.UpdatedAt
	}
	if len(r.TargetMetrics) > 0 {
		if err := json.Unmarshal(r.TargetMetrics, &o.Target.Metrics); err != nil {
			return nil, fmt.Errorf("decode metrics for %s: %w", r.ID, err)
		}
	}
	if len(r.Score) > 0 {
		o.Score = new(domain.ScoreBreakdown)
		if err := json.Unmarshal(r.Score, o.Score); err != nil {
			return nil, fmt.Errorf("decode score for %s: %w", r.ID, err)
		}
	}
	if len(r.ExecutionResult) > 0 {
		o.ExecutionResult = new(domain.ExecutionResult)
		if err := json.Unmarshal(r.ExecutionResult, o.ExecutionResult); err != nil {
			return nil, fmt.Errorf("decode execution result for %s: %w", r.ID, err)
		}
	}
	if r.UserFeedback != "" {
		f := domain.Feedback(r.UserFeedback)
		o.UserFeedback = &f
	}
	return o, nil
}

// Values returns bind parameters in Columns order.
func (r *Row) Values(d Dialect) []any {
	return []any{
		r.ID, r.OwnerID,
		r.TargetType, r.TargetURL, r.TargetExternalID, r.TargetAuthor, r.TargetAuthorHeadline,
		r.TargetTitle, r.TargetContent, r.TargetOrg, d.Time(r.TargetPublishedAt), r.TargetMetrics,
		r.ActionType, r.Priority, r.SuggestedText, r.RequiresApproval,
		r.RelevanceScore, r.EngagementPotentialScore, r.Score, d.Strings(r.Tags), r.Reasoning, r.AnalysisMetadata,
		r.Status, d.Time(r.ScheduledFor), d.Time(r.ExpiresAt), d.Time(r.AttemptedAt), d.Time(r.CompletedAt), r.AttemptsCount,
		r.LastError, r.FailureKind, r.SkipReason, r.ExecutionResult, r.UserFeedback,
		r.ClaimedBy, d.Time(r.ClaimedAt),
		r.DiscoverySource, r.DiscoveryMetadata,
		d.Time(r.CreatedAt), d.Time(r.UpdatedAt),
	}
}

// Dest returns scan targets in Columns order.
func (r *Row) Dest(d Dialect) []any {
	return []any{
		&r.ID, &r.OwnerID,
		&r.TargetType, &r.TargetURL, &r.TargetExternalID, &r.TargetAuthor, &r.TargetAuthorHeadline,
		&r.TargetTitle, &r.TargetContent, &r.TargetOrg, d.ScanTime(&r.TargetPublishedAt), &r.TargetMetrics,
		&r.ActionType, &r.Priority, &r.SuggestedText, &r.RequiresApproval,
		&r.RelevanceScore, &r.EngagementPotentialScore, &r.Score, d.ScanStrings(&r.Tags), &r.Reasoning, &r.AnalysisMetadata,
		&r.Status, d.ScanTime(&r.ScheduledFor), d.ScanTime(&r.ExpiresAt), d.ScanTime(&r.AttemptedAt), d.ScanTime(&r.CompletedAt), &r.AttemptsCount,
		&r.LastError, &r.FailureKind, &r.SkipReason, &r.ExecutionResult, &r.UserFeedback,
		&r.ClaimedBy, d.ScanTime(&r.ClaimedAt),
		&r.DiscoverySource, &r.DiscoveryMetadata,
		d.ScanTime(&r.CreatedAt), d.ScanTime(&r.UpdatedAt),
	}
}

// Placeholders renders n bind parameters starting at from.
func (d Dialect) Placeholders(from, n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = d.Placeholder(from + i)
	}
	return strings.Join(parts, ", ")
}

// Assignments renders "col = $n" pairs for every column except id.
func (d Dialect) Assignments(from int) string {
	parts := make([]string, 0, len(Columns)-1)
	for i, c := range Columns[1:] {
		parts = append(parts, c+" = "+d.Placeholder(from+i))
	}
	return strings.Join(parts, ", ")
}

// Where renders f as a WHERE clause (empty when f has no predicates) and its
// bind parameters, numbered from 1.
func (d Dialect) Where(f Filter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, vals ...any) {
		for _, v := range vals {
			args = append(args, v)
			cond = strings.Replace(cond, "?", d.Placeholder(len(args)), 1)
		}
		conds = append(conds, cond)
	}
	if f.OwnerID != "" {
		add("owner_id = ?", f.OwnerID)
	}
	if len(f.Statuses) > 0 {
		marks := strings.TrimSuffix(strings.Repeat("?, ", len(f.Statuses)), ", ")
		vals := make([]any, len(f.Statuses))
		for i, s := range f.Statuses {
			vals[i] = string(s)
		}
		add("status IN ("+marks+")", vals...)
	}
	if f.ActionType != "" {
		add("action_type = ?", string(f.ActionType))
	}
	if f.TargetExternalID != "" {
		add("target_external_id = ?", f.TargetExternalID)
	}
	if f.TargetAuthor != "" {
		add("target_author = ?", f.TargetAuthor)
	}
	if f.ExcludeID != "" {
		add("id <> ?", f.ExcludeID)
	}
	if f.CompletedSince != nil {
		add("completed_at >= ?", d.Time(f.CompletedSince))
	}
	if f.DueBy != nil {
		add("(scheduled_for IS NULL OR scheduled_for <= ?)", d.Time(f.DueBy))
	}
	if f.NotExpiredAt != nil {
		add("(expires_at IS NULL OR expires_at > ?)", d.Time(f.NotExpiredAt))
	}
	if f.ExpiredAt != nil {
		add("expires_at <= ?", d.Time(f.ExpiredAt))
	}
	if f.ClaimedBefore != nil {
		add("claimed_at < ?", d.Time(f.ClaimedBefore))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// OrderClause renders the ORDER BY for o. NULL scheduled_for sorts first.
func OrderClause(o Order) string {
	switch o {
	case OrderDue:
		return " ORDER BY scheduled_for IS NOT NULL, scheduled_for ASC, created_at ASC"
	case OrderCompletedDesc:
		return " ORDER BY completed_at IS NULL, completed_at DESC"
	default:
		return " ORDER BY created_at DESC"
	}
}

func marshalOptional[T any](v *T) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

func nilIfEmpty(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return b
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
