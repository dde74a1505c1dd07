// Package scoring ranks candidate actions with a fixed-weight composite of
// relevance, engagement potential, timing and relationship.
package scoring

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/ramiqadoumi/engageflow/internal/domain"
)

// Composite weights.
const (
	WeightRelevance           = 0.35
	WeightEngagementPotential = 0.25
	WeightTiming              = 0.20
	WeightRelationship        = 0.20
)

// Priority cut-offs on the composite score.
const (
	urgentAt = 0.85
	highAt   = 0.75
	mediumAt = 0.65
)

var (
	highValueTerms = []string{"insight", "insights", "experience", "learned", "lesson", "lessons", "strategy", "data", "research"}
	curiosityTerms = []string{"why", "how", "what if", "curious", "wonder", "thoughts", "surprising", "discover"}
	seniorityTerms = []string{
		"ceo", "cto", "cfo", "coo", "cmo", "chief", "founder", "co-founder", "president", "vp",
		"vice president", "director", "head of", "partner", "principal", "influencer", "author", "speaker",
	}
)

// Result is a breakdown plus the context that explains it.
type Result struct {
	domain.ScoreBreakdown
	MatchedInterests []string
	Reasoning        string
}

// Engine computes scores. The zero value is ready to use.
type Engine struct{}

// Score evaluates the opportunity's target against owner at instant now.
func (Engine) Score(o *domain.Opportunity, owner *domain.Owner, now time.Time) Result {
	rules := owner.Rules.WithDefaults()
	text := Normalize(o.Target.Text())
	age := o.TargetAge(now)

	relevance, matched := Relevance(text, owner.Interests)
	b := domain.ScoreBreakdown{
		Relevance:           relevance,
		EngagementPotential: EngagementPotential(o.Target, age),
		Timing:              Timing(age),
		Relationship:        Relationship(o.Target, owner.Organization),
	}
	b.Composite = Composite(b.Relevance, b.EngagementPotential, b.Timing, b.Relationship)
	b.ShouldAct = b.Composite >= rules.CommentThreshold
	b.Approach = ChooseApproach(b)
	b.Priority = PriorityFor(b.Composite)

	return Result{
		ScoreBreakdown:   b,
		MatchedInterests: matched,
		Reasoning:        reasoning(b, matched),
	}
}

// Composite is the weighted sum of the four sub-scores.
func Composite(relevance, engagement, timing, relationship float64) float64 {
	return clamp(WeightRelevance*relevance +
		WeightEngagementPotential*engagement +
		WeightTiming*timing +
		WeightRelationship*relationship)
}

// Relevance is the fraction of interests found in the normalized text, plus a
// bonus for generically high-value terms. An owner with no interests scores 0.5.
func Relevance(text string, interests []string) (float64, []string) {
	var matched []string
	score := 0.5
	if len(interests) > 0 {
		for _, in := range interests {
			if ContainsTerm(text, in) {
				matched = append(matched, in)
			}
		}
		score = float64(len(matched)) / float64(len(interests))
	}
	if _, ok := FirstTerm(text, highValueTerms); ok {
		score += 0.1
	}
	return clamp(score), matched
}

// EngagementPotential blends a neutral base, target freshness, content shape
// and current momentum.
func EngagementPotential(t domain.Target, age time.Duration) float64 {
	return clamp(0.3*0.5 + 0.3*ageDecay(age) + 0.2*contentShape(t) + 0.2*momentum(t.Metrics))
}

func ageDecay(age time.Duration) float64 {
	switch {
	case age <= 2*time.Hour:
		return 1.0
	case age <= 6*time.Hour:
		return 0.8
	case age <= 24*time.Hour:
		return 0.6
	default:
		return 0.3
	}
}

func contentShape(t domain.Target) float64 {
	raw := t.Text()
	score := 0.5
	if strings.Contains(raw, "?") {
		score += 0.2
	}
	if _, ok := FirstTerm(Normalize(raw), curiosityTerms); ok {
		score += 0.1
	}
	if len([]rune(raw)) > 100 {
		score += 0.1
	}
	return clamp(score)
}

func momentum(m domain.EngagementMetrics) float64 {
	return math.Max(0.2, math.Min(1.0, float64(m.Total())/20))
}

// Timing favours targets a few hours old: early enough to be seen, late
// enough that the conversation has started.
func Timing(age time.Duration) float64 {
	switch {
	case age < time.Hour:
		return 0.7
	case age <= 6*time.Hour:
		return 1.0
	case age <= 12*time.Hour:
		return 0.8
	case age <= 24*time.Hour:
		return 0.6
	default:
		return 0.3
	}
}

// Relationship rewards senior authors and authors from the owner's organization.
func Relationship(t domain.Target, organization string) float64 {
	score := 0.5
	descriptor := Normalize(t.AuthorHeadline + " " + t.Author)
	if _, ok := FirstTerm(descriptor, seniorityTerms); ok {
		score += 0.2
	}
	if organization != "" && t.Company != "" &&
		Normalize(strings.TrimSpace(organization)) == Normalize(strings.TrimSpace(t.Company)) {
		score += 0.1
	}
	return clamp(score)
}

// ChooseApproach picks the tone from the strongest signal.
func ChooseApproach(b domain.ScoreBreakdown) domain.Approach {
	switch {
	case b.Relevance > 0.8:
		return domain.ApproachExpertInsight
	case b.EngagementPotential > 0.8:
		return domain.ApproachEngagingQuestion
	case b.Relationship > 0.8:
		return domain.ApproachSupportive
	default:
		return domain.ApproachThoughtful
	}
}

// PriorityFor maps a composite score onto a priority band.
func PriorityFor(composite float64) domain.Priority {
	switch {
	case composite >= urgentAt:
		return domain.PriorityUrgent
	case composite >= highAt:
		return domain.PriorityHigh
	case composite >= mediumAt:
		return domain.PriorityMedium
	default:
		return domain.PriorityLow
	}
}

func reasoning(b domain.ScoreBreakdown, matched []string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "composite %.2f (relevance %.2f, engagement %.2f, timing %.2f, relationship %.2f)",
		b.Composite, b.Relevance, b.EngagementPotential, b.Timing, b.Relationship)
	if len(matched) > 0 {
		fmt.Fprintf(&sb, "; matches %s", strings.Join(matched, ", "))
	}
	return sb.String()
}

func clamp(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
