package scoring

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ramiqadoumi/engageflow/internal/domain"
)

var now = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

func opportunityAged(age time.Duration, content string) *domain.Opportunity {
	published := now.Add(-age)
	return &domain.Opportunity{
		ID: "opp-1",
		Target: domain.Target{
			Content:     content,
			PublishedAt: &published,
		},
		ActionType: domain.ActionComment,
		CreatedAt:  now,
	}
}

func TestEngagementPotential_FreshPlainPost(t *testing.T) {
	// age 1h, no question mark, 50 chars, no engagement.
	target := domain.Target{Content: strings.Repeat("a", 50)}
	got := EngagementPotential(target, time.Hour)
	want := 0.3*0.5 + 0.3*1.0 + 0.2*0.5 + 0.2*0.2
	assert.InDelta(t, want, got, 1e-9)
}

func TestEngagementPotential_ContentBonusesClamp(t *testing.T) {
	target := domain.Target{
		Content: "Why do teams keep rewriting their deploy pipeline? " + strings.Repeat("long ", 20),
		Metrics: domain.EngagementMetrics{Likes: 30, Comments: 10},
	}
	got := EngagementPotential(target, 30*time.Minute)
	want := 0.15 + 0.3*1.0 + 0.2*0.9 + 0.2*1.0
	assert.InDelta(t, want, got, 1e-9)
}

func TestAgeDecayAndTimingBands(t *testing.T) {
	cases := []struct {
		age           time.Duration
		decay, timing float64
	}{
		{30 * time.Minute, 1.0, 0.7},
		{2 * time.Hour, 1.0, 1.0},
		{5 * time.Hour, 0.8, 1.0},
		{10 * time.Hour, 0.6, 0.8},
		{20 * time.Hour, 0.6, 0.6},
		{30 * time.Hour, 0.3, 0.3},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.decay, ageDecay(tc.age), "decay at %s", tc.age)
		assert.Equal(t, tc.timing, Timing(tc.age), "timing at %s", tc.age)
	}
}

func TestRelevance(t *testing.T) {
	text := Normalize("Lessons from migrating our Kubernetes fleet to Go")

	got, matched := Relevance(text, []string{"kubernetes", "go", "rust", "databases"})
	assert.InDelta(t, 0.5+0.1, got, 1e-9, "two of four plus the high-value bonus")
	assert.Equal(t, []string{"kubernetes", "go"}, matched)

	got, matched = Relevance(Normalize("nothing relevant"), []string{"go"})
	assert.Zero(t, got)
	assert.Empty(t, matched)

	got, _ = Relevance(Normalize("deep research on go"), []string{"go"})
	assert.Equal(t, 1.0, got, "clamped")

	got, _ = Relevance(Normalize("plain"), nil)
	assert.Equal(t, 0.5, got)
}

func TestContainsTerm_WordBoundaries(t *testing.T) {
	text := Normalize("Going to GopherCon; Go is great. Head of Platform")
	assert.True(t, ContainsTerm(text, "go"))
	assert.True(t, ContainsTerm(text, "GopherCon"))
	assert.True(t, ContainsTerm(text, "head of"))
	assert.False(t, ContainsTerm(text, "goph"))
	assert.False(t, ContainsTerm(text, ""))
}

func TestHaystack_Contains(t *testing.T) {
	h := NewHaystack("Bitcoin and Cryptocurrency: more LAY-OFFS ahead")
	assert.True(t, h.Contains("crypto"))
	assert.True(t, h.Contains("layoffs"))
	assert.True(t, h.Contains("lay-offs"))
	assert.True(t, h.Contains("  Bitcoin "))
	assert.False(t, h.Contains("ethereum"))
	assert.False(t, h.Contains(""))
	assert.False(t, h.Contains("--"))

	term, ok := h.First([]string{"stocks", "currency"})
	assert.True(t, ok)
	assert.Equal(t, "currency", term)
}

func TestRelationship(t *testing.T) {
	senior := domain.Target{Author: "Dana", AuthorHeadline: "VP Engineering at Acme", Company: "ACME"}
	assert.InDelta(t, 0.8, Relationship(senior, "acme"), 1e-9)
	assert.InDelta(t, 0.7, Relationship(senior, "Globex"), 1e-9)
	assert.InDelta(t, 0.5, Relationship(domain.Target{Author: "Sam"}, ""), 1e-9)
}

func TestComposite_IsDeterministicWeightedSum(t *testing.T) {
	a := Composite(0.9, 0.6, 1.0, 0.5)
	b := Composite(0.9, 0.6, 1.0, 0.5)
	assert.Equal(t, a, b)
	assert.InDelta(t, 0.35*0.9+0.25*0.6+0.20*1.0+0.20*0.5, a, 1e-12)
}

func TestPriorityFor(t *testing.T) {
	assert.Equal(t, domain.PriorityUrgent, PriorityFor(0.85))
	assert.Equal(t, domain.PriorityHigh, PriorityFor(0.8))
	assert.Equal(t, domain.PriorityMedium, PriorityFor(0.65))
	assert.Equal(t, domain.PriorityLow, PriorityFor(0.649))
}

func TestChooseApproach(t *testing.T) {
	assert.Equal(t, domain.ApproachExpertInsight, ChooseApproach(domain.ScoreBreakdown{Relevance: 0.81, EngagementPotential: 0.9}))
	assert.Equal(t, domain.ApproachEngagingQuestion, ChooseApproach(domain.ScoreBreakdown{Relevance: 0.8, EngagementPotential: 0.9}))
	assert.Equal(t, domain.ApproachSupportive, ChooseApproach(domain.ScoreBreakdown{Relationship: 0.9}))
	assert.Equal(t, domain.ApproachThoughtful, ChooseApproach(domain.ScoreBreakdown{}))
}

func TestEngine_Score(t *testing.T) {
	owner := &domain.Owner{
		ID:           "owner-1",
		Interests:    []string{"go", "distributed systems"},
		Organization: "Acme",
	}
	o := opportunityAged(3*time.Hour,
		"What we learned running Go distributed systems at scale? Our data says retries are the hard part.")
	o.Target.AuthorHeadline = "Founder"
	o.Target.Company = "acme"

	res := Engine{}.Score(o, owner, now)
	require.Equal(t, []string{"go", "distributed systems"}, res.MatchedInterests)
	assert.Equal(t, 1.0, res.Relevance)
	assert.Equal(t, 1.0, res.Timing)
	assert.InDelta(t, 0.8, res.Relationship, 1e-9)
	assert.Equal(t, domain.ApproachExpertInsight, res.Approach)
	assert.True(t, res.ShouldAct)
	assert.Equal(t, PriorityFor(res.Composite), res.Priority)
	assert.Contains(t, res.Reasoning, "matches go, distributed systems")

	again := Engine{}.Score(o, owner, now)
	assert.Equal(t, res.ScoreBreakdown, again.ScoreBreakdown)
}

func TestEngine_ScoreRespectsOwnerThreshold(t *testing.T) {
	owner := &domain.Owner{ID: "owner-1", Rules: domain.CommentingRules{CommentThreshold: 0.99}}
	res := Engine{}.Score(opportunityAged(3*time.Hour, "hello"), owner, now)
	assert.False(t, res.ShouldAct)
}
