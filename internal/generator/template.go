package generator

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"

	"github.com/ramiqadoumi/engageflow/internal/domain"
)

// templateConfidence marks canned text.
const templateConfidence = 0.4

var templates = map[domain.Approach][]string{
	domain.ApproachExpertInsight: {
		"Great points, %s. In my experience the hardest part is keeping this going once the initial push is over.",
		"This matches what I have seen too, %s. Measuring it early made the biggest difference for us.",
	},
	domain.ApproachEngagingQuestion: {
		"Really interesting, %s. What would you do differently if you started over today?",
		"Thanks for sharing, %s. How did the team react when you first rolled this out?",
	},
	domain.ApproachSupportive: {
		"Congratulations, %s! Well deserved and great to see.",
		"Love this, %s. Thanks for being so open about the journey.",
	},
	domain.ApproachThoughtful: {
		"Thoughtful post, %s. The point about trade-offs is one more people should hear.",
		"Appreciate you sharing this, %s. A useful perspective.",
	},
}

// Template produces canned text without calling a model. It is the fallback
// generator when no model is configured.
type Template struct{}

func (Template) Generate(_ context.Context, req Request) (Content, error) {
	options, ok := templates[req.Approach]
	if !ok {
		options = templates[domain.ApproachThoughtful]
	}
	name := firstName(req.TargetAuthor)

	// Pick deterministically per target so retries produce the same text.
	h := fnv.New32a()
	_, _ = h.Write([]byte(req.TargetAuthor + req.TargetContent))
	first := int(h.Sum32() % uint32(len(options)))

	c := Content{Confidence: templateConfidence}
	for i := range options {
		text := fmt.Sprintf(options[(first+i)%len(options)], name)
		if i == 0 {
			c.Text = text
			continue
		}
		c.Alternatives = append(c.Alternatives, text)
	}
	return finish(c, req.Limit())
}

func firstName(author string) string {
	fields := strings.Fields(author)
	if len(fields) == 0 {
		return "there"
	}
	return fields[0]
}
