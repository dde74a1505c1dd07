package generator

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ramiqadoumi/engageflow/internal/domain"
)

// defaultConfidence is assigned when a model answers in plain text instead of JSON.
const defaultConfidence = 0.6

var approachGuidance = map[domain.Approach]string{
	domain.ApproachExpertInsight:    "Add one concrete insight from your own experience that extends the author's point.",
	domain.ApproachEngagingQuestion: "Ask one thoughtful, specific question that invites the author to elaborate.",
	domain.ApproachSupportive:       "Be warm and encouraging; acknowledge what the author achieved or shared.",
	domain.ApproachThoughtful:       "Respond thoughtfully to the main idea in a natural, conversational way.",
}

func systemPrompt(req Request) string {
	var sb strings.Builder
	sb.WriteString("You write short professional social media replies on behalf of a person.\n")
	if req.ToneProfile != "" {
		fmt.Fprintf(&sb, "Their voice: %s\n", req.ToneProfile)
	}
	sb.WriteString("Never use hashtags, emojis, sales language or links. Do not invent facts about the author.\n")
	fmt.Fprintf(&sb, "Keep the reply under %d characters.\n", req.Limit())
	sb.WriteString(`Answer with JSON only: {"text": string, "confidence": number between 0 and 1, "alternatives": [string]}`)
	return sb.String()
}

func userPrompt(req Request) string {
	kind := "comment on this post"
	switch req.ActionType {
	case domain.ActionMessage:
		kind = "direct message about this post"
	case domain.ActionConnect:
		kind = "connection request note referencing this post"
	}
	guidance, ok := approachGuidance[req.Approach]
	if !ok {
		guidance = approachGuidance[domain.ApproachThoughtful]
	}
	author := req.TargetAuthor
	if author == "" {
		author = "the author"
	}
	return fmt.Sprintf("Write a %s by %s.\n%s\n\nPost:\n%s", kind, author, guidance, req.TargetContent)
}

type reply struct {
	Text         string   `json:"text"`
	Confidence   *float64 `json:"confidence"`
	Alternatives []string `json:"alternatives"`
}

// parseReply reads the JSON envelope a model was asked for, falling back to
// treating the whole answer as the text.
func parseReply(raw string) Content {
	raw = strings.TrimSpace(raw)
	if start, end := strings.Index(raw, "{"), strings.LastIndex(raw, "}"); start >= 0 && end > start {
		var r reply
		if err := json.Unmarshal([]byte(raw[start:end+1]), &r); err == nil && strings.TrimSpace(r.Text) != "" {
			c := Content{Text: r.Text, Confidence: defaultConfidence, Alternatives: r.Alternatives}
			if r.Confidence != nil {
				c.Confidence = *r.Confidence
			}
			return c
		}
	}
	return Content{Text: raw, Confidence: defaultConfidence}
}
