// Package generator produces the text submitted with comment, message and
// connect actions. Adapters call a model, then sanitise and bound the output.
package generator

import (
	"context"

	"github.com/ramiqadoumi/engageflow/internal/domain"
)

// Request is the input to a generator.
type Request struct {
	TargetContent string
	TargetAuthor  string
	ToneProfile   string
	Approach      domain.Approach
	ActionType    domain.ActionType
	// MaxLength bounds Content.Text in runes. Zero means the action type's limit.
	MaxLength int
}

// Limit returns the effective maximum text length.
func (r Request) Limit() int {
	if r.MaxLength > 0 {
		return r.MaxLength
	}
	return r.ActionType.MaxTextLength()
}

// Content is a generated text with the model's confidence in it.
type Content struct {
	Text         string
	Confidence   float64
	Alternatives []string
}

// Generator produces content for a request.
type Generator interface {
	Generate(ctx context.Context, req Request) (Content, error)
}
