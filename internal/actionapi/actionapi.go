// Package actionapi submits engagement actions to the social network.
package actionapi

import (
	"context"

	"github.com/ramiqadoumi/engageflow/internal/domain"
)

// Submission is one action to perform on an external target.
type Submission struct {
	// IdempotencyKey lets the network drop a duplicate of an action it already performed.
	IdempotencyKey   string
	ActionType       domain.ActionType
	TargetExternalID string
	TargetURL        string
	Text             string
}

// Receipt identifies the action the network performed.
type Receipt struct {
	ActionID string
}

// Submitter performs actions. Failures are *domain.ActionSubmissionError.
type Submitter interface {
	Submit(ctx context.Context, s Submission) (Receipt, error)
}
