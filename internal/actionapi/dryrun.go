package actionapi

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

// DryRun logs submissions instead of performing them.
type DryRun struct {
	Logger *slog.Logger
}

func (d DryRun) Submit(_ context.Context, s Submission) (Receipt, error) {
	id := "dryrun-" + uuid.NewString()
	if d.Logger != nil {
		d.Logger.Info("dry run: action not submitted",
			slog.String("action_id", id),
			slog.String("action_type", string(s.ActionType)),
			slog.String("target_id", s.TargetExternalID),
			slog.Int("text_length", len(s.Text)),
		)
	}
	return Receipt{ActionID: id}, nil
}
