// Package protocol defines the interfaces between the runner and its
// pluggable pieces: step actions and event sources.
package protocol

import (
	"context"
	"log/slog"

	"github.com/dmawi/gridci/pkg/models"
)

// Action is one executable step implementation. The actual work is done by
// an external tool; the action only carries parameters to it and reports
// the outcome.
type Action interface {
	Execute(ctx context.Context, executionCtx models.ExecutionContext, logger *slog.Logger) (any, error)
}

// ActionFactory builds actions from the step's `with` parameter map.
type ActionFactory interface {
	Create(config map[string]any) (Action, error)
	ID() string
}
