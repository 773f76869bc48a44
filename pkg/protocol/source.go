package protocol

import (
	"context"
	"log/slog"

	"github.com/dmawi/gridci/pkg/models"
)

// EventCallback is called when an event source produces an event. The
// callback publishes the event so the trigger matcher can activate
// pipelines.
type EventCallback func(ctx context.Context, event models.Event) error

// Source is a long-running producer of events: the schedule poller and the
// dispatch queue consumer implement it.
type Source interface {
	Start(ctx context.Context, callback EventCallback) error
	Stop(ctx context.Context) error
	Validate() error
}

// SourceFactory creates sources from their configuration map.
type SourceFactory interface {
	Create(config map[string]any, logger *slog.Logger) (Source, error)
	ID() string
}
