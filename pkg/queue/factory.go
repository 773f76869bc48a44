package queue

import (
	"log/slog"

	"github.com/dmawi/gridci/pkg/protocol"
)

func NewSourceFactory() *SourceFactory {
	return &SourceFactory{}
}

type SourceFactory struct{}

func (f *SourceFactory) Create(config map[string]any, logger *slog.Logger) (protocol.Source, error) {
	return NewSource(config, logger)
}

func (f *SourceFactory) ID() string {
	return "queue"
}
