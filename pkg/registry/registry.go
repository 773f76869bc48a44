// Package registry keeps the catalog of available step actions and event
// sources.
package registry

import (
	"fmt"
	"log/slog"

	"github.com/dmawi/gridci/pkg/protocol"
)

type Registry struct {
	logger          *slog.Logger
	actionFactories map[string]protocol.ActionFactory
	sourceFactories map[string]protocol.SourceFactory
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		logger:          logger.With("module", "registry"),
		actionFactories: make(map[string]protocol.ActionFactory),
		sourceFactories: make(map[string]protocol.SourceFactory),
	}
}

func (r *Registry) RegisterAction(factory protocol.ActionFactory) {
	r.actionFactories[factory.ID()] = factory
}

func (r *Registry) RegisterSource(factory protocol.SourceFactory) {
	r.sourceFactories[factory.ID()] = factory
}

func (r *Registry) CreateAction(actionID string, config map[string]any) (protocol.Action, error) {
	factory, ok := r.actionFactories[actionID]
	if !ok {
		return nil, fmt.Errorf("action '%s' not registered", actionID)
	}

	return factory.Create(config)
}

func (r *Registry) CreateSource(sourceID string, config map[string]any) (protocol.Source, error) {
	factory, ok := r.sourceFactories[sourceID]
	if !ok {
		return nil, fmt.Errorf("source '%s' not registered", sourceID)
	}

	return factory.Create(config, r.logger)
}

// AvailableActions lists the registered action IDs.
func (r *Registry) AvailableActions() []string {
	ids := make([]string, 0, len(r.actionFactories))
	for id := range r.actionFactories {
		ids = append(ids, id)
	}

	return ids
}
