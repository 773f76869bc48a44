package cmd

import (
	"log/slog"

	"github.com/dmawi/gridci/pkg/actions/command"
	"github.com/dmawi/gridci/pkg/actions/coverage"
	"github.com/dmawi/gridci/pkg/queue"
	"github.com/dmawi/gridci/pkg/registry"
)

// NewRegistry builds a registry with the built-in actions and event sources.
func NewRegistry(logger *slog.Logger) *registry.Registry {
	reg := registry.NewRegistry(logger)

	reg.RegisterAction(command.NewActionFactory())
	reg.RegisterAction(coverage.NewActionFactory())

	reg.RegisterSource(queue.NewSourceFactory())

	return reg
}
