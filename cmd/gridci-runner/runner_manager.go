package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/dmawi/gridci/pkg/eventbus"
	"github.com/dmawi/gridci/pkg/events"
	"github.com/dmawi/gridci/pkg/persistence"
	"github.com/dmawi/gridci/pkg/registry"
	"github.com/dmawi/gridci/pkg/runner"
	"go.opentelemetry.io/otel/trace"
)

type RunnerManager struct {
	id          string
	logger      *slog.Logger
	persistence persistence.Persistence
	registry    *registry.Registry
	eventBus    eventbus.EventBus
	tracer      trace.Tracer
}

func NewRunnerManager(
	id string,
	persistence persistence.Persistence,
	eventBus eventbus.EventBus,
	logger *slog.Logger,
	registry *registry.Registry,
) *RunnerManager {
	return &RunnerManager{
		id:          id,
		logger:      logger.With("module", "gridci-runner", "runner_id", id),
		persistence: persistence,
		registry:    registry,
		eventBus:    eventBus,
	}
}

// WithTracer enables span export for the runs executed by this manager.
func (m *RunnerManager) WithTracer(tracer trace.Tracer) *RunnerManager {
	m.tracer = tracer

	return m
}

func (m *RunnerManager) Start(ctx context.Context) error {
	m.logger.InfoContext(ctx, "Starting runner manager", "runner_id", m.id)

	err := m.eventBus.Handle(events.RunDispatchedEvent, m.handleRunDispatched)
	if err != nil {
		return err
	}

	err = m.eventBus.Subscribe(ctx)
	if err != nil {
		m.logger.ErrorContext(ctx, "Failed to subscribe to event bus", "error", err)

		return err
	}

	m.logger.InfoContext(ctx, "Runner started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	<-sigChan
	m.logger.InfoContext(ctx, "Shutting down runner...")

	return nil
}

func (m *RunnerManager) handleRunDispatched(ctx context.Context, event any) error {
	dispatched, ok := event.(*events.RunDispatched)
	if !ok {
		m.logger.ErrorContext(ctx, "Invalid event type for RunDispatched")

		return nil
	}

	logger := m.logger.With(
		"pipeline_id", dispatched.PipelineID,
		"run_id", dispatched.RunID,
		"event_id", dispatched.ID,
	)
	logger.InfoContext(ctx, "Processing run dispatched event", "reason", dispatched.Reason)

	pipeline, err := m.persistence.PipelineByID(ctx, dispatched.PipelineID)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to fetch pipeline by ID", "error", err)

		return err
	}

	pipelineRunner := runner.NewRunner(m.id, m.persistence, m.registry, m.eventBus, m.logger)
	if m.tracer != nil {
		pipelineRunner = pipelineRunner.WithTracer(m.tracer)
	}

	run, err := pipelineRunner.ExecuteRun(ctx, pipeline, dispatched.Event, dispatched.RunID)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to execute run", "error", err)

		return err
	}

	logger.InfoContext(ctx, "Run finished", "status", run.Status)

	return nil
}
