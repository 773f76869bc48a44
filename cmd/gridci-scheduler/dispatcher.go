package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dmawi/gridci/pkg/eventbus"
	"github.com/dmawi/gridci/pkg/events"
	"github.com/dmawi/gridci/pkg/models"
	"github.com/dmawi/gridci/pkg/persistence"
	"github.com/dmawi/gridci/pkg/protocol"
	"github.com/dmawi/gridci/pkg/registry"
	"github.com/dmawi/gridci/pkg/scheduler"
	"github.com/dmawi/gridci/pkg/trigger"
	"github.com/google/uuid"
)

// Dispatcher watches trigger sources (cron schedules, the dispatch queue) and
// announces a run on the event bus for every pipeline a source event matches.
type Dispatcher struct {
	id           string
	eventBus     eventbus.EventBus
	persistence  persistence.Persistence
	registry     *registry.Registry
	matcher      *trigger.Matcher
	poller       *scheduler.Poller
	queueSource  protocol.Source
	logger       *slog.Logger
	restartCount int
}

func NewDispatcher(
	id string,
	persistence persistence.Persistence,
	eventBus eventbus.EventBus,
	registry *registry.Registry,
	logger *slog.Logger,
) *Dispatcher {
	return &Dispatcher{
		id:          id,
		eventBus:    eventBus,
		persistence: persistence,
		registry:    registry,
		matcher:     trigger.NewMatcher(logger),
		poller:      scheduler.NewPoller(persistence, time.Minute, logger),
		logger:      logger.With("module", "dispatcher"),
	}
}

// WithQueue attaches the Redis dispatch queue source.
func (d *Dispatcher) WithQueue(redisAddr string) error {
	source, err := d.registry.CreateSource("queue", map[string]any{
		"connection": map[string]any{
			"addr": redisAddr,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create queue source: %w", err)
	}

	d.queueSource = source

	return nil
}

// Start begins the dispatcher service.
func (d *Dispatcher) Start(ctx context.Context) {
	dCtx, cancel := context.WithCancel(ctx)

	d.logger.Info("Starting dispatcher")

	d.handleSignals(dCtx, cancel)
	d.run(dCtx)
}

// handleSignals sets up signal handling for graceful shutdown and restart.
func (d *Dispatcher) handleSignals(ctx context.Context, cancel context.CancelFunc) {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-signals
		d.logger.Info("Received signal", "signal", sig)

		switch sig {
		case syscall.SIGHUP:
			d.logger.Info("Reloading pipelines...")
			d.restart(ctx, cancel)
		case syscall.SIGINT, syscall.SIGTERM:
			d.logger.Info("Shutting down gracefully...")
			d.stop(ctx, cancel)
			os.Exit(0)
		default:
			d.logger.Warn("Unhandled signal received", "signal", sig)
		}
	}()
}

// restart handles service restart with backoff.
func (d *Dispatcher) restart(ctx context.Context, cancel context.CancelFunc) {
	d.restartCount++
	newCtx := context.WithoutCancel(ctx)

	d.stop(ctx, cancel)

	if d.restartCount > 5 {
		d.logger.Error("Restart limit reached, exiting...")
		os.Exit(1)
	}

	backoff := time.Duration(d.restartCount) * time.Second
	d.logger.Info("Restarting dispatcher...", "backoff", backoff)
	time.Sleep(backoff)

	d.Start(newCtx)
}

func (d *Dispatcher) run(ctx context.Context) {
	pipelines, err := d.persistence.Pipelines(ctx)
	if err != nil {
		d.logger.Error("Failed to load pipelines", "error", err)

		return
	}

	if err := d.poller.SyncPipelines(ctx, pipelines); err != nil {
		d.logger.Error("Failed to sync pipeline schedules", "error", err)

		return
	}

	if err := d.poller.Start(ctx, d.handleSourceEvent); err != nil {
		d.logger.Error("Failed to start schedule poller", "error", err)

		return
	}

	if d.queueSource != nil {
		if err := d.queueSource.Start(ctx, d.handleSourceEvent); err != nil {
			d.logger.Error("Failed to start dispatch queue source", "error", err)

			return
		}
	}

	d.logger.Info("Dispatcher started successfully", "pipelines", len(pipelines))

	<-ctx.Done()
	d.logger.Info("Dispatcher context cancelled, stopping...")
}

// handleSourceEvent matches a source event against the stored pipelines and
// announces a run for every match.
func (d *Dispatcher) handleSourceEvent(ctx context.Context, event models.Event) error {
	logger := d.logger.With("event_id", event.ID, "event_type", event.Type)
	logger.Info("Processing source event")

	pipelines, err := d.scopedPipelines(ctx, event)
	if err != nil {
		logger.Error("Failed to load pipelines for event", "error", err)

		return err
	}

	results := d.matchEvent(event, pipelines)

	logger.Info("Found matching pipelines", "count", len(results))

	for _, result := range results {
		if result.Pipeline.On.Dispatch != nil && event.Type == models.EventDispatch {
			event.Inputs = trigger.ResolveDispatchInputs(result.Pipeline.On.Dispatch, event.Inputs)
		}

		if err := d.publishRunDispatched(ctx, result.Pipeline, event, result.Reason); err != nil {
			logger.Error("Failed to publish run dispatched event",
				"pipeline_id", result.Pipeline.ID,
				"error", err)
		}
	}

	return nil
}

// matchEvent resolves which pipelines an event triggers. Schedule events from
// the poller carry the cron expression that fired; those are matched against
// the declared schedules directly, so a poller running late does not lose the
// run to a minute comparison.
func (d *Dispatcher) matchEvent(event models.Event, pipelines []*models.Pipeline) []trigger.MatchResult {
	cronExpression, _ := event.Payload["cron_expression"].(string)
	if event.Type != models.EventSchedule || cronExpression == "" {
		return d.matcher.Match(event, pipelines)
	}

	results := make([]trigger.MatchResult, 0)

	for _, pipeline := range pipelines {
		for _, schedule := range pipeline.On.Schedule {
			if schedule.Cron == cronExpression {
				results = append(results, trigger.MatchResult{
					Pipeline: pipeline,
					Reason:   "schedule: " + cronExpression,
				})

				break
			}
		}
	}

	return results
}

// scopedPipelines narrows matching to the pipeline named in the event payload
// when one is present.
func (d *Dispatcher) scopedPipelines(ctx context.Context, event models.Event) ([]*models.Pipeline, error) {
	pipelineID, _ := event.Payload["pipeline_id"].(string)
	if pipelineID == "" {
		return d.persistence.Pipelines(ctx)
	}

	pipeline, err := d.persistence.PipelineByID(ctx, pipelineID)
	if err != nil {
		return nil, err
	}

	return []*models.Pipeline{pipeline}, nil
}

func (d *Dispatcher) publishRunDispatched(ctx context.Context, pipeline *models.Pipeline, event models.Event, reason string) error {
	logger := d.logger.With("pipeline_id", pipeline.ID, "reason", reason)
	logger.Info("Publishing run dispatched event")

	runID := uuid.New().String()

	dispatched := events.RunDispatched{
		BaseEvent: events.BaseEvent{
			ID:         d.eventBus.GenerateID(),
			Type:       events.RunDispatchedEvent,
			Timestamp:  time.Now().UTC(),
			PipelineID: pipeline.ID,
			RunnerID:   d.id,
		},
		RunID:  runID,
		Event:  event,
		Reason: reason,
	}

	if err := d.eventBus.Publish(ctx, runID, dispatched); err != nil {
		logger.Error("Failed to publish run dispatched event", "error", err)

		return err
	}

	logger.With("run_id", runID).Info("Successfully published run dispatched event")

	return nil
}

// stop gracefully shuts down the dispatcher.
func (d *Dispatcher) stop(ctx context.Context, cancel context.CancelFunc) {
	d.logger.Info("Stopping dispatcher")

	if err := d.poller.Stop(ctx); err != nil {
		d.logger.Error("Failed to stop schedule poller", "error", err)
	}

	if d.queueSource != nil {
		if err := d.queueSource.Stop(ctx); err != nil {
			d.logger.Error("Failed to stop dispatch queue source", "error", err)
		}
	}

	if cancel != nil {
		cancel()
	}
}
