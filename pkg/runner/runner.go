// Package runner executes pipeline runs: it expands each job's matrix into
// isolated job runs, executes them in parallel, and applies fail-fast
// cancellation within a matrix group.
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/dmawi/gridci/pkg/eventbus"
	"github.com/dmawi/gridci/pkg/events"
	"github.com/dmawi/gridci/pkg/matrix"
	"github.com/dmawi/gridci/pkg/models"
	"github.com/dmawi/gridci/pkg/otelhelper"
	"github.com/dmawi/gridci/pkg/persistence"
	"github.com/dmawi/gridci/pkg/registry"
)

type Runner struct {
	id          string
	persistence persistence.Persistence
	registry    *registry.Registry
	eventBus    eventbus.EventBus
	logger      *slog.Logger
	tracer      trace.Tracer
}

func NewRunner(
	id string,
	persistence persistence.Persistence,
	registry *registry.Registry,
	eventBus eventbus.EventBus,
	logger *slog.Logger,
) *Runner {
	return &Runner{
		id:          id,
		persistence: persistence,
		registry:    registry,
		eventBus:    eventBus,
		logger:      logger.With("module", "runner", "runner_id", id),
		tracer:      noop.NewTracerProvider().Tracer("gridci-runner"),
	}
}

// WithTracer replaces the no-op tracer.
func (r *Runner) WithTracer(tracer trace.Tracer) *Runner {
	r.tracer = tracer

	return r
}

// Execute runs the pipeline for the given event and returns the finished run
// record. The matrix of every job is fully expanded before any job starts.
func (r *Runner) Execute(ctx context.Context, pipeline *models.Pipeline, event models.Event) (*models.Run, error) {
	return r.ExecuteRun(ctx, pipeline, event, uuid.New().String())
}

// ExecuteRun is Execute with a caller-assigned run ID, used when the run was
// announced on the event bus before a runner picked it up.
func (r *Runner) ExecuteRun(ctx context.Context, pipeline *models.Pipeline, event models.Event, runID string) (*models.Run, error) {
	logger := r.logger.With(
		"pipeline_id", pipeline.ID,
		"pipeline_name", pipeline.Name,
		"event_type", event.Type,
	)

	run, groups, err := r.planRun(pipeline, event, runID)
	if err != nil {
		return nil, err
	}

	logger = logger.With("run_id", run.ID)
	logger.Info("Starting run", "jobs", len(run.Jobs))

	ctx, span := otelhelper.StartSpan(ctx, r.tracer, "run",
		attribute.String(otelhelper.PipelineIDKey, pipeline.ID),
		attribute.String(otelhelper.PipelineNameKey, pipeline.Name),
		attribute.String(otelhelper.RunIDKey, run.ID),
		attribute.String(otelhelper.EventTypeKey, string(event.Type)),
		attribute.String(otelhelper.RunnerIDKey, r.id),
	)
	defer span.End()

	startedAt := time.Now().UTC()
	run.Status = models.RunStatusRunning
	run.StartedAt = &startedAt

	if err := r.saveRun(ctx, run); err != nil {
		return nil, err
	}

	r.publish(ctx, run, events.RunStarted{
		BaseEvent: r.baseEvent(events.RunStartedEvent, run.PipelineID),
		RunID:     run.ID,
	})

	// Matrix groups of distinct jobs are independent; fail-fast only ties
	// together the combinations of one job.
	var waitGroup sync.WaitGroup

	for _, group := range groups {
		waitGroup.Add(1)

		go func(group *jobGroup) {
			defer waitGroup.Done()
			r.runMatrixGroup(ctx, run, pipeline, group)
		}(group)
	}

	waitGroup.Wait()

	finishedAt := time.Now().UTC()
	run.FinishedAt = &finishedAt
	run.Status = runStatus(run)

	if err := r.saveRun(ctx, run); err != nil {
		return nil, err
	}

	duration := finishedAt.Sub(startedAt)

	if run.Failed() {
		runErr := fmt.Errorf("run %s finished with status %s", run.ID, run.Status)
		otelhelper.SetError(span, runErr)

		r.publish(ctx, run, events.RunFailed{
			BaseEvent: r.baseEvent(events.RunFailedEvent, run.PipelineID),
			RunID:     run.ID,
			Error:     runErr.Error(),
			Duration:  duration,
		})

		logger.Error("Run failed", "status", run.Status, "duration", duration)

		return run, nil
	}

	r.publish(ctx, run, events.RunFinished{
		BaseEvent: r.baseEvent(events.RunFinishedEvent, run.PipelineID),
		RunID:     run.ID,
		Status:    run.Status,
		Duration:  duration,
	})

	logger.Info("Run finished", "status", run.Status, "duration", duration)

	return run, nil
}

// jobGroup is one pipeline job together with its expanded matrix: the unit
// fail-fast applies to.
type jobGroup struct {
	name    string
	job     *models.Job
	jobRuns []*models.JobRun
}

// planRun expands every job's matrix up front, so the full set of job runs
// exists before anything executes. Each combination is scheduled exactly
// once.
func (r *Runner) planRun(pipeline *models.Pipeline, event models.Event, runID string) (*models.Run, []*jobGroup, error) {
	run := &models.Run{
		ID:           runID,
		PipelineID:   pipeline.ID,
		PipelineName: pipeline.Name,
		Event:        event,
		Status:       models.RunStatusQueued,
		CreatedAt:    time.Now().UTC(),
	}

	jobNames := make([]string, 0, len(pipeline.Jobs))
	for name := range pipeline.Jobs {
		jobNames = append(jobNames, name)
	}

	sort.Strings(jobNames)

	groups := make([]*jobGroup, 0, len(jobNames))

	for _, name := range jobNames {
		job := pipeline.Jobs[name]

		var combinations []matrix.Combination

		var err error

		if job.Strategy != nil {
			combinations, err = matrix.Expand(job.Strategy.Matrix)
		} else {
			combinations, err = matrix.Expand(nil)
		}

		if err != nil {
			return nil, nil, fmt.Errorf("failed to expand matrix for job %q: %w", name, err)
		}

		group := &jobGroup{name: name, job: job}

		for _, combination := range combinations {
			jobRun := &models.JobRun{
				ID:          uuid.New().String(),
				JobName:     jobRunName(name, combination),
				RunsOn:      job.RunsOn,
				Combination: combination,
				Status:      models.RunStatusQueued,
			}

			group.jobRuns = append(group.jobRuns, jobRun)
			run.Jobs = append(run.Jobs, jobRun)
		}

		groups = append(groups, group)
	}

	return run, groups, nil
}

// runMatrixGroup executes the combinations of one job in parallel. With
// fail-fast enabled, the first failing combination cancels its in-flight
// siblings.
func (r *Runner) runMatrixGroup(ctx context.Context, run *models.Run, pipeline *models.Pipeline, group *jobGroup) {
	groupCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var waitGroup sync.WaitGroup

	for _, jobRun := range group.jobRuns {
		waitGroup.Add(1)

		go func(jobRun *models.JobRun) {
			defer waitGroup.Done()

			err := r.executeJob(groupCtx, run, pipeline, group.job, jobRun)
			if err != nil && group.job.Strategy.FailFastEnabled() {
				cancel()
			}
		}(jobRun)
	}

	waitGroup.Wait()
}

func (r *Runner) saveRun(ctx context.Context, run *models.Run) error {
	if r.persistence == nil {
		return nil
	}

	if err := r.persistence.SaveRun(ctx, run); err != nil {
		return fmt.Errorf("failed to save run %s: %w", run.ID, err)
	}

	return nil
}

func (r *Runner) publish(ctx context.Context, run *models.Run, event eventbus.Event) {
	if r.eventBus == nil {
		return
	}

	if err := r.eventBus.Publish(ctx, run.ID, event); err != nil {
		r.logger.Error("Failed to publish event", "event_type", event.GetType(), "error", err)
	}
}

func (r *Runner) baseEvent(eventType events.EventType, pipelineID string) events.BaseEvent {
	return events.BaseEvent{
		ID:         uuid.New().String(),
		Type:       eventType,
		Timestamp:  time.Now().UTC(),
		PipelineID: pipelineID,
		RunnerID:   r.id,
	}
}

func runStatus(run *models.Run) models.RunStatus {
	status := models.RunStatusSucceeded

	for _, jobRun := range run.Jobs {
		switch jobRun.Status {
		case models.RunStatusFailed:
			return models.RunStatusFailed
		case models.RunStatusCanceled:
			status = models.RunStatusCanceled
		default:
		}
	}

	// Canceled jobs without a failed one still mean the run did not complete.
	if status == models.RunStatusCanceled {
		return models.RunStatusFailed
	}

	return status
}

func jobRunName(name string, combination matrix.Combination) string {
	key := combination.Key()
	if key == "" {
		return name
	}

	return name + " (" + key + ")"
}
