package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/dmawi/gridci/pkg/actions/command"
	"github.com/dmawi/gridci/pkg/events"
	"github.com/dmawi/gridci/pkg/models"
	"github.com/dmawi/gridci/pkg/otelhelper"
	"github.com/dmawi/gridci/pkg/protocol"
)

// executeJob runs the ordered step list of one matrix combination. The
// returned error is non-nil only when the job failed in a way that should
// trip fail-fast; tolerated step failures do not count.
func (r *Runner) executeJob(
	ctx context.Context,
	run *models.Run,
	pipeline *models.Pipeline,
	job *models.Job,
	jobRun *models.JobRun,
) error {
	logger := r.logger.With(
		"run_id", run.ID,
		"job_run_id", jobRun.ID,
		"job_name", jobRun.JobName,
	)

	if ctx.Err() != nil {
		jobRun.Status = models.RunStatusCanceled
		logger.Info("Job canceled before it started")

		return nil
	}

	ctx, span := otelhelper.StartSpan(ctx, r.tracer, "job",
		attribute.String(otelhelper.RunIDKey, run.ID),
		attribute.String(otelhelper.JobNameKey, jobRun.JobName),
		attribute.String(otelhelper.CombinationKey, fmt.Sprintf("%v", jobRun.Combination)),
	)
	defer span.End()

	if job.TimeoutMinutes > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, time.Duration(job.TimeoutMinutes)*time.Minute)
		defer cancel()
	}

	startedAt := time.Now().UTC()
	jobRun.Status = models.RunStatusRunning
	jobRun.StartedAt = &startedAt

	r.publish(ctx, run, events.JobStarted{
		BaseEvent:   r.baseEvent(events.JobStartedEvent, run.PipelineID),
		RunID:       run.ID,
		JobRunID:    jobRun.ID,
		JobName:     jobRun.JobName,
		Combination: jobRun.Combination,
	})

	logger.Info("Starting job", "steps", len(job.Steps))

	executionCtx := models.ExecutionContext{
		RunID:       run.ID,
		PipelineID:  run.PipelineID,
		JobName:     jobRun.JobName,
		RunsOn:      jobRun.RunsOn,
		Combination: jobRun.Combination,
		Event:       run.Event,
		StepResults: make(map[string]any),
	}

	jobErr := r.executeSteps(ctx, pipeline, job, jobRun, executionCtx, logger)

	finishedAt := time.Now().UTC()
	jobRun.FinishedAt = &finishedAt

	if jobErr != nil {
		canceled := errors.Is(jobErr, context.Canceled) && ctx.Err() != nil
		if canceled {
			jobRun.Status = models.RunStatusCanceled
		} else {
			jobRun.Status = models.RunStatusFailed
		}

		otelhelper.SetError(span, jobErr)

		r.publish(ctx, run, events.JobFailed{
			BaseEvent: r.baseEvent(events.JobFailedEvent, run.PipelineID),
			RunID:     run.ID,
			JobRunID:  jobRun.ID,
			JobName:   jobRun.JobName,
			Error:     jobErr.Error(),
			Canceled:  canceled,
		})

		logger.Error("Job failed", "error", jobErr, "canceled", canceled)

		if canceled {
			return nil
		}

		return jobErr
	}

	jobRun.Status = models.RunStatusSucceeded

	r.publish(ctx, run, events.JobFinished{
		BaseEvent: r.baseEvent(events.JobFinishedEvent, run.PipelineID),
		RunID:     run.ID,
		JobRunID:  jobRun.ID,
		JobName:   jobRun.JobName,
		Duration:  finishedAt.Sub(startedAt),
	})

	logger.Info("Job finished", "duration", finishedAt.Sub(startedAt))

	return nil
}

func (r *Runner) executeSteps(
	ctx context.Context,
	pipeline *models.Pipeline,
	job *models.Job,
	jobRun *models.JobRun,
	executionCtx models.ExecutionContext,
	logger *slog.Logger,
) error {
	jobRun.Steps = make([]*models.StepResult, 0, len(job.Steps))

	for index, step := range job.Steps {
		result := &models.StepResult{Name: step.Label()}
		jobRun.Steps = append(jobRun.Steps, result)

		if err := ctx.Err(); err != nil {
			result.Status = models.RunStatusCanceled
			r.skipRemaining(job, jobRun, index+1)

			return fmt.Errorf("job canceled: %w", err)
		}

		stepCtx := executionCtx
		stepCtx.Env = mergeEnv(pipeline.Env, job.Env, step.Env)

		action, err := r.actionForStep(step)
		if err != nil {
			result.Status = models.RunStatusFailed
			result.Error = err.Error()
			r.skipRemaining(job, jobRun, index+1)

			return fmt.Errorf("failed to prepare step %q: %w", step.Label(), err)
		}

		stepStart := time.Now()
		output, err := action.Execute(ctx, stepCtx, logger)
		result.Duration = time.Since(stepStart).Milliseconds()
		result.Output = outputString(output)

		if err != nil {
			result.Error = err.Error()
			result.Status = models.RunStatusFailed

			if step.ContinueOnError && ctx.Err() == nil {
				// The step failed but declared tolerance: record and move on.
				result.Tolerated = true

				logger.Info("Step failed but is tolerated",
					"step", step.Label(), "error", err)

				continue
			}

			r.skipRemaining(job, jobRun, index+1)

			return fmt.Errorf("step %q failed: %w", step.Label(), err)
		}

		result.Status = models.RunStatusSucceeded

		key := step.ID
		if key == "" {
			key = step.Label()
		}

		executionCtx.StepResults[key] = output
	}

	return nil
}

// actionForStep resolves the step to an executable action: `run` steps use
// the shell command action, `uses` steps look up the registered factory.
func (r *Runner) actionForStep(step *models.Step) (protocol.Action, error) {
	if step.Run != "" {
		return command.NewAction(map[string]any{"command": step.Run})
	}

	return r.registry.CreateAction(step.Uses, step.With)
}

func (r *Runner) skipRemaining(job *models.Job, jobRun *models.JobRun, from int) {
	for _, step := range job.Steps[from:] {
		jobRun.Steps = append(jobRun.Steps, &models.StepResult{
			Name:   step.Label(),
			Status: models.RunStatusSkipped,
		})
	}
}

func mergeEnv(layers ...map[string]string) map[string]string {
	merged := make(map[string]string)

	for _, layer := range layers {
		for key, value := range layer {
			merged[key] = value
		}
	}

	return merged
}

func outputString(output any) string {
	if output == nil {
		return ""
	}

	if m, ok := output.(map[string]any); ok {
		if s, ok := m["output"].(string); ok {
			return s
		}
	}

	return fmt.Sprintf("%v", output)
}
