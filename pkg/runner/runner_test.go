package runner

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/dmawi/gridci/pkg/models"
	"github.com/dmawi/gridci/pkg/persistence/file"
	"github.com/dmawi/gridci/pkg/protocol"
	"github.com/dmawi/gridci/pkg/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAction struct {
	fn func(ctx context.Context, executionCtx models.ExecutionContext) (any, error)
}

func (a *fakeAction) Execute(ctx context.Context, executionCtx models.ExecutionContext, _ *slog.Logger) (any, error) {
	return a.fn(ctx, executionCtx)
}

type fakeFactory struct {
	id string
	fn func(ctx context.Context, executionCtx models.ExecutionContext) (any, error)
}

func (f *fakeFactory) Create(_ map[string]any) (protocol.Action, error) {
	return &fakeAction{fn: f.fn}, nil
}

func (f *fakeFactory) ID() string {
	return f.id
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, nil))
}

func newTestRunner(t *testing.T, factories ...protocol.ActionFactory) *Runner {
	t.Helper()

	reg := registry.NewRegistry(testLogger())
	for _, factory := range factories {
		reg.RegisterAction(factory)
	}

	return NewRunner("test-runner", nil, reg, nil, testLogger())
}

func matrixPipeline(strategy *models.Strategy, steps ...*models.Step) *models.Pipeline {
	return &models.Pipeline{
		ID:   "test-pipeline",
		Name: "Test Pipeline",
		On:   models.TriggerSet{Dispatch: &models.DispatchTrigger{}},
		Jobs: map[string]*models.Job{
			"test": {
				RunsOn:   "ubuntu-22.04",
				Strategy: strategy,
				Steps:    steps,
			},
		},
	}
}

func dispatchEvent() models.Event {
	return models.Event{
		ID:         "event-1",
		Type:       models.EventDispatch,
		OccurredAt: time.Now().UTC(),
	}
}

func TestExecute_MatrixCombinationsRunExactlyOnce(t *testing.T) {
	var mu sync.Mutex

	executed := make(map[string]int)

	factory := &fakeFactory{
		id: "record",
		fn: func(_ context.Context, executionCtx models.ExecutionContext) (any, error) {
			mu.Lock()
			defer mu.Unlock()

			executed[executionCtx.JobName]++

			return nil, nil
		},
	}

	strategy := &models.Strategy{
		Matrix: &models.Matrix{
			Dimensions: map[string][]any{
				"os":          {"ubuntu-22.04", "macos-14"},
				"interpreter": {"3.11", "3.12"},
			},
		},
	}

	pipeline := matrixPipeline(strategy, &models.Step{Name: "test", Uses: "record"})
	runner := newTestRunner(t, factory)

	run, err := runner.Execute(context.Background(), pipeline, dispatchEvent())

	require.NoError(t, err)
	assert.Equal(t, models.RunStatusSucceeded, run.Status)
	require.Len(t, run.Jobs, 4)

	assert.Len(t, executed, 4)
	for jobName, count := range executed {
		assert.Equal(t, 1, count, "job %s ran more than once", jobName)
	}

	for _, jobRun := range run.Jobs {
		assert.Equal(t, models.RunStatusSucceeded, jobRun.Status)
		assert.NotEmpty(t, jobRun.Combination)
	}
}

func TestExecute_JobWithoutMatrixRunsOnce(t *testing.T) {
	var calls int

	var mu sync.Mutex

	factory := &fakeFactory{
		id: "record",
		fn: func(context.Context, models.ExecutionContext) (any, error) {
			mu.Lock()
			defer mu.Unlock()
			calls++

			return nil, nil
		},
	}

	pipeline := matrixPipeline(nil, &models.Step{Name: "test", Uses: "record"})
	runner := newTestRunner(t, factory)

	run, err := runner.Execute(context.Background(), pipeline, dispatchEvent())

	require.NoError(t, err)
	require.Len(t, run.Jobs, 1)
	assert.Equal(t, "test", run.Jobs[0].JobName)
	assert.Equal(t, 1, calls)
}

func TestExecute_FailFastCancelsSiblings(t *testing.T) {
	factory := &fakeFactory{
		id: "flaky",
		fn: func(ctx context.Context, executionCtx models.ExecutionContext) (any, error) {
			if executionCtx.Combination["interpreter"] == "3.11" {
				return nil, errors.New("segmentation fault")
			}

			// Siblings block until fail-fast cancels them.
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(10 * time.Second):
				return nil, nil
			}
		},
	}

	strategy := &models.Strategy{
		Matrix: &models.Matrix{
			Dimensions: map[string][]any{
				"interpreter": {"3.11", "3.12", "3.13"},
			},
		},
	}

	pipeline := matrixPipeline(strategy, &models.Step{Name: "test", Uses: "flaky"})
	runner := newTestRunner(t, factory)

	start := time.Now()
	run, err := runner.Execute(context.Background(), pipeline, dispatchEvent())

	require.NoError(t, err)
	assert.Less(t, time.Since(start), 5*time.Second, "fail-fast should not wait for blocked siblings")

	assert.Equal(t, models.RunStatusFailed, run.Status)

	statuses := make(map[models.RunStatus]int)
	for _, jobRun := range run.Jobs {
		statuses[jobRun.Status]++
	}

	assert.Equal(t, 1, statuses[models.RunStatusFailed])
	assert.Equal(t, 2, statuses[models.RunStatusCanceled])
}

func TestExecute_FailFastDisabledRunsAllCombinations(t *testing.T) {
	var mu sync.Mutex

	completed := 0

	factory := &fakeFactory{
		id: "flaky",
		fn: func(_ context.Context, executionCtx models.ExecutionContext) (any, error) {
			if executionCtx.Combination["interpreter"] == "3.11" {
				return nil, errors.New("segmentation fault")
			}

			mu.Lock()
			defer mu.Unlock()
			completed++

			return nil, nil
		},
	}

	disabled := false
	strategy := &models.Strategy{
		FailFast: &disabled,
		Matrix: &models.Matrix{
			Dimensions: map[string][]any{
				"interpreter": {"3.11", "3.12", "3.13"},
			},
		},
	}

	pipeline := matrixPipeline(strategy, &models.Step{Name: "test", Uses: "flaky"})
	runner := newTestRunner(t, factory)

	run, err := runner.Execute(context.Background(), pipeline, dispatchEvent())

	require.NoError(t, err)
	assert.Equal(t, models.RunStatusFailed, run.Status)
	assert.Equal(t, 2, completed, "remaining combinations should still run")

	statuses := make(map[models.RunStatus]int)
	for _, jobRun := range run.Jobs {
		statuses[jobRun.Status]++
	}

	assert.Equal(t, 1, statuses[models.RunStatusFailed])
	assert.Equal(t, 2, statuses[models.RunStatusSucceeded])
}

func TestExecute_FailureInOneJobDoesNotCancelOthers(t *testing.T) {
	failing := &fakeFactory{
		id: "failing",
		fn: func(context.Context, models.ExecutionContext) (any, error) {
			return nil, errors.New("broken")
		},
	}

	slow := &fakeFactory{
		id: "slow",
		fn: func(ctx context.Context, _ models.ExecutionContext) (any, error) {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(100 * time.Millisecond):
				return nil, nil
			}
		},
	}

	pipeline := &models.Pipeline{
		ID:   "two-jobs",
		Name: "Two Jobs",
		On:   models.TriggerSet{Dispatch: &models.DispatchTrigger{}},
		Jobs: map[string]*models.Job{
			"lint": {
				RunsOn: "ubuntu-22.04",
				Steps:  []*models.Step{{Name: "lint", Uses: "failing"}},
			},
			"test": {
				RunsOn: "ubuntu-22.04",
				Steps:  []*models.Step{{Name: "test", Uses: "slow"}},
			},
		},
	}

	runner := newTestRunner(t, failing, slow)

	run, err := runner.Execute(context.Background(), pipeline, dispatchEvent())

	require.NoError(t, err)
	assert.Equal(t, models.RunStatusFailed, run.Status)

	byName := make(map[string]*models.JobRun)
	for _, jobRun := range run.Jobs {
		byName[jobRun.JobName] = jobRun
	}

	assert.Equal(t, models.RunStatusFailed, byName["lint"].Status)
	assert.Equal(t, models.RunStatusSucceeded, byName["test"].Status)
}

func TestExecute_ContinueOnErrorToleratesStepFailure(t *testing.T) {
	failing := &fakeFactory{
		id: "failing",
		fn: func(context.Context, models.ExecutionContext) (any, error) {
			return nil, errors.New("upload timed out")
		},
	}

	ok := &fakeFactory{
		id: "ok",
		fn: func(context.Context, models.ExecutionContext) (any, error) {
			return map[string]any{"output": "done"}, nil
		},
	}

	pipeline := matrixPipeline(nil,
		&models.Step{Name: "test", Uses: "ok"},
		&models.Step{Name: "upload coverage", Uses: "failing", ContinueOnError: true},
		&models.Step{Name: "report", Uses: "ok"},
	)

	runner := newTestRunner(t, failing, ok)

	run, err := runner.Execute(context.Background(), pipeline, dispatchEvent())

	require.NoError(t, err)
	assert.Equal(t, models.RunStatusSucceeded, run.Status)

	require.Len(t, run.Jobs, 1)
	steps := run.Jobs[0].Steps
	require.Len(t, steps, 3)

	assert.Equal(t, models.RunStatusSucceeded, steps[0].Status)

	assert.Equal(t, models.RunStatusFailed, steps[1].Status)
	assert.True(t, steps[1].Tolerated)
	assert.Equal(t, "upload timed out", steps[1].Error)

	assert.Equal(t, models.RunStatusSucceeded, steps[2].Status)
}

func TestExecute_FailingStepSkipsRemaining(t *testing.T) {
	failing := &fakeFactory{
		id: "failing",
		fn: func(context.Context, models.ExecutionContext) (any, error) {
			return nil, errors.New("tests failed")
		},
	}

	ok := &fakeFactory{
		id: "ok",
		fn: func(context.Context, models.ExecutionContext) (any, error) {
			return nil, nil
		},
	}

	pipeline := matrixPipeline(nil,
		&models.Step{Name: "test", Uses: "failing"},
		&models.Step{Name: "package", Uses: "ok"},
	)

	runner := newTestRunner(t, failing, ok)

	run, err := runner.Execute(context.Background(), pipeline, dispatchEvent())

	require.NoError(t, err)
	assert.Equal(t, models.RunStatusFailed, run.Status)

	steps := run.Jobs[0].Steps
	require.Len(t, steps, 2)
	assert.Equal(t, models.RunStatusFailed, steps[0].Status)
	assert.Equal(t, models.RunStatusSkipped, steps[1].Status)
}

func TestExecute_UnknownActionFailsJob(t *testing.T) {
	pipeline := matrixPipeline(nil, &models.Step{Name: "mystery", Uses: "not-registered"})
	runner := newTestRunner(t)

	run, err := runner.Execute(context.Background(), pipeline, dispatchEvent())

	require.NoError(t, err)
	assert.Equal(t, models.RunStatusFailed, run.Status)
	assert.Contains(t, run.Jobs[0].Steps[0].Error, "not registered")
}

func TestExecute_RunCommandStep(t *testing.T) {
	pipeline := matrixPipeline(nil, &models.Step{Name: "greet", Run: "echo hello"})
	runner := newTestRunner(t)

	run, err := runner.Execute(context.Background(), pipeline, dispatchEvent())

	require.NoError(t, err)
	assert.Equal(t, models.RunStatusSucceeded, run.Status)
	assert.Contains(t, run.Jobs[0].Steps[0].Output, "hello")
}

func TestExecute_PersistsRunRecord(t *testing.T) {
	persistence := file.NewPersistence(t.TempDir())

	reg := registry.NewRegistry(testLogger())
	reg.RegisterAction(&fakeFactory{
		id: "ok",
		fn: func(context.Context, models.ExecutionContext) (any, error) {
			return nil, nil
		},
	})

	runner := NewRunner("test-runner", persistence, reg, nil, testLogger())

	pipeline := matrixPipeline(nil, &models.Step{Name: "test", Uses: "ok"})

	run, err := runner.Execute(context.Background(), pipeline, dispatchEvent())
	require.NoError(t, err)

	saved, err := persistence.RunByID(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusSucceeded, saved.Status)
	assert.Equal(t, "test-pipeline", saved.PipelineID)
	assert.NotNil(t, saved.StartedAt)
	assert.NotNil(t, saved.FinishedAt)
}

func TestExecuteRun_UsesProvidedRunID(t *testing.T) {
	runner := newTestRunner(t, &fakeFactory{
		id: "ok",
		fn: func(context.Context, models.ExecutionContext) (any, error) {
			return nil, nil
		},
	})

	pipeline := matrixPipeline(nil, &models.Step{Name: "test", Uses: "ok"})

	run, err := runner.ExecuteRun(context.Background(), pipeline, dispatchEvent(), "run-42")

	require.NoError(t, err)
	assert.Equal(t, "run-42", run.ID)
}

func TestRunStatus(t *testing.T) {
	run := &models.Run{Jobs: []*models.JobRun{
		{Status: models.RunStatusSucceeded},
		{Status: models.RunStatusSucceeded},
	}}
	assert.Equal(t, models.RunStatusSucceeded, runStatus(run))

	run.Jobs[1].Status = models.RunStatusFailed
	assert.Equal(t, models.RunStatusFailed, runStatus(run))

	run.Jobs[1].Status = models.RunStatusCanceled
	assert.Equal(t, models.RunStatusFailed, runStatus(run))
}

type scopedLogAction struct{}

func (a *scopedLogAction) Execute(_ context.Context, _ models.ExecutionContext, logger *slog.Logger) (any, error) {
	logger.Info("step log line")

	return "ok", nil
}

type scopedLogFactory struct{}

func (f *scopedLogFactory) Create(_ map[string]any) (protocol.Action, error) {
	return &scopedLogAction{}, nil
}

func (f *scopedLogFactory) ID() string {
	return "scoped-log"
}

func TestExecute_ActionsReceiveJobScopedLogger(t *testing.T) {
	var buf bytes.Buffer

	logger := slog.New(slog.NewTextHandler(&buf, nil))

	reg := registry.NewRegistry(logger)
	reg.RegisterAction(&scopedLogFactory{})

	runner := NewRunner("test-runner", nil, reg, nil, logger)

	pipeline := matrixPipeline(nil, &models.Step{Name: "log", Uses: "scoped-log"})

	run, err := runner.Execute(context.Background(), pipeline, dispatchEvent())
	require.NoError(t, err)

	logged := buf.String()
	assert.Contains(t, logged, "step log line")
	assert.Contains(t, logged, "run_id="+run.ID)
	assert.Contains(t, logged, "job_name=test")
}
