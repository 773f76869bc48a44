package file

import (
	"context"
	"testing"
	"time"

	"github.com/dmawi/gridci/pkg/models"
	"github.com/dmawi/gridci/pkg/persistence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPipeline(id string) *models.Pipeline {
	return &models.Pipeline{
		ID:   id,
		Name: "Pipeline " + id,
		On: models.TriggerSet{
			Push: &models.PushTrigger{Branches: []string{"main"}},
		},
		Jobs: map[string]*models.Job{
			"test": {
				RunsOn: "ubuntu-22.04",
				Steps:  []*models.Step{{Name: "test", Run: "pytest"}},
			},
		},
	}
}

func TestPipelineCRUD(t *testing.T) {
	ctx := context.Background()
	p := NewPersistence(t.TempDir())

	require.NoError(t, p.SavePipeline(ctx, testPipeline("alpha")))
	require.NoError(t, p.SavePipeline(ctx, testPipeline("beta")))

	pipelines, err := p.Pipelines(ctx)
	require.NoError(t, err)
	assert.Len(t, pipelines, 2)

	pipeline, err := p.PipelineByID(ctx, "alpha")
	require.NoError(t, err)
	assert.Equal(t, "Pipeline alpha", pipeline.Name)
	require.NotNil(t, pipeline.On.Push)
	assert.Equal(t, []string{"main"}, pipeline.On.Push.Branches)
	assert.Equal(t, "ubuntu-22.04", pipeline.Jobs["test"].RunsOn)

	require.NoError(t, p.DeletePipeline(ctx, "alpha"))

	_, err = p.PipelineByID(ctx, "alpha")
	assert.ErrorIs(t, err, persistence.ErrPipelineNotFound)

	pipelines, err = p.Pipelines(ctx)
	require.NoError(t, err)
	assert.Len(t, pipelines, 1)
}

func TestPipelineByID_NotFound(t *testing.T) {
	p := NewPersistence(t.TempDir())

	_, err := p.PipelineByID(context.Background(), "nope")

	assert.ErrorIs(t, err, persistence.ErrPipelineNotFound)
}

func TestSchedules(t *testing.T) {
	ctx := context.Background()
	p := NewPersistence(t.TempDir())

	first, err := models.NewSchedule("s1", "alpha", "0 3 * * *")
	require.NoError(t, err)
	second, err := models.NewSchedule("s2", "beta", "30 2 * * *")
	require.NoError(t, err)

	require.NoError(t, p.SaveSchedule(ctx, first))
	require.NoError(t, p.SaveSchedule(ctx, second))

	schedules, err := p.Schedules(ctx)
	require.NoError(t, err)
	assert.Len(t, schedules, 2)

	require.NoError(t, p.DeleteSchedulesByPipeline(ctx, "alpha"))

	schedules, err = p.Schedules(ctx)
	require.NoError(t, err)
	require.Len(t, schedules, 1)
	assert.Equal(t, "beta", schedules[0].PipelineID)
}

func TestRuns(t *testing.T) {
	ctx := context.Background()
	p := NewPersistence(t.TempDir())

	older := &models.Run{
		ID:         "run-old",
		PipelineID: "alpha",
		Status:     models.RunStatusSucceeded,
		CreatedAt:  time.Now().UTC().Add(-time.Hour),
	}
	newer := &models.Run{
		ID:         "run-new",
		PipelineID: "alpha",
		Status:     models.RunStatusFailed,
		CreatedAt:  time.Now().UTC(),
	}

	require.NoError(t, p.SaveRun(ctx, older))
	require.NoError(t, p.SaveRun(ctx, newer))

	runs, err := p.Runs(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 2)

	// Newest first.
	assert.Equal(t, "run-new", runs[0].ID)
	assert.Equal(t, "run-old", runs[1].ID)

	run, err := p.RunByID(ctx, "run-old")
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusSucceeded, run.Status)

	_, err = p.RunByID(ctx, "missing")
	assert.ErrorIs(t, err, persistence.ErrRunNotFound)
}

func TestHealthCheck(t *testing.T) {
	dir := t.TempDir()
	p := NewPersistence(dir)

	assert.NoError(t, p.HealthCheck(context.Background()))

	missing := NewPersistence(dir + "/does-not-exist")
	assert.Error(t, missing.HealthCheck(context.Background()))
}

func TestNewPersistence_StripsScheme(t *testing.T) {
	ctx := context.Background()

	dir := t.TempDir()
	p := NewPersistence("file://" + dir)

	require.NoError(t, p.SavePipeline(ctx, testPipeline("gamma")))

	pipeline, err := p.PipelineByID(ctx, "gamma")
	require.NoError(t, err)
	assert.Equal(t, "gamma", pipeline.ID)
}
