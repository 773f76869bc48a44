// Package persistence provides the storage abstraction for pipelines,
// schedules, and run records.
package persistence

import (
	"context"
	"errors"

	"github.com/dmawi/gridci/pkg/models"
)

var (
	// ErrPipelineNotFound is returned when a pipeline ID resolves to nothing.
	ErrPipelineNotFound = errors.New("pipeline not found")

	// ErrRunNotFound is returned when a run ID resolves to nothing.
	ErrRunNotFound = errors.New("run not found")
)

type Persistence interface {
	Pipelines(ctx context.Context) ([]*models.Pipeline, error)
	PipelineByID(ctx context.Context, id string) (*models.Pipeline, error)
	SavePipeline(ctx context.Context, pipeline *models.Pipeline) error
	DeletePipeline(ctx context.Context, id string) error

	Schedules(ctx context.Context) ([]*models.Schedule, error)
	SaveSchedule(ctx context.Context, schedule *models.Schedule) error
	DeleteSchedulesByPipeline(ctx context.Context, pipelineID string) error

	Runs(ctx context.Context) ([]*models.Run, error)
	RunByID(ctx context.Context, id string) (*models.Run, error)
	SaveRun(ctx context.Context, run *models.Run) error

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}
