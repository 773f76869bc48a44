// Package file provides file-based persistence for pipelines, schedules,
// and run records. Entities are stored as one JSON document per ID.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dmawi/gridci/pkg/models"
	"github.com/dmawi/gridci/pkg/persistence"
)

const fileMode = 0o644

// Persistence implements the persistence.Persistence interface on the file
// system.
type Persistence struct {
	root string
}

// NewPersistence creates a file persistence rooted at the given directory.
func NewPersistence(root string) persistence.Persistence {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	return &Persistence{root: cleanRoot}
}

// Close performs any necessary cleanup. For file-based persistence there is
// nothing to clean up.
func (fp *Persistence) Close(_ context.Context) error {
	return nil
}

// HealthCheck verifies the root directory exists.
func (fp *Persistence) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(fp.root); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}

func (fp *Persistence) Pipelines(ctx context.Context) ([]*models.Pipeline, error) {
	ids, err := fp.listIDs("pipelines")
	if err != nil {
		return nil, err
	}

	pipelines := make([]*models.Pipeline, 0, len(ids))

	for _, id := range ids {
		pipeline, err := fp.PipelineByID(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to load pipeline %s: %w", id, err)
		}

		pipelines = append(pipelines, pipeline)
	}

	sort.Slice(pipelines, func(i, j int) bool { return pipelines[i].ID < pipelines[j].ID })

	return pipelines, nil
}

func (fp *Persistence) PipelineByID(_ context.Context, id string) (*models.Pipeline, error) {
	var pipeline models.Pipeline
	if err := fp.read("pipelines", id, &pipeline); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, persistence.ErrPipelineNotFound
		}

		return nil, err
	}

	return &pipeline, nil
}

func (fp *Persistence) SavePipeline(_ context.Context, pipeline *models.Pipeline) error {
	return fp.write("pipelines", pipeline.ID, pipeline)
}

func (fp *Persistence) DeletePipeline(_ context.Context, id string) error {
	err := os.Remove(fp.path("pipelines", id))
	if errors.Is(err, fs.ErrNotExist) {
		return persistence.ErrPipelineNotFound
	}

	return err
}

func (fp *Persistence) Schedules(ctx context.Context) ([]*models.Schedule, error) {
	ids, err := fp.listIDs("schedules")
	if err != nil {
		return nil, err
	}

	schedules := make([]*models.Schedule, 0, len(ids))

	for _, id := range ids {
		var schedule models.Schedule
		if err := fp.read("schedules", id, &schedule); err != nil {
			return nil, fmt.Errorf("failed to load schedule %s: %w", id, err)
		}

		schedules = append(schedules, &schedule)
	}

	sort.Slice(schedules, func(i, j int) bool { return schedules[i].ID < schedules[j].ID })

	return schedules, nil
}

func (fp *Persistence) SaveSchedule(_ context.Context, schedule *models.Schedule) error {
	return fp.write("schedules", schedule.ID, schedule)
}

func (fp *Persistence) DeleteSchedulesByPipeline(ctx context.Context, pipelineID string) error {
	schedules, err := fp.Schedules(ctx)
	if err != nil {
		return err
	}

	for _, schedule := range schedules {
		if schedule.PipelineID != pipelineID {
			continue
		}

		if err := os.Remove(fp.path("schedules", schedule.ID)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}

	return nil
}

func (fp *Persistence) Runs(ctx context.Context) ([]*models.Run, error) {
	ids, err := fp.listIDs("runs")
	if err != nil {
		return nil, err
	}

	runs := make([]*models.Run, 0, len(ids))

	for _, id := range ids {
		run, err := fp.RunByID(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to load run %s: %w", id, err)
		}

		runs = append(runs, run)
	}

	sort.Slice(runs, func(i, j int) bool { return runs[i].CreatedAt.After(runs[j].CreatedAt) })

	return runs, nil
}

func (fp *Persistence) RunByID(_ context.Context, id string) (*models.Run, error) {
	var run models.Run
	if err := fp.read("runs", id, &run); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, persistence.ErrRunNotFound
		}

		return nil, err
	}

	return &run, nil
}

func (fp *Persistence) SaveRun(_ context.Context, run *models.Run) error {
	return fp.write("runs", run.ID, run)
}

func (fp *Persistence) listIDs(kind string) ([]string, error) {
	dir := filepath.Join(fp.root, kind)

	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to list %s: %w", kind, err)
	}

	ids := make([]string, 0, len(entries))

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}

		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}

	return ids, nil
}

func (fp *Persistence) read(kind, id string, target any) error {
	data, err := os.ReadFile(fp.path(kind, id))
	if err != nil {
		return err
	}

	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("failed to decode %s %s: %w", kind, id, err)
	}

	return nil
}

func (fp *Persistence) write(kind, id string, entity any) error {
	dir := filepath.Join(fp.root, kind)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s directory: %w", kind, err)
	}

	data, err := json.MarshalIndent(entity, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s %s: %w", kind, id, err)
	}

	return os.WriteFile(fp.path(kind, id), data, fileMode)
}

func (fp *Persistence) path(kind, id string) string {
	return filepath.Join(fp.root, kind, id+".json")
}
