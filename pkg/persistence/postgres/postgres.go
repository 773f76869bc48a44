// Package postgres provides PostgreSQL persistence for pipelines,
// schedules, and run records. Documents are stored as JSONB alongside the
// columns the pollers query on.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	_ "github.com/lib/pq" // postgres driver

	"github.com/dmawi/gridci/pkg/models"
	"github.com/dmawi/gridci/pkg/persistence"
	"github.com/dmawi/gridci/pkg/persistence/sqlbase"
)

// Persistence implements the persistence layer for PostgreSQL.
type Persistence struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPersistence connects, pings, and runs schema migrations.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (*Persistence, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	if err := database.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	migrationManager := sqlbase.NewMigrationManager(logger, database, migrations())
	if err := migrationManager.RunMigrations(ctx); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Persistence{db: database, logger: logger}, nil
}

// Close closes the database connection.
func (p *Persistence) Close(_ context.Context) error {
	if p.db != nil {
		if err := p.db.Close(); err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}

	return nil
}

// HealthCheck verifies the database connection is healthy.
func (p *Persistence) HealthCheck(ctx context.Context) error {
	if err := p.db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}

func (p *Persistence) Pipelines(ctx context.Context) ([]*models.Pipeline, error) {
	rows, err := p.db.QueryContext(ctx, "SELECT definition FROM pipelines ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to query pipelines: %w", err)
	}
	defer rows.Close()

	var pipelines []*models.Pipeline

	for rows.Next() {
		var definition []byte
		if err := rows.Scan(&definition); err != nil {
			return nil, fmt.Errorf("failed to scan pipeline: %w", err)
		}

		var pipeline models.Pipeline
		if err := json.Unmarshal(definition, &pipeline); err != nil {
			return nil, fmt.Errorf("failed to decode pipeline: %w", err)
		}

		pipelines = append(pipelines, &pipeline)
	}

	return pipelines, rows.Err()
}

func (p *Persistence) PipelineByID(ctx context.Context, id string) (*models.Pipeline, error) {
	var definition []byte

	err := p.db.QueryRowContext(ctx, "SELECT definition FROM pipelines WHERE id = $1", id).Scan(&definition)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.ErrPipelineNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to query pipeline %s: %w", id, err)
	}

	var pipeline models.Pipeline
	if err := json.Unmarshal(definition, &pipeline); err != nil {
		return nil, fmt.Errorf("failed to decode pipeline %s: %w", id, err)
	}

	return &pipeline, nil
}

func (p *Persistence) SavePipeline(ctx context.Context, pipeline *models.Pipeline) error {
	definition, err := json.Marshal(pipeline)
	if err != nil {
		return fmt.Errorf("failed to encode pipeline %s: %w", pipeline.ID, err)
	}

	_, err = p.db.ExecContext(ctx, `
		INSERT INTO pipelines (id, name, definition, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			definition = EXCLUDED.definition,
			updated_at = EXCLUDED.updated_at`,
		pipeline.ID, pipeline.Name, definition, pipeline.CreatedAt, pipeline.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save pipeline %s: %w", pipeline.ID, err)
	}

	return nil
}

func (p *Persistence) DeletePipeline(ctx context.Context, id string) error {
	result, err := p.db.ExecContext(ctx, "DELETE FROM pipelines WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete pipeline %s: %w", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if affected == 0 {
		return persistence.ErrPipelineNotFound
	}

	return nil
}

func (p *Persistence) Schedules(ctx context.Context) ([]*models.Schedule, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, pipeline_id, cron_expression, next_due_at, active, created_at, updated_at
		FROM schedules ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query schedules: %w", err)
	}
	defer rows.Close()

	var schedules []*models.Schedule

	for rows.Next() {
		var schedule models.Schedule

		err := rows.Scan(&schedule.ID, &schedule.PipelineID, &schedule.CronExpression,
			&schedule.NextDueAt, &schedule.Active, &schedule.CreatedAt, &schedule.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan schedule: %w", err)
		}

		schedules = append(schedules, &schedule)
	}

	return schedules, rows.Err()
}

func (p *Persistence) SaveSchedule(ctx context.Context, schedule *models.Schedule) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO schedules (id, pipeline_id, cron_expression, next_due_at, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			cron_expression = EXCLUDED.cron_expression,
			next_due_at = EXCLUDED.next_due_at,
			active = EXCLUDED.active,
			updated_at = EXCLUDED.updated_at`,
		schedule.ID, schedule.PipelineID, schedule.CronExpression,
		schedule.NextDueAt, schedule.Active, schedule.CreatedAt, schedule.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save schedule %s: %w", schedule.ID, err)
	}

	return nil
}

func (p *Persistence) DeleteSchedulesByPipeline(ctx context.Context, pipelineID string) error {
	_, err := p.db.ExecContext(ctx, "DELETE FROM schedules WHERE pipeline_id = $1", pipelineID)
	if err != nil {
		return fmt.Errorf("failed to delete schedules for pipeline %s: %w", pipelineID, err)
	}

	return nil
}

func (p *Persistence) Runs(ctx context.Context) ([]*models.Run, error) {
	rows, err := p.db.QueryContext(ctx, "SELECT record FROM runs ORDER BY created_at DESC")
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []*models.Run

	for rows.Next() {
		var record []byte
		if err := rows.Scan(&record); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}

		var run models.Run
		if err := json.Unmarshal(record, &run); err != nil {
			return nil, fmt.Errorf("failed to decode run: %w", err)
		}

		runs = append(runs, &run)
	}

	return runs, rows.Err()
}

func (p *Persistence) RunByID(ctx context.Context, id string) (*models.Run, error) {
	var record []byte

	err := p.db.QueryRowContext(ctx, "SELECT record FROM runs WHERE id = $1", id).Scan(&record)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.ErrRunNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to query run %s: %w", id, err)
	}

	var run models.Run
	if err := json.Unmarshal(record, &run); err != nil {
		return nil, fmt.Errorf("failed to decode run %s: %w", id, err)
	}

	return &run, nil
}

func (p *Persistence) SaveRun(ctx context.Context, run *models.Run) error {
	record, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("failed to encode run %s: %w", run.ID, err)
	}

	_, err = p.db.ExecContext(ctx, `
		INSERT INTO runs (id, pipeline_id, status, record, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			record = EXCLUDED.record`,
		run.ID, run.PipelineID, run.Status, record, run.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save run %s: %w", run.ID, err)
	}

	return nil
}
