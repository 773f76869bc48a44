// Package scheduler implements the centralized schedule poller: it scans
// stored schedules for due entries, emits schedule events, and advances
// each entry's next due time.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dmawi/gridci/pkg/models"
	"github.com/dmawi/gridci/pkg/persistence"
	"github.com/dmawi/gridci/pkg/protocol"
)

const defaultPollingInterval = time.Minute

// Poller is a centralized scheduler: one ticker serves every stored
// schedule, regardless of its individual cron expression.
type Poller struct {
	logger          *slog.Logger
	persistence     persistence.Persistence
	pollingInterval time.Duration
	callback        protocol.EventCallback
	ticker          *time.Ticker
	done            chan bool
	started         bool
	mu              sync.RWMutex
}

// NewPoller creates a schedule poller backed by the given persistence.
func NewPoller(persistence persistence.Persistence, pollingInterval time.Duration, logger *slog.Logger) *Poller {
	if pollingInterval <= 0 {
		pollingInterval = defaultPollingInterval
	}

	return &Poller{
		logger:          logger.With("module", "scheduler"),
		persistence:     persistence,
		pollingInterval: pollingInterval,
	}
}

// SyncPipelines rebuilds the schedule entries of each pipeline from its
// schedule triggers. Removed triggers lose their entries; new ones get an
// entry with the first due time precomputed.
func (p *Poller) SyncPipelines(ctx context.Context, pipelines []*models.Pipeline) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	count := 0

	for _, pipeline := range pipelines {
		if err := p.persistence.DeleteSchedulesByPipeline(ctx, pipeline.ID); err != nil {
			return fmt.Errorf("failed to clear schedules for pipeline %s: %w", pipeline.ID, err)
		}

		for _, trigger := range pipeline.On.Schedule {
			schedule, err := models.NewSchedule(uuid.New().String(), pipeline.ID, trigger.Cron)
			if err != nil {
				return fmt.Errorf("failed to build schedule for pipeline %s: %w", pipeline.ID, err)
			}

			if err := p.persistence.SaveSchedule(ctx, schedule); err != nil {
				return fmt.Errorf("failed to save schedule for pipeline %s: %w", pipeline.ID, err)
			}

			count++
		}
	}

	p.logger.Info("Synced pipeline schedules", "pipelines", len(pipelines), "schedules", count)

	return nil
}

// Start begins polling. The callback receives one schedule event per due
// entry per tick.
func (p *Poller) Start(ctx context.Context, callback protocol.EventCallback) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return nil
	}

	p.callback = callback
	p.ticker = time.NewTicker(p.pollingInterval)
	p.done = make(chan bool)
	p.started = true

	p.logger.Info("Starting schedule poller", "interval", p.pollingInterval)

	go func() {
		for {
			select {
			case <-p.done:
				return
			case <-ctx.Done():
				return
			case now := <-p.ticker.C:
				p.processDueSchedules(ctx, now.UTC())
			}
		}
	}()

	return nil
}

// Stop halts the poller.
func (p *Poller) Stop(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.started {
		return nil
	}

	p.ticker.Stop()
	close(p.done)
	p.started = false

	p.logger.Info("Schedule poller stopped")

	return nil
}

// Validate checks the poller is usable.
func (p *Poller) Validate() error {
	if p.persistence == nil {
		return fmt.Errorf("schedule poller requires a persistence layer")
	}

	return nil
}

func (p *Poller) processDueSchedules(ctx context.Context, now time.Time) {
	schedules, err := p.persistence.Schedules(ctx)
	if err != nil {
		p.logger.Error("Failed to load schedules", "error", err)

		return
	}

	due := make([]*models.Schedule, 0)

	for _, schedule := range schedules {
		if schedule.IsDue(now) {
			due = append(due, schedule)
		}
	}

	if len(due) > 0 {
		p.logger.Info("Processing due schedules", "count", len(due))
	}

	for _, schedule := range due {
		p.logger.Info("Processing due schedule",
			"pipeline_id", schedule.PipelineID,
			"cron_expression", schedule.CronExpression,
			"due_at", schedule.NextDueAt)

		event := models.Event{
			ID:         uuid.New().String(),
			Type:       models.EventSchedule,
			OccurredAt: now,
			Payload: map[string]any{
				"pipeline_id":     schedule.PipelineID,
				"cron_expression": schedule.CronExpression,
				"due_at":          schedule.NextDueAt.Format(time.RFC3339),
			},
		}

		if err := p.callback(ctx, event); err != nil {
			p.logger.Error("Failed to publish schedule event",
				"pipeline_id", schedule.PipelineID,
				"error", err)

			continue
		}

		if err := schedule.UpdateNextDueAt(); err != nil {
			p.logger.Error("Failed to update next due at",
				"pipeline_id", schedule.PipelineID,
				"error", err)

			continue
		}

		if err := p.persistence.SaveSchedule(ctx, schedule); err != nil {
			p.logger.Error("Failed to save schedule",
				"pipeline_id", schedule.PipelineID,
				"error", err)
		}
	}
}
