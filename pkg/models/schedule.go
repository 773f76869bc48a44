package models

import (
	"errors"
	"time"

	"github.com/robfig/cron/v3"
)

// Schedule is a stored schedule entry for one cron trigger of one pipeline.
// It carries the precomputed next execution time so the poller can find due
// entries without keeping individual timers.
type Schedule struct {
	// ID uniquely identifies this schedule entry
	ID string `json:"id" validate:"required"`

	// PipelineID identifies the pipeline this schedule activates
	PipelineID string `json:"pipeline_id" validate:"required"`

	// CronExpression defines when this schedule should trigger
	// Uses standard 5-field cron format (minute hour day month weekday)
	CronExpression string `json:"cron_expression" validate:"required"`

	// NextDueAt is the precomputed next execution time
	NextDueAt time.Time `json:"next_due_at" validate:"required"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Active indicates if this schedule is currently active.
	// Inactive schedules are not processed by the poller.
	Active bool `json:"active"`
}

// ErrInvalidSchedule is returned when schedule validation fails.
var ErrInvalidSchedule = errors.New("invalid schedule configuration")

// NewSchedule creates a new Schedule with the next execution time calculated.
func NewSchedule(id, pipelineID, cronExpression string) (*Schedule, error) {
	now := time.Now().UTC()
	schedule := &Schedule{
		ID:             id,
		PipelineID:     pipelineID,
		CronExpression: cronExpression,
		CreatedAt:      now,
		UpdatedAt:      now,
		Active:         true,
	}

	if err := schedule.calculateNextDueAt(now); err != nil {
		return nil, err
	}

	return schedule, nil
}

// UpdateNextDueAt recomputes the next execution time from the current time.
func (s *Schedule) UpdateNextDueAt() error {
	return s.calculateNextDueAt(time.Now().UTC())
}

func (s *Schedule) calculateNextDueAt(referenceTime time.Time) error {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

	cronSchedule, err := parser.Parse(s.CronExpression)
	if err != nil {
		return err
	}

	s.NextDueAt = cronSchedule.Next(referenceTime)
	s.UpdatedAt = time.Now().UTC()

	return nil
}

// IsDue checks if this schedule is due for execution at the given time.
func (s *Schedule) IsDue(now time.Time) bool {
	return s.Active && !s.NextDueAt.After(now)
}

// Validate performs validation on the schedule fields.
func (s *Schedule) Validate() error {
	if s.ID == "" {
		return ErrInvalidSchedule
	}

	if s.PipelineID == "" {
		return ErrInvalidSchedule
	}

	if s.CronExpression == "" {
		return ErrInvalidSchedule
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	_, err := parser.Parse(s.CronExpression)

	return err
}
