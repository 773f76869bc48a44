// Package events defines event types for run lifecycle notifications.
package events

import (
	"time"

	"github.com/dmawi/gridci/pkg/models"
)

type EventType string

// Topic carries all run lifecycle events.
const Topic = "gridci.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	RunDispatchedEvent EventType = "run.dispatched"
	RunStartedEvent    EventType = "run.started"
	RunFinishedEvent   EventType = "run.finished"
	RunFailedEvent     EventType = "run.failed"

	JobStartedEvent  EventType = "job.started"
	JobFinishedEvent EventType = "job.finished"
	JobFailedEvent   EventType = "job.failed"
)

type BaseEvent struct {
	ID         string         `json:"id"`
	Type       EventType      `json:"type"`
	Timestamp  time.Time      `json:"timestamp"`
	PipelineID string         `json:"pipeline_id"`
	RunnerID   string         `json:"runner_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// RunDispatched asks a runner to execute a pipeline for a matched event.
type RunDispatched struct {
	BaseEvent

	RunID  string       `json:"run_id"`
	Event  models.Event `json:"event"`
	Reason string       `json:"reason,omitempty"`
}

func (e RunDispatched) GetType() EventType {
	return RunDispatchedEvent
}

type RunStarted struct {
	BaseEvent

	RunID string `json:"run_id"`
}

func (e RunStarted) GetType() EventType {
	return RunStartedEvent
}

type RunFinished struct {
	BaseEvent

	RunID    string           `json:"run_id"`
	Status   models.RunStatus `json:"status"`
	Duration time.Duration    `json:"duration"`
}

func (e RunFinished) GetType() EventType {
	return RunFinishedEvent
}

type RunFailed struct {
	BaseEvent

	RunID    string        `json:"run_id"`
	Error    string        `json:"error"`
	Duration time.Duration `json:"duration"`
}

func (e RunFailed) GetType() EventType {
	return RunFailedEvent
}

type JobStarted struct {
	BaseEvent

	RunID       string         `json:"run_id"`
	JobRunID    string         `json:"job_run_id"`
	JobName     string         `json:"job_name"`
	Combination map[string]any `json:"combination,omitempty"`
}

func (e JobStarted) GetType() EventType {
	return JobStartedEvent
}

type JobFinished struct {
	BaseEvent

	RunID    string        `json:"run_id"`
	JobRunID string        `json:"job_run_id"`
	JobName  string        `json:"job_name"`
	Duration time.Duration `json:"duration"`
}

func (e JobFinished) GetType() EventType {
	return JobFinishedEvent
}

type JobFailed struct {
	BaseEvent

	RunID    string `json:"run_id"`
	JobRunID string `json:"job_run_id"`
	JobName  string `json:"job_name"`
	Error    string `json:"error"`

	// Canceled is set when the job did not fail itself but was canceled by
	// fail-fast after a sibling combination failed.
	Canceled bool `json:"canceled,omitempty"`
}

func (e JobFailed) GetType() EventType {
	return JobFailedEvent
}
