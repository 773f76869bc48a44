package models

import "time"

// RunStatus represents the lifecycle state of a run, job run, or step.
type RunStatus string

const (
	RunStatusQueued    RunStatus = "queued"
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCanceled  RunStatus = "canceled"
	RunStatusSkipped   RunStatus = "skipped"
)

// Run is one execution of a pipeline for one event. It owns the fully
// expanded set of job runs: the matrix is expanded before any job starts.
type Run struct {
	ID           string     `json:"id"            validate:"required"`
	PipelineID   string     `json:"pipeline_id"   validate:"required"`
	PipelineName string     `json:"pipeline_name"`
	Event        Event      `json:"event"`
	Status       RunStatus  `json:"status"`
	Jobs         []*JobRun  `json:"jobs"`
	CreatedAt    time.Time  `json:"created_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
}

// JobRun is one matrix combination of one job, executed in isolation from
// its siblings.
type JobRun struct {
	ID          string         `json:"id"`
	JobName     string         `json:"job_name"`
	RunsOn      string         `json:"runs_on"`
	Combination map[string]any `json:"combination,omitempty"`
	Status      RunStatus      `json:"status"`
	Steps       []*StepResult  `json:"steps"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	FinishedAt  *time.Time     `json:"finished_at,omitempty"`
}

// StepResult records the outcome of a single step inside a job run.
type StepResult struct {
	Name     string    `json:"name"`
	Status   RunStatus `json:"status"`
	Output   string    `json:"output,omitempty"`
	Error    string    `json:"error,omitempty"`
	Duration int64     `json:"duration_ms"`

	// Tolerated is set when the step failed but declared
	// continue-on-error, so the job carried on.
	Tolerated bool `json:"tolerated,omitempty"`
}

// Failed reports whether the run ended in a failure state.
func (r *Run) Failed() bool {
	return r.Status == RunStatusFailed || r.Status == RunStatusCanceled
}
