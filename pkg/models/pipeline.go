// Package models defines the core domain models for declarative CI pipelines.
package models

import (
	"errors"
	"fmt"
	"time"
)

// Pipeline is a declarative CI pipeline: a trigger set, and one or more
// named jobs, each holding an ordered step list and an optional matrix
// strategy.
type Pipeline struct {
	ID        string          `json:"id"                   yaml:"id"`
	Name      string          `json:"name"                 yaml:"name"       validate:"required,min=3"`
	On        TriggerSet      `json:"on"                   yaml:"on"`
	Jobs      map[string]*Job `json:"jobs"                 yaml:"jobs"       validate:"required,min=1,dive,required"`
	Env       map[string]string `json:"env,omitempty"      yaml:"env"`
	CreatedAt time.Time       `json:"created_at"           yaml:"-"`
	UpdatedAt time.Time       `json:"updated_at"           yaml:"-"`
}

// Job is a single unit of work within a pipeline. When a matrix strategy is
// present the job is expanded into one isolated job run per matrix
// combination before execution.
type Job struct {
	Name           string            `json:"name,omitempty"            yaml:"name"`
	RunsOn         string            `json:"runs_on"                   yaml:"runs-on"         validate:"required"`
	Strategy       *Strategy         `json:"strategy,omitempty"        yaml:"strategy"`
	Steps          []*Step           `json:"steps"                     yaml:"steps"           validate:"required,min=1"`
	Env            map[string]string `json:"env,omitempty"             yaml:"env"`
	TimeoutMinutes int               `json:"timeout_minutes,omitempty" yaml:"timeout-minutes"`
}

// Strategy controls how a job's matrix is executed.
type Strategy struct {
	Matrix *Matrix `json:"matrix,omitempty" yaml:"matrix"`

	// FailFast defaults to true: the first failing combination cancels the
	// remaining in-flight combinations of the same job.
	FailFast *bool `json:"fail_fast,omitempty" yaml:"fail-fast"`
}

// FailFastEnabled reports whether the first failing matrix combination
// should cancel its in-flight siblings.
func (s *Strategy) FailFastEnabled() bool {
	if s == nil || s.FailFast == nil {
		return true
	}

	return *s.FailFast
}

// Step is one entry of a job's ordered step list. Exactly one of Uses
// (a registered action) or Run (a shell command) must be set. The step's
// work is delegated to an external tool; the pipeline only carries its
// parameters and failure tolerance.
type Step struct {
	ID              string            `json:"id,omitempty"                yaml:"id"`
	Name            string            `json:"name,omitempty"              yaml:"name"`
	Uses            string            `json:"uses,omitempty"              yaml:"uses"`
	Run             string            `json:"run,omitempty"               yaml:"run"`
	With            map[string]any    `json:"with,omitempty"              yaml:"with"`
	Env             map[string]string `json:"env,omitempty"               yaml:"env"`
	ContinueOnError bool              `json:"continue_on_error,omitempty" yaml:"continue-on-error"`
}

var (
	// ErrInvalidPipeline is returned when pipeline validation fails.
	ErrInvalidPipeline = errors.New("invalid pipeline configuration")

	// ErrStepActionMissing is returned when a step declares neither a
	// registered action nor a run command.
	ErrStepActionMissing = errors.New("step requires exactly one of 'uses' or 'run'")
)

// Validate performs cross-field validation that struct tags cannot express.
func (p *Pipeline) Validate() error {
	if p.On.Empty() {
		return fmt.Errorf("%w: pipeline %q declares no triggers", ErrInvalidPipeline, p.Name)
	}

	for _, trigger := range p.On.Schedule {
		if err := trigger.Validate(); err != nil {
			return fmt.Errorf("%w: pipeline %q: %w", ErrInvalidPipeline, p.Name, err)
		}
	}

	for jobName, job := range p.Jobs {
		if err := job.Validate(); err != nil {
			return fmt.Errorf("%w: job %q: %w", ErrInvalidPipeline, jobName, err)
		}
	}

	return nil
}

// Validate checks the job's steps and matrix strategy.
func (j *Job) Validate() error {
	if len(j.Steps) == 0 {
		return errors.New("at least one step is required")
	}

	for i, step := range j.Steps {
		if err := step.Validate(); err != nil {
			return fmt.Errorf("step[%d]: %w", i, err)
		}
	}

	if j.Strategy != nil && j.Strategy.Matrix != nil {
		if err := j.Strategy.Matrix.Validate(); err != nil {
			return fmt.Errorf("matrix: %w", err)
		}
	}

	return nil
}

// Validate enforces the uses/run exclusivity rule.
func (s *Step) Validate() error {
	if (s.Uses == "") == (s.Run == "") {
		return ErrStepActionMissing
	}

	return nil
}

// Label returns a human-readable identifier for logs and run records.
func (s *Step) Label() string {
	if s.Name != "" {
		return s.Name
	}

	if s.Uses != "" {
		return s.Uses
	}

	return s.Run
}
