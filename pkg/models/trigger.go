package models

import (
	"errors"

	"github.com/robfig/cron/v3"
)

// TriggerSet holds the event types a pipeline responds to. A nil member
// means the pipeline ignores that event type.
type TriggerSet struct {
	Push        *PushTrigger        `json:"push,omitempty"         yaml:"push"`
	PullRequest *PullRequestTrigger `json:"pull_request,omitempty" yaml:"pull_request"`
	Schedule    []ScheduleTrigger   `json:"schedule,omitempty"     yaml:"schedule"`
	Dispatch    *DispatchTrigger    `json:"dispatch,omitempty"     yaml:"dispatch"`
}

// Empty reports whether no trigger is configured at all.
func (t TriggerSet) Empty() bool {
	return t.Push == nil && t.PullRequest == nil && len(t.Schedule) == 0 && t.Dispatch == nil
}

// PushTrigger activates the pipeline on pushes. An empty branch list
// matches every branch.
type PushTrigger struct {
	Branches []string `json:"branches,omitempty" yaml:"branches"`
}

// PullRequestTrigger activates the pipeline on pull-request events targeting
// the listed branches; an empty list matches pull requests against any branch.
type PullRequestTrigger struct {
	Branches []string `json:"branches,omitempty" yaml:"branches"`
}

// ScheduleTrigger activates the pipeline on a cron schedule.
// Uses standard 5-field cron format (minute hour day month weekday).
type ScheduleTrigger struct {
	Cron string `json:"cron" yaml:"cron" validate:"required"`
}

// ErrInvalidCron is returned when a schedule trigger carries an expression
// the 5-field parser rejects.
var ErrInvalidCron = errors.New("invalid cron expression")

// Validate checks the cron expression against the 5-field parser.
func (s ScheduleTrigger) Validate() error {
	if s.Cron == "" {
		return ErrInvalidCron
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	if _, err := parser.Parse(s.Cron); err != nil {
		return errors.Join(ErrInvalidCron, err)
	}

	return nil
}

// DispatchTrigger activates the pipeline on manual invocation, optionally
// declaring the inputs a caller may pass.
type DispatchTrigger struct {
	Inputs map[string]DispatchInput `json:"inputs,omitempty" yaml:"inputs"`
}

// DispatchInput declares a single manual-dispatch input.
type DispatchInput struct {
	Description string `json:"description,omitempty" yaml:"description"`
	Required    bool   `json:"required,omitempty"    yaml:"required"`
	Default     string `json:"default,omitempty"     yaml:"default"`
}
