package models

import "time"

// EventType identifies the kind of repository event that can activate a
// pipeline.
type EventType string

const (
	EventPush        EventType = "push"
	EventPullRequest EventType = "pull_request"
	EventSchedule    EventType = "schedule"
	EventDispatch    EventType = "dispatch"
)

// Event is a single occurrence delivered to the trigger matcher: a push to a
// branch, a pull request, a due schedule tick, or a manual dispatch.
type Event struct {
	ID string `json:"id" validate:"required"`

	Type EventType `json:"type" validate:"required"`

	// Branch the event refers to: the pushed branch for push events, the
	// target branch for pull-request events. Empty for schedule and
	// dispatch events.
	Branch string `json:"branch,omitempty"`

	// Inputs carries manual-dispatch input values.
	Inputs map[string]string `json:"inputs,omitempty"`

	// Payload carries provider-specific event data, passed through to runs.
	Payload map[string]any `json:"payload,omitempty"`

	OccurredAt time.Time `json:"occurred_at"`
}
