// Package trigger decides which pipelines an incoming event activates.
package trigger

import (
	"fmt"
	"log/slog"
	"path"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/dmawi/gridci/pkg/models"
)

// Matcher handles matching events against pipeline trigger sets.
type Matcher struct {
	logger *slog.Logger
}

// MatchResult represents one pipeline activated by an event.
type MatchResult struct {
	Pipeline *models.Pipeline
	Reason   string
}

// NewMatcher creates a new trigger matcher.
func NewMatcher(logger *slog.Logger) *Matcher {
	return &Matcher{
		logger: logger.With("module", "trigger_matcher"),
	}
}

// Match finds the pipelines whose trigger set accepts the given event.
func (m *Matcher) Match(event models.Event, pipelines []*models.Pipeline) []MatchResult {
	var results []MatchResult

	m.logger.Debug("Matching event against pipelines",
		"event_type", event.Type,
		"branch", event.Branch,
		"pipelines_count", len(pipelines))

	for _, pipeline := range pipelines {
		reason, ok := m.matches(event, pipeline)
		if !ok {
			continue
		}

		results = append(results, MatchResult{Pipeline: pipeline, Reason: reason})

		m.logger.Debug("Found matching pipeline",
			"pipeline_id", pipeline.ID,
			"pipeline_name", pipeline.Name,
			"reason", reason)
	}

	m.logger.Info("Completed trigger matching",
		"event_type", event.Type,
		"matches_found", len(results))

	return results
}

func (m *Matcher) matches(event models.Event, pipeline *models.Pipeline) (string, bool) {
	switch event.Type {
	case models.EventPush:
		return m.matchPush(event, pipeline.On.Push)
	case models.EventPullRequest:
		return m.matchPullRequest(event, pipeline.On.PullRequest)
	case models.EventSchedule:
		return m.matchSchedule(event, pipeline.On.Schedule)
	case models.EventDispatch:
		return m.matchDispatch(event, pipeline.On.Dispatch)
	default:
		m.logger.Warn("Unknown event type", "type", event.Type)

		return "", false
	}
}

func (m *Matcher) matchPush(event models.Event, push *models.PushTrigger) (string, bool) {
	if push == nil {
		return "", false
	}

	if !branchMatches(event.Branch, push.Branches) {
		return "", false
	}

	return fmt.Sprintf("push to %s", event.Branch), true
}

// matchPullRequest accepts pull requests against any branch when the
// trigger lists no branch filters.
func (m *Matcher) matchPullRequest(event models.Event, pullRequest *models.PullRequestTrigger) (string, bool) {
	if pullRequest == nil {
		return "", false
	}

	if !branchMatches(event.Branch, pullRequest.Branches) {
		return "", false
	}

	return fmt.Sprintf("pull request against %s", event.Branch), true
}

// matchSchedule accepts a schedule tick when one of the pipeline's cron
// expressions fires during the minute the event occurred in.
func (m *Matcher) matchSchedule(event models.Event, schedules []models.ScheduleTrigger) (string, bool) {
	if len(schedules) == 0 {
		return "", false
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	minute := event.OccurredAt.UTC().Truncate(time.Minute)

	for _, schedule := range schedules {
		cronSchedule, err := parser.Parse(schedule.Cron)
		if err != nil {
			m.logger.Warn("Skipping unparsable cron expression",
				"cron", schedule.Cron, "error", err)

			continue
		}

		if cronSchedule.Next(minute.Add(-time.Second)).Equal(minute) {
			return fmt.Sprintf("schedule %q due", schedule.Cron), true
		}
	}

	return "", false
}

func (m *Matcher) matchDispatch(event models.Event, dispatch *models.DispatchTrigger) (string, bool) {
	if dispatch == nil {
		return "", false
	}

	for name, input := range dispatch.Inputs {
		if !input.Required || input.Default != "" {
			continue
		}

		if _, ok := event.Inputs[name]; !ok {
			m.logger.Warn("Dispatch event missing required input", "input", name)

			return "", false
		}
	}

	return "manual dispatch", true
}

// branchMatches checks a branch against a filter list. Filters support the
// platform's glob form ("release/*"); an empty list matches every branch.
func branchMatches(branch string, filters []string) bool {
	if len(filters) == 0 {
		return true
	}

	for _, filter := range filters {
		if matched, err := path.Match(filter, branch); err == nil && matched {
			return true
		}
	}

	return false
}

// ResolveDispatchInputs merges declared input defaults with the values a
// dispatch event carries.
func ResolveDispatchInputs(dispatch *models.DispatchTrigger, provided map[string]string) map[string]string {
	if dispatch == nil {
		return provided
	}

	resolved := make(map[string]string, len(dispatch.Inputs)+len(provided))

	for name, input := range dispatch.Inputs {
		if input.Default != "" {
			resolved[name] = input.Default
		}
	}

	for name, value := range provided {
		resolved[name] = value
	}

	return resolved
}
