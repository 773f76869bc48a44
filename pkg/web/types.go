// Package web provides HTTP request and response types for the pipeline API.
package web

import (
	"sort"

	"github.com/dmawi/gridci/pkg/models"
)

// DispatchRunRequest represents the request body for manually dispatching a
// pipeline run.
type DispatchRunRequest struct {
	Branch string            `json:"branch,omitempty"`
	Inputs map[string]string `json:"inputs,omitempty"`
}

// DispatchRunResponse is returned once the run has been queued.
type DispatchRunResponse struct {
	RunID      string            `json:"run_id"`
	PipelineID string            `json:"pipeline_id"`
	Status     models.RunStatus  `json:"status"`
	Inputs     map[string]string `json:"inputs,omitempty"`
}

// PipelineResponse represents the filtered response for a pipeline.
type PipelineResponse struct {
	ID       string                   `json:"id"`
	Name     string                   `json:"name"`
	Triggers []string                 `json:"triggers"`
	Jobs     []string                 `json:"jobs"`
	Env      map[string]string        `json:"env,omitempty"`
	Schedule []models.ScheduleTrigger `json:"schedule,omitempty"`
}

// TransformPipelineResponse flattens a pipeline definition into its API shape.
func TransformPipelineResponse(pipeline *models.Pipeline) PipelineResponse {
	response := PipelineResponse{
		ID:   pipeline.ID,
		Name: pipeline.Name,
		Env:  pipeline.Env,
	}

	if pipeline.On.Push != nil {
		response.Triggers = append(response.Triggers, string(models.EventPush))
	}

	if pipeline.On.PullRequest != nil {
		response.Triggers = append(response.Triggers, string(models.EventPullRequest))
	}

	if len(pipeline.On.Schedule) > 0 {
		response.Triggers = append(response.Triggers, string(models.EventSchedule))
		response.Schedule = pipeline.On.Schedule
	}

	if pipeline.On.Dispatch != nil {
		response.Triggers = append(response.Triggers, string(models.EventDispatch))
	}

	for name := range pipeline.Jobs {
		response.Jobs = append(response.Jobs, name)
	}

	sort.Strings(response.Jobs)

	return response
}
