// Package web provides HTTP handlers and REST API endpoints for pipeline management.
package web

import (
	"net/http"
	"strconv"
	"time"

	"github.com/dmawi/gridci/pkg/eventbus"
	"github.com/dmawi/gridci/pkg/events"
	"github.com/dmawi/gridci/pkg/models"
	"github.com/dmawi/gridci/pkg/persistence"
	"github.com/dmawi/gridci/pkg/registry"
	"github.com/dmawi/gridci/pkg/trigger"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
)

type APIHandlers struct {
	persistence persistence.Persistence
	eventBus    eventbus.EventBus
	validator   *validator.Validate
	registry    *registry.Registry
}

func NewAPIHandlers(
	persistence persistence.Persistence,
	eventBus eventbus.EventBus,
	validator *validator.Validate,
	registry *registry.Registry,
) *APIHandlers {
	return &APIHandlers{
		persistence: persistence,
		eventBus:    eventBus,
		validator:   validator,
		registry:    registry,
	}
}

func (h *APIHandlers) GetPipelines(c fiber.Ctx) error {
	pipelines, err := h.persistence.Pipelines(c.Context())
	if err != nil {
		return internalError(c, err)
	}

	responses := make([]PipelineResponse, 0, len(pipelines))
	for _, pipeline := range pipelines {
		responses = append(responses, TransformPipelineResponse(pipeline))
	}

	return c.JSON(fiber.Map{
		"pipelines":   responses,
		"total_count": len(responses),
	})
}

func (h *APIHandlers) GetPipeline(c fiber.Ctx) error {
	pipeline, err := h.persistence.PipelineByID(c.Context(), c.Params("id"))
	if err != nil {
		return handlePersistenceError(c, err)
	}

	return c.JSON(pipeline)
}

// DispatchRun queues a run for a pipeline that declares a manual dispatch
// trigger. The run is announced on the event bus and picked up by a runner;
// the response only acknowledges the dispatch.
func (h *APIHandlers) DispatchRun(c fiber.Ctx) error {
	pipeline, err := h.persistence.PipelineByID(c.Context(), c.Params("id"))
	if err != nil {
		return handlePersistenceError(c, err)
	}

	if pipeline.On.Dispatch == nil {
		return badRequest(c, "pipeline does not declare a dispatch trigger")
	}

	var req DispatchRunRequest
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return badRequest(c, "Invalid JSON format")
		}
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	for name, input := range pipeline.On.Dispatch.Inputs {
		if input.Required && input.Default == "" {
			if _, ok := req.Inputs[name]; !ok {
				return badRequest(c, "missing required input: "+name)
			}
		}
	}

	inputs := trigger.ResolveDispatchInputs(pipeline.On.Dispatch, req.Inputs)

	event := models.Event{
		ID:         uuid.New().String(),
		Type:       models.EventDispatch,
		Branch:     req.Branch,
		Inputs:     inputs,
		OccurredAt: time.Now().UTC(),
	}

	runID := uuid.New().String()

	dispatched := events.RunDispatched{
		BaseEvent: events.BaseEvent{
			ID:         h.eventBus.GenerateID(),
			Type:       events.RunDispatchedEvent,
			Timestamp:  time.Now().UTC(),
			PipelineID: pipeline.ID,
		},
		RunID:  runID,
		Event:  event,
		Reason: "manual dispatch",
	}

	if err := h.eventBus.Publish(c.Context(), runID, dispatched); err != nil {
		return internalError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(DispatchRunResponse{
		RunID:      runID,
		PipelineID: pipeline.ID,
		Status:     models.RunStatusQueued,
		Inputs:     inputs,
	})
}

func (h *APIHandlers) GetRuns(c fiber.Ctx) error {
	runs, err := h.persistence.Runs(c.Context())
	if err != nil {
		return internalError(c, err)
	}

	if pipelineID := c.Query("pipeline_id"); pipelineID != "" {
		filtered := make([]*models.Run, 0, len(runs))

		for _, run := range runs {
			if run.PipelineID == pipelineID {
				filtered = append(filtered, run)
			}
		}

		runs = filtered
	}

	limit := len(runs)

	if limitStr := c.Query("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed < 0 {
			return badRequest(c, "Invalid limit parameter")
		}

		if parsed < limit {
			limit = parsed
		}
	}

	return c.JSON(fiber.Map{
		"runs":        runs[:limit],
		"total_count": len(runs),
	})
}

func (h *APIHandlers) GetRun(c fiber.Ctx) error {
	run, err := h.persistence.RunByID(c.Context(), c.Params("id"))
	if err != nil {
		return handlePersistenceError(c, err)
	}

	return c.JSON(run)
}

func (h *APIHandlers) GetActions(c fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"actions": h.registry.AvailableActions(),
	})
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	err := h.persistence.HealthCheck(c.Context())

	status := "healthy"
	message := "GridCI API is healthy"
	httpStatus := http.StatusOK

	if err != nil {
		status = "unhealthy"
		message = "GridCI API is unhealthy"
		httpStatus = http.StatusInternalServerError
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":    status,
		"message":   message,
		"timestamp": time.Now().UTC(),
	})
}
