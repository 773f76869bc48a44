package web

import (
	"errors"

	"github.com/dmawi/gridci/pkg/persistence"
	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"
)

func badRequest(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(400).
		WithInstance(c.Path()).
		WithType("validation_error").
		WithDetail(detail)

	return c.Status(fiber.StatusBadRequest).JSON(problem)
}

func notFound(c fiber.Ctx, problemType, detail string) error {
	problem := problems.NewStatusProblem(404).
		WithInstance(c.Path()).
		WithType(problemType).
		WithDetail(detail)

	return c.Status(fiber.StatusNotFound).JSON(problem)
}

func internalError(c fiber.Ctx, err error) error {
	problem := problems.NewStatusProblem(500).
		WithInstance(c.Path()).
		WithType("internal_error").
		WithError(err)

	return c.Status(fiber.StatusInternalServerError).JSON(problem)
}

// handlePersistenceError maps storage errors to problem responses.
func handlePersistenceError(c fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, persistence.ErrPipelineNotFound):
		return notFound(c, "pipeline_not_found", "pipeline not found")
	case errors.Is(err, persistence.ErrRunNotFound):
		return notFound(c, "run_not_found", "run not found")
	default:
		return internalError(c, err)
	}
}
