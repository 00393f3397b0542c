package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/pipedash/backend/internal/core/ports"
	"github.com/pipedash/backend/internal/core/services"
	"github.com/pipedash/backend/internal/infrastructure/logger"
	"github.com/pipedash/backend/internal/transport/http/dto"
)

type UnwindHandler struct {
	service ports.RunService
	logger  *logger.Logger
}

func NewUnwindHandler(service ports.RunService, logger *logger.Logger) *UnwindHandler {
	return &UnwindHandler{service: service, logger: logger}
}

// Teardown runs the destroy scripts synchronously and returns the captured
// result. The call blocks for up to the configured ceiling (40 minutes by
// default); a ceiling overrun is reported as timed_out, which is a
// different failure than a non-zero exit code.
func (h *UnwindHandler) Teardown(c *fiber.Ctx) error {
	result, err := h.service.Teardown(c.Context())
	if err != nil {
		if errors.Is(err, services.ErrRunActive) {
			return c.Status(fiber.StatusConflict).JSON(dto.ConflictResponse{
				Error: "a run is already in progress",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: err.Error()})
	}

	h.logger.Infow("teardown_completed",
		"success", result.Success,
		"timed_out", result.TimedOut,
		"exit_code", result.ExitCode,
	)

	if result.TimedOut {
		return c.Status(fiber.StatusGatewayTimeout).JSON(result)
	}
	if !result.Success {
		return c.Status(fiber.StatusInternalServerError).JSON(result)
	}
	return c.JSON(result)
}
