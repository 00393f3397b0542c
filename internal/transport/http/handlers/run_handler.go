package handlers

import (
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/pipedash/backend/internal/core/ports"
	"github.com/pipedash/backend/internal/transport/http/dto"
)

type RunHandler struct {
	service ports.RunService
}

func NewRunHandler(service ports.RunService) *RunHandler {
	return &RunHandler{service: service}
}

func (h *RunHandler) GetRuns(c *fiber.Ctx) error {
	limit := 50
	if v := c.Query("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid limit"})
		}
		limit = parsed
	}

	runs, err := h.service.GetRuns(c.Context(), limit)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: err.Error()})
	}
	return c.JSON(runs)
}

func (h *RunHandler) GetRun(c *fiber.Ctx) error {
	run, err := h.service.GetRun(c.Context(), c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Error: "run not found"})
	}
	return c.JSON(run)
}

func (h *RunHandler) GetRunLogs(c *fiber.Ctx) error {
	entries, err := h.service.GetRunLogs(c.Context(), c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: err.Error()})
	}
	return c.JSON(entries)
}
