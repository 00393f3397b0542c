package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/pipedash/backend/internal/core/ports"
)

type StatusHandler struct {
	service ports.RunService
}

func NewStatusHandler(service ports.RunService) *StatusHandler {
	return &StatusHandler{service: service}
}

func (h *StatusHandler) GetStatus(c *fiber.Ctx) error {
	return c.JSON(h.service.Status())
}
