package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/pipedash/backend/internal/infrastructure/logger"
	"github.com/pipedash/backend/internal/infrastructure/runner"
	"github.com/pipedash/backend/internal/transport/http/dto"
)

type ArtifactHandler struct {
	runner *runner.RemoteRunner
	logger *logger.Logger
}

func NewArtifactHandler(r *runner.RemoteRunner, logger *logger.Logger) *ArtifactHandler {
	return &ArtifactHandler{runner: r, logger: logger}
}

// GetDeployLog serves the deployment log file written by the scripts on
// the remote operations host. Only available in ssh runner mode.
func (h *ArtifactHandler) GetDeployLog(c *fiber.Ctx) error {
	data, err := h.runner.FetchLogArtifact()
	if err != nil {
		h.logger.Errorw("artifact_fetch_failed", "error", err)
		return c.Status(fiber.StatusBadGateway).JSON(dto.ErrorResponse{Error: err.Error()})
	}

	c.Set("Content-Type", "text/plain; charset=utf-8")
	return c.Send(data)
}
