package handlers

import (
	"bufio"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/valyala/fasthttp"

	"github.com/pipedash/backend/internal/core/ports"
	"github.com/pipedash/backend/internal/core/services"
	"github.com/pipedash/backend/internal/infrastructure/logger"
	"github.com/pipedash/backend/internal/transport/http/dto"
)

type DeployHandler struct {
	service ports.RunService
	logger  *logger.Logger
}

func NewDeployHandler(service ports.RunService, logger *logger.Logger) *DeployHandler {
	return &DeployHandler{service: service, logger: logger}
}

// StartDeploy begins a deployment run and answers with the live relay
// stream. A run already in progress is a conflict, not a queued request.
func (h *DeployHandler) StartDeploy(c *fiber.Ctx) error {
	stream, err := h.service.StartDeploy(c.Context())
	if err != nil {
		if errors.Is(err, services.ErrRunActive) {
			return c.Status(fiber.StatusConflict).JSON(dto.ConflictResponse{
				Error: "a run is already in progress",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: err.Error()})
	}

	h.logger.Infow("deploy_stream_started", "run_id", stream.Run.ID)
	writeEventStream(c, stream)
	return nil
}

// StartUnwindStream begins a streaming teardown run over the same relay
// contract as deploy.
func (h *DeployHandler) StartUnwindStream(c *fiber.Ctx) error {
	stream, err := h.service.StartUnwind(c.Context())
	if err != nil {
		if errors.Is(err, services.ErrRunActive) {
			return c.Status(fiber.StatusConflict).JSON(dto.ConflictResponse{
				Error: "a run is already in progress",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: err.Error()})
	}

	h.logger.Infow("unwind_stream_started", "run_id", stream.Run.ID)
	writeEventStream(c, stream)
	return nil
}

// writeEventStream flushes each framed record as it arrives. When the
// client goes away mid-run the channel is still drained to completion so
// the run's read loop never wedges on a full buffer.
func writeEventStream(c *fiber.Ctx, stream *ports.RunStream) {
	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("Access-Control-Allow-Origin", "*")

	frames := stream.Frames
	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		clientGone := false
		for frame := range frames {
			if clientGone {
				continue
			}
			if _, err := w.WriteString(frame); err != nil {
				clientGone = true
				continue
			}
			if err := w.Flush(); err != nil {
				clientGone = true
			}
		}
	}))
}
