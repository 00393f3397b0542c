package handlers

import (
	"bufio"

	"github.com/gofiber/fiber/v2"
	"github.com/valyala/fasthttp"

	"github.com/pipedash/backend/internal/core/events"
)

type EventsHandler struct {
	broker *events.Broker
}

func NewEventsHandler(broker *events.Broker) *EventsHandler {
	return &EventsHandler{broker: broker}
}

// Subscribe attaches the client to the dashboard status feed: phase
// transitions, summary updates and log lines as typed server-sent events.
func (h *EventsHandler) Subscribe(c *fiber.Ctx) error {
	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("Access-Control-Allow-Origin", "*")

	client := make(chan string, 32)
	h.broker.Register(client)
	broker := h.broker

	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		defer broker.Unregister(client)

		if _, err := w.WriteString("event: connected\ndata: {}\n\n"); err != nil {
			return
		}
		if err := w.Flush(); err != nil {
			return
		}

		for message := range client {
			if _, err := w.WriteString(message); err != nil {
				return
			}
			if err := w.Flush(); err != nil {
				return
			}
		}
	}))
	return nil
}
