package handlers

import (
	"github.com/gofiber/contrib/websocket"

	"github.com/pipedash/backend/internal/core/events"
	"github.com/pipedash/backend/internal/infrastructure/logger"
)

type LogTailHandler struct {
	broker *events.Broker
	logger *logger.Logger
}

func NewLogTailHandler(broker *events.Broker, logger *logger.Logger) *LogTailHandler {
	return &LogTailHandler{broker: broker, logger: logger}
}

// Handle mirrors the status feed onto a websocket for dashboard clients
// that keep a terminal-style log view open.
func (h *LogTailHandler) Handle(c *websocket.Conn) {
	client := make(chan string, 32)
	h.broker.Register(client)
	defer h.broker.Unregister(client)

	// Reader goroutine: the tail is write-only, but close/ping frames
	// still have to be consumed for the connection to stay healthy.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case message, ok := <-client:
			if !ok {
				return
			}
			if err := c.WriteMessage(websocket.TextMessage, []byte(message)); err != nil {
				h.logger.Warnw("logtail_write_failed", "error", err)
				return
			}
		case <-done:
			return
		}
	}
}
