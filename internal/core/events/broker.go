package events

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/pipedash/backend/internal/infrastructure/logger"
)

// Event types published on the dashboard status feed.
const (
	EventPhaseUpdate   = "phase_update"
	EventSummaryUpdate = "summary_update"
	EventLogLine       = "log_line"
	EventRunFinished   = "run_finished"
)

// Broker fans structured status events out to connected dashboard clients
// as server-sent events. Clients that cannot keep up are skipped rather
// than blocking the run's read loop.
type Broker struct {
	clients map[chan string]bool
	mu      sync.RWMutex
	log     *logger.Logger
}

func NewBroker(log *logger.Logger) *Broker {
	return &Broker{
		clients: make(map[chan string]bool),
		log:     log,
	}
}

func (b *Broker) Register(client chan string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.clients[client] = true
	b.log.Infow("event_client_connected", "total", len(b.clients))
}

func (b *Broker) Unregister(client chan string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.clients[client]; !ok {
		return
	}
	delete(b.clients, client)
	close(client)
	b.log.Infow("event_client_disconnected", "total", len(b.clients))
}

// Broadcast serializes data and delivers one framed event to every client.
func (b *Broker) Broadcast(eventType string, data interface{}) {
	payload, err := json.Marshal(data)
	if err != nil {
		b.log.Errorw("event_marshal_failed", "type", eventType, "error", err)
		return
	}
	message := fmt.Sprintf("event: %s\ndata: %s\n\n", eventType, payload)

	b.mu.RLock()
	defer b.mu.RUnlock()
	for client := range b.clients {
		select {
		case client <- message:
		default:
			// client buffer full, skip
		}
	}
}

// ClientCount reports the number of connected feed clients.
func (b *Broker) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}
