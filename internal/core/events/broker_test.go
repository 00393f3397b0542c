package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pipedash/backend/internal/config"
	"github.com/pipedash/backend/internal/infrastructure/logger"
)

func newTestBroker(t *testing.T) *Broker {
	t.Helper()
	log, err := logger.New(config.LoggerConfig{Level: "error", Encoding: "console"})
	require.NoError(t, err)
	return NewBroker(log)
}

func TestBroadcastDeliversFramedEvent(t *testing.T) {
	broker := newTestBroker(t)

	client := make(chan string, 4)
	broker.Register(client)
	defer broker.Unregister(client)

	broker.Broadcast(EventPhaseUpdate, map[string]string{
		"phase": "infrastructure",
		"state": "running",
	})

	require.Len(t, client, 1)
	msg := <-client
	assert.Equal(t, "event: phase_update\ndata: {\"phase\":\"infrastructure\",\"state\":\"running\"}\n\n", msg)
}

func TestBroadcastReachesAllClients(t *testing.T) {
	broker := newTestBroker(t)

	first := make(chan string, 1)
	second := make(chan string, 1)
	broker.Register(first)
	broker.Register(second)
	defer broker.Unregister(first)
	defer broker.Unregister(second)

	assert.Equal(t, 2, broker.ClientCount())

	broker.Broadcast(EventLogLine, map[string]string{"line": "hello"})

	assert.Len(t, first, 1)
	assert.Len(t, second, 1)
}

func TestBroadcastSkipsFullClient(t *testing.T) {
	broker := newTestBroker(t)

	full := make(chan string) // unbuffered, nobody reading
	healthy := make(chan string, 2)
	broker.Register(full)
	broker.Register(healthy)
	defer broker.Unregister(full)
	defer broker.Unregister(healthy)

	broker.Broadcast(EventSummaryUpdate, map[string]int{"completed": 1})
	broker.Broadcast(EventSummaryUpdate, map[string]int{"completed": 2})

	assert.Len(t, healthy, 2)
}

func TestUnregisterClosesClient(t *testing.T) {
	broker := newTestBroker(t)

	client := make(chan string, 1)
	broker.Register(client)
	broker.Unregister(client)

	_, open := <-client
	assert.False(t, open)
	assert.Equal(t, 0, broker.ClientCount())

	// a second unregister of the same channel is a no-op
	broker.Unregister(client)
}
