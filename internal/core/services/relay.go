package services

import (
	"bufio"
	"fmt"
	"io"

	"github.com/pipedash/backend/internal/domain"
)

// Event-stream framing: every record is a `data: ` line followed by a
// blank line. The deploy and unwind streams carry raw runner output in
// this framing; stderr lines get an ERROR: marker so the consumer can
// tell the channels apart without a second stream.
const (
	framePrefix = "data: "
	errorPrefix = "ERROR: "
)

// Frame wraps one output chunk in event-stream framing.
func Frame(data string) string {
	return framePrefix + data + "\n\n"
}

// ExitLine is the final record of every stream that got as far as a
// running process.
func ExitLine(code int) string {
	return fmt.Sprintf("Process completed with code %d", code)
}

type relayMsg struct {
	source domain.LogSource
	line   string
}

// scanInto forwards lines from one process pipe, in emission order, onto
// the shared relay channel. Scanner errors end the pipe silently; the
// exit-code record still follows from Wait.
func scanInto(r io.Reader, source domain.LogSource, out chan<- relayMsg, done func()) {
	defer done()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		out <- relayMsg{source: source, line: scanner.Text()}
	}
}
