package ports

import (
	"context"
	"io"

	"github.com/pipedash/backend/internal/domain"
)

// RunnerProcess is a handle to a started phase-runner process. Stdout and
// Stderr deliver output in emission order; Wait blocks until the process
// exits and reports its exit code. A non-nil error from Wait means the
// process outcome could not be determined at all, not a non-zero exit.
type RunnerProcess interface {
	Stdout() io.Reader
	Stderr() io.Reader
	Wait() (int, error)
}

// PhaseRunner starts the external deployment scripts in deploy or destroy
// mode. The scripts themselves are an external collaborator; the backend
// only consumes their output stream.
type PhaseRunner interface {
	Start(ctx context.Context, mode domain.RunMode) (RunnerProcess, error)
}

// RunStream is the live view of an active run: the frames channel carries
// event-stream records ("data: ...\n\n") in strict emission order and is
// closed after the final exit-code record.
type RunStream struct {
	Run    *domain.Run
	Frames <-chan string
}

// TeardownResult is the synchronous unwind outcome. TimedOut marks a
// transport-level failure (the 40-minute ceiling elapsed), which is
// distinct from a non-zero ExitCode.
type TeardownResult struct {
	Success  bool   `json:"success"`
	ExitCode int    `json:"exit_code"`
	TimedOut bool   `json:"timed_out"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	Error    string `json:"error,omitempty"`
}

// PipelineStatus is the dashboard snapshot of the current (or last) run.
// Order carries the phases in execution order for the active mode, since
// the phase map itself is unordered.
type PipelineStatus struct {
	Active  bool                               `json:"active"`
	RunID   string                             `json:"run_id,omitempty"`
	Mode    domain.RunMode                     `json:"mode,omitempty"`
	Order   []domain.Phase                     `json:"order"`
	Phases  map[domain.Phase]domain.PhaseState `json:"phases"`
	Summary domain.Summary                     `json:"summary"`
}

type RunService interface {
	// StartDeploy begins a deployment run and returns its relay stream.
	// Returns ErrRunActive while another run holds the guard.
	StartDeploy(ctx context.Context) (*RunStream, error)
	// StartUnwind begins a streaming teardown run through the same relay
	// and classifier pipeline as deploy, phases interpreted in reverse.
	StartUnwind(ctx context.Context) (*RunStream, error)
	// Teardown runs the destroy scripts synchronously under the
	// configured ceiling and returns the captured result.
	Teardown(ctx context.Context) (*TeardownResult, error)
	Status() PipelineStatus
	GetRun(ctx context.Context, id string) (*domain.Run, error)
	GetRuns(ctx context.Context, limit int) ([]domain.Run, error)
	GetRunLogs(ctx context.Context, runID string) ([]domain.LogEntry, error)
}
