package services

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pipedash/backend/internal/config"
	"github.com/pipedash/backend/internal/core/events"
	"github.com/pipedash/backend/internal/core/ports"
	"github.com/pipedash/backend/internal/domain"
	"github.com/pipedash/backend/internal/infrastructure/logger"
)

// ==================== FAKES ====================

type fakeProcess struct {
	stdout   string
	stderr   string
	exitCode int
	waitErr  error
	ctx      context.Context
	blockCtx bool // Wait does not return until ctx is done
}

func (p *fakeProcess) Stdout() io.Reader { return strings.NewReader(p.stdout) }
func (p *fakeProcess) Stderr() io.Reader { return strings.NewReader(p.stderr) }

func (p *fakeProcess) Wait() (int, error) {
	if p.blockCtx {
		<-p.ctx.Done()
		return 137, nil
	}
	return p.exitCode, p.waitErr
}

type fakeRunner struct {
	proc     *fakeProcess
	spawnErr error
	lastMode domain.RunMode
}

func (r *fakeRunner) Start(ctx context.Context, mode domain.RunMode) (ports.RunnerProcess, error) {
	r.lastMode = mode
	if r.spawnErr != nil {
		return nil, r.spawnErr
	}
	r.proc.ctx = ctx
	return r.proc, nil
}

type memRunRepo struct {
	mu   sync.Mutex
	runs map[string]*domain.Run
}

func newMemRunRepo() *memRunRepo {
	return &memRunRepo{runs: make(map[string]*domain.Run)}
}

func (r *memRunRepo) Create(ctx context.Context, run *domain.Run) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *run
	r.runs[run.ID] = &cp
	return nil
}

func (r *memRunRepo) GetByID(ctx context.Context, id string) (*domain.Run, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs[id]
	if !ok {
		return nil, errors.New("run not found")
	}
	cp := *run
	return &cp, nil
}

func (r *memRunRepo) GetAll(ctx context.Context, limit int) ([]domain.Run, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Run
	for _, run := range r.runs {
		out = append(out, *run)
	}
	return out, nil
}

func (r *memRunRepo) Update(ctx context.Context, run *domain.Run) error {
	return r.Create(ctx, run)
}

type memLogRepo struct {
	mu      sync.Mutex
	entries []domain.LogEntry
}

func (r *memLogRepo) Append(ctx context.Context, entry *domain.LogEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, *entry)
	return nil
}

func (r *memLogRepo) GetByRunID(ctx context.Context, runID string) ([]domain.LogEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.LogEntry
	for _, e := range r.entries {
		if e.RunID == runID {
			out = append(out, e)
		}
	}
	return out, nil
}

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New(config.LoggerConfig{
		Level:            "error",
		Encoding:         "console",
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	})
	require.NoError(t, err)
	return log
}

func newTestService(t *testing.T, runner ports.PhaseRunner, timeout time.Duration) (ports.RunService, *memRunRepo, *memLogRepo) {
	t.Helper()
	runRepo := newMemRunRepo()
	logRepo := &memLogRepo{}
	log := testLogger(t)
	svc := NewRunService(RunServiceConfig{
		Runner:        runner,
		RunRepo:       runRepo,
		LogRepo:       logRepo,
		Broker:        events.NewBroker(log),
		Logger:        log,
		UnwindTimeout: timeout,
	})
	return svc, runRepo, logRepo
}

func collect(t *testing.T, frames <-chan string) []string {
	t.Helper()
	var out []string
	timeout := time.After(5 * time.Second)
	for {
		select {
		case frame, ok := <-frames:
			if !ok {
				return out
			}
			out = append(out, frame)
		case <-timeout:
			t.Fatal("stream did not close in time")
		}
	}
}

// ==================== TESTS ====================

func TestStartDeployRelaysFramedOutput(t *testing.T) {
	runner := &fakeRunner{proc: &fakeProcess{
		stdout: "Starting infrastructure deployment...\nInfrastructure deployment completed!\n",
	}}
	svc, runRepo, _ := newTestService(t, runner, time.Minute)

	stream, err := svc.StartDeploy(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.RunModeDeploy, stream.Run.Mode)

	frames := collect(t, stream.Frames)
	require.Len(t, frames, 3)
	assert.Equal(t, "data: Starting infrastructure deployment...\n\n", frames[0])
	assert.Equal(t, "data: Infrastructure deployment completed!\n\n", frames[1])
	assert.Equal(t, "data: Process completed with code 0\n\n", frames[2])

	run, err := runRepo.GetByID(context.Background(), stream.Run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusSucceeded, run.Status)
	assert.Equal(t, 0, run.ExitCode)
	assert.NotEmpty(t, run.Duration)
	assert.Equal(t, "completed", run.Phases[string(domain.PhaseInfrastructure)])
}

func TestStartDeployTagsStderr(t *testing.T) {
	runner := &fakeRunner{proc: &fakeProcess{
		stderr:   "boto3 credentials not found\n",
		exitCode: 1,
	}}
	svc, _, logRepo := newTestService(t, runner, time.Minute)

	stream, err := svc.StartDeploy(context.Background())
	require.NoError(t, err)

	frames := collect(t, stream.Frames)
	require.Len(t, frames, 2)
	assert.Equal(t, "data: ERROR: boto3 credentials not found\n\n", frames[0])
	assert.Equal(t, "data: Process completed with code 1\n\n", frames[1])

	entries, err := logRepo.GetByRunID(context.Background(), stream.Run.ID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, domain.LogSourceStderr, entries[0].Source)
	assert.Equal(t, domain.LogSourceSystem, entries[1].Source)
}

func TestStartDeployRejectsConcurrentRun(t *testing.T) {
	runner := &fakeRunner{proc: &fakeProcess{blockCtx: true}}
	svc, _, _ := newTestService(t, runner, time.Minute)

	stream, err := svc.StartDeploy(context.Background())
	require.NoError(t, err)

	_, err = svc.StartDeploy(context.Background())
	assert.ErrorIs(t, err, ErrRunActive)
	_, err = svc.StartUnwind(context.Background())
	assert.ErrorIs(t, err, ErrRunActive)

	status := svc.Status()
	assert.True(t, status.Active)
	assert.Equal(t, stream.Run.ID, status.RunID)
}

func TestStartDeploySpawnFailure(t *testing.T) {
	runner := &fakeRunner{spawnErr: errors.New("exec: python3: not found")}
	svc, runRepo, _ := newTestService(t, runner, time.Minute)

	stream, err := svc.StartDeploy(context.Background())
	require.NoError(t, err, "spawn failure is reported in-stream, not as a start error")

	frames := collect(t, stream.Frames)
	require.Len(t, frames, 1, "spawn failure must emit exactly one record")
	assert.Contains(t, frames[0], "data: ERROR: ")
	assert.NotContains(t, frames[0], "Process completed with code",
		"spawn failure must not look like an exit-code record")

	run, err := runRepo.GetByID(context.Background(), stream.Run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusFailed, run.Status)
	assert.Equal(t, -1, run.ExitCode)

	// Guard must be released so a retry is possible.
	runner.spawnErr = nil
	runner.proc = &fakeProcess{}
	_, err = svc.StartDeploy(context.Background())
	assert.NoError(t, err)
}

func TestStartUnwindUsesDestroyMode(t *testing.T) {
	runner := &fakeRunner{proc: &fakeProcess{
		stdout: "Starting validation teardown...\n",
	}}
	svc, _, _ := newTestService(t, runner, time.Minute)

	stream, err := svc.StartUnwind(context.Background())
	require.NoError(t, err)
	collect(t, stream.Frames)

	assert.Equal(t, domain.RunModeUnwind, runner.lastMode)
	assert.Equal(t, domain.RunModeUnwind, stream.Run.Mode)

	status := svc.Status()
	assert.Equal(t, domain.UnwindOrder(), status.Order, "teardown reports phases in reverse order")
}

func TestTeardownSuccess(t *testing.T) {
	runner := &fakeRunner{proc: &fakeProcess{
		stdout: "All resources destroyed\n",
	}}
	svc, runRepo, _ := newTestService(t, runner, time.Minute)

	result, err := svc.Teardown(context.Background())
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.False(t, result.TimedOut)
	assert.Equal(t, 0, result.ExitCode)
	assert.Contains(t, result.Stdout, "All resources destroyed")

	runs, err := runRepo.GetAll(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, domain.RunStatusSucceeded, runs[0].Status)
}

func TestTeardownNonZeroExit(t *testing.T) {
	runner := &fakeRunner{proc: &fakeProcess{
		stderr:   "could not delete replication instance\n",
		exitCode: 2,
	}}
	svc, _, _ := newTestService(t, runner, time.Minute)

	result, err := svc.Teardown(context.Background())
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.False(t, result.TimedOut, "a non-zero exit is not a timeout")
	assert.Equal(t, 2, result.ExitCode)
	assert.Contains(t, result.Stderr, "could not delete replication instance")
}

func TestTeardownTimeout(t *testing.T) {
	runner := &fakeRunner{proc: &fakeProcess{blockCtx: true}}
	svc, _, _ := newTestService(t, runner, 50*time.Millisecond)

	result, err := svc.Teardown(context.Background())
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.True(t, result.TimedOut, "ceiling overrun must be flagged as a transport failure")
	assert.Equal(t, -1, result.ExitCode)

	// Guard released after the timeout.
	runner.proc = &fakeProcess{}
	_, err = svc.Teardown(context.Background())
	assert.NoError(t, err)
}

func TestStatusIdleBeforeFirstRun(t *testing.T) {
	svc, _, _ := newTestService(t, &fakeRunner{proc: &fakeProcess{}}, time.Minute)

	status := svc.Status()
	assert.False(t, status.Active)
	assert.Equal(t, domain.DeployOrder, status.Order)
	assert.Len(t, status.Phases, domain.PhaseCount)
	for _, state := range status.Phases {
		assert.Equal(t, domain.StateIdle, state)
	}
	assert.Equal(t, domain.PhaseCount, status.Summary.PendingCount)
}
