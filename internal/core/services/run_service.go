package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pipedash/backend/internal/core/events"
	"github.com/pipedash/backend/internal/core/pipeline"
	"github.com/pipedash/backend/internal/core/ports"
	"github.com/pipedash/backend/internal/domain"
	"github.com/pipedash/backend/internal/infrastructure/logger"
)

type RunServiceConfig struct {
	Runner        ports.PhaseRunner
	RunRepo       ports.RunRepository
	LogRepo       ports.LogRepository
	Broker        *events.Broker
	Logger        *logger.Logger
	UnwindTimeout time.Duration
}

// runService drives deploy and unwind runs: it relays the phase runner's
// output as framed events, feeds every line through the status classifier,
// and persists the run and its log. One run at a time; the guard flag
// makes a second start a conflict, never a queued request.
type runService struct {
	runner        ports.PhaseRunner
	runs          ports.RunRepository
	logs          ports.LogRepository
	broker        *events.Broker
	logger        *logger.Logger
	unwindTimeout time.Duration

	mu      sync.Mutex
	active  bool
	run     *domain.Run
	tracker *pipeline.Tracker
}

func NewRunService(cfg RunServiceConfig) ports.RunService {
	timeout := cfg.UnwindTimeout
	if timeout == 0 {
		timeout = 40 * time.Minute
	}
	return &runService{
		runner:        cfg.Runner,
		runs:          cfg.RunRepo,
		logs:          cfg.LogRepo,
		broker:        cfg.Broker,
		logger:        cfg.Logger,
		unwindTimeout: timeout,
	}
}

func (s *runService) StartDeploy(ctx context.Context) (*ports.RunStream, error) {
	return s.startStreaming(ctx, domain.RunModeDeploy)
}

func (s *runService) StartUnwind(ctx context.Context) (*ports.RunStream, error) {
	return s.startStreaming(ctx, domain.RunModeUnwind)
}

func (s *runService) startStreaming(ctx context.Context, mode domain.RunMode) (*ports.RunStream, error) {
	run, tracker, err := s.acquire(mode)
	if err != nil {
		return nil, err
	}

	if err := s.runs.Create(ctx, run); err != nil {
		s.release()
		return nil, err
	}

	frames := make(chan string, 64)

	// The run outlives the HTTP request on purpose: once started, a
	// deployment proceeds to process completion regardless of the
	// consumer (cancellation is not supported).
	proc, err := s.runner.Start(context.Background(), mode)
	if err != nil {
		s.logger.Errorw("runner_spawn_failed", "mode", mode, "run_id", run.ID, "error", err)
		spawnErr := fmt.Errorf("%w: %v", ErrRunSpawnFailed, err)
		go s.finishSpawnFailure(run, tracker, frames, spawnErr)
		return &ports.RunStream{Run: run, Frames: frames}, nil
	}

	go s.pump(run, tracker, proc, frames)
	return &ports.RunStream{Run: run, Frames: frames}, nil
}

func (s *runService) acquire(mode domain.RunMode) (*domain.Run, *pipeline.Tracker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active {
		return nil, nil, ErrRunActive
	}

	tracker := pipeline.NewTracker()
	run := &domain.Run{
		ID:        uuid.New().String(),
		Mode:      mode,
		Status:    domain.RunStatusRunning,
		StartedAt: tracker.StartedAt(),
	}

	s.active = true
	s.run = run
	s.tracker = tracker
	return run, tracker, nil
}

func (s *runService) release() {
	s.mu.Lock()
	s.active = false
	s.mu.Unlock()
}

// finishSpawnFailure closes the stream with a single framed error record.
// No exit-code record follows: the consumer must be able to tell a spawn
// failure apart from a completed process.
func (s *runService) finishSpawnFailure(run *domain.Run, tracker *pipeline.Tracker, frames chan string, spawnErr error) {
	line := errorPrefix + spawnErr.Error()
	s.persistLine(run, 1, domain.LogSourceSystem, line)
	frames <- Frame(line)

	summary := tracker.Finish()
	run.Status = domain.RunStatusFailed
	run.FinishedAt = time.Now()
	run.Duration = summary.Elapsed
	run.Error = spawnErr.Error()
	run.ExitCode = -1
	run.Phases = phasesJSON(tracker.Phases())
	run.Summary = summaryJSON(summary)
	if err := s.runs.Update(context.Background(), run); err != nil {
		s.logger.Errorw("run_finalize_failed", "run_id", run.ID, "error", err)
	}

	s.broker.Broadcast(events.EventRunFinished, run)
	s.release()

	// Closed last so a consumer that sees the stream end always finds
	// the run finalized and the guard free.
	close(frames)
}

// pump is the read loop of the active run: it is the only writer of the
// tracker, so phase and summary mutation stays serial.
func (s *runService) pump(run *domain.Run, tracker *pipeline.Tracker, proc ports.RunnerProcess, frames chan string) {
	lines := make(chan relayMsg, 64)
	var wg sync.WaitGroup
	wg.Add(2)
	go scanInto(proc.Stdout(), domain.LogSourceStdout, lines, wg.Done)
	go scanInto(proc.Stderr(), domain.LogSourceStderr, lines, wg.Done)
	go func() {
		wg.Wait()
		close(lines)
	}()

	seq := 0
	for msg := range lines {
		text := msg.line
		if msg.source == domain.LogSourceStderr {
			text = errorPrefix + text
		}

		seq++
		entry := s.persistLine(run, seq, msg.source, text)

		if tr, ok := tracker.Apply(text); ok {
			s.logger.Infow("phase_transition",
				"run_id", run.ID,
				"phase", tr.Phase,
				"from", tr.From,
				"to", tr.To,
			)
			s.broker.Broadcast(events.EventPhaseUpdate, tr)
			s.broker.Broadcast(events.EventSummaryUpdate, tracker.Summary())
		}
		s.broker.Broadcast(events.EventLogLine, entry)

		frames <- Frame(text)
	}

	code, waitErr := proc.Wait()
	summary := tracker.Finish()

	var final string
	if waitErr != nil {
		// The process outcome could not be determined; this is a
		// transport failure, not an exit code.
		final = errorPrefix + waitErr.Error()
		run.Status = domain.RunStatusFailed
		run.Error = waitErr.Error()
		run.ExitCode = -1
	} else {
		final = ExitLine(code)
		run.ExitCode = code
		if code == 0 && summary.FailedCount == 0 {
			run.Status = domain.RunStatusSucceeded
		} else {
			run.Status = domain.RunStatusFailed
		}
	}

	seq++
	s.persistLine(run, seq, domain.LogSourceSystem, final)
	frames <- Frame(final)

	run.FinishedAt = time.Now()
	run.Duration = summary.Elapsed
	run.Phases = phasesJSON(tracker.Phases())
	run.Summary = summaryJSON(summary)
	if err := s.runs.Update(context.Background(), run); err != nil {
		s.logger.Errorw("run_finalize_failed", "run_id", run.ID, "error", err)
	}
	s.logger.Infow("run_finished",
		"run_id", run.ID,
		"mode", run.Mode,
		"status", run.Status,
		"exit_code", run.ExitCode,
		"duration", run.Duration,
	)

	s.broker.Broadcast(events.EventRunFinished, run)
	s.release()

	// Closed last so a consumer that sees the stream end always finds
	// the run finalized and the guard free.
	close(frames)
}

func (s *runService) persistLine(run *domain.Run, seq int, source domain.LogSource, line string) *domain.LogEntry {
	entry := &domain.LogEntry{
		RunID:  run.ID,
		Seq:    seq,
		Source: source,
		Line:   line,
	}
	if err := s.logs.Append(context.Background(), entry); err != nil {
		s.logger.Errorw("log_append_failed", "run_id", run.ID, "seq", seq, "error", err)
	}
	return entry
}

// Teardown runs the destroy scripts synchronously under the configured
// ceiling. A ceiling overrun comes back as TimedOut, which callers must
// treat as a different failure kind than a non-zero exit.
func (s *runService) Teardown(ctx context.Context) (*ports.TeardownResult, error) {
	run, tracker, err := s.acquire(domain.RunModeUnwind)
	if err != nil {
		return nil, err
	}
	defer s.release()

	if err := s.runs.Create(ctx, run); err != nil {
		return nil, err
	}

	tctx, cancel := context.WithTimeout(ctx, s.unwindTimeout)
	defer cancel()

	result := &ports.TeardownResult{}

	proc, err := s.runner.Start(tctx, domain.RunModeUnwind)
	if err != nil {
		result.Error = fmt.Sprintf("failed to start teardown: %v", err)
		result.ExitCode = -1
		s.finalizeTeardown(run, tracker, result)
		return result, nil
	}

	var stdout, stderr bytes.Buffer
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		io.Copy(&stdout, proc.Stdout())
	}()
	go func() {
		defer wg.Done()
		io.Copy(&stderr, proc.Stderr())
	}()
	wg.Wait()

	code, waitErr := proc.Wait()
	result.Stdout = stdout.String()
	result.Stderr = stderr.String()
	result.ExitCode = code

	switch {
	case errors.Is(tctx.Err(), context.DeadlineExceeded):
		result.TimedOut = true
		result.ExitCode = -1
		result.Error = ErrUnwindTimedOut.Error()
	case waitErr != nil:
		result.ExitCode = -1
		result.Error = waitErr.Error()
	case code != 0:
		result.Error = fmt.Sprintf("teardown exited with code %d", code)
	default:
		result.Success = true
	}

	s.finalizeTeardown(run, tracker, result)
	return result, nil
}

func (s *runService) finalizeTeardown(run *domain.Run, tracker *pipeline.Tracker, result *ports.TeardownResult) {
	summary := tracker.Finish()
	run.FinishedAt = time.Now()
	run.Duration = summary.Elapsed
	run.ExitCode = result.ExitCode
	run.Error = result.Error
	if result.Success {
		run.Status = domain.RunStatusSucceeded
	} else {
		run.Status = domain.RunStatusFailed
	}
	run.Summary = summaryJSON(summary)
	if err := s.runs.Update(context.Background(), run); err != nil {
		s.logger.Errorw("run_finalize_failed", "run_id", run.ID, "error", err)
	}
	s.logger.Infow("teardown_finished",
		"run_id", run.ID,
		"success", result.Success,
		"timed_out", result.TimedOut,
		"exit_code", result.ExitCode,
	)
}

func (s *runService) Status() ports.PipelineStatus {
	s.mu.Lock()
	run := s.run
	tracker := s.tracker
	active := s.active
	s.mu.Unlock()

	status := ports.PipelineStatus{Active: active, Order: domain.DeployOrder}
	if tracker == nil {
		phases := make(map[domain.Phase]domain.PhaseState, domain.PhaseCount)
		for _, p := range domain.DeployOrder {
			phases[p] = domain.StateIdle
		}
		status.Phases = phases
		status.Summary = domain.Summary{PendingCount: domain.PhaseCount}
		return status
	}

	status.RunID = run.ID
	status.Mode = run.Mode
	if run.Mode == domain.RunModeUnwind {
		status.Order = domain.UnwindOrder()
	}
	status.Phases = tracker.Phases()
	status.Summary = tracker.Summary()
	return status
}

func (s *runService) GetRun(ctx context.Context, id string) (*domain.Run, error) {
	return s.runs.GetByID(ctx, id)
}

func (s *runService) GetRuns(ctx context.Context, limit int) ([]domain.Run, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.runs.GetAll(ctx, limit)
}

func (s *runService) GetRunLogs(ctx context.Context, runID string) ([]domain.LogEntry, error) {
	return s.logs.GetByRunID(ctx, runID)
}

func phasesJSON(phases map[domain.Phase]domain.PhaseState) domain.JSONB {
	out := make(domain.JSONB, len(phases))
	for p, st := range phases {
		out[string(p)] = string(st)
	}
	return out
}

func summaryJSON(sum domain.Summary) domain.JSONB {
	return domain.JSONB{
		"completed_count": sum.CompletedCount,
		"failed_count":    sum.FailedCount,
		"skipped_count":   sum.SkippedCount,
		"pending_count":   sum.PendingCount,
		"elapsed":         sum.Elapsed,
	}
}
