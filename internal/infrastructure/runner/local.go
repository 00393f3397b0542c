package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"

	"github.com/pipedash/backend/internal/config"
	"github.com/pipedash/backend/internal/core/ports"
	"github.com/pipedash/backend/internal/domain"
	"github.com/pipedash/backend/internal/infrastructure/logger"
)

var ErrNoCommand = errors.New("runner: no command configured")

// LocalRunner shells out to the deployment scripts on this host.
type LocalRunner struct {
	cfg config.RunnerConfig
	log *logger.Logger
}

func NewLocalRunner(cfg config.RunnerConfig, log *logger.Logger) *LocalRunner {
	return &LocalRunner{cfg: cfg, log: log}
}

func (r *LocalRunner) Start(ctx context.Context, mode domain.RunMode) (ports.RunnerProcess, error) {
	argv, stdin := commandFor(r.cfg, mode)
	if len(argv) == 0 {
		return nil, ErrNoCommand
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = r.cfg.WorkDir
	if stdin != "" {
		cmd.Stdin = strings.NewReader(stdin)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", argv[0], err)
	}
	r.log.Infow("runner_started", "mode", mode, "command", strings.Join(argv, " "), "pid", cmd.Process.Pid)

	return &localProcess{cmd: cmd, stdout: stdout, stderr: stderr}, nil
}

type localProcess struct {
	cmd    *exec.Cmd
	stdout io.Reader
	stderr io.Reader
}

func (p *localProcess) Stdout() io.Reader { return p.stdout }
func (p *localProcess) Stderr() io.Reader { return p.stderr }

// Wait reports the process exit code. A non-zero exit is a runtime
// failure of the scripts, not a transport error, so it comes back as a
// code with a nil error.
func (p *localProcess) Wait() (int, error) {
	err := p.cmd.Wait()
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	return -1, err
}

// commandFor picks the deploy or destroy invocation; destroy mode feeds
// the confirmation phrase to the script's stdin.
func commandFor(cfg config.RunnerConfig, mode domain.RunMode) (argv []string, stdin string) {
	if mode == domain.RunModeUnwind {
		if cfg.DestroyConfirmation != "" {
			stdin = cfg.DestroyConfirmation + "\n"
		}
		return cfg.DestroyCommand, stdin
	}
	return cfg.DeployCommand, ""
}
