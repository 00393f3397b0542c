package runner

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/pipedash/backend/internal/config"
	"github.com/pipedash/backend/internal/core/ports"
	"github.com/pipedash/backend/internal/domain"
	"github.com/pipedash/backend/internal/infrastructure/logger"
	"github.com/pipedash/backend/internal/infrastructure/remote"
)

// RemoteRunner executes the deployment scripts on a remote operations
// host over SSH. The streaming contract is identical to the local runner.
type RemoteRunner struct {
	cfg config.RunnerConfig
	log *logger.Logger
}

func NewRemoteRunner(cfg config.RunnerConfig, log *logger.Logger) *RemoteRunner {
	return &RemoteRunner{cfg: cfg, log: log}
}

func (r *RemoteRunner) client() (*remote.SSHClient, error) {
	key, err := remote.LoadPrivateKey(r.cfg.SSH.KeyFile)
	if err != nil {
		return nil, err
	}
	return remote.NewSSHClient(remote.SSHConfig{
		Host:       r.cfg.SSH.Host,
		Port:       r.cfg.SSH.Port,
		User:       r.cfg.SSH.User,
		Password:   r.cfg.SSH.Password,
		PrivateKey: key,
		Timeout:    r.cfg.SSH.Timeout,
		MaxRetries: r.cfg.SSH.MaxRetries,
	}), nil
}

func (r *RemoteRunner) Start(ctx context.Context, mode domain.RunMode) (ports.RunnerProcess, error) {
	argv, stdin := commandFor(r.cfg, mode)
	if len(argv) == 0 {
		return nil, ErrNoCommand
	}

	client, err := r.client()
	if err != nil {
		return nil, err
	}

	cmd := strings.Join(argv, " ")
	if r.cfg.WorkDir != "" {
		cmd = fmt.Sprintf("cd %s && %s", r.cfg.WorkDir, cmd)
	}

	session, err := client.StartStream(cmd, stdin)
	if err != nil {
		return nil, err
	}
	r.log.Infow("runner_started_remote", "mode", mode, "host", r.cfg.SSH.Host, "command", cmd)

	// The SSH session does not inherit ctx; closing it on cancel kills
	// the remote command the same way CommandContext does locally.
	done := make(chan struct{})
	proc := &remoteProcess{session: session, done: done}
	go func() {
		select {
		case <-ctx.Done():
			session.Close()
		case <-done:
		}
	}()

	return proc, nil
}

// FetchLogArtifact downloads the runner's log file from the remote host.
func (r *RemoteRunner) FetchLogArtifact() ([]byte, error) {
	if r.cfg.RemoteLogPath == "" {
		return nil, fmt.Errorf("no remote log path configured")
	}
	client, err := r.client()
	if err != nil {
		return nil, err
	}
	return client.FetchFile(r.cfg.RemoteLogPath)
}

type remoteProcess struct {
	session *remote.StreamSession
	done    chan struct{}
}

func (p *remoteProcess) Stdout() io.Reader { return p.session.Stdout() }
func (p *remoteProcess) Stderr() io.Reader { return p.session.Stderr() }

func (p *remoteProcess) Wait() (int, error) {
	code, err := p.session.Wait()
	close(p.done)
	p.session.Close()
	return code, err
}
