package remote

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

var (
	ErrSSHConnection     = errors.New("ssh: connection failed")
	ErrSSHAuthentication = errors.New("ssh: authentication failed")
	ErrSSHCommandFailed  = errors.New("ssh: command execution failed")
)

type SSHConfig struct {
	Host       string
	Port       int
	User       string
	Password   string
	PrivateKey string
	Timeout    time.Duration
	MaxRetries int
}

type SSHClient struct {
	config SSHConfig
}

func NewSSHClient(cfg SSHConfig) *SSHClient {
	if cfg.Port == 0 {
		cfg.Port = 22
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 5
	}
	return &SSHClient{config: cfg}
}

func (c *SSHClient) getAuthMethods() ([]ssh.AuthMethod, error) {
	var authMethods []ssh.AuthMethod

	if c.config.PrivateKey != "" {
		signer, err := ssh.ParsePrivateKey([]byte(c.config.PrivateKey))
		if err != nil {
			return nil, fmt.Errorf("%w: invalid private key", ErrSSHAuthentication)
		}
		authMethods = append(authMethods, ssh.PublicKeys(signer))
	}

	if c.config.Password != "" {
		authMethods = append(authMethods, ssh.Password(c.config.Password))
	}

	if len(authMethods) == 0 {
		return nil, fmt.Errorf("%w: no credentials provided", ErrSSHAuthentication)
	}

	return authMethods, nil
}

// ConnectWithRetry dials the operations host with linear backoff between
// attempts. Deploy runs can start right after the host boots, so transient
// connection refusals are expected.
func (c *SSHClient) ConnectWithRetry() (*ssh.Client, error) {
	authMethods, err := c.getAuthMethods()
	if err != nil {
		return nil, err
	}

	sshConfig := &ssh.ClientConfig{
		User:            c.config.User,
		Auth:            authMethods,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         c.config.Timeout,
	}

	addr := fmt.Sprintf("%s:%d", c.config.Host, c.config.Port)
	var connectErr error

	for attempt := 1; attempt <= c.config.MaxRetries; attempt++ {
		dialer := net.Dialer{
			Timeout:   c.config.Timeout,
			KeepAlive: 60 * time.Second,
		}

		conn, err := dialer.Dial("tcp", addr)
		if err != nil {
			connectErr = err
		} else {
			conn.SetDeadline(time.Now().Add(c.config.Timeout))

			sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, sshConfig)
			if err != nil {
				conn.Close()
				connectErr = err
			} else {
				// Clear the deadline for the long-running session.
				conn.SetDeadline(time.Time{})
				return ssh.NewClient(sshConn, chans, reqs), nil
			}
		}

		if attempt < c.config.MaxRetries {
			time.Sleep(time.Duration(attempt*3) * time.Second)
		}
	}

	return nil, fmt.Errorf("%w: %v (after %d attempts)", ErrSSHConnection, connectErr, c.config.MaxRetries)
}

// StreamSession is a remote command whose output is consumed incrementally.
// Close must be called after Wait to release the connection.
type StreamSession struct {
	client  *ssh.Client
	session *ssh.Session
	stdout  io.Reader
	stderr  io.Reader
}

func (s *StreamSession) Stdout() io.Reader { return s.stdout }
func (s *StreamSession) Stderr() io.Reader { return s.stderr }

// Wait blocks until the remote command exits and reports its exit status.
// A remote non-zero exit is a normal outcome here, not an error.
func (s *StreamSession) Wait() (int, error) {
	err := s.session.Wait()
	if err == nil {
		return 0, nil
	}
	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitStatus(), nil
	}
	return -1, fmt.Errorf("%w: %v", ErrSSHCommandFailed, err)
}

func (s *StreamSession) Close() error {
	s.session.Close()
	return s.client.Close()
}

// StartStream launches cmd on the remote host and returns a handle whose
// stdout/stderr deliver output in emission order. stdin, when non-empty,
// is written to the remote command and closed.
func (c *SSHClient) StartStream(cmd string, stdin string) (*StreamSession, error) {
	client, err := c.ConnectWithRetry()
	if err != nil {
		return nil, err
	}

	session, err := client.NewSession()
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: failed to create session", ErrSSHConnection)
	}

	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		client.Close()
		return nil, err
	}
	stderr, err := session.StderrPipe()
	if err != nil {
		session.Close()
		client.Close()
		return nil, err
	}

	if stdin != "" {
		in, err := session.StdinPipe()
		if err != nil {
			session.Close()
			client.Close()
			return nil, err
		}
		go func() {
			io.WriteString(in, stdin)
			in.Close()
		}()
	}

	if err := session.Start(cmd); err != nil {
		session.Close()
		client.Close()
		return nil, fmt.Errorf("%w: %v", ErrSSHCommandFailed, err)
	}

	return &StreamSession{
		client:  client,
		session: session,
		stdout:  stdout,
		stderr:  stderr,
	}, nil
}

// FetchFile downloads a remote file (the runner's deployment log artifact)
// over SFTP.
func (c *SSHClient) FetchFile(remotePath string) ([]byte, error) {
	client, err := c.ConnectWithRetry()
	if err != nil {
		return nil, err
	}
	defer client.Close()

	sftpClient, err := sftp.NewClient(client)
	if err != nil {
		return nil, fmt.Errorf("failed to create sftp client: %w", err)
	}
	defer sftpClient.Close()

	f, err := sftpClient.Open(remotePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open remote file %s: %w", remotePath, err)
	}
	defer f.Close()

	return io.ReadAll(f)
}

// LoadPrivateKey reads a private key file for SSH auth, returning an empty
// string when no path is configured.
func LoadPrivateKey(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("%w: cannot read key file: %v", ErrSSHAuthentication, err)
	}
	return string(data), nil
}
