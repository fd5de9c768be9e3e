// Package remote runs commands and ships files over SSH so the
// supervisor can launch targets on other hosts.
package remote

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/tokensweep/tokensweep/pkg/models"
)

const (
	// DefaultConnectTimeout bounds SSH connection establishment
	DefaultConnectTimeout = 30 * time.Second

	// DefaultCommandTimeout bounds command execution when the caller's
	// context carries no deadline of its own
	DefaultCommandTimeout = 60 * time.Second
)

// Connection is an established SSH connection to a benchmark host
type Connection struct {
	client *ssh.Client
	host   string
}

// Host returns the connection's host
func (c *Connection) Host() string {
	return c.host
}

// Close closes the SSH connection
func (c *Connection) Close() error {
	if c.client != nil {
		err := c.client.Close()
		c.client = nil
		return err
	}
	return nil
}

// Executor dials benchmark hosts and runs commands on them.
// Pattern: create one executor, dial per host, run commands, close when done.
type Executor struct {
	connectTimeout time.Duration
	commandTimeout time.Duration
}

// ExecutorOption configures the Executor
type ExecutorOption func(*Executor)

// WithConnectTimeout sets the connection timeout
func WithConnectTimeout(d time.Duration) ExecutorOption {
	return func(e *Executor) {
		e.connectTimeout = d
	}
}

// WithCommandTimeout sets the command execution timeout
func WithCommandTimeout(d time.Duration) ExecutorOption {
	return func(e *Executor) {
		e.commandTimeout = d
	}
}

// NewExecutor creates an executor with configurable timeouts
func NewExecutor(opts ...ExecutorOption) *Executor {
	e := &Executor{
		connectTimeout: DefaultConnectTimeout,
		commandTimeout: DefaultCommandTimeout,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Dial establishes an SSH connection to the host described by spec
func (e *Executor) Dial(ctx context.Context, spec *models.RemoteSpec) (*Connection, error) {
	if spec == nil {
		return nil, fmt.Errorf("remote spec cannot be nil")
	}
	if spec.Host == "" {
		return nil, fmt.Errorf("host cannot be empty")
	}
	if spec.User == "" {
		return nil, fmt.Errorf("user cannot be empty")
	}
	if spec.KeyFile == "" {
		return nil, fmt.Errorf("key file cannot be empty")
	}

	keyData, err := os.ReadFile(spec.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(keyData)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	config := &ssh.ClientConfig{
		User: spec.User,
		Auth: []ssh.AuthMethod{
			ssh.PublicKeys(signer),
		},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), // Benchmark hosts are ephemeral, host keys churn
		Timeout:         e.connectTimeout,
	}

	addr := address(spec)

	dialer := net.Dialer{Timeout: e.connectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("SSH handshake failed: %w", err)
	}

	return &Connection{
		client: ssh.NewClient(sshConn, chans, reqs),
		host:   spec.Host,
	}, nil
}

// address formats host:port, defaulting the SSH port
func address(spec *models.RemoteSpec) string {
	port := spec.Port
	if port <= 0 {
		port = 22
	}
	return fmt.Sprintf("%s:%d", spec.Host, port)
}

// RunCommand executes a command and returns stdout/stderr
func (e *Executor) RunCommand(ctx context.Context, conn *Connection, cmd string) (stdout, stderr string, err error) {
	if conn == nil || conn.client == nil {
		return "", "", fmt.Errorf("connection is nil or closed")
	}

	session, err := conn.client.NewSession()
	if err != nil {
		return "", "", fmt.Errorf("failed to create session: %w", err)
	}
	defer session.Close()

	var stdoutBuf, stderrBuf bytes.Buffer
	session.Stdout = &stdoutBuf
	session.Stderr = &stderrBuf

	cmdCtx := ctx
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		cmdCtx, cancel = context.WithTimeout(ctx, e.commandTimeout)
		defer cancel()
	}

	done := make(chan error, 1)
	go func() {
		done <- session.Run(cmd)
	}()

	select {
	case runErr := <-done:
		stdout = strings.TrimSpace(stdoutBuf.String())
		stderr = strings.TrimSpace(stderrBuf.String())
		return stdout, stderr, runErr
	case <-cmdCtx.Done():
		session.Signal(ssh.SIGKILL)
		return "", "", fmt.Errorf("command timed out: %w", cmdCtx.Err())
	}
}

// CombinedOutput runs a command and returns stdout; a failure error
// includes stderr when present
func (e *Executor) CombinedOutput(ctx context.Context, conn *Connection, cmd string) (string, error) {
	stdout, stderr, err := e.RunCommand(ctx, conn, cmd)
	if err != nil {
		if stderr != "" {
			return stdout, fmt.Errorf("%w: %s", err, stderr)
		}
		return stdout, err
	}
	return stdout, nil
}

// CheckHealth verifies the connection is responsive by running a simple command
func (e *Executor) CheckHealth(ctx context.Context, conn *Connection) error {
	stdout, stderr, err := e.RunCommand(ctx, conn, "echo ok")
	if err != nil {
		return fmt.Errorf("health check failed: %w (stderr: %s)", err, stderr)
	}
	if stdout != "ok" {
		return fmt.Errorf("health check returned unexpected output: %q", stdout)
	}
	return nil
}

// ReadFile retrieves file contents from the remote host
func (e *Executor) ReadFile(ctx context.Context, conn *Connection, path string) ([]byte, error) {
	if path == "" {
		return nil, fmt.Errorf("path cannot be empty")
	}

	// cat keeps this working for /proc files, which SFTP reads as empty
	stdout, stderr, err := e.RunCommand(ctx, conn, fmt.Sprintf("cat %q", path))
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w (stderr: %s)", path, err, stderr)
	}

	return []byte(stdout), nil
}
