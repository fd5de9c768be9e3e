package supervise

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"time"
)

// localProcess owns one child process plus its log file and pid file.
// Both the go-tool and prebuilt-command strategies delegate to it.
type localProcess struct {
	id      string
	argv    []string
	dir     string
	env     []string
	logPath string
	pidPath string
	grace   time.Duration
	logger  *slog.Logger

	cmd      *exec.Cmd
	logFile  *os.File
	waitDone chan struct{}
}

func (p *localProcess) start(ctx context.Context) (int, error) {
	if len(p.argv) == 0 {
		return 0, fmt.Errorf("empty argv for target %s", p.id)
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	if p.logPath != "" {
		if err := os.MkdirAll(filepath.Dir(p.logPath), 0755); err != nil {
			return 0, fmt.Errorf("failed to create log directory: %w", err)
		}
		f, err := os.Create(p.logPath)
		if err != nil {
			return 0, fmt.Errorf("failed to create log file: %w", err)
		}
		p.logFile = f
	}

	cmd := exec.Command(p.argv[0], p.argv[1:]...)
	cmd.Dir = p.dir
	cmd.Env = append(os.Environ(), p.env...)
	if p.logFile != nil {
		cmd.Stdout = p.logFile
		cmd.Stderr = p.logFile
	}
	configureSysProc(cmd)

	if err := cmd.Start(); err != nil {
		p.closeLog()
		return 0, err
	}
	p.cmd = cmd

	// Reap the child whenever it exits so it never lingers as a zombie
	p.waitDone = make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(p.waitDone)
	}()

	if p.pidPath != "" {
		if err := writePIDFile(p.pidPath, cmd.Process.Pid); err != nil {
			p.logger.Warn("failed to write pid file",
				slog.String("target_id", p.id),
				slog.String("error", err.Error()))
		}
	}
	return cmd.Process.Pid, nil
}

// terminate stops the process group, escalating from SIGTERM to
// SIGKILL after the grace period. Idempotent.
func (p *localProcess) terminate(ctx context.Context) error {
	defer func() {
		p.closeLog()
		removePIDFile(p.pidPath)
	}()

	if p.cmd == nil || p.cmd.Process == nil {
		return nil
	}
	pid := p.cmd.Process.Pid
	p.cmd = nil

	terminateTree(pid, true)
	select {
	case <-p.waitDone:
		return nil
	case <-time.After(p.grace):
	case <-ctx.Done():
	}

	terminateTree(pid, false)
	select {
	case <-p.waitDone:
	case <-time.After(2 * time.Second):
		return fmt.Errorf("target %s (pid %d) survived SIGKILL", p.id, pid)
	}
	return nil
}

func (p *localProcess) closeLog() {
	if p.logFile != nil {
		_ = p.logFile.Close()
		p.logFile = nil
	}
}
