package supervise

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/tokensweep/tokensweep/internal/remote"
	"github.com/tokensweep/tokensweep/internal/sample"
	"github.com/tokensweep/tokensweep/pkg/models"
)

const defaultRemoteDir = "/tmp/tokensweep"

// remoteStrategy cross-compiles the target, ships it over SFTP and
// starts it detached on another host.
type remoteStrategy struct {
	target models.Target
	launch *models.LaunchSpec
	spec   *models.RemoteSpec
	exec   *remote.Executor
	logger *slog.Logger
	grace  time.Duration

	conn     *remote.Connection
	localBin string
	buildTmp string
	pid      int
}

func newRemoteStrategy(target models.Target, cfg strategyConfig) (*remoteStrategy, error) {
	ex := cfg.sshExec
	if ex == nil {
		ex = remote.NewExecutor()
	}
	return &remoteStrategy{
		target: target,
		launch: target.Launch,
		spec:   target.Launch.Remote,
		exec:   ex,
		logger: cfg.logger,
		grace:  cfg.grace,
	}, nil
}

func (r *remoteStrategy) remoteDir() string {
	if r.spec.RemoteDir != "" {
		return r.spec.RemoteDir
	}
	return defaultRemoteDir
}

// Build cross-compiles for the remote platform. Without a build dir the
// first command element is shipped as a prebuilt binary.
func (r *remoteStrategy) Build(ctx context.Context) error {
	if r.launch.BuildDir == "" {
		if len(r.launch.Command) == 0 {
			return fmt.Errorf("remote launch for %s needs build_dir or command", r.target.ID)
		}
		r.localBin = r.launch.Command[0]
		if _, err := os.Stat(r.localBin); err != nil {
			return fmt.Errorf("prebuilt binary: %w", err)
		}
		return nil
	}

	tmp, err := os.MkdirTemp("", "tokensweep-build-")
	if err != nil {
		return fmt.Errorf("failed to create build directory: %w", err)
	}
	r.buildTmp = tmp

	goos := r.spec.GOOS
	if goos == "" {
		goos = "linux"
	}
	goarch := r.spec.GOARCH
	if goarch == "" {
		goarch = "amd64"
	}

	binPath := filepath.Join(tmp, r.target.ID)
	if err := buildGoPackage(ctx, r.launch.BuildDir, binPath, goos, goarch); err != nil {
		return err
	}
	r.localBin = binPath
	return nil
}

func (r *remoteStrategy) Start(ctx context.Context) (int, error) {
	conn, err := r.exec.Dial(ctx, r.spec)
	if err != nil {
		return 0, err
	}
	r.conn = conn

	if err := r.exec.CheckHealth(ctx, conn); err != nil {
		r.closeConn()
		return 0, err
	}

	remoteBin := path.Join(r.remoteDir(), r.target.ID)
	if err := r.exec.Upload(ctx, conn, r.localBin, remoteBin, true); err != nil {
		r.closeConn()
		return 0, fmt.Errorf("deploy failed: %w", err)
	}

	logPath := remoteBin + ".log"
	cmd := buildNohupCommand(r.remoteDir(), remoteBin, r.launch.Command, r.launch.Env, logPath)
	stdout, err := r.exec.CombinedOutput(ctx, conn, cmd)
	if err != nil {
		r.closeConn()
		return 0, fmt.Errorf("remote start failed: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(stdout))
	if err != nil || pid <= 0 {
		r.closeConn()
		return 0, fmt.Errorf("remote start returned %q instead of a pid", stdout)
	}
	r.pid = pid
	r.logger.Info("remote target started",
		slog.String("target_id", r.target.ID),
		slog.String("host", conn.Host()),
		slog.Int("pid", pid))
	return pid, nil
}

// buildNohupCommand assembles the detached start line. The trailing
// echo $! hands the child's PID back over the same session.
func buildNohupCommand(dir, bin string, argv, env []string, logPath string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "cd %q && ", dir)
	for _, kv := range env {
		fmt.Fprintf(&sb, "export %q && ", kv)
	}
	fmt.Fprintf(&sb, "nohup %q", bin)
	for i, arg := range argv {
		if i == 0 {
			// argv[0] is replaced by the deployed binary
			continue
		}
		fmt.Fprintf(&sb, " %q", arg)
	}
	fmt.Fprintf(&sb, " > %q 2>&1 & echo $!", logPath)
	return sb.String()
}

// SampleProvider watches the remote process through the same SSH
// connection the launch used
func (r *remoteStrategy) SampleProvider() sample.Provider {
	if r.conn == nil {
		return nil
	}
	return sample.NewRemoteProcProvider(remote.NewProcReader(r.exec, r.conn))
}

func (r *remoteStrategy) Terminate(ctx context.Context) error {
	defer func() {
		if r.buildTmp != "" {
			_ = os.RemoveAll(r.buildTmp)
			r.buildTmp = ""
		}
		r.closeConn()
	}()

	if r.conn == nil || r.pid == 0 {
		return nil
	}

	// The sleep runs server side, one round trip covers the whole
	// TERM-wait-KILL escalation
	grace := int(r.grace.Seconds())
	if grace < 1 {
		grace = 1
	}
	cmd := fmt.Sprintf("kill %d 2>/dev/null; sleep %d; kill -9 %d 2>/dev/null; true", r.pid, grace, r.pid)
	pid := r.pid
	r.pid = 0
	if _, err := r.exec.CombinedOutput(ctx, r.conn, cmd); err != nil {
		return fmt.Errorf("remote teardown of pid %d failed: %w", pid, err)
	}
	return nil
}

func (r *remoteStrategy) closeConn() {
	if r.conn != nil {
		_ = r.conn.Close()
		r.conn = nil
	}
}
