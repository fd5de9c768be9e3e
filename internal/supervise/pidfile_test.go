package supervise

import (
	"context"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireUnix(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("process tree tests rely on POSIX signals")
	}
}

func TestCleanOrphansMissingDir(t *testing.T) {
	assert.Equal(t, 0, CleanOrphans(filepath.Join(t.TempDir(), "nope"), nil))
}

func TestCleanOrphansGarbageFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "junk.pid"), []byte("not-a-pid"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("keep me"), 0644))

	assert.Equal(t, 0, CleanOrphans(dir, slog.Default()))

	_, err := os.Stat(filepath.Join(dir, "junk.pid"))
	assert.True(t, os.IsNotExist(err), "garbage pid file must be removed")
	_, err = os.Stat(filepath.Join(dir, "notes.txt"))
	assert.NoError(t, err, "non-pid files stay untouched")
}

func TestCleanOrphansDeadProcess(t *testing.T) {
	requireUnix(t)
	dir := t.TempDir()

	// Run something to completion so we hold a PID that is certainly dead
	cmd := exec.Command("sh", "-c", "exit 0")
	require.NoError(t, cmd.Run())
	deadPID := cmd.ProcessState.Pid()

	path := pidFilePath(dir, "stale")
	require.NoError(t, writePIDFile(path, deadPID))

	assert.Equal(t, 0, CleanOrphans(dir, slog.Default()))
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestCleanOrphansKillsLiveProcess(t *testing.T) {
	requireUnix(t)
	dir := t.TempDir()

	cmd := exec.Command("sleep", "60")
	configureSysProc(cmd)
	require.NoError(t, cmd.Start())
	go func() { _ = cmd.Wait() }()

	require.NoError(t, writePIDFile(pidFilePath(dir, "orphan"), cmd.Process.Pid))

	assert.Equal(t, 1, CleanOrphans(dir, slog.Default()))
	assert.Eventually(t, func() bool {
		return !processAlive(cmd.Process.Pid)
	}, 3*time.Second, 20*time.Millisecond, "orphan must be killed")
}

func TestLocalProcessLifecycle(t *testing.T) {
	requireUnix(t)
	dir := t.TempDir()

	p := &localProcess{
		id:      "victim",
		argv:    []string{"sh", "-c", "sleep 60"},
		logPath: filepath.Join(dir, "victim.log"),
		pidPath: filepath.Join(dir, "victim.pid"),
		grace:   200 * time.Millisecond,
		logger:  slog.Default(),
	}

	pid, err := p.start(context.Background())
	require.NoError(t, err)
	require.Greater(t, pid, 0)
	assert.True(t, processAlive(pid))

	raw, err := os.ReadFile(p.pidPath)
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(pid)+"\n", string(raw))

	require.NoError(t, p.terminate(context.Background()))
	assert.False(t, processAlive(pid))

	_, err = os.Stat(p.pidPath)
	assert.True(t, os.IsNotExist(err), "pid file cleaned on terminate")

	// Idempotent
	require.NoError(t, p.terminate(context.Background()))
}

func TestLocalProcessCapturesOutput(t *testing.T) {
	requireUnix(t)
	dir := t.TempDir()

	p := &localProcess{
		id:      "echoer",
		argv:    []string{"sh", "-c", "echo served on stdout; echo served on stderr >&2"},
		logPath: filepath.Join(dir, "echoer.log"),
		grace:   100 * time.Millisecond,
		logger:  slog.Default(),
	}

	_, err := p.start(context.Background())
	require.NoError(t, err)
	<-p.waitDone

	require.NoError(t, p.terminate(context.Background()))
	raw, err := os.ReadFile(p.logPath)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "served on stdout")
	assert.Contains(t, string(raw), "served on stderr")
}

func TestLocalProcessEmptyArgv(t *testing.T) {
	p := &localProcess{id: "empty", logger: slog.Default()}
	_, err := p.start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty argv")
}
