//go:build !windows

package supervise

import (
	"os/exec"
	"syscall"
)

// configureSysProc places the child in its own process group so
// teardown can signal the whole tree at once.
func configureSysProc(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// terminateTree signals the child's process group. Negative PID
// targets the group; graceful sends SIGTERM, otherwise SIGKILL.
func terminateTree(pid int, graceful bool) {
	sig := syscall.SIGKILL
	if graceful {
		sig = syscall.SIGTERM
	}
	_ = syscall.Kill(-pid, sig)
}

// processAlive reports whether pid still exists. EPERM means the
// process is there but owned by someone else.
func processAlive(pid int) bool {
	err := syscall.Kill(pid, 0)
	return err == nil || err == syscall.EPERM
}
