//go:build windows

package supervise

import (
	"os"
	"os/exec"
	"strconv"
)

func configureSysProc(cmd *exec.Cmd) {
	// Windows has no POSIX process groups; taskkill walks the tree instead
}

// terminateTree stops the process and its children. The graceful pass
// omits /F, the forced pass adds it.
func terminateTree(pid int, graceful bool) {
	args := []string{"/T", "/PID", strconv.Itoa(pid)}
	if !graceful {
		args = append(args, "/F")
	}
	_ = exec.Command("taskkill", args...).Run()
}

// processAlive reports whether pid still exists. Unlike Unix,
// FindProcess fails on Windows when the process is gone.
func processAlive(pid int) bool {
	_, err := os.FindProcess(pid)
	return err == nil
}
