package supervise

import (
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

func pidFilePath(dir, targetID string) string {
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, targetID+".pid")
}

func writePIDFile(path string, pid int) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(pid)+"\n"), 0644)
}

func removePIDFile(path string) {
	if path != "" {
		_ = os.Remove(path)
	}
}

// CleanOrphans kills target processes recorded in pid files left behind
// by a harness that exited without teardown, and removes the files.
// Returns how many live processes were killed.
func CleanOrphans(dir string, logger *slog.Logger) int {
	if logger == nil {
		logger = slog.Default()
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		// Missing directory means nothing to clean
		return 0
	}

	killed := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".pid") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		raw, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		pid, err := strconv.Atoi(strings.TrimSpace(string(raw)))
		if err != nil || pid <= 1 {
			_ = os.Remove(path)
			continue
		}
		if processAlive(pid) {
			logger.Warn("killing orphaned target process",
				slog.Int("pid", pid),
				slog.String("pid_file", entry.Name()))
			terminateTree(pid, false)
			killed++
		}
		_ = os.Remove(path)
	}
	return killed
}
