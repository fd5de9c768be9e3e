// Package sample collects per-process CPU and memory usage at a fixed
// cadence while benchmark tiers run against managed targets.
package sample

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"time"
)

// Stats is one raw reading of a process's cumulative CPU time and
// resident set size.
type Stats struct {
	CPUTime  time.Duration
	RSSBytes uint64
}

// Provider reads raw stats for one process. Errors mark a transient miss;
// the sampler skips that tick and keeps going.
type Provider interface {
	Sample(ctx context.Context, pid int) (Stats, error)
}

// NewProvider selects a provider by name: "proc" reads the /proc
// filesystem, "ps" shells out to ps, and "auto" picks per platform.
func NewProvider(name string, logger *slog.Logger) (Provider, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch name {
	case "proc":
		return newProcProvider(), nil
	case "ps":
		return newPSProvider(logger), nil
	case "", "auto":
		if runtime.GOOS == "linux" {
			return newProcProvider(), nil
		}
		return newPSProvider(logger), nil
	default:
		return nil, fmt.Errorf("unknown sample provider %q", name)
	}
}
