package sample

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

const psTimeout = 5 * time.Second

// psProvider shells out to ps, the portable fallback for platforms
// without a /proc filesystem.
type psProvider struct {
	logger *slog.Logger
}

func newPSProvider(logger *slog.Logger) *psProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &psProvider{logger: logger}
}

func (p *psProvider) Sample(ctx context.Context, pid int) (Stats, error) {
	ctx, cancel := context.WithTimeout(ctx, psTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "ps", "-o", "cputime=,rss=", "-p", strconv.Itoa(pid))
	output, err := cmd.Output()
	if err != nil {
		if ctx.Err() != nil {
			return Stats{}, fmt.Errorf("ps timed out after %s", psTimeout)
		}
		return Stats{}, fmt.Errorf("ps: %w", err)
	}

	return parsePSOutput(string(output))
}

// parsePSOutput parses "  00:01:23  45678" into cumulative CPU time and
// RSS, where ps reports rss in KiB.
func parsePSOutput(output string) (Stats, error) {
	fields := strings.Fields(strings.TrimSpace(output))
	if len(fields) != 2 {
		return Stats{}, fmt.Errorf("unexpected ps output: expected 2 fields, got %d", len(fields))
	}

	cpuTime, err := parseCPUTime(fields[0])
	if err != nil {
		return Stats{}, fmt.Errorf("cputime: %w", err)
	}
	rssKiB, err := strconv.ParseUint(fields[1], 10, 64)
	if err != nil {
		return Stats{}, fmt.Errorf("rss: %w", err)
	}

	return Stats{
		CPUTime:  cpuTime,
		RSSBytes: rssKiB * 1024,
	}, nil
}

// parseCPUTime handles the ps cputime formats [[dd-]hh:]mm:ss[.cc]
func parseCPUTime(raw string) (time.Duration, error) {
	days := 0
	if dash := strings.Index(raw, "-"); dash >= 0 {
		d, err := strconv.Atoi(raw[:dash])
		if err != nil {
			return 0, fmt.Errorf("days %q: %w", raw[:dash], err)
		}
		days = d
		raw = raw[dash+1:]
	}

	parts := strings.Split(raw, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("unexpected time format %q", raw)
	}

	var hours, minutes int
	var seconds float64
	var err error

	idx := 0
	if len(parts) == 3 {
		if hours, err = strconv.Atoi(parts[0]); err != nil {
			return 0, fmt.Errorf("hours %q: %w", parts[0], err)
		}
		idx = 1
	}
	if minutes, err = strconv.Atoi(parts[idx]); err != nil {
		return 0, fmt.Errorf("minutes %q: %w", parts[idx], err)
	}
	if seconds, err = strconv.ParseFloat(parts[idx+1], 64); err != nil {
		return 0, fmt.Errorf("seconds %q: %w", parts[idx+1], err)
	}

	total := time.Duration(days)*24*time.Hour +
		time.Duration(hours)*time.Hour +
		time.Duration(minutes)*time.Minute +
		time.Duration(seconds*float64(time.Second))
	return total, nil
}
