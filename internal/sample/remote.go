package sample

import (
	"context"
	"fmt"
)

// FileReader reads small files from a possibly remote filesystem
type FileReader interface {
	ReadFile(ctx context.Context, path string) ([]byte, error)
}

// remoteProcProvider parses /proc files fetched through a FileReader,
// typically backed by an SSH connection to the target's host.
type remoteProcProvider struct {
	reader         FileReader
	ticksPerSecond float64
	pageSize       uint64
}

// NewRemoteProcProvider returns a provider that samples a process on
// whatever host the reader is connected to. The remote host must run
// Linux with procfs mounted.
func NewRemoteProcProvider(reader FileReader) Provider {
	return &remoteProcProvider{
		reader:         reader,
		ticksPerSecond: 100,
		// Assume 4 KiB pages on the remote host; true for the
		// mainstream amd64 and arm64 server kernels
		pageSize: 4096,
	}
}

func (p *remoteProcProvider) Sample(ctx context.Context, pid int) (Stats, error) {
	statRaw, err := p.reader.ReadFile(ctx, fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return Stats{}, fmt.Errorf("read stat: %w", err)
	}
	cpuTime, err := parseProcStat(string(statRaw), p.ticksPerSecond)
	if err != nil {
		return Stats{}, fmt.Errorf("parse stat: %w", err)
	}

	statmRaw, err := p.reader.ReadFile(ctx, fmt.Sprintf("/proc/%d/statm", pid))
	if err != nil {
		return Stats{}, fmt.Errorf("read statm: %w", err)
	}
	rssPages, err := parseProcStatm(string(statmRaw))
	if err != nil {
		return Stats{}, fmt.Errorf("parse statm: %w", err)
	}

	return Stats{
		CPUTime:  cpuTime,
		RSSBytes: rssPages * p.pageSize,
	}, nil
}
