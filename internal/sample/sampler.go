package sample

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/tokensweep/tokensweep/internal/metrics"
	"github.com/tokensweep/tokensweep/pkg/models"
)

const (
	defaultInterval = 300 * time.Millisecond
	defaultRingSize = 2048
)

// Sampler polls one process at a fixed interval and keeps the most recent
// samples in a ring buffer. CPU percent is derived from the delta between
// consecutive readings, so the first tick only establishes a baseline.
// Failed readings are counted and skipped, never fatal.
type Sampler struct {
	provider Provider
	logger   *slog.Logger
	interval time.Duration
	ringSize int
	onSample func(models.ResourceSample)

	mu       sync.Mutex
	ring     []models.ResourceSample
	head     int
	count    int
	lastCPU  time.Duration
	lastWall time.Time
	haveLast bool

	cancel context.CancelFunc
	done   chan struct{}
}

// SamplerOption configures a Sampler
type SamplerOption func(*Sampler)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) SamplerOption {
	return func(s *Sampler) {
		s.logger = logger
	}
}

// WithInterval sets the polling cadence
func WithInterval(interval time.Duration) SamplerOption {
	return func(s *Sampler) {
		if interval > 0 {
			s.interval = interval
		}
	}
}

// WithRingSize caps how many samples are retained
func WithRingSize(size int) SamplerOption {
	return func(s *Sampler) {
		if size > 0 {
			s.ringSize = size
		}
	}
}

// WithOnSample registers a callback invoked for every recorded sample,
// used to feed the live status stream.
func WithOnSample(fn func(models.ResourceSample)) SamplerOption {
	return func(s *Sampler) {
		s.onSample = fn
	}
}

// NewSampler creates a sampler around the given provider
func NewSampler(provider Provider, opts ...SamplerOption) *Sampler {
	s := &Sampler{
		provider: provider,
		logger:   slog.Default(),
		interval: defaultInterval,
		ringSize: defaultRingSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.ring = make([]models.ResourceSample, s.ringSize)
	return s
}

// Start begins sampling pid in a background goroutine until the context
// is cancelled or Stop is called. Start must be called at most once.
func (s *Sampler) Start(ctx context.Context, pid int) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.poll(ctx, pid)
			}
		}
	}()
}

// Stop halts sampling and waits for the polling goroutine to exit. Safe
// to call when the sampler never started.
func (s *Sampler) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
}

func (s *Sampler) poll(ctx context.Context, pid int) {
	stats, err := s.provider.Sample(ctx, pid)
	now := time.Now()
	if err != nil {
		metrics.RecordSampleSkipped()
		s.logger.Debug("resource sample skipped", "pid", pid, "error", err)
		return
	}

	var recorded *models.ResourceSample
	s.mu.Lock()
	if s.haveLast {
		wallDelta := now.Sub(s.lastWall)
		if wallDelta > 0 {
			cpuPct := (stats.CPUTime - s.lastCPU).Seconds() / wallDelta.Seconds() * 100
			if cpuPct < 0 {
				cpuPct = 0
			}
			sample := models.ResourceSample{
				TimestampMs: now.UnixMilli(),
				CPUPercent:  cpuPct,
				RSSBytes:    stats.RSSBytes,
			}
			s.push(sample)
			recorded = &sample
		}
	}
	s.lastCPU = stats.CPUTime
	s.lastWall = now
	s.haveLast = true
	s.mu.Unlock()

	if recorded != nil && s.onSample != nil {
		s.onSample(*recorded)
	}
}

func (s *Sampler) push(sample models.ResourceSample) {
	s.ring[s.head] = sample
	s.head = (s.head + 1) % s.ringSize
	if s.count < s.ringSize {
		s.count++
	}
}

// Snapshot returns the retained samples, oldest first
func (s *Sampler) Snapshot() []models.ResourceSample {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.ResourceSample, 0, s.count)
	start := (s.head - s.count + s.ringSize) % s.ringSize
	for i := 0; i < s.count; i++ {
		out = append(out, s.ring[(start+i)%s.ringSize])
	}
	return out
}

// SummarizeSince folds the retained samples taken at or after cutoffMs
// into a summary, or nil when none qualify.
func (s *Sampler) SummarizeSince(cutoffMs int64) *models.ResourceSummary {
	all := s.Snapshot()
	window := all[:0:0]
	for _, sm := range all {
		if sm.TimestampMs >= cutoffMs {
			window = append(window, sm)
		}
	}
	return Summarize(window)
}

// Summarize folds a sample series into its summary, or nil when empty
func Summarize(samples []models.ResourceSample) *models.ResourceSummary {
	if len(samples) == 0 {
		return nil
	}

	out := &models.ResourceSummary{Samples: len(samples)}
	var cpuSum, rssSum float64
	for _, sm := range samples {
		cpuSum += sm.CPUPercent
		rssSum += float64(sm.RSSBytes)
		if sm.CPUPercent > out.MaxCPUPercent {
			out.MaxCPUPercent = sm.CPUPercent
		}
		if sm.RSSBytes > out.MaxRSSBytes {
			out.MaxRSSBytes = sm.RSSBytes
		}
	}
	out.AvgCPUPercent = cpuSum / float64(len(samples))
	out.AvgRSSBytes = uint64(rssSum / float64(len(samples)))
	return out
}
