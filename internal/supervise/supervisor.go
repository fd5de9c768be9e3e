package supervise

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/tokensweep/tokensweep/internal/metrics"
	"github.com/tokensweep/tokensweep/internal/remote"
	"github.com/tokensweep/tokensweep/internal/sample"
	"github.com/tokensweep/tokensweep/internal/status"
	"github.com/tokensweep/tokensweep/pkg/models"
)

const (
	defaultProbeInterval = 250 * time.Millisecond
	defaultHealthTimeout = 5 * time.Second
	defaultGracePeriod   = 5 * time.Second
)

// Supervisor prepares a fleet of targets for load: managed ones are
// built, started and health-gated, external ones only probed. A target
// that fails any phase comes back unhealthy instead of failing the
// fleet, so the remaining targets still get benchmarked.
type Supervisor struct {
	logger        *slog.Logger
	bus           *status.Bus
	client        *http.Client
	providerName  string
	interval      time.Duration
	ringSize      int
	probeInterval time.Duration
	healthTimeout time.Duration
	grace         time.Duration
	pidDir        string
	sshExec       *remote.Executor

	// newStrategy is swapped out in tests
	newStrategy func(models.Target, strategyConfig) (LaunchStrategy, error)
}

// Option configures the Supervisor
type Option func(*Supervisor)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Supervisor) {
		s.logger = logger
	}
}

// WithBus publishes launch progress and resource samples to a status bus
func WithBus(bus *status.Bus) Option {
	return func(s *Supervisor) {
		s.bus = bus
	}
}

// WithHTTPClient sets the client used for health probes
func WithHTTPClient(client *http.Client) Option {
	return func(s *Supervisor) {
		s.client = client
	}
}

// WithSamplerSettings configures the resource samplers attached to
// managed targets
func WithSamplerSettings(interval time.Duration, ringSize int, provider string) Option {
	return func(s *Supervisor) {
		if interval > 0 {
			s.interval = interval
		}
		if ringSize > 0 {
			s.ringSize = ringSize
		}
		if provider != "" {
			s.providerName = provider
		}
	}
}

// WithHealthGate configures the health polling cadence and deadline
func WithHealthGate(probeInterval, timeout time.Duration) Option {
	return func(s *Supervisor) {
		if probeInterval > 0 {
			s.probeInterval = probeInterval
		}
		if timeout > 0 {
			s.healthTimeout = timeout
		}
	}
}

// WithGracePeriod sets how long teardown waits between SIGTERM and SIGKILL
func WithGracePeriod(d time.Duration) Option {
	return func(s *Supervisor) {
		if d > 0 {
			s.grace = d
		}
	}
}

// WithPIDDir records launched PIDs on disk so a later invocation can
// clean up orphans. Empty disables pid files.
func WithPIDDir(dir string) Option {
	return func(s *Supervisor) {
		s.pidDir = dir
	}
}

// WithSSHExecutor sets the executor used for remote launches
func WithSSHExecutor(e *remote.Executor) Option {
	return func(s *Supervisor) {
		s.sshExec = e
	}
}

// New creates a supervisor
func New(opts ...Option) *Supervisor {
	s := &Supervisor{
		logger:        slog.Default(),
		client:        &http.Client{},
		providerName:  "auto",
		interval:      300 * time.Millisecond,
		ringSize:      2048,
		probeInterval: defaultProbeInterval,
		healthTimeout: defaultHealthTimeout,
		grace:         defaultGracePeriod,
		newStrategy:   newStrategy,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handle is one target prepared for load: launched and health-gated,
// or marked unhealthy with the reason recorded.
type Handle struct {
	Target  models.Target
	PID     int
	Sampler *sample.Sampler
	Err     string

	strategy LaunchStrategy
}

// Healthy reports whether the target passed its health gate
func (h *Handle) Healthy() bool {
	return h.Target.Health == models.HealthHealthy
}

// StartAll brings every target up concurrently. The returned slice is
// parallel to targets; unhealthy entries carry their failure reason.
// Local target logs are written under logDir when it is non-empty.
func (s *Supervisor) StartAll(ctx context.Context, runID string, targets []models.Target, logDir string) []*Handle {
	handles := make([]*Handle, len(targets))
	var wg sync.WaitGroup
	for i, target := range targets {
		wg.Add(1)
		go func(i int, target models.Target) {
			defer wg.Done()
			handles[i] = s.startOne(ctx, runID, target, logDir)
		}(i, target)
	}
	wg.Wait()
	return handles
}

func (s *Supervisor) startOne(ctx context.Context, runID string, target models.Target, logDir string) *Handle {
	logger := s.logger.With(slog.String("target_id", target.ID))
	handle := &Handle{Target: target}

	if !target.Managed() {
		if err := s.awaitHealthy(ctx, target.HealthURL()); err != nil {
			return s.failHandle(handle, runID, ErrUnhealthy, err, logger)
		}
		handle.Target.Health = models.HealthHealthy
		metrics.RecordTargetLaunch("ok")
		s.publishLog(runID, "info", target.ID, "external target healthy")
		return handle
	}

	strategy, err := s.newStrategy(target, s.strategyConfig(logDir))
	if err != nil {
		return s.failHandle(handle, runID, ErrLaunchFailed, err, logger)
	}
	handle.strategy = strategy

	logger.Info("building target")
	if err := strategy.Build(ctx); err != nil {
		s.terminateQuietly(handle)
		return s.failHandle(handle, runID, ErrBuildFailed, err, logger)
	}

	pid, err := strategy.Start(ctx)
	if err != nil {
		s.terminateQuietly(handle)
		return s.failHandle(handle, runID, ErrLaunchFailed, err, logger)
	}
	handle.PID = pid
	logger.Info("target started", slog.Int("pid", pid))

	if err := s.awaitHealthy(ctx, target.HealthURL()); err != nil {
		s.terminateQuietly(handle)
		return s.failHandle(handle, runID, ErrUnhealthy, err, logger)
	}
	handle.Target.Health = models.HealthHealthy

	if provider := strategy.SampleProvider(); provider != nil {
		targetID := target.ID
		sampler := sample.NewSampler(provider,
			sample.WithLogger(s.logger),
			sample.WithInterval(s.interval),
			sample.WithRingSize(s.ringSize),
			sample.WithOnSample(func(rs models.ResourceSample) {
				s.publishSample(runID, targetID, rs)
			}),
		)
		sampler.Start(ctx, pid)
		handle.Sampler = sampler
	}

	metrics.RecordTargetLaunch("ok")
	logger.Info("target healthy", slog.Int("pid", pid))
	s.publishLog(runID, "info", target.ID, fmt.Sprintf("target healthy (pid %d)", pid))
	return handle
}

// StopAll tears down every launched target and its sampler. Runs on
// every exit path, success or not.
func (s *Supervisor) StopAll(handles []*Handle) {
	var wg sync.WaitGroup
	for _, handle := range handles {
		if handle == nil {
			continue
		}
		wg.Add(1)
		go func(h *Handle) {
			defer wg.Done()
			if h.Sampler != nil {
				h.Sampler.Stop()
			}
			s.terminateQuietly(h)
		}(handle)
	}
	wg.Wait()
}

func (s *Supervisor) strategyConfig(logDir string) strategyConfig {
	return strategyConfig{
		logDir:       logDir,
		pidDir:       s.pidDir,
		grace:        s.grace,
		providerName: s.providerName,
		logger:       s.logger,
		sshExec:      s.sshExec,
	}
}

func (s *Supervisor) failHandle(handle *Handle, runID string, sentinel, cause error, logger *slog.Logger) *Handle {
	handle.Target.Health = models.HealthUnhealthy
	handle.Err = fmt.Sprintf("%v: %v", sentinel, cause)
	logger.Error("target lost before load", slog.String("error", handle.Err))
	metrics.RecordTargetLaunch(launchOutcome(sentinel))
	s.publishLog(runID, "error", handle.Target.ID, handle.Err)
	return handle
}

// terminateQuietly runs teardown with its own deadline; the run's
// context may already be cancelled by the time we get here.
func (s *Supervisor) terminateQuietly(handle *Handle) {
	if handle.strategy == nil {
		return
	}
	strategy := handle.strategy
	handle.strategy = nil

	ctx, cancel := context.WithTimeout(context.Background(), s.grace+10*time.Second)
	defer cancel()
	if err := strategy.Terminate(ctx); err != nil {
		s.logger.Warn("target teardown failed",
			slog.String("target_id", handle.Target.ID),
			slog.String("error", err.Error()))
	}
}

func launchOutcome(sentinel error) string {
	switch {
	case errors.Is(sentinel, ErrBuildFailed):
		return "build_failed"
	case errors.Is(sentinel, ErrLaunchFailed):
		return "launch_failed"
	default:
		return "unhealthy"
	}
}

func (s *Supervisor) publishLog(runID, level, targetID, msg string) {
	if s.bus == nil || runID == "" {
		return
	}
	s.bus.Publish(runID, status.EventLog, status.LogPayload{
		Level:    level,
		Message:  msg,
		TargetID: targetID,
	})
}

func (s *Supervisor) publishSample(runID, targetID string, rs models.ResourceSample) {
	if s.bus == nil || runID == "" {
		return
	}
	s.bus.Publish(runID, status.EventResourceSample, status.SamplePayload{
		TargetID: targetID,
		Sample:   rs,
	})
}
