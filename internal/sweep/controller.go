// Package sweep drives benchmark runs end to end: it brings targets up,
// walks the tier ladder against every healthy one, persists each result
// the moment it exists, and announces progress on the status bus.
package sweep

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tokensweep/tokensweep/internal/artifact"
	"github.com/tokensweep/tokensweep/internal/loadgen"
	"github.com/tokensweep/tokensweep/internal/metrics"
	"github.com/tokensweep/tokensweep/internal/status"
	"github.com/tokensweep/tokensweep/internal/supervise"
	"github.com/tokensweep/tokensweep/pkg/models"
)

const defaultMaxRuns = 4

var (
	// ErrTooManyRuns is returned when every concurrent run slot is taken
	ErrTooManyRuns = errors.New("too many concurrent runs")
	// ErrRunNotFound is returned for run IDs with no registry or store entry
	ErrRunNotFound = errors.New("run not found")
	// ErrRunFinished is returned when cancelling a run that already went terminal
	ErrRunFinished = errors.New("run already finished")
)

// Controller owns the lifecycle of benchmark runs. Each run executes in
// its own goroutine on a context detached from the caller, so an API
// request that starts a run can return immediately.
type Controller struct {
	supervisor *supervise.Supervisor
	generator  *loadgen.Generator
	store      *artifact.Store
	history    *artifact.History
	bus        *status.Bus
	logger     *slog.Logger

	mode       models.ExecutionMode
	runTimeout time.Duration
	maxRuns    int

	mu      sync.Mutex
	runs    map[string]*models.RunManifest
	cancels map[string]context.CancelFunc

	runSem chan struct{}
}

// Option configures a Controller
type Option func(*Controller)

// WithLogger sets the structured logger
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) {
		c.logger = logger
	}
}

// WithHistory enables saving finished runs to the sqlite history
func WithHistory(h *artifact.History) Option {
	return func(c *Controller) {
		c.history = h
	}
}

// WithBus sets the status bus run events are published on
func WithBus(b *status.Bus) Option {
	return func(c *Controller) {
		c.bus = b
	}
}

// WithMode sets the default execution mode for requests that leave it empty
func WithMode(mode models.ExecutionMode) Option {
	return func(c *Controller) {
		c.mode = mode
	}
}

// WithRunTimeout bounds the wall time of a single run. Zero means no limit.
func WithRunTimeout(d time.Duration) Option {
	return func(c *Controller) {
		c.runTimeout = d
	}
}

// WithMaxRuns caps how many runs may execute concurrently
func WithMaxRuns(n int) Option {
	return func(c *Controller) {
		if n > 0 {
			c.maxRuns = n
		}
	}
}

// NewController creates a run controller with the given dependencies
func NewController(supervisor *supervise.Supervisor, generator *loadgen.Generator, store *artifact.Store, opts ...Option) *Controller {
	c := &Controller{
		supervisor: supervisor,
		generator:  generator,
		store:      store,
		logger:     slog.Default(),
		mode:       models.ModeSequential,
		maxRuns:    defaultMaxRuns,
		runs:       make(map[string]*models.RunManifest),
		cancels:    make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.runSem = make(chan struct{}, c.maxRuns)
	return c
}

// RunRequest describes one benchmark run to execute
type RunRequest struct {
	// RunID names the run explicitly; empty means a generated ID
	RunID string `json:"run_id,omitempty"`

	Targets []models.Target `json:"targets"`

	// Tiers is the concurrency ladder; empty means the default series
	Tiers []models.Tier `json:"tiers,omitempty"`

	// Mode overrides the controller's default execution mode
	Mode models.ExecutionMode `json:"mode,omitempty"`

	// BaselineID names the target comparisons are computed against
	BaselineID string `json:"baseline_id,omitempty"`

	Stream models.StreamParams `json:"stream"`
}

func (r *RunRequest) validate() error {
	if len(r.Targets) == 0 {
		return errors.New("at least one target is required")
	}
	seen := make(map[string]bool, len(r.Targets))
	for i, t := range r.Targets {
		if t.ID == "" {
			return fmt.Errorf("target %d has no id", i)
		}
		if seen[t.ID] {
			return fmt.Errorf("duplicate target id %q", t.ID)
		}
		seen[t.ID] = true
		if t.BaseURL == "" {
			return fmt.Errorf("target %q has no base_url", t.ID)
		}
		if t.Managed() && t.Launch == nil {
			return fmt.Errorf("target %q is managed but has no launch spec", t.ID)
		}
	}
	for _, tier := range r.Tiers {
		if err := tier.Validate(); err != nil {
			return err
		}
	}
	switch r.Mode {
	case "", models.ModeSequential, models.ModeParallel:
	default:
		return fmt.Errorf("unknown execution mode %q", r.Mode)
	}
	if r.BaselineID != "" && !seen[r.BaselineID] {
		return fmt.Errorf("baseline_id %q does not match any target", r.BaselineID)
	}
	return nil
}

// StartRun validates the request, persists the initial manifest, and
// launches the sweep in the background. The returned manifest is a
// snapshot; poll GetRun or subscribe to the status bus for progress.
func (c *Controller) StartRun(req RunRequest) (*models.RunManifest, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	select {
	case c.runSem <- struct{}{}:
	default:
		return nil, fmt.Errorf("%w: limit %d", ErrTooManyRuns, cap(c.runSem))
	}

	tiers := req.Tiers
	if len(tiers) == 0 {
		tiers = models.DefaultTiers()
	}
	mode := req.Mode
	if mode == "" {
		mode = c.mode
	}

	runID := req.RunID
	if runID == "" {
		runID = "run-" + uuid.New().String()[:8]
	}
	c.mu.Lock()
	_, exists := c.runs[runID]
	c.mu.Unlock()
	if exists {
		<-c.runSem
		return nil, fmt.Errorf("run %q already exists", runID)
	}

	now := time.Now().UTC()
	m := &models.RunManifest{
		RunID:      runID,
		CreatedAt:  now,
		UpdatedAt:  now,
		Status:     models.RunStatusRunning,
		Mode:       mode,
		Tiers:      tiers,
		Targets:    append([]models.Target(nil), req.Targets...),
		BaselineID: req.BaselineID,
		Stream:     req.Stream,
	}

	// The manifest hits disk before the goroutine starts so a crash
	// mid-run still leaves a findable record.
	if err := c.store.WriteManifest(m); err != nil {
		<-c.runSem
		return nil, fmt.Errorf("failed to create run: %w", err)
	}
	if err := c.store.UpdateIndex(m); err != nil {
		c.logger.Warn("failed to index new run",
			slog.String("run_id", runID),
			slog.Any("error", err))
	}

	runCtx, cancel := context.WithCancel(context.Background())
	if c.runTimeout > 0 {
		runCtx, cancel = context.WithTimeout(context.Background(), c.runTimeout)
	}

	c.mu.Lock()
	c.runs[runID] = m
	c.cancels[runID] = cancel
	snapshot := cloneManifest(m)
	c.mu.Unlock()

	metrics.RecordRunStarted()
	c.publish(runID, status.EventRunStarted, snapshot)
	c.logger.Info("run started",
		slog.String("run_id", runID),
		slog.String("mode", string(mode)),
		slog.Int("targets", len(m.Targets)),
		slog.Int("tiers", len(tiers)))

	go c.processRun(runCtx, m)

	return snapshot, nil
}

// CancelRun stops an in-flight run. The sweep drains at the next request
// boundary; results already written stay on disk and the run goes
// terminal as cancelled.
func (c *Controller) CancelRun(runID string) error {
	c.mu.Lock()
	cancel, active := c.cancels[runID]
	m := c.runs[runID]
	if active {
		m.Transition(models.RunStatusCancelled)
	}
	c.mu.Unlock()

	if !active {
		if m != nil {
			return fmt.Errorf("%w: %s", ErrRunFinished, runID)
		}
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}

	cancel()
	c.logger.Info("run cancelled", slog.String("run_id", runID))
	return nil
}

// GetRun returns a snapshot of a run, falling back to the artifact store
// for runs started by a previous process.
func (c *Controller) GetRun(runID string) (*models.RunManifest, error) {
	c.mu.Lock()
	if m, ok := c.runs[runID]; ok {
		snapshot := cloneManifest(m)
		c.mu.Unlock()
		return snapshot, nil
	}
	c.mu.Unlock()

	stored, err := c.store.ReadManifest(runID)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		return nil, err
	}
	return stored, nil
}

// ListRuns returns snapshots of every run this process has seen, newest first
func (c *Controller) ListRuns() []*models.RunManifest {
	c.mu.Lock()
	out := make([]*models.RunManifest, 0, len(c.runs))
	for _, m := range c.runs {
		out = append(out, cloneManifest(m))
	}
	c.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// ActiveRuns returns the number of runs currently executing
func (c *Controller) ActiveRuns() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.cancels)
}

// Forget drops a finished run from the in-memory registry and the status
// bus replay map. Artifacts on disk are untouched; active runs cannot be
// forgotten.
func (c *Controller) Forget(runID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, active := c.cancels[runID]; active {
		return fmt.Errorf("run %s is still active", runID)
	}
	delete(c.runs, runID)
	if c.bus != nil {
		c.bus.Forget(runID)
	}
	return nil
}

// cloneManifest deep-copies the slices the sweep goroutine keeps
// appending to, so snapshots never race with it.
func cloneManifest(m *models.RunManifest) *models.RunManifest {
	out := *m
	out.Tiers = append([]models.Tier(nil), m.Tiers...)
	out.Targets = append([]models.Target(nil), m.Targets...)
	out.ArtifactPaths = append([]string(nil), m.ArtifactPaths...)
	return &out
}
