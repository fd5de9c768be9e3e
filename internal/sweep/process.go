package sweep

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/tokensweep/tokensweep/internal/metrics"
	"github.com/tokensweep/tokensweep/internal/status"
	"github.com/tokensweep/tokensweep/internal/supervise"
	"github.com/tokensweep/tokensweep/pkg/models"
)

// processRun executes one benchmark run from launch to terminal status.
// It runs in its own goroutine on a context independent of the caller's.
func (c *Controller) processRun(ctx context.Context, m *models.RunManifest) {
	logger := c.logger.With(slog.String("run_id", m.RunID))
	defer func() {
		c.mu.Lock()
		delete(c.cancels, m.RunID)
		c.mu.Unlock()
		<-c.runSem
	}()

	logDir := filepath.Join(c.store.RunDir(m.RunID), "targets")
	handles := c.supervisor.StartAll(ctx, m.RunID, m.Targets, logDir)
	// Safety net for panics in the sweep; StopAll is idempotent.
	defer c.supervisor.StopAll(handles)

	healthy := c.recordLaunchOutcomes(m, handles, logger)
	if len(healthy) == 0 {
		c.supervisor.StopAll(handles)
		c.finishRun(m, models.RunStatusError, "no targets passed their health gates", logger)
		return
	}

	c.sweepTiers(ctx, m, healthy, logger)

	// Targets come down before the terminal event so subscribers see
	// "done" only after every supervised process is gone.
	c.supervisor.StopAll(handles)

	st, msg := models.RunStatusDone, ""
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		st, msg = models.RunStatusError, fmt.Sprintf("run timed out after %s", c.runTimeout)
	case ctx.Err() != nil:
		st = models.RunStatusCancelled
	}
	c.finishRun(m, st, msg, logger)
}

// recordLaunchOutcomes folds launch results back into the manifest and
// writes an unavailable placeholder per tier for every target that never
// became healthy, so result sets stay rectangular. Returns the handles
// that are fit to sweep.
func (c *Controller) recordLaunchOutcomes(m *models.RunManifest, handles []*supervise.Handle, logger *slog.Logger) []*supervise.Handle {
	healthy := make([]*supervise.Handle, 0, len(handles))
	for i, h := range handles {
		c.mu.Lock()
		m.Targets[i] = h.Target
		c.mu.Unlock()

		if h.Healthy() {
			healthy = append(healthy, h)
			continue
		}

		reason := h.Err
		if reason == "" {
			reason = "target never became healthy"
		}
		logger.Warn("target excluded from sweep",
			slog.String("target_id", h.Target.ID),
			slog.String("reason", reason))
		c.publishLog(m.RunID, h.Target.ID, fmt.Sprintf("excluding %s: %s", h.Target.ID, reason))

		for _, tier := range m.Tiers {
			name, err := c.store.WriteUnavailable(m.RunID, h.Target.ID, tier, reason)
			if err != nil {
				logger.Error("failed to write placeholder",
					slog.String("target_id", h.Target.ID),
					slog.Any("error", err))
				continue
			}
			c.appendArtifact(m, name)
		}
	}
	return healthy
}

// sweepTiers walks the tier ladder across the healthy targets. Sequential
// mode finishes one target's whole ladder before touching the next;
// parallel mode runs each tier against all targets at once, advancing
// tier by tier so cross-target comparisons line up in time.
func (c *Controller) sweepTiers(ctx context.Context, m *models.RunManifest, handles []*supervise.Handle, logger *slog.Logger) {
	if m.Mode == models.ModeParallel {
		for _, tier := range m.Tiers {
			if ctx.Err() != nil {
				return
			}
			var wg sync.WaitGroup
			for _, h := range handles {
				wg.Add(1)
				go func(h *supervise.Handle) {
					defer wg.Done()
					c.runTier(ctx, m, h, tier, logger)
				}(h)
			}
			wg.Wait()
		}
		return
	}

	for _, h := range handles {
		for _, tier := range m.Tiers {
			if ctx.Err() != nil {
				return
			}
			c.runTier(ctx, m, h, tier, logger)
		}
	}
}

// runTier measures one (target, tier) cell and persists the result
// immediately, so a crash or cancellation later in the run cannot lose it.
func (c *Controller) runTier(ctx context.Context, m *models.RunManifest, h *supervise.Handle, tier models.Tier, logger *slog.Logger) {
	target := h.Target
	scenario := tier.Key()
	c.publishLog(m.RunID, target.ID, fmt.Sprintf("sweeping %s at %s", target.ID, scenario))

	// Resource samples are attributed to this cell by time window.
	cutoff := time.Now().UnixMilli()
	result := c.generator.RunTier(ctx, m.RunID, target, tier, m.Stream)
	if h.Sampler != nil {
		result.Resources = h.Sampler.SummarizeSince(cutoff)
	}

	outcome := "ok"
	switch {
	case result.Partial:
		outcome = "partial"
	case result.Requests > 0 && result.Failures == result.Requests:
		outcome = "failed"
	}
	metrics.RecordTierSweep(outcome)

	name, err := c.store.WriteTierResult(&result)
	if err != nil {
		logger.Error("failed to persist tier result",
			slog.String("target_id", target.ID),
			slog.String("scenario", scenario),
			slog.Any("error", err))
	} else {
		c.appendArtifact(m, name)
	}

	c.publish(m.RunID, status.EventTierResult, result)
	logger.Info("tier complete",
		slog.String("target_id", target.ID),
		slog.String("scenario", scenario),
		slog.Float64("rps", result.RPS),
		slog.Float64("tps", result.TPS),
		slog.Int("failures", result.Failures))
}

// finishRun moves the run to a terminal status, persists everything, and
// publishes the single terminal event. Transition is monotonic, so a
// concurrent CancelRun cannot be overwritten here.
func (c *Controller) finishRun(m *models.RunManifest, st models.RunStatus, errMsg string, logger *slog.Logger) {
	c.mu.Lock()
	m.Transition(st)
	if errMsg != "" && m.Error == "" {
		m.Error = errMsg
	}
	final := cloneManifest(m)
	c.mu.Unlock()

	if err := c.store.WriteManifest(final); err != nil {
		logger.Error("failed to write final manifest", slog.Any("error", err))
	}
	if err := c.store.UpdateIndex(final); err != nil {
		logger.Error("failed to update run index", slog.Any("error", err))
	}
	if c.history != nil {
		results, err := c.store.ReadRunResults(final.RunID)
		if err != nil {
			logger.Error("failed to read results for history", slog.Any("error", err))
		} else if err := c.history.SaveRun(context.Background(), final, results); err != nil {
			logger.Error("failed to save run to history", slog.Any("error", err))
		}
	}

	metrics.RecordRunFinished(string(final.Status))
	if c.bus != nil {
		c.bus.PublishTerminal(final.RunID, status.StatusPayload{
			Status: final.Status,
			Error:  final.Error,
		})
	}
	logger.Info("run finished",
		slog.String("status", string(final.Status)),
		slog.Int("artifacts", len(final.ArtifactPaths)))
}

// appendArtifact records a newly written result file on the manifest and
// rewrites it on disk right away.
func (c *Controller) appendArtifact(m *models.RunManifest, name string) {
	c.mu.Lock()
	m.ArtifactPaths = append(m.ArtifactPaths, name)
	snapshot := cloneManifest(m)
	c.mu.Unlock()

	if err := c.store.WriteManifest(snapshot); err != nil {
		c.logger.Error("failed to update manifest",
			slog.String("run_id", m.RunID),
			slog.Any("error", err))
	}
}

func (c *Controller) publish(runID string, typ status.EventType, data any) {
	if c.bus != nil {
		c.bus.Publish(runID, typ, data)
	}
}

func (c *Controller) publishLog(runID, targetID, msg string) {
	c.publish(runID, status.EventLog, status.LogPayload{
		Level:    "info",
		Message:  msg,
		TargetID: targetID,
	})
}
