package sweep

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokensweep/tokensweep/internal/artifact"
	"github.com/tokensweep/tokensweep/internal/loadgen"
	"github.com/tokensweep/tokensweep/internal/status"
	"github.com/tokensweep/tokensweep/internal/supervise"
	"github.com/tokensweep/tokensweep/pkg/models"
)

// benchServer answers the health probe and streams a two-token reply,
// sleeping delay before each stream to let tests catch runs in flight.
func benchServer(t *testing.T, delay time.Duration) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/api/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		if delay > 0 {
			time.Sleep(delay)
		}
		chunk := models.ChatChunk{
			Choices: []models.ChunkChoice{{Delta: models.ChunkDelta{Content: "tick tock"}}},
		}
		payload, err := json.Marshal(chunk)
		require.NoError(t, err)
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprintf(w, "data: %s\n\n", payload)
		fmt.Fprint(w, "data: [DONE]\n\n")
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func externalTarget(id, url string) models.Target {
	return models.Target{ID: id, BaseURL: url, Kind: models.KindExternal}
}

// deadTargetURL returns a URL nothing listens on
func deadTargetURL(t *testing.T) string {
	t.Helper()
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()
	return url
}

func newTestController(t *testing.T, opts ...Option) (*Controller, *artifact.Store, *status.Bus) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store, err := artifact.NewStore(t.TempDir(), logger)
	require.NoError(t, err)

	sup := supervise.New(
		supervise.WithLogger(logger),
		supervise.WithHealthGate(10*time.Millisecond, 400*time.Millisecond),
	)
	gen := loadgen.NewGenerator(loadgen.WithLogger(logger))
	bus := status.NewBus()

	base := []Option{WithLogger(logger), WithBus(bus)}
	c := NewController(sup, gen, store, append(base, opts...)...)
	return c, store, bus
}

// waitTerminal blocks until the run's terminal status event arrives
func waitTerminal(t *testing.T, bus *status.Bus, runID string) status.StatusPayload {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for ev := range bus.Subscribe(ctx, runID) {
		if ev.Type == status.EventRunStatus {
			payload, ok := ev.Data.(status.StatusPayload)
			require.True(t, ok, "run-status data should be a StatusPayload")
			return payload
		}
	}
	t.Fatalf("stream for %s closed without a terminal event", runID)
	return status.StatusPayload{}
}

func TestStartRunValidation(t *testing.T) {
	c, _, _ := newTestController(t)
	valid := externalTarget("target-a", "http://127.0.0.1:1")

	tests := []struct {
		name    string
		req     RunRequest
		wantErr string
	}{
		{
			name:    "no targets",
			req:     RunRequest{},
			wantErr: "at least one target",
		},
		{
			name:    "missing id",
			req:     RunRequest{Targets: []models.Target{{BaseURL: "http://x"}}},
			wantErr: "has no id",
		},
		{
			name:    "duplicate ids",
			req:     RunRequest{Targets: []models.Target{valid, valid}},
			wantErr: "duplicate target id",
		},
		{
			name:    "missing base url",
			req:     RunRequest{Targets: []models.Target{{ID: "target-a"}}},
			wantErr: "has no base_url",
		},
		{
			name: "managed without launch spec",
			req: RunRequest{Targets: []models.Target{
				{ID: "target-a", BaseURL: "http://x", Kind: models.KindManaged},
			}},
			wantErr: "has no launch spec",
		},
		{
			name: "invalid tier",
			req: RunRequest{
				Targets: []models.Target{valid},
				Tiers:   []models.Tier{{Concurrency: 0, TotalRequests: 10}},
			},
			wantErr: "concurrency must be >= 1",
		},
		{
			name:    "unknown mode",
			req:     RunRequest{Targets: []models.Target{valid}, Mode: "zigzag"},
			wantErr: "unknown execution mode",
		},
		{
			name:    "baseline not a target",
			req:     RunRequest{Targets: []models.Target{valid}, BaselineID: "target-z"},
			wantErr: "does not match any target",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.StartRun(tt.req)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestRunCompletesAndPersists(t *testing.T) {
	server := benchServer(t, 0)
	c, store, bus := newTestController(t)

	m, err := c.StartRun(RunRequest{
		Targets: []models.Target{externalTarget("target-a", server.URL)},
		Tiers: []models.Tier{
			{Concurrency: 1, TotalRequests: 2},
			{Concurrency: 2, TotalRequests: 4},
		},
		Stream: models.StreamParams{Frames: 1},
	})
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusRunning, m.Status)
	assert.Contains(t, m.RunID, "run-")

	payload := waitTerminal(t, bus, m.RunID)
	assert.Equal(t, models.RunStatusDone, payload.Status)
	assert.Empty(t, payload.Error)

	assert.Eventually(t, func() bool { return c.ActiveRuns() == 0 },
		time.Second, 10*time.Millisecond)

	final, err := c.GetRun(m.RunID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusDone, final.Status)
	assert.Len(t, final.ArtifactPaths, 2)
	assert.Equal(t, models.HealthHealthy, final.Targets[0].Health)

	results, err := store.ReadRunResults(m.RunID)
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.Equal(t, m.RunID, r.RunID)
		assert.Equal(t, "target-a", r.TargetID)
		assert.False(t, r.Unavailable)
		assert.Zero(t, r.Failures)
	}

	index, err := store.ReadIndex()
	require.NoError(t, err)
	require.Len(t, index, 1)
	assert.Equal(t, models.RunStatusDone, index[0].Status)
}

func TestStartRunHonorsExplicitRunID(t *testing.T) {
	server := benchServer(t, 0)
	c, _, bus := newTestController(t)

	req := RunRequest{
		RunID:   "run-nightly1",
		Targets: []models.Target{externalTarget("target-a", server.URL)},
		Tiers:   []models.Tier{{Concurrency: 1, TotalRequests: 1}},
		Stream:  models.StreamParams{Frames: 1},
	}
	m, err := c.StartRun(req)
	require.NoError(t, err)
	assert.Equal(t, "run-nightly1", m.RunID)

	// The ID is taken while the first run holds it
	_, err = c.StartRun(req)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")

	waitTerminal(t, bus, m.RunID)
}

func TestRunEmitsExactlyOneTerminalEvent(t *testing.T) {
	server := benchServer(t, 0)
	c, _, bus := newTestController(t)

	m, err := c.StartRun(RunRequest{
		Targets: []models.Target{externalTarget("target-a", server.URL)},
		Tiers:   []models.Tier{{Concurrency: 1, TotalRequests: 1}},
		Stream:  models.StreamParams{Frames: 1},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	terminals := 0
	for ev := range bus.Subscribe(ctx, m.RunID) {
		if ev.Type == status.EventRunStatus {
			terminals++
		}
	}
	assert.Equal(t, 1, terminals)

	// Late subscribers get the terminal event replayed, nothing else.
	var replayed []status.Event
	for ev := range bus.Subscribe(ctx, m.RunID) {
		replayed = append(replayed, ev)
	}
	require.Len(t, replayed, 1)
	assert.Equal(t, status.EventRunStatus, replayed[0].Type)
}

func TestCancelRunMidSweep(t *testing.T) {
	server := benchServer(t, 30*time.Millisecond)
	c, store, bus := newTestController(t)

	m, err := c.StartRun(RunRequest{
		Targets: []models.Target{externalTarget("target-a", server.URL)},
		Tiers:   []models.Tier{{Concurrency: 1, TotalRequests: 500}},
		Stream:  models.StreamParams{Frames: 1},
	})
	require.NoError(t, err)

	time.Sleep(100 * time.Millisecond)
	require.NoError(t, c.CancelRun(m.RunID))

	payload := waitTerminal(t, bus, m.RunID)
	assert.Equal(t, models.RunStatusCancelled, payload.Status)

	// The interrupted tier still leaves its partial result on disk.
	results, err := store.ReadRunResults(m.RunID)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.True(t, results[0].Partial)
	assert.Less(t, results[0].Requests, 500)

	assert.Eventually(t, func() bool { return c.ActiveRuns() == 0 },
		time.Second, 10*time.Millisecond)

	err = c.CancelRun(m.RunID)
	assert.ErrorIs(t, err, ErrRunFinished)

	err = c.CancelRun("run-missing1")
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestUnhealthyTargetIsolatedFromSweep(t *testing.T) {
	server := benchServer(t, 0)
	c, store, bus := newTestController(t)

	tiers := []models.Tier{
		{Concurrency: 1, TotalRequests: 2},
		{Concurrency: 2, TotalRequests: 2},
	}
	m, err := c.StartRun(RunRequest{
		Targets: []models.Target{
			externalTarget("target-up", server.URL),
			externalTarget("target-down", deadTargetURL(t)),
		},
		Tiers:  tiers,
		Stream: models.StreamParams{Frames: 1},
	})
	require.NoError(t, err)

	payload := waitTerminal(t, bus, m.RunID)
	assert.Equal(t, models.RunStatusDone, payload.Status, "one dead target must not fail the run")

	results, err := store.ReadRunResults(m.RunID)
	require.NoError(t, err)
	require.Len(t, results, 4, "two real results plus two placeholders")

	byTarget := map[string][]*models.TierResult{}
	for _, r := range results {
		byTarget[r.TargetID] = append(byTarget[r.TargetID], r)
	}
	for _, r := range byTarget["target-up"] {
		assert.False(t, r.Unavailable)
		assert.Greater(t, r.RPS, 0.0)
	}
	for _, r := range byTarget["target-down"] {
		assert.True(t, r.Unavailable)
		assert.NotEmpty(t, r.Error)
		assert.Zero(t, r.Requests)
	}

	final, err := c.GetRun(m.RunID)
	require.NoError(t, err)
	assert.Equal(t, models.HealthHealthy, final.Targets[0].Health)
	assert.Equal(t, models.HealthUnhealthy, final.Targets[1].Health)
}

func TestAllTargetsUnhealthy(t *testing.T) {
	c, store, bus := newTestController(t)

	m, err := c.StartRun(RunRequest{
		Targets: []models.Target{externalTarget("target-down", deadTargetURL(t))},
		Tiers:   []models.Tier{{Concurrency: 1, TotalRequests: 1}},
		Stream:  models.StreamParams{Frames: 1},
	})
	require.NoError(t, err)

	payload := waitTerminal(t, bus, m.RunID)
	assert.Equal(t, models.RunStatusError, payload.Status)
	assert.Contains(t, payload.Error, "no targets passed")

	results, err := store.ReadRunResults(m.RunID)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].Unavailable)
}

func TestParallelModeSweepsAllTargets(t *testing.T) {
	serverA := benchServer(t, 0)
	serverB := benchServer(t, 0)
	c, store, bus := newTestController(t)

	m, err := c.StartRun(RunRequest{
		Targets: []models.Target{
			externalTarget("target-a", serverA.URL),
			externalTarget("target-b", serverB.URL),
		},
		Tiers:  []models.Tier{{Concurrency: 2, TotalRequests: 4}},
		Mode:   models.ModeParallel,
		Stream: models.StreamParams{Frames: 1},
	})
	require.NoError(t, err)

	payload := waitTerminal(t, bus, m.RunID)
	assert.Equal(t, models.RunStatusDone, payload.Status)

	results, err := store.ReadRunResults(m.RunID)
	require.NoError(t, err)
	require.Len(t, results, 2)
	seen := map[string]bool{}
	for _, r := range results {
		seen[r.TargetID] = true
		assert.Equal(t, 4, r.Requests)
	}
	assert.True(t, seen["target-a"])
	assert.True(t, seen["target-b"])
}

func TestStartRunRejectsWhenSaturated(t *testing.T) {
	server := benchServer(t, 20*time.Millisecond)
	c, _, bus := newTestController(t, WithMaxRuns(1))

	req := RunRequest{
		Targets: []models.Target{externalTarget("target-a", server.URL)},
		Tiers:   []models.Tier{{Concurrency: 1, TotalRequests: 20}},
		Stream:  models.StreamParams{Frames: 1},
	}
	first, err := c.StartRun(req)
	require.NoError(t, err)

	_, err = c.StartRun(req)
	assert.ErrorIs(t, err, ErrTooManyRuns)

	waitTerminal(t, bus, first.RunID)

	// The slot frees once the first run drains.
	var second *models.RunManifest
	require.Eventually(t, func() bool {
		m, err := c.StartRun(req)
		if err != nil {
			return false
		}
		second = m
		return true
	}, 5*time.Second, 20*time.Millisecond)
	waitTerminal(t, bus, second.RunID)
}

func TestRunTimeout(t *testing.T) {
	server := benchServer(t, 30*time.Millisecond)
	c, _, bus := newTestController(t, WithRunTimeout(150*time.Millisecond))

	m, err := c.StartRun(RunRequest{
		Targets: []models.Target{externalTarget("target-a", server.URL)},
		Tiers:   []models.Tier{{Concurrency: 1, TotalRequests: 1000}},
		Stream:  models.StreamParams{Frames: 1},
	})
	require.NoError(t, err)

	payload := waitTerminal(t, bus, m.RunID)
	assert.Equal(t, models.RunStatusError, payload.Status)
	assert.Contains(t, payload.Error, "timed out")
}

func TestGetRunFallsBackToStore(t *testing.T) {
	c, store, _ := newTestController(t)

	_, err := c.GetRun("run-missing1")
	assert.ErrorIs(t, err, ErrRunNotFound)

	// A manifest written by another process is still visible.
	m := &models.RunManifest{
		RunID:     "run-elsewhre",
		CreatedAt: time.Now().UTC(),
		Status:    models.RunStatusDone,
		Mode:      models.ModeSequential,
		Tiers:     []models.Tier{{Concurrency: 1, TotalRequests: 1}},
	}
	require.NoError(t, store.WriteManifest(m))

	got, err := c.GetRun("run-elsewhre")
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusDone, got.Status)
}

func TestHistorySavedOnFinish(t *testing.T) {
	server := benchServer(t, 0)
	history, err := artifact.NewHistory(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = history.Close() })

	c, _, bus := newTestController(t, WithHistory(history))

	m, err := c.StartRun(RunRequest{
		Targets: []models.Target{externalTarget("target-a", server.URL)},
		Tiers:   []models.Tier{{Concurrency: 1, TotalRequests: 2}},
		Stream:  models.StreamParams{Frames: 1},
	})
	require.NoError(t, err)
	waitTerminal(t, bus, m.RunID)

	saved, err := history.GetRun(context.Background(), m.RunID)
	require.NoError(t, err)
	require.NotNil(t, saved, "finished run should land in history")
	assert.Equal(t, models.RunStatusDone, saved.Status)
}

func TestForget(t *testing.T) {
	server := benchServer(t, 0)
	c, _, bus := newTestController(t)

	m, err := c.StartRun(RunRequest{
		Targets: []models.Target{externalTarget("target-a", server.URL)},
		Tiers:   []models.Tier{{Concurrency: 1, TotalRequests: 1}},
		Stream:  models.StreamParams{Frames: 1},
	})
	require.NoError(t, err)
	waitTerminal(t, bus, m.RunID)
	require.Eventually(t, func() bool { return c.ActiveRuns() == 0 },
		time.Second, 10*time.Millisecond)

	require.NoError(t, c.Forget(m.RunID))

	// Artifacts survive; only the in-memory registry entry is gone.
	got, err := c.GetRun(m.RunID)
	require.NoError(t, err)
	assert.Equal(t, m.RunID, got.RunID)
	assert.Empty(t, c.ListRuns())
}

func TestForgetRefusesActiveRun(t *testing.T) {
	server := benchServer(t, 30*time.Millisecond)
	c, _, bus := newTestController(t)

	m, err := c.StartRun(RunRequest{
		Targets: []models.Target{externalTarget("target-a", server.URL)},
		Tiers:   []models.Tier{{Concurrency: 1, TotalRequests: 200}},
		Stream:  models.StreamParams{Frames: 1},
	})
	require.NoError(t, err)

	err = c.Forget(m.RunID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "still active")

	require.NoError(t, c.CancelRun(m.RunID))
	waitTerminal(t, bus, m.RunID)
}

func TestListRunsNewestFirst(t *testing.T) {
	server := benchServer(t, 0)
	c, _, bus := newTestController(t)

	req := RunRequest{
		Targets: []models.Target{externalTarget("target-a", server.URL)},
		Tiers:   []models.Tier{{Concurrency: 1, TotalRequests: 1}},
		Stream:  models.StreamParams{Frames: 1},
	}
	first, err := c.StartRun(req)
	require.NoError(t, err)
	waitTerminal(t, bus, first.RunID)

	second, err := c.StartRun(req)
	require.NoError(t, err)
	waitTerminal(t, bus, second.RunID)

	runs := c.ListRuns()
	require.Len(t, runs, 2)
	assert.Equal(t, second.RunID, runs[0].RunID)
	assert.Equal(t, first.RunID, runs[1].RunID)
}
