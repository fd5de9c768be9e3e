package artifact

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokensweep/tokensweep/pkg/models"
)

func newTestHistory(t *testing.T) *History {
	t.Helper()
	h, err := NewHistory(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { h.Close() })
	return h
}

func historyManifest(runID string, createdAt time.Time) *models.RunManifest {
	return &models.RunManifest{
		RunID:     runID,
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
		Status:    models.RunStatusRunning,
		Mode:      models.ModeSequential,
		Tiers:     []models.Tier{{Concurrency: 8, TotalRequests: 64}},
		Targets: []models.Target{
			{ID: "target-a", BaseURL: "http://127.0.0.1:8083", Kind: models.KindExternal},
		},
	}
}

func TestHistorySaveAndGetRun(t *testing.T) {
	h := newTestHistory(t)
	ctx := context.Background()

	m := historyManifest("run-11111111", time.Now().UTC())
	results := []*models.TierResult{
		sampleResult("run-11111111", "target-a"),
	}
	require.NoError(t, h.SaveRun(ctx, m, results))

	loaded, err := h.GetRun(ctx, "run-11111111")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, m.RunID, loaded.RunID)
	assert.Equal(t, models.RunStatusRunning, loaded.Status)
	assert.Len(t, loaded.Targets, 1)
	assert.Equal(t, "target-a", loaded.Targets[0].ID)
}

func TestHistoryGetRunUnknown(t *testing.T) {
	h := newTestHistory(t)

	loaded, err := h.GetRun(context.Background(), "run-00000000")
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestHistoryUpsertOnStatusChange(t *testing.T) {
	h := newTestHistory(t)
	ctx := context.Background()

	m := historyManifest("run-22222222", time.Now().UTC())
	require.NoError(t, h.SaveRun(ctx, m, nil))

	m.Status = models.RunStatusDone
	results := []*models.TierResult{
		sampleResult("run-22222222", "target-a"),
		sampleResult("run-22222222", "target-b"),
	}
	require.NoError(t, h.SaveRun(ctx, m, results))

	entries, err := h.ListRecent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1, "second save must replace, not duplicate")
	assert.Equal(t, models.RunStatusDone, entries[0].Status)
	assert.Equal(t, 2, entries[0].Results)
	assert.Equal(t, 4, entries[0].Failures)
	assert.InDelta(t, 40.0, entries[0].BestRPS, 0.001)
}

func TestHistoryListRecentOrdering(t *testing.T) {
	h := newTestHistory(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for i, runID := range []string{"run-aaaaaaaa", "run-bbbbbbbb", "run-cccccccc"} {
		m := historyManifest(runID, now.Add(time.Duration(i)*time.Hour))
		require.NoError(t, h.SaveRun(ctx, m, nil))
	}

	entries, err := h.ListRecent(ctx, 0)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "run-cccccccc", entries[0].RunID, "newest first")
	assert.Equal(t, "run-aaaaaaaa", entries[2].RunID)

	entries, err = h.ListRecent(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestHistoryDeleteRun(t *testing.T) {
	h := newTestHistory(t)
	ctx := context.Background()

	require.NoError(t, h.SaveRun(ctx, historyManifest("run-33333333", time.Now().UTC()), nil))
	require.NoError(t, h.DeleteRun(ctx, "run-33333333"))

	loaded, err := h.GetRun(ctx, "run-33333333")
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestHistoryPruneOlderThan(t *testing.T) {
	h := newTestHistory(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, h.SaveRun(ctx, historyManifest("run-old-1", now.Add(-72*time.Hour)), nil))
	require.NoError(t, h.SaveRun(ctx, historyManifest("run-old-2", now.Add(-48*time.Hour)), nil))
	require.NoError(t, h.SaveRun(ctx, historyManifest("run-new-1", now), nil))

	pruned, err := h.PruneOlderThan(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), pruned)

	entries, err := h.ListRecent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "run-new-1", entries[0].RunID)
}
