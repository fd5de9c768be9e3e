package artifact

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokensweep/tokensweep/pkg/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(t.TempDir(), nil)
	require.NoError(t, err)
	return store
}

func sampleResult(runID, targetID string) *models.TierResult {
	ttft := &models.Percentiles{P50: 12.5, P95: 40.25, P99: 55.125}
	return &models.TierResult{
		RunID:       runID,
		TargetID:    targetID,
		Tier:        models.Tier{Concurrency: 8, TotalRequests: 64},
		Timestamp:   time.Now().UTC().Truncate(time.Millisecond),
		Requests:    64,
		Failures:    2,
		TotalTokens: 2048,
		TotalBytes:  65536,
		WallMs:      1600,
		RPS:         40,
		TPS:         1280,
		TTFT:        ttft,
		Duration:    &models.Percentiles{P50: 100, P95: 180, P99: 220},
	}
}

func TestWriteTierResultRoundTrip(t *testing.T) {
	store := newTestStore(t)
	result := sampleResult("run-11111111", "target-a")

	name, err := store.WriteTierResult(result)
	require.NoError(t, err)
	assert.Equal(t, "target-a_c8_n64.json", name)

	loaded, err := store.ReadTierResult("run-11111111", name)
	require.NoError(t, err)
	assert.Equal(t, result, loaded)
}

func TestWriteUnavailablePlaceholder(t *testing.T) {
	store := newTestStore(t)

	name, err := store.WriteUnavailable("run-11111111", "target-b",
		models.Tier{Concurrency: 4, TotalRequests: 40}, "target never became healthy")
	require.NoError(t, err)
	assert.Equal(t, "target-b_c4_n40.json", name)

	loaded, err := store.ReadTierResult("run-11111111", name)
	require.NoError(t, err)
	assert.True(t, loaded.Unavailable)
	assert.Equal(t, "target never became healthy", loaded.Error)
	assert.Zero(t, loaded.Requests)
	assert.Nil(t, loaded.TTFT)
}

func TestReadRunResults(t *testing.T) {
	store := newTestStore(t)

	_, err := store.WriteTierResult(sampleResult("run-11111111", "target-a"))
	require.NoError(t, err)
	_, err = store.WriteUnavailable("run-11111111", "target-b",
		models.Tier{Concurrency: 8, TotalRequests: 64}, "unreachable")
	require.NoError(t, err)
	require.NoError(t, store.WriteManifest(&models.RunManifest{RunID: "run-11111111"}))

	results, err := store.ReadRunResults("run-11111111")
	require.NoError(t, err)
	assert.Len(t, results, 2, "manifest must not be counted as a result")
}

func TestManifestRoundTrip(t *testing.T) {
	store := newTestStore(t)
	m := &models.RunManifest{
		RunID:     "run-22222222",
		CreatedAt: time.Now().UTC().Truncate(time.Millisecond),
		Status:    models.RunStatusRunning,
		Mode:      models.ModeSequential,
		Tiers:     models.DefaultTiers(),
		Targets: []models.Target{
			{ID: "target-a", BaseURL: "http://127.0.0.1:8083", Kind: models.KindExternal},
		},
		Stream: models.StreamParams{Frames: 50, BytesPerFrame: 64},
	}

	require.NoError(t, store.WriteManifest(m))
	assert.False(t, m.UpdatedAt.IsZero())

	loaded, err := store.ReadManifest("run-22222222")
	require.NoError(t, err)
	assert.Equal(t, m.RunID, loaded.RunID)
	assert.Equal(t, models.RunStatusRunning, loaded.Status)
	assert.Len(t, loaded.Tiers, len(models.DefaultTiers()))
	assert.Equal(t, "target-a", loaded.Targets[0].ID)
}

func TestUpdateIndex(t *testing.T) {
	store := newTestStore(t)

	older := &models.RunManifest{
		RunID:     "run-aaaaaaaa",
		CreatedAt: time.Now().Add(-time.Hour),
		Status:    models.RunStatusDone,
	}
	newer := &models.RunManifest{
		RunID:     "run-bbbbbbbb",
		CreatedAt: time.Now(),
		Status:    models.RunStatusRunning,
	}

	require.NoError(t, store.UpdateIndex(older))
	require.NoError(t, store.UpdateIndex(newer))

	entries, err := store.ReadIndex()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "run-bbbbbbbb", entries[0].RunID, "index must be newest first")

	// status change upserts in place
	newer.Status = models.RunStatusDone
	require.NoError(t, store.UpdateIndex(newer))
	entries, err = store.ReadIndex()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, models.RunStatusDone, entries[0].Status)
}

func TestReadIndexMissing(t *testing.T) {
	store := newTestStore(t)
	entries, err := store.ReadIndex()
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRemoveRun(t *testing.T) {
	store := newTestStore(t)
	m := &models.RunManifest{RunID: "run-cccccccc", CreatedAt: time.Now()}
	require.NoError(t, store.WriteManifest(m))
	require.NoError(t, store.UpdateIndex(m))

	require.NoError(t, store.RemoveRun("run-cccccccc"))

	_, err := os.Stat(filepath.Join(store.Root(), "runs", "run-cccccccc"))
	assert.True(t, os.IsNotExist(err))

	entries, err := store.ReadIndex()
	require.NoError(t, err)
	assert.Empty(t, entries)
}
