package loadgen

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokensweep/tokensweep/pkg/models"
)

func testTarget(url string) models.Target {
	return models.Target{ID: "target-a", BaseURL: url, Kind: models.KindExternal}
}

func TestRunTierIssuesExactCount(t *testing.T) {
	var served atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		served.Add(1)
		streamHandler(t, 4, "a b", 0)(w, r)
	}))
	defer server.Close()

	gen := NewGenerator()
	tier := models.Tier{Concurrency: 8, TotalRequests: 32}
	result := gen.RunTier(context.Background(), "run-11111111", testTarget(server.URL), tier, models.StreamParams{Frames: 4})

	assert.Equal(t, int64(32), served.Load())
	assert.Equal(t, 32, result.Requests)
	assert.Zero(t, result.Failures)
	assert.False(t, result.Partial)
	assert.Equal(t, 32*8, result.TotalTokens)
	require.NotNil(t, result.TTFT)
	require.NotNil(t, result.Duration)
	assert.InDelta(t, float64(result.Requests)/(result.WallMs/1000.0), result.RPS, 0.001)
	assert.InDelta(t, float64(result.TotalTokens)/(result.WallMs/1000.0), result.TPS, 0.001)
}

func TestRunTierMoreWorkersThanRequests(t *testing.T) {
	var served atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		served.Add(1)
		streamHandler(t, 1, "x", 0)(w, r)
	}))
	defer server.Close()

	gen := NewGenerator()
	tier := models.Tier{Concurrency: 16, TotalRequests: 4}
	result := gen.RunTier(context.Background(), "run-11111111", testTarget(server.URL), tier, models.StreamParams{Frames: 1})

	assert.Equal(t, int64(4), served.Load())
	assert.Equal(t, 4, result.Requests)
}

func TestRunTierWorkersOverlap(t *testing.T) {
	const perRequest = 50 * time.Millisecond
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(perRequest)
		streamHandler(t, 1, "t", 0)(w, r)
	}))
	defer server.Close()

	gen := NewGenerator()
	tier := models.Tier{Concurrency: 8, TotalRequests: 32}
	result := gen.RunTier(context.Background(), "run-11111111", testTarget(server.URL), tier, models.StreamParams{Frames: 1})

	// 32 requests of ~50ms across 8 workers is ~4 sequential batches,
	// nowhere near the 1600ms a serial client would need.
	assert.GreaterOrEqual(t, result.WallMs, 190.0)
	assert.Less(t, result.WallMs, 1200.0)
	assert.Greater(t, result.RPS, 25.0)
}

func TestRunTierFailuresCountedInTotals(t *testing.T) {
	var served atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if served.Add(1)%2 == 0 {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		streamHandler(t, 2, "ok ok", 0)(w, r)
	}))
	defer server.Close()

	gen := NewGenerator()
	tier := models.Tier{Concurrency: 4, TotalRequests: 16}
	result := gen.RunTier(context.Background(), "run-11111111", testTarget(server.URL), tier, models.StreamParams{Frames: 2})

	assert.Equal(t, 16, result.Requests)
	assert.Equal(t, 8, result.Failures)
	// failed requests stay in the throughput denominator
	assert.InDelta(t, float64(16)/(result.WallMs/1000.0), result.RPS, 0.001)
	// but never contribute to the latency distributions
	require.NotNil(t, result.Duration)
	assert.Equal(t, 32, result.TotalTokens)
}

func TestRunTierAllFailed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer server.Close()

	gen := NewGenerator()
	tier := models.Tier{Concurrency: 2, TotalRequests: 6}
	result := gen.RunTier(context.Background(), "run-11111111", testTarget(server.URL), tier, models.StreamParams{Frames: 1})

	assert.Equal(t, 6, result.Requests)
	assert.Equal(t, 6, result.Failures)
	assert.Nil(t, result.TTFT)
	assert.Nil(t, result.Duration)
	assert.Greater(t, result.RPS, 0.0)
}

func TestRunTierCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(20 * time.Millisecond)
		streamHandler(t, 1, "c", 0)(w, r)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(80 * time.Millisecond)
		cancel()
	}()

	gen := NewGenerator()
	tier := models.Tier{Concurrency: 2, TotalRequests: 500}
	result := gen.RunTier(ctx, "run-11111111", testTarget(server.URL), tier, models.StreamParams{Frames: 1})

	assert.True(t, result.Partial)
	assert.Less(t, result.Requests, 500)
	assert.Greater(t, result.Requests, 0)
}

func TestRunTierPacing(t *testing.T) {
	server := httptest.NewServer(streamHandler(t, 1, "p", 0))
	defer server.Close()

	gen := NewGenerator(WithMaxRPS(50))
	tier := models.Tier{Concurrency: 4, TotalRequests: 10}
	start := time.Now()
	result := gen.RunTier(context.Background(), "run-11111111", testTarget(server.URL), tier, models.StreamParams{Frames: 1})

	assert.Equal(t, 10, result.Requests)
	assert.Zero(t, result.Failures)
	assert.Less(t, time.Since(start), 5*time.Second)
}
