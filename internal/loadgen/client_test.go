package loadgen

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokensweep/tokensweep/pkg/models"
)

func chunkPayload(t *testing.T, content string) []byte {
	t.Helper()
	chunk := models.ChatChunk{
		Choices: []models.ChunkChoice{{Delta: models.ChunkDelta{Content: content}}},
	}
	payload, err := json.Marshal(chunk)
	require.NoError(t, err)
	return payload
}

func streamHandler(t *testing.T, frames int, content string, delay time.Duration) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for i := 0; i < frames; i++ {
			fmt.Fprintf(w, "data: %s\n\n", chunkPayload(t, content))
			flusher.Flush()
			if delay > 0 {
				time.Sleep(delay)
			}
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
		flusher.Flush()
	}
}

func TestRunOnceCountsTokens(t *testing.T) {
	server := httptest.NewServer(streamHandler(t, 10, "alpha beta gamma", 0))
	defer server.Close()

	gen := NewGenerator()
	sample := gen.RunOnce(context.Background(), server.URL, models.StreamParams{Frames: 10})

	assert.False(t, sample.Failed)
	assert.Equal(t, 30, sample.TokenCount)
	assert.Greater(t, sample.ByteCount, 0)
	assert.Greater(t, sample.DurationMs, 0.0)
	require.NotNil(t, sample.TTFTMs)
	assert.Greater(t, *sample.TTFTMs, 0.0)
	assert.LessOrEqual(t, *sample.TTFTMs, sample.DurationMs)
}

func TestRunOnceMalformedFramesSkipped(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {not json at all\n\n")
		fmt.Fprintf(w, "data: %s\n\n", chunkPayload(t, "one two"))
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	gen := NewGenerator()
	sample := gen.RunOnce(context.Background(), server.URL, models.StreamParams{Frames: 2})

	assert.False(t, sample.Failed)
	assert.Equal(t, 2, sample.TokenCount)
}

func TestRunOnceMissingSentinel(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprintf(w, "data: %s\n\n", chunkPayload(t, "lonely"))
	}))
	defer server.Close()

	gen := NewGenerator()
	sample := gen.RunOnce(context.Background(), server.URL, models.StreamParams{Frames: 1})

	assert.False(t, sample.Failed)
	assert.Equal(t, 1, sample.TokenCount)
	assert.NotNil(t, sample.TTFTMs)
}

func TestRunOnceServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	gen := NewGenerator()
	sample := gen.RunOnce(context.Background(), server.URL, models.StreamParams{Frames: 1})

	assert.True(t, sample.Failed)
	assert.Contains(t, sample.Error, "503")
	assert.Nil(t, sample.TTFTMs)
}

func TestRunOnceUnreachableTarget(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	gen := NewGenerator()
	sample := gen.RunOnce(context.Background(), server.URL, models.StreamParams{Frames: 1})

	assert.True(t, sample.Failed)
	assert.NotEmpty(t, sample.Error)
}

func TestRunOnceTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprintf(w, "data: %s\n\n", chunkPayload(t, "slow"))
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer server.Close()

	gen := NewGenerator(WithTimeout(100 * time.Millisecond))
	sample := gen.RunOnce(context.Background(), server.URL, models.StreamParams{Frames: 100})

	assert.True(t, sample.Failed)
	assert.Equal(t, 1, sample.TokenCount)
}

func TestRunOnceGzip(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") {
			http.Error(w, "expected gzip", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Content-Encoding", "gzip")
		gz := gzip.NewWriter(w)
		for i := 0; i < 5; i++ {
			fmt.Fprintf(gz, "data: %s\n\n", chunkPayload(t, "zip zap"))
		}
		fmt.Fprint(gz, "data: [DONE]\n\n")
		require.NoError(t, gz.Close())
	}))
	defer server.Close()

	gen := NewGenerator()
	sample := gen.RunOnce(context.Background(), server.URL, models.StreamParams{Frames: 5, Compression: true})

	assert.False(t, sample.Failed)
	assert.Equal(t, 10, sample.TokenCount)
	assert.Greater(t, sample.ByteCount, 0)
}

func TestRunOncePostsParams(t *testing.T) {
	var got models.StreamParams
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		assert.Equal(t, "/api/chat/completions", r.URL.Path)
		streamHandler(t, 1, "ack", 0)(w, r)
	}))
	defer server.Close()

	gen := NewGenerator()
	params := models.StreamParams{Frames: 7, InterFrameDelayMs: 3, BytesPerFrame: 128}
	sample := gen.RunOnce(context.Background(), server.URL, params)

	assert.False(t, sample.Failed)
	assert.Equal(t, 7, got.Frames)
	assert.Equal(t, 3, got.InterFrameDelayMs)
	assert.Equal(t, 128, got.BytesPerFrame)
}
