package loadgen

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"golang.org/x/time/rate"

	"github.com/tokensweep/tokensweep/internal/metrics"
	"github.com/tokensweep/tokensweep/pkg/models"
)

const (
	defaultStreamPath     = "/api/chat/completions"
	defaultRequestTimeout = 60 * time.Second

	doneSentinel = "[DONE]"
)

// Generator issues streaming chat requests and turns each one into a
// RequestSample. It is safe for concurrent use by multiple workers.
type Generator struct {
	client  *http.Client
	logger  *slog.Logger
	limiter *rate.Limiter
	timeout time.Duration
	path    string
}

// Option configures a Generator
type Option func(*Generator)

// WithLogger sets the logger used for per-request debug output
func WithLogger(logger *slog.Logger) Option {
	return func(g *Generator) {
		g.logger = logger
	}
}

// WithHTTPClient replaces the underlying HTTP client
func WithHTTPClient(client *http.Client) Option {
	return func(g *Generator) {
		g.client = client
	}
}

// WithTimeout bounds each individual request, measured from dispatch to
// the end of the stream. Zero disables the per-request bound.
func WithTimeout(timeout time.Duration) Option {
	return func(g *Generator) {
		g.timeout = timeout
	}
}

// WithMaxRPS caps the aggregate dispatch rate across all workers sharing
// this generator. Zero or negative leaves dispatch unpaced.
func WithMaxRPS(rps float64) Option {
	return func(g *Generator) {
		if rps <= 0 {
			g.limiter = nil
			return
		}
		burst := int(rps)
		if burst < 1 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// NewGenerator builds a Generator with sane defaults
func NewGenerator(opts ...Option) *Generator {
	g := &Generator{
		client:  &http.Client{},
		logger:  slog.Default(),
		timeout: defaultRequestTimeout,
		path:    defaultStreamPath,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// RunOnce issues one streaming request against baseURL and measures it.
// Failures come back as data, never as a Go error: the sample carries a
// Failed flag and the error text so callers can fold it into totals.
func (g *Generator) RunOnce(ctx context.Context, baseURL string, params models.StreamParams) models.RequestSample {
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return failedSample(0, err.Error())
		}
	}
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	body, err := json.Marshal(params)
	if err != nil {
		return failedSample(0, fmt.Sprintf("encode request: %v", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimSuffix(baseURL, "/")+g.path, bytes.NewReader(body))
	if err != nil {
		return failedSample(0, fmt.Sprintf("build request: %v", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	if params.Compression {
		req.Header.Set("Accept-Encoding", "gzip")
	}

	start := time.Now()
	resp, err := g.client.Do(req)
	if err != nil {
		metrics.RecordRequest(true)
		g.logger.Debug("request failed", "url", req.URL.String(), "error", err)
		return failedSample(msSince(start), err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		metrics.RecordRequest(true)
		return failedSample(msSince(start), fmt.Sprintf("unexpected status %d", resp.StatusCode))
	}

	wire := &countingReader{r: resp.Body}
	var stream io.Reader = wire
	if strings.Contains(resp.Header.Get("Content-Encoding"), "gzip") {
		gz, gzErr := gzip.NewReader(wire)
		if gzErr != nil {
			metrics.RecordRequest(true)
			return failedSample(msSince(start), fmt.Sprintf("open gzip stream: %v", gzErr))
		}
		defer gz.Close()
		stream = gz
	}

	reader := bufio.NewReader(stream)
	var firstFrame time.Time
	tokens := 0
	for {
		line, readErr := reader.ReadString('\n')
		if len(line) > 0 {
			trimmed := strings.TrimSpace(line)
			if strings.HasPrefix(trimmed, "data:") {
				payload := strings.TrimSpace(strings.TrimPrefix(trimmed, "data:"))
				if payload == doneSentinel {
					break
				}
				if firstFrame.IsZero() {
					firstFrame = time.Now()
				}
				tokens += countTokens(payload)
			}
		}
		if readErr != nil {
			if readErr != io.EOF {
				metrics.RecordRequest(true)
				sample := failedSample(msSince(start), readErr.Error())
				sample.TokenCount = tokens
				sample.ByteCount = wire.n
				setTTFT(&sample, start, firstFrame)
				return sample
			}
			// stream closed without the sentinel, keep what we counted
			break
		}
	}

	sample := models.RequestSample{
		DurationMs: msSince(start),
		TokenCount: tokens,
		ByteCount:  wire.n,
	}
	setTTFT(&sample, start, firstFrame)
	metrics.RecordRequest(false)
	return sample
}

// countTokens parses one SSE payload as a chat chunk and counts the
// whitespace-delimited words of its delta content. Malformed payloads
// contribute nothing.
func countTokens(payload string) int {
	var chunk models.ChatChunk
	if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
		return 0
	}
	return len(strings.Fields(chunk.Content()))
}

func setTTFT(sample *models.RequestSample, start, firstFrame time.Time) {
	if firstFrame.IsZero() {
		return
	}
	ttft := float64(firstFrame.Sub(start).Microseconds()) / 1000.0
	sample.TTFTMs = &ttft
}

func failedSample(durationMs float64, msg string) models.RequestSample {
	return models.RequestSample{
		DurationMs: durationMs,
		Failed:     true,
		Error:      msg,
	}
}

func msSince(t time.Time) float64 {
	return float64(time.Since(t).Microseconds()) / 1000.0
}

// countingReader tracks bytes as they come off the wire, before any
// content-encoding is undone.
type countingReader struct {
	r io.Reader
	n int
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += n
	return n, err
}
