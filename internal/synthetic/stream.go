package synthetic

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/klauspost/compress/gzip"

	"github.com/tokensweep/tokensweep/internal/metrics"
	"github.com/tokensweep/tokensweep/pkg/models"
)

const fillerWord = "x"

// wordsPerFrame sizes the filler text to the requested frame byte count,
// one short word plus separator at a time, minimum one word.
func wordsPerFrame(bytesPerFrame int) int {
	n := bytesPerFrame / (len(fillerWord) + 1)
	if n < 1 {
		n = 1
	}
	return n
}

func frameContent(bytesPerFrame int) string {
	return strings.Repeat(fillerWord+" ", wordsPerFrame(bytesPerFrame))
}

// spin burns CPU for the given number of milliseconds without yielding,
// imitating inline tool work that blocks the handler.
func spin(ms int) {
	if ms <= 0 {
		return
	}
	deadline := time.Now().Add(time.Duration(ms) * time.Millisecond)
	for time.Now().Before(deadline) {
	}
	metrics.RecordSpin(time.Duration(ms) * time.Millisecond)
}

func (s *Server) handleChat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": bindErrorMessage(err)})
		return
	}
	plan := req.resolve(s.defaults)

	metrics.StreamsActive.Inc()
	defer metrics.StreamsActive.Dec()
	start := time.Now()

	// tool calls happen before the first frame, so they land entirely
	// inside the client's measured TTFT
	s.runFanout(c, plan)

	header := c.Writer.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")

	var out io.Writer = c.Writer
	flush := func() { c.Writer.Flush() }
	if plan.gzip && strings.Contains(c.GetHeader("Accept-Encoding"), "gzip") {
		header.Set("Content-Encoding", "gzip")
		gz := gzip.NewWriter(c.Writer)
		defer gz.Close()
		out = gz
		flush = func() {
			gz.Flush()
			c.Writer.Flush()
		}
	}
	c.Status(http.StatusOK)

	content := frameContent(plan.bytesPerFrame)
	payload, err := json.Marshal(models.ChatChunk{
		Choices: []models.ChunkChoice{{Delta: models.ChunkDelta{Content: content}}},
	})
	if err != nil {
		metrics.RecordStream("error", time.Since(start))
		return
	}

	delay := time.Duration(plan.delayMs) * time.Millisecond
	for i := 0; i < plan.frames; i++ {
		select {
		case <-c.Request.Context().Done():
			metrics.RecordStream("aborted", time.Since(start))
			return
		default:
		}
		spin(plan.spinMs)
		fmt.Fprintf(out, "data: %s\n\n", payload)
		flush()
		metrics.FramesWritten.Inc()
		if delay > 0 {
			time.Sleep(delay)
		}
	}
	fmt.Fprint(out, "data: [DONE]\n\n")
	flush()
	metrics.RecordStream("completed", time.Since(start))
}

// runFanout performs the pre-stream tool calls, either as in-process CPU
// spins or as loopback HTTP calls against /tool.
func (s *Server) runFanout(c *gin.Context, plan streamPlan) {
	if plan.fanout <= 0 {
		return
	}
	delay := time.Duration(plan.fanoutDelayMs) * time.Millisecond
	for i := 0; i < plan.fanout; i++ {
		if delay > 0 {
			time.Sleep(delay)
		}
		if s.fanoutHTTP {
			s.callTool(c, plan.spinMs)
			metrics.RecordFanoutOp("http")
		} else {
			spin(plan.spinMs)
			metrics.RecordFanoutOp("spin")
		}
	}
}

// callTool posts one tool invocation over loopback. Failures are logged
// and swallowed, the stream must go on.
func (s *Server) callTool(c *gin.Context, spinMs int) {
	body, err := json.Marshal(toolRequest{CPUSpinMs: &spinMs})
	if err != nil {
		return
	}
	req, err := http.NewRequestWithContext(c.Request.Context(), http.MethodPost, s.toolURL(), bytes.NewReader(body))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.Debug("fanout tool call failed", "url", s.toolURL(), "error", err)
		return
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}

func (s *Server) handleTool(c *gin.Context) {
	var req toolRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": bindErrorMessage(err)})
		return
	}
	spinMs := s.defaults.CPUSpinMs
	if req.CPUSpinMs != nil {
		spinMs = *req.CPUSpinMs
	}
	spin(spinMs)
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
