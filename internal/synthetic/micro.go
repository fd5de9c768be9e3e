package synthetic

import (
	"bytes"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// Non-streaming endpoints for microbenchmarks and external load tools.

func (s *Server) handleMicroPlain(c *gin.Context) {
	size := intQuery(c, "bytes", 32)
	if size < 1 {
		size = 1
	}
	c.Data(http.StatusOK, "text/plain", bytes.Repeat([]byte(fillerWord), size))
}

func (s *Server) handleMicroChunked(c *gin.Context) {
	size := intQuery(c, "bytes", 32)
	if size < 1 {
		size = 1
	}
	chunks := intQuery(c, "chunks", 1)
	if chunks < 1 {
		chunks = 1
	}
	delayMs := intQuery(c, "delay_ms", 0)
	if delayMs < 0 {
		delayMs = 0
	}

	chunk := bytes.Repeat([]byte(fillerWord), size)
	delay := time.Duration(delayMs) * time.Millisecond

	c.Writer.Header().Set("Content-Type", "application/octet-stream")
	c.Status(http.StatusOK)
	for i := 0; i < chunks; i++ {
		select {
		case <-c.Request.Context().Done():
			return
		default:
		}
		_, _ = c.Writer.Write(chunk)
		c.Writer.Flush()
		if delay > 0 {
			time.Sleep(delay)
		}
	}
}

func intQuery(c *gin.Context, key string, fallback int) int {
	raw := c.Query(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}
