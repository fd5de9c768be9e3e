package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tokensweep/tokensweep/internal/status"
	"github.com/tokensweep/tokensweep/internal/sweep"
)

const keepaliveInterval = 15 * time.Second

// handleRunEvents streams a run's progress as server-sent events. The
// stream ends after the run's terminal status event or when the client
// disconnects, whichever comes first.
func (s *Server) handleRunEvents(c *gin.Context) {
	runID := c.Param("id")
	m, err := s.controller.GetRun(runID)
	if err != nil {
		if errors.Is(err, sweep.ErrRunNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{
				Error:     "run not found",
				RequestID: c.GetString("request_id"),
			})
			return
		}
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:     "failed to load run: " + err.Error(),
			RequestID: c.GetString("request_id"),
		})
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.WriteHeader(http.StatusOK)
	c.Writer.Flush()

	// A run that finished before this subscriber arrived may already be
	// forgotten by the bus, so its final status is replayed from the
	// manifest instead.
	if m.Status.Terminal() {
		s.writeEvent(c, status.Event{
			RunID:     runID,
			Type:      status.EventRunStatus,
			Timestamp: m.UpdatedAt,
			Data:      status.StatusPayload{Status: m.Status, Error: m.Error},
		})
		return
	}

	ctx := c.Request.Context()
	events := s.bus.Subscribe(ctx, runID)

	keepalive := time.NewTicker(keepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-keepalive.C:
			fmt.Fprint(c.Writer, ":keepalive\n\n")
			c.Writer.Flush()
		case event, ok := <-events:
			if !ok {
				return
			}
			s.writeEvent(c, event)
		}
	}
}

func (s *Server) writeEvent(c *gin.Context, event status.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		s.logger.Error("failed to encode event", slog.Any("error", err), slog.String("run_id", event.RunID))
		return
	}
	fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", event.Type, data)
	c.Writer.Flush()
}
