package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tokensweep/tokensweep/internal/analyze"
	"github.com/tokensweep/tokensweep/internal/sweep"
)

// ErrorResponse is the error body every endpoint returns
type ErrorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

// HealthResponse is the health check response
type HealthResponse struct {
	Status string    `json:"status"`
	Time   time.Time `json:"time"`
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status: "ok",
		Time:   time.Now().UTC(),
	})
}

func (s *Server) handleReady(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"ready": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ready": true})
}

// handleListRuns returns the persisted run index, newest first
func (s *Server) handleListRuns(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error:     "invalid limit value",
				RequestID: c.GetString("request_id"),
			})
			return
		}
		limit = v
	}
	if limit > 200 {
		limit = 200
	}

	entries, err := s.store.ReadIndex()
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:     "failed to read run index: " + err.Error(),
			RequestID: c.GetString("request_id"),
		})
		return
	}
	if len(entries) > limit {
		entries = entries[:limit]
	}

	c.JSON(http.StatusOK, gin.H{
		"runs":  entries,
		"count": len(entries),
	})
}

// handleStartRun launches a benchmark run in the background and returns
// its manifest immediately
func (s *Server) handleStartRun(c *gin.Context) {
	var req sweep.RunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:     "invalid run request: " + err.Error(),
			RequestID: c.GetString("request_id"),
		})
		return
	}

	m, err := s.controller.StartRun(req)
	if err != nil {
		code := http.StatusBadRequest
		if errors.Is(err, sweep.ErrTooManyRuns) {
			code = http.StatusTooManyRequests
		}
		c.JSON(code, ErrorResponse{
			Error:     err.Error(),
			RequestID: c.GetString("request_id"),
		})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"run": m})
}

// handleGetRun returns one run's manifest
func (s *Server) handleGetRun(c *gin.Context) {
	m, err := s.controller.GetRun(c.Param("id"))
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

	c.JSON(http.StatusOK, gin.H{"run": m})
}

// handleRunReport re-analyzes a run's stored artifacts. The baseline
// defaults to the one recorded on the manifest; ?baseline= overrides it.
func (s *Server) handleRunReport(c *gin.Context) {
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

	results, err := s.store.ReadRunResults(runID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:     "failed to read results: " + err.Error(),
			RequestID: c.GetString("request_id"),
		})
		return
	}

	baseline := c.Query("baseline")
	if baseline == "" {
		baseline = m.BaselineID
	}

	c.JSON(http.StatusOK, analyze.Analyze(runID, results, baseline))
}

// handleCancelRun asks an in-flight run to stop
func (s *Server) handleCancelRun(c *gin.Context) {
	runID := c.Param("id")
	err := s.controller.CancelRun(runID)
	switch {
	case err == nil:
		c.JSON(http.StatusAccepted, gin.H{
			"run_id": runID,
			"status": "cancelling",
		})
	case errors.Is(err, sweep.ErrRunNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error:     "run not found",
			RequestID: c.GetString("request_id"),
		})
	case errors.Is(err, sweep.ErrRunFinished):
		c.JSON(http.StatusConflict, ErrorResponse{
			Error:     err.Error(),
			RequestID: c.GetString("request_id"),
		})
	default:
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:     err.Error(),
			RequestID: c.GetString("request_id"),
		})
	}
}
