package server

import (
	"errors"
	"net/http"
	"screener/internal/controller"
	"screener/internal/model"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// createScanHandler starts a new scan
func (s *Server) createScanHandler(c *gin.Context) {
	var req model.ScanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	created, err := s.scans.CreateScan(c.Request.Context(), req)
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, created)
}

func (s *Server) statusHandler(c *gin.Context) {
	view, err := s.scans.GetStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (s *Server) partialResultsHandler(c *gin.Context) {
	view, err := s.scans.GetPartialResults(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (s *Server) resultsHandler(c *gin.Context) {
	id := c.Param("id")

	results, err := s.scans.GetResults(c.Request.Context(), id)
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"id":      id,
		"count":   len(results),
		"results": results,
	})
}

func (s *Server) cancelScanHandler(c *gin.Context) {
	id := c.Param("id")

	if err := s.scans.CancelScan(id); err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"id": id, "status": model.StatusCancelled})
}

func (s *Server) statsHandler(c *gin.Context) {
	c.JSON(http.StatusOK, s.scans.Stats())
}

// historyHandler lists scans, optionally by status, with pagination over the archive
func (s *Server) historyHandler(c *gin.Context) {
	status := model.JobStatus(c.Query("status"))
	if status != "" && !status.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status: " + string(status)})
		return
	}

	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
		return
	}
	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil || offset < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "offset must be a non-negative integer"})
		return
	}

	history, err := s.scans.History(c.Request.Context(), status, limit, offset)
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, history)
}

// streamHandler pushes progress events until the scan reaches a terminal status
func (s *Server) streamHandler(c *gin.Context) {
	id := c.Param("id")
	ctx := c.Request.Context()

	view, err := s.scans.GetStatus(ctx, id)
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	ticker := time.NewTicker(s.streamInterval)
	defer ticker.Stop()

	lastProcessed := -1
	for {
		if view.Progress.Processed != lastProcessed || view.Status.IsTerminal() {
			s.sendEvent(c, "progress", view)
			lastProcessed = view.Progress.Processed
		}

		if view.Status.IsTerminal() {
			partial, err := s.scans.GetPartialResults(ctx, id)
			if err != nil {
				s.sendEvent(c, "error", gin.H{"error": err.Error()})
				return
			}
			s.sendEvent(c, "complete", partial)
			return
		}

		select {
		case <-ctx.Done():
			log.Debug().Str("jobId", id).Msg("Progress stream closed by client")
			return
		case <-ticker.C:
		}

		if view, err = s.scans.GetStatus(ctx, id); err != nil {
			s.sendEvent(c, "error", gin.H{"error": err.Error()})
			return
		}
	}
}

// sendEvent writes one server-sent event and flushes it to the client
func (s *Server) sendEvent(c *gin.Context, event string, data any) {
	c.SSEvent(event, data)
	c.Writer.Flush()
}

func (s *Server) cacheStatsHandler(c *gin.Context) {
	if s.cache == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "cache is not configured"})
		return
	}
	c.JSON(http.StatusOK, s.cache.Stats())
}

// writeError maps controller errors onto HTTP status codes
func (s *Server) writeError(c *gin.Context, err error) {
	switch {
	case controller.IsBadRequest(err):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, controller.ErrScanNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Scan not found"})
	case errors.Is(err, controller.ErrScanNotCompleted), errors.Is(err, controller.ErrScanFinished):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		log.Error().Err(err).Str("path", c.FullPath()).Msg("Request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}
