package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/climsoft/climsoft-web-sub003/internal/api/dto"
	"github.com/climsoft/climsoft-web-sub003/internal/domain"
	"github.com/gin-gonic/gin"
)

// ListJobs handles GET /jobs
// Lists jobs newest scheduled first with optional filters and page/pageSize paging
func (h *JobHandler) ListJobs(c *gin.Context) {
	h.logger.Info("ListJobs called",
		slog.String("method", c.Request.Method),
		slog.String("path", c.Request.URL.Path),
		slog.String("query", c.Request.URL.RawQuery),
	)

	var req dto.ListJobsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.logger.Error("Invalid query parameters", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid query parameters",
		})
		return
	}

	filter, err := buildFilter(&req, true)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": err.Error(),
		})
		return
	}

	jobs, err := h.service.ListJobs(c.Request.Context(), filter)
	if err != nil {
		h.writeError(c, "Failed to list jobs", err)
		return
	}

	c.JSON(http.StatusOK, dto.NewJobDTOs(jobs))
}

// CountJobs handles GET /jobs/count
// Counts the jobs matching the same filters as ListJobs; the body is a bare integer
func (h *JobHandler) CountJobs(c *gin.Context) {
	var req dto.ListJobsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid query parameters",
		})
		return
	}

	filter, err := buildFilter(&req, false)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": err.Error(),
		})
		return
	}

	count, err := h.service.CountJobs(c.Request.Context(), filter)
	if err != nil {
		h.writeError(c, "Failed to count jobs", err)
		return
	}

	c.JSON(http.StatusOK, count)
}

// GetJob handles GET /jobs/:id
func (h *JobHandler) GetJob(c *gin.Context) {
	id, err := parseJobID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": err.Error(),
		})
		return
	}

	job, err := h.service.GetJob(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, "Failed to get job", err)
		return
	}

	c.JSON(http.StatusOK, dto.NewJobDTO(job))
}

// CancelJob handles PATCH /jobs/:id/cancel
// Cancels a PENDING or PROCESSING job
func (h *JobHandler) CancelJob(c *gin.Context) {
	id, err := parseJobID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": err.Error(),
		})
		return
	}

	h.logger.Info("CancelJob called",
		slog.Int64("job_id", id),
		slog.String("subject", c.GetString(ContextKeySubject)),
	)

	job, err := h.service.CancelJob(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, "Failed to cancel job", err)
		return
	}

	c.JSON(http.StatusOK, dto.NewJobDTO(job))
}

// RetryJob handles PATCH /jobs/:id/retry
// Re-queues a FAILED job that still has attempts left under its own ceiling
func (h *JobHandler) RetryJob(c *gin.Context) {
	id, err := parseJobID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": err.Error(),
		})
		return
	}

	h.logger.Info("RetryJob called",
		slog.Int64("job_id", id),
		slog.String("subject", c.GetString(ContextKeySubject)),
	)

	ctx := c.Request.Context()

	job, err := h.service.GetJob(ctx, id)
	if err != nil {
		h.writeError(c, "Failed to get job", err)
		return
	}

	if job.Status == domain.JobStatusFailed && !job.CanRetry() {
		h.writeError(c, "Failed to retry job", domain.ErrRetriesExhausted)
		return
	}

	retried, err := h.service.RetryJob(ctx, id, job.MaxAttempts)
	if err != nil {
		h.writeError(c, "Failed to retry job", err)
		return
	}
	if !retried {
		h.writeError(c, "Failed to retry job", domain.ErrRetriesExhausted)
		return
	}

	job, err = h.service.GetJob(ctx, id)
	if err != nil {
		h.writeError(c, "Failed to get job", err)
		return
	}

	c.JSON(http.StatusOK, dto.NewJobDTO(job))
}

// writeError maps domain errors to HTTP statuses; anything unknown is a 500
func (h *JobHandler) writeError(c *gin.Context, msg string, err error) {
	switch {
	case errors.Is(err, domain.ErrJobNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error": err.Error(),
		})
	case errors.Is(err, domain.ErrInvalidState), errors.Is(err, domain.ErrRetriesExhausted):
		c.JSON(http.StatusBadRequest, gin.H{
			"error": err.Error(),
		})
	default:
		h.logger.Error(msg, slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": msg,
		})
	}
}
