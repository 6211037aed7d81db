package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"tasksync.app/tasksync/internal/store"
)

type JobHandler struct {
	jobs store.JobStore
}

func NewJobHandler(jobs store.JobStore) *JobHandler {
	return &JobHandler{jobs: jobs}
}

// Get returns one job with its per-stage outcomes and created tasks.
func (h *JobHandler) Get(c *gin.Context) {
	jobID, err := strconv.ParseInt(c.Param("job_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid job id"})
		return
	}

	job, err := h.jobs.Get(c.Request.Context(), jobID)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load job"})
		return
	}
	c.JSON(http.StatusOK, job)
}

// ListByThread returns the most recent jobs for one thread.
func (h *JobHandler) ListByThread(c *gin.Context) {
	threadID := c.Query("thread_id")
	if threadID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "thread_id is required"})
		return
	}

	jobs, err := h.jobs.ListByThread(c.Request.Context(), threadID, 20)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list jobs"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": jobs})
}
