// Package webhook accepts inbound notifications from the source surfaces,
// normalizes them through the matching adapter, and hands accepted
// discussions to the queue. Handlers never run the pipeline inline.
package webhook

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/trace"

	"tasksync.app/tasksync/internal/domain"
	"tasksync.app/tasksync/internal/queue"
	"tasksync.app/tasksync/internal/source"
	"tasksync.app/tasksync/internal/store"
)

type Handler struct {
	registry *source.Registry
	jobs     store.JobStore
	producer queue.Producer
}

func NewHandler(registry *source.Registry, jobs store.JobStore, producer queue.Producer) *Handler {
	return &Handler{
		registry: registry,
		jobs:     jobs,
		producer: producer,
	}
}

// HandleSlack answers the Events API. The url_verification handshake is
// echoed before any parsing or business processing.
func (h *Handler) HandleSlack(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
		return
	}

	var envelope struct {
		Type      string `json:"type"`
		Challenge string `json:"challenge"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	if envelope.Type == "url_verification" {
		c.JSON(http.StatusOK, gin.H{"challenge": envelope.Challenge})
		return
	}

	h.ingest(c, domain.SourceSlack, body)
}

func (h *Handler) HandleFigma(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
		return
	}
	h.ingest(c, domain.SourceFigma, body)
}

func (h *Handler) HandleEmail(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
		return
	}
	h.ingest(c, domain.SourceEmail, body)
}

// ingest parses the payload and enqueues a job. Payloads the adapter cannot
// turn into a discussion are acknowledged with 200 so the source does not
// retry what will never parse.
func (h *Handler) ingest(c *gin.Context, sourceType domain.SourceType, body []byte) {
	ctx := c.Request.Context()

	adapter, err := h.registry.Get(sourceType)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "source not supported"})
		return
	}

	parsed, err := adapter.ParseIncoming(ctx, body)
	if err != nil {
		slog.InfoContext(ctx, "webhook payload not ingestible, ignoring",
			"source", sourceType,
			"error", err)
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}

	job, err := h.jobs.Create(ctx, &domain.Job{
		ThreadID: parsed.ThreadID,
		TeamID:   parsed.TeamID,
		Source:   parsed.Source,
		Status:   domain.JobPending,
	})
	if err != nil {
		slog.ErrorContext(ctx, "creating job failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to record job"})
		return
	}

	msg := queue.Message{JobID: job.ID, Parsed: *parsed}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		msg.TraceID = sc.TraceID().String()
	}

	if err := h.producer.Enqueue(ctx, msg); err != nil {
		slog.ErrorContext(ctx, "enqueueing discussion failed", "error", err, "job_id", job.ID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to enqueue"})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"status": "queued",
		"job_id": job.ID,
	})
}
