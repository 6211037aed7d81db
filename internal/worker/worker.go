// Package worker drains the discussion stream and drives the pipeline. The
// ack / requeue / dead-letter decision is made purely from the error's
// retryable flag and the message's attempt counter.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"tasksync.app/tasksync/common/logger"
	"tasksync.app/tasksync/internal/domain"
	"tasksync.app/tasksync/internal/pipeline"
	"tasksync.app/tasksync/internal/queue"
	"tasksync.app/tasksync/internal/store"
)

type Config struct {
	MaxAttempts int
}

type Worker struct {
	consumer  *queue.RedisConsumer
	processor *pipeline.Processor
	jobs      store.JobStore
	cfg       Config

	stopCh    chan struct{}
	stoppedCh chan struct{}
}

func New(consumer *queue.RedisConsumer, processor *pipeline.Processor, jobs store.JobStore, cfg Config) *Worker {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	return &Worker{
		consumer:  consumer,
		processor: processor,
		jobs:      jobs,
		cfg:       cfg,
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
}

func (w *Worker) Run(ctx context.Context) error {
	defer close(w.stoppedCh)

	slog.InfoContext(ctx, "worker started", "max_attempts", w.cfg.MaxAttempts)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stopCh:
			slog.InfoContext(ctx, "worker stopping")
			return nil
		default:
			if err := w.processOneBatch(ctx); err != nil {
				slog.ErrorContext(ctx, "batch processing error", "error", err)
				time.Sleep(time.Second)
			}
		}
	}
}

func (w *Worker) Stop() {
	close(w.stopCh)
	<-w.stoppedCh
}

func (w *Worker) processOneBatch(ctx context.Context) error {
	messages, err := w.consumer.Read(ctx)
	if err != nil {
		return fmt.Errorf("reading from stream: %w", err)
	}

	for _, msg := range messages {
		w.processMessageSafe(ctx, msg)
	}
	return nil
}

func (w *Worker) processMessageSafe(ctx context.Context, msg queue.Message) {
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "panic recovered in message processing",
				"panic", r,
				"message_id", msg.ID,
				"job_id", msg.JobID)
			if err := w.consumer.SendDLQ(ctx, msg, fmt.Sprintf("panic: %v", r)); err != nil {
				slog.ErrorContext(ctx, "failed to dead-letter panicked message", "error", err)
			}
		}
	}()
	w.ProcessMessage(ctx, msg)
}

// ProcessMessage runs one discussion through the pipeline and settles the
// message. Exported so the reclaimer can reuse it.
func (w *Worker) ProcessMessage(ctx context.Context, msg queue.Message) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		JobID:     logger.Ptr(msg.JobID),
		MessageID: logger.Ptr(msg.ID),
		Component: "tasksync.worker",
	})

	job, err := w.jobs.Get(ctx, msg.JobID)
	if errors.Is(err, store.ErrNotFound) {
		slog.WarnContext(ctx, "job not found for message, dropping")
		_ = w.consumer.Ack(ctx, msg)
		return
	}
	if err != nil {
		slog.ErrorContext(ctx, "loading job failed, leaving message pending", "error", err)
		return
	}
	if job.Status == domain.JobCompleted {
		slog.InfoContext(ctx, "job already completed, dropping duplicate delivery")
		_ = w.consumer.Ack(ctx, msg)
		return
	}

	if domain.CanTransition(job.Status, domain.JobProcessing) {
		if err := w.jobs.SetStatus(ctx, job.ID, domain.JobProcessing); err != nil {
			slog.WarnContext(ctx, "marking job processing failed", "error", err)
		}
		job.Status = domain.JobProcessing
	}
	job.Attempt = msg.Attempt

	slog.InfoContext(ctx, "processing discussion",
		"source", msg.Parsed.Source,
		"thread_id", msg.Parsed.ThreadID,
		"attempt", msg.Attempt)

	result, procErr := w.processor.ProcessDiscussion(ctx, &msg.Parsed, job, pipeline.Options{})
	if procErr == nil {
		if result.Deferred {
			job.Status = domain.JobPending
			w.finishJob(ctx, job)
			if err := w.consumer.Ack(ctx, msg); err != nil {
				slog.ErrorContext(ctx, "acking deferred message failed", "error", err)
			}
			slog.InfoContext(ctx, "auto-process disabled, job held for manual run")
			return
		}
		job.Status = domain.JobCompleted
		w.finishJob(ctx, job)
		if err := w.consumer.Ack(ctx, msg); err != nil {
			slog.ErrorContext(ctx, "acking completed message failed", "error", err)
		}
		slog.InfoContext(ctx, "discussion processed",
			"created_tasks", len(result.CreatedTasks),
			"duration_ms", result.ProcessingTime.Milliseconds())
		return
	}

	w.settleFailure(ctx, msg, job, procErr)
}

type settlement int

const (
	settleRequeue settlement = iota
	settleExhausted
	settleDeadLetter
)

// decideSettlement maps a failure's retryable flag and attempt count onto the
// requeue / dead-letter decision and the job status to record. An exhausted
// retryable failure leaves the job in retrying with its last completed stage
// intact so a manual replay resumes instead of restarting.
func decideSettlement(retryable bool, attempt, maxAttempts int) (settlement, domain.JobStatus) {
	switch {
	case retryable && attempt < maxAttempts:
		return settleRequeue, domain.JobRetrying
	case retryable:
		return settleExhausted, domain.JobRetrying
	default:
		return settleDeadLetter, domain.JobFailed
	}
}

// settleFailure routes a failed run per decideSettlement.
func (w *Worker) settleFailure(ctx context.Context, msg queue.Message, job *domain.Job, procErr error) {
	stage, _ := domain.ErrorStage(procErr)
	retryable := domain.IsRetryable(procErr)

	slog.ErrorContext(ctx, "discussion processing failed",
		"error", procErr,
		"stage", stage,
		"retryable", retryable,
		"attempt", msg.Attempt)

	decision, status := decideSettlement(retryable, msg.Attempt, w.cfg.MaxAttempts)
	job.Status = status
	w.finishJob(ctx, job)

	switch decision {
	case settleRequeue:
		if err := w.consumer.Requeue(ctx, msg, procErr.Error()); err != nil {
			slog.ErrorContext(ctx, "requeueing message failed", "error", err)
		}

	case settleExhausted:
		if err := w.consumer.SendDLQ(ctx, msg, fmt.Sprintf("retry budget exhausted after %d attempts: %v", msg.Attempt, procErr)); err != nil {
			slog.ErrorContext(ctx, "dead-lettering message failed", "error", err)
		}

	default:
		if err := w.consumer.SendDLQ(ctx, msg, procErr.Error()); err != nil {
			slog.ErrorContext(ctx, "dead-lettering message failed", "error", err)
		}
	}
}

func (w *Worker) finishJob(ctx context.Context, job *domain.Job) {
	if err := w.jobs.Finish(ctx, job); err != nil {
		slog.ErrorContext(ctx, "persisting job outcome failed", "error", err, "job_id", job.ID)
	}
}
