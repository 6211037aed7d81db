package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"tasksync.app/tasksync/common/id"
	"tasksync.app/tasksync/internal/domain"
)

// JobStore persists pipeline executions, one row per discussion run, with
// per-stage outcomes and created-task references carried as JSONB.
type JobStore interface {
	Create(ctx context.Context, job *domain.Job) (*domain.Job, error)
	Get(ctx context.Context, jobID int64) (*domain.Job, error)
	SetStatus(ctx context.Context, jobID int64, status domain.JobStatus) error
	RecordStage(ctx context.Context, jobID int64, outcome domain.StageOutcome) error
	Finish(ctx context.Context, job *domain.Job) error
	ListByThread(ctx context.Context, threadID string, limit int32) ([]domain.Job, error)
}

type jobStore struct {
	pool *pgxpool.Pool
}

const jobColumns = `
	id, thread_id, team_id, source, status, attempt, last_completed_stage,
	failed_stage, error, stages, created_tasks, is_multi_task,
	processing_time_ms, created_at, updated_at`

func (s *jobStore) Create(ctx context.Context, job *domain.Job) (*domain.Job, error) {
	job.ID = id.New()
	if job.Status == "" {
		job.Status = domain.JobPending
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO jobs (id, thread_id, team_id, source, status, attempt)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING`+jobColumns,
		job.ID, job.ThreadID, job.TeamID, job.Source, job.Status, job.Attempt,
	)
	return scanJob(row)
}

func (s *jobStore) Get(ctx context.Context, jobID int64) (*domain.Job, error) {
	row := s.pool.QueryRow(ctx, `SELECT`+jobColumns+` FROM jobs WHERE id = $1`, jobID)
	return scanJob(row)
}

// SetStatus makes the monotonic transition rule part of the UPDATE itself, so
// a concurrent writer cannot slip in between check and write.
func (s *jobStore) SetStatus(ctx context.Context, jobID int64, status domain.JobStatus) error {
	allowed := domain.TransitionSources(status)
	sources := make([]string, len(allowed))
	for i, from := range allowed {
		sources[i] = string(from)
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs SET status = $2, updated_at = now()
		WHERE id = $1 AND status = ANY($3)`,
		jobID, status, sources,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	current, err := s.Get(ctx, jobID)
	if err != nil {
		return err
	}
	return fmt.Errorf("illegal job transition %s -> %s", current.Status, status)
}

// RecordStage appends one stage outcome and, on success, advances the
// last-completed-stage marker used for retry resume.
func (s *jobStore) RecordStage(ctx context.Context, jobID int64, outcome domain.StageOutcome) error {
	var tag string
	var args []any
	if outcome.Success {
		tag = `
			UPDATE jobs SET
				stages = stages || $2::jsonb,
				last_completed_stage = $3,
				updated_at = now()
			WHERE id = $1`
		args = []any{jobID, []domain.StageOutcome{outcome}, outcome.Stage}
	} else {
		tag = `
			UPDATE jobs SET
				stages = stages || $2::jsonb,
				failed_stage = $3,
				error = $4,
				updated_at = now()
			WHERE id = $1`
		args = []any{jobID, []domain.StageOutcome{outcome}, outcome.Stage, outcome.Error}
	}

	result, err := s.pool.Exec(ctx, tag, args...)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Finish writes the terminal snapshot of a run.
func (s *jobStore) Finish(ctx context.Context, job *domain.Job) error {
	result, err := s.pool.Exec(ctx, `
		UPDATE jobs SET
			status = $2, attempt = $3, last_completed_stage = $4,
			failed_stage = $5, error = $6, created_tasks = $7,
			is_multi_task = $8, processing_time_ms = $9, updated_at = now()
		WHERE id = $1`,
		job.ID, job.Status, job.Attempt, job.LastCompletedStage,
		job.FailedStage, job.Error, job.CreatedTasks,
		job.IsMultiTask, job.ProcessingTime.Milliseconds(),
	)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *jobStore) ListByThread(ctx context.Context, threadID string, limit int32) ([]domain.Job, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT`+jobColumns+`
		FROM jobs WHERE thread_id = $1
		ORDER BY created_at DESC
		LIMIT $2`,
		threadID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

func scanJob(row pgx.Row) (*domain.Job, error) {
	var job domain.Job
	var processingMS int64
	err := row.Scan(
		&job.ID, &job.ThreadID, &job.TeamID, &job.Source, &job.Status,
		&job.Attempt, &job.LastCompletedStage, &job.FailedStage, &job.Error,
		&job.Stages, &job.CreatedTasks, &job.IsMultiTask, &processingMS,
		&job.CreatedAt, &job.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning job: %w", err)
	}
	job.ProcessingTime = time.Duration(processingMS) * time.Millisecond
	return &job, nil
}
