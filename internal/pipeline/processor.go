// Package pipeline sequences one discussion through validation, config
// loading, thread building, analysis, task creation, and acknowledgement.
// Every stage failure carries a retryable flag and the stage it occurred at;
// the caller decides requeue versus dead-letter from that flag alone.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"tasksync.app/tasksync/common/logger"
	"tasksync.app/tasksync/internal/analysis"
	"tasksync.app/tasksync/internal/domain"
	"tasksync.app/tasksync/internal/mapper"
	"tasksync.app/tasksync/internal/sink"
	"tasksync.app/tasksync/internal/source"
	"tasksync.app/tasksync/internal/store"
)

// Analyzer is the analysis surface the processor depends on.
type Analyzer interface {
	Analyze(ctx context.Context, thread *domain.DiscussionThread, opts analysis.Options) (*domain.AnalysisResult, error)
}

// Options tune a single processing run.
type Options struct {
	// SkipAI substitutes a minimal pass-through summary and task instead of
	// invoking the model, regardless of the team's AI toggle.
	SkipAI bool
	// SkipCreate runs analysis but creates no destination records.
	SkipCreate bool
	// Manual marks an operator-initiated run, which proceeds even when the
	// team has auto-processing switched off.
	Manual bool
}

// Processor is the pipeline orchestrator. It is stateless across runs; the
// analysis cache and the sink's throttle clock are owned by the injected
// components.
type Processor struct {
	registry   *source.Registry
	analyzer   Analyzer
	sink       sink.Sink
	configs    store.SourceConfigStore
	jobs       store.JobStore
	identities store.IdentityStore
}

func NewProcessor(registry *source.Registry, analyzer Analyzer, taskSink sink.Sink, stores *store.Stores) *Processor {
	return &Processor{
		registry:   registry,
		analyzer:   analyzer,
		sink:       taskSink,
		configs:    stores.SourceConfigs,
		jobs:       stores.Jobs,
		identities: stores.Identities,
	}
}

// run carries the state threaded through one execution's stages.
type run struct {
	parsed   *domain.ParsedDiscussion
	job      *domain.Job
	opts     Options
	adapter  source.Adapter
	cfg      *domain.SourceConfig
	thread   *domain.DiscussionThread
	analysis *domain.AnalysisResult
	result   *domain.ProcessingResult
	deferred bool
}

// ProcessDiscussion executes the stage sequence for one parsed discussion.
// Stages already completed on a previous attempt that produced durable output
// (task creation) are not repeated; cheap stages re-run so the in-memory
// state they feed forward is rebuilt.
func (p *Processor) ProcessDiscussion(ctx context.Context, parsed *domain.ParsedDiscussion, job *domain.Job, opts Options) (*domain.ProcessingResult, error) {
	start := time.Now()
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		JobID:     logger.Ptr(job.ID),
		TeamID:    logger.Ptr(parsed.TeamID),
		Source:    logger.Ptr(string(parsed.Source)),
		ThreadID:  logger.Ptr(parsed.ThreadID),
		Component: "tasksync.pipeline",
	})

	r := &run{
		parsed: parsed,
		job:    job,
		opts:   opts,
		result: &domain.ProcessingResult{ThreadID: parsed.ThreadID},
	}

	stages := []struct {
		stage domain.Stage
		fn    func(context.Context, *run) error
	}{
		{domain.StageValidating, p.validate},
		{domain.StageLoadingConfig, p.loadConfig},
		{domain.StageBuildingThread, p.buildThread},
		{domain.StageAnalyzing, p.analyze},
		{domain.StageMappingAndCreating, p.mapAndCreate},
		{domain.StageAcknowledging, p.acknowledge},
	}

	var failure error
	for _, s := range stages {
		if err := p.runStage(ctx, r, s.stage, s.fn); err != nil {
			failure = err
			break
		}
		if r.deferred {
			break
		}
	}

	r.result.ProcessingTime = time.Since(start)
	r.result.Deferred = r.deferred
	job.ProcessingTime = r.result.ProcessingTime
	job.CreatedTasks = r.result.CreatedTasks
	job.IsMultiTask = r.result.IsMultiTask
	if r.analysis != nil {
		r.result.Analysis = r.analysis
	}

	if failure != nil {
		if domain.IsRetryable(failure) {
			p.reflectStatus(ctx, r, domain.StatusRetrying)
		} else {
			p.reflectStatus(ctx, r, domain.StatusFailed)
		}
		return r.result, failure
	}
	return r.result, nil
}

// runStage executes one stage, persists its outcome, and normalizes any
// failure into a StageError whose retryable flag comes from the component.
func (p *Processor) runStage(ctx context.Context, r *run, stage domain.Stage, fn func(context.Context, *run) error) error {
	ctx = logger.WithLogFields(ctx, logger.LogFields{Stage: logger.Ptr(string(stage))})

	err := fn(ctx, r)

	outcome := domain.StageOutcome{
		Stage:      stage,
		Success:    err == nil,
		FinishedAt: time.Now().UTC(),
	}
	if err != nil {
		outcome.Error = logger.Ptr(err.Error())
	}
	if recErr := p.jobs.RecordStage(ctx, r.job.ID, outcome); recErr != nil {
		slog.WarnContext(ctx, "recording stage outcome failed", "error", recErr)
	}

	if err == nil {
		r.job.LastCompletedStage = logger.Ptr(stage)
		return nil
	}

	r.job.FailedStage = logger.Ptr(stage)
	r.job.Error = logger.Ptr(err.Error())

	var se *domain.StageError
	if errors.As(err, &se) {
		return err
	}
	if domain.IsTransient(err) {
		return domain.NewRetryableError(stage, err)
	}
	return domain.NewStageError(stage, err)
}

func (p *Processor) validate(ctx context.Context, r *run) error {
	if missing := r.parsed.Validate(); len(missing) > 0 {
		return domain.NewStageError(domain.StageValidating,
			fmt.Errorf("discussion missing required fields: %v", missing))
	}
	if _, err := domain.ParseThreadID(r.parsed.ThreadID); err != nil {
		return domain.NewStageError(domain.StageValidating, err)
	}
	return nil
}

func (p *Processor) loadConfig(ctx context.Context, r *run) error {
	adapter, err := p.registry.Get(r.parsed.Source)
	if err != nil {
		return domain.NewStageError(domain.StageLoadingConfig, err)
	}
	r.adapter = adapter

	cfg, err := p.configs.GetActive(ctx, r.parsed.TeamID, r.parsed.Source)
	if errors.Is(err, store.ErrNotFound) {
		return domain.NewStageError(domain.StageLoadingConfig,
			fmt.Errorf("team %s has no active %s configuration", r.parsed.TeamID, r.parsed.Source))
	}
	if err != nil {
		// Database unavailability is worth retrying.
		return domain.NewRetryableError(domain.StageLoadingConfig, err)
	}
	r.cfg = cfg

	if !cfg.AutoProcess && !r.opts.Manual {
		r.deferred = true
		slog.InfoContext(ctx, "auto-process disabled for team, holding discussion for manual run")
		return nil
	}

	p.reflectStatus(ctx, r, domain.StatusProcessing)
	return nil
}

func (p *Processor) buildThread(ctx context.Context, r *run) error {
	thread, err := r.adapter.FetchThread(ctx, r.parsed.ThreadID, r.cfg)
	if errors.Is(err, source.ErrFetchUnsupported) {
		thread = synthesizeThread(r.parsed)
		err = nil
	}
	if err != nil {
		if domain.IsTransient(err) {
			return domain.NewRetryableError(domain.StageBuildingThread, err)
		}
		return domain.NewStageError(domain.StageBuildingThread, err)
	}

	// The trigger token is not conversational content.
	thread.RootMessage.Content = FilterMentions(thread.RootMessage.Content, r.cfg.BotHandle)
	for i := range thread.Replies {
		thread.Replies[i].Content = FilterMentions(thread.Replies[i].Content, r.cfg.BotHandle)
	}

	r.thread = thread
	return nil
}

func (p *Processor) analyze(ctx context.Context, r *run) error {
	if r.opts.SkipAI || !r.cfg.AIEnabled || p.analyzer == nil {
		r.analysis = passthroughAnalysis(r.parsed, r.thread)
		slog.InfoContext(ctx, "analysis skipped, using pass-through result")
	} else {
		result, err := p.analyzer.Analyze(ctx, r.thread, analysis.Options{
			SummaryPrompt:    r.cfg.SummaryPrompt,
			TaskPrompt:       r.cfg.TaskPrompt,
			AvailableDomains: r.cfg.AvailableDomains,
		})
		if err != nil {
			if domain.IsTransient(err) {
				return domain.NewRetryableError(domain.StageAnalyzing, err)
			}
			return domain.NewStageError(domain.StageAnalyzing, err)
		}
		r.analysis = result
		r.result.IsMultiTask = result.TaskDetection.IsMultiTask
	}

	if domain.CanTransition(r.job.Status, domain.JobAnalyzed) {
		if err := p.jobs.SetStatus(ctx, r.job.ID, domain.JobAnalyzed); err != nil {
			slog.WarnContext(ctx, "marking job analyzed failed", "error", err)
		}
		r.job.Status = domain.JobAnalyzed
	}
	p.reflectStatus(ctx, r, domain.StatusAnalyzed)
	return nil
}

func (p *Processor) mapAndCreate(ctx context.Context, r *run) error {
	if r.opts.SkipCreate {
		return nil
	}

	// A prior attempt already created records for this thread; do not
	// duplicate them on resume.
	if stageCompleted(r.job, domain.StageMappingAndCreating) && len(r.job.CreatedTasks) > 0 {
		r.result.CreatedTasks = r.job.CreatedTasks
		slog.InfoContext(ctx, "reusing created tasks from prior attempt", "count", len(r.job.CreatedTasks))
		return nil
	}

	tasks := r.analysis.TaskDetection.Tasks
	if len(tasks) == 0 {
		slog.InfoContext(ctx, "no tasks detected, nothing to create")
		return nil
	}

	lookup := func(ctx context.Context, sourceUserID string) (string, bool, error) {
		return p.identities.Resolve(ctx, r.cfg.TeamID, r.cfg.Source, sourceUserID)
	}

	batch := make([]sink.TaskRequest, 0, len(tasks))
	for _, task := range tasks {
		props, warnings, err := mapper.Apply(ctx, task, r.cfg.FieldMapping, lookup)
		if err != nil {
			return domain.NewRetryableError(domain.StageMappingAndCreating, err)
		}
		for _, w := range warnings {
			slog.WarnContext(ctx, "field mapping skipped a value", "task", task.Title, "warning", w)
		}

		req := sink.TaskRequest{
			Task:         task,
			Properties:   props,
			Participants: r.thread.Participants,
			ThreadText:   r.thread.PlainText(),
			SourceURL:    r.parsed.URL,
		}
		if r.analysis != nil {
			req.Summary = r.analysis.Summary
		}
		batch = append(batch, req)
	}

	refs, taskErrors := p.sink.CreateTasks(ctx, r.cfg, batch)
	r.result.CreatedTasks = refs
	r.result.TaskErrors = taskErrors
	for _, e := range taskErrors {
		slog.WarnContext(ctx, "task creation failed for one item", "error", e)
	}

	// Partial failure is tolerated; a batch with zero successes is not.
	if len(refs) == 0 {
		return domain.NewRetryableError(domain.StageMappingAndCreating,
			fmt.Errorf("all %d task creations failed", len(batch)))
	}
	return nil
}

// acknowledge is best-effort: a reply or status failure is logged and never
// fails the job.
func (p *Processor) acknowledge(ctx context.Context, r *run) error {
	if r.cfg.PostAck {
		if ok := r.adapter.PostReply(ctx, r.parsed.ThreadID, ackMessage(r.result), r.cfg); !ok {
			slog.WarnContext(ctx, "acknowledgement reply failed")
		}
	}
	p.reflectStatus(ctx, r, domain.StatusCompleted)
	return nil
}

func (p *Processor) reflectStatus(ctx context.Context, r *run, status domain.DiscussionStatus) {
	if r.adapter == nil || r.cfg == nil {
		return
	}
	if ok := r.adapter.UpdateStatus(ctx, r.parsed.ThreadID, status, r.cfg); !ok {
		slog.DebugContext(ctx, "status indicator update failed", "status", status)
	}
}

// synthesizeThread builds a single-message thread for sources with no thread
// API. The root content is the parsed discussion's content verbatim.
func synthesizeThread(parsed *domain.ParsedDiscussion) *domain.DiscussionThread {
	id, _ := domain.ParseThreadID(parsed.ThreadID)
	participants := parsed.Participants
	if len(participants) == 0 {
		participants = []string{parsed.Author}
	}
	return &domain.DiscussionThread{
		ID: parsed.ThreadID,
		RootMessage: domain.ThreadMessage{
			ID:           id.SubID,
			AuthorHandle: parsed.Author,
			Content:      parsed.Content,
			Timestamp:    parsed.Timestamp,
		},
		Participants: participants,
		Metadata:     parsed.Metadata,
	}
}

// passthroughAnalysis substitutes a minimal summary and one task when AI is
// disabled or skipped.
func passthroughAnalysis(parsed *domain.ParsedDiscussion, thread *domain.DiscussionThread) *domain.AnalysisResult {
	return &domain.AnalysisResult{
		Summary: domain.AISummary{
			Summary: parsed.Title,
		},
		TaskDetection: domain.TaskDetectionResult{
			Tasks: []domain.DetectedTask{{
				Title:       parsed.Title,
				Description: thread.RootMessage.Content,
			}},
			Confidence: 1,
		},
	}
}

func ackMessage(result *domain.ProcessingResult) string {
	switch len(result.CreatedTasks) {
	case 0:
		return "Looked at this discussion; no actionable tasks were created."
	case 1:
		return "Created 1 task: " + result.CreatedTasks[0].URL
	default:
		msg := fmt.Sprintf("Created %d tasks:", len(result.CreatedTasks))
		for _, ref := range result.CreatedTasks {
			msg += "\n- " + ref.URL
		}
		return msg
	}
}

// stageCompleted reports whether a prior attempt finished the given stage.
func stageCompleted(job *domain.Job, stage domain.Stage) bool {
	if job.LastCompletedStage == nil {
		return false
	}
	order := domain.Stages()
	rank := func(s domain.Stage) int {
		for i, candidate := range order {
			if candidate == s {
				return i
			}
		}
		return -1
	}
	return rank(*job.LastCompletedStage) >= rank(stage)
}
