package pipeline_test

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"tasksync.app/tasksync/internal/analysis"
	"tasksync.app/tasksync/internal/domain"
	"tasksync.app/tasksync/internal/pipeline"
	"tasksync.app/tasksync/internal/sink"
	"tasksync.app/tasksync/internal/source"
	"tasksync.app/tasksync/internal/store"
)

type fakeAdapter struct {
	sourceType domain.SourceType
	thread     *domain.DiscussionThread
	fetchErr   error
	fetchCalls int
	replies    []string
	replyOK    bool
	statuses   []domain.DiscussionStatus
}

func (f *fakeAdapter) Source() domain.SourceType { return f.sourceType }

func (f *fakeAdapter) ParseIncoming(context.Context, []byte) (*domain.ParsedDiscussion, error) {
	return nil, errors.New("not used")
}

func (f *fakeAdapter) FetchThread(_ context.Context, threadID string, _ *domain.SourceConfig) (*domain.DiscussionThread, error) {
	f.fetchCalls++
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	copied := *f.thread
	copied.Replies = append([]domain.ThreadMessage(nil), f.thread.Replies...)
	return &copied, nil
}

func (f *fakeAdapter) PostReply(_ context.Context, _, message string, _ *domain.SourceConfig) bool {
	f.replies = append(f.replies, message)
	return f.replyOK
}

func (f *fakeAdapter) UpdateStatus(_ context.Context, _ string, status domain.DiscussionStatus, _ *domain.SourceConfig) bool {
	f.statuses = append(f.statuses, status)
	return true
}

func (f *fakeAdapter) ValidateConfig(*domain.SourceConfig) error { return nil }

func (f *fakeAdapter) TestConnection(context.Context, *domain.SourceConfig) error { return nil }

type fakeAnalyzer struct {
	result *domain.AnalysisResult
	err    error
	calls  int
	seen   []*domain.DiscussionThread
}

func (f *fakeAnalyzer) Analyze(_ context.Context, thread *domain.DiscussionThread, _ analysis.Options) (*domain.AnalysisResult, error) {
	f.calls++
	f.seen = append(f.seen, thread)
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type fakeSink struct {
	refs    []domain.CreatedTaskRef
	errs    []string
	batches [][]sink.TaskRequest
}

func (f *fakeSink) CreateTasks(_ context.Context, _ *domain.SourceConfig, batch []sink.TaskRequest) ([]domain.CreatedTaskRef, []string) {
	f.batches = append(f.batches, batch)
	return f.refs, f.errs
}

func (f *fakeSink) TestConnection(context.Context, *domain.SourceConfig) error { return nil }

type fakeConfigs struct {
	cfg *domain.SourceConfig
	err error
}

func (f *fakeConfigs) Create(_ context.Context, cfg *domain.SourceConfig) (*domain.SourceConfig, error) {
	return cfg, nil
}
func (f *fakeConfigs) Update(context.Context, *domain.SourceConfig) error { return nil }
func (f *fakeConfigs) GetActive(context.Context, string, domain.SourceType) (*domain.SourceConfig, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.cfg, nil
}
func (f *fakeConfigs) TeamIDBySlug(context.Context, string) (string, bool, error) {
	return "", false, nil
}
func (f *fakeConfigs) TeamIDByWebhookSecret(context.Context, domain.SourceType, string) (string, bool, error) {
	return "", false, nil
}

type fakeJobs struct {
	outcomes []domain.StageOutcome
}

func (f *fakeJobs) Create(_ context.Context, job *domain.Job) (*domain.Job, error) { return job, nil }
func (f *fakeJobs) Get(context.Context, int64) (*domain.Job, error)                { return nil, store.ErrNotFound }
func (f *fakeJobs) SetStatus(context.Context, int64, domain.JobStatus) error       { return nil }
func (f *fakeJobs) RecordStage(_ context.Context, _ int64, outcome domain.StageOutcome) error {
	f.outcomes = append(f.outcomes, outcome)
	return nil
}
func (f *fakeJobs) Finish(context.Context, *domain.Job) error { return nil }
func (f *fakeJobs) ListByThread(context.Context, string, int32) ([]domain.Job, error) {
	return nil, nil
}

type fakeIdentities struct {
	mappings map[string]string
}

func (f *fakeIdentities) Upsert(context.Context, *domain.IdentityMapping) error { return nil }
func (f *fakeIdentities) Resolve(_ context.Context, _ string, _ domain.SourceType, sourceUserID string) (string, bool, error) {
	dest, ok := f.mappings[sourceUserID]
	return dest, ok, nil
}

var _ = Describe("Processor", func() {
	var (
		adapter   *fakeAdapter
		analyzer  *fakeAnalyzer
		taskSink  *fakeSink
		configs   *fakeConfigs
		jobs      *fakeJobs
		processor *pipeline.Processor
		parsed    *domain.ParsedDiscussion
		job       *domain.Job
	)

	BeforeEach(func() {
		adapter = &fakeAdapter{
			sourceType: domain.SourceSlack,
			replyOK:    true,
			thread: &domain.DiscussionThread{
				ID: "C1:100.1",
				RootMessage: domain.ThreadMessage{
					ID:           "100.1",
					AuthorHandle: "U1",
					Content:      "@bot the login flow is broken",
					Timestamp:    time.Unix(1700000000, 0),
				},
				Participants: []string{"U1"},
			},
		}
		analyzer = &fakeAnalyzer{
			result: &domain.AnalysisResult{
				Summary: domain.AISummary{Summary: "Login is broken"},
				TaskDetection: domain.TaskDetectionResult{
					Tasks: []domain.DetectedTask{{Title: "Fix login", Description: "broken on mobile"}},
				},
			},
		}
		taskSink = &fakeSink{
			refs: []domain.CreatedTaskRef{{ID: "p1", URL: "https://notion.so/p1"}},
		}
		configs = &fakeConfigs{
			cfg: &domain.SourceConfig{
				TeamID:      "T1",
				Source:      domain.SourceSlack,
				BotHandle:   "bot",
				AIEnabled:   true,
				AutoProcess: true,
				PostAck:     true,
				Active:      true,
			},
		}
		jobs = &fakeJobs{}

		stores := &store.Stores{
			SourceConfigs: configs,
			Jobs:          jobs,
			Identities:    &fakeIdentities{},
		}
		processor = pipeline.NewProcessor(source.NewRegistry(adapter), analyzer, taskSink, stores)

		parsed = &domain.ParsedDiscussion{
			Source:   domain.SourceSlack,
			ThreadID: "C1:100.1",
			URL:      "https://app.slack.com/thread/C1/100.1",
			TeamID:   "T1",
			Author:   "U1",
			Title:    "the login flow is broken",
			Content:  "@bot the login flow is broken",
		}
		job = &domain.Job{ID: 42, ThreadID: parsed.ThreadID, TeamID: "T1", Source: domain.SourceSlack}
	})

	It("runs every stage and reports created tasks", func() {
		result, err := processor.ProcessDiscussion(context.Background(), parsed, job, pipeline.Options{})

		Expect(err).NotTo(HaveOccurred())
		Expect(result.CreatedTasks).To(HaveLen(1))
		Expect(result.CreatedTasks[0].URL).To(Equal("https://notion.so/p1"))
		Expect(jobs.outcomes).To(HaveLen(6))
		for _, outcome := range jobs.outcomes {
			Expect(outcome.Success).To(BeTrue())
		}
		Expect(*job.LastCompletedStage).To(Equal(domain.StageAcknowledging))
		Expect(adapter.replies).To(HaveLen(1))
		Expect(adapter.replies[0]).To(ContainSubstring("https://notion.so/p1"))
		Expect(adapter.statuses).To(Equal([]domain.DiscussionStatus{
			domain.StatusProcessing,
			domain.StatusAnalyzed,
			domain.StatusCompleted,
		}))
		Expect(job.Status).To(Equal(domain.JobAnalyzed))
	})

	It("holds the discussion when auto-process is disabled", func() {
		configs.cfg.AutoProcess = false

		result, err := processor.ProcessDiscussion(context.Background(), parsed, job, pipeline.Options{})

		Expect(err).NotTo(HaveOccurred())
		Expect(result.Deferred).To(BeTrue())
		Expect(analyzer.calls).To(BeZero())
		Expect(adapter.fetchCalls).To(BeZero())
		Expect(taskSink.batches).To(BeEmpty())
		Expect(result.CreatedTasks).To(BeEmpty())
		Expect(adapter.statuses).To(BeEmpty())
		Expect(*job.LastCompletedStage).To(Equal(domain.StageLoadingConfig))
	})

	It("processes a manual run even when auto-process is disabled", func() {
		configs.cfg.AutoProcess = false

		result, err := processor.ProcessDiscussion(context.Background(), parsed, job, pipeline.Options{Manual: true})

		Expect(err).NotTo(HaveOccurred())
		Expect(result.Deferred).To(BeFalse())
		Expect(result.CreatedTasks).To(HaveLen(1))
		Expect(taskSink.batches).To(HaveLen(1))
	})

	It("filters the bot handle out of analyzed content", func() {
		_, err := processor.ProcessDiscussion(context.Background(), parsed, job, pipeline.Options{})

		Expect(err).NotTo(HaveOccurred())
		Expect(analyzer.seen).To(HaveLen(1))
		Expect(analyzer.seen[0].RootMessage.Content).To(Equal("the login flow is broken"))
	})

	It("rejects a discussion with missing fields before any external call", func() {
		parsed.Content = ""

		_, err := processor.ProcessDiscussion(context.Background(), parsed, job, pipeline.Options{})

		Expect(err).To(HaveOccurred())
		Expect(domain.IsRetryable(err)).To(BeFalse())
		stage, ok := domain.ErrorStage(err)
		Expect(ok).To(BeTrue())
		Expect(stage).To(Equal(domain.StageValidating))
		Expect(adapter.fetchCalls).To(BeZero())
		Expect(analyzer.calls).To(BeZero())
	})

	It("fails non-retryably when the team is not configured", func() {
		configs.err = store.ErrNotFound

		_, err := processor.ProcessDiscussion(context.Background(), parsed, job, pipeline.Options{})

		Expect(err).To(HaveOccurred())
		Expect(domain.IsRetryable(err)).To(BeFalse())
		stage, _ := domain.ErrorStage(err)
		Expect(stage).To(Equal(domain.StageLoadingConfig))
	})

	It("marks a transient thread fetch as retryable", func() {
		adapter.fetchErr = domain.MarkTransient(errors.New("slack 503"))

		_, err := processor.ProcessDiscussion(context.Background(), parsed, job, pipeline.Options{})

		Expect(err).To(HaveOccurred())
		Expect(domain.IsRetryable(err)).To(BeTrue())
		stage, _ := domain.ErrorStage(err)
		Expect(stage).To(Equal(domain.StageBuildingThread))
		Expect(*job.FailedStage).To(Equal(domain.StageBuildingThread))
		Expect(adapter.statuses).To(ContainElement(domain.StatusRetrying))
		Expect(adapter.statuses).NotTo(ContainElement(domain.StatusFailed))
	})

	It("substitutes a pass-through task when AI is disabled", func() {
		configs.cfg.AIEnabled = false

		result, err := processor.ProcessDiscussion(context.Background(), parsed, job, pipeline.Options{})

		Expect(err).NotTo(HaveOccurred())
		Expect(analyzer.calls).To(BeZero())
		Expect(taskSink.batches).To(HaveLen(1))
		Expect(taskSink.batches[0][0].Task.Title).To(Equal(parsed.Title))
		Expect(result.CreatedTasks).To(HaveLen(1))
	})

	It("synthesizes the thread for sources without a thread API", func() {
		adapter.fetchErr = source.ErrFetchUnsupported

		_, err := processor.ProcessDiscussion(context.Background(), parsed, job, pipeline.Options{})

		Expect(err).NotTo(HaveOccurred())
		// Round trip: the synthesized root carries the parsed content,
		// with the trigger token filtered.
		Expect(analyzer.seen[0].RootMessage.Content).To(Equal("the login flow is broken"))
		Expect(analyzer.seen[0].RootMessage.AuthorHandle).To(Equal("U1"))
	})

	It("does not recreate tasks completed by a prior attempt", func() {
		job.LastCompletedStage = ptrStage(domain.StageMappingAndCreating)
		job.CreatedTasks = []domain.CreatedTaskRef{{ID: "old", URL: "https://notion.so/old"}}

		result, err := processor.ProcessDiscussion(context.Background(), parsed, job, pipeline.Options{})

		Expect(err).NotTo(HaveOccurred())
		Expect(taskSink.batches).To(BeEmpty())
		Expect(result.CreatedTasks).To(Equal(job.CreatedTasks))
	})

	It("fails retryably when every creation in the batch fails", func() {
		taskSink.refs = nil
		taskSink.errs = []string{"task 1 (Fix login): notion 500"}

		result, err := processor.ProcessDiscussion(context.Background(), parsed, job, pipeline.Options{})

		Expect(err).To(HaveOccurred())
		Expect(domain.IsRetryable(err)).To(BeTrue())
		stage, _ := domain.ErrorStage(err)
		Expect(stage).To(Equal(domain.StageMappingAndCreating))
		Expect(result.TaskErrors).To(HaveLen(1))
	})

	It("treats a failed acknowledgement as recoverable", func() {
		adapter.replyOK = false

		_, err := processor.ProcessDiscussion(context.Background(), parsed, job, pipeline.Options{})

		Expect(err).NotTo(HaveOccurred())
		Expect(*job.LastCompletedStage).To(Equal(domain.StageAcknowledging))
	})

	It("skips creation when asked to", func() {
		result, err := processor.ProcessDiscussion(context.Background(), parsed, job, pipeline.Options{SkipCreate: true})

		Expect(err).NotTo(HaveOccurred())
		Expect(taskSink.batches).To(BeEmpty())
		Expect(result.CreatedTasks).To(BeEmpty())
		Expect(result.Analysis).NotTo(BeNil())
	})
})

func ptrStage(s domain.Stage) *domain.Stage { return &s }
