package analysis

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"tasksync.app/tasksync/core/config"
	"tasksync.app/tasksync/internal/domain"
)

type fakeClient struct {
	calls     atomic.Int64
	summary   string
	tasks     string
	failTimes int64
	failWith  error
}

func (f *fakeClient) Extract(ctx context.Context, req ExtractRequest) (string, error) {
	n := f.calls.Add(1)
	if f.failWith != nil && n <= f.failTimes {
		return "", f.failWith
	}
	if req.ToolName == "record_summary" {
		return f.summary, nil
	}
	return f.tasks, nil
}

func (f *fakeClient) Model() string {
	return "fake-model"
}

func testThread(content string) *domain.DiscussionThread {
	return &domain.DiscussionThread{
		ID: "C1:100.200",
		RootMessage: domain.ThreadMessage{
			ID:           "100.200",
			AuthorHandle: "alice",
			Content:      content,
			Timestamp:    time.Unix(1700000000, 0),
		},
		Participants: []string{"alice"},
	}
}

func testEngine(client Client) *Engine {
	return NewEngine(client, NewResultCache(time.Hour, 10), config.AnalyzeConfig{
		MaxAttempts: 3,
	})
}

const summaryJSON = `{"summary":"Login breaks on mobile","key_points":["reported by alice"],"sentiment":"negative","confidence":0.9,"routing_category":null}`
const tasksJSON = `{"is_multi_task":false,"tasks":[{"title":"Fix login","description":"Mobile login broken","action_items":["reproduce"],"priority":"high","type":"bug","assignee":null,"routing_category":"platform"}],"confidence":0.8}`

func TestAnalyzeCachesSecondCall(t *testing.T) {
	client := &fakeClient{summary: summaryJSON, tasks: tasksJSON}
	engine := testEngine(client)
	thread := testThread("login is broken on mobile")

	first, err := engine.Analyze(context.Background(), thread, Options{})
	if err != nil {
		t.Fatalf("first analyze: %v", err)
	}
	if first.Cached {
		t.Error("first call must not be cached")
	}

	callsAfterFirst := client.calls.Load()
	if callsAfterFirst != 2 {
		t.Fatalf("expected 2 model calls, got %d", callsAfterFirst)
	}

	second, err := engine.Analyze(context.Background(), thread, Options{})
	if err != nil {
		t.Fatalf("second analyze: %v", err)
	}
	if !second.Cached {
		t.Error("second call must be cached")
	}
	if client.calls.Load() != callsAfterFirst {
		t.Error("cache hit must not re-invoke the model")
	}
	if second.Summary.Summary != first.Summary.Summary {
		t.Error("cached result differs from original")
	}
}

func TestAnalyzeDifferentOptionsMiss(t *testing.T) {
	client := &fakeClient{summary: summaryJSON, tasks: tasksJSON}
	engine := testEngine(client)
	thread := testThread("same content")

	if _, err := engine.Analyze(context.Background(), thread, Options{}); err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if _, err := engine.Analyze(context.Background(), thread, Options{SummaryPrompt: "be terse"}); err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if client.calls.Load() != 4 {
		t.Errorf("changed options must bypass the cache, got %d calls", client.calls.Load())
	}
}

func TestAnalyzeNullPassthrough(t *testing.T) {
	client := &fakeClient{summary: summaryJSON, tasks: tasksJSON}
	engine := testEngine(client)

	result, err := engine.Analyze(context.Background(), testThread("x"), Options{})
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}

	task := result.TaskDetection.Tasks[0]
	if task.Assignee.Known() {
		t.Error("null assignee must stay unknown")
	}
	if v, ok := task.Priority.Get(); !ok || v != domain.PriorityHigh {
		t.Errorf("priority = %v, want high", task.Priority)
	}
	if result.Summary.RoutingCategory.Known() {
		t.Error("null routing category must stay unknown")
	}
}

func TestAnalyzeNormalizesRoutingCategory(t *testing.T) {
	client := &fakeClient{summary: summaryJSON, tasks: tasksJSON}
	engine := testEngine(client)

	// "platform" is outside the allowed set and must normalize to unknown.
	result, err := engine.Analyze(context.Background(), testThread("x"), Options{
		AvailableDomains: []string{"mobile", "web"},
	})
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if result.TaskDetection.Tasks[0].RoutingCategory.Known() {
		t.Error("out-of-set routing category must be normalized to unknown")
	}
}

func TestAnalyzeRetriesTransient(t *testing.T) {
	client := &fakeClient{
		summary:   summaryJSON,
		tasks:     tasksJSON,
		failTimes: 2,
		failWith:  domain.MarkTransient(errors.New("rate limited")),
	}
	engine := testEngine(client)

	if _, err := engine.Analyze(context.Background(), testThread("x"), Options{}); err != nil {
		t.Fatalf("analyze should survive transient failures: %v", err)
	}
}

func TestAnalyzeDoesNotRetryPermanent(t *testing.T) {
	client := &fakeClient{
		summary:   summaryJSON,
		tasks:     tasksJSON,
		failTimes: 100,
		failWith:  errors.New("invalid api key"),
	}
	engine := testEngine(client)

	if _, err := engine.Analyze(context.Background(), testThread("x"), Options{}); err == nil {
		t.Fatal("permanent failure must surface")
	}
	// Both parallel calls fail once each; neither may retry.
	if client.calls.Load() > 2 {
		t.Errorf("permanent failure retried: %d calls", client.calls.Load())
	}
}

func TestResultCacheEvictsOldest(t *testing.T) {
	cache := NewResultCache(time.Hour, 2)
	cache.Set("a", domain.AnalysisResult{})
	cache.Set("b", domain.AnalysisResult{})
	cache.Set("c", domain.AnalysisResult{})

	if _, ok := cache.Get("a"); ok {
		t.Error("oldest entry must be evicted at the ceiling")
	}
	if _, ok := cache.Get("b"); !ok {
		t.Error("entry b should survive")
	}
	if _, ok := cache.Get("c"); !ok {
		t.Error("entry c should survive")
	}
}
