package analysis

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"tasksync.app/tasksync/core/config"
	"tasksync.app/tasksync/internal/domain"
)

// Options are the per-call analysis knobs, sourced from the team's config.
type Options struct {
	SummaryPrompt    string
	TaskPrompt       string
	AvailableDomains []string
}

// Engine wraps the LLM behind a content-addressed cache and a bounded
// retry policy. It owns no state beyond the cache.
type Engine struct {
	client      Client
	cache       *ResultCache
	maxAttempts int
	callTimeout time.Duration
}

func NewEngine(client Client, cache *ResultCache, cfg config.AnalyzeConfig) *Engine {
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 4
	}
	return &Engine{
		client:      client,
		cache:       cache,
		maxAttempts: maxAttempts,
		callTimeout: cfg.CallTimeout,
	}
}

// Analyze produces a summary and task detection for the thread. Identical
// (content, options) pairs hit the cache and never re-invoke the model.
func (e *Engine) Analyze(ctx context.Context, thread *domain.DiscussionThread, opts Options) (*domain.AnalysisResult, error) {
	key := e.cacheKey(thread, opts)

	if cached, ok := e.cache.Get(key); ok {
		slog.DebugContext(ctx, "analysis cache hit", "fingerprint", key[:12])
		result := *cached
		result.Cached = true
		return &result, nil
	}

	start := time.Now()
	text := thread.PlainText()

	// The two calls are order-independent, so they run in parallel.
	var (
		wg      sync.WaitGroup
		summary domain.AISummary
		tasks   domain.TaskDetectionResult
		sumErr  error
		taskErr error
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		summary, sumErr = e.summarize(ctx, text, opts)
	}()
	go func() {
		defer wg.Done()
		tasks, taskErr = e.detectTasks(ctx, text, opts)
	}()
	wg.Wait()

	if sumErr != nil {
		return nil, fmt.Errorf("summarizing thread: %w", sumErr)
	}
	if taskErr != nil {
		return nil, fmt.Errorf("detecting tasks: %w", taskErr)
	}

	result := domain.AnalysisResult{
		Summary:        summary,
		TaskDetection:  tasks,
		ProcessingTime: time.Since(start),
	}
	e.cache.Set(key, result)

	return &result, nil
}

// cacheKey fingerprints the thread's message contents plus the effective
// prompt options. Two threads with identical content and options share a key.
func (e *Engine) cacheKey(thread *domain.DiscussionThread, opts Options) string {
	h := sha256.New()
	for _, m := range thread.Messages() {
		h.Write([]byte(m.AuthorHandle))
		h.Write([]byte{0})
		h.Write([]byte(m.Content))
		h.Write([]byte{0})
	}
	h.Write([]byte(opts.SummaryPrompt))
	h.Write([]byte{0})
	h.Write([]byte(opts.TaskPrompt))
	h.Write([]byte{0})
	h.Write([]byte(strings.Join(opts.AvailableDomains, ",")))
	h.Write([]byte{0})
	h.Write([]byte(e.client.Model()))
	return hex.EncodeToString(h.Sum(nil))
}

// summaryPayload is the wire shape of the summary tool call. Pointer fields
// encode the enumerated-value-or-null contract.
type summaryPayload struct {
	Summary         string   `json:"summary" jsonschema:"description=Concise summary of the discussion"`
	KeyPoints       []string `json:"key_points" jsonschema:"description=Ordered key points"`
	Sentiment       *string  `json:"sentiment" jsonschema:"description=positive / neutral / negative or null"`
	Confidence      *float64 `json:"confidence" jsonschema:"description=0 to 1 or null"`
	RoutingCategory *string  `json:"routing_category" jsonschema:"description=Team area or null"`
}

type taskPayload struct {
	Title           string   `json:"title"`
	Description     string   `json:"description"`
	ActionItems     []string `json:"action_items"`
	Priority        *string  `json:"priority" jsonschema:"description=urgent / high / medium / low or null"`
	Type            *string  `json:"type" jsonschema:"description=bug / feature / chore / design / docs or null"`
	Assignee        *string  `json:"assignee" jsonschema:"description=Email or handle or null"`
	RoutingCategory *string  `json:"routing_category" jsonschema:"description=Team area or null"`
}

type taskDetectionPayload struct {
	IsMultiTask bool          `json:"is_multi_task"`
	Tasks       []taskPayload `json:"tasks"`
	Confidence  float64       `json:"confidence" jsonschema:"description=Overall confidence 0 to 1"`
}

func (e *Engine) summarize(ctx context.Context, text string, opts Options) (domain.AISummary, error) {
	raw, err := e.extractWithRetry(ctx, ExtractRequest{
		System:   buildSummaryPrompt(opts.SummaryPrompt, opts.AvailableDomains),
		User:     text,
		ToolName: "record_summary",
		ToolDesc: "Record the discussion summary.",
		Schema:   GenerateSchema(&summaryPayload{}),
	})
	if err != nil {
		return domain.AISummary{}, err
	}

	var payload summaryPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return domain.AISummary{}, fmt.Errorf("parsing summary output: %w", err)
	}

	return domain.AISummary{
		Summary:         payload.Summary,
		KeyPoints:       payload.KeyPoints,
		Sentiment:       optFromPtr(payload.Sentiment),
		Confidence:      optFromPtr(payload.Confidence),
		RoutingCategory: normalizeDomain(optFromPtr(payload.RoutingCategory), opts.AvailableDomains),
	}, nil
}

func (e *Engine) detectTasks(ctx context.Context, text string, opts Options) (domain.TaskDetectionResult, error) {
	raw, err := e.extractWithRetry(ctx, ExtractRequest{
		System:   buildTaskPrompt(opts.TaskPrompt, opts.AvailableDomains),
		User:     text,
		ToolName: "record_tasks",
		ToolDesc: "Record the detected work items.",
		Schema:   GenerateSchema(&taskDetectionPayload{}),
	})
	if err != nil {
		return domain.TaskDetectionResult{}, err
	}

	var payload taskDetectionPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return domain.TaskDetectionResult{}, fmt.Errorf("parsing task detection output: %w", err)
	}

	result := domain.TaskDetectionResult{
		IsMultiTask: payload.IsMultiTask,
		Confidence:  payload.Confidence,
	}
	for _, t := range payload.Tasks {
		result.Tasks = append(result.Tasks, domain.DetectedTask{
			Title:           t.Title,
			Description:     t.Description,
			ActionItems:     t.ActionItems,
			Priority:        enumOpt[domain.TaskPriority](t.Priority),
			Kind:            enumOpt[domain.TaskKind](t.Type),
			Assignee:        optFromPtr(t.Assignee),
			RoutingCategory: normalizeDomain(optFromPtr(t.RoutingCategory), opts.AvailableDomains),
		})
	}
	if payload.IsMultiTask && len(result.Tasks) < 2 {
		result.IsMultiTask = false
	}

	return result, nil
}

// extractWithRetry retries only transient failures, with exponential backoff
// capped at 8s. Malformed-output and auth errors fail immediately.
func (e *Engine) extractWithRetry(ctx context.Context, req ExtractRequest) (string, error) {
	const (
		baseDelay = 500 * time.Millisecond
		maxDelay  = 8 * time.Second
	)

	var lastErr error
	delay := baseDelay
	for attempt := 1; attempt <= e.maxAttempts; attempt++ {
		callCtx := ctx
		var cancel context.CancelFunc
		if e.callTimeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, e.callTimeout)
		}
		raw, err := e.client.Extract(callCtx, req)
		if cancel != nil {
			cancel()
		}
		if err == nil {
			return raw, nil
		}
		lastErr = err

		if !domain.IsTransient(err) {
			return "", err
		}
		if attempt == e.maxAttempts {
			break
		}

		slog.WarnContext(ctx, "transient llm failure, retrying",
			"tool", req.ToolName,
			"attempt", attempt,
			"delay", delay.String(),
			"error", err)

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}

	return "", fmt.Errorf("llm call failed after %d attempts: %w", e.maxAttempts, lastErr)
}

func optFromPtr[T any](p *T) domain.Opt[T] {
	if p == nil {
		return domain.Unknown[T]()
	}
	return domain.Known(*p)
}

func enumOpt[T ~string](p *string) domain.Opt[T] {
	if p == nil || *p == "" {
		return domain.Unknown[T]()
	}
	return domain.Known(T(strings.ToLower(*p)))
}

// normalizeDomain forces a routing category outside the allowed set to
// Unknown before it leaves the engine.
func normalizeDomain(category domain.Opt[string], available []string) domain.Opt[string] {
	if len(available) == 0 {
		return category
	}
	v, ok := category.Get()
	if !ok {
		return category
	}
	for _, d := range available {
		if strings.EqualFold(d, v) {
			return category
		}
	}
	return domain.Unknown[string]()
}
