// Package sink creates destination records for detected tasks. The only
// implementation targets a Notion-style pages API; batches tolerate partial
// failure and creation calls are throttled process-wide.
package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"tasksync.app/tasksync/core/config"
	"tasksync.app/tasksync/internal/domain"
	"tasksync.app/tasksync/internal/mapper"
)

const (
	defaultNotionBaseURL = "https://api.notion.com"
	notionVersion        = "2022-06-28"

	// Notion caps a single rich_text content item at 2000 characters.
	richTextLimit = 2000
)

// TaskRequest is one record to create: the detected task, its mapped
// destination properties, and the context embedded in the page body.
type TaskRequest struct {
	Task         domain.DetectedTask
	Properties   map[string]mapper.Value
	Summary      domain.AISummary
	Participants []string
	ThreadText   string
	SourceURL    string
}

// Sink is the destination-record creation surface the pipeline depends on.
type Sink interface {
	CreateTasks(ctx context.Context, cfg *domain.SourceConfig, batch []TaskRequest) ([]domain.CreatedTaskRef, []string)
	TestConnection(ctx context.Context, cfg *domain.SourceConfig) error
}

// NotionSink talks to the Notion pages API. One instance is shared by every
// concurrent pipeline run so the throttle clock is process-wide.
type NotionSink struct {
	client  *http.Client
	baseURL string
	minGap  time.Duration

	mu       sync.Mutex
	nextSlot time.Time
}

func NewNotionSink(client *http.Client, cfg config.SinkConfig) *NotionSink {
	if client == nil {
		client = &http.Client{Timeout: cfg.CallTimeout}
	}
	minGap := cfg.MinCallGap
	if minGap <= 0 {
		minGap = 200 * time.Millisecond
	}
	return &NotionSink{
		client:  client,
		baseURL: defaultNotionBaseURL,
		minGap:  minGap,
	}
}

// CreateTasks creates one page per request, serially. A failed item is
// recorded and skipped; later items are still attempted. The returned refs
// hold only the successes.
func (s *NotionSink) CreateTasks(ctx context.Context, cfg *domain.SourceConfig, batch []TaskRequest) ([]domain.CreatedTaskRef, []string) {
	var refs []domain.CreatedTaskRef
	var taskErrors []string

	for i, req := range batch {
		if err := s.throttle(ctx); err != nil {
			taskErrors = append(taskErrors, fmt.Sprintf("task %d (%s): %v", i+1, req.Task.Title, err))
			break
		}
		ref, err := s.createPage(ctx, cfg, req)
		if err != nil {
			taskErrors = append(taskErrors, fmt.Sprintf("task %d (%s): %v", i+1, req.Task.Title, err))
			continue
		}
		refs = append(refs, ref)
	}

	return refs, taskErrors
}

// throttle reserves the next creation slot, spacing calls at least minGap
// apart without holding the lock across the API call itself.
func (s *NotionSink) throttle(ctx context.Context) error {
	s.mu.Lock()
	now := time.Now()
	slot := s.nextSlot
	if slot.Before(now) {
		slot = now
	}
	s.nextSlot = slot.Add(s.minGap)
	s.mu.Unlock()

	wait := time.Until(slot)
	if wait <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(wait):
		return nil
	}
}

type notionPageResponse struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

func (s *NotionSink) createPage(ctx context.Context, cfg *domain.SourceConfig, req TaskRequest) (domain.CreatedTaskRef, error) {
	body := map[string]any{
		"parent":     map[string]string{"database_id": cfg.DestinationID},
		"properties": buildProperties(req),
		"children":   buildChildren(req),
	}

	var page notionPageResponse
	if err := s.do(ctx, http.MethodPost, "/v1/pages", cfg.DestinationToken, body, &page); err != nil {
		return domain.CreatedTaskRef{}, err
	}
	return domain.CreatedTaskRef{ID: page.ID, URL: page.URL}, nil
}

// TestConnection retrieves the configured database and classifies the
// failure mode for operator-facing diagnostics.
func (s *NotionSink) TestConnection(ctx context.Context, cfg *domain.SourceConfig) error {
	err := s.do(ctx, http.MethodGet, "/v1/databases/"+cfg.DestinationID, cfg.DestinationToken, nil, nil)
	if err == nil {
		return nil
	}

	var apiErr *notionError
	if errors.As(err, &apiErr) {
		switch apiErr.Status {
		case http.StatusUnauthorized:
			return fmt.Errorf("destination token is invalid: %w", err)
		case http.StatusNotFound:
			return fmt.Errorf("destination database %s not found or not shared with the integration: %w", cfg.DestinationID, err)
		case http.StatusTooManyRequests:
			return fmt.Errorf("destination is rate limiting: %w", err)
		}
	}
	return fmt.Errorf("destination connection failed: %w", err)
}

type notionError struct {
	Status  int
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *notionError) Error() string {
	return fmt.Sprintf("notion api status %d (%s): %s", e.Status, e.Code, e.Message)
}

func (s *NotionSink) do(ctx context.Context, method, path, token string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Notion-Version", notionVersion)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return domain.MarkTransient(err)
		}
		return domain.MarkTransient(fmt.Errorf("request failed: %w", err))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.MarkTransient(fmt.Errorf("reading response: %w", err))
	}

	if resp.StatusCode >= 400 {
		apiErr := &notionError{Status: resp.StatusCode}
		_ = json.Unmarshal(data, apiErr)
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return domain.MarkTransient(apiErr)
		}
		return apiErr
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}

// buildProperties renders the title plus every mapped property. The title
// property is addressed by its fixed "title" id so the schema's display name
// does not matter.
func buildProperties(req TaskRequest) map[string]any {
	props := map[string]any{
		"title": map[string]any{
			"title": richText(req.Task.Title),
		},
	}

	for name, v := range req.Properties {
		switch v.Type {
		case domain.PropertySelect:
			props[name] = map[string]any{"select": map[string]string{"name": v.Select}}
		case domain.PropertyPerson:
			people := make([]map[string]string, 0, len(v.People))
			for _, id := range v.People {
				people = append(people, map[string]string{"id": id})
			}
			props[name] = map[string]any{"people": people}
		case domain.PropertyDate:
			props[name] = map[string]any{"date": map[string]string{"start": v.Text}}
		case domain.PropertyRichText:
			props[name] = map[string]any{"rich_text": richText(v.Text)}
		}
	}
	return props
}

// buildChildren renders the page body: summary, action items as to-dos,
// participants, the thread content, and a deep link back to the source.
func buildChildren(req TaskRequest) []map[string]any {
	var blocks []map[string]any

	if req.Summary.Summary != "" {
		blocks = append(blocks,
			heading("Summary"),
			paragraph(req.Summary.Summary),
		)
	}

	if len(req.Task.ActionItems) > 0 {
		blocks = append(blocks, heading("Action items"))
		for _, item := range req.Task.ActionItems {
			blocks = append(blocks, map[string]any{
				"object": "block",
				"type":   "to_do",
				"to_do": map[string]any{
					"rich_text": richText(item),
					"checked":   false,
				},
			})
		}
	}

	if len(req.Participants) > 0 {
		blocks = append(blocks,
			heading("Participants"),
			paragraph(strings.Join(req.Participants, ", ")),
		)
	}

	if req.ThreadText != "" {
		blocks = append(blocks, heading("Discussion"))
		for _, chunk := range chunkText(req.ThreadText, richTextLimit) {
			blocks = append(blocks, paragraph(chunk))
		}
	}

	if req.SourceURL != "" {
		blocks = append(blocks, map[string]any{
			"object":   "block",
			"type":     "bookmark",
			"bookmark": map[string]string{"url": req.SourceURL},
		})
	}

	return blocks
}

func heading(text string) map[string]any {
	return map[string]any{
		"object":    "block",
		"type":      "heading_2",
		"heading_2": map[string]any{"rich_text": richText(text)},
	}
}

func paragraph(text string) map[string]any {
	return map[string]any{
		"object":    "block",
		"type":      "paragraph",
		"paragraph": map[string]any{"rich_text": richText(text)},
	}
}

func richText(content string) []map[string]any {
	return []map[string]any{
		{"type": "text", "text": map[string]string{"content": content}},
	}
}

func chunkText(s string, limit int) []string {
	if len(s) <= limit {
		return []string{s}
	}
	var chunks []string
	runes := []rune(s)
	for len(runes) > 0 {
		n := limit
		if n > len(runes) {
			n = len(runes)
		}
		chunks = append(chunks, string(runes[:n]))
		runes = runes[n:]
	}
	return chunks
}
