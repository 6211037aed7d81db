package source

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"tasksync.app/tasksync/common/id"
	"tasksync.app/tasksync/internal/domain"
)

func init() {
	if err := id.Init(1); err != nil {
		panic(err)
	}
}

type fakeDirectory struct {
	slugs   map[string]string
	secrets map[string]string
}

func (d *fakeDirectory) TeamIDBySlug(_ context.Context, slug string) (string, bool, error) {
	team, ok := d.slugs[slug]
	return team, ok, nil
}

func (d *fakeDirectory) TeamIDByWebhookSecret(_ context.Context, _ domain.SourceType, secret string) (string, bool, error) {
	team, ok := d.secrets[secret]
	return team, ok, nil
}

func TestSlackParseIncoming(t *testing.T) {
	adapter := NewSlackAdapter(nil)

	payload := `{
		"type": "event_callback",
		"team_id": "T100",
		"event": {
			"type": "app_mention",
			"user": "U42",
			"text": "<@BOT> login is broken on mobile",
			"channel": "C9",
			"ts": "1700000100.000200",
			"thread_ts": "1700000000.000100"
		}
	}`

	parsed, err := adapter.ParseIncoming(context.Background(), []byte(payload))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if parsed.ThreadID != "C9:1700000000.000100" {
		t.Errorf("thread id = %q, want channel:thread_ts", parsed.ThreadID)
	}
	if parsed.TeamID != "T100" {
		t.Errorf("team id = %q", parsed.TeamID)
	}
	if parsed.Author != "U42" {
		t.Errorf("author = %q", parsed.Author)
	}
	if missing := parsed.Validate(); len(missing) != 0 {
		t.Errorf("parsed discussion missing fields: %v", missing)
	}
}

func TestSlackParseIncomingRejects(t *testing.T) {
	adapter := NewSlackAdapter(nil)

	tests := []struct {
		name    string
		payload string
	}{
		{
			// Missing body before any external call is made.
			name:    "no content",
			payload: `{"type":"event_callback","team_id":"T1","event":{"type":"message","user":"U1","channel":"C1","ts":"1.2"}}`,
		},
		{
			name:    "bot authored",
			payload: `{"type":"event_callback","team_id":"T1","event":{"type":"message","bot_id":"B1","text":"hi","channel":"C1","ts":"1.2"}}`,
		},
		{
			name:    "wrong envelope type",
			payload: `{"type":"url_verification","challenge":"x"}`,
		},
		{
			name:    "no team",
			payload: `{"type":"event_callback","event":{"type":"message","user":"U1","text":"hi","channel":"C1","ts":"1.2"}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := adapter.ParseIncoming(context.Background(), []byte(tt.payload)); err == nil {
				t.Error("expected rejection")
			}
		})
	}
}

func TestSlackParseFileShareSynthesizesContent(t *testing.T) {
	adapter := NewSlackAdapter(nil)

	payload := `{
		"type": "event_callback",
		"team_id": "T1",
		"event": {
			"type": "message",
			"subtype": "file_share",
			"user": "U1",
			"text": "",
			"channel": "C1",
			"ts": "1700000000.000100",
			"files": [{"name": "mock.png", "url_private": "https://files/mock.png", "mimetype": "image/png"}]
		}
	}`

	parsed, err := adapter.ParseIncoming(context.Background(), []byte(payload))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !strings.Contains(parsed.Content, "mock.png") {
		t.Errorf("content %q should name the shared file", parsed.Content)
	}
}

func TestSlackFetchThreadRoundTrip(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/conversations.replies" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"ok": true,
			"messages": []map[string]any{
				{"ts": "100.1", "user": "U1", "text": "login is broken"},
				{"ts": "100.2", "user": "U2", "text": "on which device?", "thread_ts": "100.1"},
			},
		})
	}))
	defer server.Close()

	adapter := NewSlackAdapter(server.Client())
	adapter.baseURL = server.URL

	cfg := &domain.SourceConfig{SourceToken: "xoxb-test"}
	thread, err := adapter.FetchThread(context.Background(), "C1:100.1", cfg)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if thread.RootMessage.Content != "login is broken" {
		t.Errorf("root content = %q", thread.RootMessage.Content)
	}
	if len(thread.Replies) != 1 || thread.Replies[0].AuthorHandle != "U2" {
		t.Errorf("replies = %+v", thread.Replies)
	}
	if len(thread.Participants) != 2 {
		t.Errorf("participants = %v", thread.Participants)
	}
}

func TestSlackFetchThreadNoSubIDResolvesLatestRoot(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/conversations.history" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"ok": true,
			"messages": []map[string]any{
				{"ts": "300.1", "user": "U3", "text": "newest root"},
				{"ts": "200.5", "user": "U2", "text": "threaded reply", "thread_ts": "100.1"},
				{"ts": "100.1", "user": "U1", "text": "older root"},
			},
		})
	}))
	defer server.Close()

	adapter := NewSlackAdapter(server.Client())
	adapter.baseURL = server.URL

	thread, err := adapter.FetchThread(context.Background(), "C1:", &domain.SourceConfig{SourceToken: "xoxb-test"})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if thread.RootMessage.Content != "newest root" {
		t.Errorf("root content = %q, want the most recent root-level message", thread.RootMessage.Content)
	}
}

func TestSlackFetchThreadNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"ok": false, "error": "thread_not_found"})
	}))
	defer server.Close()

	adapter := NewSlackAdapter(server.Client())
	adapter.baseURL = server.URL

	_, err := adapter.FetchThread(context.Background(), "C1:999.9", &domain.SourceConfig{SourceToken: "xoxb-test"})
	if err == nil {
		t.Fatal("expected not-found error")
	}
	if domain.IsTransient(err) {
		t.Error("not-found must be non-retryable")
	}
}

func TestSlackFetchThreadRateLimited(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	adapter := NewSlackAdapter(server.Client())
	adapter.baseURL = server.URL

	_, err := adapter.FetchThread(context.Background(), "C1:1.2", &domain.SourceConfig{SourceToken: "xoxb-test"})
	if !domain.IsTransient(err) {
		t.Errorf("rate limit must be transient, got %v", err)
	}
}

func TestSlackValidateConfig(t *testing.T) {
	adapter := NewSlackAdapter(nil)

	if err := adapter.ValidateConfig(&domain.SourceConfig{TeamID: "T1", SourceToken: "xoxb-abc"}); err != nil {
		t.Errorf("valid config rejected: %v", err)
	}
	if err := adapter.ValidateConfig(&domain.SourceConfig{TeamID: "T1", SourceToken: "xoxp-abc"}); err == nil {
		t.Error("user token must be rejected")
	}
}

func TestFigmaParseIncoming(t *testing.T) {
	directory := &fakeDirectory{secrets: map[string]string{"pass-1": "team-9"}}
	adapter := NewFigmaAdapter(nil, directory)

	payload := `{
		"event_type": "FILE_COMMENT",
		"passcode": "pass-1",
		"file_key": "FK1",
		"file_name": "Checkout Flow",
		"comment_id": "77",
		"parent_id": "55",
		"timestamp": "2026-08-20T10:00:00Z",
		"comment": [{"text": "The button color"}, {"text": "is off-brand"}],
		"triggered_by": {"id": "9", "handle": "dana"}
	}`

	parsed, err := adapter.ParseIncoming(context.Background(), []byte(payload))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if parsed.ThreadID != "FK1:55" {
		t.Errorf("thread id = %q, replies must anchor to the parent comment", parsed.ThreadID)
	}
	if parsed.TeamID != "team-9" {
		t.Errorf("team id = %q", parsed.TeamID)
	}
	if parsed.Content != "The button color\nis off-brand" {
		t.Errorf("content = %q", parsed.Content)
	}
	if missing := parsed.Validate(); len(missing) != 0 {
		t.Errorf("parsed discussion missing fields: %v", missing)
	}
}

func TestFigmaParseIncomingRejects(t *testing.T) {
	directory := &fakeDirectory{secrets: map[string]string{"pass-1": "team-9"}}
	adapter := NewFigmaAdapter(nil, directory)

	tests := []struct {
		name    string
		payload string
	}{
		{
			name:    "no body",
			payload: `{"event_type":"FILE_COMMENT","passcode":"pass-1","file_key":"FK1","comment_id":"1","comment":[]}`,
		},
		{
			name:    "unknown passcode",
			payload: `{"event_type":"FILE_COMMENT","passcode":"wrong","file_key":"FK1","comment_id":"1","comment":[{"text":"hi"}]}`,
		},
		{
			name:    "wrong event type",
			payload: `{"event_type":"FILE_UPDATE","passcode":"pass-1","file_key":"FK1"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := adapter.ParseIncoming(context.Background(), []byte(tt.payload)); err == nil {
				t.Error("expected rejection")
			}
		})
	}
}

func TestFigmaFetchThread(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Figma-Token") != "figd_test" {
			t.Errorf("missing token header")
		}
		json.NewEncoder(w).Encode(map[string]any{
			"comments": []map[string]any{
				{"id": "55", "parent_id": "", "message": "The button color is off", "user": map[string]string{"handle": "dana"}, "created_at": "2026-08-20T10:00:00Z"},
				{"id": "77", "parent_id": "55", "message": "Agreed, needs the brand palette", "user": map[string]string{"handle": "li"}, "created_at": "2026-08-20T10:05:00Z"},
				{"id": "90", "parent_id": "", "message": "Unrelated root", "user": map[string]string{"handle": "sam"}, "created_at": "2026-08-21T08:00:00Z"},
			},
		})
	}))
	defer server.Close()

	adapter := NewFigmaAdapter(server.Client(), &fakeDirectory{})
	adapter.baseURL = server.URL
	cfg := &domain.SourceConfig{SourceToken: "figd_test"}

	thread, err := adapter.FetchThread(context.Background(), "FK1:55", cfg)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if thread.RootMessage.Content != "The button color is off" {
		t.Errorf("root content = %q", thread.RootMessage.Content)
	}
	if len(thread.Replies) != 1 || thread.Replies[0].AuthorHandle != "li" {
		t.Errorf("replies = %+v", thread.Replies)
	}

	// Empty sub-id resolves to the newest root-level comment.
	latest, err := adapter.FetchThread(context.Background(), "FK1:", cfg)
	if err != nil {
		t.Fatalf("fetch latest: %v", err)
	}
	if latest.RootMessage.Content != "Unrelated root" {
		t.Errorf("latest root = %q", latest.RootMessage.Content)
	}

	// Missing sub-id is a non-retryable not-found.
	_, err = adapter.FetchThread(context.Background(), "FK1:404", cfg)
	if err == nil {
		t.Fatal("expected not-found error")
	}
	if domain.IsTransient(err) {
		t.Error("not-found must be non-retryable")
	}
}

func TestEmailParseIncoming(t *testing.T) {
	directory := &fakeDirectory{slugs: map[string]string{"acme": "team-acme"}}
	adapter := NewEmailAdapter(directory)

	payload := `{
		"to": "Tasks <tasks+acme@in.example.com>",
		"from": "Pat Doe <pat@example.com>",
		"subject": "Checkout bug on iOS",
		"text": "The checkout crashes when paying with saved cards.",
		"headers": {"message_id": "<abc-123@mail.example.com>"}
	}`

	parsed, err := adapter.ParseIncoming(context.Background(), []byte(payload))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if parsed.TeamID != "team-acme" {
		t.Errorf("team id = %q, want slug-resolved team", parsed.TeamID)
	}
	if parsed.Author != "pat@example.com" {
		t.Errorf("author = %q", parsed.Author)
	}
	if parsed.ThreadID != "checkout-bug-on-ios:abc-123@mail.example.com" {
		t.Errorf("thread id = %q", parsed.ThreadID)
	}
	if missing := parsed.Validate(); len(missing) != 0 {
		t.Errorf("parsed discussion missing fields: %v", missing)
	}
}

func TestEmailUnmatchedRecipientFallsBackToDefault(t *testing.T) {
	adapter := NewEmailAdapter(&fakeDirectory{slugs: map[string]string{}})

	payload := `{"to":"nobody@in.example.com","from":"pat@example.com","subject":"Hi","text":"body"}`
	parsed, err := adapter.ParseIncoming(context.Background(), []byte(payload))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if parsed.TeamID != DefaultTeamID {
		t.Errorf("team id = %q, want default fallback", parsed.TeamID)
	}
}

func TestEmailRejectsEmptyBody(t *testing.T) {
	adapter := NewEmailAdapter(&fakeDirectory{})

	payload := `{"to":"acme@in.example.com","from":"pat@example.com","subject":"Hi"}`
	if _, err := adapter.ParseIncoming(context.Background(), []byte(payload)); err == nil {
		t.Error("empty body must be rejected")
	}
}

func TestEmailFetchThreadUnsupported(t *testing.T) {
	adapter := NewEmailAdapter(&fakeDirectory{})
	if _, err := adapter.FetchThread(context.Background(), "x:1", nil); err != ErrFetchUnsupported {
		t.Errorf("err = %v, want ErrFetchUnsupported", err)
	}
}

func TestTitleFromContent(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"short line", "short line"},
		{"first line\nsecond line", "first line"},
		{strings.Repeat("a", 100), strings.Repeat("a", 77) + "..."},
	}
	for _, tt := range tests {
		if got := titleFromContent(tt.in); got != tt.want {
			t.Errorf("titleFromContent(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestRegistryLookup(t *testing.T) {
	registry := NewRegistry(NewEmailAdapter(&fakeDirectory{}))

	if _, err := registry.Get(domain.SourceEmail); err != nil {
		t.Errorf("registered adapter not found: %v", err)
	}
	if _, err := registry.Get(domain.SourceSlack); err == nil {
		t.Error("unregistered source must error")
	}
}
