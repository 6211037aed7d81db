package queue

import (
	"fmt"
	"testing"

	"github.com/redis/go-redis/v9"

	"tasksync.app/tasksync/internal/domain"
)

func TestParseMessage(t *testing.T) {
	raw := redis.XMessage{
		ID: "1-0",
		Values: map[string]any{
			"job_id":  "42",
			"payload": `{"source":"slack","thread_id":"C1:1.2","team_id":"T1"}`,
		},
	}

	msg, err := ParseMessage(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if msg.JobID != 42 {
		t.Errorf("job id = %d", msg.JobID)
	}
	if msg.Attempt != 1 {
		t.Errorf("attempt should default to 1, got %d", msg.Attempt)
	}
	if msg.Parsed.ThreadID != "C1:1.2" {
		t.Errorf("parsed thread id = %q", msg.Parsed.ThreadID)
	}
}

func TestParseMessageRejectsMissingPayload(t *testing.T) {
	raw := redis.XMessage{ID: "1-0", Values: map[string]any{"job_id": "42"}}
	if _, err := ParseMessage(raw); err == nil {
		t.Error("expected error for missing payload")
	}
}

func TestMessageValuesRoundTrip(t *testing.T) {
	msg := Message{
		JobID:   7,
		TraceID: "abc",
		Parsed:  domain.ParsedDiscussion{Source: domain.SourceEmail, ThreadID: "subj:1"},
	}

	values, err := messageValues(msg, 3)
	if err != nil {
		t.Fatalf("values: %v", err)
	}

	// Redis returns all values as strings.
	stringified := make(map[string]any, len(values))
	for k, v := range values {
		stringified[k] = fmt.Sprintf("%v", v)
	}

	parsed, err := ParseMessage(redis.XMessage{ID: "2-0", Values: stringified})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if parsed.JobID != 7 || parsed.Attempt != 3 || parsed.TraceID != "abc" {
		t.Errorf("round trip = %+v", parsed)
	}
	if parsed.Parsed.Source != domain.SourceEmail {
		t.Errorf("source = %q", parsed.Parsed.Source)
	}
}
