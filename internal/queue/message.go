// Package queue moves accepted discussions from the webhook handlers to the
// worker over Redis Streams, with a consumer group for delivery tracking and
// a dead-letter stream for exhausted or unprocessable messages.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"tasksync.app/tasksync/internal/domain"
)

// MessageProcessor processes one queue message.
type MessageProcessor func(ctx context.Context, msg Message) error

// Message is one discussion handed to the worker.
type Message struct {
	ID        string
	JobID     int64
	Attempt   int
	TraceID   string
	LastError string
	Parsed    domain.ParsedDiscussion
	Raw       redis.XMessage
}

// ParseMessage decodes a stream entry. The parsed discussion travels as one
// JSON field so the worker never re-derives source-specific shapes.
func ParseMessage(msg redis.XMessage) (Message, error) {
	jobID, err := parseInt64(msg.Values, "job_id")
	if err != nil {
		return Message{}, err
	}

	payload, _ := msg.Values["payload"].(string)
	if payload == "" {
		return Message{}, fmt.Errorf("message %s has no payload", msg.ID)
	}
	var parsed domain.ParsedDiscussion
	if err := json.Unmarshal([]byte(payload), &parsed); err != nil {
		return Message{}, fmt.Errorf("decoding payload: %w", err)
	}

	attempt, err := parseInt(msg.Values, "attempt")
	if err != nil {
		return Message{}, err
	}
	if attempt == 0 {
		attempt = 1
	}

	traceID, _ := msg.Values["trace_id"].(string)
	lastError, _ := msg.Values["last_error"].(string)

	return Message{
		ID:        msg.ID,
		JobID:     jobID,
		Attempt:   attempt,
		TraceID:   traceID,
		LastError: lastError,
		Parsed:    parsed,
		Raw:       msg,
	}, nil
}

func messageValues(msg Message, attempt int) (map[string]any, error) {
	payload, err := json.Marshal(msg.Parsed)
	if err != nil {
		return nil, fmt.Errorf("encoding payload: %w", err)
	}

	values := map[string]any{
		"job_id":  msg.JobID,
		"payload": string(payload),
		"attempt": attempt,
	}
	if msg.TraceID != "" {
		values["trace_id"] = msg.TraceID
	}
	return values, nil
}

func parseInt64(values map[string]any, key string) (int64, error) {
	raw, ok := values[key]
	if !ok {
		return 0, fmt.Errorf("missing %s", key)
	}
	s, ok := raw.(string)
	if !ok {
		return 0, fmt.Errorf("%s is not a string", key)
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", key, err)
	}
	return n, nil
}

func parseInt(values map[string]any, key string) (int, error) {
	raw, ok := values[key]
	if !ok {
		return 0, nil
	}
	s, ok := raw.(string)
	if !ok {
		return 0, fmt.Errorf("%s is not a string", key)
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", key, err)
	}
	return n, nil
}
