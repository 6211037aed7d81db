package queue

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// Producer enqueues accepted discussions for the worker.
type Producer interface {
	Enqueue(ctx context.Context, msg Message) error
	Close() error
}

type redisProducer struct {
	client *redis.Client
	stream string
}

func NewRedisProducer(client *redis.Client, stream string) Producer {
	return &redisProducer{client: client, stream: stream}
}

func (p *redisProducer) Enqueue(ctx context.Context, msg Message) error {
	attempt := msg.Attempt
	if attempt <= 0 {
		attempt = 1
	}

	values, err := messageValues(msg, attempt)
	if err != nil {
		return err
	}

	if err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		Values: values,
	}).Err(); err != nil {
		return fmt.Errorf("enqueue discussion: %w", err)
	}

	slog.InfoContext(ctx, "enqueued discussion",
		"job_id", msg.JobID,
		"source", msg.Parsed.Source,
		"thread_id", msg.Parsed.ThreadID,
		"attempt", attempt)
	return nil
}

func (p *redisProducer) Close() error {
	return p.client.Close()
}
