package queue

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"

	"storefront/worker/internal/tasks"
)

type streamAdder interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
}

// Publisher emits the creation trigger for a job record.
type Publisher struct {
	client streamAdder
	stream string
}

func NewPublisher(client streamAdder, stream string) *Publisher {
	return &Publisher{client: client, stream: stream}
}

// PublishJobCreated returns the stream id of the trigger message.
func (p *Publisher) PublishJobCreated(ctx context.Context, jobID string) (string, error) {
	if jobID == "" {
		return "", errors.New("job id is required")
	}
	return p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		Values: map[string]interface{}{
			"type":  tasks.TaskTypeEnhance,
			"jobId": jobID,
		},
	}).Result()
}
