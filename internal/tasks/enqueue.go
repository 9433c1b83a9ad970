package tasks

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
)

// Enqueuer schedules a background job. The indirection lets the chat loop be
// tested without a running queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, taskType string, payload any) error
}

// AsynqEnqueuer schedules jobs on the shared Redis-backed queue.
type AsynqEnqueuer struct {
	client *asynq.Client
}

var _ Enqueuer = (*AsynqEnqueuer)(nil)

func NewAsynqEnqueuer(opt asynq.RedisClientOpt) *AsynqEnqueuer {
	return &AsynqEnqueuer{client: asynq.NewClient(opt)}
}

func (e *AsynqEnqueuer) Enqueue(ctx context.Context, taskType string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("tasks.AsynqEnqueuer.Enqueue(%s): marshal: %w", taskType, err)
	}

	task := asynq.NewTask(taskType, data)
	if _, err = e.client.EnqueueContext(ctx, task,
		asynq.Queue(QueueName), asynq.MaxRetry(3)); err != nil {
		return fmt.Errorf("tasks.AsynqEnqueuer.Enqueue(%s): %w", taskType, err)
	}

	return nil
}

func (e *AsynqEnqueuer) Close() error {
	return e.client.Close()
}
