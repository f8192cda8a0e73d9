package task

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
)

const (
	QueueCritical = "critical"
	QueueDefault  = "default"
	QueueLow      = "low"
)

type Enqueuer interface {
	Enqueue(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

type enqueuerImpl struct {
	client *asynq.Client
}

func NewEnqueuer(client *asynq.Client) Enqueuer {
	return &enqueuerImpl{client: client}
}

func (e *enqueuerImpl) Enqueue(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	info, err := e.client.EnqueueContext(ctx, task, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue task: %w", err)
	}
	return info, nil
}

// NewJSONTask marshals payload into an asynq task.
func NewJSONTask(typeName string, payload any, opts ...asynq.Option) (*asynq.Task, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", typeName, err)
	}
	return asynq.NewTask(typeName, b, opts...), nil
}

// Publish enqueues a JSON event. A nil enqueuer drops the event, which keeps
// the request path independent of the worker.
func Publish(ctx context.Context, e Enqueuer, typeName string, payload any, opts ...asynq.Option) error {
	if e == nil {
		return nil
	}

	t, err := NewJSONTask(typeName, payload, opts...)
	if err != nil {
		return err
	}
	_, err = e.Enqueue(ctx, t)
	return err
}
