package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// Ensure AsynqJobClient implements JobClient
var _ JobClient = (*AsynqJobClient)(nil)

// AsynqJobClient enqueues pipeline tasks and can withdraw pending ones.
type AsynqJobClient struct {
	client    *asynq.Client
	inspector *asynq.Inspector
}

// NewAsynqJobClient shares rdb with the rest of the app; Close leaves it open.
func NewAsynqJobClient(rdb redis.UniversalClient) (*AsynqJobClient, error) {
	if rdb == nil {
		return nil, fmt.Errorf("redis client cannot be nil for AsynqJobClient")
	}
	return &AsynqJobClient{
		client:    asynq.NewClientFromRedisClient(rdb),
		inspector: asynq.NewInspectorFromRedisClient(rdb),
	}, nil
}

// Close is a no-op: asynq refuses to close a shared connection, and the
// owner of rdb closes it.
func (jc *AsynqJobClient) Close() error {
	return nil
}

// Enqueue enqueues a task on behalf of the pipeline.
func (jc *AsynqJobClient) Enqueue(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	if jc.client == nil {
		return nil, fmt.Errorf("AsynqJobClient internal client is not initialized")
	}
	info, err := jc.client.EnqueueContext(ctx, task, opts...)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		log.WithField("task_type", task.Type()).Debug("Task already enqueued")
		return nil, err
	}
	if err != nil {
		log.WithError(err).WithField("task_type", task.Type()).Error("Failed to enqueue task")
		return nil, err
	}
	log.WithFields(log.Fields{"task_type": task.Type(), "task_id": info.ID, "queue": info.Queue}).Debug("Enqueued task")
	return info, nil
}

// Cancel deletes a pending, scheduled or retrying task.
func (jc *AsynqJobClient) Cancel(ctx context.Context, queue, taskID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := jc.inspector.DeleteTask(queue, taskID)
	if err == nil || errors.Is(err, asynq.ErrTaskNotFound) || errors.Is(err, asynq.ErrQueueNotFound) {
		return nil
	}
	return fmt.Errorf("delete task %s from queue %s: %w", taskID, queue, err)
}
