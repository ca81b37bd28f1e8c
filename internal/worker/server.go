package worker

import (
	"context"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"skald/internal/config"
	"skald/internal/services"
	"skald/internal/tasks"
)

// NewServer builds the asynq server on the shared Redis client.
func NewServer(rdb redis.UniversalClient, cfg *config.Config, logger *logrus.Logger) *asynq.Server {
	level := asynq.InfoLevel
	if err := level.Set(cfg.Log.Level); err != nil {
		level = asynq.InfoLevel
	}
	return asynq.NewServerFromRedisClient(rdb, asynq.Config{
		Concurrency:     cfg.Worker.Concurrency,
		Queues:          cfg.Worker.Queues,
		RetryDelayFunc:  RetryDelay(cfg.Transcription.RetryDelay),
		Logger:          logger,
		LogLevel:        level,
		ShutdownTimeout: 30 * time.Second,
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			id, _ := asynq.GetTaskID(ctx)
			retried, _ := asynq.GetRetryCount(ctx)
			logger.WithError(err).WithFields(logrus.Fields{
				"task_id": id,
				"type":    task.Type(),
				"retried": retried,
			}).Error("Task failed")
		}),
	})
}

// RetryDelay waits a fixed delay between segment redeliveries and backs off
// exponentially for the other task types.
func RetryDelay(segmentDelay time.Duration) asynq.RetryDelayFunc {
	backoff := &services.SimpleRetryStrategy{MaxAttempts: 10, BaseDelayMs: 1000}
	return func(n int, err error, t *asynq.Task) time.Duration {
		if t.Type() == tasks.TypeTranscriptionSegment && segmentDelay > 0 {
			return segmentDelay
		}
		if ms := backoff.NextBackoff(n); ms >= 0 {
			return time.Duration(ms) * time.Millisecond
		}
		return asynq.DefaultRetryDelayFunc(n, err, t)
	}
}
