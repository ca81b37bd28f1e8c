package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	log "github.com/sirupsen/logrus"

	"skald/internal/models"
	"skald/internal/store"
	"skald/internal/tasks"
)

// DispatchRequest lists the materialized segments of one job.
type DispatchRequest struct {
	JobID        string
	SegmentPaths []string
	Params       models.RecognitionParams
}

// Ack is what the controller hands back once a job is under way or finished.
type Ack struct {
	JobID    string
	Status   models.JobStatus
	Segments int
}

type DispatcherConfig struct {
	Queue string
	// MaxRetry bounds queue-level redelivery of a segment task.
	MaxRetry int
	// TaskTimeout bounds one delivery of a segment task, retries included.
	TaskTimeout time.Duration
}

// Dispatcher submits a job's segment tasks as one group. The combine step is
// not enqueued here: the last segment to report enqueues it.
type Dispatcher struct {
	jobs  store.JobClient
	group store.SegmentGroup
	cfg   DispatcherConfig
}

func NewDispatcher(jobs store.JobClient, group store.SegmentGroup, cfg DispatcherConfig) *Dispatcher {
	if cfg.Queue == "" {
		cfg.Queue = "segments"
	}
	return &Dispatcher{jobs: jobs, group: group, cfg: cfg}
}

// Dispatch opens the fan-in group and enqueues every segment. If any enqueue
// fails the tasks already enqueued are withdrawn and the group is aborted.
func (d *Dispatcher) Dispatch(ctx context.Context, req DispatchRequest) (Ack, error) {
	total := len(req.SegmentPaths)
	if total == 0 {
		return Ack{}, fmt.Errorf("dispatch job %s: %w: no segments", req.JobID, models.ErrValidation)
	}

	segmentTasks := make([]*asynq.Task, total)
	for i, path := range req.SegmentPaths {
		t, err := tasks.NewSegmentTask(tasks.SegmentPayload{
			JobID: req.JobID, SegmentPath: path, Index: i, Total: total, Params: req.Params,
		})
		if err != nil {
			return Ack{}, err
		}
		segmentTasks[i] = t
	}

	if err := d.group.Open(ctx, req.JobID, total); err != nil {
		if !errors.Is(err, store.ErrConflict) {
			return Ack{}, fmt.Errorf("dispatch job %s: %w", req.JobID, err)
		}
		// Redelivered controller: the group exists and task ids dedupe the rest.
		log.WithField("job_id", req.JobID).Warn("Segment group already open, re-submitting")
	}

	enqueued := make([]string, 0, total)
	for i, t := range segmentTasks {
		id := tasks.SegmentTaskID(req.JobID, i)
		opts := []asynq.Option{
			asynq.Queue(d.cfg.Queue),
			asynq.TaskID(id),
			asynq.MaxRetry(d.cfg.MaxRetry),
		}
		if d.cfg.TaskTimeout > 0 {
			opts = append(opts, asynq.Timeout(d.cfg.TaskTimeout))
		}
		if _, err := d.jobs.Enqueue(ctx, t, opts...); err != nil {
			if errors.Is(err, asynq.ErrTaskIDConflict) {
				continue
			}
			d.rollback(req.JobID, enqueued)
			return Ack{}, fmt.Errorf("dispatch segment %d/%d of job %s: %w", i+1, total, req.JobID, err)
		}
		enqueued = append(enqueued, id)
	}

	log.WithFields(log.Fields{"job_id": req.JobID, "segments": total, "queue": d.cfg.Queue}).Info("Dispatched segment group")
	return Ack{JobID: req.JobID, Status: models.JobStatusProcessing, Segments: total}, nil
}

func (d *Dispatcher) rollback(jobID string, enqueued []string) {
	// The caller's context may already be done; cleanup gets its own.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	logger := log.WithField("job_id", jobID)
	if err := d.group.Abort(ctx, jobID); err != nil {
		logger.WithError(err).Error("Failed to abort segment group")
	}
	for _, id := range enqueued {
		if err := d.jobs.Cancel(ctx, d.cfg.Queue, id); err != nil {
			logger.WithError(err).WithField("task_id", id).Warn("Failed to withdraw segment task")
		}
	}
	logger.WithField("withdrawn", len(enqueued)).Warn("Rolled back partial segment submission")
}
