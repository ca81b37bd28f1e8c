// Package worker holds the asynq handlers that run the transcription pipeline.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	log "github.com/sirupsen/logrus"

	"skald/internal/models"
	"skald/internal/services"
	"skald/internal/store"
	"skald/internal/tasks"
)

// Deps are the collaborators shared by every handler.
type Deps struct {
	Controller    *services.Controller
	SegmentWorker *services.SegmentWorker
	Combiner      *services.Combiner
	Conversion    *services.ConversionService
	Group         store.SegmentGroup
	Progress      store.ProgressStore
	JobClient     store.JobClient
	// CombineQueue receives the continuation task of a finished segment group.
	CombineQueue string
}

// RegisterHandlers wires every task type of the pipeline into mux.
func RegisterHandlers(mux *asynq.ServeMux, deps Deps) {
	mux.HandleFunc(tasks.TypeTranscriptionProcess, HandleProcess(deps))
	mux.HandleFunc(tasks.TypeTranscriptionSegment, HandleSegment(deps))
	mux.HandleFunc(tasks.TypeTranscriptionCombine, HandleCombine(deps))
	mux.HandleFunc(tasks.TypeConversionRun, HandleConversion(deps))
	log.WithField("types", []string{
		tasks.TypeTranscriptionProcess, tasks.TypeTranscriptionSegment,
		tasks.TypeTranscriptionCombine, tasks.TypeConversionRun,
	}).Debug("Registered task handlers")
}

// HandleProcess runs the pipeline controller for an uploaded file.
func HandleProcess(deps Deps) func(context.Context, *asynq.Task) error {
	return func(ctx context.Context, t *asynq.Task) error {
		var p tasks.ProcessPayload
		if err := tasks.Decode(t, &p); err != nil {
			return err
		}
		req := services.ProcessRequest{
			JobID:           p.JobID,
			FilePath:        p.FilePath,
			FileType:        p.FileType,
			Params:          p.Params,
			ParallelThreads: p.ParallelThreads,
			SegmentLength:   p.SegmentLength,
		}
		ack, err := deps.Controller.Run(ctx, req)
		if err != nil {
			if ack.Status == models.JobStatusFailed {
				// Already recorded on the job; a redelivery would find the upload gone.
				return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
			}
			if retriesExhausted(ctx) {
				deps.Controller.Abandon(ctx, req, err)
				return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
			}
			return err
		}
		log.WithFields(log.Fields{"job_id": ack.JobID, "status": ack.Status, "segments": ack.Segments}).Info("Job processed")
		return nil
	}
}

// HandleSegment recognizes one segment, records its result in the group and
// enqueues the combine step when it was the last one to report.
func HandleSegment(deps Deps) func(context.Context, *asynq.Task) error {
	return func(ctx context.Context, t *asynq.Task) error {
		var p tasks.SegmentPayload
		if err := tasks.Decode(t, &p); err != nil {
			return err
		}
		logger := log.WithFields(log.Fields{"job_id": p.JobID, "segment": p.Index})

		res := deps.SegmentWorker.Process(ctx, services.SegmentTask{
			JobID:     p.JobID,
			AudioPath: p.SegmentPath,
			Index:     p.Index,
			Total:     p.Total,
			Params:    p.Params,
		})
		if res.Failed() && ctx.Err() != nil && retriesLeft(ctx) {
			// Interrupted rather than failed: let the queue run it again.
			return fmt.Errorf("segment %d interrupted: %w", p.Index, ctx.Err())
		}

		last, err := recordWithRetry(ctx, deps.Group, p.JobID, res)
		switch {
		case errors.Is(err, store.ErrDuplicate):
			logger.Info("Segment result already recorded")
			return resumeCombine(ctx, deps, p.JobID)
		case errors.Is(err, store.ErrNotFound):
			return fmt.Errorf("segment group of job %s is gone: %w", p.JobID, asynq.SkipRetry)
		case err != nil:
			return err
		}
		if !last {
			return nil
		}

		logger.Info("Last segment reported, scheduling combine")
		return enqueueCombine(ctx, deps, p.JobID)
	}
}

// resumeCombine enqueues the combine step again when the group is finished
// but the job is not terminal. That happens when the last segment recorded its
// result and then failed to enqueue the continuation. The fixed combine task
// id and the terminal check in HandleCombine keep a repeat harmless.
func resumeCombine(ctx context.Context, deps Deps, jobID string) error {
	finished, err := deps.Group.Finished(ctx, jobID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if !finished {
		return nil
	}
	job, err := deps.Progress.GetJob(ctx, jobID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if job.Progress.Status.Terminal() {
		return nil
	}
	log.WithField("job_id", jobID).Warn("Segment group finished without a combine step, enqueueing it again")
	return enqueueCombine(ctx, deps, jobID)
}

func enqueueCombine(ctx context.Context, deps Deps, jobID string) error {
	task, err := tasks.NewCombineTask(tasks.CombinePayload{JobID: jobID})
	if err != nil {
		return err
	}
	opts := []asynq.Option{asynq.TaskID(tasks.CombineTaskID(jobID))}
	if deps.CombineQueue != "" {
		opts = append(opts, asynq.Queue(deps.CombineQueue))
	}
	if _, err := deps.JobClient.Enqueue(ctx, task, opts...); err != nil && !errors.Is(err, asynq.ErrTaskIDConflict) {
		return fmt.Errorf("enqueue combine for job %s: %w", jobID, err)
	}
	return nil
}

// recordWithRetry retries transport errors a few times. The segment file is
// already gone, so the result cannot be recomputed by a redelivery.
func recordWithRetry(ctx context.Context, group store.SegmentGroup, jobID string, res models.SegmentResult) (bool, error) {
	var err error
	for attempt := 0; attempt < 3; attempt++ {
		var last bool
		last, err = group.Record(ctx, jobID, res)
		if err == nil || errors.Is(err, store.ErrDuplicate) || errors.Is(err, store.ErrNotFound) {
			return last, err
		}
		log.WithError(err).WithField("job_id", jobID).Warn("Failed to record segment result, retrying")
		select {
		case <-time.After(time.Duration(attempt+1) * 200 * time.Millisecond):
		case <-ctx.Done():
			return false, err
		}
	}
	return false, err
}

func retriesLeft(ctx context.Context) bool {
	n, ok1 := asynq.GetRetryCount(ctx)
	limit, ok2 := asynq.GetMaxRetry(ctx)
	return ok1 && ok2 && n < limit
}

func retriesExhausted(ctx context.Context) bool {
	n, ok1 := asynq.GetRetryCount(ctx)
	limit, ok2 := asynq.GetMaxRetry(ctx)
	return ok1 && ok2 && n >= limit
}

// HandleCombine merges the recorded results of a finished segment group.
func HandleCombine(deps Deps) func(context.Context, *asynq.Task) error {
	return func(ctx context.Context, t *asynq.Task) error {
		var p tasks.CombinePayload
		if err := tasks.Decode(t, &p); err != nil {
			return err
		}
		job, err := deps.Progress.GetJob(ctx, p.JobID)
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("job %s is gone: %w", p.JobID, asynq.SkipRetry)
		}
		if err != nil {
			return err
		}
		if job.Progress.Status.Terminal() {
			log.WithField("job_id", p.JobID).Info("Job already finished, skipping combine")
			return nil
		}
		results, err := deps.Group.Results(ctx, p.JobID)
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("segment group of job %s is gone: %w", p.JobID, asynq.SkipRetry)
		}
		if err != nil {
			return err
		}
		if err := deps.Combiner.Combine(ctx, p.JobID, results); err != nil {
			if errors.Is(err, models.ErrMerge) || errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
			}
			return err
		}
		return nil
	}
}

// HandleConversion converts an upload to WAV.
func HandleConversion(deps Deps) func(context.Context, *asynq.Task) error {
	return func(ctx context.Context, t *asynq.Task) error {
		var p tasks.ConversionPayload
		if err := tasks.Decode(t, &p); err != nil {
			return err
		}
		if err := deps.Conversion.Run(ctx, p.JobID, p.FilePath); err != nil {
			job, getErr := deps.Progress.GetJob(ctx, p.JobID)
			if getErr == nil && job.Progress.Status.Terminal() {
				return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
			}
			return err
		}
		return nil
	}
}
