package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"skald/internal/models"
	"skald/internal/planner"
	"skald/internal/store"
)

// ProcessRequest is one uploaded file to transcribe.
type ProcessRequest struct {
	JobID           string
	FilePath        string
	FileType        string
	Params          models.RecognitionParams
	ParallelThreads int
	SegmentLength   int
}

type ControllerConfig struct {
	WorkDir               string
	MaxSegmentsMultiplier int
	ShortPathThreshold    float64
	ShortTimeout          time.Duration
	Inclusive             bool
}

// Controller drives a transcription job from upload to either a finished
// transcript (short path) or a dispatched segment group (long path).
type Controller struct {
	progress   store.ProgressStore
	transcoder AudioTranscoder
	artifacts  ArtifactStore
	worker     *SegmentWorker
	dispatcher *Dispatcher
	combiner   *Combiner
	cfg        ControllerConfig
}

func NewController(progress store.ProgressStore, transcoder AudioTranscoder, artifacts ArtifactStore,
	worker *SegmentWorker, dispatcher *Dispatcher, combiner *Combiner, cfg ControllerConfig) *Controller {
	if cfg.MaxSegmentsMultiplier <= 0 {
		cfg.MaxSegmentsMultiplier = 3
	}
	if cfg.WorkDir == "" {
		cfg.WorkDir = os.TempDir()
	}
	return &Controller{
		progress:   progress,
		transcoder: transcoder,
		artifacts:  artifacts,
		worker:     worker,
		dispatcher: dispatcher,
		combiner:   combiner,
		cfg:        cfg,
	}
}

// Run executes the pipeline for req. Failures are recorded on the job before
// being returned. Any other error is retryable: the upload is kept so a
// redelivery can start over.
func (c *Controller) Run(ctx context.Context, req ProcessRequest) (ack Ack, err error) {
	logger := log.WithFields(log.Fields{"job_id": req.JobID, "provider": req.Params.Provider})

	var normalized string
	defer func() {
		retryable := err != nil && ack.Status != models.JobStatusFailed
		for _, p := range []string{req.FilePath, normalized} {
			if p == "" || (retryable && p == req.FilePath) {
				continue
			}
			if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
				logger.WithError(err).WithField("path", p).Warn("Failed to remove intermediate file")
			}
		}
	}()

	if strings.TrimSpace(req.Params.APIKey) == "" {
		return c.fail(ctx, req.JobID, fmt.Errorf("%w: no API key for provider %q", models.ErrConfig, req.Params.Provider))
	}

	c.publishText(ctx, req.JobID, 5, "Converting audio")
	jobDir := filepath.Join(c.cfg.WorkDir, req.JobID)
	if err := os.MkdirAll(jobDir, 0o755); err != nil {
		return c.fail(ctx, req.JobID, fmt.Errorf("create work dir: %w", err))
	}
	out, err := c.transcoder.Normalize(ctx, req.FilePath, jobDir)
	if err != nil {
		return c.fail(ctx, req.JobID, err)
	}
	normalized = out
	c.publishText(ctx, req.JobID, 10, "Audio converted")

	job, err := c.progress.GetJob(ctx, req.JobID)
	if errors.Is(err, store.ErrNotFound) {
		return c.fail(ctx, req.JobID, err)
	}
	if err != nil {
		return Ack{JobID: req.JobID}, fmt.Errorf("load job %s: %w", req.JobID, err)
	}
	if rel, err := c.artifacts.SaveAudio(job.Info, normalized); err != nil {
		logger.WithError(err).Warn("Failed to keep processed audio")
	} else if err := c.progress.UpdateInfo(ctx, req.JobID, func(info *models.JobInfo) { info.ProcessedAudioFile = rel }); err != nil {
		logger.WithError(err).Warn("Failed to record processed audio")
	}

	c.publishText(ctx, req.JobID, 12, "Probing duration")
	duration := c.transcoder.Duration(ctx, normalized)
	if err := c.progress.UpdateInfo(ctx, req.JobID, func(info *models.JobInfo) { info.OriginalDuration = duration }); err != nil {
		logger.WithError(err).Warn("Failed to record duration")
	}
	c.publish(ctx, req.JobID, 15)
	logger.WithFields(log.Fields{"duration": duration, "parallel": req.ParallelThreads}).Info("Audio prepared")

	if duration <= c.cfg.ShortPathThreshold && req.ParallelThreads <= 1 {
		return c.runShort(ctx, req, normalized, jobDir)
	}
	return c.runLong(ctx, req, normalized, duration, jobDir)
}

func (c *Controller) runShort(ctx context.Context, req ProcessRequest, audio, jobDir string) (Ack, error) {
	defer os.RemoveAll(jobDir)

	text, _, err := c.worker.Transcribe(ctx, req.JobID, audio, req.Params, ShortWindow(), c.cfg.ShortTimeout)
	if err != nil {
		return c.fail(ctx, req.JobID, err)
	}
	if strings.TrimSpace(text) == "" {
		return c.fail(ctx, req.JobID, fmt.Errorf("%w: no speech recognized", models.ErrMerge))
	}
	if _, err := c.progress.AdvanceSegmentCounter(ctx, req.JobID, models.SegmentCount{Total: 1, Delta: 1}, nil); err != nil {
		log.WithError(err).WithField("job_id", req.JobID).Warn("Failed to advance segment counter")
	}
	if err := c.combiner.Finish(ctx, req.JobID, strings.TrimSpace(text), 1, 0); err != nil {
		return Ack{JobID: req.JobID}, err
	}
	return Ack{JobID: req.JobID, Status: models.JobStatusCompleted, Segments: 1}, nil
}

func (c *Controller) runLong(ctx context.Context, req ProcessRequest, audio string, duration float64, jobDir string) (Ack, error) {
	dispatched := false
	defer func() {
		if !dispatched {
			os.RemoveAll(jobDir)
		}
	}()

	parallel := req.ParallelThreads
	if parallel < 1 {
		parallel = 1
	}
	maxSegments := parallel * c.cfg.MaxSegmentsMultiplier
	plan := planner.PlanWith(duration, float64(req.SegmentLength), maxSegments, planner.Options{Inclusive: c.cfg.Inclusive})
	if len(plan) == 0 {
		return c.fail(ctx, req.JobID, fmt.Errorf("%w: cannot plan segments for duration %.2fs", models.ErrInput, duration))
	}

	segDir := filepath.Join(jobDir, "segments")
	if err := os.MkdirAll(segDir, 0o755); err != nil {
		return c.fail(ctx, req.JobID, fmt.Errorf("create segment dir: %w", err))
	}
	if err := c.progress.UpdateInfo(ctx, req.JobID, func(info *models.JobInfo) { info.SegmentTempDir = jobDir }); err != nil {
		log.WithError(err).WithField("job_id", req.JobID).Warn("Failed to record segment directory")
	}

	c.publishText(ctx, req.JobID, 17, fmt.Sprintf("Splitting into %d segments", len(plan)))
	paths, err := c.transcoder.SplitPlan(ctx, audio, segDir, plan)
	if err != nil {
		return c.fail(ctx, req.JobID, err)
	}
	if len(paths) == 0 {
		return c.fail(ctx, req.JobID, fmt.Errorf("%w: no segments produced", models.ErrInput))
	}

	if _, err := c.progress.AdvanceSegmentCounter(ctx, req.JobID, models.SegmentCount{Total: len(paths)}, nil); err != nil {
		log.WithError(err).WithField("job_id", req.JobID).Warn("Failed to initialise segment counter")
	}

	ack, err := c.dispatcher.Dispatch(ctx, DispatchRequest{JobID: req.JobID, SegmentPaths: paths, Params: req.Params})
	if err != nil {
		return c.fail(ctx, req.JobID, err)
	}
	dispatched = true
	return ack, nil
}

// Abandon fails the job and removes its files once the queue has stopped
// retrying it.
func (c *Controller) Abandon(ctx context.Context, req ProcessRequest, cause error) {
	failJob(ctx, c.progress, req.JobID, cause)
	if req.FilePath != "" {
		if err := os.Remove(req.FilePath); err != nil && !os.IsNotExist(err) {
			log.WithError(err).WithField("job_id", req.JobID).Warn("Failed to remove upload")
		}
	}
	os.RemoveAll(filepath.Join(c.cfg.WorkDir, req.JobID))
}

func (c *Controller) fail(ctx context.Context, jobID string, err error) (Ack, error) {
	failJob(ctx, c.progress, jobID, err)
	return Ack{JobID: jobID, Status: models.JobStatusFailed}, err
}

func (c *Controller) publish(ctx context.Context, jobID string, p int) {
	if _, err := c.progress.PublishProgress(ctx, jobID, models.ProgressUpdate{Progress: p}); err != nil {
		log.WithError(err).WithField("job_id", jobID).Debug("Progress update not stored")
	}
}

func (c *Controller) publishText(ctx context.Context, jobID string, p int, text string) {
	if _, err := c.progress.PublishProgress(ctx, jobID, models.ProgressUpdate{Progress: p, Text: &text}); err != nil {
		log.WithError(err).WithField("job_id", jobID).Debug("Progress update not stored")
	}
}
