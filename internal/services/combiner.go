package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	log "github.com/sirupsen/logrus"

	"skald/internal/models"
	"skald/internal/store"
	"skald/internal/util"
)

// MergeSegments orders results by index and joins the non-empty texts with a
// single space. It fails with the first segment error when nothing succeeded,
// and with ErrMerge when the successful segments produced no text.
func MergeSegments(results []models.SegmentResult) (text string, failed int, err error) {
	sorted := make([]models.SegmentResult, len(results))
	copy(sorted, results)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Index < sorted[j].Index })

	var firstErr string
	parts := make([]string, 0, len(sorted))
	for _, r := range sorted {
		if r.Failed() {
			failed++
			if firstErr == "" {
				firstErr = r.Error
			}
			continue
		}
		if t := util.CleanTranscriptText(r.Text); t != "" {
			parts = append(parts, t)
		}
	}

	if len(sorted) == 0 {
		return "", 0, fmt.Errorf("%w: no segment results", models.ErrMerge)
	}
	if failed == len(sorted) {
		return "", failed, fmt.Errorf("%w: all %d segments failed: %s", models.ErrMerge, failed, firstErr)
	}
	if len(parts) == 0 {
		return "", failed, fmt.Errorf("%w: no speech recognized", models.ErrMerge)
	}
	return strings.Join(parts, " "), failed, nil
}

// Combiner turns segment results into the final transcript.
type Combiner struct {
	progress  store.ProgressStore
	artifacts ArtifactStore
	archive   store.TranscriptArchive
}

func NewCombiner(progress store.ProgressStore, artifacts ArtifactStore, archive store.TranscriptArchive) *Combiner {
	return &Combiner{progress: progress, artifacts: artifacts, archive: archive}
}

// Combine merges results and completes or fails the job.
func (c *Combiner) Combine(ctx context.Context, jobID string, results []models.SegmentResult) error {
	msg := "Combining segment results"
	c.publish(ctx, jobID, models.ProgressUpdate{Progress: models.CounterProgressCap, Text: &msg})

	text, failed, err := MergeSegments(results)
	if err != nil {
		failJob(ctx, c.progress, jobID, err)
		return err
	}
	if failed > 0 {
		log.WithFields(log.Fields{"job_id": jobID, "failed": failed, "total": len(results)}).
			Warn("Some segments failed, transcript is incomplete")
	}
	return c.Finish(ctx, jobID, text, len(results), failed)
}

// Finish persists the transcript and marks the job completed.
func (c *Combiner) Finish(ctx context.Context, jobID, text string, total, failed int) error {
	logger := log.WithField("job_id", jobID)
	for p := models.CounterProgressCap + 1; p <= models.MaxActiveProgress; p++ {
		c.publish(ctx, jobID, models.ProgressUpdate{Progress: p})
	}

	job, err := c.progress.GetJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			logger.Warn("Job was deleted before it finished")
		}
		return err
	}

	if rel, err := c.artifacts.SaveTranscript(job.Info, text); err != nil {
		logger.WithError(err).Error("Failed to save transcript file")
	} else if err := c.progress.UpdateInfo(ctx, jobID, func(info *models.JobInfo) { info.TxtFile = rel }); err != nil {
		logger.WithError(err).Warn("Failed to record transcript file")
	}

	if err := c.archive.SaveTranscript(ctx, &store.ArchivedTranscript{
		JobID:          jobID,
		OriginalName:   job.Info.OriginalName,
		Language:       job.Info.Language,
		Provider:       job.Info.Provider,
		Text:           text,
		Duration:       job.Info.OriginalDuration,
		SegmentsTotal:  total,
		SegmentsFailed: failed,
	}); err != nil {
		logger.WithError(err).Warn("Failed to archive transcript")
	}

	if job.Info.SegmentTempDir != "" {
		if err := os.RemoveAll(job.Info.SegmentTempDir); err != nil {
			logger.WithError(err).Warn("Failed to remove segment directory")
		}
	}

	if _, err := c.progress.PublishProgress(ctx, jobID, models.ProgressUpdate{
		Status: models.JobStatusCompleted,
		Text:   &text,
		Result: &models.Result{Status: models.ResultStatusSuccess, Text: text},
	}); err != nil {
		return fmt.Errorf("complete job %s: %w", jobID, err)
	}
	logger.WithFields(log.Fields{"chars": len(text), "segments": total, "failed": failed}).Info("Transcription completed")
	return nil
}

func (c *Combiner) publish(ctx context.Context, jobID string, upd models.ProgressUpdate) {
	if _, err := c.progress.PublishProgress(ctx, jobID, upd); err != nil {
		log.WithError(err).WithField("job_id", jobID).Debug("Progress update not stored")
	}
}
