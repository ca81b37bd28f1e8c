package services

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"

	"skald/internal/models"
	"skald/internal/store"
)

// ConversionService turns an uploaded audio or video file into a 16 kHz mono
// WAV kept under downloads/converted.
type ConversionService struct {
	progress   store.ProgressStore
	transcoder AudioTranscoder
	artifacts  ArtifactStore
	workDir    string
}

func NewConversionService(progress store.ProgressStore, transcoder AudioTranscoder, artifacts ArtifactStore, workDir string) *ConversionService {
	if workDir == "" {
		workDir = os.TempDir()
	}
	return &ConversionService{progress: progress, transcoder: transcoder, artifacts: artifacts, workDir: workDir}
}

// Run converts filePath for jobID. The upload and scratch files are removed
// whatever the outcome.
func (s *ConversionService) Run(ctx context.Context, jobID, filePath string) error {
	logger := log.WithField("job_id", jobID)
	jobDir := filepath.Join(s.workDir, jobID)
	defer func() {
		if err := os.Remove(filePath); err != nil && !os.IsNotExist(err) {
			logger.WithError(err).Warn("Failed to remove upload")
		}
		os.RemoveAll(jobDir)
	}()

	msg := "Converting"
	if _, err := s.progress.PublishProgress(ctx, jobID, models.ProgressUpdate{Progress: 10, Text: &msg}); err != nil {
		return fmt.Errorf("start conversion %s: %w", jobID, err)
	}

	if err := os.MkdirAll(jobDir, 0o755); err != nil {
		failJob(ctx, s.progress, jobID, err)
		return err
	}
	out, err := s.transcoder.Normalize(ctx, filePath, jobDir)
	if err != nil {
		failJob(ctx, s.progress, jobID, err)
		return err
	}

	duration := s.transcoder.Duration(ctx, out)
	msg = "Saving converted audio"
	if _, err := s.progress.PublishProgress(ctx, jobID, models.ProgressUpdate{Progress: 80, Text: &msg}); err != nil {
		logger.WithError(err).Debug("Progress update not stored")
	}

	job, err := s.progress.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	rel, err := s.artifacts.SaveConverted(job.Info, out)
	if err != nil {
		failJob(ctx, s.progress, jobID, err)
		return err
	}
	if err := s.progress.UpdateInfo(ctx, jobID, func(info *models.JobInfo) {
		info.ConvertedFile = rel
		info.OriginalDuration = duration
	}); err != nil {
		logger.WithError(err).Warn("Failed to record converted file")
	}

	done := "Conversion complete"
	if _, err := s.progress.PublishProgress(ctx, jobID, models.ProgressUpdate{
		Status: models.JobStatusCompleted,
		Text:   &done,
		Result: &models.Result{Status: models.ResultStatusSuccess, Text: rel},
	}); err != nil {
		return fmt.Errorf("complete conversion %s: %w", jobID, err)
	}
	logger.WithFields(log.Fields{"file": rel, "duration": duration}).Info("Conversion completed")
	return nil
}
