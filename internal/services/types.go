package services

import (
	"context"
	"time"

	"skald/internal/models"
	"skald/internal/planner"
)

// AudioTranscoder is what the pipeline needs from ffmpeg.
type AudioTranscoder interface {
	Normalize(ctx context.Context, input, outDir string) (string, error)
	Duration(ctx context.Context, path string) float64
	SplitPlan(ctx context.Context, path, outDir string, plan []planner.Segment) ([]string, error)
}

// ArtifactStore persists job outputs under the downloads directory.
type ArtifactStore interface {
	SaveAudio(info models.JobInfo, src string) (string, error)
	SaveConverted(info models.JobInfo, src string) (string, error)
	SaveTranscript(info models.JobInfo, text string) (string, error)
	Path(rel string) (string, error)
	Remove(rel string) error
}

type RetryStrategy interface {
	NextBackoff(attempt int) int64 // ms
}

// FixedRetryStrategy waits the same delay before each of MaxAttempts retries.
type FixedRetryStrategy struct {
	MaxAttempts int
	Delay       time.Duration
}

// NextBackoff returns the delay before retry number attempt+1, or -1 to stop.
func (s *FixedRetryStrategy) NextBackoff(attempt int) int64 {
	if s.MaxAttempts <= 0 || attempt >= s.MaxAttempts {
		return -1
	}
	return s.Delay.Milliseconds()
}

// SimpleRetryStrategy provides basic exponential backoff.
type SimpleRetryStrategy struct {
	MaxAttempts int
	BaseDelayMs int64
}

// NextBackoff calculates the next backoff duration in milliseconds.
func (s *SimpleRetryStrategy) NextBackoff(attempt int) int64 {
	if s.MaxAttempts <= 0 { // If MaxAttempts is 0 or negative, don't retry
		return -1
	}
	if attempt >= s.MaxAttempts {
		return -1 // Stop retrying
	}
	// Simple exponential backoff: BaseDelay * 2^attempt, capped at 30 seconds
	backoff := s.BaseDelayMs * (1 << attempt)
	maxDelay := int64(30000)
	if backoff > maxDelay {
		backoff = maxDelay
	}
	return backoff
}

// sleepCtx waits for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
