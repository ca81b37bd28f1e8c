package services

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"skald/internal/models"
)

func TestSegmentWindow(t *testing.T) {
	w := SegmentWindow(1, 4)
	assert.Equal(t, 40.0, w.Base)
	assert.Equal(t, 20.0, w.Share)

	assert.Equal(t, 40, w.AtUtterance(0))
	assert.Equal(t, 42, w.AtUtterance(1))
	assert.Equal(t, 54, w.AtUtterance(7))
	assert.Equal(t, 54, w.AtUtterance(30), "utterance progress caps at 70% of the share")
	assert.Equal(t, 50, w.AtElapsed(time.Second, 2*time.Second))
	assert.Equal(t, 54, w.AtElapsed(time.Hour, time.Second))
	assert.Equal(t, 60, w.Saturated())

	last := SegmentWindow(3, 4)
	assert.Equal(t, 100, last.Saturated())

	short := ShortWindow()
	assert.Equal(t, 27, short.AtUtterance(1))
	assert.Equal(t, 87, short.AtUtterance(12))
}

func TestSegmentWorker_ProcessSuccess(t *testing.T) {
	env := newTestEnv(t)
	env.createJob(t, "job-1", "talk.mp3")
	seg := writeFile(t, t.TempDir(), "segment_001.wav")
	rec := &scriptedRecognizer{attempts: []attempt{{texts: []string{"Hello there.", " ", "General Kenobi."}}}}
	w := newTestWorker(rec, env, time.Minute, 3)

	res := w.Process(context.Background(), SegmentTask{JobID: "job-1", AudioPath: seg, Index: 1, Total: 4})

	assert.False(t, res.Failed())
	assert.Equal(t, 1, res.Index)
	assert.Equal(t, "Hello there. General Kenobi.", res.Text)
	assert.False(t, res.TimedOut)

	job := env.job(t, "job-1")
	assert.Equal(t, models.JobStatusProcessing, job.Progress.Status)
	assert.Equal(t, 60, job.Progress.Progress)
	assert.Equal(t, 4, job.Progress.TotalSegments)
	assert.Equal(t, 1, job.Progress.CompletedSegments)
	assert.Equal(t, "Hello there. General Kenobi.", job.Progress.CurrentText)

	_, err := os.Stat(seg)
	assert.True(t, os.IsNotExist(err), "segment file is removed after success")
}

func TestSegmentWorker_TimeoutKeepsPartialText(t *testing.T) {
	env := newTestEnv(t)
	env.createJob(t, "job-1", "talk.mp3")
	seg := writeFile(t, t.TempDir(), "segment_000.wav")
	rec := &scriptedRecognizer{attempts: []attempt{{texts: []string{"partial words"}, hold: true}}}
	w := newTestWorker(rec, env, 50*time.Millisecond, 3)

	res := w.Process(context.Background(), SegmentTask{JobID: "job-1", AudioPath: seg, Index: 0, Total: 2})

	assert.False(t, res.Failed())
	assert.True(t, res.TimedOut)
	assert.Equal(t, "partial words", res.Text)
	assert.Equal(t, 1, rec.callCount())
	assert.Equal(t, 1, env.job(t, "job-1").Progress.CompletedSegments)
}

func TestSegmentWorker_TimeoutWithoutSpeechIsNotAnError(t *testing.T) {
	env := newTestEnv(t)
	env.createJob(t, "job-1", "talk.mp3")
	seg := writeFile(t, t.TempDir(), "segment_002.wav")
	rec := &scriptedRecognizer{attempts: []attempt{{hold: true}}}
	w := newTestWorker(rec, env, 30*time.Millisecond, 3)

	res := w.Process(context.Background(), SegmentTask{JobID: "job-1", AudioPath: seg, Index: 2, Total: 3})

	assert.False(t, res.Failed())
	assert.Empty(t, res.Error)
	assert.Equal(t, 2, res.Index)
	assert.Equal(t, "", res.Text)
	assert.True(t, res.TimedOut)
	assert.Equal(t, 1, rec.callCount(), "a timeout is not retried")

	job := env.job(t, "job-1")
	assert.Equal(t, 3, job.Progress.TotalSegments)
	assert.Equal(t, 1, job.Progress.CompletedSegments)
}

func TestSegmentWorker_RetriesTransientErrors(t *testing.T) {
	env := newTestEnv(t)
	env.createJob(t, "job-1", "talk.mp3")
	seg := writeFile(t, t.TempDir(), "segment_000.wav")
	rec := &scriptedRecognizer{attempts: []attempt{
		{startErr: fmt.Errorf("%w: 503", models.ErrTransient)},
		{texts: []string{"one"}, endErr: fmt.Errorf("%w: stream reset", models.ErrTransient)},
		{texts: []string{"recovered"}},
	}}
	w := newTestWorker(rec, env, time.Minute, 3)

	res := w.Process(context.Background(), SegmentTask{JobID: "job-1", AudioPath: seg, Index: 0, Total: 1})

	assert.False(t, res.Failed())
	assert.Equal(t, "recovered", res.Text)
	assert.Equal(t, 3, rec.callCount())
}

func TestSegmentWorker_GivesUpAfterRetries(t *testing.T) {
	env := newTestEnv(t)
	env.createJob(t, "job-1", "talk.mp3")
	seg := writeFile(t, t.TempDir(), "segment_000.wav")
	rec := &scriptedRecognizer{attempts: []attempt{{startErr: fmt.Errorf("%w: 500", models.ErrTransient)}}}
	w := newTestWorker(rec, env, time.Minute, 2)

	res := w.Process(context.Background(), SegmentTask{JobID: "job-1", AudioPath: seg, Index: 0, Total: 3})

	assert.True(t, res.Failed())
	assert.Contains(t, res.Error, "after 3 attempts")
	assert.Equal(t, 3, rec.callCount())

	job := env.job(t, "job-1")
	assert.Equal(t, 0, job.Progress.CompletedSegments, "failed segments do not advance the counter")
	_, err := os.Stat(seg)
	assert.NoError(t, err, "failed segment keeps its file")
}

func TestSegmentWorker_ConfigErrorIsNotRetried(t *testing.T) {
	env := newTestEnv(t)
	env.createJob(t, "job-1", "talk.mp3")
	seg := writeFile(t, t.TempDir(), "segment_000.wav")
	rec := &scriptedRecognizer{attempts: []attempt{{startErr: fmt.Errorf("%w: invalid api key", models.ErrConfig)}}}
	w := newTestWorker(rec, env, time.Minute, 5)

	res := w.Process(context.Background(), SegmentTask{JobID: "job-1", AudioPath: seg, Index: 0, Total: 1})

	assert.True(t, res.Failed())
	assert.Contains(t, res.Error, "invalid api key")
	assert.Equal(t, 1, rec.callCount())
}

func TestSegmentWorker_MissingInput(t *testing.T) {
	env := newTestEnv(t)
	rec := &scriptedRecognizer{}
	w := newTestWorker(rec, env, time.Minute, 3)

	_, _, err := w.Transcribe(context.Background(), "job-1", "/does/not/exist.wav", models.RecognitionParams{}, ShortWindow(), time.Minute)
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrInput)
	assert.Equal(t, 0, rec.callCount())

	_, _, err = w.Transcribe(context.Background(), "job-1", t.TempDir(), models.RecognitionParams{}, ShortWindow(), time.Minute)
	assert.ErrorIs(t, err, models.ErrInput)
}

func TestSegmentWorker_EmptySegmentIsNotRetried(t *testing.T) {
	env := newTestEnv(t)
	env.createJob(t, "job-1", "talk.mp3")
	seg := filepath.Join(t.TempDir(), "segment_000.wav")
	require.NoError(t, os.WriteFile(seg, nil, 0o644))
	rec := &scriptedRecognizer{attempts: []attempt{{startErr: fmt.Errorf("%w: 503", models.ErrTransient)}}}
	w := newTestWorker(rec, env, time.Minute, 3)

	_, _, err := w.Transcribe(context.Background(), "job-1", seg, models.RecognitionParams{}, SegmentWindow(0, 1), time.Minute)
	assert.ErrorIs(t, err, models.ErrInput)

	res := w.Process(context.Background(), SegmentTask{JobID: "job-1", AudioPath: seg, Index: 0, Total: 1})
	assert.True(t, res.Failed())
	assert.Contains(t, res.Error, "is empty")
	assert.Equal(t, 0, rec.callCount(), "the provider is never called for an empty file")
}

func TestSegmentWorker_ContextCancel(t *testing.T) {
	env := newTestEnv(t)
	env.createJob(t, "job-1", "talk.mp3")
	seg := writeFile(t, t.TempDir(), "segment_000.wav")
	rec := &scriptedRecognizer{attempts: []attempt{{hold: true}}}
	w := newTestWorker(rec, env, time.Minute, 3)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, _, err := w.Transcribe(ctx, "job-1", seg, models.RecognitionParams{}, SegmentWindow(0, 1), time.Minute)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestFixedRetryStrategy(t *testing.T) {
	s := &FixedRetryStrategy{MaxAttempts: 2, Delay: 5 * time.Second}
	assert.Equal(t, int64(5000), s.NextBackoff(0))
	assert.Equal(t, int64(5000), s.NextBackoff(1))
	assert.Equal(t, int64(-1), s.NextBackoff(2))
	assert.Equal(t, int64(-1), (&FixedRetryStrategy{}).NextBackoff(0))
}
