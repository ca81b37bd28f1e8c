package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"skald/internal/models"
	"skald/internal/recognizer"
	"skald/internal/store"
)

// Window is the slice of the 0-100 progress scale owned by one unit of recognition work.
type Window struct {
	Base  float64
	Share float64
	// Step is the fraction of Share credited per recognized utterance.
	Step float64
	// Cap bounds the fraction reached before the work is complete.
	Cap float64
}

// SegmentWindow is the window of segment index out of total.
func SegmentWindow(index, total int) Window {
	if total <= 0 {
		total = 1
	}
	share := float64(models.SegmentProgressSpan) / float64(total)
	return Window{
		Base:  models.SegmentProgressBase + float64(index)*share,
		Share: share,
		Step:  0.1,
		Cap:   0.7,
	}
}

// ShortWindow treats a whole short recording as one virtual segment of ten steps.
func ShortWindow() Window {
	return Window{Base: models.SegmentProgressBase, Share: 75, Step: 0.1, Cap: 0.9}
}

// AtUtterance is the progress after n utterances.
func (w Window) AtUtterance(n int) int {
	return w.at(float64(n) * w.Step)
}

// AtElapsed is the time-based progress floor after elapsed out of timeout.
func (w Window) AtElapsed(elapsed, timeout time.Duration) int {
	if timeout <= 0 {
		return int(w.Base)
	}
	return w.at(float64(elapsed) / float64(timeout))
}

// Saturated is the progress once the work is complete.
func (w Window) Saturated() int {
	return int(math.Floor(w.Base + w.Share))
}

func (w Window) at(frac float64) int {
	if frac > w.Cap {
		frac = w.Cap
	}
	if frac < 0 {
		frac = 0
	}
	return int(math.Floor(w.Base + w.Share*frac))
}

// SegmentTask is one unit of segment work.
type SegmentTask struct {
	JobID     string
	AudioPath string
	Index     int
	Total     int
	Params    models.RecognitionParams
}

type SegmentWorkerConfig struct {
	Timeout          time.Duration
	ProgressInterval time.Duration
	Retry            RetryStrategy
}

// SegmentWorker recognizes segments and reports their progress.
type SegmentWorker struct {
	recognizer recognizer.Recognizer
	progress   store.ProgressStore
	cfg        SegmentWorkerConfig
	sleep      func(ctx context.Context, d time.Duration) error
}

func NewSegmentWorker(rec recognizer.Recognizer, progress store.ProgressStore, cfg SegmentWorkerConfig) *SegmentWorker {
	if cfg.ProgressInterval <= 0 {
		cfg.ProgressInterval = 2 * time.Second
	}
	if cfg.Retry == nil {
		cfg.Retry = &FixedRetryStrategy{MaxAttempts: 3, Delay: 5 * time.Second}
	}
	return &SegmentWorker{recognizer: rec, progress: progress, cfg: cfg, sleep: sleepCtx}
}

// Process recognizes one segment. It never returns an error: failures are
// reported in the result so the fan-in still counts the segment.
func (w *SegmentWorker) Process(ctx context.Context, task SegmentTask) models.SegmentResult {
	logger := log.WithFields(log.Fields{"job_id": task.JobID, "segment": task.Index, "total": task.Total})
	result := models.SegmentResult{Index: task.Index}

	window := SegmentWindow(task.Index, task.Total)
	text, timedOut, err := w.Transcribe(ctx, task.JobID, task.AudioPath, task.Params, window, w.cfg.Timeout)
	if err != nil {
		logger.WithError(err).Error("Segment recognition failed")
		result.Error = err.Error()
		return result
	}
	result.Text = text
	result.TimedOut = timedOut

	w.publish(ctx, task.JobID, models.ProgressUpdate{Progress: window.Saturated()})
	if _, err := w.progress.AdvanceSegmentCounter(ctx, task.JobID, models.SegmentCount{Total: task.Total, Delta: 1}, nil); err != nil {
		logger.WithError(err).Warn("Failed to advance segment counter")
	}
	if err := os.Remove(task.AudioPath); err != nil && !os.IsNotExist(err) {
		logger.WithError(err).Warn("Failed to delete segment file")
	}

	logger.WithFields(log.Fields{"chars": len(text), "timed_out": timedOut}).Info("Segment recognized")
	return result
}

// Transcribe validates the input and runs recognition with retries, publishing
// progress inside window. A timeout is a partial success: the text gathered so
// far is returned with timedOut set and no error.
func (w *SegmentWorker) Transcribe(ctx context.Context, jobID, audioPath string, params models.RecognitionParams, window Window, timeout time.Duration) (text string, timedOut bool, err error) {
	if err := validateAudio(audioPath); err != nil {
		return "", false, err
	}

	for attempt := 0; ; attempt++ {
		text, timedOut, err = w.recognizeOnce(ctx, jobID, audioPath, params, window, timeout)
		if err == nil {
			return text, timedOut, nil
		}
		if !models.Retryable(err) || ctx.Err() != nil {
			return "", false, err
		}
		backoff := w.cfg.Retry.NextBackoff(attempt)
		if backoff < 0 {
			return "", false, fmt.Errorf("recognition failed after %d attempts: %w", attempt+1, err)
		}
		log.WithFields(log.Fields{"job_id": jobID, "attempt": attempt + 1, "backoff_ms": backoff}).
			WithError(err).Warn("Recognition failed, retrying")
		if serr := w.sleep(ctx, time.Duration(backoff)*time.Millisecond); serr != nil {
			return "", false, serr
		}
	}
}

func validateAudio(path string) error {
	if path == "" {
		return fmt.Errorf("%w: no audio path", models.ErrInput)
	}
	st, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrInput, err)
	}
	if st.IsDir() {
		return fmt.Errorf("%w: %s is a directory", models.ErrInput, path)
	}
	if st.Size() == 0 {
		return fmt.Errorf("%w: %s is empty", models.ErrInput, path)
	}
	return nil
}

// recognizeOnce runs one recognition session, consuming its events until the
// session ends, the deadline passes or ctx is done.
func (w *SegmentWorker) recognizeOnce(ctx context.Context, jobID, audioPath string, params models.RecognitionParams, window Window, timeout time.Duration) (string, bool, error) {
	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	start := time.Now()
	events, err := w.recognizer.Recognize(sessionCtx, audioPath, params)
	if err != nil {
		return "", false, err
	}

	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}
	ticker := time.NewTicker(w.cfg.ProgressInterval)
	defer ticker.Stop()

	var utterances []string
	published := int(window.Base)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				if err := ctx.Err(); err != nil {
					return "", false, err
				}
				return strings.Join(utterances, " "), false, nil
			}
			switch ev.Type {
			case recognizer.EventRecognized:
				t := strings.TrimSpace(ev.Text)
				if t == "" {
					continue
				}
				utterances = append(utterances, t)
				current := strings.Join(utterances, " ")
				p := window.AtUtterance(len(utterances))
				if p > published {
					published = p
				}
				w.publish(ctx, jobID, models.ProgressUpdate{Progress: p, Text: &current})
			case recognizer.EventCanceled:
				if ev.Err != nil {
					return "", false, ev.Err
				}
				return strings.Join(utterances, " "), false, nil
			case recognizer.EventSessionStopped:
				return strings.Join(utterances, " "), false, nil
			}

		case <-ticker.C:
			if p := window.AtElapsed(time.Since(start), timeout); p > published {
				published = p
				w.publish(ctx, jobID, models.ProgressUpdate{Progress: p})
			}

		case <-deadline:
			log.WithFields(log.Fields{"job_id": jobID, "timeout": timeout, "utterances": len(utterances)}).
				Warn("Recognition timed out, keeping partial text")
			return strings.Join(utterances, " "), true, nil

		case <-ctx.Done():
			return "", false, ctx.Err()
		}
	}
}

func (w *SegmentWorker) publish(ctx context.Context, jobID string, upd models.ProgressUpdate) {
	if _, err := w.progress.PublishProgress(ctx, jobID, upd); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).WithField("job_id", jobID).Debug("Progress update not stored")
	}
}
