package services

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"skald/internal/artifacts"
	"skald/internal/models"
	"skald/internal/planner"
	"skald/internal/recognizer"
	"skald/internal/store"
)

const testTTL = time.Hour

type testEnv struct {
	mr       *miniredis.Miniredis
	progress *store.RedisProgressStore
	group    *store.RedisSegmentGroup
	files    *artifacts.FileStore
	work     string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	root := t.TempDir()
	return &testEnv{
		mr:       mr,
		progress: store.NewRedisProgressStore(rdb, testTTL),
		group:    store.NewRedisSegmentGroup(rdb, testTTL),
		files:    artifacts.NewFileStore(filepath.Join(root, "downloads")),
		work:     filepath.Join(root, "work"),
	}
}

func (e *testEnv) createJob(t *testing.T, id, name string) {
	t.Helper()
	require.NoError(t, e.progress.CreateJob(context.Background(), models.JobInfo{
		ID:           id,
		Kind:         models.JobKindTranscription,
		OriginalName: name,
		Language:     "en-US",
		Provider:     "openai",
	}))
}

func (e *testEnv) job(t *testing.T, id string) *models.Job {
	t.Helper()
	job, err := e.progress.GetJob(context.Background(), id)
	require.NoError(t, err)
	return job
}

func writeFile(t *testing.T, dir, name string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte("RIFF....WAVEfmt "), 0o644))
	return p
}

// attempt scripts one Recognize call.
type attempt struct {
	startErr error
	texts    []string
	// endErr ends the session with a Canceled event carrying this error.
	endErr error
	// hold keeps the session open after the texts until ctx is done.
	hold bool
}

type scriptedRecognizer struct {
	mu       sync.Mutex
	attempts []attempt
	byPath   map[string]attempt
	calls    int
}

func (r *scriptedRecognizer) Recognize(ctx context.Context, audioPath string, _ models.RecognitionParams) (<-chan recognizer.Event, error) {
	r.mu.Lock()
	var a attempt
	if s, ok := r.byPath[filepath.Base(audioPath)]; ok {
		a = s
	} else if len(r.attempts) > 0 {
		i := r.calls
		if i >= len(r.attempts) {
			i = len(r.attempts) - 1
		}
		a = r.attempts[i]
	}
	r.calls++
	r.mu.Unlock()

	if a.startErr != nil {
		return nil, a.startErr
	}
	ch := make(chan recognizer.Event)
	go func() {
		defer close(ch)
		emit := func(ev recognizer.Event) bool {
			select {
			case ch <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}
		for _, text := range a.texts {
			if !emit(recognizer.Event{Type: recognizer.EventRecognized, Text: text}) {
				return
			}
		}
		if a.hold {
			<-ctx.Done()
			return
		}
		if a.endErr != nil {
			emit(recognizer.Event{Type: recognizer.EventCanceled, Err: a.endErr})
			return
		}
		emit(recognizer.Event{Type: recognizer.EventSessionStopped})
	}()
	return ch, nil
}

func (r *scriptedRecognizer) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

// fakeTranscoder copies files instead of running ffmpeg.
type fakeTranscoder struct {
	duration     float64
	normalizeErr error
	// dropSegments makes SplitPlan return no files.
	dropSegments bool
	plans        [][]planner.Segment
}

func (f *fakeTranscoder) Normalize(_ context.Context, input, outDir string) (string, error) {
	if f.normalizeErr != nil {
		return "", f.normalizeErr
	}
	if _, err := os.Stat(input); err != nil {
		return "", fmt.Errorf("%w: %v", models.ErrInput, err)
	}
	out := filepath.Join(outDir, "input_converted.wav")
	return out, os.WriteFile(out, []byte("RIFF....WAVEfmt "), 0o644)
}

func (f *fakeTranscoder) Duration(context.Context, string) float64 { return f.duration }

func (f *fakeTranscoder) SplitPlan(_ context.Context, _, outDir string, plan []planner.Segment) ([]string, error) {
	f.plans = append(f.plans, plan)
	if f.dropSegments {
		return nil, nil
	}
	paths := make([]string, 0, len(plan))
	for _, seg := range plan {
		p := filepath.Join(outDir, fmt.Sprintf("segment_%03d.wav", seg.Index))
		if err := os.WriteFile(p, []byte("RIFF....WAVEfmt "), 0o644); err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}
	return paths, nil
}

func noSleep(context.Context, time.Duration) error { return nil }

func newTestWorker(rec recognizer.Recognizer, env *testEnv, timeout time.Duration, retries int) *SegmentWorker {
	w := NewSegmentWorker(rec, env.progress, SegmentWorkerConfig{
		Timeout:          timeout,
		ProgressInterval: 5 * time.Millisecond,
		Retry:            &FixedRetryStrategy{MaxAttempts: retries, Delay: time.Second},
	})
	w.sleep = noSleep
	return w
}
