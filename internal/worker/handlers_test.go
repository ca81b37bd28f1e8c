package worker

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"skald/internal/artifacts"
	"skald/internal/models"
	"skald/internal/planner"
	"skald/internal/recognizer"
	"skald/internal/services"
	"skald/internal/store"
	"skald/internal/store/primary"
	"skald/internal/tasks"
	mock_store "skald/internal/tests/mocks/store"
)

// echoRecognizer recognizes the file name as its only utterance.
type echoRecognizer struct{}

func (echoRecognizer) Recognize(_ context.Context, audioPath string, _ models.RecognitionParams) (<-chan recognizer.Event, error) {
	ch := make(chan recognizer.Event, 2)
	ch <- recognizer.Event{Type: recognizer.EventRecognized, Text: strings.TrimSuffix(filepath.Base(audioPath), ".wav")}
	ch <- recognizer.Event{Type: recognizer.EventSessionStopped}
	close(ch)
	return ch, nil
}

type brokenTranscoder struct{}

func (brokenTranscoder) Normalize(context.Context, string, string) (string, error) {
	return "", errors.New("ffmpeg exited with status 1")
}
func (brokenTranscoder) Duration(context.Context, string) float64 { return 0 }
func (brokenTranscoder) SplitPlan(context.Context, string, string, []planner.Segment) ([]string, error) {
	return nil, nil
}

type fixture struct {
	deps     Deps
	progress *store.RedisProgressStore
	group    *store.RedisSegmentGroup
	jc       *mock_store.JobClient
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	progress := store.NewRedisProgressStore(rdb, time.Hour)
	group := store.NewRedisSegmentGroup(rdb, time.Hour)
	files := artifacts.NewFileStore(t.TempDir())
	jc := mock_store.NewJobClient(t)
	segWorker := services.NewSegmentWorker(echoRecognizer{}, progress, services.SegmentWorkerConfig{
		Timeout:          time.Minute,
		ProgressInterval: time.Second,
		Retry:            &services.FixedRetryStrategy{},
	})
	combiner := services.NewCombiner(progress, files, primary.NoopArchive{})
	dispatcher := services.NewDispatcher(jc, group, services.DispatcherConfig{Queue: "segments"})
	controller := services.NewController(progress, brokenTranscoder{}, files, segWorker, dispatcher, combiner,
		services.ControllerConfig{WorkDir: t.TempDir(), ShortPathThreshold: 60})

	return &fixture{
		deps: Deps{
			Controller:    controller,
			SegmentWorker: segWorker,
			Combiner:      combiner,
			Conversion:    services.NewConversionService(progress, brokenTranscoder{}, files, t.TempDir()),
			Group:         group,
			Progress:      progress,
			JobClient:     jc,
			CombineQueue:  "transcription",
		},
		progress: progress,
		group:    group,
		jc:       jc,
	}
}

func (f *fixture) createJob(t *testing.T, id string) {
	t.Helper()
	require.NoError(t, f.progress.CreateJob(context.Background(), models.JobInfo{
		ID: id, Kind: models.JobKindTranscription, OriginalName: "talk.mp3",
	}))
}

func segmentTask(t *testing.T, dir, jobID string, index, total int) *asynq.Task {
	t.Helper()
	path := filepath.Join(dir, []string{"alpha", "beta", "gamma"}[index]+".wav")
	require.NoError(t, os.WriteFile(path, []byte("RIFF"), 0o644))
	task, err := tasks.NewSegmentTask(tasks.SegmentPayload{JobID: jobID, SegmentPath: path, Index: index, Total: total})
	require.NoError(t, err)
	return task
}

func TestRegisterHandlers(t *testing.T) {
	mux := asynq.NewServeMux()
	RegisterHandlers(mux, Deps{})
	for _, typ := range []string{
		tasks.TypeTranscriptionProcess,
		tasks.TypeTranscriptionSegment,
		tasks.TypeTranscriptionCombine,
		tasks.TypeConversionRun,
	} {
		_, pattern := mux.Handler(asynq.NewTask(typ, nil))
		assert.Equal(t, typ, pattern)
	}
}

func TestSegmentGroupFanIn(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.createJob(t, "job-1")
	require.NoError(t, f.group.Open(ctx, "job-1", 2))

	f.jc.On("Enqueue", mock.Anything, mock.MatchedBy(func(task *asynq.Task) bool {
		return task.Type() == tasks.TypeTranscriptionCombine
	}), mock.Anything).Return(&asynq.TaskInfo{}, nil).Once()

	dir := t.TempDir()
	handle := HandleSegment(f.deps)
	second := segmentTask(t, dir, "job-1", 1, 2)
	require.NoError(t, handle(ctx, second))
	f.jc.AssertNotCalled(t, "Enqueue", mock.Anything, mock.Anything, mock.Anything)
	require.NoError(t, handle(ctx, segmentTask(t, dir, "job-1", 0, 2)))

	combine, err := tasks.NewCombineTask(tasks.CombinePayload{JobID: "job-1"})
	require.NoError(t, err)
	require.NoError(t, HandleCombine(f.deps)(ctx, combine))

	job, err := f.progress.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, job.Progress.Status)
	require.NotNil(t, job.Result)
	assert.Equal(t, "alpha beta", job.Result.Text)

	// A redelivered segment of a finished job is acknowledged without scheduling anything.
	require.NoError(t, handle(ctx, second))
	f.jc.AssertNumberOfCalls(t, "Enqueue", 1)

	// So is a repeated combine.
	require.NoError(t, HandleCombine(f.deps)(ctx, combine))
}

func TestHandleSegment_RedeliveryEnqueuesLostCombine(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.createJob(t, "job-1")
	require.NoError(t, f.group.Open(ctx, "job-1", 1))

	isCombine := mock.MatchedBy(func(task *asynq.Task) bool {
		return task.Type() == tasks.TypeTranscriptionCombine
	})
	f.jc.On("Enqueue", mock.Anything, isCombine, mock.Anything).Return(nil, errors.New("redis: connection reset")).Once()
	f.jc.On("Enqueue", mock.Anything, isCombine, mock.Anything).Return(&asynq.TaskInfo{}, nil).Once()

	handle := HandleSegment(f.deps)
	seg := segmentTask(t, t.TempDir(), "job-1", 0, 1)
	err := handle(ctx, seg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")

	// The queue delivers the segment again; its file is gone and its result is
	// already recorded, but the combine step still has to be scheduled.
	require.NoError(t, handle(ctx, seg))
	f.jc.AssertNumberOfCalls(t, "Enqueue", 2)

	combine, err := tasks.NewCombineTask(tasks.CombinePayload{JobID: "job-1"})
	require.NoError(t, err)
	require.NoError(t, HandleCombine(f.deps)(ctx, combine))

	job, err := f.progress.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, job.Progress.Status)
	assert.Equal(t, "alpha", job.Result.Text)

	require.NoError(t, handle(ctx, seg))
	f.jc.AssertNumberOfCalls(t, "Enqueue", 2)
}

func TestHandleSegment_UnknownGroupIsNotRetried(t *testing.T) {
	f := newFixture(t)
	f.createJob(t, "job-1")

	err := HandleSegment(f.deps)(context.Background(), segmentTask(t, t.TempDir(), "job-1", 0, 1))
	require.Error(t, err)
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestHandleCombine_AllFailedIsNotRetried(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.createJob(t, "job-1")
	require.NoError(t, f.group.Open(ctx, "job-1", 1))
	_, err := f.group.Record(ctx, "job-1", models.SegmentResult{Index: 0, Error: "provider down"})
	require.NoError(t, err)

	combine, err := tasks.NewCombineTask(tasks.CombinePayload{JobID: "job-1"})
	require.NoError(t, err)
	err = HandleCombine(f.deps)(ctx, combine)
	assert.ErrorIs(t, err, asynq.SkipRetry)

	job, err := f.progress.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, job.Progress.Status)
}

func TestHandleProcess_FailedJobIsNotRetried(t *testing.T) {
	f := newFixture(t)
	f.createJob(t, "job-1")
	upload := filepath.Join(t.TempDir(), "talk.mp3")
	require.NoError(t, os.WriteFile(upload, []byte("ID3"), 0o644))

	task, err := tasks.NewProcessTask(tasks.ProcessPayload{
		JobID:    "job-1",
		FilePath: upload,
		Params:   models.RecognitionParams{Provider: "openai", APIKey: "sk-test"},
	})
	require.NoError(t, err)

	err = HandleProcess(f.deps)(context.Background(), task)
	assert.ErrorIs(t, err, asynq.SkipRetry)
	job, err := f.progress.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, job.Progress.Status)
}

func TestHandleConversion_Failure(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.progress.CreateJob(context.Background(), models.JobInfo{ID: "conv-1", Kind: models.JobKindConversion}))
	upload := filepath.Join(t.TempDir(), "clip.mp4")
	require.NoError(t, os.WriteFile(upload, []byte("mp4"), 0o644))
	task, err := tasks.NewConversionTask(tasks.ConversionPayload{JobID: "conv-1", FilePath: upload})
	require.NoError(t, err)

	err = HandleConversion(f.deps)(context.Background(), task)
	assert.ErrorIs(t, err, asynq.SkipRetry)
	_, statErr := os.Stat(upload)
	assert.True(t, os.IsNotExist(statErr))
}

func TestHandlers_RejectBadPayload(t *testing.T) {
	f := newFixture(t)
	err := HandleSegment(f.deps)(context.Background(), asynq.NewTask(tasks.TypeTranscriptionSegment, []byte("{")))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestRetryDelay(t *testing.T) {
	delay := RetryDelay(5 * time.Second)
	seg := asynq.NewTask(tasks.TypeTranscriptionSegment, nil)
	proc := asynq.NewTask(tasks.TypeTranscriptionProcess, nil)

	assert.Equal(t, 5*time.Second, delay(0, nil, seg))
	assert.Equal(t, 5*time.Second, delay(4, nil, seg))
	assert.Equal(t, time.Second, delay(0, nil, proc))
	assert.Equal(t, 4*time.Second, delay(2, nil, proc))
	assert.Equal(t, 30*time.Second, delay(8, nil, proc))
}
