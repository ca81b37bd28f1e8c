package services

import (
	"context"
	"errors"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"skald/internal/models"
	"skald/internal/tasks"
	mock_store "skald/internal/tests/mocks/store"
)

func isSegmentTask(task *asynq.Task) bool {
	return task.Type() == tasks.TypeTranscriptionSegment
}

func hasTaskID(id string) func([]asynq.Option) bool {
	return func(opts []asynq.Option) bool {
		for _, o := range opts {
			if o.Type() == asynq.TaskIDOpt && o.Value() == id {
				return true
			}
		}
		return false
	}
}

func TestDispatcher_EnqueuesEverySegment(t *testing.T) {
	env := newTestEnv(t)
	env.createJob(t, "job-1", "talk.mp3")
	jc := mock_store.NewJobClient(t)
	for _, id := range []string{"job-1:segment:0", "job-1:segment:1", "job-1:segment:2"} {
		jc.On("Enqueue", mock.Anything, mock.MatchedBy(isSegmentTask), mock.MatchedBy(hasTaskID(id))).
			Return(&asynq.TaskInfo{ID: id}, nil).Once()
	}
	d := NewDispatcher(jc, env.group, DispatcherConfig{Queue: "segments", MaxRetry: 3})

	ack, err := d.Dispatch(context.Background(), DispatchRequest{
		JobID:        "job-1",
		SegmentPaths: []string{"a.wav", "b.wav", "c.wav"},
		Params:       models.RecognitionParams{Language: "en-US"},
	})
	require.NoError(t, err)
	assert.Equal(t, Ack{JobID: "job-1", Status: models.JobStatusProcessing, Segments: 3}, ack)

	last, err := env.group.Record(context.Background(), "job-1", models.SegmentResult{Index: 0, Text: "x"})
	require.NoError(t, err)
	assert.False(t, last, "group is open with all three members")
}

func TestDispatcher_RollsBackOnEnqueueFailure(t *testing.T) {
	env := newTestEnv(t)
	env.createJob(t, "job-1", "talk.mp3")
	jc := mock_store.NewJobClient(t)
	jc.On("Enqueue", mock.Anything, mock.Anything, mock.Anything).Return(&asynq.TaskInfo{}, nil).Twice()
	jc.On("Enqueue", mock.Anything, mock.Anything, mock.Anything).Return(nil, errors.New("redis: connection refused")).Once()
	jc.On("Cancel", mock.Anything, "segments", "job-1:segment:0").Return(nil).Once()
	jc.On("Cancel", mock.Anything, "segments", "job-1:segment:1").Return(nil).Once()
	d := NewDispatcher(jc, env.group, DispatcherConfig{Queue: "segments", MaxRetry: 3})

	_, err := d.Dispatch(context.Background(), DispatchRequest{JobID: "job-1", SegmentPaths: []string{"a", "b", "c"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "segment 3/3")

	// An aborted group never hands out the combine step.
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		last, err := env.group.Record(ctx, "job-1", models.SegmentResult{Index: i, Text: "x"})
		require.NoError(t, err)
		assert.False(t, last)
	}
}

func TestDispatcher_Redelivery(t *testing.T) {
	env := newTestEnv(t)
	env.createJob(t, "job-1", "talk.mp3")
	require.NoError(t, env.group.Open(context.Background(), "job-1", 2))

	jc := mock_store.NewJobClient(t)
	jc.On("Enqueue", mock.Anything, mock.Anything, mock.MatchedBy(hasTaskID("job-1:segment:0"))).
		Return(nil, asynq.ErrTaskIDConflict).Once()
	jc.On("Enqueue", mock.Anything, mock.Anything, mock.MatchedBy(hasTaskID("job-1:segment:1"))).
		Return(&asynq.TaskInfo{}, nil).Once()
	d := NewDispatcher(jc, env.group, DispatcherConfig{Queue: "segments"})

	ack, err := d.Dispatch(context.Background(), DispatchRequest{JobID: "job-1", SegmentPaths: []string{"a", "b"}})
	require.NoError(t, err)
	assert.Equal(t, 2, ack.Segments)
}

func TestDispatcher_Validation(t *testing.T) {
	env := newTestEnv(t)
	jc := mock_store.NewJobClient(t)
	d := NewDispatcher(jc, env.group, DispatcherConfig{})

	_, err := d.Dispatch(context.Background(), DispatchRequest{JobID: "job-1"})
	assert.ErrorIs(t, err, models.ErrValidation)

	_, err = d.Dispatch(context.Background(), DispatchRequest{JobID: "missing", SegmentPaths: []string{"a"}})
	assert.Error(t, err, "a group cannot be opened for an unknown job")
}
