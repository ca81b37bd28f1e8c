package tasks

import (
	"errors"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"skald/internal/models"
)

func TestSegmentTaskRoundTrip(t *testing.T) {
	task, err := NewSegmentTask(SegmentPayload{
		JobID: "job-1", SegmentPath: "/tmp/segment_002.wav", Index: 2, Total: 5,
		Params: models.RecognitionParams{Language: "ja-JP", APIKey: "k"},
	})
	require.NoError(t, err)
	assert.Equal(t, TypeTranscriptionSegment, task.Type())

	var p SegmentPayload
	require.NoError(t, Decode(task, &p))
	assert.Equal(t, 2, p.Index)
	assert.Equal(t, "ja-JP", p.Params.Language)
}

func TestDecodeBadPayloadSkipsRetry(t *testing.T) {
	var p CombinePayload
	err := Decode(asynq.NewTask(TypeTranscriptionCombine, []byte("{")), &p)
	require.Error(t, err)
	assert.True(t, errors.Is(err, asynq.SkipRetry))
}

func TestTaskIDs(t *testing.T) {
	assert.Equal(t, "job-1:segment:3", SegmentTaskID("job-1", 3))
	assert.Equal(t, "job-1:combine", CombineTaskID("job-1"))
}
