package services

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"skald/internal/models"
	"skald/internal/store/primary"
)

func TestMergeSegments(t *testing.T) {
	tests := []struct {
		name       string
		results    []models.SegmentResult
		wantText   string
		wantFailed int
		wantErr    string
	}{
		{
			name: "orders by index",
			results: []models.SegmentResult{
				{Index: 2, Text: "three"},
				{Index: 0, Text: " one "},
				{Index: 1, Text: "two"},
			},
			wantText: "one two three",
		},
		{
			name: "skips failed and empty segments",
			results: []models.SegmentResult{
				{Index: 0, Text: "first"},
				{Index: 1, Error: "recognition failed"},
				{Index: 2, Text: ""},
				{Index: 3, Text: "last", TimedOut: true},
			},
			wantText:   "first last",
			wantFailed: 1,
		},
		{
			name: "all failed reports the first error",
			results: []models.SegmentResult{
				{Index: 1, Error: "second"},
				{Index: 0, Error: "first"},
			},
			wantFailed: 2,
			wantErr:    "first",
		},
		{
			name:    "no speech",
			results: []models.SegmentResult{{Index: 0}, {Index: 1, Text: "  "}},
			wantErr: "no speech recognized",
		},
		{
			name:    "empty group",
			wantErr: "no segment results",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text, failed, err := MergeSegments(tt.results)
			assert.Equal(t, tt.wantFailed, failed)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.ErrorIs(t, err, models.ErrMerge)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantText, text)
		})
	}
}

func TestMergeSegments_DoesNotReorderInput(t *testing.T) {
	in := []models.SegmentResult{{Index: 1, Text: "b"}, {Index: 0, Text: "a"}}
	_, _, err := MergeSegments(in)
	require.NoError(t, err)
	assert.Equal(t, 1, in[0].Index)
}

func TestCombiner_CompletesJob(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.createJob(t, "job-1", "interview.mp3")
	segDir := filepath.Join(env.work, "job-1")
	writeFile(t, segDir, "leftover.wav")
	require.NoError(t, env.progress.UpdateInfo(ctx, "job-1", func(info *models.JobInfo) { info.SegmentTempDir = segDir }))

	archive, err := primary.Open(ctx, "sqlite://"+filepath.Join(t.TempDir(), "archive.db"))
	require.NoError(t, err)
	defer archive.Close()

	c := NewCombiner(env.progress, env.files, archive)
	err = c.Combine(ctx, "job-1", []models.SegmentResult{
		{Index: 1, Text: "world"},
		{Index: 0, Text: "hello"},
		{Index: 2, Error: "timeout"},
	})
	require.NoError(t, err)

	job := env.job(t, "job-1")
	assert.Equal(t, models.JobStatusCompleted, job.Progress.Status)
	assert.Equal(t, 100, job.Progress.Progress)
	require.NotNil(t, job.Result)
	assert.Equal(t, models.ResultStatusSuccess, job.Result.Status)
	assert.Equal(t, "hello world", job.Result.Text)
	assert.Equal(t, filepath.Join("text", "interview.txt"), job.Info.TxtFile)

	data, err := os.ReadFile(filepath.Join(env.files.Root(), job.Info.TxtFile))
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))

	_, err = os.Stat(segDir)
	assert.True(t, os.IsNotExist(err))

	archived, err := archive.GetTranscript(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, "hello world", archived.Text)
	assert.Equal(t, 3, archived.SegmentsTotal)
	assert.Equal(t, 1, archived.SegmentsFailed)
}

func TestCombiner_FailsJobWhenNothingRecognized(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.createJob(t, "job-1", "interview.mp3")
	c := NewCombiner(env.progress, env.files, primary.NoopArchive{})

	err := c.Combine(ctx, "job-1", []models.SegmentResult{{Index: 0, Error: "boom"}})
	require.ErrorIs(t, err, models.ErrMerge)

	job := env.job(t, "job-1")
	assert.Equal(t, models.JobStatusFailed, job.Progress.Status)
	assert.Equal(t, 100, job.Progress.Progress)
	require.NotNil(t, job.Result)
	assert.Equal(t, models.ResultStatusError, job.Result.Status)
	assert.Contains(t, job.Result.Error, "boom")
	assert.Empty(t, job.Info.TxtFile)
}
