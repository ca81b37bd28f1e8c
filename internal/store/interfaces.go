package store

import (
	"context"
	"time"

	"github.com/hibiken/asynq"

	"skald/internal/models"
)

// --- Job Client ---

type JobClient interface {
	Enqueue(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
	// Cancel removes a task that has not started yet. A task that is already gone is not an error.
	Cancel(ctx context.Context, queue, taskID string) error
	Close() error
}

// --- Progress Store ---

// ProgressStore is the per-job record that pollers read. Every mutation is a
// per-key atomic read-modify-write.
type ProgressStore interface {
	CreateJob(ctx context.Context, info models.JobInfo) error
	GetJob(ctx context.Context, jobID string) (*models.Job, error)
	UpdateInfo(ctx context.Context, jobID string, fn func(info *models.JobInfo)) error
	PublishProgress(ctx context.Context, jobID string, upd models.ProgressUpdate) (bool, error)
	AdvanceSegmentCounter(ctx context.Context, jobID string, c models.SegmentCount, text *string) (bool, error)
	ListJobIDs(ctx context.Context) ([]string, error)
	DeleteJob(ctx context.Context, jobID string) error
	Ping(ctx context.Context) error
}

// --- Segment Group ---

// SegmentGroup tracks the fan-in of one job's segments.
type SegmentGroup interface {
	Open(ctx context.Context, jobID string, total int) error
	// Record stores a segment's result once and reports whether the caller
	// was the one that completed the group and must run the combine step.
	Record(ctx context.Context, jobID string, result models.SegmentResult) (bool, error)
	Results(ctx context.Context, jobID string) ([]models.SegmentResult, error)
	// Finished reports whether all segments reported and the combine step was claimed.
	Finished(ctx context.Context, jobID string) (bool, error)
	Abort(ctx context.Context, jobID string) error
}

// --- Transcript Archive ---

// ArchivedTranscript is the long-lived copy of a finished transcript.
type ArchivedTranscript struct {
	JobID          string
	OriginalName   string
	Language       string
	Provider       string
	Text           string
	Duration       float64
	SegmentsTotal  int
	SegmentsFailed int
	CreatedAt      time.Time
}

type TranscriptArchive interface {
	SaveTranscript(ctx context.Context, t *ArchivedTranscript) error
	GetTranscript(ctx context.Context, jobID string) (*ArchivedTranscript, error)
	ListTranscripts(ctx context.Context, limit, offset int) ([]*ArchivedTranscript, error)
	DeleteTranscript(ctx context.Context, jobID string) error
	Ping(ctx context.Context) error
	Close() error
}
