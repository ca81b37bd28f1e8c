package models

// JobStatus is the lifecycle state of a job as seen by pollers.
// It only moves forward: pending -> processing -> completed|failed.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Terminal reports whether no further transitions are allowed.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

func (s JobStatus) rank() int {
	switch s {
	case JobStatusPending:
		return 0
	case JobStatusProcessing:
		return 1
	case JobStatusCompleted, JobStatusFailed:
		return 2
	}
	return -1
}

// JobKind distinguishes the two job families tracked by the progress store.
type JobKind string

const (
	JobKindTranscription JobKind = "transcription"
	JobKindConversion    JobKind = "conversion"
)

// Result status values stored alongside a terminal job.
const (
	ResultStatusSuccess = "success"
	ResultStatusError   = "error"
)
