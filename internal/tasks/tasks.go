package tasks

import (
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"

	"skald/internal/models"
)

// Defines constants for task types used in Asynq.

const (
	// TypeTranscriptionProcess runs the pipeline controller for one upload.
	TypeTranscriptionProcess = "transcription:process"
	// TypeTranscriptionSegment recognizes one segment of a long upload.
	TypeTranscriptionSegment = "transcription:segment"
	// TypeTranscriptionCombine merges segment results once all have reported.
	TypeTranscriptionCombine = "transcription:combine"
	// TypeConversionRun converts an upload to WAV without transcribing it.
	TypeConversionRun = "conversion:run"
)

// ProcessPayload starts a transcription job.
type ProcessPayload struct {
	JobID           string                   `json:"job_id"`
	FilePath        string                   `json:"file_path"`
	FileType        string                   `json:"file_type"`
	Params          models.RecognitionParams `json:"params"`
	ParallelThreads int                      `json:"parallel_threads"`
	SegmentLength   int                      `json:"segment_length"`
}

// SegmentPayload is one member of a job's segment group.
type SegmentPayload struct {
	JobID       string                   `json:"job_id"`
	SegmentPath string                   `json:"segment_path"`
	Index       int                      `json:"index"`
	Total       int                      `json:"total"`
	Params      models.RecognitionParams `json:"params"`
}

// CombinePayload is the fan-in continuation of a segment group.
type CombinePayload struct {
	JobID string `json:"job_id"`
}

// ConversionPayload starts a conversion job.
type ConversionPayload struct {
	JobID    string `json:"job_id"`
	FilePath string `json:"file_path"`
}

func NewProcessTask(p ProcessPayload) (*asynq.Task, error) {
	return newTask(TypeTranscriptionProcess, p)
}

func NewSegmentTask(p SegmentPayload) (*asynq.Task, error) {
	return newTask(TypeTranscriptionSegment, p)
}

func NewCombineTask(p CombinePayload) (*asynq.Task, error) {
	return newTask(TypeTranscriptionCombine, p)
}

func NewConversionTask(p ConversionPayload) (*asynq.Task, error) {
	return newTask(TypeConversionRun, p)
}

// SegmentTaskID and CombineTaskID are deterministic so a redelivered
// controller or a second "last" segment cannot enqueue duplicates.
func SegmentTaskID(jobID string, index int) string {
	return fmt.Sprintf("%s:segment:%d", jobID, index)
}

func CombineTaskID(jobID string) string {
	return jobID + ":combine"
}

// Decode unmarshals a task payload into v, marking bad payloads as non-retryable.
func Decode(t *asynq.Task, v interface{}) error {
	if err := json.Unmarshal(t.Payload(), v); err != nil {
		return fmt.Errorf("decode %s payload: %v: %w", t.Type(), err, asynq.SkipRetry)
	}
	return nil
}

func newTask(typename string, payload interface{}) (*asynq.Task, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", typename, err)
	}
	return asynq.NewTask(typename, b), nil
}
