package models

import (
	"time"
)

// JobInfo is the immutable-ish description of a job, stored in the "info" field
// of the job hash. Artifact paths are filled in as the pipeline produces them.
type JobInfo struct {
	ID                 string    `json:"id"`
	Kind               JobKind   `json:"kind"`
	File               string    `json:"file"`
	OriginalName       string    `json:"original_name"`
	FileType           string    `json:"file_type"`
	Language           string    `json:"language,omitempty"`
	Provider           string    `json:"provider,omitempty"`
	ParallelThreads    int       `json:"parallel_threads,omitempty"`
	SegmentLength      int       `json:"segment_length,omitempty"`
	OriginalDuration   float64   `json:"original_duration,omitempty"`
	BrowserTime        string    `json:"formatted_browser_time,omitempty"`
	ProcessedAudioFile string    `json:"processed_audio_file,omitempty"`
	TxtFile            string    `json:"txt_file,omitempty"`
	ConvertedFile      string    `json:"converted_file,omitempty"`
	SegmentTempDir     string    `json:"segment_temp_dir,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
}

// Progress is the poller-visible state, stored in the "progress_data" field.
type Progress struct {
	Status            JobStatus `json:"status"`
	Progress          int       `json:"progress"`
	CurrentText       string    `json:"current_text"`
	TotalSegments     int       `json:"total_segments,omitempty"`
	CompletedSegments int       `json:"completed_segments,omitempty"`
	Error             string    `json:"error,omitempty"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Result is written exactly once, when the job reaches a terminal state.
type Result struct {
	Status string `json:"status"`
	Text   string `json:"text,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Job is the aggregate view of one job hash.
type Job struct {
	Info     JobInfo  `json:"info"`
	Progress Progress `json:"progress_data"`
	Result   *Result  `json:"result,omitempty"`
}

// SegmentResult is what one segment contributes to the final transcript.
// A non-empty Error marks the segment as failed.
type SegmentResult struct {
	Index    int    `json:"index"`
	Text     string `json:"text"`
	Error    string `json:"error,omitempty"`
	TimedOut bool   `json:"timed_out,omitempty"`
}

func (r SegmentResult) Failed() bool {
	return r.Error != ""
}

// RecognitionParams carries the per-request provider settings.
// Endpoint is the region equivalent: an API base URL override for providers that support one.
type RecognitionParams struct {
	Provider string `json:"provider,omitempty"`
	Language string `json:"language"`
	APIKey   string `json:"api_key"`
	Endpoint string `json:"endpoint,omitempty"`
}

// MaskKey hides all but the first and last four characters of a credential.
func MaskKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "****" + key[len(key)-4:]
}
