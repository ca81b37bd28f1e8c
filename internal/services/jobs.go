package services

import (
	"context"
	"strings"

	log "github.com/sirupsen/logrus"

	"skald/internal/models"
	"skald/internal/store"
)

// failJob moves a job to failed with progress 100. Errors are only logged:
// the caller is already on a failure path.
func failJob(ctx context.Context, progress store.ProgressStore, jobID string, cause error) {
	msg := cause.Error()
	if _, err := progress.PublishProgress(ctx, jobID, models.ProgressUpdate{
		Status: models.JobStatusFailed,
		Error:  msg,
		Result: &models.Result{Status: models.ResultStatusError, Error: msg},
	}); err != nil {
		log.WithError(err).WithField("job_id", jobID).Error("Failed to mark job as failed")
		return
	}
	log.WithError(cause).WithField("job_id", jobID).Error("Job failed")
}

var testKeywords = []string{
	"test", "testing", "tester", "tested",
	"sample", "example", "demo", "temp", "tmp",
	"测试", "样本", "示例", "例子",
}

// IsTestJob reports whether a job looks like a test upload, judged by its file name.
func IsTestJob(info models.JobInfo) bool {
	name := strings.ToLower(info.OriginalName)
	if name == "" {
		return false
	}
	for _, kw := range testKeywords {
		if strings.Contains(name, kw) {
			return true
		}
	}
	return false
}
