package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	log "github.com/sirupsen/logrus"

	"skald/internal/config"
	"skald/internal/models"
	"skald/internal/store"
	"skald/internal/tasks"
)

type JobServiceDeps struct {
	Progress  store.ProgressStore
	Archive   store.TranscriptArchive
	Artifacts ArtifactStore
	JobClient store.JobClient
	Config    *config.Config
}

// JobService is the entry point shared by the HTTP API and the CLI for
// creating, inspecting and removing jobs.
type JobService struct {
	progress  store.ProgressStore
	archive   store.TranscriptArchive
	artifacts ArtifactStore
	jobs      store.JobClient
	cfg       *config.Config
	newID     func() string
}

func NewJobService(deps JobServiceDeps) *JobService {
	return &JobService{
		progress:  deps.Progress,
		archive:   deps.Archive,
		artifacts: deps.Artifacts,
		jobs:      deps.JobClient,
		cfg:       deps.Config,
		newID:     uuid.NewString,
	}
}

type SubmitTranscriptionParams struct {
	FilePath        string
	OriginalName    string
	FileType        string
	Language        string
	Provider        string
	APIKey          string
	Endpoint        string
	ParallelThreads int
	SegmentLength   int
	BrowserTime     string
}

// SubmitTranscription records a pending job for an uploaded file and queues
// its pipeline run.
func (s *JobService) SubmitTranscription(ctx context.Context, p SubmitTranscriptionParams) (*models.Job, error) {
	if err := checkUpload(p.FilePath); err != nil {
		return nil, err
	}
	if p.Provider == "" {
		p.Provider = s.cfg.Recognition.Provider
	}
	if p.APIKey == "" {
		p.APIKey = s.defaultKey(p.Provider)
	}
	if p.Language == "" {
		p.Language = "en-US"
	}
	if p.ParallelThreads == 0 {
		p.ParallelThreads = s.cfg.Transcription.ParallelThreads
	}
	if p.SegmentLength == 0 {
		p.SegmentLength = s.cfg.Transcription.SegmentLength
	}
	if p.ParallelThreads < 1 || p.SegmentLength < 1 {
		return nil, fmt.Errorf("%w: parallel_threads and segment_length must be positive", models.ErrValidation)
	}

	info := models.JobInfo{
		ID:              s.newID(),
		Kind:            models.JobKindTranscription,
		File:            p.FilePath,
		OriginalName:    p.OriginalName,
		FileType:        p.FileType,
		Language:        p.Language,
		Provider:        p.Provider,
		ParallelThreads: p.ParallelThreads,
		SegmentLength:   p.SegmentLength,
		BrowserTime:     p.BrowserTime,
		CreatedAt:       time.Now().UTC(),
	}
	task, err := tasks.NewProcessTask(tasks.ProcessPayload{
		JobID:    info.ID,
		FilePath: p.FilePath,
		FileType: p.FileType,
		Params: models.RecognitionParams{
			Provider: p.Provider,
			Language: p.Language,
			APIKey:   p.APIKey,
			Endpoint: p.Endpoint,
		},
		ParallelThreads: p.ParallelThreads,
		SegmentLength:   p.SegmentLength,
	})
	if err != nil {
		return nil, err
	}
	return s.submit(ctx, info, task)
}

// SubmitConversion records a pending conversion job and queues it.
func (s *JobService) SubmitConversion(ctx context.Context, filePath, originalName, fileType string) (*models.Job, error) {
	if err := checkUpload(filePath); err != nil {
		return nil, err
	}
	info := models.JobInfo{
		ID:           s.newID(),
		Kind:         models.JobKindConversion,
		File:         filePath,
		OriginalName: originalName,
		FileType:     fileType,
		CreatedAt:    time.Now().UTC(),
	}
	task, err := tasks.NewConversionTask(tasks.ConversionPayload{JobID: info.ID, FilePath: filePath})
	if err != nil {
		return nil, err
	}
	return s.submit(ctx, info, task)
}

func (s *JobService) submit(ctx context.Context, info models.JobInfo, task *asynq.Task) (*models.Job, error) {
	if err := s.progress.CreateJob(ctx, info); err != nil {
		return nil, err
	}
	_, err := s.jobs.Enqueue(ctx, task,
		asynq.Queue(s.cfg.Transcription.Queue),
		asynq.TaskID(info.ID),
		asynq.MaxRetry(s.cfg.Transcription.MaxRetries),
	)
	if err != nil {
		failJob(ctx, s.progress, info.ID, fmt.Errorf("enqueue: %w", err))
		return nil, fmt.Errorf("enqueue job %s: %w", info.ID, err)
	}
	log.WithFields(log.Fields{"job_id": info.ID, "kind": info.Kind, "file": info.OriginalName}).Info("Job submitted")
	return s.progress.GetJob(ctx, info.ID)
}

func (s *JobService) defaultKey(provider string) string {
	switch provider {
	case "gemini":
		return s.cfg.Recognition.GoogleApiKey
	default:
		return s.cfg.Recognition.OpenaiApiKey
	}
}

func checkUpload(path string) error {
	st, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrInput, err)
	}
	if st.IsDir() || st.Size() == 0 {
		return fmt.Errorf("%w: %s is not a usable upload", models.ErrInput, path)
	}
	return nil
}

func (s *JobService) Get(ctx context.Context, jobID string) (*models.Job, error) {
	return s.progress.GetJob(ctx, jobID)
}

type ListJobsParams struct {
	Status models.JobStatus
	Kind   models.JobKind
	// Query matches the original file name or the language, case-insensitively.
	Query  string
	Limit  int
	Offset int
}

// List returns jobs newest first, along with the number of matches before pagination.
func (s *JobService) List(ctx context.Context, p ListJobsParams) ([]*models.Job, int, error) {
	ids, err := s.progress.ListJobIDs(ctx)
	if err != nil {
		return nil, 0, err
	}
	q := strings.ToLower(strings.TrimSpace(p.Query))

	var jobs []*models.Job
	for _, id := range ids {
		job, err := s.progress.GetJob(ctx, id)
		if err != nil {
			if !errors.Is(err, store.ErrNotFound) {
				log.WithError(err).WithField("job_id", id).Warn("Skipping unreadable job")
			}
			continue
		}
		if p.Status != "" && job.Progress.Status != p.Status {
			continue
		}
		if p.Kind != "" && job.Info.Kind != p.Kind {
			continue
		}
		if q != "" && !strings.Contains(strings.ToLower(job.Info.OriginalName), q) &&
			!strings.Contains(strings.ToLower(job.Info.Language), q) {
			continue
		}
		jobs = append(jobs, job)
	}

	sort.Slice(jobs, func(i, j int) bool { return jobs[i].Info.CreatedAt.After(jobs[j].Info.CreatedAt) })

	total := len(jobs)
	if p.Offset > 0 {
		if p.Offset >= len(jobs) {
			return []*models.Job{}, total, nil
		}
		jobs = jobs[p.Offset:]
	}
	if p.Limit > 0 && len(jobs) > p.Limit {
		jobs = jobs[:p.Limit]
	}
	return jobs, total, nil
}

// Delete removes a job with every file it produced and its archived transcript.
func (s *JobService) Delete(ctx context.Context, jobID string) error {
	job, err := s.progress.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	logger := log.WithField("job_id", jobID)

	for _, rel := range []string{job.Info.ProcessedAudioFile, job.Info.TxtFile, job.Info.ConvertedFile} {
		if rel == "" {
			continue
		}
		if err := s.artifacts.Remove(rel); err != nil {
			logger.WithError(err).WithField("file", rel).Warn("Failed to remove artifact")
		}
	}
	if dir := job.Info.SegmentTempDir; dir != "" {
		if err := os.RemoveAll(dir); err != nil {
			logger.WithError(err).Warn("Failed to remove segment directory")
		}
	}
	if job.Info.File != "" {
		if err := os.Remove(job.Info.File); err != nil && !os.IsNotExist(err) {
			logger.WithError(err).Warn("Failed to remove upload")
		}
	}
	if err := s.archive.DeleteTranscript(ctx, jobID); err != nil && !errors.Is(err, store.ErrNotFound) {
		logger.WithError(err).Warn("Failed to delete archived transcript")
	}

	if err := s.progress.DeleteJob(ctx, jobID); err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}
	logger.Info("Job deleted")
	return nil
}

// Clean deletes every job when all is set, otherwise only jobs whose file
// name looks like a test upload. It returns the ids removed.
func (s *JobService) Clean(ctx context.Context, all bool) ([]string, error) {
	ids, err := s.progress.ListJobIDs(ctx)
	if err != nil {
		return nil, err
	}
	var removed []string
	for _, id := range ids {
		job, err := s.progress.GetJob(ctx, id)
		if err != nil {
			continue
		}
		if !all && !IsTestJob(job.Info) {
			continue
		}
		if err := s.Delete(ctx, id); err != nil {
			log.WithError(err).WithField("job_id", id).Warn("Failed to clean job")
			continue
		}
		removed = append(removed, id)
	}
	return removed, nil
}

// TranscriptPath is the absolute path of a finished job's TXT file.
func (s *JobService) TranscriptPath(ctx context.Context, jobID string) (string, error) {
	job, err := s.progress.GetJob(ctx, jobID)
	if err != nil {
		return "", err
	}
	if job.Info.TxtFile == "" {
		return "", fmt.Errorf("transcript of job %s: %w", jobID, store.ErrNotFound)
	}
	return s.artifacts.Path(job.Info.TxtFile)
}

// AudioPath is the absolute path of the processed or converted audio of a job.
func (s *JobService) AudioPath(ctx context.Context, jobID string) (string, error) {
	job, err := s.progress.GetJob(ctx, jobID)
	if err != nil {
		return "", err
	}
	rel := job.Info.ProcessedAudioFile
	if rel == "" {
		rel = job.Info.ConvertedFile
	}
	if rel == "" {
		return "", fmt.Errorf("audio of job %s: %w", jobID, store.ErrNotFound)
	}
	return s.artifacts.Path(rel)
}

// History lists archived transcripts, newest first.
func (s *JobService) History(ctx context.Context, limit, offset int) ([]*store.ArchivedTranscript, error) {
	return s.archive.ListTranscripts(ctx, limit, offset)
}

// Ping checks the job store and the archive.
func (s *JobService) Ping(ctx context.Context) map[string]error {
	return map[string]error{
		"redis":   s.progress.Ping(ctx),
		"archive": s.archive.Ping(ctx),
	}
}
