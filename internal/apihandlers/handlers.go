package apihandlers

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"skald/internal/app"
	"skald/internal/fileingest"
	"skald/internal/models"
	"skald/internal/services"
)

// JobAPI is what the handlers need from the job service.
type JobAPI interface {
	SubmitTranscription(ctx context.Context, p services.SubmitTranscriptionParams) (*models.Job, error)
	SubmitConversion(ctx context.Context, filePath, originalName, fileType string) (*models.Job, error)
	Get(ctx context.Context, jobID string) (*models.Job, error)
	List(ctx context.Context, p services.ListJobsParams) ([]*models.Job, int, error)
	Delete(ctx context.Context, jobID string) error
	TranscriptPath(ctx context.Context, jobID string) (string, error)
	AudioPath(ctx context.Context, jobID string) (string, error)
	Ping(ctx context.Context) map[string]error
}

type APIHandler struct {
	Jobs           JobAPI
	UploadDir      string
	MaxUploadBytes int64
}

func NewAPIHandler(a *app.App) *APIHandler {
	return &APIHandler{
		Jobs:           a.JobService,
		UploadDir:      a.Config.Storage.UploadDir,
		MaxUploadBytes: a.Config.Server.MaxUploadBytes,
	}
}

// CreateTranscriptionHandler accepts a multipart upload and queues a transcription job.
func (h *APIHandler) CreateTranscriptionHandler(c *gin.Context) {
	path, name, fileType, ok := h.receiveUpload(c)
	if !ok {
		return
	}
	params, err := parseTranscriptionForm(c)
	if err != nil {
		os.Remove(path)
		BadRequest(c, "Invalid form: "+err.Error())
		return
	}
	params.FilePath = path
	params.OriginalName = name
	params.FileType = fileType

	job, err := h.Jobs.SubmitTranscription(c.Request.Context(), params)
	if err != nil {
		os.Remove(path)
		ServiceError(c, "submit transcription", err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"data": job})
}

func parseTranscriptionForm(c *gin.Context) (services.SubmitTranscriptionParams, error) {
	p := services.SubmitTranscriptionParams{
		Language:    c.PostForm("language"),
		Provider:    strings.ToLower(c.PostForm("provider")),
		APIKey:      c.PostForm("api_key"),
		Endpoint:    c.PostForm("endpoint"),
		BrowserTime: c.PostForm("formatted_browser_time"),
	}
	var err error
	if p.ParallelThreads, err = formInt(c, "parallel_threads"); err != nil {
		return p, err
	}
	if p.SegmentLength, err = formInt(c, "segment_length"); err != nil {
		return p, err
	}
	return p, nil
}

func formInt(c *gin.Context, key string) (int, error) {
	v := strings.TrimSpace(c.PostForm(key))
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%s must be a positive integer", key)
	}
	return n, nil
}

// CreateConversionHandler accepts an upload and queues its conversion to WAV.
func (h *APIHandler) CreateConversionHandler(c *gin.Context) {
	path, name, fileType, ok := h.receiveUpload(c)
	if !ok {
		return
	}
	job, err := h.Jobs.SubmitConversion(c.Request.Context(), path, name, fileType)
	if err != nil {
		os.Remove(path)
		ServiceError(c, "submit conversion", err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"data": job})
}

// receiveUpload stores the "file" form field under UploadDir. On failure it
// has already answered the request.
func (h *APIHandler) receiveUpload(c *gin.Context) (path, name, fileType string, ok bool) {
	fh, err := c.FormFile("file")
	if err != nil {
		BadRequest(c, "Missing file: "+err.Error())
		return "", "", "", false
	}
	if h.MaxUploadBytes > 0 && fh.Size > h.MaxUploadBytes {
		TooLarge(c, fmt.Sprintf("File exceeds %d bytes", h.MaxUploadBytes))
		return "", "", "", false
	}
	if fh.Size == 0 {
		BadRequest(c, "Empty file")
		return "", "", "", false
	}

	name = filepath.Base(fh.Filename)
	if err := os.MkdirAll(h.UploadDir, 0o755); err != nil {
		Internal(c, "Cannot create upload directory")
		return "", "", "", false
	}
	path = filepath.Join(h.UploadDir, uuid.NewString()+strings.ToLower(filepath.Ext(name)))
	if err := c.SaveUploadedFile(fh, path); err != nil {
		Internal(c, "Failed to store upload: "+err.Error())
		return "", "", "", false
	}

	fileType, err = fileingest.DetectFileType(path, name)
	if err != nil {
		os.Remove(path)
		UnsupportedMedia(c, err.Error())
		return "", "", "", false
	}
	log.WithFields(log.Fields{"file": name, "type": fileType, "bytes": fh.Size}).Debug("Upload received")
	return path, name, fileType, true
}

// ListJobsHandler lists jobs, newest first. ?q= searches names and languages.
func (h *APIHandler) ListJobsHandler(c *gin.Context) {
	params, err := parseListJobsParams(c)
	if err != nil {
		BadRequest(c, "Invalid query parameters: "+err.Error())
		return
	}
	jobs, total, err := h.Jobs.List(c.Request.Context(), params)
	if err != nil {
		ServiceError(c, "list jobs", err)
		return
	}
	if jobs == nil {
		jobs = []*models.Job{}
	}
	c.JSON(http.StatusOK, gin.H{"data": jobs, "total": total})
}

func parseListJobsParams(c *gin.Context) (services.ListJobsParams, error) {
	p := services.ListJobsParams{
		Status: models.JobStatus(strings.ToLower(c.Query("status"))),
		Kind:   models.JobKind(strings.ToLower(c.Query("kind"))),
		Query:  c.Query("q"),
		Limit:  20,
	}
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			p.Limit = parsed
		} else {
			return p, fmt.Errorf("invalid limit: %s", l)
		}
	}
	if o := c.Query("offset"); o != "" {
		if parsed, err := strconv.Atoi(o); err == nil && parsed >= 0 {
			p.Offset = parsed
		} else {
			return p, fmt.Errorf("invalid offset: %s", o)
		}
	}
	return p, nil
}

func (h *APIHandler) GetJobHandler(c *gin.Context) {
	job, err := h.Jobs.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		ServiceError(c, "get job", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": job})
}

func (h *APIHandler) DeleteJobHandler(c *gin.Context) {
	id := c.Param("id")
	if err := h.Jobs.Delete(c.Request.Context(), id); err != nil {
		ServiceError(c, "delete job", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": gin.H{"id": id, "deleted": true}})
}

func (h *APIHandler) TranscriptHandler(c *gin.Context) {
	h.sendFile(c, "transcript", h.Jobs.TranscriptPath)
}

func (h *APIHandler) AudioHandler(c *gin.Context) {
	h.sendFile(c, "audio", h.Jobs.AudioPath)
}

func (h *APIHandler) sendFile(c *gin.Context, what string, resolve func(context.Context, string) (string, error)) {
	path, err := resolve(c.Request.Context(), c.Param("id"))
	if err != nil {
		ServiceError(c, "get "+what, err)
		return
	}
	if _, err := os.Stat(path); err != nil {
		NotFound(c, fmt.Sprintf("%s file is gone", what))
		return
	}
	c.FileAttachment(path, filepath.Base(path))
}

// HealthHandler reports the reachability of Redis and the archive.
func (h *APIHandler) HealthHandler(c *gin.Context) {
	checks := gin.H{}
	status := http.StatusOK
	for name, err := range h.Jobs.Ping(c.Request.Context()) {
		if err != nil {
			checks[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}
	state := "ok"
	if status != http.StatusOK {
		state = "degraded"
	}
	c.JSON(status, gin.H{"status": state, "checks": checks})
}

var _ JobAPI = (*services.JobService)(nil)
