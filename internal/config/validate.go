package config

import (
	"errors"
	"fmt"
	"strings"
)

func (c *Config) Validate() error {
	// Redis config
	if c.Redis.Address == "" {
		return errors.New("redis.address is required")
	}

	// Worker config
	if c.Worker.Concurrency <= 0 {
		return errors.New("worker.concurrency must be a positive integer")
	}
	if len(c.Worker.Queues) == 0 {
		return errors.New("worker.queues must define at least one queue")
	}
	for name, priority := range c.Worker.Queues {
		if name == "" {
			return errors.New("worker.queues contains an empty queue name")
		}
		if priority <= 0 {
			return fmt.Errorf("worker.queues priority for queue '%s' must be positive", name)
		}
	}
	for _, q := range []string{c.Transcription.Queue, c.Transcription.SegmentQueue} {
		if _, ok := c.Worker.Queues[q]; !ok {
			return fmt.Errorf("worker.queues does not include queue '%s' used by transcription", q)
		}
	}

	// Transcription config
	t := c.Transcription
	if t.ParallelThreads <= 0 {
		return errors.New("transcription.parallel_threads must be positive")
	}
	if t.SegmentLength <= 0 {
		return errors.New("transcription.segment_length must be positive")
	}
	if t.MaxSegmentsMultiplier <= 0 {
		return errors.New("transcription.max_segments_multiplier must be positive")
	}
	if t.SegmentTimeout <= 0 || t.ShortTimeout <= 0 {
		return errors.New("transcription.segment_timeout and transcription.short_timeout must be positive")
	}
	if t.MaxRetries < 0 {
		return errors.New("transcription.max_retries must not be negative")
	}
	if t.RetryDelay < 0 {
		return errors.New("transcription.retry_delay must not be negative")
	}
	if t.ProgressInterval <= 0 {
		return errors.New("transcription.progress_interval must be positive")
	}
	if t.JobTTL <= 0 {
		return errors.New("transcription.job_ttl must be positive")
	}

	// Recognition config. Keys may also arrive per request, so they are not required here.
	switch strings.ToLower(c.Recognition.Provider) {
	case "openai":
		if c.Recognition.OpenaiModel == "" {
			return errors.New("recognition.openai_model is required when provider is openai")
		}
	case "gemini":
		if c.Recognition.GeminiModel == "" {
			return errors.New("recognition.gemini_model is required when provider is gemini")
		}
	default:
		return fmt.Errorf("recognition.provider '%s' is not supported (use openai or gemini)", c.Recognition.Provider)
	}

	// Storage config
	if c.Storage.UploadDir == "" || c.Storage.WorkDir == "" || c.Storage.DownloadsDir == "" {
		return errors.New("storage.upload_dir, storage.work_dir and storage.downloads_dir are required")
	}

	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("log.format '%s' is not supported (use text or json)", c.Log.Format)
	}

	return nil
}
