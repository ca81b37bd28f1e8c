package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Database struct {
		Archive struct {
			// DSN selects the transcript archive: postgres:// or postgresql:// for pgx,
			// sqlite:// or file: for SQLite. Empty disables archiving.
			DSN string `mapstructure:"dsn"`
		} `mapstructure:"archive"`
	} `mapstructure:"database"`

	Redis struct {
		Address  string `mapstructure:"address"`
		Password string `mapstructure:"password"`
		DB       int    `mapstructure:"db"`
	} `mapstructure:"redis"`

	Worker struct {
		Concurrency int            `mapstructure:"concurrency"`
		Queues      map[string]int `mapstructure:"queues"`
	} `mapstructure:"worker"`

	Server struct {
		Address        string `mapstructure:"address"`
		MaxUploadBytes int64  `mapstructure:"max_upload_bytes"`
	} `mapstructure:"server"`

	Transcription struct {
		ParallelThreads       int           `mapstructure:"parallel_threads"`
		SegmentLength         int           `mapstructure:"segment_length"`
		MaxSegmentsMultiplier int           `mapstructure:"max_segments_multiplier"`
		ShortPathThreshold    float64       `mapstructure:"short_path_threshold"`
		InclusiveInflation    bool          `mapstructure:"inclusive_inflation"`
		SegmentTimeout        time.Duration `mapstructure:"segment_timeout"`
		ShortTimeout          time.Duration `mapstructure:"short_timeout"`
		MaxRetries            int           `mapstructure:"max_retries"`
		RetryDelay            time.Duration `mapstructure:"retry_delay"`
		ProgressInterval      time.Duration `mapstructure:"progress_interval"`
		JobTTL                time.Duration `mapstructure:"job_ttl"`
		Queue                 string        `mapstructure:"queue"`
		SegmentQueue          string        `mapstructure:"segment_queue"`
	} `mapstructure:"transcription"`

	Recognition struct {
		Provider     string `mapstructure:"provider"` // "openai" or "gemini"
		OpenaiApiKey string `mapstructure:"openai_api_key"`
		OpenaiModel  string `mapstructure:"openai_model"`
		GoogleApiKey string `mapstructure:"google_api_key"`
		GeminiModel  string `mapstructure:"gemini_model"`
	} `mapstructure:"recognition"`

	Transcoder struct {
		FFmpegPath  string `mapstructure:"ffmpeg_path"`
		FFprobePath string `mapstructure:"ffprobe_path"`
	} `mapstructure:"transcoder"`

	Storage struct {
		UploadDir    string `mapstructure:"upload_dir"`
		WorkDir      string `mapstructure:"work_dir"`
		DownloadsDir string `mapstructure:"downloads_dir"`
	} `mapstructure:"storage"`

	Log struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"` // "text" or "json"
	} `mapstructure:"log"`
}

// MaxSegments is the segment cap handed to the planner.
func (c *Config) MaxSegments(parallelThreads int) int {
	if parallelThreads <= 0 {
		parallelThreads = c.Transcription.ParallelThreads
	}
	return parallelThreads * c.Transcription.MaxSegmentsMultiplier
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.db", 0)

	v.SetDefault("worker.concurrency", 10)
	v.SetDefault("worker.queues", map[string]int{"transcription": 3, "segments": 6, "default": 1})

	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.max_upload_bytes", 1<<30)

	v.SetDefault("transcription.parallel_threads", 10)
	v.SetDefault("transcription.segment_length", 60)
	v.SetDefault("transcription.max_segments_multiplier", 3)
	v.SetDefault("transcription.short_path_threshold", 60.0)
	v.SetDefault("transcription.inclusive_inflation", false)
	v.SetDefault("transcription.segment_timeout", 600*time.Second)
	v.SetDefault("transcription.short_timeout", 1200*time.Second)
	v.SetDefault("transcription.max_retries", 3)
	v.SetDefault("transcription.retry_delay", 5*time.Second)
	v.SetDefault("transcription.progress_interval", 2*time.Second)
	v.SetDefault("transcription.job_ttl", 7*24*time.Hour)
	v.SetDefault("transcription.queue", "transcription")
	v.SetDefault("transcription.segment_queue", "segments")

	v.SetDefault("recognition.provider", "openai")
	v.SetDefault("recognition.openai_model", "whisper-1")
	v.SetDefault("recognition.gemini_model", "gemini-1.5-flash")

	v.SetDefault("transcoder.ffmpeg_path", "ffmpeg")
	v.SetDefault("transcoder.ffprobe_path", "ffprobe")

	v.SetDefault("storage.upload_dir", "uploads")
	v.SetDefault("storage.work_dir", "work")
	v.SetDefault("storage.downloads_dir", "downloads")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

func LoadConfig() (*Config, error) {
	return load(viper.GetViper())
}

func load(v *viper.Viper) (*Config, error) {
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".") // Look for config.yaml in the current directory

	setDefaults(v)

	// SKALD_REDIS_ADDRESS, SKALD_TRANSCRIPTION_SEGMENT_LENGTH, ...
	v.SetEnvPrefix("SKALD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Provider keys are usually exported without the prefix.
	_ = v.BindEnv("recognition.openai_api_key", "SKALD_RECOGNITION_OPENAI_API_KEY", "OPENAI_API_KEY")
	_ = v.BindEnv("recognition.google_api_key", "SKALD_RECOGNITION_GOOGLE_API_KEY", "GEMINI_API_KEY", "GOOGLE_API_KEY")

	if err := v.ReadInConfig(); err != nil {
		// It's okay if the config file doesn't exist, defaults and env vars still apply
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}
	return &config, nil
}
