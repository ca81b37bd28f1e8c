package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"skald/internal/artifacts"
	"skald/internal/config"
	"skald/internal/recognizer"
	"skald/internal/services"
	"skald/internal/store"
	"skald/internal/store/primary"
	"skald/internal/transcoder"
	"skald/internal/worker"
)

type App struct {
	Config *config.Config
	Logger *log.Logger

	Redis     redis.UniversalClient
	JobClient store.JobClient
	Progress  store.ProgressStore
	Group     store.SegmentGroup
	Archive   store.TranscriptArchive

	Recognizer *recognizer.Router
	Transcoder *transcoder.Transcoder
	Artifacts  *artifacts.FileStore

	// --- Initialized Services ---
	SegmentWorker *services.SegmentWorker
	Dispatcher    *services.Dispatcher
	Combiner      *services.Combiner
	Controller    *services.Controller
	Conversion    *services.ConversionService
	JobService    *services.JobService
}

func NewApp(cfg *config.Config) (*App, error) {
	ctx := context.Background()
	app := &App{Config: cfg}

	app.initLogging()
	if err := app.initRedis(ctx); err != nil {
		app.cleanupPartialInit()
		return nil, err
	}
	if err := app.initJobClient(); err != nil {
		app.cleanupPartialInit()
		return nil, err
	}
	if err := app.initArchive(ctx); err != nil {
		app.cleanupPartialInit()
		return nil, err
	}
	if err := app.initStorage(); err != nil {
		app.cleanupPartialInit()
		return nil, err
	}
	app.initRecognizers()
	app.initCoreServices()

	log.WithFields(log.Fields{
		"redis":    cfg.Redis.Address,
		"provider": cfg.Recognition.Provider,
		"archive":  cfg.Database.Archive.DSN != "",
	}).Debug("Application initialization complete.")
	return app, nil
}

// --- Private Helper Methods ---

func (a *App) initLogging() {
	a.Logger = log.StandardLogger()
	if lvl, err := log.ParseLevel(a.Config.Log.Level); err == nil {
		a.Logger.SetLevel(lvl)
	} else {
		a.Logger.WithError(err).Warn("Unknown log level, keeping info")
	}
	if a.Config.Log.Format == "json" {
		a.Logger.SetFormatter(&log.JSONFormatter{})
	} else {
		a.Logger.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
}

func (a *App) initRedis(ctx context.Context) error {
	rdb := redis.NewClient(&redis.Options{
		Addr:     a.Config.Redis.Address,
		Password: a.Config.Redis.Password,
		DB:       a.Config.Redis.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return fmt.Errorf("init redis at %s: %w", a.Config.Redis.Address, err)
	}
	a.Redis = rdb
	ttl := a.Config.Transcription.JobTTL
	a.Progress = store.NewRedisProgressStore(rdb, ttl)
	a.Group = store.NewRedisSegmentGroup(rdb, ttl)
	return nil
}

func (a *App) initJobClient() error {
	jc, err := store.NewAsynqJobClient(a.Redis)
	if err != nil {
		return fmt.Errorf("init job client: %w", err)
	}
	a.JobClient = jc
	return nil
}

func (a *App) initArchive(ctx context.Context) error {
	archive, err := primary.Open(ctx, a.Config.Database.Archive.DSN)
	if err != nil {
		return fmt.Errorf("init transcript archive: %w", err)
	}
	a.Archive = archive
	return nil
}

func (a *App) initStorage() error {
	st := a.Config.Storage
	for _, dir := range []string{st.UploadDir, st.WorkDir, st.DownloadsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	a.Artifacts = artifacts.NewFileStore(st.DownloadsDir)
	a.Transcoder = transcoder.New(transcoder.ExecRunner{}, a.Config.Transcoder.FFmpegPath, a.Config.Transcoder.FFprobePath)
	return nil
}

func (a *App) initRecognizers() {
	rc := a.Config.Recognition
	router := recognizer.NewRouter(rc.Provider)
	router.Register("openai", recognizer.NewOpenAIRecognizer(rc.OpenaiApiKey, rc.OpenaiModel))
	router.Register("gemini", recognizer.NewGeminiRecognizer(rc.GoogleApiKey, rc.GeminiModel))
	if rc.OpenaiApiKey == "" && rc.GoogleApiKey == "" {
		log.Warn("No recognition API key configured; requests must carry their own")
	}
	a.Recognizer = router
}

func (a *App) initCoreServices() {
	tc := a.Config.Transcription

	a.SegmentWorker = services.NewSegmentWorker(a.Recognizer, a.Progress, services.SegmentWorkerConfig{
		Timeout:          tc.SegmentTimeout,
		ProgressInterval: tc.ProgressInterval,
		Retry:            &services.FixedRetryStrategy{MaxAttempts: tc.MaxRetries, Delay: tc.RetryDelay},
	})
	a.Dispatcher = services.NewDispatcher(a.JobClient, a.Group, services.DispatcherConfig{
		Queue:    tc.SegmentQueue,
		MaxRetry: tc.MaxRetries,
		// One delivery may use every in-process retry.
		TaskTimeout: time.Duration(tc.MaxRetries+1)*(tc.SegmentTimeout+tc.RetryDelay) + time.Minute,
	})
	a.Combiner = services.NewCombiner(a.Progress, a.Artifacts, a.Archive)
	a.Controller = services.NewController(a.Progress, a.Transcoder, a.Artifacts, a.SegmentWorker, a.Dispatcher, a.Combiner,
		services.ControllerConfig{
			WorkDir:               a.Config.Storage.WorkDir,
			MaxSegmentsMultiplier: tc.MaxSegmentsMultiplier,
			ShortPathThreshold:    tc.ShortPathThreshold,
			ShortTimeout:          tc.ShortTimeout,
			Inclusive:             tc.InclusiveInflation,
		})
	a.Conversion = services.NewConversionService(a.Progress, a.Transcoder, a.Artifacts, a.Config.Storage.WorkDir)
	a.JobService = services.NewJobService(services.JobServiceDeps{
		Progress:  a.Progress,
		Archive:   a.Archive,
		Artifacts: a.Artifacts,
		JobClient: a.JobClient,
		Config:    a.Config,
	})
}

// WorkerDeps bundles what the asynq handlers need.
func (a *App) WorkerDeps() worker.Deps {
	return worker.Deps{
		Controller:    a.Controller,
		SegmentWorker: a.SegmentWorker,
		Combiner:      a.Combiner,
		Conversion:    a.Conversion,
		Group:         a.Group,
		Progress:      a.Progress,
		JobClient:     a.JobClient,
		CombineQueue:  a.Config.Transcription.Queue,
	}
}

func (a *App) cleanupPartialInit() {
	if a.JobClient != nil {
		if err := a.JobClient.Close(); err != nil {
			log.WithError(err).Warn("Error closing job client")
		}
	}
	if a.Archive != nil {
		if err := a.Archive.Close(); err != nil {
			log.WithError(err).Warn("Error closing transcript archive")
		}
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			log.WithError(err).Warn("Error closing redis client")
		}
	}
}

// Close releases every connection held by the app.
func (a *App) Close() {
	a.cleanupPartialInit()
}
