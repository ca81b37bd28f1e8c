package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"skald/internal/app"
	"skald/internal/worker"
)

var workerConcurrency int

// workerCmd represents the worker command
var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the background job worker",
	Long: `Starts the asynq worker that runs process, segment, combine and
conversion tasks. Several workers may share one Redis.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		appInstance, err := GetAppFromContext(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to get application context: %w", err)
		}
		if workerConcurrency > 0 {
			appInstance.Config.Worker.Concurrency = workerConcurrency
		}

		if err := runWorker(appInstance); err != nil {
			log.WithError(err).Error("Worker exited with error")
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(workerCmd)
	workerCmd.Flags().IntVarP(&workerConcurrency, "concurrency", "c", 0, "Number of tasks run at once, overrides worker.concurrency")
}

// runWorker starts the asynq server and blocks until SIGINT or SIGTERM.
func runWorker(appInstance *app.App) error {
	cfg := appInstance.Config

	srv := worker.NewServer(appInstance.Redis, cfg, appInstance.Logger)
	mux := asynq.NewServeMux()
	worker.RegisterHandlers(mux, appInstance.WorkerDeps())

	log.WithFields(log.Fields{
		"concurrency": cfg.Worker.Concurrency,
		"queues":      cfg.Worker.Queues,
		"providers":   appInstance.Recognizer.Providers(),
	}).Info("Starting worker")
	if err := srv.Start(mux); err != nil {
		return fmt.Errorf("failed to start asynq server: %w", err)
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	<-shutdown

	log.Info("Shutdown signal received. Initiating graceful shutdown...")
	srv.Stop()
	srv.Shutdown()
	log.Info("Worker shutdown complete.")
	return nil
}
