package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"skald/internal/app"
	"skald/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "skald",
	Short: "Skald transcription service",
	Long: `Skald transcribes uploaded audio and video by cutting it into segments,
recognizing them in parallel on a task queue and stitching the text back together.`,
	SilenceUsage: true,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
	// PersistentPreRunE runs before any subcommand's RunE
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "help" || cmd.Name() == "version" || cmd.Name() == "completion" {
			return nil
		}

		cfg, err := config.LoadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}

		appInstance, err := app.NewApp(cfg)
		if err != nil {
			return fmt.Errorf("failed to initialize app: %w", err)
		}

		ctx := context.WithValue(cmd.Context(), appKey, appInstance)
		cmd.SetContext(ctx)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if appInstance, err := GetAppFromContext(cmd.Context()); err == nil {
			appInstance.Close()
		}
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// Define a custom type for the context key to avoid collisions.
type contextKey string

const appKey contextKey = "app"

// Helper function to retrieve the app instance from context
func GetAppFromContext(ctx context.Context) (*app.App, error) {
	if ctx == nil {
		return nil, fmt.Errorf("application instance not found in context")
	}
	appInstance, ok := ctx.Value(appKey).(*app.App)
	if !ok || appInstance == nil {
		// This should not happen if PersistentPreRunE ran successfully
		return nil, fmt.Errorf("application instance not found in context")
	}
	return appInstance, nil
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check Redis, the transcript archive and ffmpeg",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		appInstance, err := GetAppFromContext(ctx)
		if err != nil {
			return fmt.Errorf("failed to get app instance: %w", err)
		}

		failed := false
		for name, err := range appInstance.JobService.Ping(ctx) {
			if err != nil {
				failed = true
				fmt.Printf("%-8s %s %v\n", name, color.RedString("FAIL"), err)
				continue
			}
			fmt.Printf("%-8s %s\n", name, color.GreenString("OK"))
		}
		if d := appInstance.Transcoder.Version(ctx); d != "" {
			fmt.Printf("%-8s %s %s\n", "ffmpeg", color.GreenString("OK"), d)
		} else {
			failed = true
			fmt.Printf("%-8s %s not found\n", "ffmpeg", color.RedString("FAIL"))
		}
		fmt.Printf("%-8s %v\n", "providers", appInstance.Recognizer.Providers())

		if failed {
			return fmt.Errorf("some checks failed")
		}
		return nil
	},
}
