package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"skald/internal/app"
	"skald/internal/fileingest"
	"skald/internal/models"
	"skald/internal/services"
)

var (
	transcribeLanguage string
	transcribeProvider string
	transcribeEndpoint string
	transcribeThreads  int
	transcribeSegLen   int
	transcribeWait     bool
	transcribeOutput   string
	convertWait        bool
)

var transcribeCmd = &cobra.Command{
	Use:   "transcribe <file|directory>",
	Short: "Queue audio or video files for transcription",
	Long: `Copies the file into the upload directory and queues a transcription job.
A running 'skald worker' picks it up. With --wait the command polls the job
and prints the transcript when it completes. A directory is searched
recursively and every media file in it is queued.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		appInstance, err := GetAppFromContext(ctx)
		if err != nil {
			return err
		}

		st, err := os.Stat(args[0])
		if err != nil {
			return err
		}
		if st.IsDir() {
			if transcribeWait {
				return fmt.Errorf("--wait cannot be used with a directory")
			}
			return transcribeDir(ctx, appInstance, args[0])
		}

		job, err := submitTranscription(ctx, appInstance, args[0])
		if err != nil {
			return err
		}
		fmt.Printf("%s job %s\n", color.GreenString("Queued"), job.Info.ID)
		if !transcribeWait {
			return nil
		}

		job, err = waitForJob(ctx, appInstance.JobService, job.Info.ID, cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		if job.Progress.Status == models.JobStatusFailed {
			return fmt.Errorf("job %s failed: %s", job.Info.ID, job.Progress.Error)
		}
		return writeTranscript(cmd.OutOrStdout(), job.Progress.CurrentText)
	},
}

func transcribeDir(ctx context.Context, a *app.App, dir string) error {
	files, err := fileingest.DiscoverMediaFiles(ctx, dir)
	if err != nil {
		return fmt.Errorf("failed to discover media files: %w", err)
	}
	if len(files) == 0 {
		fmt.Printf("No audio or video files found under %s\n", dir)
		return nil
	}
	fmt.Printf("Discovered %d media files under %s\n", len(files), dir)

	var queued, failed int
	for _, f := range files {
		job, err := submitTranscription(ctx, a, f.Path)
		if err != nil {
			failed++
			fmt.Printf("  - %s %s: %v\n", color.RedString("ERROR"), f.Path, err)
			continue
		}
		queued++
		fmt.Printf("  - %s %s (%s)\n", color.GreenString("Queued"), f.Path, job.Info.ID)
	}
	fmt.Printf("\nQueued %d of %d files\n", queued, len(files))
	if failed > 0 {
		return fmt.Errorf("%d files could not be queued", failed)
	}
	return nil
}

func submitTranscription(ctx context.Context, a *app.App, src string) (*models.Job, error) {
	path, fileType, err := stageUpload(a, src)
	if err != nil {
		return nil, err
	}
	job, err := a.JobService.SubmitTranscription(ctx, services.SubmitTranscriptionParams{
		FilePath:        path,
		OriginalName:    filepath.Base(src),
		FileType:        fileType,
		Language:        transcribeLanguage,
		Provider:        strings.ToLower(transcribeProvider),
		Endpoint:        transcribeEndpoint,
		ParallelThreads: transcribeThreads,
		SegmentLength:   transcribeSegLen,
		BrowserTime:     time.Now().Format("2006-01-02 15:04:05"),
	})
	if err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("error submitting %s: %w", src, err)
	}
	return job, nil
}

var convertCmd = &cobra.Command{
	Use:   "convert <file>",
	Short: "Queue an audio or video file for conversion to 16 kHz mono WAV",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		appInstance, err := GetAppFromContext(cmd.Context())
		if err != nil {
			return err
		}
		path, fileType, err := stageUpload(appInstance, args[0])
		if err != nil {
			return err
		}
		job, err := appInstance.JobService.SubmitConversion(cmd.Context(), path, filepath.Base(args[0]), fileType)
		if err != nil {
			os.Remove(path)
			return fmt.Errorf("error submitting %s: %w", args[0], err)
		}
		fmt.Printf("%s job %s\n", color.GreenString("Queued"), job.Info.ID)
		if !convertWait {
			return nil
		}

		job, err = waitForJob(cmd.Context(), appInstance.JobService, job.Info.ID, cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		if job.Progress.Status == models.JobStatusFailed {
			return fmt.Errorf("job %s failed: %s", job.Info.ID, job.Progress.Error)
		}
		audio, err := appInstance.JobService.AudioPath(cmd.Context(), job.Info.ID)
		if err != nil {
			return err
		}
		fmt.Println(audio)
		return nil
	},
}

func init() {
	f := transcribeCmd.Flags()
	f.StringVarP(&transcribeLanguage, "language", "l", "", "Recognition language (BCP-47, default en-US)")
	f.StringVarP(&transcribeProvider, "provider", "p", "", "Recognition provider (openai, gemini); defaults to recognition.provider")
	f.StringVar(&transcribeEndpoint, "endpoint", "", "Override the provider API base URL")
	f.IntVarP(&transcribeThreads, "threads", "t", 0, "Parallel threads, scales the segment cap")
	f.IntVarP(&transcribeSegLen, "segment-length", "s", 0, "Target segment length in seconds")
	f.BoolVarP(&transcribeWait, "wait", "w", false, "Wait for the job and print the transcript")
	f.StringVarP(&transcribeOutput, "output", "o", "", "With --wait, write the transcript to this file instead of stdout")

	convertCmd.Flags().BoolVarP(&convertWait, "wait", "w", false, "Wait for the job and print the converted file path")

	rootCmd.AddCommand(transcribeCmd, convertCmd)
}

// stageUpload copies src into the upload directory the same way an HTTP
// upload is stored, and classifies it.
func stageUpload(a *app.App, src string) (string, string, error) {
	dst, err := fileingest.Stage(src, a.Config.Storage.UploadDir)
	if err != nil {
		return "", "", err
	}
	fileType, err := fileingest.DetectFileType(dst, src)
	if err != nil {
		os.Remove(dst)
		return "", "", err
	}
	return dst, fileType, nil
}

// jobGetter is the slice of the job service waitForJob polls.
type jobGetter interface {
	Get(ctx context.Context, jobID string) (*models.Job, error)
}

// waitForJob polls until the job is terminal, echoing progress changes to w.
func waitForJob(ctx context.Context, jobs jobGetter, jobID string, w io.Writer) (*models.Job, error) {
	return pollJob(ctx, jobs, jobID, w, time.Second)
}

func pollJob(ctx context.Context, jobs jobGetter, jobID string, w io.Writer, interval time.Duration) (*models.Job, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := -1
	for {
		job, err := jobs.Get(ctx, jobID)
		if err != nil {
			return nil, fmt.Errorf("error polling job %s: %w", jobID, err)
		}
		if job.Progress.Progress != last {
			last = job.Progress.Progress
			fmt.Fprintf(w, "\r%-10s %3d%%", job.Progress.Status, last)
		}
		if job.Progress.Status.Terminal() {
			fmt.Fprintln(w)
			return job, nil
		}
		select {
		case <-ctx.Done():
			fmt.Fprintln(w)
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func writeTranscript(stdout io.Writer, text string) error {
	if transcribeOutput == "" {
		_, err := fmt.Fprintln(stdout, text)
		return err
	}
	if err := os.WriteFile(transcribeOutput, []byte(text+"\n"), 0o644); err != nil {
		return fmt.Errorf("error writing transcript: %w", err)
	}
	fmt.Printf("Transcript written to %s\n", transcribeOutput)
	return nil
}
