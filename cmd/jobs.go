package cmd

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"skald/internal/clix"
	"skald/internal/models"
	"skald/internal/services"
)

// jobsCmd groups job inspection commands
var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect and remove jobs",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

var listJobsCmd = &cobra.Command{
	Use:   "list",
	Short: "List jobs, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		appInstance, err := GetAppFromContext(cmd.Context())
		if err != nil {
			return err
		}
		page, err := clix.ParsePagination(cmd.Flags())
		if err != nil {
			return err
		}
		filter, err := clix.ParseJobFilter(cmd.Flags())
		if err != nil {
			return err
		}

		jobs, total, err := appInstance.JobService.List(cmd.Context(), services.ListJobsParams{
			Status: filter.Status,
			Kind:   filter.Kind,
			Query:  filter.Query,
			Limit:  page.Limit,
			Offset: page.Offset,
		})
		if err != nil {
			return fmt.Errorf("error listing jobs: %w", err)
		}
		if len(jobs) == 0 {
			fmt.Println("No jobs found.")
			return nil
		}

		table := tablewriter.NewWriter(os.Stdout)
		table.SetHeader([]string{"ID", "Kind", "File", "Status", "Progress", "Duration", "Created At"})
		table.SetBorder(false)
		table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
		table.SetAlignment(tablewriter.ALIGN_LEFT)

		for _, j := range jobs {
			table.Append([]string{
				j.Info.ID,
				string(j.Info.Kind),
				truncate(j.Info.OriginalName, 32),
				colorStatus(j.Progress.Status),
				strconv.Itoa(j.Progress.Progress) + "%",
				formatDuration(j.Info.OriginalDuration),
				j.Info.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			})
		}
		table.Render()
		fmt.Printf("Showing %d of %d jobs\n", len(jobs), total)
		return nil
	},
}

var statusJobCmd = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Show the progress and result of a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		appInstance, err := GetAppFromContext(cmd.Context())
		if err != nil {
			return err
		}
		job, err := appInstance.JobService.Get(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("error getting job %s: %w", args[0], err)
		}
		printJob(job)
		return nil
	},
}

var deleteJobCmd = &cobra.Command{
	Use:   "delete <job-id>...",
	Short: "Delete jobs with their files and archived transcripts",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		appInstance, err := GetAppFromContext(cmd.Context())
		if err != nil {
			return err
		}
		failed := 0
		for _, id := range args {
			if err := appInstance.JobService.Delete(cmd.Context(), id); err != nil {
				fmt.Printf("%s %s: %v\n", color.RedString("ERROR"), id, err)
				failed++
				continue
			}
			fmt.Printf("%s %s\n", color.GreenString("Deleted"), id)
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d jobs could not be deleted", failed, len(args))
		}
		return nil
	},
}

func init() {
	clix.AddPaginationFlags(listJobsCmd.Flags())
	listJobsCmd.Flags().String("status", "", "Only show jobs in this status (pending, processing, completed, failed)")
	listJobsCmd.Flags().String("kind", "", "Only show jobs of this kind (transcription, conversion)")
	listJobsCmd.Flags().StringP("query", "q", "", "Match file name or language")

	jobsCmd.AddCommand(listJobsCmd, statusJobCmd, deleteJobCmd)
	rootCmd.AddCommand(jobsCmd)
}

func printJob(job *models.Job) {
	fmt.Printf("ID:        %s\n", job.Info.ID)
	fmt.Printf("Kind:      %s\n", job.Info.Kind)
	fmt.Printf("File:      %s\n", job.Info.OriginalName)
	if job.Info.Language != "" {
		fmt.Printf("Language:  %s (%s)\n", job.Info.Language, job.Info.Provider)
	}
	if job.Info.OriginalDuration > 0 {
		fmt.Printf("Duration:  %s\n", formatDuration(job.Info.OriginalDuration))
	}
	fmt.Printf("Status:    %s\n", colorStatus(job.Progress.Status))
	fmt.Printf("Progress:  %d%%\n", job.Progress.Progress)
	if job.Progress.TotalSegments > 0 {
		fmt.Printf("Segments:  %d/%d\n", job.Progress.CompletedSegments, job.Progress.TotalSegments)
	}
	if job.Progress.Error != "" {
		fmt.Printf("Error:     %s\n", color.RedString(job.Progress.Error))
	}
	if job.Info.TxtFile != "" {
		fmt.Printf("Transcript: %s\n", job.Info.TxtFile)
	}
	if job.Info.ConvertedFile != "" {
		fmt.Printf("Converted: %s\n", job.Info.ConvertedFile)
	}
	if job.Progress.CurrentText != "" && job.Info.Kind == models.JobKindTranscription {
		fmt.Printf("\n%s\n", job.Progress.CurrentText)
	}
}

func colorStatus(s models.JobStatus) string {
	switch s {
	case models.JobStatusCompleted:
		return color.GreenString(string(s))
	case models.JobStatusFailed:
		return color.RedString(string(s))
	case models.JobStatusProcessing:
		return color.YellowString(string(s))
	}
	return string(s)
}

// formatDuration renders seconds as h:mm:ss or m:ss.
func formatDuration(seconds float64) string {
	if seconds <= 0 {
		return "-"
	}
	d := time.Duration(seconds * float64(time.Second)).Round(time.Second)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
