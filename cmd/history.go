package cmd

import (
	"fmt"
	"os"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"skald/internal/clix"
)

// historyCmd lists transcripts kept in the archive after their job expired from Redis.
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List archived transcripts",
	Long:  `Displays completed transcriptions recorded in the transcript archive (database.archive.dsn).`,
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

		entries, err := appInstance.JobService.History(cmd.Context(), page.Limit, page.Offset)
		if err != nil {
			return fmt.Errorf("error listing transcript history: %w", err)
		}
		if len(entries) == 0 {
			fmt.Println("No archived transcripts found.")
			return nil
		}

		table := tablewriter.NewWriter(os.Stdout)
		table.SetHeader([]string{"Job ID", "File", "Language", "Duration", "Segments", "Preview", "Created At"})
		table.SetBorder(false)
		table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
		table.SetAlignment(tablewriter.ALIGN_LEFT)

		for _, e := range entries {
			segments := strconv.Itoa(e.SegmentsTotal)
			if e.SegmentsFailed > 0 {
				segments = fmt.Sprintf("%d (%d failed)", e.SegmentsTotal, e.SegmentsFailed)
			}
			table.Append([]string{
				e.JobID,
				e.OriginalName,
				e.Language,
				formatDuration(e.Duration),
				segments,
				truncate(e.Text, 40),
				e.CreatedAt.Format("2006-01-02 15:04:05"),
			})
		}
		table.Render()
		return nil
	},
}

func init() {
	clix.AddPaginationFlags(historyCmd.Flags())
	rootCmd.AddCommand(historyCmd)
}
