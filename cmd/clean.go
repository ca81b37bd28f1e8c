package cmd

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var cleanAll bool

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove test uploads, or every job with --all",
	Long: `Deletes jobs whose original file name looks like a test upload
(test, sample, demo, tmp and similar) together with their files.
With --all every job is removed.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		appInstance, err := GetAppFromContext(cmd.Context())
		if err != nil {
			return err
		}
		removed, err := appInstance.JobService.Clean(cmd.Context(), cleanAll)
		if err != nil {
			return fmt.Errorf("error cleaning jobs: %w", err)
		}
		for _, id := range removed {
			fmt.Printf("%s %s\n", color.GreenString("Deleted"), id)
		}
		fmt.Printf("Removed %d jobs.\n", len(removed))
		return nil
	},
}

func init() {
	cleanCmd.Flags().BoolVar(&cleanAll, "all", false, "Delete every job, not only test uploads")
	rootCmd.AddCommand(cleanCmd)
}
