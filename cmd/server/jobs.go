package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var cleanupOlderThan time.Duration

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Maintain scheduled posts",
}

var jobsCleanupCmd = &cobra.Command{
	Use:   "cleanup-failed",
	Short: "Delete failed posts older than the retention window",
	RunE: func(cmd *cobra.Command, args []string) error {
		srv, appLogger, err := bootstrap()
		if err != nil {
			return err
		}
		defer appLogger.Sync()

		retention := srv.Config.Scheduler.Retention()
		if cleanupOlderThan > 0 {
			retention = cleanupOlderThan
		}

		deleted, err := srv.Posts.CleanupFailed(cmd.Context(), time.Now().UTC().Add(-retention))
		if err != nil {
			return err
		}
		fmt.Printf("Deleted %d failed posts\n", deleted)
		return nil
	},
}

func init() {
	jobsCleanupCmd.Flags().DurationVar(&cleanupOlderThan, "older-than", 0, "override scheduler.failed_retention")
	jobsCmd.AddCommand(jobsCleanupCmd)
}
