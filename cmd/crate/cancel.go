package main

import (
	"github.com/spf13/cobra"

	"github.com/franz/cratekeeper/internal/util"
)

var cancelCmd = &cobra.Command{
	Use:   "cancel <job-id>",
	Short: "Cancel a pending or downloading job",
	Long: `Cancel a job that has not started importing.

Pending jobs are cancelled immediately. Downloading jobs are marked
cancelled and the daemon discards the download when it notices. Jobs
that reached the import stage cannot be cancelled.`,
	Args: cobra.ExactArgs(1),
	RunE: runCancel,
}

func init() {
	rootCmd.AddCommand(cancelCmd)
}

func runCancel(cmd *cobra.Command, args []string) error {
	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	logger := newEventLogger()
	defer logger.Close()

	ctrl, _ := newController(db, logger)
	if err := ctrl.Cancel(args[0]); err != nil {
		return err
	}
	util.SuccessLog("Cancelled job %s", args[0])
	return nil
}
