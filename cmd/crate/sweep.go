package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/franz/cratekeeper/internal/util"
)

var sweepOlderThan time.Duration

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Delete finished jobs past the retention age",
	RunE:  runSweep,
}

func init() {
	sweepCmd.Flags().DurationVar(&sweepOlderThan, "older-than", 30*24*time.Hour, "retention age for finished jobs")
	rootCmd.AddCommand(sweepCmd)
}

func runSweep(cmd *cobra.Command, args []string) error {
	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	logger := newEventLogger()
	defer logger.Close()

	ctrl, _ := newController(db, logger)
	removed, err := ctrl.Sweep(sweepOlderThan)
	if err != nil {
		return err
	}
	if removed == 0 {
		fmt.Println("Nothing to sweep.")
	} else {
		util.SuccessLog("Swept %d finished job(s)", removed)
	}
	return nil
}
