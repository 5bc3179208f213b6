package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/franz/cratekeeper/internal/acquire"
)

var statusCmd = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Show one job in detail",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	job, err := db.GetJob(args[0])
	if err != nil {
		return err
	}
	if job == nil {
		return fmt.Errorf("no job %s", args[0])
	}

	fmt.Printf("Job:      %s\n", job.ID)
	fmt.Printf("Source:   %s\n", job.Source)
	fmt.Printf("Locator:  %s\n", job.Locator)
	fmt.Printf("Status:   %s\n", acquire.FormatProgress(job))
	fmt.Printf("Attempts: %d\n", job.Attempts)
	if job.QualityTier != "" {
		fmt.Printf("Quality:  %s\n", job.QualityTier)
	}
	if job.Requester != "" {
		fmt.Printf("By:       %s\n", job.Requester)
	}
	if job.ReleaseID != 0 {
		fmt.Printf("Release:  %d\n", job.ReleaseID)
	}
	if job.ReviewID != 0 {
		fmt.Printf("Ticket:   %d\n", job.ReviewID)
	}
	if job.Error != "" {
		fmt.Printf("Detail:   %s\n", job.Error)
	}
	fmt.Printf("Queued:   %s\n", job.CreatedAt.Format(time.RFC3339))
	if job.StartedAt != nil {
		fmt.Printf("Started:  %s\n", job.StartedAt.Format(time.RFC3339))
	}
	if job.CompletedAt != nil {
		fmt.Printf("Finished: %s\n", job.CompletedAt.Format(time.RFC3339))
	}
	return nil
}
