package main

import (
	"fmt"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/franz/cratekeeper/internal/acquire"
	"github.com/franz/cratekeeper/internal/store"
)

var jobsAll bool

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "List acquisition jobs",
	RunE:  runJobs,
}

func init() {
	jobsCmd.Flags().BoolVar(&jobsAll, "all", false, "include finished jobs")
	rootCmd.AddCommand(jobsCmd)
}

func runJobs(cmd *cobra.Command, args []string) error {
	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	jobs, err := db.GetAllJobs()
	if err != nil {
		return err
	}

	var rows [][]string
	for _, j := range jobs {
		if !jobsAll && store.IsTerminalJobStatus(j.Status) {
			continue
		}
		ref := ""
		if j.ReleaseID != 0 {
			ref = "release " + strconv.FormatInt(j.ReleaseID, 10)
		} else if j.ReviewID != 0 {
			ref = "ticket " + strconv.FormatInt(j.ReviewID, 10)
		}
		rows = append(rows, []string{
			j.ID[:8],
			j.Source,
			truncate(j.Locator, 48),
			acquire.FormatProgress(j),
			strconv.Itoa(j.Attempts),
			ref,
			humanize.Time(j.CreatedAt),
		})
	}

	if len(rows) == 0 {
		if jobsAll {
			fmt.Println("No jobs.")
		} else {
			fmt.Println("No active jobs. Use --all to include finished ones.")
		}
		return nil
	}

	renderTable([]string{"Job", "Source", "Locator", "Status", "Tries", "Result", "Queued"}, rows, 5)
	return nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
