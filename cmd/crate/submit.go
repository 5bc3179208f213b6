package main

import (
	"fmt"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/franz/cratekeeper/internal/acquire"
	"github.com/franz/cratekeeper/internal/store"
	"github.com/franz/cratekeeper/internal/util"
)

var (
	submitSource      string
	submitQuality     string
	submitSingleTrack bool
	submitWait        bool
)

var submitCmd = &cobra.Command{
	Use:   "submit <locator>",
	Short: "Queue a release for acquisition",
	Long: `Queue a release for acquisition and import.

The locator's shape depends on the source:
  catalog          a catalog release id, e.g. rel-8842
  direct_url       an http(s) url to an archive or audio file
  collection_sync  a directory name under the peer export root
  local            a directory path already on this machine

The job is processed by a running daemon ('crate serve'). With --wait
this command polls until the job reaches a terminal state.`,
	Args: cobra.ExactArgs(1),
	RunE: runSubmit,
}

func init() {
	submitCmd.Flags().StringVar(&submitSource, "source", "direct_url", "acquisition source (catalog, direct_url, collection_sync, local)")
	submitCmd.Flags().StringVar(&submitQuality, "quality", "", "preferred quality tier hint, e.g. lossless")
	submitCmd.Flags().BoolVar(&submitSingleTrack, "single-track", false, "request is for one track; the full release is still imported")
	submitCmd.Flags().BoolVar(&submitWait, "wait", false, "wait for the job to finish")
	rootCmd.AddCommand(submitCmd)
}

func runSubmit(cmd *cobra.Command, args []string) error {
	kind, err := acquire.ParseSourceKind(submitSource)
	if err != nil {
		return err
	}

	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	logger := newEventLogger()
	defer logger.Close()

	ctrl, _ := newController(db, logger)
	id, err := ctrl.Submit(kind, args[0], acquire.SubmitOptions{
		QualityTier: submitQuality,
		Requester:   "cli",
		SingleTrack: submitSingleTrack,
	})
	if err != nil {
		return err
	}

	fmt.Printf("Queued job %s\n", id)
	if !submitWait {
		return nil
	}
	return waitForJob(db, id)
}

// waitForJob polls until the job is terminal, showing a progress bar on
// a terminal
func waitForJob(db *store.Store, id string) error {
	var bar *progressbar.ProgressBar
	if util.IsTerminal(os.Stdout.Fd()) && !util.IsQuiet() {
		bar = progressbar.NewOptions(100,
			progressbar.OptionSetDescription("Downloading"),
			progressbar.OptionSetWidth(40),
			progressbar.OptionThrottle(200*time.Millisecond),
			progressbar.OptionClearOnFinish(),
			progressbar.OptionSetRenderBlankState(true),
		)
	}

	for {
		job, err := db.GetJob(id)
		if err != nil {
			return err
		}
		if job == nil {
			return fmt.Errorf("job %s disappeared", id)
		}

		if bar != nil {
			bar.Describe(acquire.FormatProgress(job))
			bar.Set(int(job.Progress))
		}

		if store.IsTerminalJobStatus(job.Status) {
			if bar != nil {
				bar.Finish()
			}
			return printJobResult(job)
		}
		time.Sleep(time.Second)
	}
}

func printJobResult(job *store.Job) error {
	switch job.Status {
	case store.JobComplete:
		util.SuccessLog("Job %s complete (release %d)", job.ID, job.ReleaseID)
	case store.JobDuplicate:
		util.InfoLog("Job %s: duplicate of release %d (%s)", job.ID, job.ReleaseID, job.Error)
	case store.JobPendingReview:
		util.WarnLog("Job %s parked for review (ticket %d): %s", job.ID, job.ReviewID, job.Error)
		util.InfoLog("Resolve with: crate resolve %d --approve", job.ReviewID)
	case store.JobCancelled:
		util.InfoLog("Job %s cancelled", job.ID)
	case store.JobFailed:
		return fmt.Errorf("job %s failed: %s", job.ID, job.Error)
	}
	return nil
}
