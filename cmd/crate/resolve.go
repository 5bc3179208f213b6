package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/franz/cratekeeper/internal/importer"
	"github.com/franz/cratekeeper/internal/util"
)

var (
	resolveApprove bool
	resolveReject  bool
	resolveArtist  string
	resolveAlbum   string
	resolveYear    int
	resolveNote    string
)

var resolveCmd = &cobra.Command{
	Use:   "resolve <ticket-id>",
	Short: "Approve or reject a parked release",
	Long: `Resolve a review ticket.

Approval re-runs the import with operator identification taken as
authoritative; use --artist, --album and --year to correct what the
tags got wrong. Rejection leaves the files parked in the review
holding area and closes the ticket.`,
	Args: cobra.ExactArgs(1),
	RunE: runResolve,
}

func init() {
	resolveCmd.Flags().BoolVar(&resolveApprove, "approve", false, "approve and import the release")
	resolveCmd.Flags().BoolVar(&resolveReject, "reject", false, "reject the release")
	resolveCmd.Flags().StringVar(&resolveArtist, "artist", "", "override the release artist")
	resolveCmd.Flags().StringVar(&resolveAlbum, "album", "", "override the album title")
	resolveCmd.Flags().IntVar(&resolveYear, "year", 0, "override the release year")
	resolveCmd.Flags().StringVar(&resolveNote, "note", "", "resolution note")
	rootCmd.AddCommand(resolveCmd)
}

func runResolve(cmd *cobra.Command, args []string) error {
	if resolveApprove == resolveReject {
		return fmt.Errorf("exactly one of --approve or --reject is required")
	}

	ticketID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid ticket id %q", args[0])
	}

	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	logger := newEventLogger()
	defer logger.Close()

	engine := newEngine(db, logger)

	if resolveReject {
		if err := engine.Reject(ticketID, resolveNote); err != nil {
			return err
		}
		util.SuccessLog("Rejected ticket %d; files remain in the review holding area", ticketID)
		return nil
	}

	out, err := engine.Approve(context.Background(), ticketID, importer.Overrides{
		Artist: resolveArtist,
		Album:  resolveAlbum,
		Year:   resolveYear,
	})
	if err != nil {
		return err
	}

	switch out.Kind {
	case importer.OutcomeCommitted:
		util.SuccessLog("Ticket %d approved: imported as release %d", ticketID, out.ReleaseID)
	case importer.OutcomeDuplicate:
		util.InfoLog("Ticket %d resolved: duplicate of release %d (%s)", ticketID, out.ReleaseID, out.Reason)
	case importer.OutcomeFatal:
		return fmt.Errorf("approval of ticket %d failed: %w", ticketID, out.Err)
	default:
		util.WarnLog("Ticket %d resolved with outcome %s", ticketID, out.Kind)
	}
	return nil
}
