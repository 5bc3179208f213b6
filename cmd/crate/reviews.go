package main

import (
	"fmt"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/franz/cratekeeper/internal/store"
)

var reviewsAll bool

var reviewsCmd = &cobra.Command{
	Use:   "reviews",
	Short: "List releases parked for review",
	RunE:  runReviews,
}

func init() {
	reviewsCmd.Flags().BoolVar(&reviewsAll, "all", false, "include resolved tickets")
	rootCmd.AddCommand(reviewsCmd)
}

func runReviews(cmd *cobra.Command, args []string) error {
	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	var tickets []*store.ReviewTicket
	if reviewsAll {
		tickets, err = db.GetAllReviewTickets()
	} else {
		tickets, err = db.GetReviewTicketsByStatus(store.ReviewPending)
	}
	if err != nil {
		return err
	}

	if len(tickets) == 0 {
		fmt.Println("No pending reviews.")
		return nil
	}

	var rows [][]string
	for _, t := range tickets {
		artist := t.Artist
		if artist == "" {
			artist = "(unknown)"
		}
		album := t.Album
		if album == "" {
			album = "(unknown)"
		}
		rows = append(rows, []string{
			strconv.FormatInt(t.ID, 10),
			t.Status,
			artist,
			album,
			fmt.Sprintf("%.2f", t.Confidence),
			t.Source,
			truncate(t.Note, 40),
			humanize.Time(t.CreatedAt),
		})
	}

	renderTable([]string{"Ticket", "Status", "Artist", "Album", "Conf", "Source", "Note", "Parked"}, rows, 1, 5)
	fmt.Println("Resolve with: crate resolve <ticket> --approve [--artist X --album Y --year N] | --reject")
	return nil
}
