package main

import (
	"fmt"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/franz/cratekeeper/internal/store"
)

var libraryCmd = &cobra.Command{
	Use:   "library [release-id]",
	Short: "List imported releases, or the tracks of one release",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runLibrary,
}

func init() {
	rootCmd.AddCommand(libraryCmd)
}

func runLibrary(cmd *cobra.Command, args []string) error {
	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	if len(args) == 1 {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid release id %q", args[0])
		}
		return showRelease(db, id)
	}

	releases, err := db.GetAllReleases()
	if err != nil {
		return err
	}
	if len(releases) == 0 {
		fmt.Println("Library is empty.")
		return nil
	}

	var rows [][]string
	for _, r := range releases {
		artistName := "(unknown)"
		if artist, err := db.GetArtist(r.ArtistID); err == nil && artist != nil {
			artistName = artist.Name
		}
		year := ""
		if r.Year > 0 {
			year = strconv.Itoa(r.Year)
		}
		flags := ""
		if r.Compilation {
			flags = "comp"
		}
		if r.Verified {
			if flags != "" {
				flags += ","
			}
			flags += "verified"
		}
		rows = append(rows, []string{
			strconv.FormatInt(r.ID, 10),
			artistName,
			r.Title,
			year,
			r.Source,
			flags,
			humanize.Time(r.UpdatedAt),
		})
	}
	renderTable([]string{"ID", "Artist", "Title", "Year", "Source", "Flags", "Updated"}, rows, 1, 4)
	return nil
}

func showRelease(db *store.Store, id int64) error {
	release, err := db.GetRelease(id)
	if err != nil {
		return err
	}
	if release == nil {
		return fmt.Errorf("no release %d", id)
	}

	tracks, err := db.GetReleaseTracks(id)
	if err != nil {
		return err
	}

	var rows [][]string
	var totalBytes int64
	for _, t := range tracks {
		num := fmt.Sprintf("%02d", t.TrackNumber)
		if t.Disc > 1 {
			num = fmt.Sprintf("%d-%02d", t.Disc, t.TrackNumber)
		}
		rows = append(rows, []string{
			num,
			t.Title,
			formatDuration(t.DurationMs),
			t.QualityLabel,
			humanize.Bytes(uint64(t.SizeBytes)),
		})
		totalBytes += t.SizeBytes
	}

	fmt.Printf("Release %d: %s (%d tracks, %s)\n", release.ID, release.Title,
		len(tracks), humanize.Bytes(uint64(totalBytes)))
	renderTable([]string{"#", "Title", "Length", "Quality", "Size"}, rows, 1, 3, 5)
	return nil
}

func formatDuration(ms int) string {
	if ms <= 0 {
		return "-"
	}
	total := ms / 1000
	return fmt.Sprintf("%d:%02d", total/60, total%60)
}
