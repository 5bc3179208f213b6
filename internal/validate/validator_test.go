package validate

import (
	"strings"
	"testing"
)

func sameArtistTracks(artist, album string, titles ...string) []TrackTags {
	tracks := make([]TrackTags, len(titles))
	for i, title := range titles {
		tracks[i] = TrackTags{Artist: artist, Album: album, Title: title}
	}
	return tracks
}

func TestCheckCleanRelease(t *testing.T) {
	tracks := sameArtistTracks("Pink Floyd", "The Wall", "In the Flesh?", "The Thin Ice")
	res := Check(tracks, "1979 - The Wall FLAC", DefaultOptions())

	if !res.Valid {
		t.Fatalf("expected valid, got issues: %v", res.Issues)
	}
	if res.Compilation {
		t.Error("two-track single-artist release is not a compilation")
	}
}

func TestCheckMissingArtist(t *testing.T) {
	for _, placeholder := range []string{"", "unknown", "Unknown Artist", "UNKNOWN"} {
		tracks := sameArtistTracks(placeholder, "Some Album", "Song One")
		res := Check(tracks, "folder", DefaultOptions())
		if res.Valid {
			t.Errorf("placeholder artist %q should fail validation", placeholder)
		}

		// Missing artist is a hard failure even in non-strict mode
		res = Check(tracks, "folder", Options{Strict: false})
		if res.Valid {
			t.Errorf("placeholder artist %q should fail non-strict validation", placeholder)
		}
	}
}

func TestCheckCompilationToleratesMissingArtist(t *testing.T) {
	tracks := []TrackTags{
		{Artist: "Artist A", Album: "Various Hits", Title: "One"},
		{Artist: "Artist B", Album: "Various Hits", Title: "Two"},
		{Artist: "Artist C", Album: "Various Hits", Title: "Three"},
		{Artist: "Artist D", Album: "Various Hits", Title: "Four"},
	}
	res := Check(tracks, "Various Hits 2020", DefaultOptions())

	if !res.Compilation {
		t.Fatal("four distinct artists should exceed the default compilation threshold")
	}
	if res.ArtistLabel != "Compilations" {
		t.Errorf("expected Compilations label, got %q", res.ArtistLabel)
	}
	if !res.Valid {
		t.Errorf("compilation should pass, got issues: %v", res.Issues)
	}
}

func TestCheckCompilationThresholdConfigurable(t *testing.T) {
	tracks := []TrackTags{
		{Artist: "Artist A", Album: "Split EP", Title: "One"},
		{Artist: "Artist B", Album: "Split EP", Title: "Two"},
	}

	opts := DefaultOptions()
	if res := Check(tracks, "split", opts); res.Compilation {
		t.Error("two artists under default threshold should not be a compilation")
	}

	opts.CompilationArtists = 1
	if res := Check(tracks, "split", opts); !res.Compilation {
		t.Error("lowered threshold should classify two artists as a compilation")
	}
}

func TestCheckExplicitCompilationFlag(t *testing.T) {
	tracks := []TrackTags{
		{Artist: "", Album: "Movie OST", Title: "Theme", Compilation: true},
	}
	res := Check(tracks, "Movie Soundtrack (2019)", DefaultOptions())

	if !res.Compilation {
		t.Fatal("explicit compilation flag must win regardless of artist count")
	}
	if res.ArtistLabel != "Soundtrack" {
		t.Errorf("soundtrack folder hint should pick Soundtrack label, got %q", res.ArtistLabel)
	}
}

func TestCheckAlbumEqualsFolderName(t *testing.T) {
	tracks := sameArtistTracks("Artist", "rip-folder-2020", "Song")
	res := Check(tracks, "rip-folder-2020", DefaultOptions())

	if res.Valid {
		t.Fatal("album equal to bare folder name should fail strict validation")
	}
	found := false
	for _, issue := range res.Issues {
		if strings.Contains(issue, "folder name") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected folder-name issue, got %v", res.Issues)
	}

	// Non-strict mode tolerates it: not a missing-artist/title class
	res = Check(tracks, "rip-folder-2020", Options{Strict: false})
	if !res.Valid {
		t.Errorf("non-strict mode should pass, got issues: %v", res.Issues)
	}
}

func TestCheckGenericTrackTitles(t *testing.T) {
	generic := []string{"Track 01", "track12", "7", "Untitled Song", "unknown"}
	for _, title := range generic {
		tracks := sameArtistTracks("Artist", "Album", title)
		res := Check(tracks, "folder", DefaultOptions())
		if res.Valid {
			t.Errorf("generic title %q should fail strict validation", title)
		}
	}

	// Real titles containing digits are fine
	tracks := sameArtistTracks("Artist", "Album", "99 Luftballons")
	if res := Check(tracks, "folder", DefaultOptions()); !res.Valid {
		t.Errorf("real title should pass, got issues: %v", res.Issues)
	}
}

func TestCheckMissingTitleFailsNonStrict(t *testing.T) {
	tracks := sameArtistTracks("Artist", "Album", "")
	res := Check(tracks, "folder", Options{Strict: false})
	if res.Valid {
		t.Error("missing track title must fail even in non-strict mode")
	}
}

func TestCheckCrossTrackConsistency(t *testing.T) {
	tracks := []TrackTags{
		{Artist: "Artist", Album: "Album", Title: "One"},
		{Artist: "", Album: "Album", Title: "Two"},
	}
	res := Check(tracks, "folder", DefaultOptions())

	found := false
	for _, issue := range res.Issues {
		if strings.Contains(issue, "inconsistent artist") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected inconsistency issue, got %v", res.Issues)
	}
}

func TestCheckNoTracks(t *testing.T) {
	res := Check(nil, "folder", DefaultOptions())
	if res.Valid {
		t.Error("empty candidate should never validate")
	}
}
