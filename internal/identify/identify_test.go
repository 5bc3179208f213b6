package identify

import (
	"context"
	"testing"

	"github.com/franz/cratekeeper/internal/meta"
)

func track(artist, albumArtist, album, title string, year int) meta.TrackMeta {
	return meta.TrackMeta{
		Artist:      artist,
		AlbumArtist: albumArtist,
		Album:       album,
		Title:       title,
		Year:        year,
	}
}

func TestTagIdentifierConsistentAlbum(t *testing.T) {
	tracks := []meta.TrackMeta{
		track("Boards of Canada", "Boards of Canada", "Geogaddi", "Music Is Math", 2002),
		track("Boards of Canada", "Boards of Canada", "Geogaddi", "1969", 2002),
		track("Boards of Canada", "Boards of Canada", "Geogaddi", "Dawn Chorus", 2002),
	}

	id, err := NewTagIdentifier().Identify(context.Background(), tracks)
	if err != nil {
		t.Fatal(err)
	}
	if id.Artist != "Boards of Canada" {
		t.Errorf("Artist = %q", id.Artist)
	}
	if id.Album != "Geogaddi" {
		t.Errorf("Album = %q", id.Album)
	}
	if id.Year != 2002 {
		t.Errorf("Year = %d", id.Year)
	}
	if id.Compilation {
		t.Error("single-artist release flagged as compilation")
	}
	if id.Confidence < 0.85 || id.Confidence > 0.9 {
		t.Errorf("Confidence = %v, want near 0.9 for fully tagged release", id.Confidence)
	}
}

func TestTagIdentifierNeverAuthoritative(t *testing.T) {
	tracks := []meta.TrackMeta{
		track("A", "A", "B", "C", 2020),
	}
	id, _ := NewTagIdentifier().Identify(context.Background(), tracks)
	if id.Confidence >= 1.0 {
		t.Errorf("tag-derived confidence must stay below 1.0, got %v", id.Confidence)
	}
}

func TestTagIdentifierMixedArtists(t *testing.T) {
	tracks := []meta.TrackMeta{
		track("Artist One", "", "Now That's Music", "Song A", 1999),
		track("Artist Two", "", "Now That's Music", "Song B", 1999),
		track("Artist Three", "", "Now That's Music", "Song C", 1999),
	}

	id, _ := NewTagIdentifier().Identify(context.Background(), tracks)
	if !id.Compilation {
		t.Error("mixed track artists should mark a compilation")
	}
	if id.Artist != "Various Artists" {
		t.Errorf("Artist = %q, want Various Artists", id.Artist)
	}
}

func TestTagIdentifierAlbumArtistWins(t *testing.T) {
	tracks := []meta.TrackMeta{
		track("Feature Guest", "Main Act", "The Record", "Song A", 2010),
		track("Main Act", "Main Act", "The Record", "Song B", 2010),
	}
	id, _ := NewTagIdentifier().Identify(context.Background(), tracks)
	if id.Artist != "Main Act" {
		t.Errorf("Artist = %q, album artist should take precedence", id.Artist)
	}
}

func TestTagIdentifierCompilationFlag(t *testing.T) {
	tracks := []meta.TrackMeta{
		{Artist: "A", AlbumArtist: "A", Album: "OST", Title: "T", Compilation: true},
	}
	id, _ := NewTagIdentifier().Identify(context.Background(), tracks)
	if !id.Compilation {
		t.Error("embedded compilation flag should carry through")
	}
}

func TestTagIdentifierSparseTags(t *testing.T) {
	tracks := []meta.TrackMeta{
		{Title: "01 Track"},
		{Title: "02 Track"},
	}
	id, _ := NewTagIdentifier().Identify(context.Background(), tracks)
	if id.Confidence > 0.5 {
		t.Errorf("Confidence = %v, want low score for bare tags", id.Confidence)
	}
}

func TestTagIdentifierCollectsISRCs(t *testing.T) {
	tracks := []meta.TrackMeta{
		{Path: "/a.flac", Title: "T", Artist: "A", Album: "B", ISRC: "USRC17607839"},
		{Path: "/b.flac", Title: "U", Artist: "A", Album: "B"},
	}
	id, _ := NewTagIdentifier().Identify(context.Background(), tracks)
	if id.TrackIDs["/a.flac"] != "USRC17607839" {
		t.Errorf("TrackIDs = %v", id.TrackIDs)
	}
	if _, ok := id.TrackIDs["/b.flac"]; ok {
		t.Error("track without ISRC should not appear in TrackIDs")
	}
}

func TestStaticIdentifier(t *testing.T) {
	want := Identification{Artist: "X", Album: "Y", Confidence: 1.0}
	got, err := Static{ID: want}.Identify(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if got.Artist != "X" || got.Confidence != 1.0 {
		t.Errorf("Static returned %+v", got)
	}
}
