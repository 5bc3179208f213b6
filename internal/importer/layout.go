package importer

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/franz/cratekeeper/internal/meta"
)

// Layout maps committed releases and holding-area candidates to paths on
// disk. The review and failed areas live outside LibraryRoot so library
// scanners never see half-imported material.
type Layout struct {
	LibraryRoot string
	ReviewDir   string
	FailedDir   string
}

// ReleaseDir returns the destination directory for a release
func (l Layout) ReleaseDir(artist, album string, year int) string {
	folder := album
	if year > 0 {
		folder = fmt.Sprintf("%d - %s", year, album)
	}
	return filepath.Join(l.LibraryRoot, SanitizePathComponent(artist), SanitizePathComponent(folder))
}

// TrackPath returns the full destination path for one track within a
// release directory. Multi-disc releases get a disc prefix on the track
// number; compilations carry the track artist in the filename.
func (l Layout) TrackPath(releaseDir string, t meta.TrackMeta, multiDisc, compilation bool) string {
	title := t.Title
	if title == "" {
		title = strings.TrimSuffix(filepath.Base(t.Path), filepath.Ext(t.Path))
	}

	var name string
	if multiDisc {
		name = fmt.Sprintf("%d-%02d", t.DiscNumber, t.TrackNumber)
	} else {
		name = fmt.Sprintf("%02d", t.TrackNumber)
	}
	if compilation && t.Artist != "" {
		name += " " + SanitizePathComponent(t.Artist) + " -"
	}
	name += " " + SanitizePathComponent(title)
	name += strings.ToLower(filepath.Ext(t.Path))

	return filepath.Join(releaseDir, name)
}

// HoldingDir returns a unique directory under a holding area for a
// candidate, keyed by its source folder name plus a discriminator
func HoldingDir(area, sourceDir, discriminator string) string {
	base := SanitizePathComponent(filepath.Base(filepath.Clean(sourceDir)))
	return filepath.Join(area, base+"-"+discriminator)
}

// SanitizePathComponent removes illegal filesystem characters from one
// path element
func SanitizePathComponent(s string) string {
	if s == "" {
		return "Unknown"
	}

	// Replace illegal filesystem characters with underscores
	illegal := []string{"/", "\\", ":", "*", "?", "\"", "<", ">", "|"}
	for _, char := range illegal {
		s = strings.ReplaceAll(s, char, "_")
	}

	// Collapse multiple underscores
	for strings.Contains(s, "__") {
		s = strings.ReplaceAll(s, "__", "_")
	}

	// Trim spaces and dots (Windows issues)
	s = strings.TrimSpace(s)
	s = strings.Trim(s, ".")
	s = strings.TrimRight(s, "_")

	if s == "" {
		return "Unknown"
	}

	// Stay inside filesystem name limits
	if len(s) > 200 {
		s = s[:200]
		s = strings.TrimRight(s, " _.")
	}

	return s
}
