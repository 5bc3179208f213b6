package meta

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/dhowden/tag"

	"github.com/franz/cratekeeper/internal/util"
)

// TrackMeta is one extracted per-track metadata record, in release order
type TrackMeta struct {
	Path        string
	Title       string
	Artist      string
	AlbumArtist string
	Album       string
	TrackNumber int
	DiscNumber  int
	DurationMs  int
	SampleRate  int
	BitDepth    int
	BitrateKbps int
	Format      string
	Lossy       bool
	SizeBytes   int64
	Year        int
	ISRC        string
	Composer    string
	Lyrics      string
	ExternalIDs map[string]string
	Compilation bool
}

var audioExtensions = map[string]bool{
	".flac": true,
	".mp3":  true,
	".m4a":  true,
	".ogg":  true,
	".opus": true,
	".wav":  true,
	".aiff": true,
}

// IsAudioFile reports whether a path has a recognized audio extension
func IsAudioFile(path string) bool {
	return audioExtensions[strings.ToLower(filepath.Ext(path))]
}

// Extractor reads per-track metadata from audio files on disk.
// It satisfies the extract-metadata collaborator contract of the import
// engine; tests substitute fakes through the same interface.
type Extractor struct{}

// New creates a new Extractor
func New() *Extractor {
	return &Extractor{}
}

// Extract walks a release directory and returns ordered per-track records.
// Ordering is (disc, track, path) so downstream consumers can rely on
// release order without re-sorting.
func (e *Extractor) Extract(dir string) ([]TrackMeta, error) {
	var paths []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.Mode().IsRegular() && IsAudioFile(path) {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk %s: %w", dir, err)
	}

	if len(paths) == 0 {
		return nil, fmt.Errorf("%w: no audio files under %s", util.ErrNotFound, dir)
	}

	tracks := make([]TrackMeta, 0, len(paths))
	for _, path := range paths {
		track, err := e.extractOne(path)
		if err != nil {
			return nil, fmt.Errorf("failed to extract %s: %w", path, err)
		}
		tracks = append(tracks, track)
	}

	sort.SliceStable(tracks, func(i, j int) bool {
		if tracks[i].DiscNumber != tracks[j].DiscNumber {
			return tracks[i].DiscNumber < tracks[j].DiscNumber
		}
		if tracks[i].TrackNumber != tracks[j].TrackNumber {
			return tracks[i].TrackNumber < tracks[j].TrackNumber
		}
		return tracks[i].Path < tracks[j].Path
	})

	return tracks, nil
}

// extractOne reads tags and audio properties from a single file
func (e *Extractor) extractOne(path string) (TrackMeta, error) {
	track := TrackMeta{
		Path:   path,
		Format: strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), "."),
	}

	stat, err := os.Stat(path)
	if err != nil {
		return track, fmt.Errorf("failed to stat: %w", err)
	}
	track.SizeBytes = stat.Size()

	f, err := os.Open(path)
	if err != nil {
		return track, fmt.Errorf("failed to open: %w", err)
	}
	defer f.Close()

	m, err := tag.ReadFrom(f)
	if err != nil {
		// No readable tags: fall back to the filename for the title and
		// let validation decide what to do with the rest
		util.DebugLog("No tags in %s: %v", path, err)
		track.Title = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	} else {
		track.Title = strings.TrimSpace(m.Title())
		track.Artist = strings.TrimSpace(m.Artist())
		track.AlbumArtist = strings.TrimSpace(m.AlbumArtist())
		track.Album = strings.TrimSpace(m.Album())
		track.Composer = strings.TrimSpace(m.Composer())
		track.Lyrics = m.Lyrics()
		track.Year = m.Year()
		track.TrackNumber, _ = m.Track()
		track.DiscNumber, _ = m.Disc()

		raw := m.Raw()
		if v, ok := raw["ISRC"]; ok {
			track.ISRC = fmt.Sprint(v)
		}
		if comp, ok := raw["COMPILATION"]; ok {
			s := fmt.Sprint(comp)
			track.Compilation = s == "1" || strings.EqualFold(s, "true")
		}
		if track.Title == "" {
			track.Title = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		}
	}

	if track.DiscNumber == 0 {
		track.DiscNumber = 1
	}
	if track.TrackNumber == 0 {
		track.TrackNumber = trackNumberFromName(filepath.Base(path))
	}

	if err := probeAudioProperties(&track); err != nil {
		util.WarnLog("Failed to probe audio properties for %s: %v", path, err)
	}

	return track, nil
}

var leadingNumberRe = regexp.MustCompile(`^(\d{1,3})\b`)

// trackNumberFromName recovers a track number from rips named in the
// common "01 Title" or "01 - Title" convention
func trackNumberFromName(base string) int {
	m := leadingNumberRe.FindStringSubmatch(base)
	if m == nil {
		return 0
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0
	}
	return n
}

// FolderName returns the display name of a release directory, used by the
// validator's album/folder mismatch heuristic
func FolderName(dir string) string {
	return filepath.Base(filepath.Clean(dir))
}
