package validate

import (
	"fmt"
	"regexp"
	"strings"
)

// TrackTags is the per-track view the validator needs: raw display strings
// as extracted from the files, in release order.
type TrackTags struct {
	Artist      string
	Album       string
	Title       string
	Compilation bool
}

// Options control validation behavior
type Options struct {
	// Strict fails on every issue class; non-strict (trusted sources)
	// fails only on missing artist or missing title
	Strict bool

	// CompilationArtists is the number of distinct non-placeholder artist
	// names beyond which a release is treated as a compilation. The
	// threshold is a heuristic and deliberately configurable.
	CompilationArtists int
}

// DefaultOptions returns the validator defaults for untrusted sources
func DefaultOptions() Options {
	return Options{Strict: true, CompilationArtists: 3}
}

// Result carries the validation verdict plus the substitute artist label
// chosen when a compilation has no usable primary artist.
type Result struct {
	Valid        bool
	Issues       []string
	Compilation  bool
	ArtistLabel  string // non-empty when a compilation label was substituted
}

var (
	genericTitleRes = []*regexp.Regexp{
		regexp.MustCompile(`(?i)^track\s*\d+$`),
		regexp.MustCompile(`^\d+$`),
		regexp.MustCompile(`(?i)^untitled`),
		regexp.MustCompile(`(?i)^unknown`),
	}

	placeholderArtists = map[string]bool{
		"":               true,
		"unknown":        true,
		"unknown artist": true,
	}

	soundtrackRe = regexp.MustCompile(`(?i)\b(soundtrack|ost|original score)\b`)
)

// Check validates extracted per-track metadata against cheap deterministic
// heuristics. It runs before any expensive identification work so obviously
// broken candidates fail fast.
func Check(tracks []TrackTags, folderName string, opts Options) Result {
	res := Result{Valid: true}
	if opts.CompilationArtists <= 0 {
		opts.CompilationArtists = 3
	}

	if len(tracks) == 0 {
		res.Valid = false
		res.Issues = append(res.Issues, "no tracks extracted")
		return res
	}

	res.Compilation = isCompilation(tracks, opts.CompilationArtists)

	missingClassIssue := false

	// (a) primary artist present, unless the release is a compilation
	primaryArtist := firstNonPlaceholderArtist(tracks)
	if primaryArtist == "" {
		if res.Compilation {
			res.ArtistLabel = compilationLabel(folderName)
		} else {
			res.Issues = append(res.Issues, "primary artist missing or placeholder")
			missingClassIssue = true
		}
	} else if res.Compilation {
		res.ArtistLabel = compilationLabel(folderName)
	}

	// (b) album title present and not the bare folder name
	album := firstAlbum(tracks)
	if album == "" {
		res.Issues = append(res.Issues, "album title missing")
		missingClassIssue = true
	} else if folderName != "" && strings.EqualFold(strings.TrimSpace(album), strings.TrimSpace(folderName)) {
		res.Issues = append(res.Issues, fmt.Sprintf("album title equals folder name %q (extraction miss?)", folderName))
	}

	// (c) per-track titles present and not generic
	for i, tr := range tracks {
		title := strings.TrimSpace(tr.Title)
		if title == "" {
			res.Issues = append(res.Issues, fmt.Sprintf("track %d has no title", i+1))
			missingClassIssue = true
			continue
		}
		for _, re := range genericTitleRes {
			if re.MatchString(title) {
				res.Issues = append(res.Issues, fmt.Sprintf("track %d has generic title %q", i+1, title))
				break
			}
		}
	}

	// (d) cross-track consistency: some tagged, some blank
	if issue := consistencyIssue(tracks); issue != "" {
		res.Issues = append(res.Issues, issue)
	}

	if opts.Strict {
		res.Valid = len(res.Issues) == 0
	} else {
		res.Valid = !missingClassIssue
	}

	return res
}

// isCompilation applies the explicit flag first, then the distinct-artist
// count heuristic
func isCompilation(tracks []TrackTags, threshold int) bool {
	distinct := make(map[string]bool)
	for _, tr := range tracks {
		if tr.Compilation {
			return true
		}
		artist := strings.ToLower(strings.TrimSpace(tr.Artist))
		if !placeholderArtists[artist] {
			distinct[artist] = true
		}
	}
	return len(distinct) > threshold
}

// compilationLabel picks the substitute container label for a compilation
func compilationLabel(folderName string) string {
	if soundtrackRe.MatchString(folderName) {
		return "Soundtrack"
	}
	return "Compilations"
}

func firstNonPlaceholderArtist(tracks []TrackTags) string {
	for _, tr := range tracks {
		artist := strings.TrimSpace(tr.Artist)
		if !placeholderArtists[strings.ToLower(artist)] {
			return artist
		}
	}
	return ""
}

func firstAlbum(tracks []TrackTags) string {
	for _, tr := range tracks {
		if album := strings.TrimSpace(tr.Album); album != "" {
			return album
		}
	}
	return ""
}

// consistencyIssue flags releases where some tracks carry an artist/album
// value and others are blank
func consistencyIssue(tracks []TrackTags) string {
	var artistSet, artistBlank, albumSet, albumBlank int
	for _, tr := range tracks {
		if strings.TrimSpace(tr.Artist) == "" {
			artistBlank++
		} else {
			artistSet++
		}
		if strings.TrimSpace(tr.Album) == "" {
			albumBlank++
		} else {
			albumSet++
		}
	}

	switch {
	case artistSet > 0 && artistBlank > 0 && albumSet > 0 && albumBlank > 0:
		return "inconsistent artist and album tags across tracks"
	case artistSet > 0 && artistBlank > 0:
		return "inconsistent artist tags across tracks"
	case albumSet > 0 && albumBlank > 0:
		return "inconsistent album tags across tracks"
	}
	return ""
}
