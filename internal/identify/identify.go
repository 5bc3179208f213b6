package identify

import (
	"context"
	"strings"

	"github.com/franz/cratekeeper/internal/meta"
)

// Identification is the resolved identity of a release candidate plus a
// confidence score in [0, 1]. Authoritative sources report 1.0; tag-derived
// identities carry whatever the heuristics support.
type Identification struct {
	Artist      string
	Album       string
	Year        int
	Compilation bool
	Confidence  float64
	// TrackIDs maps track paths to external catalog identifiers when the
	// identifying source knows them. Empty for tag-derived identities
	// unless the files embed them.
	TrackIDs map[string]string
}

// Identifier resolves a release identity from extracted track metadata.
type Identifier interface {
	Identify(ctx context.Context, tracks []meta.TrackMeta) (Identification, error)
}

// TagIdentifier derives identity from embedded tags alone. It is the
// fallback used for local drops and untrusted sources that supply no
// catalog reference.
type TagIdentifier struct{}

func NewTagIdentifier() *TagIdentifier {
	return &TagIdentifier{}
}

func (ti *TagIdentifier) Identify(_ context.Context, tracks []meta.TrackMeta) (Identification, error) {
	id := Identification{TrackIDs: map[string]string{}}
	if len(tracks) == 0 {
		return id, nil
	}

	id.Album = majority(tracks, func(t meta.TrackMeta) string { return t.Album })
	id.Artist = releaseArtist(tracks)
	id.Compilation = id.Artist == "" || anyCompilationFlag(tracks)
	if id.Compilation && id.Artist == "" {
		id.Artist = "Various Artists"
	}
	id.Year = majorityYear(tracks)

	for _, t := range tracks {
		if isrc := strings.TrimSpace(t.ISRC); isrc != "" {
			id.TrackIDs[t.Path] = isrc
		}
	}

	id.Confidence = tagConfidence(tracks, id)
	return id, nil
}

// releaseArtist prefers a consistent album artist, then a consistent track
// artist. An empty result means the tracks do not agree on one.
func releaseArtist(tracks []meta.TrackMeta) string {
	if a := unanimous(tracks, func(t meta.TrackMeta) string { return t.AlbumArtist }); a != "" {
		return a
	}
	return unanimous(tracks, func(t meta.TrackMeta) string { return t.Artist })
}

// unanimous returns the single non-empty value all tracks share, or ""
func unanimous(tracks []meta.TrackMeta, get func(meta.TrackMeta) string) string {
	var found string
	for _, t := range tracks {
		v := strings.TrimSpace(get(t))
		if v == "" {
			continue
		}
		if found == "" {
			found = v
		} else if !strings.EqualFold(found, v) {
			return ""
		}
	}
	return found
}

// majority returns the most common non-empty value across tracks
func majority(tracks []meta.TrackMeta, get func(meta.TrackMeta) string) string {
	counts := map[string]int{}
	display := map[string]string{}
	for _, t := range tracks {
		v := strings.TrimSpace(get(t))
		if v == "" {
			continue
		}
		key := strings.ToLower(v)
		counts[key]++
		if _, ok := display[key]; !ok {
			display[key] = v
		}
	}
	best, bestCount := "", 0
	for key, n := range counts {
		if n > bestCount {
			best, bestCount = key, n
		}
	}
	return display[best]
}

func majorityYear(tracks []meta.TrackMeta) int {
	counts := map[int]int{}
	for _, t := range tracks {
		if t.Year > 0 {
			counts[t.Year]++
		}
	}
	best, bestCount := 0, 0
	for y, n := range counts {
		if n > bestCount {
			best, bestCount = y, n
		}
	}
	return best
}

func anyCompilationFlag(tracks []meta.TrackMeta) bool {
	for _, t := range tracks {
		if t.Compilation {
			return true
		}
	}
	return false
}

// tagConfidence scores how far the tags support the derived identity.
// Complete, consistent tagging across every track approaches 0.9; the
// score never reaches 1.0 because tags alone are not authoritative.
func tagConfidence(tracks []meta.TrackMeta, id Identification) float64 {
	score := 0.3
	if id.Album != "" {
		score += 0.2
	}
	if id.Artist != "" && id.Artist != "Various Artists" {
		score += 0.2
	}
	if id.Year > 0 {
		score += 0.1
	}

	tagged := 0
	for _, t := range tracks {
		if t.Title != "" && t.Artist != "" {
			tagged++
		}
	}
	score += 0.1 * float64(tagged) / float64(len(tracks))

	if score > 0.9 {
		score = 0.9
	}
	return score
}

// Static is an Identifier that returns a fixed identification. Catalog
// fetches that already know what they downloaded use it, as do review
// resolutions that carry curator overrides.
type Static struct {
	ID Identification
}

func (s Static) Identify(context.Context, []meta.TrackMeta) (Identification, error) {
	return s.ID, nil
}
