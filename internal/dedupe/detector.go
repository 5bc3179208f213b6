package dedupe

import (
	"fmt"

	"github.com/franz/cratekeeper/internal/store"
)

// Detector runs the two duplicate checks against the library's database of
// record: content-addressed first (cheap index lookup, authoritative), then
// name-normalized (catches re-releases and remasters with different bytes).
type Detector struct {
	store *store.Store
}

// New creates a new Detector
func New(s *store.Store) *Detector {
	return &Detector{store: s}
}

// ContentMatch reports a checksum-level duplicate. Identical bytes are never
// "better", so callers must treat this as a pure duplicate with no
// quality comparison.
type ContentMatch struct {
	ReleaseID      int64
	MatchingTracks int
}

// NameMatch reports a normalized-name duplicate. The caller decides replace
// vs skip by comparing quality against the existing release.
type NameMatch struct {
	ReleaseID    int64
	QualityScore int
}

// ByContent looks up existing tracks by content checksum. Any hit classifies
// the candidate as the same content regardless of metadata.
func (d *Detector) ByContent(checksums []string) (*ContentMatch, error) {
	counts := make(map[int64]int)

	for _, checksum := range checksums {
		if checksum == "" {
			continue
		}
		releaseID, found, err := d.store.FindReleaseByTrackChecksum(checksum)
		if err != nil {
			return nil, fmt.Errorf("content lookup failed: %w", err)
		}
		if found {
			counts[releaseID]++
			continue
		}

		// Fingerprint rows survive track replacement, so check them too
		fp, err := d.store.FindFingerprintByChecksum(checksum)
		if err != nil {
			return nil, fmt.Errorf("fingerprint lookup failed: %w", err)
		}
		if fp != nil {
			counts[fp.ReleaseID]++
		}
	}

	if len(counts) == 0 {
		return nil, nil
	}

	// Report the release with the most matching tracks
	var best int64
	for releaseID, n := range counts {
		if best == 0 || n > counts[best] {
			best = releaseID
		}
	}
	return &ContentMatch{ReleaseID: best, MatchingTracks: counts[best]}, nil
}

// ByName looks up a prior release with equal normalized artist/album keys.
// Inputs are raw display strings; normalization happens here so callers
// cannot diverge from the contract.
func (d *Detector) ByName(artist, album string) (*NameMatch, error) {
	normArtist := Normalize(artist)
	normAlbum := Normalize(album)

	if normAlbum == "" {
		return nil, nil
	}

	release, err := d.store.GetReleaseByKeys(normArtist, normAlbum)
	if err != nil {
		return nil, fmt.Errorf("name lookup failed: %w", err)
	}
	if release != nil {
		score, err := d.releaseQualityScore(release.ID)
		if err != nil {
			return nil, err
		}
		return &NameMatch{ReleaseID: release.ID, QualityScore: score}, nil
	}

	fp, err := d.store.FindFingerprintByName(normArtist, normAlbum)
	if err != nil {
		return nil, fmt.Errorf("fingerprint name lookup failed: %w", err)
	}
	if fp != nil {
		return &NameMatch{ReleaseID: fp.ReleaseID, QualityScore: fp.QualityScore}, nil
	}

	return nil, nil
}

// releaseQualityScore derives the representative score of a committed
// release from its weakest track, matching how candidate releases are graded
func (d *Detector) releaseQualityScore(releaseID int64) (int, error) {
	tracks, err := d.store.GetReleaseTracks(releaseID)
	if err != nil {
		return 0, fmt.Errorf("failed to load tracks for scoring: %w", err)
	}

	score := 0
	for i, t := range tracks {
		trackScore := t.BitrateKbps
		if !t.Lossy {
			trackScore = t.SampleRate*100 + t.BitDepth
		}
		if i == 0 || trackScore < score {
			score = trackScore
		}
	}
	return score, nil
}
