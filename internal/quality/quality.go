package quality

import (
	"fmt"
	"strings"
)

// Quality describes the audio fidelity of a single track or, aggregated,
// of a whole release.
type Quality struct {
	Lossy       bool
	SampleRate  int   // Hz
	BitDepth    int   // bits, 0 for lossy formats
	BitrateKbps int   // average bitrate, meaningful for lossy formats
	SizeBytes   int64 // file size, used only as a lossless tie-breaker
}

// Better reports whether a is strictly better than b.
// Ordering, from decisive to tie-break: lossless beats lossy unconditionally;
// among lossless candidates higher sample rate wins, then higher bit depth,
// then larger file size; among lossy candidates higher bitrate wins.
func Better(a, b Quality) bool {
	if !a.Lossy && b.Lossy {
		return true
	}
	if a.Lossy && !b.Lossy {
		return false
	}

	if a.Lossy {
		return a.BitrateKbps > b.BitrateKbps
	}

	if a.SampleRate != b.SampleRate {
		return a.SampleRate > b.SampleRate
	}
	if a.BitDepth != b.BitDepth {
		return a.BitDepth > b.BitDepth
	}
	return a.SizeBytes > b.SizeBytes
}

// Score returns a numeric summary consistent with Better for realistic
// values, used for storage and sorting. Lossy files score their bitrate;
// lossless files score sampleRate*100 + bitDepth, which dominates any
// plausible lossy bitrate.
func (q Quality) Score() int {
	if q.Lossy {
		return q.BitrateKbps
	}
	return q.SampleRate*100 + q.BitDepth
}

// Label returns a short human-readable description, e.g. "FLAC 24/96"
// or "MP3 320kbps". Used on review tickets and track rows.
func (q Quality) Label(format string) string {
	format = strings.ToUpper(strings.TrimSpace(format))
	if format == "" {
		format = "UNKNOWN"
	}

	if q.Lossy {
		if q.BitrateKbps > 0 {
			return fmt.Sprintf("%s %dkbps", format, q.BitrateKbps)
		}
		return format
	}

	if q.SampleRate > 0 && q.BitDepth > 0 {
		khz := float64(q.SampleRate) / 1000.0
		if khz == float64(int(khz)) {
			return fmt.Sprintf("%s %d/%d", format, q.BitDepth, int(khz))
		}
		return fmt.Sprintf("%s %d/%.1f", format, q.BitDepth, khz)
	}
	return format
}

// ForRelease aggregates per-track qualities into a representative release
// quality: lossy if any track is lossy (the weakest link governs), with the
// minimum of each numeric field across tracks and the summed size.
func ForRelease(tracks []Quality) Quality {
	if len(tracks) == 0 {
		return Quality{}
	}

	agg := tracks[0]
	agg.SizeBytes = 0

	for _, t := range tracks {
		if t.Lossy {
			agg.Lossy = true
		}
		if t.SampleRate < agg.SampleRate {
			agg.SampleRate = t.SampleRate
		}
		if t.BitDepth < agg.BitDepth {
			agg.BitDepth = t.BitDepth
		}
		if t.BitrateKbps < agg.BitrateKbps {
			agg.BitrateKbps = t.BitrateKbps
		}
		agg.SizeBytes += t.SizeBytes
	}

	return agg
}
