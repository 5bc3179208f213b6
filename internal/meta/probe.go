package meta

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/mewkiz/flac"
	"github.com/tcolgate/mp3"
)

// probeAudioProperties fills in sample rate, bit depth, bitrate, duration and
// the lossy flag from the audio stream itself. Tags are unreliable for these.
func probeAudioProperties(track *TrackMeta) error {
	switch track.Format {
	case "flac":
		return probeFLAC(track)
	case "mp3":
		return probeMP3(track)
	case "wav", "aiff":
		track.Lossy = false
		return nil
	default:
		// m4a/ogg/opus: assume lossy; duration/bitrate stay best-effort
		track.Lossy = true
		return nil
	}
}

// probeFLAC reads the STREAMINFO block
func probeFLAC(track *TrackMeta) error {
	stream, err := flac.ParseFile(track.Path)
	if err != nil {
		return fmt.Errorf("flac parse: %w", err)
	}
	defer stream.Close()

	info := stream.Info
	track.Lossy = false
	track.SampleRate = int(info.SampleRate)
	track.BitDepth = int(info.BitsPerSample)

	if info.NSamples > 0 && info.SampleRate > 0 {
		secs := float64(info.NSamples) / float64(info.SampleRate)
		track.DurationMs = int(secs*1000 + 0.5)
		if secs > 0 {
			track.BitrateKbps = int(float64(track.SizeBytes) * 8 / secs / 1000)
		}
	}

	return nil
}

// probeMP3 decodes frames to measure duration and average bitrate
func probeMP3(track *TrackMeta) error {
	f, err := os.Open(track.Path)
	if err != nil {
		return err
	}
	defer f.Close()

	track.Lossy = true

	dec := mp3.NewDecoder(f)
	var total time.Duration
	var bitrateSum int64
	var skipped int
	frames := 0

	for {
		var fr mp3.Frame
		if err := dec.Decode(&fr, &skipped); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			if frames == 0 {
				return fmt.Errorf("mp3 decode: %w", err)
			}
			break // partial decode; use what we have
		}
		total += fr.Duration()
		bitrateSum += int64(fr.Header().BitRate())
		if track.SampleRate == 0 {
			track.SampleRate = int(fr.Header().SampleRate())
		}
		frames++
	}

	if frames > 0 {
		track.DurationMs = int(total.Milliseconds())
		track.BitrateKbps = int(bitrateSum / int64(frames) / 1000)
	}

	return nil
}
