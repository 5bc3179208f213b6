package integrity

import (
	"bytes"
	"crypto/md5"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/mewkiz/flac"

	"github.com/franz/cratekeeper/internal/util"
)

// Status classifies the outcome of a per-file stream-soundness check
type Status string

const (
	// StatusOK means frame-level integrity was confirmed and the embedded
	// whole-file checksum was present and verified
	StatusOK Status = "ok"

	// StatusNoChecksum means frames decoded cleanly but the file carries no
	// embedded whole-file checksum. Expected for some catalog sources;
	// non-fatal.
	StatusNoChecksum Status = "no-embedded-checksum"

	// StatusFailed means frame corruption was detected. Fatal.
	StatusFailed Status = "failed"

	// StatusError means the verification itself could not run. Logged as a
	// warning; does not block import.
	StatusError Status = "error"

	// StatusSkipped means the format has no defined integrity check
	StatusSkipped Status = "skipped"
)

// Verdict is the result of verifying one file
type Verdict struct {
	Path   string
	Status Status
	Detail string
}

// VerifyFile runs the stream-soundness check appropriate for a file's
// format. Only FLAC currently has a defined check: every frame is decoded
// and the running MD5 of the decoded samples is compared against the
// STREAMINFO checksum.
func VerifyFile(path string) Verdict {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".flac":
		return verifyFLAC(path)
	default:
		return Verdict{Path: path, Status: StatusSkipped}
	}
}

func verifyFLAC(path string) Verdict {
	f, err := os.Open(path)
	if err != nil {
		return Verdict{Path: path, Status: StatusError, Detail: fmt.Sprintf("open: %v", err)}
	}
	defer f.Close()

	stream, err := flac.Parse(f)
	if err != nil {
		// A header that won't parse means the tool can't even start; the
		// frame walk below is what detects corruption proper
		return Verdict{Path: path, Status: StatusError, Detail: fmt.Sprintf("parse header: %v", err)}
	}
	defer stream.Close()

	h := md5.New()
	for {
		frame, err := stream.ParseNext()
		if err == io.EOF {
			break
		}
		if err != nil {
			return Verdict{Path: path, Status: StatusFailed, Detail: fmt.Sprintf("frame decode: %v", err)}
		}
		frame.Hash(h)
	}

	var zero [md5.Size]byte
	embedded := stream.Info.MD5sum[:]
	if bytes.Equal(embedded, zero[:]) {
		return Verdict{Path: path, Status: StatusNoChecksum}
	}

	if !bytes.Equal(h.Sum(nil), embedded) {
		return Verdict{Path: path, Status: StatusFailed, Detail: "embedded MD5 mismatch"}
	}

	return Verdict{Path: path, Status: StatusOK}
}

// Report aggregates per-file verdicts for one release
type Report struct {
	Verdicts   []Verdict
	OK         int
	NoChecksum int
	Failed     int
	Errors     int
	Skipped    int
}

// FailedFiles returns the paths that failed, capped at the given limit
func (r *Report) FailedFiles(limit int) []string {
	var failed []string
	for _, v := range r.Verdicts {
		if v.Status == StatusFailed {
			failed = append(failed, filepath.Base(v.Path))
			if len(failed) == limit {
				break
			}
		}
	}
	return failed
}

// VerifyRelease checks every file of a release candidate. Any failed file
// yields a fatal error naming up to three offenders; error and
// no-embedded-checksum counts are logged but non-blocking.
func VerifyRelease(paths []string) (*Report, error) {
	report := &Report{}

	for _, path := range paths {
		v := VerifyFile(path)
		report.Verdicts = append(report.Verdicts, v)

		switch v.Status {
		case StatusOK:
			report.OK++
		case StatusNoChecksum:
			report.NoChecksum++
		case StatusFailed:
			report.Failed++
			util.ErrorLog("Integrity check failed for %s: %s", path, v.Detail)
		case StatusError:
			report.Errors++
			util.WarnLog("Integrity check could not run for %s: %s", path, v.Detail)
		case StatusSkipped:
			report.Skipped++
		}
	}

	if report.NoChecksum > 0 {
		util.DebugLog("%d file(s) carry no embedded checksum (frame integrity still confirmed)", report.NoChecksum)
	}

	if report.Failed > 0 {
		return report, fmt.Errorf("%w: %d file(s) failed stream verification: %s",
			util.ErrCorrupt, report.Failed, strings.Join(report.FailedFiles(3), ", "))
	}

	return report, nil
}
