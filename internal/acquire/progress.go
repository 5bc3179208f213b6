package acquire

import (
	"fmt"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/franz/cratekeeper/internal/report"
	"github.com/franz/cratekeeper/internal/store"
)

// progressWriter counts bytes flowing through a download and feeds the
// sink at a sane rate
type progressWriter struct {
	written  int64
	total    int64
	start    time.Time
	lastPush time.Time
	sink     ProgressSink
}

func (w *progressWriter) Write(p []byte) (int, error) {
	w.written += int64(len(p))
	if w.sink == nil {
		return len(p), nil
	}
	if time.Since(w.lastPush) >= 500*time.Millisecond {
		w.push()
	}
	return len(p), nil
}

func (w *progressWriter) push() {
	w.lastPush = time.Now()
	elapsed := time.Since(w.start).Seconds()
	var speed float64
	if elapsed > 0 {
		speed = float64(w.written) / elapsed
	}

	percent := 0.0
	eta := time.Duration(0)
	if w.total > 0 {
		percent = float64(w.written) / float64(w.total) * 100
		if speed > 0 {
			eta = time.Duration(float64(w.total-w.written)/speed) * time.Second
		}
	}
	w.sink.Progress(percent, speed, eta)
}

// flush reports the final state after a completed transfer
func (w *progressWriter) flush() {
	if w.sink == nil {
		return
	}
	elapsed := time.Since(w.start).Seconds()
	var speed float64
	if elapsed > 0 {
		speed = float64(w.written) / elapsed
	}
	w.sink.Progress(100, speed, 0)
}

func reportCopyProgress(sink ProgressSink, copied, total int64, start time.Time) {
	if sink == nil {
		return
	}
	elapsed := time.Since(start).Seconds()
	var speed float64
	if elapsed > 0 {
		speed = float64(copied) / elapsed
	}
	percent := 0.0
	if total > 0 {
		percent = float64(copied) / float64(total) * 100
	}
	sink.Progress(percent, speed, 0)
}

// jobProgress mirrors download progress into the job row and the event
// bus with humanized labels
type jobProgress struct {
	store  *store.Store
	logger *report.EventLogger
	jobID  string

	mu         sync.Mutex
	lastUpdate time.Time
}

func newJobProgress(s *store.Store, logger *report.EventLogger, jobID string) *jobProgress {
	return &jobProgress{store: s, logger: logger, jobID: jobID}
}

func (p *jobProgress) Progress(percent float64, bytesPerSec float64, eta time.Duration) {
	p.mu.Lock()
	// Final updates always land; intermediate ones are rate-limited
	if percent < 100 && time.Since(p.lastUpdate) < time.Second {
		p.mu.Unlock()
		return
	}
	p.lastUpdate = time.Now()
	p.mu.Unlock()

	speed := ""
	if bytesPerSec > 0 {
		speed = humanize.Bytes(uint64(bytesPerSec)) + "/s"
	}
	etaLabel := ""
	if eta > 0 {
		etaLabel = eta.Round(time.Second).String()
	}

	if err := p.store.UpdateJobProgress(p.jobID, percent, speed, etaLabel); err != nil {
		return
	}
	p.logger.LogJobProgress(p.jobID, percent, speed, etaLabel)
}

// FormatProgress renders a job's progress for CLI display
func FormatProgress(j *store.Job) string {
	if j.Status != store.JobDownloading {
		return j.Status
	}
	label := fmt.Sprintf("%s %.0f%%", j.Status, j.Progress)
	if j.Speed != "" {
		label += " @ " + j.Speed
	}
	if j.ETA != "" {
		label += " (eta " + j.ETA + ")"
	}
	return label
}
