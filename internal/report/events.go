package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// EventType represents the type of event
type EventType string

const (
	EventJobSubmitted    EventType = "job_submitted"
	EventJobState        EventType = "job_state"
	EventJobProgress     EventType = "job_progress"
	EventReviewNeeded    EventType = "review_needed"
	EventReviewResolved  EventType = "review_resolved"
	EventReleaseCreated  EventType = "release_created"
	EventReleaseReplaced EventType = "release_replaced"
	EventDuplicate       EventType = "duplicate"
	EventIntegrity       EventType = "integrity"
	EventOrphanFiles     EventType = "orphan_files"
	EventSweep           EventType = "sweep"
	EventError           EventType = "error"
)

// EventLevel represents the severity level
type EventLevel string

const (
	LevelDebug    EventLevel = "debug"
	LevelInfo     EventLevel = "info"
	LevelWarning  EventLevel = "warning"
	LevelError    EventLevel = "error"
	LevelCritical EventLevel = "critical"
)

// levelPriority maps event levels to numeric priorities for comparison
var levelPriority = map[EventLevel]int{
	LevelDebug:    0,
	LevelInfo:     1,
	LevelWarning:  2,
	LevelError:    3,
	LevelCritical: 4,
}

// Event represents a single event in the pipeline
type Event struct {
	Timestamp    time.Time         `json:"ts"`
	Level        EventLevel        `json:"level"`
	Event        EventType         `json:"event"`
	JobID        string            `json:"job_id,omitempty"`
	ReleaseID    int64             `json:"release_id,omitempty"`
	ReviewID     int64             `json:"review_id,omitempty"`
	Source       string            `json:"source,omitempty"`
	Locator      string            `json:"locator,omitempty"`
	Status       string            `json:"status,omitempty"`
	Artist       string            `json:"artist,omitempty"`
	Album        string            `json:"album,omitempty"`
	QualityScore int               `json:"quality_score,omitempty"`
	Progress     float64           `json:"progress,omitempty"`
	Reason       string            `json:"reason,omitempty"`
	Paths        []string          `json:"paths,omitempty"`
	Duration     int64             `json:"duration_ms,omitempty"` // in milliseconds
	Error        string            `json:"error,omitempty"`
	Extra        map[string]string `json:"extra,omitempty"`
}

// EventLogger writes events to a JSONL file
type EventLogger struct {
	file     *os.File
	encoder  *json.Encoder
	mu       sync.Mutex
	path     string
	minLevel EventLevel
}

// NewEventLogger creates a new event logger with a minimum log level
// minLevel determines which events are written (e.g., LevelInfo skips LevelDebug)
func NewEventLogger(outputDir string, minLevel EventLevel) (*EventLogger, error) {
	// Create output directory if it doesn't exist
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	// Generate filename with timestamp
	timestamp := time.Now().Format("20060102-150405")
	filename := fmt.Sprintf("events-%s.jsonl", timestamp)
	path := filepath.Join(outputDir, filename)

	// Open file for writing
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create event log: %w", err)
	}

	return &EventLogger{
		file:     file,
		encoder:  json.NewEncoder(file),
		path:     path,
		minLevel: minLevel,
	}, nil
}

// Log writes an event to the JSONL file
func (l *EventLogger) Log(event *Event) error {
	if l == nil || l.file == nil {
		return nil // Silently ignore if logger not initialized
	}

	// Filter by minimum level
	if levelPriority[event.Level] < levelPriority[l.minLevel] {
		return nil // Skip events below minimum level
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	if err := l.encoder.Encode(event); err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	return nil
}

// LogJobSubmitted logs a new acquisition job entering the queue
func (l *EventLogger) LogJobSubmitted(jobID, source, locator, requester string) error {
	return l.Log(&Event{
		Level:   LevelInfo,
		Event:   EventJobSubmitted,
		JobID:   jobID,
		Source:  source,
		Locator: locator,
		Extra: map[string]string{
			"requester": requester,
		},
	})
}

// LogJobState logs a job state transition
func (l *EventLogger) LogJobState(jobID, status, reason string) error {
	level := LevelInfo
	if status == "failed" {
		level = LevelError
	}

	return l.Log(&Event{
		Level:  level,
		Event:  EventJobState,
		JobID:  jobID,
		Status: status,
		Reason: reason,
	})
}

// LogJobProgress logs a download progress snapshot
func (l *EventLogger) LogJobProgress(jobID string, progress float64, speed, eta string) error {
	return l.Log(&Event{
		Level:    LevelDebug,
		Event:    EventJobProgress,
		JobID:    jobID,
		Progress: progress,
		Extra: map[string]string{
			"speed": speed,
			"eta":   eta,
		},
	})
}

// LogReviewNeeded logs a candidate parked for manual review
func (l *EventLogger) LogReviewNeeded(jobID string, reviewID int64, artist, album, reason string) error {
	return l.Log(&Event{
		Level:    LevelWarning,
		Event:    EventReviewNeeded,
		JobID:    jobID,
		ReviewID: reviewID,
		Artist:   artist,
		Album:    album,
		Reason:   reason,
	})
}

// LogReviewResolved logs a review ticket decision
func (l *EventLogger) LogReviewResolved(reviewID int64, status string) error {
	return l.Log(&Event{
		Level:    LevelInfo,
		Event:    EventReviewResolved,
		ReviewID: reviewID,
		Status:   status,
	})
}

// LogReleaseCreated logs a committed import
func (l *EventLogger) LogReleaseCreated(jobID string, releaseID int64, artist, album string, qualityScore int, duration time.Duration) error {
	return l.Log(&Event{
		Level:        LevelInfo,
		Event:        EventReleaseCreated,
		JobID:        jobID,
		ReleaseID:    releaseID,
		Artist:       artist,
		Album:        album,
		QualityScore: qualityScore,
		Duration:     duration.Milliseconds(),
	})
}

// LogReleaseReplaced logs a quality upgrade of an existing release
func (l *EventLogger) LogReleaseReplaced(jobID string, releaseID int64, artist, album string, oldScore, newScore int) error {
	return l.Log(&Event{
		Level:        LevelInfo,
		Event:        EventReleaseReplaced,
		JobID:        jobID,
		ReleaseID:    releaseID,
		Artist:       artist,
		Album:        album,
		QualityScore: newScore,
		Extra: map[string]string{
			"previous_score": fmt.Sprintf("%d", oldScore),
		},
	})
}

// LogDuplicate logs a candidate rejected as a duplicate
func (l *EventLogger) LogDuplicate(jobID string, releaseID int64, reason string) error {
	return l.Log(&Event{
		Level:     LevelWarning,
		Event:     EventDuplicate,
		JobID:     jobID,
		ReleaseID: releaseID,
		Reason:    reason,
	})
}

// LogIntegrity logs a failed integrity verification
func (l *EventLogger) LogIntegrity(jobID string, failedPaths []string) error {
	return l.Log(&Event{
		Level: LevelError,
		Event: EventIntegrity,
		JobID: jobID,
		Paths: failedPaths,
	})
}

// LogOrphanFiles logs files left in an inconsistent location after a
// failed rollback. These always need operator attention.
func (l *EventLogger) LogOrphanFiles(jobID string, paths []string, err error) error {
	return l.Log(&Event{
		Level: LevelCritical,
		Event: EventOrphanFiles,
		JobID: jobID,
		Paths: paths,
		Error: err.Error(),
	})
}

// LogSweep logs a retention sweep of terminal jobs
func (l *EventLogger) LogSweep(removed int64, olderThan time.Duration) error {
	return l.Log(&Event{
		Level: LevelInfo,
		Event: EventSweep,
		Extra: map[string]string{
			"removed":    fmt.Sprintf("%d", removed),
			"older_than": olderThan.String(),
		},
	})
}

// LogError logs an error event
func (l *EventLogger) LogError(event EventType, jobID string, err error) error {
	return l.Log(&Event{
		Level: LevelError,
		Event: event,
		JobID: jobID,
		Error: err.Error(),
	})
}

// Close closes the event log file
func (l *EventLogger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	return l.file.Close()
}

// Path returns the path to the event log file
func (l *EventLogger) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// NullLogger returns a no-op event logger
func NullLogger() *EventLogger {
	return nil
}
