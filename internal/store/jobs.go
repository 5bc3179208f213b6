package store

import (
	"database/sql"
	"fmt"
	"time"
)

// Job statuses. Only the controller's state machine writes these.
const (
	JobPending       = "pending"
	JobDownloading   = "downloading"
	JobImporting     = "importing"
	JobComplete      = "complete"
	JobDuplicate     = "duplicate"
	JobPendingReview = "pending_review"
	JobFailed        = "failed"
	JobCancelled     = "cancelled"
)

// IsTerminalJobStatus reports whether a status is a terminal state
func IsTerminalJobStatus(status string) bool {
	switch status {
	case JobComplete, JobDuplicate, JobPendingReview, JobFailed, JobCancelled:
		return true
	}
	return false
}

// InsertJob creates a new job record
func (s *Store) InsertJob(j *Job) error {
	_, err := s.db.Exec(`
		INSERT INTO jobs (id, source, locator, quality_tier, status, single_track, requester)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, j.ID, j.Source, j.Locator, j.QualityTier, j.Status, j.SingleTrack, j.Requester)

	if err != nil {
		return fmt.Errorf("failed to insert job: %w", err)
	}

	return nil
}

const jobColumns = `
	id, source, locator, COALESCE(quality_tier, ''), status, progress,
	COALESCE(speed, ''), COALESCE(eta, ''), COALESCE(error, ''),
	COALESCE(release_id, 0), COALESCE(review_id, 0), attempts,
	single_track, COALESCE(requester, ''), created_at, started_at, completed_at
`

func scanJob(row interface{ Scan(...any) error }) (*Job, error) {
	j := &Job{}
	var started, completed sql.NullTime
	err := row.Scan(
		&j.ID, &j.Source, &j.Locator, &j.QualityTier, &j.Status, &j.Progress,
		&j.Speed, &j.ETA, &j.Error,
		&j.ReleaseID, &j.ReviewID, &j.Attempts,
		&j.SingleTrack, &j.Requester, &j.CreatedAt, &started, &completed,
	)
	if err != nil {
		return nil, err
	}
	if started.Valid {
		j.StartedAt = &started.Time
	}
	if completed.Valid {
		j.CompletedAt = &completed.Time
	}
	return j, nil
}

// GetJob retrieves a job by id
func (s *Store) GetJob(id string) (*Job, error) {
	j, err := scanJob(s.db.QueryRow(
		"SELECT "+jobColumns+" FROM jobs WHERE id = ?", id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return j, nil
}

// GetJobsByStatus retrieves jobs with a given status, oldest first
func (s *Store) GetJobsByStatus(status string) ([]*Job, error) {
	rows, err := s.db.Query(
		"SELECT "+jobColumns+" FROM jobs WHERE status = ? ORDER BY created_at, id", status)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}
	defer rows.Close()
	return collectJobs(rows)
}

// GetAllJobs retrieves every job, newest first
func (s *Store) GetAllJobs() ([]*Job, error) {
	rows, err := s.db.Query(
		"SELECT " + jobColumns + " FROM jobs ORDER BY created_at DESC, id")
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}
	defer rows.Close()
	return collectJobs(rows)
}

func collectJobs(rows *sql.Rows) ([]*Job, error) {
	var jobs []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// UpdateJobStatus transitions a job to a new status. Started/completed
// timestamps are stamped on the downloading and terminal transitions.
func (s *Store) UpdateJobStatus(id, status, errorMsg string) error {
	now := time.Now()

	query := "UPDATE jobs SET status = ?, error = ?"
	args := []any{status, errorMsg}

	if status == JobDownloading {
		query += ", started_at = ?"
		args = append(args, now)
	}
	if IsTerminalJobStatus(status) {
		query += ", completed_at = ?"
		args = append(args, now)
	}

	query += " WHERE id = ?"
	args = append(args, id)

	if _, err := s.db.Exec(query, args...); err != nil {
		return fmt.Errorf("failed to update job status: %w", err)
	}
	return nil
}

// CancelJob flips a job to cancelled only while it is still pending or
// downloading. The conditional write loses to a worker that has already
// moved the job into importing; the caller reports that as not
// cancellable instead of clobbering an import in flight.
func (s *Store) CancelJob(id string) (bool, error) {
	res, err := s.db.Exec(`
		UPDATE jobs SET status = ?, error = '', completed_at = ?
		WHERE id = ? AND status IN (?, ?)
	`, JobCancelled, time.Now(), id, JobPending, JobDownloading)
	if err != nil {
		return false, fmt.Errorf("failed to cancel job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to cancel job: %w", err)
	}
	return n > 0, nil
}

// UpdateJobProgress updates the transient progress fields of a running job
func (s *Store) UpdateJobProgress(id string, percent float64, speed, eta string) error {
	_, err := s.db.Exec(`
		UPDATE jobs SET progress = ?, speed = ?, eta = ? WHERE id = ?
	`, percent, speed, eta, id)
	if err != nil {
		return fmt.Errorf("failed to update job progress: %w", err)
	}
	return nil
}

// SetJobRelease records the release produced by a completed job
func (s *Store) SetJobRelease(id string, releaseID int64) error {
	_, err := s.db.Exec("UPDATE jobs SET release_id = ? WHERE id = ?", releaseID, id)
	if err != nil {
		return fmt.Errorf("failed to set job release: %w", err)
	}
	return nil
}

// SetJobReview records the review ticket produced by a gated job
func (s *Store) SetJobReview(id string, reviewID int64) error {
	_, err := s.db.Exec("UPDATE jobs SET review_id = ? WHERE id = ?", reviewID, id)
	if err != nil {
		return fmt.Errorf("failed to set job review: %w", err)
	}
	return nil
}

// IncrementJobAttempts bumps the attempt counter and returns the new value
func (s *Store) IncrementJobAttempts(id string) (int, error) {
	if _, err := s.db.Exec("UPDATE jobs SET attempts = attempts + 1 WHERE id = ?", id); err != nil {
		return 0, fmt.Errorf("failed to increment attempts: %w", err)
	}
	var attempts int
	if err := s.db.QueryRow("SELECT attempts FROM jobs WHERE id = ?", id).Scan(&attempts); err != nil {
		return 0, fmt.Errorf("failed to read attempts: %w", err)
	}
	return attempts, nil
}

// ClaimNextPending atomically takes the oldest pending job and marks it
// downloading. Returns nil when the queue is empty. Claiming inside one
// transaction is what keeps two workers off the same job.
func (s *Store) ClaimNextPending() (*Job, error) {
	var job *Job
	err := s.Transaction(func(tx *sql.Tx) error {
		j, err := scanJob(tx.QueryRow(
			"SELECT "+jobColumns+" FROM jobs WHERE status = ? ORDER BY created_at, id LIMIT 1", JobPending))
		if err == sql.ErrNoRows {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to select pending job: %w", err)
		}

		now := time.Now()
		if _, err := tx.Exec(
			"UPDATE jobs SET status = ?, started_at = ? WHERE id = ?",
			JobDownloading, now, j.ID); err != nil {
			return fmt.Errorf("failed to claim job: %w", err)
		}
		j.Status = JobDownloading
		j.StartedAt = &now
		job = j
		return nil
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// RequeueInFlight resets jobs stranded in a non-terminal running state back
// to pending. Called once at daemon startup; this is what makes delivery
// at-least-once across restarts.
func (s *Store) RequeueInFlight() (int, error) {
	result, err := s.db.Exec(`
		UPDATE jobs SET status = ?, progress = 0, speed = '', eta = ''
		WHERE status IN (?, ?)
	`, JobPending, JobDownloading, JobImporting)
	if err != nil {
		return 0, fmt.Errorf("failed to requeue in-flight jobs: %w", err)
	}
	n, _ := result.RowsAffected()
	return int(n), nil
}

// SweepTerminalJobs deletes terminal jobs older than the cutoff, returning
// the number removed. Active jobs are never deleted.
func (s *Store) SweepTerminalJobs(olderThan time.Time) (int, error) {
	result, err := s.db.Exec(`
		DELETE FROM jobs
		WHERE status IN (?, ?, ?, ?, ?) AND completed_at IS NOT NULL AND completed_at < ?
	`, JobComplete, JobDuplicate, JobPendingReview, JobFailed, JobCancelled, olderThan)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep jobs: %w", err)
	}
	n, _ := result.RowsAffected()
	return int(n), nil
}
