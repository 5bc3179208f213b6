package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

const (
	currentSchemaVersion = 2
)

// Store represents the library's database of record
type Store struct {
	db *sql.DB
}

// Open opens or creates a SQLite database at the given path
func Open(path string) (*Store, error) {
	// Open with pragmas for performance and reliability
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_timeout=5000&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite works best with a single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	store := &Store{db: db}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	// Run migrations
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}

	return store, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying database connection for custom queries
func (s *Store) DB() *sql.DB {
	return s.db
}

// CheckIntegrity runs PRAGMA integrity_check on the database
func (s *Store) CheckIntegrity() error {
	var result string
	err := s.db.QueryRow("PRAGMA integrity_check").Scan(&result)
	if err != nil {
		return fmt.Errorf("integrity check query failed: %w", err)
	}

	if result != "ok" {
		return fmt.Errorf("integrity check failed: %s", result)
	}

	return nil
}

// SQLiteVersion returns the version of the embedded SQLite engine
func SQLiteVersion() string {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return ""
	}
	defer db.Close()

	var version string
	if err := db.QueryRow("SELECT sqlite_version()").Scan(&version); err != nil {
		return ""
	}
	return version
}

// CountReleases returns the number of committed releases
func (s *Store) CountReleases() (int, error) {
	var n int
	err := s.db.QueryRow("SELECT COUNT(*) FROM releases").Scan(&n)
	return n, err
}

// CountJobsByStatus returns the number of jobs in a given state
func (s *Store) CountJobsByStatus(status string) (int, error) {
	var n int
	err := s.db.QueryRow("SELECT COUNT(*) FROM jobs WHERE status = ?", status).Scan(&n)
	return n, err
}

// IsConstraintViolation reports whether an error represents a SQLite
// uniqueness constraint failure. Two workers racing to commit the same
// release rely on this to fall back to re-querying for the winner's row.
func IsConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "constraint failed")
}

// migrate applies database migrations
func (s *Store) migrate() error {
	version, err := s.getSchemaVersion()
	if err != nil {
		return err
	}

	if version >= currentSchemaVersion {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Apply schema v1 - core entities
	if version < 1 {
		if _, err := tx.Exec(schemaV1); err != nil {
			return fmt.Errorf("failed to apply schema v1: %w", err)
		}
		if err := s.setSchemaVersion(tx, 1); err != nil {
			return fmt.Errorf("failed to set schema version: %w", err)
		}
	}

	// Apply schema v2 - lookup indexes for the duplicate detector
	if version < 2 {
		if _, err := tx.Exec(schemaV2); err != nil {
			return fmt.Errorf("failed to apply schema v2: %w", err)
		}
		if err := s.setSchemaVersion(tx, 2); err != nil {
			return fmt.Errorf("failed to set schema version: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration: %w", err)
	}

	return nil
}

// getSchemaVersion returns the current schema version
func (s *Store) getSchemaVersion() (int, error) {
	var exists int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM sqlite_master
		WHERE type='table' AND name='schema_version'
	`).Scan(&exists)
	if err != nil {
		return 0, err
	}

	if exists == 0 {
		return 0, nil
	}

	var version int
	err = s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version)
	if err != nil {
		return 0, err
	}

	return version, nil
}

// setSchemaVersion records a schema version in a transaction
func (s *Store) setSchemaVersion(tx *sql.Tx, version int) error {
	_, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version)
	return err
}

// Transaction executes a function within a transaction
func (s *Store) Transaction(fn func(*sql.Tx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// Job represents one acquisition request and its lifecycle state.
// Owned exclusively by the job controller; mutated only through its
// state-machine transitions.
type Job struct {
	ID          string
	Source      string
	Locator     string
	QualityTier string
	Status      string
	Progress    float64
	Speed       string
	ETA         string
	Error       string
	ReleaseID   int64 // 0 when unset
	ReviewID    int64 // 0 when unset
	Attempts    int
	SingleTrack bool
	Requester   string
	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// Artist represents the container record releases are grouped under,
// keyed by normalized name
type Artist struct {
	ID       int64
	Name     string
	NormName string
	SortName string
}

// Release represents a committed, deduplicated album-equivalent record
type Release struct {
	ID          int64
	ArtistID    int64
	Title       string
	NormTitle   string
	Year        int
	Source      string
	SourceURL   string
	Compilation bool
	Verified    bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Track represents one ordered audio file within a release
type Track struct {
	ID           int64
	ReleaseID    int64
	Disc         int
	TrackNumber  int
	Title        string
	DurationMs   int
	SampleRate   int
	BitDepth     int
	BitrateKbps  int
	Lossy        bool
	SizeBytes    int64
	Checksum     string
	QualityLabel string
	Path         string
	ISRC         string
	Composer     string
}

// Fingerprint is a durable index entry enabling fast duplicate lookup.
// Rows are never updated, only superseded when a release is replaced.
type Fingerprint struct {
	ID           int64
	NormArtist   string
	NormTitle    string
	NormTrack    string
	Source       string
	QualityScore int
	Checksum     string
	ReleaseID    int64
	TrackID      int64
	CreatedAt    time.Time
}

// ReviewTicket is a deferred-decision record for a release candidate that
// failed automatic validation or confidence gating
type ReviewTicket struct {
	ID          int64
	Location    string
	Artist      string
	Album       string
	Year        int
	Confidence  float64
	QualityJSON string
	Status      string
	Note        string
	Source      string
	SourceURL   string
	CreatedAt   time.Time
	ResolvedAt  *time.Time
}
