package store

// Schema v1 - Core entities for the acquisition and import pipeline
const schemaV1 = `
-- Schema version tracking
CREATE TABLE IF NOT EXISTS schema_version (
  version INTEGER PRIMARY KEY,
  applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

-- Acquisition jobs, one per requested download
CREATE TABLE IF NOT EXISTS jobs (
  id TEXT PRIMARY KEY,
  source TEXT NOT NULL,
  locator TEXT NOT NULL,
  quality_tier TEXT,
  status TEXT NOT NULL DEFAULT 'pending',
  progress REAL DEFAULT 0,
  speed TEXT,
  eta TEXT,
  error TEXT,
  release_id INTEGER,
  review_id INTEGER,
  attempts INTEGER DEFAULT 0,
  single_track INTEGER DEFAULT 0,
  requester TEXT,
  created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
  started_at DATETIME,
  completed_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);

-- Artist-equivalent container records, keyed by normalized name
CREATE TABLE IF NOT EXISTS artists (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  name TEXT NOT NULL,
  norm_name TEXT UNIQUE NOT NULL,
  sort_name TEXT
);

-- Committed releases; (artist_id, norm_title) is the authoritative
-- uniqueness tie-breaker for racing imports
CREATE TABLE IF NOT EXISTS releases (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  artist_id INTEGER NOT NULL REFERENCES artists(id),
  title TEXT NOT NULL,
  norm_title TEXT NOT NULL,
  year INTEGER DEFAULT 0,
  source TEXT,
  source_url TEXT,
  compilation INTEGER DEFAULT 0,
  verified INTEGER DEFAULT 0,
  created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
  updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
  UNIQUE(artist_id, norm_title)
);

-- Ordered tracks within a release
CREATE TABLE IF NOT EXISTS tracks (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  release_id INTEGER NOT NULL REFERENCES releases(id) ON DELETE CASCADE,
  disc INTEGER DEFAULT 1,
  track_number INTEGER DEFAULT 0,
  title TEXT,
  duration_ms INTEGER DEFAULT 0,
  sample_rate INTEGER DEFAULT 0,
  bit_depth INTEGER DEFAULT 0,
  bitrate_kbps INTEGER DEFAULT 0,
  lossy INTEGER DEFAULT 0,
  size_bytes INTEGER DEFAULT 0,
  checksum TEXT,
  quality_label TEXT,
  path TEXT,
  isrc TEXT,
  composer TEXT,
  UNIQUE(release_id, disc, track_number)
);

-- Durable duplicate-lookup index, one row per imported track
CREATE TABLE IF NOT EXISTS fingerprints (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  norm_artist TEXT NOT NULL,
  norm_title TEXT NOT NULL,
  norm_track TEXT,
  source TEXT,
  quality_score INTEGER DEFAULT 0,
  checksum TEXT NOT NULL,
  release_id INTEGER NOT NULL,
  track_id INTEGER NOT NULL,
  created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

-- Review tickets for candidates that failed validation or confidence gating
CREATE TABLE IF NOT EXISTS review_tickets (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  location TEXT NOT NULL,
  artist TEXT,
  album TEXT,
  year INTEGER DEFAULT 0,
  confidence REAL DEFAULT 0,
  quality_json TEXT,
  status TEXT NOT NULL DEFAULT 'pending',
  note TEXT,
  source TEXT,
  source_url TEXT,
  created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
  resolved_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_review_tickets_status ON review_tickets(status);
`

// Schema v2 - Lookup indexes for the duplicate detector hot paths
const schemaV2 = `
CREATE INDEX IF NOT EXISTS idx_tracks_checksum ON tracks(checksum);
CREATE INDEX IF NOT EXISTS idx_fingerprints_checksum ON fingerprints(checksum);
CREATE INDEX IF NOT EXISTS idx_fingerprints_name ON fingerprints(norm_artist, norm_title);
CREATE INDEX IF NOT EXISTS idx_releases_norm_title ON releases(norm_title);
CREATE INDEX IF NOT EXISTS idx_jobs_status_created ON jobs(status, created_at);
`
