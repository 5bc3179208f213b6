package store

import (
	"database/sql"
	"fmt"
	"time"
)

// GetOrCreateArtistTx finds an artist by normalized name or creates it.
// Missing descriptive fields on an existing record are backfilled; fields
// already set are never overwritten.
func (s *Store) GetOrCreateArtistTx(tx *sql.Tx, a *Artist) (int64, error) {
	var id int64
	var sortName sql.NullString
	err := tx.QueryRow(`
		SELECT id, sort_name FROM artists WHERE norm_name = ?
	`, a.NormName).Scan(&id, &sortName)

	if err == sql.ErrNoRows {
		result, err := tx.Exec(`
			INSERT INTO artists (name, norm_name, sort_name) VALUES (?, ?, ?)
		`, a.Name, a.NormName, a.SortName)
		if err != nil {
			return 0, fmt.Errorf("failed to insert artist: %w", err)
		}
		return result.LastInsertId()
	}
	if err != nil {
		return 0, fmt.Errorf("failed to look up artist: %w", err)
	}

	// Backfill sort_name only when the existing row has none
	if !sortName.Valid || sortName.String == "" {
		if a.SortName != "" {
			if _, err := tx.Exec("UPDATE artists SET sort_name = ? WHERE id = ?", a.SortName, id); err != nil {
				return 0, fmt.Errorf("failed to backfill artist: %w", err)
			}
		}
	}

	return id, nil
}

// GetArtist retrieves an artist by id
func (s *Store) GetArtist(id int64) (*Artist, error) {
	a := &Artist{}
	err := s.db.QueryRow(`
		SELECT id, name, norm_name, COALESCE(sort_name, '')
		FROM artists WHERE id = ?
	`, id).Scan(&a.ID, &a.Name, &a.NormName, &a.SortName)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get artist: %w", err)
	}
	return a, nil
}

// GetArtistByNormName retrieves an artist by its normalized name
func (s *Store) GetArtistByNormName(normName string) (*Artist, error) {
	a := &Artist{}
	err := s.db.QueryRow(`
		SELECT id, name, norm_name, COALESCE(sort_name, '')
		FROM artists WHERE norm_name = ?
	`, normName).Scan(&a.ID, &a.Name, &a.NormName, &a.SortName)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get artist: %w", err)
	}
	return a, nil
}

const releaseColumns = `
	id, artist_id, title, norm_title, year, COALESCE(source, ''),
	COALESCE(source_url, ''), compilation, verified, created_at, updated_at
`

func scanRelease(row interface{ Scan(...any) error }) (*Release, error) {
	r := &Release{}
	err := row.Scan(
		&r.ID, &r.ArtistID, &r.Title, &r.NormTitle, &r.Year, &r.Source,
		&r.SourceURL, &r.Compilation, &r.Verified, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return r, nil
}

// InsertReleaseTx creates a release row. A UNIQUE violation on
// (artist_id, norm_title) surfaces unchanged so the caller can resolve the
// cross-worker race by re-querying.
func (s *Store) InsertReleaseTx(tx *sql.Tx, r *Release) (int64, error) {
	result, err := tx.Exec(`
		INSERT INTO releases (artist_id, title, norm_title, year, source, source_url, compilation, verified)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, r.ArtistID, r.Title, r.NormTitle, r.Year, r.Source, r.SourceURL, r.Compilation, r.Verified)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

// TouchReleaseTx refreshes a release row in place when a higher-quality
// replacement supersedes its tracks
func (s *Store) TouchReleaseTx(tx *sql.Tx, r *Release) error {
	_, err := tx.Exec(`
		UPDATE releases SET year = ?, source = ?, source_url = ?, compilation = ?, verified = ?,
			updated_at = ?
		WHERE id = ?
	`, r.Year, r.Source, r.SourceURL, r.Compilation, r.Verified, time.Now(), r.ID)
	if err != nil {
		return fmt.Errorf("failed to update release: %w", err)
	}
	return nil
}

// GetRelease retrieves a release by id
func (s *Store) GetRelease(id int64) (*Release, error) {
	r, err := scanRelease(s.db.QueryRow(
		"SELECT "+releaseColumns+" FROM releases WHERE id = ?", id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get release: %w", err)
	}
	return r, nil
}

// GetReleaseByKeys retrieves a release by normalized artist and title keys
func (s *Store) GetReleaseByKeys(normArtist, normTitle string) (*Release, error) {
	r, err := scanRelease(s.db.QueryRow(`
		SELECT `+releaseColumns+` FROM releases
		WHERE norm_title = ? AND artist_id = (SELECT id FROM artists WHERE norm_name = ?)
	`, normTitle, normArtist))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get release by keys: %w", err)
	}
	return r, nil
}

// GetAllReleases retrieves every committed release, newest first
func (s *Store) GetAllReleases() ([]*Release, error) {
	rows, err := s.db.Query(
		"SELECT " + releaseColumns + " FROM releases ORDER BY created_at DESC, id")
	if err != nil {
		return nil, fmt.Errorf("failed to query releases: %w", err)
	}
	defer rows.Close()

	var releases []*Release
	for rows.Next() {
		r, err := scanRelease(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan release: %w", err)
		}
		releases = append(releases, r)
	}
	return releases, rows.Err()
}

// InsertTrackTx creates a track row within a release
func (s *Store) InsertTrackTx(tx *sql.Tx, t *Track) (int64, error) {
	result, err := tx.Exec(`
		INSERT INTO tracks (release_id, disc, track_number, title, duration_ms,
			sample_rate, bit_depth, bitrate_kbps, lossy, size_bytes,
			checksum, quality_label, path, isrc, composer)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.ReleaseID, t.Disc, t.TrackNumber, t.Title, t.DurationMs,
		t.SampleRate, t.BitDepth, t.BitrateKbps, t.Lossy, t.SizeBytes,
		t.Checksum, t.QualityLabel, t.Path, t.ISRC, t.Composer)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

// GetReleaseTracks retrieves the ordered tracks of a release
func (s *Store) GetReleaseTracks(releaseID int64) ([]*Track, error) {
	rows, err := s.db.Query(`
		SELECT id, release_id, disc, track_number, COALESCE(title, ''),
		       duration_ms, sample_rate, bit_depth, bitrate_kbps, lossy,
		       size_bytes, COALESCE(checksum, ''), COALESCE(quality_label, ''),
		       COALESCE(path, ''), COALESCE(isrc, ''), COALESCE(composer, '')
		FROM tracks WHERE release_id = ?
		ORDER BY disc, track_number, id
	`, releaseID)
	if err != nil {
		return nil, fmt.Errorf("failed to query tracks: %w", err)
	}
	defer rows.Close()

	var tracks []*Track
	for rows.Next() {
		t := &Track{}
		err := rows.Scan(
			&t.ID, &t.ReleaseID, &t.Disc, &t.TrackNumber, &t.Title,
			&t.DurationMs, &t.SampleRate, &t.BitDepth, &t.BitrateKbps, &t.Lossy,
			&t.SizeBytes, &t.Checksum, &t.QualityLabel,
			&t.Path, &t.ISRC, &t.Composer,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan track: %w", err)
		}
		tracks = append(tracks, t)
	}
	return tracks, rows.Err()
}

// DeleteReleaseTracksTx removes all tracks of a release, used when a
// higher-quality replacement supersedes them
func (s *Store) DeleteReleaseTracksTx(tx *sql.Tx, releaseID int64) error {
	if _, err := tx.Exec("DELETE FROM tracks WHERE release_id = ?", releaseID); err != nil {
		return fmt.Errorf("failed to delete tracks: %w", err)
	}
	return nil
}

// FindReleaseByTrackChecksum looks up a committed release owning a track
// with the given content checksum
func (s *Store) FindReleaseByTrackChecksum(checksum string) (int64, bool, error) {
	var releaseID int64
	err := s.db.QueryRow(
		"SELECT release_id FROM tracks WHERE checksum = ? LIMIT 1", checksum).Scan(&releaseID)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to look up checksum: %w", err)
	}
	return releaseID, true, nil
}
