package store

import (
	"database/sql"
	"fmt"
)

// InsertFingerprintTx creates one fingerprint row for an imported track
func (s *Store) InsertFingerprintTx(tx *sql.Tx, fp *Fingerprint) error {
	_, err := tx.Exec(`
		INSERT INTO fingerprints (norm_artist, norm_title, norm_track, source,
			quality_score, checksum, release_id, track_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, fp.NormArtist, fp.NormTitle, fp.NormTrack, fp.Source,
		fp.QualityScore, fp.Checksum, fp.ReleaseID, fp.TrackID)
	if err != nil {
		return fmt.Errorf("failed to insert fingerprint: %w", err)
	}
	return nil
}

// DeleteReleaseFingerprintsTx removes the fingerprint rows of a release,
// superseding them ahead of a replacement's new rows
func (s *Store) DeleteReleaseFingerprintsTx(tx *sql.Tx, releaseID int64) error {
	if _, err := tx.Exec("DELETE FROM fingerprints WHERE release_id = ?", releaseID); err != nil {
		return fmt.Errorf("failed to delete fingerprints: %w", err)
	}
	return nil
}

// FindFingerprintByChecksum looks up a fingerprint row by content checksum
func (s *Store) FindFingerprintByChecksum(checksum string) (*Fingerprint, error) {
	return s.scanFingerprint(s.db.QueryRow(`
		SELECT id, norm_artist, norm_title, COALESCE(norm_track, ''),
		       COALESCE(source, ''), quality_score, checksum, release_id, track_id, created_at
		FROM fingerprints WHERE checksum = ? LIMIT 1
	`, checksum))
}

// FindFingerprintByName looks up the fingerprints recorded under
// normalized artist/title keys. Rows from older generations of the same
// release may linger, so only the most recently recorded release counts,
// and it is graded by its weakest track the same way live releases are.
func (s *Store) FindFingerprintByName(normArtist, normTitle string) (*Fingerprint, error) {
	return s.scanFingerprint(s.db.QueryRow(`
		SELECT id, norm_artist, norm_title, COALESCE(norm_track, ''),
		       COALESCE(source, ''), quality_score, checksum, release_id, track_id, created_at
		FROM fingerprints
		WHERE norm_artist = ? AND norm_title = ?
		  AND release_id = (
			SELECT release_id FROM fingerprints
			WHERE norm_artist = ? AND norm_title = ?
			ORDER BY id DESC LIMIT 1
		  )
		ORDER BY quality_score ASC, id ASC LIMIT 1
	`, normArtist, normTitle, normArtist, normTitle))
}

func (s *Store) scanFingerprint(row *sql.Row) (*Fingerprint, error) {
	fp := &Fingerprint{}
	err := row.Scan(
		&fp.ID, &fp.NormArtist, &fp.NormTitle, &fp.NormTrack,
		&fp.Source, &fp.QualityScore, &fp.Checksum, &fp.ReleaseID, &fp.TrackID, &fp.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan fingerprint: %w", err)
	}
	return fp, nil
}
