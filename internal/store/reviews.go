package store

import (
	"database/sql"
	"fmt"
	"time"
)

// Review ticket statuses
const (
	ReviewPending  = "pending"
	ReviewApproved = "approved"
	ReviewRejected = "rejected"
	ReviewManual   = "manual"
	ReviewFailed   = "failed"
)

// InsertReviewTicket creates a new review ticket and returns its id
func (s *Store) InsertReviewTicket(t *ReviewTicket) (int64, error) {
	result, err := s.db.Exec(`
		INSERT INTO review_tickets (location, artist, album, year, confidence,
			quality_json, status, note, source, source_url)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.Location, t.Artist, t.Album, t.Year, t.Confidence,
		t.QualityJSON, t.Status, t.Note, t.Source, t.SourceURL)
	if err != nil {
		return 0, fmt.Errorf("failed to insert review ticket: %w", err)
	}
	return result.LastInsertId()
}

const reviewColumns = `
	id, location, COALESCE(artist, ''), COALESCE(album, ''), year, confidence,
	COALESCE(quality_json, ''), status, COALESCE(note, ''),
	COALESCE(source, ''), COALESCE(source_url, ''), created_at, resolved_at
`

func scanReviewTicket(row interface{ Scan(...any) error }) (*ReviewTicket, error) {
	t := &ReviewTicket{}
	var resolved sql.NullTime
	err := row.Scan(
		&t.ID, &t.Location, &t.Artist, &t.Album, &t.Year, &t.Confidence,
		&t.QualityJSON, &t.Status, &t.Note,
		&t.Source, &t.SourceURL, &t.CreatedAt, &resolved,
	)
	if err != nil {
		return nil, err
	}
	if resolved.Valid {
		t.ResolvedAt = &resolved.Time
	}
	return t, nil
}

// GetReviewTicket retrieves a ticket by id
func (s *Store) GetReviewTicket(id int64) (*ReviewTicket, error) {
	t, err := scanReviewTicket(s.db.QueryRow(
		"SELECT "+reviewColumns+" FROM review_tickets WHERE id = ?", id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get review ticket: %w", err)
	}
	return t, nil
}

// GetReviewTicketsByStatus retrieves tickets with a given status, oldest first
func (s *Store) GetReviewTicketsByStatus(status string) ([]*ReviewTicket, error) {
	rows, err := s.db.Query(
		"SELECT "+reviewColumns+" FROM review_tickets WHERE status = ? ORDER BY created_at, id", status)
	if err != nil {
		return nil, fmt.Errorf("failed to query review tickets: %w", err)
	}
	defer rows.Close()

	var tickets []*ReviewTicket
	for rows.Next() {
		t, err := scanReviewTicket(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan review ticket: %w", err)
		}
		tickets = append(tickets, t)
	}
	return tickets, rows.Err()
}

// GetAllReviewTickets retrieves every ticket, newest first
func (s *Store) GetAllReviewTickets() ([]*ReviewTicket, error) {
	rows, err := s.db.Query(
		"SELECT " + reviewColumns + " FROM review_tickets ORDER BY created_at DESC, id DESC")
	if err != nil {
		return nil, fmt.Errorf("failed to query review tickets: %w", err)
	}
	defer rows.Close()

	var tickets []*ReviewTicket
	for rows.Next() {
		t, err := scanReviewTicket(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan review ticket: %w", err)
		}
		tickets = append(tickets, t)
	}
	return tickets, rows.Err()
}

// UpdateReviewTicketStatus transitions a ticket and stamps its resolution time
func (s *Store) UpdateReviewTicketStatus(id int64, status, note string) error {
	_, err := s.db.Exec(`
		UPDATE review_tickets SET status = ?, note = ?, resolved_at = ? WHERE id = ?
	`, status, note, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to update review ticket: %w", err)
	}
	return nil
}
