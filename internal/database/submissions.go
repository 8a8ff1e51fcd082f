package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Submission is one ticket created from this machine
type Submission struct {
	ID            int64     `json:"id"`
	TicketID      int64     `json:"ticket_id"`
	ServerURL     string    `json:"server_url"`
	ServiceHash   string    `json:"service_hash"`
	WorkspacePath string    `json:"workspace_path"`
	SubmittedAt   time.Time `json:"submitted_at"`
}

// SubmissionStore records submitted tickets
type SubmissionStore struct {
	db *sql.DB
}

// NewSubmissionStore uses db, or the initialized database when db is nil
func NewSubmissionStore(db *sql.DB) *SubmissionStore {
	return &SubmissionStore{db: db}
}

func (s *SubmissionStore) conn() (*sql.DB, error) {
	if s.db != nil {
		return s.db, nil
	}
	if db := GetDB(); db != nil {
		return db, nil
	}
	return nil, ErrNotInitialized
}

// RecordSubmission stores a newly created ticket
func (s *SubmissionStore) RecordSubmission(ctx context.Context, serverURL, serviceHash, workspacePath string, ticketID int64) error {
	conn, err := s.conn()
	if err != nil {
		return err
	}
	_, err = conn.ExecContext(ctx, `
		INSERT INTO submissions (ticket_id, server_url, service_hash, workspace_path, submitted_at)
		VALUES (?, ?, ?, ?, ?)
	`, ticketID, serverURL, serviceHash, workspacePath, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to record submission: %w", err)
	}
	return nil
}

// List returns the most recent submissions first. An empty serverURL
// matches every server; limit <= 0 means no limit.
func (s *SubmissionStore) List(ctx context.Context, serverURL string, limit int) ([]Submission, error) {
	conn, err := s.conn()
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = -1
	}

	rows, err := conn.QueryContext(ctx, `
		SELECT id, ticket_id, server_url, service_hash, workspace_path, submitted_at
		FROM submissions
		WHERE ? = '' OR server_url = ?
		ORDER BY submitted_at DESC, id DESC
		LIMIT ?
	`, serverURL, serverURL, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query submissions: %w", err)
	}
	defer rows.Close() //nolint:errcheck // Read-only query

	var out []Submission
	for rows.Next() {
		var sub Submission
		if err := rows.Scan(&sub.ID, &sub.TicketID, &sub.ServerURL, &sub.ServiceHash, &sub.WorkspacePath, &sub.SubmittedAt); err != nil {
			return nil, fmt.Errorf("failed to scan submission: %w", err)
		}
		out = append(out, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating submissions: %w", err)
	}
	return out, nil
}

// Forget removes the history of a ticket deleted on serverURL
func (s *SubmissionStore) Forget(ctx context.Context, serverURL string, ticketID int64) error {
	conn, err := s.conn()
	if err != nil {
		return err
	}
	if _, err := conn.ExecContext(ctx, `DELETE FROM submissions WHERE server_url = ? AND ticket_id = ?`, serverURL, ticketID); err != nil {
		return fmt.Errorf("failed to forget ticket %d: %w", ticketID, err)
	}
	return nil
}
