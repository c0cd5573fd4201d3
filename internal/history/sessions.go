package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Session is one conversation's bookkeeping row.
type Session struct {
	ID         string
	Task       string
	CreateTime time.Time
}

// Sessions tracks conversation sessions. It shares a database with
// SQLStore so one file holds a session and its messages.
type Sessions struct {
	db *sql.DB
}

// NewSessions wraps an open database and migrates the schema.
func NewSessions(db *sql.DB) (*Sessions, error) {
	s := &Sessions{db: db}
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		session_id  TEXT PRIMARY KEY,
		task        TEXT NOT NULL,
		create_time TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_create ON sessions(create_time);
	`
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("migrate sessions schema: %w", err)
	}
	return s, nil
}

// Create registers a new session for task and returns its ID (UUIDv7,
// so session IDs sort by creation time).
func (s *Sessions) Create(ctx context.Context, task string) (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate session ID: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions (session_id, task, create_time) VALUES (?, ?, ?)`,
		id.String(), task, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return "", fmt.Errorf("insert session: %w", err)
	}
	return id.String(), nil
}

// Exists reports whether a session ID is known.
func (s *Sessions) Exists(ctx context.Context, id string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM sessions WHERE session_id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check session: %w", err)
	}
	return true, nil
}

// Get returns one session.
func (s *Sessions) Get(ctx context.Context, id string) (*Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT session_id, task, create_time FROM sessions WHERE session_id = ?`, id)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return sess, err
}

// Recent returns up to limit sessions, newest first.
func (s *Sessions) Recent(ctx context.Context, limit int) ([]Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, task, create_time FROM sessions
		 ORDER BY create_time DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *sess)
	}
	return out, rows.Err()
}

func scanSession(row rowScanner) (*Session, error) {
	var sess Session
	var createStr string
	if err := row.Scan(&sess.ID, &sess.Task, &createStr); err != nil {
		return nil, err
	}
	var err error
	if sess.CreateTime, err = time.Parse(time.RFC3339Nano, createStr); err != nil {
		return nil, fmt.Errorf("parse session create_time: %w", err)
	}
	return &sess, nil
}
