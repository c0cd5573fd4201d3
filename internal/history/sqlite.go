package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLStore is a Store backed by database/sql. All public methods are
// safe for concurrent use (SQLite serializes writes).
type SQLStore struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) a SQLite history database at path with
// WAL and a busy timeout, and migrates the schema.
func OpenSQLite(path string) (*SQLStore, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}
	s, err := NewSQLStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLStore wraps an already-open database and migrates the schema.
// The caller keeps ownership of db unless Close is used.
func NewSQLStore(db *sql.DB) (*SQLStore, error) {
	s := &SQLStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate history schema: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle so sibling stores (sessions, usage)
// can share one database file.
func (s *SQLStore) DB() *sql.DB {
	return s.db
}

func (s *SQLStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS chat_history_messages (
		msg_id       TEXT PRIMARY KEY,
		content      TEXT NOT NULL,
		msg_size     INTEGER NOT NULL,
		create_time  TEXT NOT NULL,
		access_time  TEXT NOT NULL,
		access_count INTEGER NOT NULL DEFAULT 0
	);
	CREATE TABLE IF NOT EXISTS map_session_message (
		session_id  TEXT NOT NULL,
		msg_id      TEXT NOT NULL,
		create_time TEXT NOT NULL,
		PRIMARY KEY (session_id, msg_id)
	);
	CREATE INDEX IF NOT EXISTS idx_map_msg ON map_session_message(msg_id);
	CREATE INDEX IF NOT EXISTS idx_msg_access ON chat_history_messages(access_time);
	`
	_, err := s.db.Exec(schema)
	return err
}

// AddMessage inserts content under its content hash. Re-adding the
// same content is a no-op on the message row, but the session mapping
// is ensured on every call.
func (s *SQLStore) AddMessage(ctx context.Context, sessionID, content string) (string, error) {
	id := MsgID(content)
	now := time.Now().UTC().Format(time.RFC3339Nano)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin add message: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO chat_history_messages
			(msg_id, content, msg_size, create_time, access_time, access_count)
		 VALUES (?, ?, ?, ?, ?, 0)`,
		id, content, len(content), now, now)
	if err != nil {
		return "", fmt.Errorf("insert message: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO map_session_message (session_id, msg_id, create_time)
		 VALUES (?, ?, ?)`,
		sessionID, id, now)
	if err != nil {
		return "", fmt.Errorf("insert session mapping: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit add message: %w", err)
	}
	return id, nil
}

// GetMessage fetches one message and records the access.
func (s *SQLStore) GetMessage(ctx context.Context, msgID string) (*Record, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(ctx,
		`UPDATE chat_history_messages
		 SET access_time = ?, access_count = access_count + 1
		 WHERE msg_id = ?`, now, msgID)
	if err != nil {
		return nil, fmt.Errorf("touch message: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, ErrNotFound
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT msg_id, content, msg_size, create_time, access_time, access_count
		 FROM chat_history_messages WHERE msg_id = ?`, msgID)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rec, err
}

// GetMessagesBySession returns the session's messages newest-first by
// mapping time.
func (s *SQLStore) GetMessagesBySession(ctx context.Context, sessionID string) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT m.msg_id, m.content, m.msg_size, m.create_time, m.access_time, m.access_count
		 FROM chat_history_messages m
		 JOIN map_session_message sm ON sm.msg_id = m.msg_id
		 WHERE sm.session_id = ?
		 ORDER BY sm.create_time DESC, m.msg_id DESC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query session messages: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

// DelMessages deletes by message ID or session ID (exactly one).
// Session deletion removes mappings first, then any messages left
// with no mapping at all.
func (s *SQLStore) DelMessages(ctx context.Context, msgID, sessionID string) error {
	if (msgID == "") == (sessionID == "") {
		return ErrBadSelector
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete: %w", err)
	}
	defer tx.Rollback()

	if msgID != "" {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM map_session_message WHERE msg_id = ?`, msgID); err != nil {
			return fmt.Errorf("delete mappings: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM chat_history_messages WHERE msg_id = ?`, msgID); err != nil {
			return fmt.Errorf("delete message: %w", err)
		}
	} else {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM map_session_message WHERE session_id = ?`, sessionID); err != nil {
			return fmt.Errorf("delete session mappings: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM chat_history_messages
			 WHERE msg_id NOT IN (SELECT msg_id FROM map_session_message)`); err != nil {
			return fmt.Errorf("delete orphaned messages: %w", err)
		}
	}

	return tx.Commit()
}

// CleanMessages removes messages not accessed within `before` and
// their mappings. Returns the number of messages removed.
func (s *SQLStore) CleanMessages(ctx context.Context, before time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-before).Format(time.RFC3339Nano)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin clean: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM map_session_message WHERE msg_id IN
			(SELECT msg_id FROM chat_history_messages WHERE access_time < ?)`,
		cutoff); err != nil {
		return 0, fmt.Errorf("clean mappings: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		`DELETE FROM chat_history_messages WHERE access_time < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("clean messages: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("count cleaned: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return int(n), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var rec Record
	var createStr, accessStr string
	if err := row.Scan(&rec.MsgID, &rec.Content, &rec.MsgSize,
		&createStr, &accessStr, &rec.AccessCount); err != nil {
		return nil, err
	}
	var err error
	if rec.CreateTime, err = time.Parse(time.RFC3339Nano, createStr); err != nil {
		return nil, fmt.Errorf("parse create_time: %w", err)
	}
	if rec.AccessTime, err = time.Parse(time.RFC3339Nano, accessStr); err != nil {
		return nil, fmt.Errorf("parse access_time: %w", err)
	}
	return &rec, nil
}
