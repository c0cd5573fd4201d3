// Package history provides durable chat history storage: a common
// store contract, SQLite and Redis backends, session bookkeeping, and
// the archiver that offloads oversized tool output out of the live
// conversation.
package history

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"time"
)

// Record is one stored history message. MsgID is the hex MD5 of the
// content, so identical content always lands on the same row.
type Record struct {
	MsgID       string
	Content     string
	MsgSize     int
	CreateTime  time.Time
	AccessTime  time.Time
	AccessCount int
}

// Store is the chat history contract. Implementations must make
// AddMessage idempotent per message ID while still attaching the
// message to the given session on every call.
type Store interface {
	// AddMessage persists content under its content hash and maps it
	// into sessionID. Returns the message ID.
	AddMessage(ctx context.Context, sessionID, content string) (string, error)

	// GetMessage fetches a message and records the access (bumps
	// access_time and access_count).
	GetMessage(ctx context.Context, msgID string) (*Record, error)

	// GetMessagesBySession returns the session's messages newest-first.
	GetMessagesBySession(ctx context.Context, sessionID string) ([]Record, error)

	// DelMessages deletes by message ID or by session ID. Exactly one
	// of the two must be set. Session deletion removes the mappings
	// and any messages no other session still references.
	DelMessages(ctx context.Context, msgID, sessionID string) error

	// CleanMessages deletes messages not accessed within the last
	// `before` duration and returns how many were removed.
	CleanMessages(ctx context.Context, before time.Duration) (int, error)

	Close() error
}

// ErrNotFound is returned by GetMessage for unknown message IDs.
var ErrNotFound = errors.New("history: message not found")

// ErrBadSelector is returned by DelMessages unless exactly one of
// msgID and sessionID is set.
var ErrBadSelector = errors.New("history: exactly one of msg_id and session_id required")

// MsgID derives the content-addressed message ID: lowercase hex MD5.
func MsgID(content string) string {
	sum := md5.Sum([]byte(content))
	return hex.EncodeToString(sum[:])
}
