package history

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

func testStore(t *testing.T) *SQLStore {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	// One connection so every query sees the same in-memory database.
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	s, err := NewSQLStore(db)
	if err != nil {
		t.Fatalf("NewSQLStore: %v", err)
	}
	return s
}

func TestMsgIDIsContentHash(t *testing.T) {
	if got := MsgID("hello"); got != "5d41402abc4b2a76b9719d911017c592" {
		t.Errorf("MsgID(hello) = %q", got)
	}
	if !regexp.MustCompile(`^[0-9a-f]{32}$`).MatchString(MsgID("anything")) {
		t.Error("MsgID is not 32 hex chars")
	}
}

func TestAddMessageIdempotent(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)

	id1, err := s.AddMessage(ctx, "sess-a", "same content")
	if err != nil {
		t.Fatalf("AddMessage: %v", err)
	}
	id2, err := s.AddMessage(ctx, "sess-a", "same content")
	if err != nil {
		t.Fatalf("AddMessage again: %v", err)
	}
	if id1 != id2 {
		t.Errorf("ids differ: %q vs %q", id1, id2)
	}

	recs, err := s.GetMessagesBySession(ctx, "sess-a")
	if err != nil {
		t.Fatalf("GetMessagesBySession: %v", err)
	}
	if len(recs) != 1 {
		t.Errorf("got %d records, want 1", len(recs))
	}
}

func TestAddMessageMapsEverySession(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)

	if _, err := s.AddMessage(ctx, "sess-a", "shared"); err != nil {
		t.Fatalf("AddMessage: %v", err)
	}
	// Re-adding identical content under another session must still
	// create that session's mapping.
	if _, err := s.AddMessage(ctx, "sess-b", "shared"); err != nil {
		t.Fatalf("AddMessage: %v", err)
	}

	for _, sess := range []string{"sess-a", "sess-b"} {
		recs, err := s.GetMessagesBySession(ctx, sess)
		if err != nil {
			t.Fatalf("GetMessagesBySession(%s): %v", sess, err)
		}
		if len(recs) != 1 {
			t.Errorf("session %s has %d records, want 1", sess, len(recs))
		}
	}
}

func TestGetMessageAccessTracking(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)

	id, _ := s.AddMessage(ctx, "sess", "tracked")
	rec, err := s.GetMessage(ctx, id)
	if err != nil {
		t.Fatalf("GetMessage: %v", err)
	}
	if rec.AccessCount != 1 {
		t.Errorf("access count = %d, want 1", rec.AccessCount)
	}
	if rec.Content != "tracked" || rec.MsgSize != len("tracked") {
		t.Errorf("record = %+v", rec)
	}

	rec, err = s.GetMessage(ctx, id)
	if err != nil {
		t.Fatalf("GetMessage again: %v", err)
	}
	if rec.AccessCount != 2 {
		t.Errorf("access count = %d, want 2", rec.AccessCount)
	}
}

func TestGetMessageNotFound(t *testing.T) {
	s := testStore(t)
	if _, err := s.GetMessage(context.Background(), "deadbeef"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestGetMessagesBySessionNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)

	for _, content := range []string{"first", "second", "third"} {
		if _, err := s.AddMessage(ctx, "sess", content); err != nil {
			t.Fatalf("AddMessage(%s): %v", content, err)
		}
		time.Sleep(2 * time.Millisecond)
	}

	recs, err := s.GetMessagesBySession(ctx, "sess")
	if err != nil {
		t.Fatalf("GetMessagesBySession: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("got %d records, want 3", len(recs))
	}
	if recs[0].Content != "third" || recs[2].Content != "first" {
		t.Errorf("order = [%s %s %s], want newest first",
			recs[0].Content, recs[1].Content, recs[2].Content)
	}
}

func TestDelMessagesSelector(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)

	if err := s.DelMessages(ctx, "", ""); !errors.Is(err, ErrBadSelector) {
		t.Errorf("neither set: err = %v, want ErrBadSelector", err)
	}
	if err := s.DelMessages(ctx, "id", "sess"); !errors.Is(err, ErrBadSelector) {
		t.Errorf("both set: err = %v, want ErrBadSelector", err)
	}
}

func TestDelMessagesByID(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)

	id, _ := s.AddMessage(ctx, "sess", "doomed")
	if err := s.DelMessages(ctx, id, ""); err != nil {
		t.Fatalf("DelMessages: %v", err)
	}
	if _, err := s.GetMessage(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Errorf("message survived deletion: %v", err)
	}
	recs, _ := s.GetMessagesBySession(ctx, "sess")
	if len(recs) != 0 {
		t.Errorf("mapping survived deletion: %d records", len(recs))
	}
}

func TestDelMessagesBySessionKeepsSharedContent(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)

	id, _ := s.AddMessage(ctx, "sess-a", "shared")
	_, _ = s.AddMessage(ctx, "sess-b", "shared")
	_, _ = s.AddMessage(ctx, "sess-a", "only in a")

	if err := s.DelMessages(ctx, "", "sess-a"); err != nil {
		t.Fatalf("DelMessages: %v", err)
	}

	// Still referenced by sess-b.
	if _, err := s.GetMessage(ctx, id); err != nil {
		t.Errorf("shared message was orphan-reaped: %v", err)
	}
	// Unreferenced content is gone.
	if _, err := s.GetMessage(ctx, MsgID("only in a")); !errors.Is(err, ErrNotFound) {
		t.Errorf("orphan survived: %v", err)
	}
}

func TestCleanMessages(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)

	_, _ = s.AddMessage(ctx, "sess", "stale")
	time.Sleep(5 * time.Millisecond)

	n, err := s.CleanMessages(ctx, 0)
	if err != nil {
		t.Fatalf("CleanMessages: %v", err)
	}
	if n != 1 {
		t.Errorf("cleaned %d, want 1", n)
	}

	_, _ = s.AddMessage(ctx, "sess", "fresh")
	n, err = s.CleanMessages(ctx, time.Hour)
	if err != nil {
		t.Fatalf("CleanMessages: %v", err)
	}
	if n != 0 {
		t.Errorf("cleaned %d fresh messages, want 0", n)
	}
}

func TestSessions(t *testing.T) {
	ctx := context.Background()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	sessions, err := NewSessions(db)
	if err != nil {
		t.Fatalf("NewSessions: %v", err)
	}

	id, err := sessions.Create(ctx, "test the sessions store")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	ok, err := sessions.Exists(ctx, id)
	if err != nil || !ok {
		t.Errorf("Exists(%s) = %v, %v", id, ok, err)
	}
	ok, err = sessions.Exists(ctx, "nope")
	if err != nil || ok {
		t.Errorf("Exists(nope) = %v, %v", ok, err)
	}

	sess, err := sessions.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if sess.Task != "test the sessions store" {
		t.Errorf("task = %q", sess.Task)
	}

	recent, err := sessions.Recent(ctx, 10)
	if err != nil || len(recent) != 1 {
		t.Errorf("Recent = %v, %v", recent, err)
	}
}
