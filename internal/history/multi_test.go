package history

import (
	"context"
	"errors"
	"testing"
	"time"
)

// brokenStore fails every operation.
type brokenStore struct{}

var errBroken = errors.New("backend down")

func (brokenStore) AddMessage(ctx context.Context, sessionID, content string) (string, error) {
	return "", errBroken
}
func (brokenStore) GetMessage(ctx context.Context, msgID string) (*Record, error) {
	return nil, errBroken
}
func (brokenStore) GetMessagesBySession(ctx context.Context, sessionID string) ([]Record, error) {
	return nil, errBroken
}
func (brokenStore) DelMessages(ctx context.Context, msgID, sessionID string) error {
	return errBroken
}
func (brokenStore) CleanMessages(ctx context.Context, before time.Duration) (int, error) {
	return 0, errBroken
}
func (brokenStore) Close() error { return nil }

func TestMultiRequiresBackend(t *testing.T) {
	if _, err := NewMulti(); err == nil {
		t.Fatal("expected error with no backends")
	}
}

func TestMultiFansOutWrites(t *testing.T) {
	ctx := context.Background()
	a, b := testStore(t), testStore(t)
	m, err := NewMulti(a, b)
	if err != nil {
		t.Fatalf("NewMulti: %v", err)
	}

	id, err := m.AddMessage(ctx, "sess", "fan out")
	if err != nil {
		t.Fatalf("AddMessage: %v", err)
	}
	for i, s := range []Store{a, b} {
		if _, err := s.GetMessage(ctx, id); err != nil {
			t.Errorf("backend %d missing message: %v", i, err)
		}
	}
}

func TestMultiSurvivesBrokenBackend(t *testing.T) {
	ctx := context.Background()
	healthy := testStore(t)
	m, _ := NewMulti(brokenStore{}, healthy)

	id, err := m.AddMessage(ctx, "sess", "still stored")
	if err != nil {
		t.Fatalf("AddMessage: %v", err)
	}
	rec, err := m.GetMessage(ctx, id)
	if err != nil {
		t.Fatalf("GetMessage: %v", err)
	}
	if rec.Content != "still stored" {
		t.Errorf("content = %q", rec.Content)
	}
}

func TestMultiAllBackendsFail(t *testing.T) {
	ctx := context.Background()
	m, _ := NewMulti(brokenStore{}, brokenStore{})

	if _, err := m.AddMessage(ctx, "sess", "x"); !errors.Is(err, errBroken) {
		t.Errorf("AddMessage err = %v", err)
	}
	if _, err := m.GetMessage(ctx, "id"); !errors.Is(err, errBroken) {
		t.Errorf("GetMessage err = %v", err)
	}
}

func TestMultiPrimaryCountWins(t *testing.T) {
	ctx := context.Background()
	primary, secondary := testStore(t), testStore(t)
	m, _ := NewMulti(primary, secondary)

	// Only the secondary holds an old message; the primary's clean
	// count is the one reported.
	if _, err := secondary.AddMessage(ctx, "sess", "old"); err != nil {
		t.Fatalf("AddMessage: %v", err)
	}
	time.Sleep(5 * time.Millisecond)

	n, err := m.CleanMessages(ctx, 0)
	if err != nil {
		t.Fatalf("CleanMessages: %v", err)
	}
	if n != 0 {
		t.Errorf("count = %d, want primary's 0", n)
	}
	if _, err := secondary.GetMessage(ctx, MsgID("old")); !errors.Is(err, ErrNotFound) {
		t.Errorf("secondary not cleaned: %v", err)
	}
}
