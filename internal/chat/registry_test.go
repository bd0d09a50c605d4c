package chat

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestCreateSessionDefaults(t *testing.T) {
	e := newEnv(t, 20)
	sess := e.mustCreate(t, "u1", "u1@example.com", "my chat")

	if sess.SessionID == "" {
		t.Fatal("expected session id")
	}
	if sess.LastSequenceNumber != -1 {
		t.Fatalf("expected last_sequence_number -1, got %d", sess.LastSequenceNumber)
	}
	if sess.MessageCount != 0 {
		t.Fatalf("expected message_count 0, got %d", sess.MessageCount)
	}
	if !sess.IsActive || sess.IsPublic {
		t.Fatalf("expected active private session, got active=%v public=%v", sess.IsActive, sess.IsPublic)
	}

	got, err := e.registry.Get(context.Background(), sess.SessionID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Name != "my chat" || got.UserID != "u1" || got.UserEmail != "u1@example.com" {
		t.Fatalf("unexpected persisted session: %+v", got)
	}
}

func TestCreateSessionNameTooLong(t *testing.T) {
	e := newEnv(t, 20)
	_, err := e.registry.Create(context.Background(), "u1", "u1@example.com", strings.Repeat("x", 101))
	assertErrIs(t, err, ErrInvalidInput)
}

// The cap is counted in runes, not bytes: 100 CJK characters are 300 bytes
// but still a valid name.
func TestCreateSessionNameLengthInRunes(t *testing.T) {
	e := newEnv(t, 20)
	ctx := context.Background()

	if _, err := e.registry.Create(ctx, "u1", "u1@example.com", strings.Repeat("日", 100)); err != nil {
		t.Fatalf("100-rune multibyte name rejected: %v", err)
	}
	_, err := e.registry.Create(ctx, "u1", "u1@example.com", strings.Repeat("日", 101))
	assertErrIs(t, err, ErrInvalidInput)
}

func TestRenameOwnershipAndNotFound(t *testing.T) {
	e := newEnv(t, 20)
	ctx := context.Background()
	sess := e.mustCreate(t, "u1", "u1@example.com", "before")
	e.mustAppend(t, sess.SessionID, "u1", MessageTypeUser, "hi")

	_, err := e.registry.Rename(ctx, "missing", "u1", "after")
	assertErrIs(t, err, ErrNotFound)

	_, err = e.registry.Rename(ctx, sess.SessionID, "intruder", "after")
	assertErrIs(t, err, ErrForbidden)

	before, _ := e.registry.Get(ctx, sess.SessionID)
	time.Sleep(2 * time.Millisecond) // updated_at has millisecond resolution

	renamed, err := e.registry.Rename(ctx, sess.SessionID, "u1", "after")
	if err != nil {
		t.Fatalf("rename: %v", err)
	}
	if renamed.Name != "after" {
		t.Fatalf("expected name updated, got %q", renamed.Name)
	}

	got, _ := e.registry.Get(ctx, sess.SessionID)
	if got.UpdatedAt <= before.UpdatedAt {
		t.Fatalf("expected updated_at to advance: %d -> %d", before.UpdatedAt, got.UpdatedAt)
	}
	if got.MessageCount != before.MessageCount {
		t.Fatalf("rename must preserve message_count: %d != %d", got.MessageCount, before.MessageCount)
	}
	msgs, err := e.history.Load(ctx, sess.SessionID, "u1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("rename must preserve messages, got %d", len(msgs))
	}
}

func TestListOrdersByUpdatedAtDesc(t *testing.T) {
	e := newEnv(t, 20)
	ctx := context.Background()

	a := e.mustCreate(t, "u1", "u1@example.com", "a")
	time.Sleep(2 * time.Millisecond)
	b := e.mustCreate(t, "u1", "u1@example.com", "b")
	time.Sleep(2 * time.Millisecond)
	e.mustCreate(t, "someone-else", "x@example.com", "not mine")

	// touching a makes it most recent
	time.Sleep(2 * time.Millisecond)
	if _, err := e.registry.Rename(ctx, a.SessionID, "u1", "a renamed"); err != nil {
		t.Fatalf("rename: %v", err)
	}

	sessions, err := e.registry.List(ctx, "u1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(sessions))
	}
	if sessions[0].SessionID != a.SessionID || sessions[1].SessionID != b.SessionID {
		t.Fatalf("unexpected order: %s, %s", sessions[0].Name, sessions[1].Name)
	}
}

func TestDeactivateHidesFromListKeepsMessages(t *testing.T) {
	e := newEnv(t, 20)
	ctx := context.Background()
	sess := e.mustCreate(t, "u1", "u1@example.com", "doomed")
	e.mustAppend(t, sess.SessionID, "u1", MessageTypeUser, "still here")

	assertErrIs(t, e.registry.Deactivate(ctx, sess.SessionID, "intruder"), ErrForbidden)
	if err := e.registry.Deactivate(ctx, sess.SessionID, "u1"); err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	sessions, err := e.registry.List(ctx, "u1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(sessions) != 0 {
		t.Fatalf("deactivated session still listed: %d", len(sessions))
	}

	msgs, err := e.history.Load(ctx, sess.SessionID, "u1")
	if err != nil {
		t.Fatalf("load after deactivate: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("soft delete must keep messages, got %d", len(msgs))
	}
}

func TestSetPublicOwnerOnly(t *testing.T) {
	e := newEnv(t, 20)
	ctx := context.Background()
	sess := e.mustCreate(t, "u1", "u1@example.com", "shared")

	assertErrIs(t, e.registry.SetPublic(ctx, sess.SessionID, "intruder", true), ErrForbidden)

	if err := e.registry.SetPublic(ctx, sess.SessionID, "u1", true); err != nil {
		t.Fatalf("set public: %v", err)
	}
	got, _ := e.registry.Get(ctx, sess.SessionID)
	if !got.IsPublic {
		t.Fatal("expected session to be public")
	}
}
