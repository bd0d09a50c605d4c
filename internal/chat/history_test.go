package chat

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fieldworks/chatline/internal/store"
)

func TestLoadEmptySession(t *testing.T) {
	e := newEnv(t, 20)
	sess := e.mustCreate(t, "u1", "u1@example.com", "empty")

	msgs, err := e.history.Load(context.Background(), sess.SessionID, "u1")
	require.NoError(t, err)
	require.Empty(t, msgs)
}

func TestLoadReturnsStrictSequenceOrder(t *testing.T) {
	e := newEnv(t, 20)
	sess := e.mustCreate(t, "u1", "u1@example.com", "ordered")

	for i := 0; i < 6; i++ {
		typ := MessageTypeUser
		if i%2 == 1 {
			typ = MessageTypeAssistant
		}
		e.mustAppend(t, sess.SessionID, "u1", typ, "turn")
	}

	msgs, err := e.history.Load(context.Background(), sess.SessionID, "u1")
	require.NoError(t, err)
	require.Len(t, msgs, 6)
	for i, m := range msgs {
		require.Equal(t, int64(i), m.SequenceNumber, "sequence must be gap-free ascending")
	}
}

func TestLoadPrivateForbidden(t *testing.T) {
	e := newEnv(t, 20)
	sess := e.mustCreate(t, "u1", "u1@example.com", "private")

	_, err := e.history.Load(context.Background(), sess.SessionID, "stranger")
	require.ErrorIs(t, err, ErrForbidden)
}

func TestPublicSessionReadableNotWritable(t *testing.T) {
	e := newEnv(t, 20)
	ctx := context.Background()
	sess := e.mustCreate(t, "u1", "u1@example.com", "shared")
	e.mustAppend(t, sess.SessionID, "u1", MessageTypeUser, "hello world")

	require.NoError(t, e.registry.SetPublic(ctx, sess.SessionID, "u1", true))

	msgs, err := e.history.Load(ctx, sess.SessionID, "stranger")
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	// writes stay owner-only
	_, err = e.registry.Rename(ctx, sess.SessionID, "stranger", "hijacked")
	require.ErrorIs(t, err, ErrForbidden)
}

func TestLoadPage(t *testing.T) {
	e := newEnv(t, 20)
	sess := e.mustCreate(t, "u1", "u1@example.com", "paged")
	for i := 0; i < 5; i++ {
		e.mustAppend(t, sess.SessionID, "u1", MessageTypeUser, "m")
	}

	page, err := e.history.LoadPage(context.Background(), sess.SessionID, "u1", 2, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	require.Equal(t, int64(2), page[0].SequenceNumber)
	require.Equal(t, int64(3), page[1].SequenceNumber)
}

func TestRecentBoundsAndOrders(t *testing.T) {
	e := newEnv(t, 20)
	sess := e.mustCreate(t, "u1", "u1@example.com", "windowed")
	for i := 0; i < 7; i++ {
		e.mustAppend(t, sess.SessionID, "u1", MessageTypeUser, "m")
	}

	recent, err := e.history.Recent(context.Background(), sess.SessionID, 3)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	require.Equal(t, int64(4), recent[0].SequenceNumber)
	require.Equal(t, int64(6), recent[2].SequenceNumber)
}

// The scan is the source of truth: a lagging cached counter must not hide
// durable messages, and the read triggers an async repair.
func TestLoadSelfHealsCounterDrift(t *testing.T) {
	e := newEnv(t, 20)
	ctx := context.Background()
	sess := e.mustCreate(t, "u1", "u1@example.com", "drifted")
	e.mustAppend(t, sess.SessionID, "u1", MessageTypeUser, "one")
	e.mustAppend(t, sess.SessionID, "u1", MessageTypeAssistant, "two")

	require.NoError(t, e.store.Put(ctx, CollectionSessions, sess.SessionID, store.Doc{
		"last_sequence_number": int64(0),
		"message_count":        int64(1),
	}, store.ModeMerge))

	msgs, err := e.history.Load(ctx, sess.SessionID, "u1")
	require.NoError(t, err)
	require.Len(t, msgs, 2, "scan wins over cached counter")

	require.Eventually(t, func() bool {
		got, err := e.registry.Get(ctx, sess.SessionID)
		return err == nil && got.LastSequenceNumber == 1 && got.MessageCount == 2
	}, 2*time.Second, 10*time.Millisecond, "counters should be repaired asynchronously")
}
