package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/fieldworks/chatline/internal/store"
)

const defaultAppendRetries = 64

// Draft is the caller-supplied part of a message; the sequencer fills in the
// id, timestamp and sequence number at commit time.
type Draft struct {
	SessionID string
	UserID    string
	Type      MessageType
	Text      string
	Metadata  map[string]string
}

// Sequencer commits messages at strictly increasing, gap-free sequence
// numbers using optimistic create-only writes: read the session's cached
// counter, try to create the message doc at the next slot, and on a lost
// race re-read and try again. No lock is held across store round trips.
type Sequencer struct {
	store      store.Store
	maxRetries int
	log        *slog.Logger
}

func NewSequencer(st store.Store, maxRetries int, log *slog.Logger) *Sequencer {
	if maxRetries <= 0 {
		maxRetries = defaultAppendRetries
	}
	if log == nil {
		log = slog.Default()
	}
	return &Sequencer{store: st, maxRetries: maxRetries, log: log}
}

// Append commits the draft at the session's next sequence number. Two
// concurrent appends to the same session never both succeed with the same
// number. The session counters are bumped with a merge write after the
// message is durable; if that merge fails the message stays committed and
// the counters lag until a read self-heals them.
func (s *Sequencer) Append(ctx context.Context, d Draft) (*Message, error) {
	sess, err := s.readSession(ctx, d.SessionID)
	if err != nil {
		return nil, err
	}

	candidate := sess.LastSequenceNumber + 1
	for attempt := 0; attempt < s.maxRetries; attempt++ {
		msg := &Message{
			MessageID:      NewMessageID(),
			SessionID:      d.SessionID,
			UserID:         d.UserID,
			Type:           d.Type,
			Text:           d.Text,
			CreatedAt:      nowMillis(),
			SequenceNumber: candidate,
			Metadata:       d.Metadata,
		}
		doc, err := store.Encode(msg)
		if err != nil {
			return nil, err
		}
		err = s.store.Put(ctx, CollectionMessages, messageDocID(d.SessionID, candidate), doc, store.ModeCreate)
		if err == nil {
			s.commitCounters(ctx, d.SessionID, candidate)
			return msg, nil
		}
		if !errors.Is(err, store.ErrAlreadyExists) {
			return nil, mapStoreErr(err)
		}

		// Lost the race, or the cached counter lags the durable tail.
		// Re-read and advance past the slot we just found occupied, so a
		// stale counter cannot livelock the appender.
		sess, err = s.readSession(ctx, d.SessionID)
		if err != nil {
			return nil, err
		}
		next := sess.LastSequenceNumber + 1
		if next <= candidate {
			next = candidate + 1
		}
		candidate = next
	}
	return nil, fmt.Errorf("%w: append retry budget exhausted for session %s", ErrAlreadyExists, d.SessionID)
}

func (s *Sequencer) readSession(ctx context.Context, sessionID string) (*Session, error) {
	doc, err := s.store.Get(ctx, CollectionSessions, sessionID)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	var sess Session
	if err := store.Decode(doc, &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

// commitCounters derives both counters from the committed sequence number,
// so a stale overwrite from a slower appender can only make them lag behind
// the durable messages, never run ahead.
func (s *Sequencer) commitCounters(ctx context.Context, sessionID string, seq int64) {
	err := s.store.Put(ctx, CollectionSessions, sessionID, store.Doc{
		"last_sequence_number": seq,
		"message_count":        seq + 1,
		"updated_at":           nowMillis(),
	}, store.ModeMerge)
	if err != nil {
		s.log.Warn("session counters lag durable messages",
			"session_id", sessionID, "sequence_number", seq, "err", err)
	}
}
