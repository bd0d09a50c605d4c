package chat

import (
	"context"
	"log/slog"
	"time"

	"github.com/fieldworks/chatline/internal/store"
)

const repairTimeout = 5 * time.Second

// History reconstructs ordered conversation state from the durable messages.
// The scan is the source of truth: when it disagrees with the session's
// cached counters the messages win and the counters are repaired in the
// background, never blocking the read.
type History struct {
	store    store.Store
	registry *Registry
	log      *slog.Logger
}

func NewHistory(st store.Store, registry *Registry, log *slog.Logger) *History {
	if log == nil {
		log = slog.Default()
	}
	return &History{store: st, registry: registry, log: log}
}

// Load returns the full ordered history. Private sessions are readable only
// by their owner; public sessions by any requester.
func (h *History) Load(ctx context.Context, sessionID, requesterID string) ([]Message, error) {
	sess, err := h.checkRead(ctx, sessionID, requesterID)
	if err != nil {
		return nil, err
	}
	msgs, err := h.scan(ctx, sessionID, store.Query{
		Where:   []store.Where{{Field: "session_id", Value: sessionID}},
		OrderBy: "sequence_number",
	})
	if err != nil {
		return nil, err
	}
	h.healDrift(sess, msgs)
	return msgs, nil
}

// LoadPage is the explicit paging variant: a new bounded scan per call, no
// cursor retained between calls.
func (h *History) LoadPage(ctx context.Context, sessionID, requesterID string, limit, offset int) ([]Message, error) {
	if _, err := h.checkRead(ctx, sessionID, requesterID); err != nil {
		return nil, err
	}
	return h.scan(ctx, sessionID, store.Query{
		Where:   []store.Where{{Field: "session_id", Value: sessionID}},
		OrderBy: "sequence_number",
		Limit:   limit,
		Offset:  offset,
	})
}

// Recent returns the last n messages in ascending order. Used to bound the
// agent's context window; access control is the caller's concern.
func (h *History) Recent(ctx context.Context, sessionID string, n int) ([]Message, error) {
	msgs, err := h.scan(ctx, sessionID, store.Query{
		Where:   []store.Where{{Field: "session_id", Value: sessionID}},
		OrderBy: "sequence_number",
		Desc:    true,
		Limit:   n,
	})
	if err != nil {
		return nil, err
	}
	// reverse to oldest -> newest
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func (h *History) checkRead(ctx context.Context, sessionID, requesterID string) (*Session, error) {
	sess, err := h.registry.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !sess.IsPublic && sess.UserID != requesterID {
		return nil, ErrForbidden
	}
	return sess, nil
}

func (h *History) scan(ctx context.Context, sessionID string, q store.Query) ([]Message, error) {
	docs, err := h.store.Scan(ctx, CollectionMessages, q)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	msgs := make([]Message, 0, len(docs))
	for _, doc := range docs {
		var m Message
		if err := store.Decode(doc, &m); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

// healDrift kicks off an async counter repair when the scanned tail and the
// cached counter disagree (a crashed append leaves the counters lagging).
func (h *History) healDrift(sess *Session, msgs []Message) {
	maxSeq := int64(-1)
	if len(msgs) > 0 {
		maxSeq = msgs[len(msgs)-1].SequenceNumber
	}
	if maxSeq == sess.LastSequenceNumber {
		return
	}
	h.log.Warn("session counters drifted, repairing",
		"session_id", sess.SessionID,
		"cached_last_seq", sess.LastSequenceNumber,
		"scanned_last_seq", maxSeq)
	go func(sessionID string, last int64) {
		ctx, cancel := context.WithTimeout(context.Background(), repairTimeout)
		defer cancel()
		if err := h.registry.RepairCounters(ctx, sessionID, last); err != nil {
			h.log.Error("counter repair failed", "session_id", sessionID, "err", err)
		}
	}(sess.SessionID, maxSeq)
}
