package chat

import (
	"context"
	"fmt"
	"log/slog"
	"unicode/utf8"

	"github.com/fieldworks/chatline/internal/store"
)

const defaultMaxNameLen = 100

// Registry owns session metadata and its lifecycle flags. Sessions are never
// physically deleted; Deactivate marks them inactive and history stays put.
type Registry struct {
	store      store.Store
	maxNameLen int
	log        *slog.Logger
}

func NewRegistry(st store.Store, maxNameLen int, log *slog.Logger) *Registry {
	if maxNameLen <= 0 {
		maxNameLen = defaultMaxNameLen
	}
	if log == nil {
		log = slog.Default()
	}
	return &Registry{store: st, maxNameLen: maxNameLen, log: log}
}

// Create registers a fresh, empty, private session owned by the user.
func (r *Registry) Create(ctx context.Context, userID, userEmail, name string) (*Session, error) {
	if err := r.checkName(name); err != nil {
		return nil, err
	}
	now := nowMillis()
	sess := &Session{
		SessionID:          NewSessionID(),
		UserID:             userID,
		UserEmail:          userEmail,
		Name:               name,
		CreatedAt:          now,
		UpdatedAt:          now,
		IsActive:           true,
		IsPublic:           false,
		MessageCount:       0,
		LastSequenceNumber: -1,
	}
	doc, err := store.Encode(sess)
	if err != nil {
		return nil, err
	}
	if err := r.store.Put(ctx, CollectionSessions, sess.SessionID, doc, store.ModeCreate); err != nil {
		return nil, mapStoreErr(err)
	}
	return sess, nil
}

// Get fetches session metadata by id, inactive sessions included.
func (r *Registry) Get(ctx context.Context, sessionID string) (*Session, error) {
	doc, err := r.store.Get(ctx, CollectionSessions, sessionID)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	var sess Session
	if err := store.Decode(doc, &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

// List returns the user's active sessions, most recently updated first.
func (r *Registry) List(ctx context.Context, userID string) ([]Session, error) {
	docs, err := r.store.Scan(ctx, CollectionSessions, store.Query{
		Where:   []store.Where{{Field: "user_id", Value: userID}},
		OrderBy: "updated_at",
		Desc:    true,
	})
	if err != nil {
		return nil, mapStoreErr(err)
	}
	out := make([]Session, 0, len(docs))
	for _, doc := range docs {
		var sess Session
		if err := store.Decode(doc, &sess); err != nil {
			return nil, err
		}
		if !sess.IsActive {
			continue
		}
		out = append(out, sess)
	}
	return out, nil
}

// Rename updates the display name. Owner-only, even on public sessions.
func (r *Registry) Rename(ctx context.Context, sessionID, requesterID, newName string) (*Session, error) {
	if err := r.checkName(newName); err != nil {
		return nil, err
	}
	sess, err := r.requireOwner(ctx, sessionID, requesterID)
	if err != nil {
		return nil, err
	}
	now := nowMillis()
	err = r.store.Put(ctx, CollectionSessions, sessionID, store.Doc{
		"name":       newName,
		"updated_at": now,
	}, store.ModeMerge)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	sess.Name = newName
	sess.UpdatedAt = now
	return sess, nil
}

// Deactivate is the soft delete: the session stops listing but its messages
// remain durable.
func (r *Registry) Deactivate(ctx context.Context, sessionID, requesterID string) error {
	if _, err := r.requireOwner(ctx, sessionID, requesterID); err != nil {
		return err
	}
	return mapStoreErr(r.store.Put(ctx, CollectionSessions, sessionID, store.Doc{
		"is_active":  false,
		"updated_at": nowMillis(),
	}, store.ModeMerge))
}

// SetPublic toggles read visibility for non-owners. Writes stay owner-only.
func (r *Registry) SetPublic(ctx context.Context, sessionID, requesterID string, public bool) error {
	if _, err := r.requireOwner(ctx, sessionID, requesterID); err != nil {
		return err
	}
	return mapStoreErr(r.store.Put(ctx, CollectionSessions, sessionID, store.Doc{
		"is_public":  public,
		"updated_at": nowMillis(),
	}, store.ModeMerge))
}

// RepairCounters overwrites the cached counters with values derived from a
// scan of the durable messages. Called by the read path when it detects
// drift; deliberately does not touch updated_at.
func (r *Registry) RepairCounters(ctx context.Context, sessionID string, lastSeq int64) error {
	return mapStoreErr(r.store.Put(ctx, CollectionSessions, sessionID, store.Doc{
		"last_sequence_number": lastSeq,
		"message_count":        lastSeq + 1,
	}, store.ModeMerge))
}

func (r *Registry) requireOwner(ctx context.Context, sessionID, requesterID string) (*Session, error) {
	sess, err := r.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.UserID != requesterID {
		return nil, ErrForbidden
	}
	return sess, nil
}

// checkName measures in runes so multibyte names get the same cap as ASCII.
func (r *Registry) checkName(name string) error {
	if utf8.RuneCountInString(name) > r.maxNameLen {
		return fmt.Errorf("%w: session name exceeds %d characters", ErrInvalidInput, r.maxNameLen)
	}
	return nil
}
