package chat

import (
	"context"
	"errors"
	"fmt"

	"github.com/fieldworks/chatline/internal/store"
)

var (
	// ErrNotFound means the session (or job) id is unknown or soft-deleted.
	ErrNotFound = errors.New("chat: not found")
	// ErrForbidden means the requester does not own the session and the
	// operation is not a public read.
	ErrForbidden = errors.New("chat: forbidden")
	// ErrAlreadyExists surfaces only when the sequencer exhausts its retry
	// budget; individual sequence races are recovered internally.
	ErrAlreadyExists = errors.New("chat: already exists")
	// ErrInvalidInput covers malformed requests, e.g. an oversized name.
	ErrInvalidInput = errors.New("chat: invalid input")
	// ErrTimeout means a store call exceeded the caller's deadline.
	ErrTimeout = errors.New("chat: store deadline exceeded")
	// ErrAgentUnavailable means the agent collaborator failed; the user
	// message stays committed and no assistant message is written.
	ErrAgentUnavailable = errors.New("chat: agent unavailable")
)

// TurnError carries the session id of a failed turn so callers can retry
// submit against the same session instead of opening a new one.
type TurnError struct {
	SessionID string
	Err       error
}

func (e *TurnError) Error() string {
	return fmt.Sprintf("turn failed for session %s: %v", e.SessionID, e.Err)
}

func (e *TurnError) Unwrap() error { return e.Err }

// mapStoreErr translates store and context errors into the chat taxonomy.
func mapStoreErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, store.ErrAlreadyExists):
		return ErrAlreadyExists
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return err
}
