package chat

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// Storage collections. Field names in the structs below are part of the
// storage contract and must stay stable across releases.
const (
	CollectionSessions = "sessions"
	CollectionMessages = "messages"
	CollectionJobs     = "turn_jobs"
)

// MessageType discriminates who authored a turn.
type MessageType string

const (
	MessageTypeUser      MessageType = "user"
	MessageTypeAssistant MessageType = "assistant"
)

// Session is one named, owned conversation thread. LastSequenceNumber is -1
// while the session is empty; MessageCount may lag the durable message count
// after a crashed append but never exceeds it.
type Session struct {
	SessionID          string            `json:"session_id"`
	UserID             string            `json:"user_id"`
	UserEmail          string            `json:"user_email"`
	Name               string            `json:"name"`
	CreatedAt          int64             `json:"created_at"`
	UpdatedAt          int64             `json:"updated_at"`
	IsActive           bool              `json:"is_active"`
	IsPublic           bool              `json:"is_public"`
	MessageCount       int64             `json:"message_count"`
	LastSequenceNumber int64             `json:"last_sequence_number"`
	Model              string            `json:"model,omitempty"`
	Metadata           map[string]string `json:"metadata,omitempty"`
}

// Message is one committed turn. Append-only: sequence numbers are unique,
// gap-free and immutable once written.
type Message struct {
	MessageID      string            `json:"message_id"`
	SessionID      string            `json:"session_id"`
	UserID         string            `json:"user_id"`
	Type           MessageType       `json:"type"`
	Text           string            `json:"text"`
	CreatedAt      int64             `json:"created_at"`
	SequenceNumber int64             `json:"sequence_number"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// NewSessionID returns a fresh ULID session id.
func NewSessionID() string { return ulid.Make().String() }

// NewMessageID returns a fresh message id.
func NewMessageID() string { return uuid.NewString() }

// messageDocID keys a message doc by (session, sequence). Zero-padding keeps
// lexicographic key order aligned with sequence order on plain KV backends.
func messageDocID(sessionID string, seq int64) string {
	return fmt.Sprintf("%s:%012d", sessionID, seq)
}

func nowMillis() int64 { return time.Now().UnixMilli() }
