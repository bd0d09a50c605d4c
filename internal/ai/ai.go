// Package ai is the boundary to the agent collaborator: given the bounded
// conversation history it produces the assistant's reply. The chat core
// treats any failure here as "agent unavailable" and commits nothing.
package ai

import "context"

// Message is one turn of context handed to a provider, oldest first.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Provider generates a reply from the ordered history. The newest user
// message is the last element of messages.
type Provider interface {
	Chat(ctx context.Context, messages []Message) (string, error)
}

// StreamProvider is optional; providers may additionally stream the reply in
// chunks. Both channels are closed when streaming ends.
type StreamProvider interface {
	StreamChat(ctx context.Context, messages []Message) (<-chan string, <-chan error)
}
