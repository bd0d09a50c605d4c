package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/fieldworks/chatline/internal/ai"
	"github.com/fieldworks/chatline/internal/identity"
)

const (
	defaultContextWindow = 20
	maxContextWindow     = 100
	derivedNameMaxLen    = 40
)

// Service is the continuity bridge: one SubmitTurn call appends the user
// message, invokes the agent with the bounded history and appends the reply,
// updating session counters along the way. If the agent fails the user
// message stays committed so a retry resumes the same session.
type Service struct {
	registry        *Registry
	sequencer       *Sequencer
	history         *History
	providers       *ai.Registry
	directory       identity.Directory
	contextWindow   int
	defaultProvider string
	defaultModel    string
	log             *slog.Logger
}

func NewService(registry *Registry, sequencer *Sequencer, history *History, providers *ai.Registry,
	directory identity.Directory, contextWindow int, defaultProvider, defaultModel string, log *slog.Logger) *Service {
	if contextWindow <= 0 || contextWindow > maxContextWindow {
		contextWindow = defaultContextWindow
	}
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		registry:        registry,
		sequencer:       sequencer,
		history:         history,
		providers:       providers,
		directory:       directory,
		contextWindow:   contextWindow,
		defaultProvider: defaultProvider,
		defaultModel:    defaultModel,
		log:             log,
	}
}

// Registry exposes session metadata operations to the HTTP layer.
func (s *Service) Registry() *Registry { return s.registry }

// History exposes the read path to the HTTP layer.
func (s *Service) History() *History { return s.history }

// SubmitTurn runs one full user turn. An empty sessionID opens a new session
// named after the first message text.
func (s *Service) SubmitTurn(ctx context.Context, sessionID, userID, userEmail, text string) (*Session, *Message, error) {
	sess, err := s.beginTurn(ctx, sessionID, userID, userEmail, text)
	if err != nil {
		return nil, nil, err
	}
	if _, err := s.sequencer.Append(ctx, Draft{
		SessionID: sess.SessionID, UserID: userID, Type: MessageTypeUser, Text: text,
	}); err != nil {
		return sess, nil, &TurnError{SessionID: sess.SessionID, Err: err}
	}

	reply, err := s.generateReply(ctx, sess)
	if err != nil {
		return sess, nil, &TurnError{SessionID: sess.SessionID, Err: err}
	}

	asst, err := s.sequencer.Append(ctx, Draft{
		SessionID: sess.SessionID, UserID: sess.UserID, Type: MessageTypeAssistant, Text: reply,
	})
	if err != nil {
		return sess, nil, &TurnError{SessionID: sess.SessionID, Err: err}
	}
	s.refreshCounters(sess, asst)
	return sess, asst, nil
}

// SubmitTurnStream behaves like SubmitTurn but streams the reply chunks.
// The assistant message is committed only after the stream completes, so a
// broken stream leaves just the user message, same as a failed sync turn.
func (s *Service) SubmitTurnStream(ctx context.Context, sessionID, userID, userEmail, text string) (*Session, <-chan string, <-chan *Message, <-chan error, error) {
	sess, err := s.beginTurn(ctx, sessionID, userID, userEmail, text)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	if _, err := s.sequencer.Append(ctx, Draft{
		SessionID: sess.SessionID, UserID: userID, Type: MessageTypeUser, Text: text,
	}); err != nil {
		return sess, nil, nil, nil, &TurnError{SessionID: sess.SessionID, Err: err}
	}

	chunks := make(chan string, 16)
	committed := make(chan *Message, 1)
	errs := make(chan error, 1)

	go func() {
		defer close(chunks)
		defer close(committed)
		defer close(errs)

		provider, history, err := s.prepareAgent(ctx, sess)
		if err != nil {
			errs <- &TurnError{SessionID: sess.SessionID, Err: err}
			return
		}
		sp, ok := provider.(ai.StreamProvider)
		if !ok {
			errs <- &TurnError{SessionID: sess.SessionID, Err: fmt.Errorf("%w: provider does not support streaming", ErrAgentUnavailable)}
			return
		}

		pChunks, pErrs := sp.StreamChat(ctx, history)
		var b strings.Builder
		for c := range pChunks {
			b.WriteString(c)
			select {
			case chunks <- c:
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			}
		}
		select {
		case err := <-pErrs:
			if err != nil {
				errs <- &TurnError{SessionID: sess.SessionID, Err: fmt.Errorf("%w: %v", ErrAgentUnavailable, err)}
				return
			}
		default:
		}

		asst, err := s.sequencer.Append(ctx, Draft{
			SessionID: sess.SessionID, UserID: sess.UserID, Type: MessageTypeAssistant, Text: b.String(),
		})
		if err != nil {
			errs <- &TurnError{SessionID: sess.SessionID, Err: err}
			return
		}
		committed <- asst
	}()

	return sess, chunks, committed, errs, nil
}

// beginTurn validates the requester, resolves or creates the session, and
// enforces owner-only writes.
func (s *Service) beginTurn(ctx context.Context, sessionID, userID, userEmail, text string) (*Session, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: empty message text", ErrInvalidInput)
	}
	if s.directory != nil {
		if _, err := s.directory.Lookup(ctx, userID); err != nil {
			if errors.Is(err, identity.ErrNotFound) {
				return nil, fmt.Errorf("%w: unknown principal %s", ErrForbidden, userID)
			}
			return nil, err
		}
	}
	if sessionID == "" {
		return s.registry.Create(ctx, userID, userEmail, deriveName(text))
	}
	sess, err := s.registry.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.UserID != userID {
		return nil, ErrForbidden
	}
	if !sess.IsActive {
		return nil, fmt.Errorf("%w: session %s is deactivated", ErrNotFound, sessionID)
	}
	return sess, nil
}

func (s *Service) prepareAgent(ctx context.Context, sess *Session) (ai.Provider, []ai.Message, error) {
	model := sess.Model
	if model == "" {
		model = s.defaultModel
	}
	provider, err := s.providers.Get(ctx, s.defaultProvider, model)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrAgentUnavailable, err)
	}
	recent, err := s.history.Recent(ctx, sess.SessionID, s.contextWindow)
	if err != nil {
		return nil, nil, err
	}
	history := make([]ai.Message, 0, len(recent))
	for _, m := range recent {
		history = append(history, ai.Message{Role: string(m.Type), Content: m.Text})
	}
	return provider, history, nil
}

// generateReply keeps error kinds apart: only the provider call itself maps
// to ErrAgentUnavailable; a store failure while assembling the context window
// keeps its own kind (timeout, not found).
func (s *Service) generateReply(ctx context.Context, sess *Session) (string, error) {
	provider, history, err := s.prepareAgent(ctx, sess)
	if err != nil {
		return "", err
	}
	reply, err := provider.Chat(ctx, history)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrAgentUnavailable, err)
	}
	return reply, nil
}

func (s *Service) refreshCounters(sess *Session, last *Message) {
	sess.LastSequenceNumber = last.SequenceNumber
	sess.MessageCount = last.SequenceNumber + 1
	sess.UpdatedAt = last.CreatedAt
}

// deriveName builds an initial session name from the first message text.
func deriveName(text string) string {
	name := strings.Join(strings.Fields(text), " ")
	if utf8.RuneCountInString(name) <= derivedNameMaxLen {
		return name
	}
	runes := []rune(name)
	return string(runes[:derivedNameMaxLen-1]) + "…"
}
