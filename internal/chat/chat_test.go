package chat

import (
	"context"
	"errors"
	"testing"

	"github.com/fieldworks/chatline/internal/ai"
	"github.com/fieldworks/chatline/internal/store/memstore"
)

// recordingProvider answers "ok" and remembers the history it was handed.
type recordingProvider struct {
	reply string
	last  []ai.Message
	fail  error
}

func (p *recordingProvider) Chat(ctx context.Context, messages []ai.Message) (string, error) {
	_ = ctx
	p.last = append([]ai.Message(nil), messages...)
	if p.fail != nil {
		return "", p.fail
	}
	if p.reply == "" {
		return "ok", nil
	}
	return p.reply, nil
}

type env struct {
	store     *memstore.Store
	registry  *Registry
	sequencer *Sequencer
	history   *History
	svc       *Service
	provider  *recordingProvider
}

func newEnv(t *testing.T, window int) *env {
	t.Helper()
	st := memstore.New()
	registry := NewRegistry(st, 0, nil)
	sequencer := NewSequencer(st, 0, nil)
	history := NewHistory(st, registry, nil)

	prov := &recordingProvider{}
	reg := ai.NewRegistry()
	reg.Register("fake", func(ctx context.Context, model string) (ai.Provider, error) {
		_ = ctx
		_ = model
		return prov, nil
	})

	svc := NewService(registry, sequencer, history, reg, nil, window, "fake", "default", nil)
	return &env{store: st, registry: registry, sequencer: sequencer, history: history, svc: svc, provider: prov}
}

func (e *env) mustCreate(t *testing.T, userID, email, name string) *Session {
	t.Helper()
	sess, err := e.registry.Create(context.Background(), userID, email, name)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	return sess
}

func (e *env) mustAppend(t *testing.T, sessionID, userID string, typ MessageType, text string) *Message {
	t.Helper()
	msg, err := e.sequencer.Append(context.Background(), Draft{
		SessionID: sessionID, UserID: userID, Type: typ, Text: text,
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	return msg
}

func assertErrIs(t *testing.T, err, want error) {
	t.Helper()
	if !errors.Is(err, want) {
		t.Fatalf("expected %v, got %v", want, err)
	}
}
