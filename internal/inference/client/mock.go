package client

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

// Mock is an in-process Engine. It echoes the last user message unless Reply or
// Err are set, and honours ctx cancellation while sleeping Delay.
type Mock struct {
	Delay time.Duration
	Reply string
	Err   error

	mu    sync.Mutex
	calls []MockCall
}

type MockCall struct {
	Model    string
	Messages []Message
	Options  map[string]any
}

var _ Engine = (*Mock)(nil)

func NewMock() *Mock { return &Mock{} }

func (m *Mock) Health(ctx context.Context) bool { return ctx.Err() == nil }

func (m *Mock) ListModels(ctx context.Context) ([]ModelInfo, error) {
	return []ModelInfo{{Name: "mock:latest", Model: "mock:latest"}}, nil
}

func (m *Mock) PullModel(ctx context.Context, model string) error {
	if strings.TrimSpace(model) == "" {
		return ErrModelRequired
	}
	return nil
}

func (m *Mock) Generate(ctx context.Context, model string, messages []Message, options map[string]any) (*Reply, error) {
	m.mu.Lock()
	m.calls = append(m.calls, MockCall{
		Model:    model,
		Messages: append([]Message(nil), messages...),
		Options:  MergeOptions(DefaultOptions(), options),
	})
	delay, reply, fail := m.Delay, m.Reply, m.Err
	m.mu.Unlock()

	if delay > 0 {
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-t.C:
		}
	}
	if fail != nil {
		return nil, fail
	}
	if reply == "" {
		reply = "mock: ok"
		for i := len(messages) - 1; i >= 0; i-- {
			if strings.EqualFold(messages[i].Role, "user") {
				reply = "mock: " + strings.TrimSpace(messages[i].Content)
				break
			}
		}
	}
	if strings.TrimSpace(reply) == "" {
		return nil, ErrEmptyReply
	}
	if model == "" {
		model = "mock:latest"
	}
	return &Reply{
		Model:        model,
		Content:      reply,
		EvalCount:    len(strings.Fields(reply)),
		EvalDuration: int64(delay),
	}, nil
}

func (m *Mock) SetError(err error) {
	m.mu.Lock()
	m.Err = err
	m.mu.Unlock()
}

func (m *Mock) SetDelay(d time.Duration) {
	m.mu.Lock()
	m.Delay = d
	m.mu.Unlock()
}

func (m *Mock) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockCall(nil), m.calls...)
}

// ErrMockUnavailable simulates a transport failure in tests.
var ErrMockUnavailable = errors.New("mock inference unavailable")
