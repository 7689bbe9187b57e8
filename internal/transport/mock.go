package transport

import (
	"context"
	"fmt"
	"sync"
)

// SentMessage is one delivery captured by the mock.
type SentMessage struct {
	To       []string
	Cc       []string
	Subject  string
	BodyText string
	BodyHTML string
}

// MockTransport records every send and can be scripted to fail. Used by
// tests and by email mode "mock".
type MockTransport struct {
	mu       sync.Mutex
	sent     []SentMessage
	failures int
	terminal bool
}

func NewMockTransport() *MockTransport {
	return &MockTransport{}
}

// FailNext makes the next n sends fail. Terminal failures are not
// retryable.
func (m *MockTransport) FailNext(n int, terminal bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = n
	m.terminal = terminal
}

func (m *MockTransport) Name() string {
	return "mock"
}

func (m *MockTransport) Send(ctx context.Context, to, cc []string, subject, bodyText, bodyHTML string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failures > 0 {
		m.failures--
		if m.terminal {
			return "", terminalErr("scripted terminal failure", nil)
		}
		return "", retryableErr("scripted transient failure", nil)
	}

	m.sent = append(m.sent, SentMessage{
		To:       to,
		Cc:       cc,
		Subject:  subject,
		BodyText: bodyText,
		BodyHTML: bodyHTML,
	})
	return fmt.Sprintf("mock-%d", len(m.sent)), nil
}

// Sent returns a copy of everything delivered so far.
func (m *MockTransport) Sent() []SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SentMessage, len(m.sent))
	copy(out, m.sent)
	return out
}
