package classifier

import (
	"context"
	"sync"
	"time"
)

// MockBackend returns canned completions for tests and development.
type MockBackend struct {
	mu      sync.Mutex
	content string
	err     error
	delay   time.Duration
	calls   int
}

func NewMockBackend() *MockBackend {
	return &MockBackend{
		content: `{"riskLevel":"low","riskScore":0,"indicators":[],"guidance":["This appears to be a normal call."]}`,
	}
}

// SetResponse sets the content and error returned by subsequent completions.
func (m *MockBackend) SetResponse(content string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.content = content
	m.err = err
}

// SetDelay makes completions block for d (or until ctx is done).
func (m *MockBackend) SetDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
}

// Calls reports how many completions have been requested.
func (m *MockBackend) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *MockBackend) Complete(ctx context.Context, _ Request) (string, error) {
	m.mu.Lock()
	content, err, delay := m.content, m.err, m.delay
	m.calls++
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(delay):
		}
	}
	return content, err
}
