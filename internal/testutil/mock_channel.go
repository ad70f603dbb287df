package testutil

import (
	"context"
	"sync"

	"github.com/dwsmith1983/tripwire/pkg/types"
)

// MockChannel records every alert it is asked to send. SendErr, when set,
// is returned from Send after recording.
type MockChannel struct {
	name string

	mu      sync.Mutex
	alerts  []types.Alert
	sendErr error
	block   chan struct{}
}

// NewMockChannel creates a recording channel.
func NewMockChannel(name string) *MockChannel {
	return &MockChannel{name: name}
}

// Name returns the channel name.
func (m *MockChannel) Name() string { return m.name }

// Send records alert and returns the configured error.
func (m *MockChannel) Send(ctx context.Context, alert types.Alert) error {
	m.mu.Lock()
	block := m.block
	m.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerts = append(m.alerts, alert)
	return m.sendErr
}

// SetError makes subsequent sends fail with err.
func (m *MockChannel) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sendErr = err
}

// Block makes sends wait until the returned release func is called.
func (m *MockChannel) Block() (release func()) {
	ch := make(chan struct{})
	m.mu.Lock()
	m.block = ch
	m.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			m.block = nil
			m.mu.Unlock()
			close(ch)
		})
	}
}

// Alerts returns a copy of the recorded alerts.
func (m *MockChannel) Alerts() []types.Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.Alert, len(m.alerts))
	copy(out, m.alerts)
	return out
}
