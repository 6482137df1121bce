package helpers

import (
	"context"
	"sync"
	"time"

	"github.com/kode4food/flowsession/internal/config"
	"github.com/kode4food/flowsession/internal/conn"
	"github.com/kode4food/flowsession/pkg/api"
)

type (
	// MockTransport is an in-memory session transport that records every
	// command sent through it and lets tests inject inbound messages
	MockTransport struct {
		handler     conn.Handler
		connectErr  error
		sent        []api.Command
		connects    int
		disconnects int
		connected   bool
		mu          sync.Mutex
	}
)

// NewTestConfig creates a valid configuration with short timings
func NewTestConfig() *config.Config {
	cfg := config.NewDefaultConfig()
	cfg.FlowID = "test-flow"
	cfg.LogLevel = "debug"
	cfg.ReconnectAttempts = 2
	cfg.ReconnectInterval = 50 * time.Millisecond
	cfg.HandshakeTimeout = time.Second
	cfg.WriteWait = time.Second
	cfg.PongWait = 2 * time.Second
	cfg.StreamTimeout = 100 * time.Millisecond
	return cfg
}

// NewMockTransport creates a disconnected MockTransport
func NewMockTransport() *MockTransport {
	return &MockTransport{}
}

// Register installs the handler that receives injected events
func (m *MockTransport) Register(h conn.Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler = h
}

// Connect marks the transport connected and notifies the handler
func (m *MockTransport) Connect(context.Context) error {
	m.mu.Lock()
	m.connects++
	if m.connectErr != nil {
		err := m.connectErr
		h := m.handler
		m.mu.Unlock()
		if h != nil {
			h.ConnectionChanged(api.Disconnected, err)
		}
		return err
	}
	if m.connected {
		m.mu.Unlock()
		return nil
	}
	m.connected = true
	h := m.handler
	m.mu.Unlock()

	if h != nil {
		h.ConnectionChanged(api.Connected, nil)
	}
	return nil
}

// Disconnect marks the transport disconnected and notifies the handler
func (m *MockTransport) Disconnect() {
	m.mu.Lock()
	m.disconnects++
	was := m.connected
	m.connected = false
	h := m.handler
	m.mu.Unlock()

	if was && h != nil {
		h.ConnectionChanged(api.Disconnected, nil)
	}
}

// Send records the command while connected
func (m *MockTransport) Send(cmd api.Command) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return false
	}
	m.sent = append(m.sent, cmd)
	return true
}

// SetConnectError makes subsequent Connect calls fail with err
func (m *MockTransport) SetConnectError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connectErr = err
}

// Drop simulates a lost connection reported with err
func (m *MockTransport) Drop(err error) {
	m.mu.Lock()
	m.connected = false
	h := m.handler
	m.mu.Unlock()
	if h != nil {
		h.ConnectionChanged(api.Disconnected, err)
	}
}

// Deliver hands inbound messages to the handler in order
func (m *MockTransport) Deliver(msgs ...api.Message) {
	m.mu.Lock()
	h := m.handler
	m.mu.Unlock()
	for _, msg := range msgs {
		h.HandleMessage(msg)
	}
}

// Sent returns a copy of the commands sent so far
func (m *MockTransport) Sent() []api.Command {
	m.mu.Lock()
	defer m.mu.Unlock()
	res := make([]api.Command, len(m.sent))
	copy(res, m.sent)
	return res
}

// LastSent returns the most recent command, or nil
func (m *MockTransport) LastSent() api.Command {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return nil
	}
	return m.sent[len(m.sent)-1]
}

// Connects returns the number of Connect calls
func (m *MockTransport) Connects() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connects
}

// Disconnects returns the number of Disconnect calls
func (m *MockTransport) Disconnects() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.disconnects
}
