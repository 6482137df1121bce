package conn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kode4food/flowsession/internal/auth"
	"github.com/kode4food/flowsession/internal/config"
	"github.com/kode4food/flowsession/pkg/api"
	"github.com/kode4food/flowsession/pkg/log"
)

type (
	// Handler receives connection lifecycle changes and inbound messages.
	// Calls for one Manager never overlap
	Handler interface {
		ConnectionChanged(status api.ConnectionStatus, err error)
		HandleMessage(msg api.Message)
	}

	// Manager maintains exactly one logical duplex connection per session
	Manager struct {
		cfg    *config.Config
		tokens auth.TokenProvider
		dialer *websocket.Dialer

		mu       sync.Mutex
		handler  Handler
		status   api.ConnectionStatus
		link     *link
		epoch    uint64
		attempts int
		retry    *time.Timer
		lastErr  error

		// serializes handler callbacks across the read and dial goroutines
		deliverMu sync.Mutex
	}

	link struct {
		ws      *websocket.Conn
		epoch   uint64
		writeMu sync.Mutex
		done    chan struct{}
		once    sync.Once
	}
)

var (
	ErrNotConnected = errors.New("not connected")
	ErrNoHandler    = errors.New("no message handler registered")
)

// NewManager creates a disconnected Manager for the configured session
func NewManager(cfg *config.Config, tokens auth.TokenProvider) *Manager {
	return &Manager{
		cfg:    cfg,
		tokens: tokens,
		status: api.Disconnected,
		dialer: &websocket.Dialer{
			Proxy:            websocket.DefaultDialer.Proxy,
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
	}
}

// Register installs the single handler for lifecycle changes and messages,
// replacing any previous one
func (m *Manager) Register(h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler = h
}

// Status returns the current connection status
func (m *Manager) Status() api.ConnectionStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// LastError returns the error that caused the most recent disconnect, or nil
// when the last closure was deliberate or normal
func (m *Manager) LastError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// Connect opens the connection. It is a no-op when already connected or
// connecting. A manual Connect restores the full automatic reconnection
// budget
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.handler == nil {
		m.mu.Unlock()
		return ErrNoHandler
	}
	if m.status != api.Disconnected {
		m.mu.Unlock()
		return nil
	}
	m.stopRetryLocked()
	m.attempts = 0
	epoch := m.beginConnectLocked()
	m.mu.Unlock()

	m.notify(epoch, api.Connecting, nil)
	return m.open(ctx, epoch)
}

// Disconnect cancels any pending reconnection, closes the transport with a
// normal closure, and transitions to disconnected. It is idempotent
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.stopRetryLocked()
	m.epoch++
	m.attempts = 0
	m.lastErr = nil
	l := m.link
	m.link = nil
	prev := m.status
	m.status = api.Disconnected
	epoch := m.epoch
	m.mu.Unlock()

	if l != nil {
		l.closeNormal(m.cfg.WriteWait)
		slog.Info("Connection closed",
			log.FlowID(m.cfg.FlowID))
	}
	if prev != api.Disconnected {
		m.notify(epoch, api.Disconnected, nil)
	}
}

// Send serializes and transmits a command. It only transmits while connected;
// otherwise, or when the write fails, it logs a warning and returns false
func (m *Manager) Send(cmd api.Command) bool {
	m.mu.Lock()
	l := m.link
	connected := m.status == api.Connected
	m.mu.Unlock()

	if !connected || l == nil {
		slog.Warn("Dropping command, not connected",
			slog.String("command_type", string(cmd.Type())),
			log.FlowID(m.cfg.FlowID))
		return false
	}

	data, err := api.EncodeCommand(cmd)
	if err != nil {
		slog.Warn("Failed to encode command",
			slog.String("command_type", string(cmd.Type())),
			log.Error(err))
		return false
	}

	if err := l.write(websocket.TextMessage, data, m.cfg.WriteWait); err != nil {
		slog.Warn("WebSocket write failed",
			slog.String("command_type", string(cmd.Type())),
			log.Error(err))
		return false
	}
	return true
}

func (m *Manager) beginConnectLocked() uint64 {
	m.epoch++
	m.status = api.Connecting
	return m.epoch
}

func (m *Manager) open(ctx context.Context, epoch uint64) error {
	token, err := m.tokens.GetValidToken(ctx)
	if err == nil && token == "" {
		err = auth.ErrNoToken
	}
	if err != nil {
		err = fmt.Errorf("%w: %w", api.ErrAuthUnavailable, err)
		m.failConnect(epoch, err, false)
		return err
	}

	ws, _, err := m.dialer.DialContext(ctx, m.dialURL(token), nil)
	if err != nil {
		err = fmt.Errorf("%w: %w", api.ErrTransport, err)
		m.failConnect(epoch, err, true)
		return err
	}

	l := &link{
		ws:    ws,
		epoch: epoch,
		done:  make(chan struct{}),
	}

	m.mu.Lock()
	if m.epoch != epoch {
		m.mu.Unlock()
		l.closeNormal(m.cfg.WriteWait)
		return nil
	}
	m.link = l
	m.status = api.Connected
	m.attempts = 0
	m.lastErr = nil
	m.mu.Unlock()

	slog.Info("Connection established",
		log.FlowID(m.cfg.FlowID))

	m.notify(epoch, api.Connected, nil)
	go m.readLoop(l)
	go m.pingLoop(l)
	return nil
}

func (m *Manager) failConnect(epoch uint64, err error, retry bool) {
	m.mu.Lock()
	if m.epoch != epoch {
		m.mu.Unlock()
		return
	}
	m.status = api.Disconnected
	m.lastErr = err
	if retry {
		m.scheduleReconnectLocked(epoch)
	}
	m.mu.Unlock()

	slog.Warn("Connection failed",
		log.FlowID(m.cfg.FlowID),
		log.Error(err))
	m.notify(epoch, api.Disconnected, err)
}

func (m *Manager) readLoop(l *link) {
	l.ws.SetReadLimit(m.cfg.MaxMessageSize)
	_ = l.ws.SetReadDeadline(time.Now().Add(m.cfg.PongWait))
	l.ws.SetPongHandler(func(string) error {
		return l.ws.SetReadDeadline(time.Now().Add(m.cfg.PongWait))
	})

	for {
		_, data, err := l.ws.ReadMessage()
		if err != nil {
			m.handleClosed(l, err)
			return
		}

		msg, err := api.DecodeMessage(data)
		if err != nil {
			slog.Warn("Dropping inbound frame",
				log.FlowID(m.cfg.FlowID),
				log.Error(err))
			continue
		}
		m.deliver(l.epoch, msg)
	}
}

func (m *Manager) pingLoop(l *link) {
	ticker := time.NewTicker(m.cfg.PingPeriod())
	defer ticker.Stop()

	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			if err := l.write(
				websocket.PingMessage, nil, m.cfg.WriteWait,
			); err != nil {
				return
			}
		}
	}
}

func (m *Manager) handleClosed(l *link, err error) {
	l.stop()

	m.mu.Lock()
	if m.epoch != l.epoch || m.link != l {
		m.mu.Unlock()
		_ = l.ws.Close()
		return
	}
	m.link = nil
	m.status = api.Disconnected
	var reported error
	if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		reported = fmt.Errorf("%w: %w", api.ErrTransport, err)
	}
	m.lastErr = reported
	if reported != nil {
		m.scheduleReconnectLocked(l.epoch)
	}
	m.mu.Unlock()

	_ = l.ws.Close()
	if reported != nil {
		slog.Warn("Connection lost",
			log.FlowID(m.cfg.FlowID),
			log.Error(reported))
	} else {
		slog.Info("Connection closed by server",
			log.FlowID(m.cfg.FlowID))
	}
	m.notify(l.epoch, api.Disconnected, reported)
}

func (m *Manager) scheduleReconnectLocked(epoch uint64) {
	if m.attempts >= m.cfg.ReconnectAttempts {
		slog.Error("Giving up on reconnection",
			log.FlowID(m.cfg.FlowID),
			slog.Int("attempts", m.attempts),
			log.Error(m.lastErr))
		return
	}
	m.attempts++
	attempt := m.attempts

	slog.Info("Scheduling reconnection",
		log.FlowID(m.cfg.FlowID),
		slog.Int("attempt", attempt),
		slog.Duration("delay", m.cfg.ReconnectInterval))

	m.retry = time.AfterFunc(m.cfg.ReconnectInterval, func() {
		m.reconnect(epoch)
	})
}

func (m *Manager) reconnect(epoch uint64) {
	m.mu.Lock()
	if m.epoch != epoch || m.status != api.Disconnected {
		m.mu.Unlock()
		return
	}
	m.retry = nil
	next := m.beginConnectLocked()
	m.mu.Unlock()

	m.notify(next, api.Connecting, nil)
	ctx, cancel := context.WithTimeout(
		context.Background(), m.cfg.HandshakeTimeout,
	)
	defer cancel()
	_ = m.open(ctx, next)
}

func (m *Manager) stopRetryLocked() {
	if m.retry != nil {
		m.retry.Stop()
		m.retry = nil
	}
}

func (m *Manager) notify(
	epoch uint64, status api.ConnectionStatus, err error,
) {
	m.deliverMu.Lock()
	defer m.deliverMu.Unlock()

	m.mu.Lock()
	h := m.handler
	current := m.epoch == epoch
	m.mu.Unlock()

	// a deliberate Disconnect reports with the new epoch; stale reports from
	// superseded attempts are dropped
	if h == nil || !current {
		return
	}
	h.ConnectionChanged(status, err)
}

func (m *Manager) deliver(epoch uint64, msg api.Message) {
	m.deliverMu.Lock()
	defer m.deliverMu.Unlock()

	m.mu.Lock()
	h := m.handler
	current := m.epoch == epoch
	m.mu.Unlock()

	if h == nil || !current {
		return
	}
	h.HandleMessage(msg)
}

func (m *Manager) dialURL(token string) string {
	u, err := url.Parse(m.cfg.SessionURL())
	if err != nil {
		return m.cfg.SessionURL()
	}
	q := u.Query()
	q.Set(m.cfg.TokenParam, token)
	u.RawQuery = q.Encode()
	return u.String()
}

func (l *link) write(
	messageType int, data []byte, wait time.Duration,
) error {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	_ = l.ws.SetWriteDeadline(time.Now().Add(wait))
	return l.ws.WriteMessage(messageType, data)
}

func (l *link) closeNormal(wait time.Duration) {
	l.stop()
	l.writeMu.Lock()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = l.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wait))
	l.writeMu.Unlock()
	_ = l.ws.Close()
}

func (l *link) stop() {
	l.once.Do(func() {
		close(l.done)
	})
}
