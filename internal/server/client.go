package server

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kode4food/flowsession/pkg/api"
	"github.com/kode4food/flowsession/pkg/log"
)

// Client is one simulated session connection. Only its run loop writes to
// the socket; script runs hand their events over through a channel
type Client struct {
	conn    *websocket.Conn
	flowID  string
	cfg     Config
	out     chan api.Message
	answers chan string
	quit    chan struct{}
	done    chan struct{}

	mu        sync.Mutex
	cancelRun context.CancelFunc
	closeOnce sync.Once
}

const (
	writeWait          = 10 * time.Second
	pongWait           = 60 * time.Second
	pingPeriod         = (pongWait * 9) / 10
	maxMessageSize     = 64 << 10
	wsBufferSize       = 1024
	incomingBufferSize = 16
	outgoingBufferSize = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  wsBufferSize,
	WriteBufferSize: wsBufferSize,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

func newClient(conn *websocket.Conn, flowID string, cfg Config) *Client {
	return &Client{
		conn:    conn,
		flowID:  flowID,
		cfg:     cfg,
		out:     make(chan api.Message, outgoingBufferSize),
		answers: make(chan string, 1),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Close ends the session with a normal closure
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.quit)
	})
	<-c.done
}

func (c *Client) run() {
	defer func() {
		c.stopRun()
		_ = c.conn.Close()
		close(c.done)
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	incoming := make(chan []byte, incomingBufferSize)
	go c.readMessages(incoming)

	slog.Info("Session opened",
		log.FlowID(c.flowID))
	if !c.write(&api.ConnectedMessage{FlowName: c.flowID}) {
		return
	}

	for {
		select {
		case data, ok := <-incoming:
			if !ok {
				slog.Info("Session closed by client",
					log.FlowID(c.flowID))
				return
			}
			c.handleCommand(data)

		case msg := <-c.out:
			if !c.write(msg) {
				return
			}

		case <-ticker.C:
			if !c.sendPing() {
				return
			}

		case <-c.quit:
			msg := websocket.FormatCloseMessage(
				websocket.CloseNormalClosure, "server shutting down",
			)
			_ = c.conn.WriteControl(
				websocket.CloseMessage, msg, time.Now().Add(writeWait),
			)
			return
		}
	}
}

func (c *Client) readMessages(incoming chan []byte) {
	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			close(incoming)
			return
		}
		select {
		case incoming <- message:
		case <-c.done:
			return
		}
	}
}

func (c *Client) handleCommand(data []byte) {
	cmd, err := api.DecodeCommand(data)
	if err != nil {
		slog.Warn("Failed to parse command",
			log.FlowID(c.flowID),
			log.Error(err))
		c.emit(&api.ErrorMessage{Message: err.Error()})
		return
	}

	switch cmd := cmd.(type) {
	case *api.FlowInputCommand:
		c.startRun(cmd.Message)
	case *api.UserInputCommand:
		select {
		case c.answers <- cmd.Input.Value:
		default:
			slog.Warn("Unexpected user input",
				log.FlowID(c.flowID),
				log.NodeID(cmd.NodeID))
		}
	case *api.StopCommand:
		slog.Info("Flow stopped by client",
			log.FlowID(c.flowID))
		c.stopRun()
	}
}

func (c *Client) startRun(input string) {
	c.stopRun()
	ctx, cancel := context.WithCancel(context.Background())

	c.mu.Lock()
	c.cancelRun = cancel
	c.mu.Unlock()

	// drop answers meant for an earlier run
	select {
	case <-c.answers:
	default:
	}

	run := &Run{
		Input:   input,
		ctx:     ctx,
		out:     c.out,
		answers: c.answers,
		delay:   c.cfg.StepDelay,
	}
	go func() {
		defer cancel()
		if err := c.cfg.Script(run); err != nil && ctx.Err() == nil {
			slog.Warn("Script failed",
				log.FlowID(c.flowID),
				log.Error(err))
			run.Emit(&api.ErrorMessage{Message: err.Error()})
		}
	}()
}

func (c *Client) stopRun() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancelRun != nil {
		c.cancelRun()
		c.cancelRun = nil
	}
}

func (c *Client) emit(msg api.Message) {
	select {
	case c.out <- msg:
	default:
		slog.Warn("Dropping outbound message",
			log.FlowID(c.flowID),
			log.MessageType(msg.Type()))
	}
}

func (c *Client) write(msg api.Message) bool {
	data, err := api.EncodeMessage(msg)
	if err != nil {
		slog.Error("Failed to encode message",
			log.MessageType(msg.Type()),
			log.Error(err))
		return true
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		slog.Error("WebSocket write failed",
			log.FlowID(c.flowID),
			log.Error(err))
		return false
	}
	return true
}

func (c *Client) sendPing() bool {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	err := c.conn.WriteMessage(websocket.PingMessage, nil)
	return err == nil
}
