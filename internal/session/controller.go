package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kode4food/caravan/topic"

	"github.com/kode4food/flowsession/internal/config"
	"github.com/kode4food/flowsession/internal/conn"
	"github.com/kode4food/flowsession/pkg/api"
	"github.com/kode4food/flowsession/pkg/log"
)

type (
	// Controller owns the state of one interactive flow test session. Every
	// exported method is safe for concurrent use, but none may be called from
	// a change feed consumer that blocks the caller of that method
	Controller struct {
		cfg       *config.Config
		transport Transport
		archiver  Archiver
		now       func() time.Time
		runner    *taskRunner
		feed      *changeFeed
		timers    *streamTimers
		st        *state

		closeOnce sync.Once
		mu        sync.Mutex
		final     *api.Projection
	}

	// Transport is the connection the controller drives. It reports back
	// through the conn.Handler it is given at registration
	Transport interface {
		Register(h conn.Handler)
		Connect(ctx context.Context) error
		Disconnect()
		Send(cmd api.Command) bool
	}

	// Archiver persists the final projection of a session
	Archiver interface {
		Archive(ctx context.Context, p *api.Projection) error
	}

	// Options contains optional collaborators of a Controller
	Options struct {
		Archiver Archiver
		Clock    func() time.Time
	}

	// Applier mutates Options during controller setup
	Applier func(*Options)
)

var (
	ErrNotConnected  = errors.New("session not connected")
	ErrEmptyMessage  = errors.New("message is empty")
	ErrNotRetryable  = errors.New("node has no timed out stream to retry")
	ErrNoUserMessage = errors.New("no user message to re-send")
	ErrSessionClosed = errors.New("session closed")
)

var _ conn.Handler = (*Controller)(nil)

// WithArchiver stores the final transcript when the session is closed
func WithArchiver(a Archiver) Applier {
	return func(opt *Options) {
		opt.Archiver = a
	}
}

// WithClock overrides the source of transcript timestamps
func WithClock(now func() time.Time) Applier {
	return func(opt *Options) {
		opt.Clock = now
	}
}

// New creates a Controller bound to the transport and starts its runner. The
// controller registers itself as the transport's handler
func New(cfg *config.Config, tr Transport, apps ...Applier) *Controller {
	opt := &Options{Clock: time.Now}
	for _, app := range apps {
		app(opt)
	}

	c := &Controller{
		cfg:       cfg,
		transport: tr,
		archiver:  opt.Archiver,
		now:       opt.Clock,
		runner:    newTaskRunner(),
		feed:      newChangeFeed(),
		st:        newState(cfg.FlowID),
	}
	c.timers = newStreamTimers(cfg.StreamTimeout, c.timerFired)
	c.runner.start()
	tr.Register(c)
	return c
}

// Connect opens the session connection
func (c *Controller) Connect(ctx context.Context) error {
	if c.isClosed() {
		return ErrSessionClosed
	}
	return c.transport.Connect(ctx)
}

// Disconnect deliberately closes the connection. Streaming timers, stream
// accumulations, and pending input requests are discarded before it returns,
// and stream fragments still in flight are dropped; the transcript is kept
func (c *Controller) Disconnect() error {
	err := c.runner.do(func() {
		c.haltStreams()
		c.st.streamsHalted = true
		c.st.clearPending()
		if c.st.flowRunning {
			c.st.flowRunning = false
			c.publish(api.Change{Kind: api.ChangeFlowState})
		}
		c.publish(api.Change{Kind: api.ChangeInput})
	})
	if err != nil {
		return err
	}
	c.transport.Disconnect()
	return nil
}

// Close tears the session down. Outstanding timers are cancelled, the
// connection is closed, and the final projection is archived if an archiver
// was supplied. Timer fires that race the teardown are never observable
func (c *Controller) Close(ctx context.Context) error {
	var err error
	c.closeOnce.Do(func() {
		var final *api.Projection
		var cancelled int
		_ = c.runner.do(func() {
			cancelled = c.timers.len()
			c.timers.cancelAll()
			c.st.finalizeStreams()
			final = c.st.projection()
		})
		c.transport.Disconnect()
		c.runner.flush()
		c.feed.close()

		if final == nil {
			final = &api.Projection{FlowID: c.cfg.FlowID}
		}
		final.Connection = api.Disconnected

		c.mu.Lock()
		c.final = final
		c.mu.Unlock()

		if c.archiver != nil {
			if err = c.archiver.Archive(ctx, final); err != nil {
				slog.Error("Failed to archive transcript",
					log.FlowID(c.cfg.FlowID),
					log.Error(err))
			}
		}
		slog.Info("Session closed",
			log.FlowID(c.cfg.FlowID),
			slog.Int("cancelled_timers", cancelled))
	})
	return err
}

// Snapshot returns a copy of the current session projection
func (c *Controller) Snapshot() *api.Projection {
	var res *api.Projection
	if err := c.runner.do(func() {
		res = c.st.projection()
	}); err != nil {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.final != nil {
			return c.final
		}
		return &api.Projection{
			FlowID:     c.cfg.FlowID,
			Connection: api.Disconnected,
		}
	}
	return res
}

// Subscribe returns a consumer of projection changes. The caller closes it
func (c *Controller) Subscribe() topic.Consumer[api.Change] {
	return c.feed.subscribe()
}

// ConnectionChanged applies a connection lifecycle change from the transport
func (c *Controller) ConnectionChanged(
	status api.ConnectionStatus, err error,
) {
	c.runner.post(func() {
		c.st.connection = status
		c.st.connErr = err
		c.publish(api.Change{Kind: api.ChangeConnection})
		if status == api.Disconnected && err != nil {
			c.abandonRun()
		}
	})
}

// abandonRun ends the running flow after the connection was lost. The
// backend does not carry a run across sockets, so pending input requests are
// dropped and live streams become retryable interruptions
func (c *Controller) abandonRun() {
	c.st.streamsHalted = true
	c.timers.cancelAll()
	for _, e := range c.st.interruptStreams(interruptNotice) {
		c.publish(api.Change{
			Kind: api.ChangeTranscript, EntryID: e.ID, NodeID: e.NodeID,
		})
	}
	if c.st.pending.Len() > 0 {
		c.st.clearPending()
		c.publish(api.Change{Kind: api.ChangeInput})
	}
	if c.st.flowRunning {
		c.st.flowRunning = false
		c.publish(api.Change{Kind: api.ChangeFlowState})
	}
}

// HandleMessage applies one inbound message. Messages are applied in the
// order they are handed over
func (c *Controller) HandleMessage(msg api.Message) {
	c.runner.post(func() {
		c.dispatch(msg)
	})
}

func (c *Controller) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.final != nil
}

func (c *Controller) newEntry(
	kind api.EntryKind, content string,
) *api.TranscriptEntry {
	return &api.TranscriptEntry{
		ID:        uuid.NewString(),
		Kind:      kind,
		Content:   content,
		Timestamp: c.now().UTC(),
	}
}

func (c *Controller) appendEntry(e *api.TranscriptEntry) {
	c.st.append(e)
	c.publish(api.Change{
		Kind:    api.ChangeTranscript,
		EntryID: e.ID,
		NodeID:  e.NodeID,
	})
}

func (c *Controller) publish(ch api.Change) {
	c.feed.publish(ch)
}
