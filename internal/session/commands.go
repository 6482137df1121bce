package session

import (
	"log/slog"
	"strings"

	"github.com/kode4food/flowsession/pkg/api"
	"github.com/kode4food/flowsession/pkg/log"
)

// SendUserMessage records the text as a user entry and sends it. When a node
// is waiting for input, the earliest such request receives the text as its
// answer; otherwise the text starts a fresh flow run
func (c *Controller) SendUserMessage(text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyMessage
	}

	var res error
	err := c.runner.do(func() {
		if c.st.connection != api.Connected {
			res = ErrNotConnected
			return
		}

		c.appendEntry(c.newEntry(api.EntryUser, text))

		if p := c.st.pending.Oldest(); p != nil {
			nodeID := p.Key
			if !c.transport.Send(api.NewUserInput(nodeID, text)) {
				res = ErrNotConnected
				return
			}
			c.st.pending.Delete(nodeID)
			c.publish(api.Change{Kind: api.ChangeInput, NodeID: nodeID})
			slog.Debug("Answered input request",
				log.FlowID(c.cfg.FlowID),
				log.NodeID(nodeID))
			return
		}

		c.st.streamsHalted = false
		if !c.transport.Send(api.NewFlowInput(text, c.now())) {
			res = ErrNotConnected
		}
	})
	if err != nil {
		return err
	}
	return res
}

// Stop cancels the running flow. Streaming timers are cancelled before it
// returns, live streams are closed with the text received so far, and
// pending input requests are dropped. The transcript is kept
func (c *Controller) Stop() error {
	var res error
	err := c.runner.do(func() {
		c.haltStreams()
		c.st.streamsHalted = true
		c.st.clearPending()
		c.st.flowRunning = false
		c.publish(api.Change{Kind: api.ChangeInput})
		c.publish(api.Change{Kind: api.ChangeFlowState})

		if !c.transport.Send(&api.StopCommand{}) {
			res = ErrNotConnected
		}
	})
	if err != nil {
		return err
	}
	return res
}

// RetryStreaming discards the node's timed out entry and re-sends the most
// recent user message as a fresh flow run. Only stalled streams qualify;
// errors declared by the server do not. An empty node id retries the most
// recent stalled stream of any node
func (c *Controller) RetryStreaming(nodeID string) error {
	var res error
	err := c.runner.do(func() {
		e := c.st.latestTimedOut(nodeID)
		if e == nil {
			res = ErrNotRetryable
			return
		}
		text, ok := c.st.lastUserMessage()
		if !ok {
			res = ErrNoUserMessage
			return
		}
		if c.st.connection != api.Connected {
			res = ErrNotConnected
			return
		}

		c.st.remove(e.ID)
		c.publish(api.Change{
			Kind: api.ChangeTranscript, EntryID: e.ID, NodeID: e.NodeID,
		})
		slog.Info("Retrying stalled stream",
			log.FlowID(c.cfg.FlowID),
			log.NodeID(e.NodeID))

		c.st.streamsHalted = false
		if !c.transport.Send(api.NewFlowInput(text, c.now())) {
			res = ErrNotConnected
		}
	})
	if err != nil {
		return err
	}
	return res
}

// ResetAll returns every node to idle
func (c *Controller) ResetAll() error {
	return c.runner.do(c.resetStatuses)
}
