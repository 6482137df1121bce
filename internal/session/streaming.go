package session

import (
	"fmt"
	"log/slog"

	"github.com/kode4food/flowsession/pkg/api"
	"github.com/kode4food/flowsession/pkg/log"
)

const (
	timeoutNotice   = "[stream timed out after %s without activity]"
	interruptNotice = "[stream interrupted by connection loss]"
)

// onStreamingUpdate folds a fragment into the node's accumulated text. The
// node keeps a single live entry that is updated in place until the stream
// completes or stalls
func (c *Controller) onStreamingUpdate(m *api.StreamingUpdateMessage) {
	if c.st.streamsHalted {
		slog.Debug("Dropping stream fragment of halted run",
			log.FlowID(c.cfg.FlowID),
			log.NodeID(m.NodeID))
		return
	}

	text := c.st.streamText[m.NodeID]
	switch {
	case m.Accumulated != nil:
		text = *m.Accumulated
	case m.Delta != nil:
		text += *m.Delta
	}

	e := c.st.liveStream(m.NodeID)
	if e == nil {
		e = c.nodeEntry(api.EntryStreamingUpdate, m.NodeID, m.NodeLabel)
		e.IsStreaming = true
		e.Content = text
		c.st.append(e)
	} else {
		e.Content = text
		if e.NodeLabel == "" {
			e.NodeLabel = m.NodeLabel
		}
	}

	if m.IsComplete {
		c.timers.cancel(m.NodeID)
		delete(c.st.streamText, m.NodeID)
		e.Kind = api.EntryNodeOutput
		e.IsStreaming = false
	} else {
		c.st.streamText[m.NodeID] = text
		c.timers.arm(m.NodeID)
	}

	c.publish(api.Change{
		Kind: api.ChangeTranscript, EntryID: e.ID, NodeID: e.NodeID,
	})
}

// timerFired runs on the timer's goroutine and only hands the fire over to
// the runner; a runner that has been flushed refuses it
func (c *Controller) timerFired(nodeID string, gen uint64) {
	c.runner.post(func() {
		c.onStreamTimeout(nodeID, gen)
	})
}

func (c *Controller) onStreamTimeout(nodeID string, gen uint64) {
	if !c.timers.claim(nodeID, gen) {
		slog.Debug("Ignoring superseded stream timer",
			log.FlowID(c.cfg.FlowID),
			log.NodeID(nodeID))
		return
	}
	delete(c.st.streamText, nodeID)

	e := c.st.liveStream(nodeID)
	if e == nil {
		return
	}
	markStalled(e, fmt.Sprintf(timeoutNotice, c.cfg.StreamTimeout))

	slog.Warn("Stream stalled",
		log.FlowID(c.cfg.FlowID),
		log.NodeID(nodeID),
		log.EntryID(e.ID),
		log.Error(api.ErrStreamTimeout))
	c.publish(api.Change{
		Kind: api.ChangeTranscript, EntryID: e.ID, NodeID: nodeID,
	})
}

// haltStreams cancels every streaming timer and closes the live entries so
// that no late fragment can touch them again
func (c *Controller) haltStreams() {
	c.timers.cancelAll()
	for _, id := range c.st.finalizeStreams() {
		c.publish(api.Change{Kind: api.ChangeTranscript, EntryID: id})
	}
}
