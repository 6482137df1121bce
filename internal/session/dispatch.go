package session

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/kode4food/flowsession/pkg/api"
	"github.com/kode4food/flowsession/pkg/log"
)

func (c *Controller) dispatch(msg api.Message) {
	slog.Debug("Applying message",
		log.FlowID(c.cfg.FlowID),
		log.MessageType(msg.Type()))

	switch m := msg.(type) {
	case *api.ConnectedMessage:
		c.onConnected(m)
	case *api.SessionStartedMessage:
		c.startRun("Flow started")
	case *api.FlowRestartedMessage:
		c.onFlowRestarted(m)
	case *api.NodeStartMessage:
		c.onNodeStart(m)
	case *api.NodeCompleteMessage:
		c.onNodeComplete(m)
	case *api.NodeErrorMessage:
		c.onNodeError(m)
	case *api.NodeOutputMessage:
		c.onNodeOutput(m)
	case *api.FlowCompleteMessage:
		c.onFlowComplete(m)
	case *api.InputRequiredMessage:
		c.onInputRequired(m)
	case *api.StreamingUpdateMessage:
		c.onStreamingUpdate(m)
	case *api.ErrorMessage:
		c.onSessionError(m)
	default:
		slog.Warn("Dropping unhandled message",
			log.FlowID(c.cfg.FlowID),
			log.MessageType(msg.Type()),
			log.Error(api.ErrUnknownMessageType))
	}
}

func (c *Controller) onConnected(m *api.ConnectedMessage) {
	content := "Connected"
	if m.FlowName != "" {
		content = fmt.Sprintf("Connected to %s", m.FlowName)
	}
	c.appendEntry(c.newEntry(api.EntrySystem, content))
}

func (c *Controller) onFlowRestarted(m *api.FlowRestartedMessage) {
	content := m.Message
	if content == "" {
		content = "Flow restarted"
	}
	c.startRun(content)
}

// startRun marks the flow running and returns every node to idle so that
// nothing highlighted by an earlier run survives into this one
func (c *Controller) startRun(content string) {
	c.st.streamsHalted = false
	c.st.flowRunning = true
	c.resetStatuses()
	c.publish(api.Change{Kind: api.ChangeFlowState})
	c.appendEntry(c.newEntry(api.EntrySystem, content))
}

func (c *Controller) resetStatuses() {
	c.st.resetStatuses()
	c.publish(api.Change{Kind: api.ChangeNodeStatus})
}

func (c *Controller) onNodeStart(m *api.NodeStartMessage) {
	c.setStatus(m.NodeID, api.NodeExecuting)
	if c.cfg.VerboseTranscript {
		e := c.nodeEntry(api.EntryNodeStart, m.NodeID, m.NodeLabel)
		e.Content = fmt.Sprintf("%s started", e.Label())
		c.appendEntry(e)
	}
}

func (c *Controller) onNodeComplete(m *api.NodeCompleteMessage) {
	c.setStatus(m.NodeID, api.NodeCompleted)
	if c.cfg.VerboseTranscript {
		e := c.nodeEntry(api.EntryNodeComplete, m.NodeID, m.NodeLabel)
		e.Content = fmt.Sprintf("%s completed", e.Label())
		e.Payload = payload(m.Result)
		c.appendEntry(e)
	}
}

func (c *Controller) onNodeError(m *api.NodeErrorMessage) {
	c.timers.cancel(m.NodeID)
	delete(c.st.streamText, m.NodeID)
	if e := c.st.liveStream(m.NodeID); e != nil {
		e.IsStreaming = false
		e.Kind = api.EntryNodeOutput
		c.publish(api.Change{
			Kind: api.ChangeTranscript, EntryID: e.ID, NodeID: e.NodeID,
		})
	}

	c.setStatus(m.NodeID, api.NodeError)
	e := c.nodeEntry(api.EntryNodeError, m.NodeID, m.NodeLabel)
	e.Content = m.Error
	if e.Content == "" {
		e.Content = api.ErrExecution.Error()
	}
	slog.Info("Node reported error",
		log.FlowID(c.cfg.FlowID),
		log.NodeID(m.NodeID),
		log.ErrorString(m.Error))
	c.appendEntry(e)
}

func (c *Controller) onNodeOutput(m *api.NodeOutputMessage) {
	kind := api.EntryNodeOutput
	if m.IsTerminalOutput() {
		kind = api.EntrySystem
	}
	e := c.nodeEntry(kind, m.NodeID, m.NodeLabel)
	e.Content = api.RenderValue(m.Output)
	e.Payload = payload(m.Output)
	c.appendEntry(e)
}

func (c *Controller) onFlowComplete(m *api.FlowCompleteMessage) {
	c.st.flowRunning = false
	c.publish(api.Change{Kind: api.ChangeFlowState})

	e := c.newEntry(api.EntrySystem, "Flow completed")
	switch {
	case len(m.Result) > 0:
		e.Payload = payload(m.Result)
	case len(m.Output) > 0:
		e.Payload = payload(m.Output)
	}
	if len(m.Output) > 0 {
		if out := api.RenderValue(m.Output); out != "" {
			e.Content = out
		}
	}
	c.appendEntry(e)
}

func (c *Controller) onInputRequired(m *api.InputRequiredMessage) {
	c.st.pending.Set(m.NodeID, payload(m.InputSchema))
	c.publish(api.Change{Kind: api.ChangeInput, NodeID: m.NodeID})

	e := c.nodeEntry(api.EntryInputRequired, m.NodeID, m.NodeLabel)
	e.Content = m.Message
	if e.Content == "" {
		e.Content = fmt.Sprintf("%s is waiting for input", e.Label())
	}
	e.Payload = payload(m.InputSchema)
	c.appendEntry(e)
}

func (c *Controller) onSessionError(m *api.ErrorMessage) {
	c.st.flowRunning = false
	c.publish(api.Change{Kind: api.ChangeFlowState})

	text := m.Message
	if text == "" {
		text = api.ErrSession.Error()
	}
	slog.Warn("Session error reported",
		log.FlowID(c.cfg.FlowID),
		log.ErrorString(text))
	c.appendEntry(c.newEntry(api.EntrySystem, "Error: "+text))
}

func (c *Controller) setStatus(nodeID string, to api.NodeStatus) {
	if c.st.transition(nodeID, to) {
		c.publish(api.Change{Kind: api.ChangeNodeStatus, NodeID: nodeID})
	}
}

func (c *Controller) nodeEntry(
	kind api.EntryKind, nodeID, label string,
) *api.TranscriptEntry {
	e := c.newEntry(kind, "")
	e.NodeID = nodeID
	e.NodeLabel = label
	return e
}

func payload(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return raw
}
