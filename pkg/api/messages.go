package api

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
)

type (
	// MessageType is the envelope discriminator of an inbound server message
	MessageType string

	// Message is any typed inbound server message
	Message interface {
		Type() MessageType
	}

	// ConnectedMessage acknowledges the session connection
	ConnectedMessage struct {
		FlowName string `json:"flow_name,omitempty"`
	}

	// SessionStartedMessage announces the start of a flow run
	SessionStartedMessage struct{}

	// FlowRestartedMessage announces a re-run of the flow
	FlowRestartedMessage struct {
		Message string `json:"message,omitempty"`
	}

	// NodeStartMessage is sent when a node begins executing
	NodeStartMessage struct {
		NodeID    string `json:"node_id"`
		NodeLabel string `json:"node_label,omitempty"`
	}

	// NodeCompleteMessage is sent when a node finishes successfully
	NodeCompleteMessage struct {
		NodeID    string          `json:"node_id"`
		NodeLabel string          `json:"node_label,omitempty"`
		Result    json.RawMessage `json:"result,omitempty"`
	}

	// NodeErrorMessage is sent when the backend reports a node failure
	NodeErrorMessage struct {
		NodeID    string `json:"node_id"`
		NodeLabel string `json:"node_label,omitempty"`
		Error     string `json:"error"`
	}

	// NodeOutputMessage carries output produced by a node. A terminal flow
	// output is the primary answer of the run
	NodeOutputMessage struct {
		NodeID    string          `json:"node_id"`
		NodeLabel string          `json:"node_label,omitempty"`
		NodeType  string          `json:"node_type,omitempty"`
		Output    json.RawMessage `json:"output,omitempty"`
		IsFinal   bool            `json:"is_final,omitempty"`
	}

	// FlowCompleteMessage is sent when the flow run ends
	FlowCompleteMessage struct {
		Output json.RawMessage `json:"output,omitempty"`
		Result json.RawMessage `json:"result,omitempty"`
	}

	// InputRequiredMessage asks the user for data on behalf of a node
	InputRequiredMessage struct {
		NodeID      string          `json:"node_id"`
		NodeLabel   string          `json:"node_label,omitempty"`
		InputSchema json.RawMessage `json:"input_schema,omitempty"`
		Message     string          `json:"message,omitempty"`
	}

	// StreamingUpdateMessage carries a fragment of streamed node output.
	// Accumulated, when present, supersedes the locally reconstructed text
	StreamingUpdateMessage struct {
		NodeID      string  `json:"node_id"`
		NodeLabel   string  `json:"node_label,omitempty"`
		Delta       *string `json:"delta,omitempty"`
		Accumulated *string `json:"accumulated,omitempty"`
		IsComplete  bool    `json:"is_complete"`
	}

	// ErrorMessage reports a session-level failure
	ErrorMessage struct {
		Message string `json:"message"`
	}

	nodeMessage interface {
		nodeID() string
	}
)

const (
	MessageConnected       MessageType = "connected"
	MessageSessionStarted  MessageType = "session_started"
	MessageFlowRestarted   MessageType = "flow_restarted"
	MessageNodeStart       MessageType = "node_start"
	MessageNodeComplete    MessageType = "node_complete"
	MessageNodeError       MessageType = "node_error"
	MessageNodeOutput      MessageType = "node_output"
	MessageFlowComplete    MessageType = "flow_complete"
	MessageInputRequired   MessageType = "input_required"
	MessageStreamingUpdate MessageType = "streaming_update"
	MessageError           MessageType = "error"
)

var terminalNodeTypes = map[string]bool{
	"output":      true,
	"chat_output": true,
	"flow_output": true,
}

var messageTypes = map[MessageType]func() Message{
	MessageConnected:       func() Message { return &ConnectedMessage{} },
	MessageSessionStarted:  func() Message { return &SessionStartedMessage{} },
	MessageFlowRestarted:   func() Message { return &FlowRestartedMessage{} },
	MessageNodeStart:       func() Message { return &NodeStartMessage{} },
	MessageNodeComplete:    func() Message { return &NodeCompleteMessage{} },
	MessageNodeError:       func() Message { return &NodeErrorMessage{} },
	MessageNodeOutput:      func() Message { return &NodeOutputMessage{} },
	MessageFlowComplete:    func() Message { return &FlowCompleteMessage{} },
	MessageInputRequired:   func() Message { return &InputRequiredMessage{} },
	MessageStreamingUpdate: func() Message { return &StreamingUpdateMessage{} },
	MessageError:           func() Message { return &ErrorMessage{} },
}

// DecodeMessage parses a raw frame into its typed message. Frames that are not
// JSON objects, lack a type, carry an unknown type, or omit the node_id of a
// node-scoped message are rejected with an error wrapping ErrProtocol
func DecodeMessage(data []byte) (Message, error) {
	typ, err := probeType(data)
	if err != nil {
		return nil, err
	}

	mk, ok := messageTypes[MessageType(typ)]
	if !ok {
		return nil, fmt.Errorf("%w: %w: %q",
			ErrProtocol, ErrUnknownMessageType, typ)
	}

	msg := mk()
	if err := json.Unmarshal(data, msg); err != nil {
		return nil, fmt.Errorf("%w: %w: %w",
			ErrProtocol, ErrMalformedMessage, err)
	}
	if nm, ok := msg.(nodeMessage); ok && nm.nodeID() == "" {
		return nil, fmt.Errorf("%w: %w: %s without node_id",
			ErrProtocol, ErrMalformedMessage, typ)
	}
	return msg, nil
}

// EncodeMessage serializes a message with its type discriminator
func EncodeMessage(m Message) ([]byte, error) {
	body, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return withType(string(m.Type()), body), nil
}

// IsTerminalOutput reports whether the output is the primary answer of the
// flow rather than an intermediate node result
func (m *NodeOutputMessage) IsTerminalOutput() bool {
	return m.IsFinal || terminalNodeTypes[m.NodeType]
}

// RenderValue converts an echoed JSON value into display text. Strings are
// unquoted, null and absent values are empty, anything else is kept as JSON
func RenderValue(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	return gjson.ParseBytes(raw).String()
}

func (ConnectedMessage) Type() MessageType       { return MessageConnected }
func (SessionStartedMessage) Type() MessageType  { return MessageSessionStarted }
func (FlowRestartedMessage) Type() MessageType   { return MessageFlowRestarted }
func (NodeStartMessage) Type() MessageType       { return MessageNodeStart }
func (NodeCompleteMessage) Type() MessageType    { return MessageNodeComplete }
func (NodeErrorMessage) Type() MessageType       { return MessageNodeError }
func (NodeOutputMessage) Type() MessageType      { return MessageNodeOutput }
func (FlowCompleteMessage) Type() MessageType    { return MessageFlowComplete }
func (InputRequiredMessage) Type() MessageType   { return MessageInputRequired }
func (StreamingUpdateMessage) Type() MessageType { return MessageStreamingUpdate }
func (ErrorMessage) Type() MessageType           { return MessageError }

func (m *NodeStartMessage) nodeID() string       { return m.NodeID }
func (m *NodeCompleteMessage) nodeID() string    { return m.NodeID }
func (m *NodeErrorMessage) nodeID() string       { return m.NodeID }
func (m *NodeOutputMessage) nodeID() string      { return m.NodeID }
func (m *InputRequiredMessage) nodeID() string   { return m.NodeID }
func (m *StreamingUpdateMessage) nodeID() string { return m.NodeID }

func probeType(data []byte) (string, error) {
	if !gjson.ValidBytes(data) {
		return "", fmt.Errorf("%w: %w: invalid JSON",
			ErrProtocol, ErrMalformedMessage)
	}
	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		return "", fmt.Errorf("%w: %w: envelope is not an object",
			ErrProtocol, ErrMalformedMessage)
	}
	typ := root.Get("type")
	if typ.Type != gjson.String || typ.Str == "" {
		return "", fmt.Errorf("%w: %w: missing type",
			ErrProtocol, ErrMalformedMessage)
	}
	return typ.Str, nil
}

func withType(typ string, body []byte) []byte {
	tag, _ := json.Marshal(typ)
	res := make([]byte, 0, len(body)+len(tag)+10)
	res = append(res, `{"type":`...)
	res = append(res, tag...)
	if len(body) > 2 {
		res = append(res, ',')
		res = append(res, body[1:]...)
		return res
	}
	return append(res, '}')
}
