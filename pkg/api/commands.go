package api

import (
	"encoding/json"
	"fmt"
	"time"
)

type (
	// CommandType is the envelope discriminator of an outbound command
	CommandType string

	// Command is any outbound client command
	Command interface {
		Type() CommandType
	}

	// FlowInputCommand starts a fresh flow invocation with a user message
	FlowInputCommand struct {
		Message   string `json:"message"`
		Timestamp string `json:"timestamp"`
	}

	// UserInputCommand answers a pending input request of a node
	UserInputCommand struct {
		NodeID string    `json:"node_id"`
		Input  UserInput `json:"input"`
	}

	// UserInput is the value supplied for a pending input request
	UserInput struct {
		Value string `json:"value"`
	}

	// StopCommand cancels the running flow
	StopCommand struct{}
)

const (
	CommandFlowInput CommandType = "flow_input"
	CommandUserInput CommandType = "user_input"
	CommandStop      CommandType = "stop"
)

// TimestampFormat is the ISO-8601 layout used on the wire and in transcripts
const TimestampFormat = "2006-01-02T15:04:05.000Z07:00"

var commandTypes = map[CommandType]func() Command{
	CommandFlowInput: func() Command { return &FlowInputCommand{} },
	CommandUserInput: func() Command { return &UserInputCommand{} },
	CommandStop:      func() Command { return &StopCommand{} },
}

// NewFlowInput builds a flow_input command stamped with the given time
func NewFlowInput(message string, at time.Time) *FlowInputCommand {
	return &FlowInputCommand{
		Message:   message,
		Timestamp: FormatTimestamp(at),
	}
}

// NewUserInput builds a user_input command addressed to a node
func NewUserInput(nodeID, value string) *UserInputCommand {
	return &UserInputCommand{
		NodeID: nodeID,
		Input:  UserInput{Value: value},
	}
}

// EncodeCommand serializes a command with its type discriminator
func EncodeCommand(c Command) ([]byte, error) {
	body, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	return withType(string(c.Type()), body), nil
}

// DecodeCommand parses a raw client frame into its typed command
func DecodeCommand(data []byte) (Command, error) {
	typ, err := probeType(data)
	if err != nil {
		return nil, err
	}

	mk, ok := commandTypes[CommandType(typ)]
	if !ok {
		return nil, fmt.Errorf("%w: %w: %q",
			ErrProtocol, ErrUnknownCommandType, typ)
	}

	cmd := mk()
	if err := json.Unmarshal(data, cmd); err != nil {
		return nil, fmt.Errorf("%w: %w: %w",
			ErrProtocol, ErrMalformedMessage, err)
	}
	return cmd, nil
}

// FormatTimestamp renders t in TimestampFormat, in UTC
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampFormat)
}

func (FlowInputCommand) Type() CommandType { return CommandFlowInput }
func (UserInputCommand) Type() CommandType { return CommandUserInput }
func (StopCommand) Type() CommandType      { return CommandStop }
