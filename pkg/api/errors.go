package api

import "errors"

var (
	// ErrAuthUnavailable is returned when no bearer token can be obtained
	ErrAuthUnavailable = errors.New("auth token unavailable")

	// ErrTransport reports an abnormal closure or a failed open
	ErrTransport = errors.New("transport error")

	// ErrProtocol reports an inbound frame that could not be understood
	ErrProtocol = errors.New("protocol error")

	// ErrStreamTimeout marks a streaming entry that stalled
	ErrStreamTimeout = errors.New("stream timed out")

	// ErrExecution marks a node failure reported by the server
	ErrExecution = errors.New("node execution error")

	// ErrSession marks a session-level failure reported by the server
	ErrSession = errors.New("session error")

	ErrUnknownMessageType = errors.New("unknown message type")
	ErrMalformedMessage   = errors.New("malformed message")
	ErrUnknownCommandType = errors.New("unknown command type")
)
