package api

type (
	// NodeStatus is the derived execution status of a single graph node
	NodeStatus string

	// ConnectionStatus is the lifecycle state of the duplex connection
	ConnectionStatus string
)

const (
	NodeIdle      NodeStatus = "idle"
	NodeExecuting NodeStatus = "executing"
	NodeCompleted NodeStatus = "completed"
	NodeError     NodeStatus = "error"
)

const (
	Disconnected ConnectionStatus = "disconnected"
	Connecting   ConnectionStatus = "connecting"
	Connected    ConnectionStatus = "connected"
)
