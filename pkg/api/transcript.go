package api

import (
	"encoding/json"
	"time"
)

type (
	// EntryKind classifies a transcript entry for rendering
	EntryKind string

	// TranscriptEntry is one rendered line of the session transcript. Content
	// of a streaming entry is the latest accumulated text, never a delta
	TranscriptEntry struct {
		ID          string          `json:"id"`
		Kind        EntryKind       `json:"kind"`
		Content     string          `json:"content"`
		Timestamp   time.Time       `json:"timestamp"`
		NodeID      string          `json:"node_id,omitempty"`
		NodeLabel   string          `json:"node_label,omitempty"`
		Payload     json.RawMessage `json:"payload,omitempty"`
		IsStreaming bool            `json:"is_streaming"`
		TimedOut    bool            `json:"timed_out,omitempty"`
	}
)

const (
	EntryUser            EntryKind = "user"
	EntrySystem          EntryKind = "system"
	EntryNodeOutput      EntryKind = "node_output"
	EntryNodeStart       EntryKind = "node_start"
	EntryNodeComplete    EntryKind = "node_complete"
	EntryNodeError       EntryKind = "node_error"
	EntryInputRequired   EntryKind = "input_required"
	EntryStreamingUpdate EntryKind = "streaming_update"
)

// Retryable reports whether the entry is a stalled stream that may be retried.
// Server-declared node errors are never retryable
func (e *TranscriptEntry) Retryable() bool {
	return e.Kind == EntryNodeError && e.TimedOut
}

// Label returns the node label, falling back to the node id
func (e *TranscriptEntry) Label() string {
	if e.NodeLabel != "" {
		return e.NodeLabel
	}
	return e.NodeID
}
