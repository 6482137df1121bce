package api

type (
	// Projection is a read-only copy of the session state handed to renderers
	Projection struct {
		FlowID          string                `json:"flow_id,omitempty"`
		Connection      ConnectionStatus      `json:"connection"`
		ConnectionError string                `json:"connection_error,omitempty"`
		FlowRunning     bool                  `json:"flow_running"`
		Transcript      []TranscriptEntry     `json:"transcript"`
		NodeStatuses    map[string]NodeStatus `json:"node_statuses"`
		PendingInput    []string              `json:"pending_input,omitempty"`
	}

	// ChangeKind names the part of the projection that changed
	ChangeKind string

	// Change notifies subscribers that the projection was mutated
	Change struct {
		Kind    ChangeKind `json:"kind"`
		EntryID string     `json:"entry_id,omitempty"`
		NodeID  string     `json:"node_id,omitempty"`
	}
)

const (
	ChangeTranscript ChangeKind = "transcript"
	ChangeNodeStatus ChangeKind = "node_status"
	ChangeConnection ChangeKind = "connection"
	ChangeFlowState  ChangeKind = "flow_state"
	ChangeInput      ChangeKind = "pending_input"
)

// AwaitingInput reports whether the next user message answers a node
func (p *Projection) AwaitingInput() bool {
	return len(p.PendingInput) > 0
}

// Status returns the status of a node, idle when never seen
func (p *Projection) Status(nodeID string) NodeStatus {
	if st, ok := p.NodeStatuses[nodeID]; ok {
		return st
	}
	return NodeIdle
}

// Entry returns the transcript entry with the given id
func (p *Projection) Entry(id string) (TranscriptEntry, bool) {
	for _, e := range p.Transcript {
		if e.ID == id {
			return e, true
		}
	}
	return TranscriptEntry{}, false
}
