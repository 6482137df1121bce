package session

import (
	"encoding/json"
	"log/slog"
	"maps"
	"slices"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/kode4food/flowsession/pkg/api"
	"github.com/kode4food/flowsession/pkg/log"
	"github.com/kode4food/flowsession/pkg/util"
)

// state is the session model. It is only ever touched from the runner
type state struct {
	flowID      string
	connection  api.ConnectionStatus
	connErr     error
	flowRunning bool
	transcript  []*api.TranscriptEntry
	statuses    map[string]api.NodeStatus
	pending     *orderedmap.OrderedMap[string, json.RawMessage]
	streamText  map[string]string

	// set when a run is cancelled or its connection lost, so late stream
	// fragments of that run are dropped
	streamsHalted bool
}

var nodeTransitions = util.StateTransitions[api.NodeStatus]{
	api.NodeIdle: util.SetOf(
		api.NodeExecuting,
	),
	api.NodeExecuting: util.SetOf(
		api.NodeCompleted,
		api.NodeError,
	),
	api.NodeCompleted: util.SetOf(
		api.NodeExecuting,
	),
	api.NodeError: util.SetOf(
		api.NodeExecuting,
	),
}

func newState(flowID string) *state {
	return &state{
		flowID:     flowID,
		connection: api.Disconnected,
		statuses:   map[string]api.NodeStatus{},
		pending:    orderedmap.New[string, json.RawMessage](),
		streamText: map[string]string{},
	}
}

func (s *state) status(nodeID string) api.NodeStatus {
	if st, ok := s.statuses[nodeID]; ok {
		return st
	}
	return api.NodeIdle
}

// transition moves a node to the next status if the move is allowed
func (s *state) transition(nodeID string, to api.NodeStatus) bool {
	from := s.status(nodeID)
	if !nodeTransitions.CanTransition(from, to) {
		slog.Warn("Invalid node status transition",
			log.FlowID(s.flowID),
			log.NodeID(nodeID),
			slog.String("from", string(from)),
			slog.String("to", string(to)))
		return false
	}
	s.statuses[nodeID] = to
	return true
}

// resetStatuses returns every node to idle
func (s *state) resetStatuses() {
	clear(s.statuses)
}

func (s *state) append(e *api.TranscriptEntry) {
	s.transcript = append(s.transcript, e)
}

func (s *state) entry(id string) (*api.TranscriptEntry, int) {
	for i, e := range s.transcript {
		if e.ID == id {
			return e, i
		}
	}
	return nil, -1
}

func (s *state) remove(id string) bool {
	_, i := s.entry(id)
	if i < 0 {
		return false
	}
	s.transcript = slices.Delete(s.transcript, i, i+1)
	return true
}

// liveStream returns the node's entry that is still receiving deltas
func (s *state) liveStream(nodeID string) *api.TranscriptEntry {
	for i := len(s.transcript) - 1; i >= 0; i-- {
		e := s.transcript[i]
		if e.IsStreaming && e.NodeID == nodeID {
			return e
		}
	}
	return nil
}

// latestTimedOut returns the node's most recent stalled-stream entry. An
// empty node id matches any node
func (s *state) latestTimedOut(nodeID string) *api.TranscriptEntry {
	for i := len(s.transcript) - 1; i >= 0; i-- {
		e := s.transcript[i]
		if (nodeID == "" || e.NodeID == nodeID) && e.Retryable() {
			return e
		}
	}
	return nil
}

// lastUserMessage returns the content of the most recent user entry
func (s *state) lastUserMessage() (string, bool) {
	for i := len(s.transcript) - 1; i >= 0; i-- {
		if e := s.transcript[i]; e.Kind == api.EntryUser {
			return e.Content, true
		}
	}
	return "", false
}

// finalizeStreams closes every live streaming entry in place, keeping the
// text received so far. Returns the ids of the entries it touched
func (s *state) finalizeStreams() []string {
	var ids []string
	for _, e := range s.transcript {
		if !e.IsStreaming {
			continue
		}
		e.IsStreaming = false
		e.Kind = api.EntryNodeOutput
		ids = append(ids, e.ID)
	}
	clear(s.streamText)
	return ids
}

// interruptStreams marks every live streaming entry as stalled with the
// notice appended, leaving it retryable. Returns the entries it touched
func (s *state) interruptStreams(notice string) []*api.TranscriptEntry {
	var res []*api.TranscriptEntry
	for _, e := range s.transcript {
		if e.IsStreaming {
			markStalled(e, notice)
			res = append(res, e)
		}
	}
	clear(s.streamText)
	return res
}

func markStalled(e *api.TranscriptEntry, notice string) {
	if e.Content != "" {
		e.Content += "\n\n" + notice
	} else {
		e.Content = notice
	}
	e.Kind = api.EntryNodeError
	e.IsStreaming = false
	e.TimedOut = true
}

func (s *state) pendingNodes() []string {
	res := make([]string, 0, s.pending.Len())
	for p := s.pending.Oldest(); p != nil; p = p.Next() {
		res = append(res, p.Key)
	}
	return res
}

func (s *state) clearPending() {
	s.pending = orderedmap.New[string, json.RawMessage]()
}

func (s *state) projection() *api.Projection {
	res := &api.Projection{
		FlowID:       s.flowID,
		Connection:   s.connection,
		FlowRunning:  s.flowRunning,
		Transcript:   make([]api.TranscriptEntry, len(s.transcript)),
		NodeStatuses: maps.Clone(s.statuses),
		PendingInput: s.pendingNodes(),
	}
	if s.connErr != nil {
		res.ConnectionError = s.connErr.Error()
	}
	for i, e := range s.transcript {
		res.Transcript[i] = *e
	}
	return res
}
