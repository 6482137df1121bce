package assert

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kode4food/flowsession/internal/config"
	"github.com/kode4food/flowsession/pkg/api"
)

type (
	// Projector yields the current session projection
	Projector interface {
		Snapshot() *api.Projection
	}

	// Wrapper wraps testify assertions with session-specific helpers
	Wrapper struct {
		*testing.T
		*assert.Assertions
		Require *require.Assertions
	}
)

// DefaultRetryInterval is the default polling interval for Eventually checks
const DefaultRetryInterval = 10 * time.Millisecond

// New creates a new test assertion wrapper with both assert and require from
// testify plus session-specific helpers
func New(t *testing.T) *Wrapper {
	return &Wrapper{
		T:          t,
		Assertions: assert.New(t),
		Require:    require.New(t),
	}
}

// ConfigValid asserts that a configuration is valid
func (w *Wrapper) ConfigValid(cfg *config.Config) {
	w.Helper()
	w.NoError(cfg.Validate())
	w.NotEmpty(cfg.FlowID)
	w.True(cfg.StreamTimeout > 0)
	w.True(cfg.PingPeriod() < cfg.PongWait)
}

// ConfigInvalid asserts that a configuration is invalid
func (w *Wrapper) ConfigInvalid(cfg *config.Config, contains string) {
	w.Helper()
	err := cfg.Validate()
	w.Error(err)
	if err != nil && contains != "" {
		w.Contains(err.Error(), contains)
	}
}

// NodeStatus asserts the status of a node in a projection
func (w *Wrapper) NodeStatus(
	p *api.Projection, nodeID string, expected api.NodeStatus,
) {
	w.Helper()
	w.Equal(expected, p.Status(nodeID), "status of node %s", nodeID)
}

// EntryKinds asserts the kinds of the transcript entries, in order
func (w *Wrapper) EntryKinds(p *api.Projection, expected ...api.EntryKind) {
	w.Helper()
	kinds := make([]api.EntryKind, len(p.Transcript))
	for i, e := range p.Transcript {
		kinds[i] = e.Kind
	}
	w.Equal(expected, kinds)
}

// NodeEntries returns the transcript entries attributed to a node
func (w *Wrapper) NodeEntries(
	p *api.Projection, nodeID string,
) []api.TranscriptEntry {
	w.Helper()
	var res []api.TranscriptEntry
	for _, e := range p.Transcript {
		if e.NodeID == nodeID {
			res = append(res, e)
		}
	}
	return res
}

// EventuallyProjected polls the projection until the condition holds
func (w *Wrapper) EventuallyProjected(
	src Projector, condition func(*api.Projection) bool,
	timeout time.Duration, msg string, args ...any,
) *api.Projection {
	w.Helper()
	var p *api.Projection
	w.Eventually(func() bool {
		p = src.Snapshot()
		return condition(p)
	}, timeout, msg, args...)
	return p
}

// Eventually runs a condition repeatedly until it passes or times out
func (w *Wrapper) Eventually(
	condition func() bool, timeout time.Duration, msg string, args ...any,
) {
	w.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(DefaultRetryInterval)
	}
	if condition() {
		return
	}
	w.Fail(msg, args...)
}
