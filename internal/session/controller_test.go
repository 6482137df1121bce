package session_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kode4food/flowsession/internal/assert"
	"github.com/kode4food/flowsession/internal/assert/helpers"
	"github.com/kode4food/flowsession/internal/session"
	"github.com/kode4food/flowsession/pkg/api"
)

// lateFrameTransport hands over one more frame while it is being closed
type lateFrameTransport struct {
	*helpers.MockTransport
	late api.Message
}

func (l *lateFrameTransport) Disconnect() {
	l.Deliver(l.late)
	l.MockTransport.Disconnect()
}

type mockArchiver struct {
	mu       sync.Mutex
	archived []*api.Projection
	err      error
}

func (m *mockArchiver) Archive(_ context.Context, p *api.Projection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.archived = append(m.archived, p)
	return m.err
}

func TestConnectedEntry(t *testing.T) {
	helpers.WithTestSessionEnv(t, func(env *helpers.TestSessionEnv) {
		as := assert.New(t)
		env.Transport.Deliver(&api.ConnectedMessage{FlowName: "Support Bot"})

		p := env.Controller.Snapshot()
		as.Equal(api.Connected, p.Connection)
		as.False(p.FlowRunning)
		as.EntryKinds(p, api.EntrySystem)
		as.Equal("Connected to Support Bot", p.Transcript[0].Content)
		as.NotEmpty(p.Transcript[0].ID)
	})
}

func TestEntryTimestampsFromClock(t *testing.T) {
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.FixedZone("X", 3600))
	env := helpers.NewTestSessionEnv(t, session.WithClock(func() time.Time {
		return at
	}))
	defer env.Cleanup()

	env.Transport.Deliver(&api.ConnectedMessage{})
	p := env.Controller.Snapshot()
	require.Len(t, p.Transcript, 1)
	assert.New(t).Equal(at.UTC(), p.Transcript[0].Timestamp)
}

func TestEntryIDsUnique(t *testing.T) {
	helpers.WithTestSessionEnv(t, func(env *helpers.TestSessionEnv) {
		for range 50 {
			env.Transport.Deliver(&api.NodeOutputMessage{
				NodeID: "n", Output: json.RawMessage(`"x"`),
			})
		}
		p := env.Controller.Snapshot()
		ids := map[string]bool{}
		for _, e := range p.Transcript {
			ids[e.ID] = true
		}
		assert.New(t).Len(ids, 50)
	})
}

func TestNodeStatusLifecycle(t *testing.T) {
	helpers.WithTestSessionEnv(t, func(env *helpers.TestSessionEnv) {
		as := assert.New(t)
		ctrl := env.Controller

		env.Transport.Deliver(&api.NodeStartMessage{NodeID: "a"})
		as.NodeStatus(ctrl.Snapshot(), "a", api.NodeExecuting)

		env.Transport.Deliver(&api.NodeCompleteMessage{NodeID: "a"})
		as.NodeStatus(ctrl.Snapshot(), "a", api.NodeCompleted)

		env.Transport.Deliver(&api.NodeStartMessage{NodeID: "a"})
		as.NodeStatus(ctrl.Snapshot(), "a", api.NodeExecuting)

		env.Transport.Deliver(&api.NodeErrorMessage{NodeID: "a", Error: "x"})
		as.NodeStatus(ctrl.Snapshot(), "a", api.NodeError)

		env.Transport.Deliver(&api.NodeStartMessage{NodeID: "a"})
		as.NodeStatus(ctrl.Snapshot(), "a", api.NodeExecuting)
	})
}

func TestInvalidTransitionIgnored(t *testing.T) {
	helpers.WithTestSessionEnv(t, func(env *helpers.TestSessionEnv) {
		as := assert.New(t)

		env.Transport.Deliver(&api.NodeCompleteMessage{NodeID: "a"})
		p := env.Controller.Snapshot()
		as.NodeStatus(p, "a", api.NodeIdle)
		as.NotContains(p.NodeStatuses, "a")
		as.Empty(p.Transcript)
	})
}

func TestResetOnRunStart(t *testing.T) {
	starts := []api.Message{
		&api.SessionStartedMessage{},
		&api.FlowRestartedMessage{Message: "Running again"},
	}

	for _, start := range starts {
		t.Run(string(start.Type()), func(t *testing.T) {
			helpers.WithTestSessionEnv(t, func(env *helpers.TestSessionEnv) {
				as := assert.New(t)
				env.Transport.Deliver(
					&api.NodeStartMessage{NodeID: "a"},
					&api.NodeCompleteMessage{NodeID: "a"},
					&api.NodeStartMessage{NodeID: "b"},
					&api.NodeErrorMessage{NodeID: "b", Error: "bad"},
					&api.NodeStartMessage{NodeID: "c"},
				)
				p := env.Controller.Snapshot()
				as.NodeStatus(p, "a", api.NodeCompleted)
				as.NodeStatus(p, "b", api.NodeError)
				as.NodeStatus(p, "c", api.NodeExecuting)

				env.Transport.Deliver(start)
				p = env.Controller.Snapshot()
				as.True(p.FlowRunning)
				as.Empty(p.NodeStatuses)
				for _, id := range []string{"a", "b", "c"} {
					as.NodeStatus(p, id, api.NodeIdle)
				}
				last := p.Transcript[len(p.Transcript)-1]
				as.Equal(api.EntrySystem, last.Kind)
			})
		})
	}
}

func TestFlowRestartedMessage(t *testing.T) {
	helpers.WithTestSessionEnv(t, func(env *helpers.TestSessionEnv) {
		env.Transport.Deliver(&api.FlowRestartedMessage{Message: "Again"})
		p := env.Controller.Snapshot()
		assert.New(t).Equal("Again", p.Transcript[0].Content)
	})
}

func TestResetAll(t *testing.T) {
	helpers.WithTestSessionEnv(t, func(env *helpers.TestSessionEnv) {
		as := assert.New(t)
		env.Transport.Deliver(
			&api.NodeStartMessage{NodeID: "a"},
			&api.NodeStartMessage{NodeID: "b"},
			&api.NodeCompleteMessage{NodeID: "b"},
		)
		as.NoError(env.Controller.ResetAll())

		p := env.Controller.Snapshot()
		as.NodeStatus(p, "a", api.NodeIdle)
		as.NodeStatus(p, "b", api.NodeIdle)
	})
}

func TestNodeOutputKinds(t *testing.T) {
	helpers.WithTestSessionEnv(t, func(env *helpers.TestSessionEnv) {
		as := assert.New(t)
		env.Transport.Deliver(
			&api.NodeOutputMessage{
				NodeID: "llm", NodeType: "llm",
				Output: json.RawMessage(`"thinking"`),
			},
			&api.NodeOutputMessage{
				NodeID: "out", NodeType: "chat_output",
				Output: json.RawMessage(`"The answer"`),
			},
			&api.NodeOutputMessage{
				NodeID: "x", IsFinal: true,
				Output: json.RawMessage(`{"a":1}`),
			},
		)

		p := env.Controller.Snapshot()
		as.EntryKinds(p, api.EntryNodeOutput, api.EntrySystem, api.EntrySystem)
		as.Equal("thinking", p.Transcript[0].Content)
		as.Equal("The answer", p.Transcript[1].Content)
		as.JSONEq(`{"a":1}`, p.Transcript[2].Content)
		as.JSONEq(`{"a":1}`, string(p.Transcript[2].Payload))
		as.Equal("out", p.Transcript[1].NodeID)
	})
}

func TestFlowComplete(t *testing.T) {
	helpers.WithTestSessionEnv(t, func(env *helpers.TestSessionEnv) {
		as := assert.New(t)
		env.Transport.Deliver(
			&api.SessionStartedMessage{},
			&api.FlowCompleteMessage{
				Output: json.RawMessage(`"done"`),
				Result: json.RawMessage(`{"total":3}`),
			},
		)

		p := env.Controller.Snapshot()
		as.False(p.FlowRunning)
		last := p.Transcript[len(p.Transcript)-1]
		as.Equal(api.EntrySystem, last.Kind)
		as.Equal("done", last.Content)
		as.JSONEq(`{"total":3}`, string(last.Payload))
	})
}

func TestFlowCompleteWithoutResult(t *testing.T) {
	helpers.WithTestSessionEnv(t, func(env *helpers.TestSessionEnv) {
		as := assert.New(t)
		env.Transport.Deliver(&api.FlowCompleteMessage{})

		p := env.Controller.Snapshot()
		as.Equal("Flow completed", p.Transcript[0].Content)
		as.Nil(p.Transcript[0].Payload)
	})
}

func TestSessionError(t *testing.T) {
	helpers.WithTestSessionEnv(t, func(env *helpers.TestSessionEnv) {
		as := assert.New(t)
		env.Transport.Deliver(
			&api.SessionStartedMessage{},
			&api.NodeStartMessage{NodeID: "a"},
			&api.ErrorMessage{Message: "backend exploded"},
		)

		p := env.Controller.Snapshot()
		as.False(p.FlowRunning)
		as.Equal(api.Connected, p.Connection)
		as.NodeStatus(p, "a", api.NodeExecuting)
		last := p.Transcript[len(p.Transcript)-1]
		as.Equal(api.EntrySystem, last.Kind)
		as.Contains(last.Content, "backend exploded")
	})
}

func TestNodeErrorEntry(t *testing.T) {
	helpers.WithTestSessionEnv(t, func(env *helpers.TestSessionEnv) {
		as := assert.New(t)
		env.Transport.Deliver(
			&api.NodeStartMessage{NodeID: "a", NodeLabel: "Fetch"},
			&api.NodeErrorMessage{NodeID: "a", NodeLabel: "Fetch", Error: "404"},
		)

		p := env.Controller.Snapshot()
		as.NodeStatus(p, "a", api.NodeError)
		as.EntryKinds(p, api.EntryNodeError)
		e := p.Transcript[0]
		as.Equal("404", e.Content)
		as.False(e.TimedOut)
		as.False(e.Retryable())
	})
}

func TestInputRequired(t *testing.T) {
	helpers.WithTestSessionEnv(t, func(env *helpers.TestSessionEnv) {
		as := assert.New(t)
		env.Transport.Deliver(&api.InputRequiredMessage{
			NodeID:      "ask",
			NodeLabel:   "Ask Name",
			InputSchema: json.RawMessage(`{"type":"string"}`),
		})

		p := env.Controller.Snapshot()
		as.True(p.AwaitingInput())
		as.Equal([]string{"ask"}, p.PendingInput)
		as.EntryKinds(p, api.EntryInputRequired)
		as.Equal("Ask Name is waiting for input", p.Transcript[0].Content)
		as.JSONEq(`{"type":"string"}`, string(p.Transcript[0].Payload))
	})
}

func TestVerboseTranscript(t *testing.T) {
	cfg := helpers.NewTestConfig()
	cfg.VerboseTranscript = true
	env := helpers.NewTestSessionEnvWithConfig(t, cfg)
	defer env.Cleanup()

	as := assert.New(t)
	env.Transport.Deliver(
		&api.NodeStartMessage{NodeID: "a", NodeLabel: "Alpha"},
		&api.NodeCompleteMessage{
			NodeID: "a", Result: json.RawMessage(`{"ok":true}`),
		},
	)

	p := env.Controller.Snapshot()
	as.EntryKinds(p, api.EntryNodeStart, api.EntryNodeComplete)
	as.Equal("Alpha started", p.Transcript[0].Content)
	as.Equal("a completed", p.Transcript[1].Content)
	as.JSONEq(`{"ok":true}`, string(p.Transcript[1].Payload))
}

func TestConnectionErrorProjected(t *testing.T) {
	helpers.WithTestSessionEnv(t, func(env *helpers.TestSessionEnv) {
		as := assert.New(t)
		env.Transport.Drop(api.ErrTransport)

		p := env.Controller.Snapshot()
		as.Equal(api.Disconnected, p.Connection)
		as.Equal(api.ErrTransport.Error(), p.ConnectionError)
	})
}

func TestConnectionLossEndsRun(t *testing.T) {
	helpers.WithTestSessionEnv(t, func(env *helpers.TestSessionEnv) {
		as := assert.New(t)
		env.Transport.Deliver(
			&api.SessionStartedMessage{},
			&api.NodeStartMessage{NodeID: "ask"},
			&api.InputRequiredMessage{NodeID: "ask"},
			deltaUpdate("s", "partial", false),
		)
		env.Transport.Drop(api.ErrTransport)

		p := env.Controller.Snapshot()
		as.Equal(api.Disconnected, p.Connection)
		as.False(p.FlowRunning)
		as.False(p.AwaitingInput())

		s := as.NodeEntries(p, "s")
		as.Require.Len(s, 1)
		as.Equal(api.EntryNodeError, s[0].Kind)
		as.False(s[0].IsStreaming)
		as.True(s[0].Retryable())
		as.Contains(s[0].Content, "partial")
		as.Contains(s[0].Content, "connection loss")

		as.NoError(env.Controller.Connect(context.Background()))
		as.NoError(env.Controller.SendUserMessage("hello"))
		cmd, ok := env.Transport.LastSent().(*api.FlowInputCommand)
		as.Require.True(ok)
		as.Equal("hello", cmd.Message)
	})
}

func TestDisconnectDropsLateFrames(t *testing.T) {
	cfg := helpers.NewTestConfig()
	tr := &lateFrameTransport{
		MockTransport: helpers.NewMockTransport(),
		late:          deltaUpdate("D", "late", false),
	}
	ctrl := session.New(cfg, tr)
	defer func() { _ = ctrl.Close(context.Background()) }()
	as := assert.New(t)
	as.NoError(ctrl.Connect(context.Background()))

	as.NoError(ctrl.Disconnect())
	time.Sleep(3 * cfg.StreamTimeout)

	p := ctrl.Snapshot()
	as.Empty(as.NodeEntries(p, "D"))
	as.Equal(api.Disconnected, p.Connection)
}

func TestDisconnectKeepsTranscript(t *testing.T) {
	helpers.WithTestSessionEnv(t, func(env *helpers.TestSessionEnv) {
		as := assert.New(t)
		delta := "partial"
		env.Transport.Deliver(
			&api.SessionStartedMessage{},
			&api.InputRequiredMessage{NodeID: "ask"},
			&api.StreamingUpdateMessage{NodeID: "s", Delta: &delta},
		)
		as.NoError(env.Controller.Disconnect())

		p := env.Controller.Snapshot()
		as.Equal(api.Disconnected, p.Connection)
		as.Empty(p.ConnectionError)
		as.False(p.FlowRunning)
		as.False(p.AwaitingInput())
		as.Len(p.Transcript, 3)

		s := as.NodeEntries(p, "s")
		as.Require.Len(s, 1)
		as.False(s[0].IsStreaming)
		as.Equal(api.EntryNodeOutput, s[0].Kind)
		as.Equal(1, env.Transport.Disconnects())
	})
}

func TestCloseCancelsTimersAndArchives(t *testing.T) {
	arch := &mockArchiver{}
	env := helpers.NewTestSessionEnv(t, session.WithArchiver(arch))
	as := assert.New(t)

	delta := "Hel"
	env.Transport.Deliver(&api.StreamingUpdateMessage{NodeID: "a", Delta: &delta})
	as.NoError(env.Controller.Close(context.Background()))

	time.Sleep(3 * env.Config.StreamTimeout)

	p := env.Controller.Snapshot()
	as.Equal(api.Disconnected, p.Connection)
	as.Require.Len(p.Transcript, 1)
	as.Equal(api.EntryNodeOutput, p.Transcript[0].Kind)
	as.Equal("Hel", p.Transcript[0].Content)

	arch.mu.Lock()
	defer arch.mu.Unlock()
	as.Require.Len(arch.archived, 1)
	as.Equal("test-flow", arch.archived[0].FlowID)
	as.Len(arch.archived[0].Transcript, 1)
}

func TestCloseReportsArchiveError(t *testing.T) {
	arch := &mockArchiver{err: errors.New("archive down")}
	env := helpers.NewTestSessionEnv(t, session.WithArchiver(arch))
	err := env.Controller.Close(context.Background())
	assert.New(t).Error(err)
}

func TestClosedSessionRejectsCommands(t *testing.T) {
	env := helpers.NewTestSessionEnv(t)
	as := assert.New(t)
	as.NoError(env.Controller.Close(context.Background()))
	as.NoError(env.Controller.Close(context.Background()))

	as.ErrorIs(env.Controller.SendUserMessage("hi"), session.ErrSessionClosed)
	as.ErrorIs(env.Controller.Stop(), session.ErrSessionClosed)
	as.ErrorIs(env.Controller.ResetAll(), session.ErrSessionClosed)
	as.ErrorIs(
		env.Controller.Connect(context.Background()), session.ErrSessionClosed,
	)

	env.Transport.Deliver(&api.ConnectedMessage{})
	as.Empty(env.Controller.Snapshot().Transcript)
}

func TestSubscribeReceivesChanges(t *testing.T) {
	helpers.WithTestSessionEnv(t, func(env *helpers.TestSessionEnv) {
		as := assert.New(t)
		cons := env.Controller.Subscribe()
		defer cons.Close()

		env.Transport.Deliver(&api.NodeStartMessage{NodeID: "a"})

		timeout := time.After(time.Second)
		for {
			select {
			case ch := <-cons.Receive():
				if ch.Kind == api.ChangeNodeStatus && ch.NodeID == "a" {
					return
				}
			case <-timeout:
				as.Fail("node status change not published")
				return
			}
		}
	})
}
