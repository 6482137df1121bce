package helpers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kode4food/flowsession/internal/config"
	"github.com/kode4food/flowsession/internal/session"
)

// TestSessionEnv holds a controller wired to a mock transport
type TestSessionEnv struct {
	Controller *session.Controller
	Transport  *MockTransport
	Config     *config.Config
	Cleanup    func()
}

// NewTestSessionEnv creates a connected controller with a mock transport
func NewTestSessionEnv(
	t *testing.T, apps ...session.Applier,
) *TestSessionEnv {
	t.Helper()
	return NewTestSessionEnvWithConfig(t, NewTestConfig(), apps...)
}

// NewTestSessionEnvWithConfig creates a connected controller for cfg
func NewTestSessionEnvWithConfig(
	t *testing.T, cfg *config.Config, apps ...session.Applier,
) *TestSessionEnv {
	t.Helper()
	tr := NewMockTransport()
	ctrl := session.New(cfg, tr, apps...)
	require.NoError(t, ctrl.Connect(context.Background()))

	return &TestSessionEnv{
		Controller: ctrl,
		Transport:  tr,
		Config:     cfg,
		Cleanup: func() {
			_ = ctrl.Close(context.Background())
		},
	}
}

// WithTestSessionEnv runs fn with a fresh session env and cleans up after
func WithTestSessionEnv(t *testing.T, fn func(*TestSessionEnv)) {
	t.Helper()
	env := NewTestSessionEnv(t)
	defer env.Cleanup()
	fn(env)
}
