// Package session implements the interactive flow test session: it applies
// the server's event stream to a transcript and per-node status model, runs
// the per-node streaming timeouts, and turns user intent into outbound
// commands. All state is confined to a single task runner
package session
