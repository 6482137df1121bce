package main

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/kode4food/caravan/topic"

	"github.com/kode4food/flowsession/internal/session"
	"github.com/kode4food/flowsession/pkg/api"
)

// renderer prints the transcript incrementally as the projection changes.
// Streaming entries are printed as their text grows
type renderer struct {
	out     io.Writer
	ctrl    *session.Controller
	changes topic.Consumer[api.Change]
	printed map[string]string
	live    string
	conn    api.ConnectionStatus
	pending int
	mu      sync.Mutex
	done    chan struct{}
}

func newRenderer(out io.Writer, ctrl *session.Controller) *renderer {
	return &renderer{
		out:     out,
		ctrl:    ctrl,
		printed: map[string]string{},
		conn:    api.Disconnected,
		done:    make(chan struct{}),
	}
}

func (r *renderer) start() {
	r.changes = r.ctrl.Subscribe()
	go func() {
		defer close(r.done)
		for range r.changes.Receive() {
			r.refresh(r.ctrl.Snapshot())
		}
	}()
}

func (r *renderer) stop() {
	r.changes.Close()
	<-r.done
}

func (r *renderer) refresh(p *api.Projection) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p.Connection != r.conn {
		r.endLive()
		r.conn = p.Connection
		if p.ConnectionError != "" {
			fmt.Fprintf(r.out, "~ %s (%s)\n", p.Connection, p.ConnectionError)
		} else {
			fmt.Fprintf(r.out, "~ %s\n", p.Connection)
		}
	}

	for _, e := range p.Transcript {
		r.renderEntry(&e)
	}

	if n := len(p.PendingInput); n != r.pending {
		r.pending = n
		if n > 0 {
			r.endLive()
			fmt.Fprintf(r.out, "? next message answers %s\n", p.PendingInput[0])
		}
	}
}

func (r *renderer) renderEntry(e *api.TranscriptEntry) {
	prev, seen := r.printed[e.ID]
	if seen && prev == e.Content && !(r.live == e.ID && !e.IsStreaming) {
		return
	}
	r.printed[e.ID] = e.Content

	if e.ID == r.live || e.IsStreaming {
		if r.live != e.ID {
			r.endLive()
			fmt.Fprintf(r.out, "%s> ", e.Label())
			r.live = e.ID
		}
		if strings.HasPrefix(e.Content, prev) {
			fmt.Fprint(r.out, e.Content[len(prev):])
		} else {
			fmt.Fprintf(r.out, "\n%s> %s", e.Label(), e.Content)
		}
		if !e.IsStreaming {
			r.endLive()
			if e.Retryable() {
				fmt.Fprintf(r.out, "! /retry %s to run it again\n", e.NodeID)
			}
		}
		return
	}
	if seen {
		if e.Retryable() {
			r.endLive()
			fmt.Fprintf(r.out, "! %s stalled, /retry %s to run it again\n",
				e.Label(), e.NodeID)
		}
		return
	}

	r.endLive()
	switch e.Kind {
	case api.EntryUser:
		fmt.Fprintf(r.out, "you: %s\n", e.Content)
	case api.EntrySystem:
		fmt.Fprintf(r.out, "* %s\n", e.Content)
	case api.EntryNodeError:
		fmt.Fprintf(r.out, "! %s: %s\n", e.Label(), e.Content)
	case api.EntryInputRequired:
		fmt.Fprintf(r.out, "? %s\n", e.Content)
	default:
		fmt.Fprintf(r.out, "%s> %s\n", e.Label(), e.Content)
	}
}

func (r *renderer) endLive() {
	if r.live != "" {
		fmt.Fprintln(r.out)
		r.live = ""
	}
}

func (r *renderer) printStatus() {
	p := r.ctrl.Snapshot()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.endLive()

	fmt.Fprintf(r.out, "~ %s, running=%t\n", p.Connection, p.FlowRunning)
	for _, id := range slices.Sorted(maps.Keys(p.NodeStatuses)) {
		fmt.Fprintf(r.out, "  %-20s %s\n", id, p.NodeStatuses[id])
	}
}
