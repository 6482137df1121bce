package server

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/kode4food/flowsession/pkg/api"
)

type (
	// Script plays one flow run. It returns when the run ends or is stopped
	Script func(run *Run) error

	// Run is the handle a Script uses to talk to its session
	Run struct {
		Input   string
		ctx     context.Context
		out     chan<- api.Message
		answers <-chan string
		delay   time.Duration
	}
)

var ErrRunStopped = errors.New("run stopped")

// Emit sends an event to the client. Returns false once the run is stopped
func (r *Run) Emit(msg api.Message) bool {
	select {
	case r.out <- msg:
		return true
	case <-r.ctx.Done():
		return false
	}
}

// Pause waits one step delay. Returns false once the run is stopped
func (r *Run) Pause() bool {
	if r.delay <= 0 {
		return r.ctx.Err() == nil
	}
	t := time.NewTimer(r.delay)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-r.ctx.Done():
		return false
	}
}

// Await blocks until the client answers an input request
func (r *Run) Await() (string, error) {
	select {
	case v := <-r.answers:
		return v, nil
	case <-r.ctx.Done():
		return "", ErrRunStopped
	}
}

// Stopped reports whether the client stopped the run
func (r *Run) Stopped() bool {
	return r.ctx.Err() != nil
}

// DemoScript answers with a streamed echo. Inputs starting with "ask" pause
// for user input first, "fail" ends in a node error, and "stall" leaves the
// stream open without completing it
func DemoScript(r *Run) error {
	if !r.Emit(&api.SessionStartedMessage{}) {
		return ErrRunStopped
	}

	if !runNode(r, "input", "Chat Input", r.Input) {
		return ErrRunStopped
	}

	reply := "You said: " + r.Input
	lower := strings.ToLower(strings.TrimSpace(r.Input))

	if strings.HasPrefix(lower, "ask") {
		r.Emit(&api.InputRequiredMessage{
			NodeID:      "ask",
			NodeLabel:   "Ask User",
			InputSchema: json.RawMessage(`{"type":"string"}`),
			Message:     "What is your name?",
		})
		name, err := r.Await()
		if err != nil {
			return err
		}
		reply = "Nice to meet you, " + name
	}

	r.Emit(&api.NodeStartMessage{NodeID: "llm", NodeLabel: "Language Model"})
	if strings.HasPrefix(lower, "fail") {
		r.Pause()
		r.Emit(&api.NodeErrorMessage{
			NodeID: "llm", NodeLabel: "Language Model",
			Error: "model refused the request",
		})
		r.Emit(&api.FlowCompleteMessage{})
		return nil
	}

	words := strings.SplitAfter(reply, " ")
	for i, w := range words {
		if !r.Pause() {
			return ErrRunStopped
		}
		delta := w
		done := i == len(words)-1
		if strings.HasPrefix(lower, "stall") && done {
			return nil
		}
		if !r.Emit(&api.StreamingUpdateMessage{
			NodeID:     "llm",
			NodeLabel:  "Language Model",
			Delta:      &delta,
			IsComplete: done,
		}) {
			return ErrRunStopped
		}
	}

	out, _ := json.Marshal(reply)
	r.Emit(&api.NodeCompleteMessage{
		NodeID: "llm", NodeLabel: "Language Model", Result: out,
	})
	if !runNode(r, "output", "Chat Output", reply) {
		return ErrRunStopped
	}
	r.Emit(&api.NodeOutputMessage{
		NodeID: "output", NodeLabel: "Chat Output",
		NodeType: "chat_output", Output: out,
	})
	r.Emit(&api.FlowCompleteMessage{
		Result: json.RawMessage(`{"status":"ok"}`),
	})
	return nil
}

func runNode(r *Run, id, label, result string) bool {
	if !r.Emit(&api.NodeStartMessage{NodeID: id, NodeLabel: label}) {
		return false
	}
	if !r.Pause() {
		return false
	}
	res, _ := json.Marshal(result)
	return r.Emit(&api.NodeCompleteMessage{
		NodeID: id, NodeLabel: label, Result: res,
	})
}
