package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kode4food/flowsession/pkg/api"
)

func TestRendererStreams(t *testing.T) {
	var buf bytes.Buffer
	r := newRenderer(&buf, nil)

	user := api.TranscriptEntry{ID: "1", Kind: api.EntryUser, Content: "hi"}
	stream := api.TranscriptEntry{
		ID: "2", Kind: api.EntryStreamingUpdate, NodeID: "llm",
		Content: "He", IsStreaming: true,
	}
	r.refresh(&api.Projection{
		Connection: api.Connected,
		Transcript: []api.TranscriptEntry{user, stream},
	})
	assert.Equal(t, "~ connected\nyou: hi\nllm> He", buf.String())

	stream.Content = "Hello"
	stream.Kind = api.EntryNodeOutput
	stream.IsStreaming = false
	r.refresh(&api.Projection{
		Connection: api.Connected,
		Transcript: []api.TranscriptEntry{user, stream},
	})
	assert.Equal(t, "~ connected\nyou: hi\nllm> Hello\n", buf.String())
}

func TestRendererTimeoutAndInput(t *testing.T) {
	var buf bytes.Buffer
	r := newRenderer(&buf, nil)

	stream := api.TranscriptEntry{
		ID: "1", Kind: api.EntryStreamingUpdate, NodeID: "llm",
		Content: "par", IsStreaming: true,
	}
	r.refresh(&api.Projection{
		Connection: api.Disconnected,
		Transcript: []api.TranscriptEntry{stream},
	})

	stream.Kind = api.EntryNodeError
	stream.IsStreaming = false
	stream.TimedOut = true
	stream.Content = "par [timed out]"
	ask := api.TranscriptEntry{
		ID: "2", Kind: api.EntryInputRequired, NodeID: "ask",
		Content: "Name?",
	}
	r.refresh(&api.Projection{
		Connection:   api.Disconnected,
		Transcript:   []api.TranscriptEntry{stream, ask},
		PendingInput: []string{"ask"},
	})

	out := buf.String()
	assert.Contains(t, out, "llm> par [timed out]\n")
	assert.Contains(t, out, "! /retry llm to run it again\n")
	assert.Contains(t, out, "? Name?\n")
	assert.Contains(t, out, "? next message answers ask\n")
}
