package util

import (
	"testing"
)

type testState string

const (
	stateIdle     testState = "idle"
	stateRunning  testState = "running"
	stateComplete testState = "complete"
	stateFailed   testState = "failed"
)

var testTransitions = StateTransitions[testState]{
	stateIdle:     SetOf(stateRunning),
	stateRunning:  SetOf(stateComplete, stateFailed),
	stateComplete: {},
	stateFailed:   SetOf(stateRunning),
}

func TestStateTransitionsCanTransition(t *testing.T) {
	if !testTransitions.CanTransition(stateIdle, stateRunning) {
		t.Error("should allow idle -> running")
	}
	if !testTransitions.CanTransition(stateRunning, stateFailed) {
		t.Error("should allow running -> failed")
	}
	if !testTransitions.CanTransition(stateFailed, stateRunning) {
		t.Error("should allow failed -> running")
	}

	if testTransitions.CanTransition(stateIdle, stateComplete) {
		t.Error("should not allow idle -> complete")
	}
	if testTransitions.CanTransition(stateComplete, stateRunning) {
		t.Error("should not allow complete -> running")
	}
	if testTransitions.CanTransition("unknown", stateRunning) {
		t.Error("should not allow transitions from unknown state")
	}
}
