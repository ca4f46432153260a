// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (c) Lothar May

package marketapi

import (
	"fmt"
	"sync"
)

type ConnState int32

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateError
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateReconnecting:
		return "RECONNECTING"
	case StateError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

var validTransitions = map[ConnState][]ConnState{
	StateDisconnected: {StateConnecting},
	StateConnecting:   {StateConnected, StateError, StateDisconnected},
	StateConnected:    {StateDisconnected, StateError, StateReconnecting},
	StateReconnecting: {StateConnected, StateError, StateDisconnected},
	// A provider in ERROR requires an explicit new Connect call.
	StateError: {StateConnecting, StateDisconnected},
}

// ConnTracker guards the provider connection state machine.
// It is shared by composition, not inheritance, so every venue
// adapter enforces the same transitions.
type ConnTracker struct {
	mu    sync.Mutex
	state ConnState
}

func NewConnTracker() *ConnTracker {
	return &ConnTracker{state: StateDisconnected}
}

func (t *ConnTracker) State() ConnState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *ConnTracker) Is(s ConnState) bool {
	return t.State() == s
}

// Transition moves to the target state, failing on an edge the
// state machine does not allow.
func (t *ConnTracker) Transition(to ConnState) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == to {
		return nil
	}
	for _, allowed := range validTransitions[t.state] {
		if allowed == to {
			t.state = to
			return nil
		}
	}
	return fmt.Errorf("invalid connection state transition %v -> %v", t.state, to)
}

// TransitionFrom moves to the target state only when currently in the
// expected state, reporting whether the move happened.
func (t *ConnTracker) TransitionFrom(from, to ConnState) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != from {
		return false
	}
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			t.state = to
			return true
		}
	}
	return false
}
