package stream

import (
	"encoding/json"
	"fmt"
	"sync"
)

// State is the phase of one streaming run.
type State int

const (
	Starting State = iota
	Streaming
	FallbackTriggered
	Done
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case Starting:
		return "starting"
	case Streaming:
		return "streaming"
	case FallbackTriggered:
		return "fallback_triggered"
	case Done:
		return "done"
	default:
		return "unknown"
	}
}

// MarshalJSON implements json.Marshaler.
func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// CanTransition reports whether a run may move from s to next.
func (s State) CanTransition(next State) bool {
	switch s {
	case Starting:
		return next == Streaming || next == FallbackTriggered || next == Done
	case Streaming:
		return next == FallbackTriggered || next == Done
	case FallbackTriggered:
		return next == Done
	}
	return false
}

// Machine holds the state of a run. Transition is the only way to change
// it, so every guarded step happens at most once.
type Machine struct {
	mu    sync.Mutex
	state State
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Transition moves the machine to next, or returns ErrIllegalTransition.
func (m *Machine) Transition(next State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.state.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, m.state, next)
	}
	m.state = next
	return nil
}
