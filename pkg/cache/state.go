// SPDX-License-Identifier: GPL-2.0-or-later

package cache

import (
	"errors"
	"fmt"
)

// State of the cache.
type State uint8

// States.
const (
	StateUnknown State = iota
	StateIdle
	StateCaching
	StateWriting
	StateStopped
	StateCanceled
)

// States lists every state.
var States = []State{
	StateUnknown,
	StateIdle,
	StateCaching,
	StateWriting,
	StateStopped,
	StateCanceled,
}

func (s State) String() string {
	switch s {
	case StateUnknown:
		return "unknown"
	case StateIdle:
		return "idle"
	case StateCaching:
		return "caching"
	case StateWriting:
		return "writing"
	case StateStopped:
		return "stopped"
	case StateCanceled:
		return "canceled"
	}
	return fmt.Sprintf("state(%d)", uint8(s))
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Errors.
var (
	ErrInvalidState = errors.New("invalid state transition")
	ErrSameState    = errors.New("already in state")
)

// Canceled is reachable from every state and is not listed.
var transitions = map[State][]State{
	StateUnknown:  {StateIdle, StateCaching, StateWriting, StateStopped},
	StateIdle:     {StateCaching, StateWriting},
	StateCaching:  {StateWriting, StateStopped, StateIdle},
	StateWriting:  {StateStopped},
	StateStopped:  {StateIdle, StateCaching, StateWriting},
	StateCanceled: {StateIdle, StateCaching, StateWriting, StateStopped},
}

// CanTransition reports if from -> to is a legal transition.
func CanTransition(from, to State) bool {
	if to == StateCanceled {
		return true
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// StateMachine holds the current state. Not safe for concurrent use.
type StateMachine struct {
	state State
}

// State returns the current state.
func (m *StateMachine) State() State {
	return m.state
}

// Check returns the error Transition would return without mutating the state.
func (m *StateMachine) Check(to State) error {
	if m.state == to {
		return fmt.Errorf("%w: %v", ErrSameState, to)
	}
	if !CanTransition(m.state, to) {
		return fmt.Errorf("%w: %v -> %v", ErrInvalidState, m.state, to)
	}
	return nil
}

// Transition moves to the target state. ErrSameState is returned for a
// self transition and should be treated as success. The state is not
// changed if ErrInvalidState is returned.
func (m *StateMachine) Transition(to State) error {
	if err := m.Check(to); err != nil {
		return err
	}
	m.state = to
	return nil
}
