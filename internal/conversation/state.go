// ABOUTME: Conversation lifecycle states and the pure transition table
// ABOUTME: Session applies Transition and performs the side effects itself

package conversation

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidTransition means an operation was attempted in a state that does not allow it
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrSessionStart means the backend handshake failed
	ErrSessionStart = errors.New("session start failed")

	// ErrTurnFailed marks a backend turn failure; it is recovered with a fallback reply
	ErrTurnFailed = errors.New("turn failed")

	// ErrEmptyMessage means Send was called with blank text
	ErrEmptyMessage = errors.New("message is empty")

	// ErrSessionClosed means the session was closed or reset while an operation was outstanding
	ErrSessionClosed = errors.New("session closed")

	// ErrNotFound means no session is registered under the given id
	ErrNotFound = errors.New("conversation not found")
)

// Status is the lifecycle state of a conversation
type Status string

const (
	StatusUninitialized Status = "uninitialized"
	StatusStarting      Status = "starting"
	StatusActive        Status = "active"
	StatusFailed        Status = "failed"
	StatusClosed        Status = "closed"
)

// Terminal reports whether only Reset can leave this state
func (s Status) Terminal() bool {
	return s == StatusFailed || s == StatusClosed
}

// Trigger is an input to the state machine
type Trigger string

const (
	TriggerStart       Trigger = "start"
	TriggerStartOK     Trigger = "start_ok"
	TriggerStartFailed Trigger = "start_failed"
	TriggerSend        Trigger = "send"
	TriggerClose       Trigger = "close"
	TriggerReset       Trigger = "reset"
)

// Transition returns the state reached by applying t in state from.
// It has no side effects.
func Transition(from Status, t Trigger) (Status, error) {
	switch t {
	case TriggerReset:
		return StatusUninitialized, nil

	case TriggerClose:
		if from == StatusUninitialized {
			break
		}
		return StatusClosed, nil

	case TriggerStart:
		if from == StatusUninitialized {
			return StatusStarting, nil
		}

	case TriggerStartOK:
		if from == StatusStarting {
			return StatusActive, nil
		}

	case TriggerStartFailed:
		if from == StatusStarting {
			return StatusFailed, nil
		}

	case TriggerSend:
		if from == StatusActive {
			return StatusActive, nil
		}
	}

	return from, fmt.Errorf("%w: %s while %s", ErrInvalidTransition, t, from)
}
