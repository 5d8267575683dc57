package scan

import (
	"errors"
	"fmt"
	"slices"
)

// ErrInvalidTransition is returned when an operation is not allowed in the
// flow's current state
var ErrInvalidTransition = errors.New("invalid state transition")

// State is the stage a scan flow is in
type State string

// Flow states
const (
	StateIdle        State = "idle"
	StateCapturing   State = "capturing"
	StateCropping    State = "cropping"
	StateRecognizing State = "recognizing"
	StateParsed      State = "parsed"
	StateCommitting  State = "committing"
	StateDone        State = "done"
	StateFailed      State = "failed"
	StateCancelled   State = "cancelled"
)

// transitions lists the states reachable from each state. Recognition
// failures and empty parses return to cropping so the operator can adjust
// the region and retry.
var transitions = map[State][]State{
	StateIdle:        {StateCapturing},
	StateCapturing:   {StateCropping, StateIdle},
	StateCropping:    {StateCapturing, StateRecognizing},
	StateRecognizing: {StateParsed, StateCropping, StateCancelled, StateFailed},
	StateParsed:      {StateCommitting, StateCancelled},
	StateCommitting:  {StateDone, StateFailed},
}

// CanTransition reports whether to is reachable from s in one step
func (s State) CanTransition(to State) bool {
	return slices.Contains(transitions[s], to)
}

// Terminal reports whether no further transition is possible
func (s State) Terminal() bool {
	return len(transitions[s]) == 0
}

func transitionError(from, to State) error {
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}
