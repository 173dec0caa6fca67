package model

import "fmt"

// Status is the lifecycle state of a change.
type Status string

// Change lifecycle states.
const (
	// StatusNew is the open, initial state.
	StatusNew Status = "NEW"
	// StatusMerged is closed and terminal: no transition ever leaves it.
	StatusMerged Status = "MERGED"
	// StatusAbandoned is closed but can be restored.
	StatusAbandoned Status = "ABANDONED"
)

// Action is an event driving a status transition.
type Action string

// Status transition actions.
const (
	ActionSubmit  Action = "submit"
	ActionAbandon Action = "abandon"
	ActionRestore Action = "restore"
)

// Transition returns the status reached by applying action to s. The table is
// the sole authority over status mutation; anything not listed fails with
// ErrIllegalTransition carrying the current status and attempted action.
//
//	NEW       --submit-->  MERGED
//	NEW       --abandon--> ABANDONED
//	ABANDONED --restore--> NEW
func (s Status) Transition(action Action) (Status, error) {
	switch {
	case s == StatusNew && action == ActionSubmit:
		return StatusMerged, nil
	case s == StatusNew && action == ActionAbandon:
		return StatusAbandoned, nil
	case s == StatusAbandoned && action == ActionRestore:
		return StatusNew, nil
	}
	return s, fmt.Errorf("%w: cannot %s a change in status %s", ErrIllegalTransition, action, s)
}

// Valid reports whether s is one of the known states.
func (s Status) Valid() bool {
	switch s {
	case StatusNew, StatusMerged, StatusAbandoned:
		return true
	}
	return false
}
