// Package assignment decides how a job is handed to a work team and runs the
// offer lifecycle.
//
// Valid assignment graph:
//
//	PENDING ──► OFFERED ──► ACCEPTED
//	   │           ├──────► REJECTED
//	   │           └──────► EXPIRED ──► (escalation: new OFFERED assignment)
//	   └──► ACCEPTED | REJECTED
//
// ACCEPTED, REJECTED and EXPIRED are terminal; an expired assignment is never
// resurrected, escalation always creates a new record.
package assignment

import (
	"fmt"
	"slices"

	"fieldops/dispatch-service/internal/model"
)

// validTransitions lists every allowed (from → to) pair.
var validTransitions = map[model.AssignmentState][]model.AssignmentState{
	model.AssignmentPending: {model.AssignmentOffered, model.AssignmentAccepted, model.AssignmentRejected},
	model.AssignmentOffered: {model.AssignmentAccepted, model.AssignmentRejected, model.AssignmentExpired},
	// ACCEPTED, REJECTED and EXPIRED are terminal
}

// ParseState converts a raw string to an AssignmentState.
func ParseState(s string) (model.AssignmentState, error) {
	st := model.AssignmentState(s)
	switch st {
	case model.AssignmentPending, model.AssignmentOffered, model.AssignmentAccepted,
		model.AssignmentRejected, model.AssignmentExpired:
		return st, nil
	}
	return "", model.Validation(model.CodeInvalidInput, fmt.Sprintf("unknown assignment state %q", s))
}

// IsTransitionAllowed returns true when moving from → to is permitted.
func IsTransitionAllowed(from, to model.AssignmentState) bool {
	return slices.Contains(validTransitions[from], to)
}

// IsTerminal reports whether no transition leaves s.
func IsTerminal(s model.AssignmentState) bool {
	return len(validTransitions[s]) == 0
}

func checkTransition(a model.Assignment, to model.AssignmentState) error {
	if !IsTransitionAllowed(a.State, to) {
		return model.InvalidState(model.CodeInvalidTransition,
			fmt.Sprintf("assignment %s cannot move from %s to %s", a.ID, a.State, to))
	}
	return nil
}
