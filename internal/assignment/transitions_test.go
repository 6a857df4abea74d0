package assignment_test

import (
	"errors"
	"testing"

	"fieldops/dispatch-service/internal/assignment"
	"fieldops/dispatch-service/internal/model"
)

var allStates = []model.AssignmentState{
	model.AssignmentPending,
	model.AssignmentOffered,
	model.AssignmentAccepted,
	model.AssignmentRejected,
	model.AssignmentExpired,
}

// ── ParseState ─────────────────────────────────────────────────────────────

func TestParseState_ValidValues(t *testing.T) {
	for _, st := range allStates {
		got, err := assignment.ParseState(string(st))
		if err != nil {
			t.Errorf("ParseState(%q) returned unexpected error: %v", st, err)
		}
		if got != st {
			t.Errorf("ParseState(%q) = %q", st, got)
		}
	}
}

func TestParseState_Invalid(t *testing.T) {
	for _, s := range []string{"", "offered", "CANCELLED"} {
		_, err := assignment.ParseState(s)
		if !errors.Is(err, model.ErrValidation) {
			t.Errorf("ParseState(%q) error = %v, want validation error", s, err)
		}
	}
}

// ── IsTransitionAllowed ────────────────────────────────────────────────────

func TestIsTransitionAllowed_Valid(t *testing.T) {
	cases := []struct{ from, to model.AssignmentState }{
		{model.AssignmentPending, model.AssignmentOffered},
		{model.AssignmentPending, model.AssignmentAccepted},
		{model.AssignmentPending, model.AssignmentRejected},
		{model.AssignmentOffered, model.AssignmentAccepted},
		{model.AssignmentOffered, model.AssignmentRejected},
		{model.AssignmentOffered, model.AssignmentExpired},
	}
	for _, c := range cases {
		if !assignment.IsTransitionAllowed(c.from, c.to) {
			t.Errorf("IsTransitionAllowed(%s → %s) should be true", c.from, c.to)
		}
	}
}

func TestIsTransitionAllowed_TerminalStatesHaveNoExit(t *testing.T) {
	terminals := []model.AssignmentState{model.AssignmentAccepted, model.AssignmentRejected, model.AssignmentExpired}
	for _, from := range terminals {
		if !assignment.IsTerminal(from) {
			t.Errorf("IsTerminal(%s) should be true", from)
		}
		for _, to := range allStates {
			if assignment.IsTransitionAllowed(from, to) {
				t.Errorf("IsTransitionAllowed(%s → %s) should be false (terminal)", from, to)
			}
		}
	}
}

func TestIsTransitionAllowed_NoResurrectionOrBackwards(t *testing.T) {
	cases := []struct{ from, to model.AssignmentState }{
		{model.AssignmentExpired, model.AssignmentOffered},
		{model.AssignmentOffered, model.AssignmentPending},
		{model.AssignmentOffered, model.AssignmentOffered},
		{model.AssignmentPending, model.AssignmentExpired},
	}
	for _, c := range cases {
		if assignment.IsTransitionAllowed(c.from, c.to) {
			t.Errorf("IsTransitionAllowed(%s → %s) should be false", c.from, c.to)
		}
	}
}

func TestIsTransitionAllowed_UnknownState(t *testing.T) {
	if assignment.IsTransitionAllowed("BOGUS", model.AssignmentAccepted) {
		t.Error("unknown source state must not transition")
	}
}
