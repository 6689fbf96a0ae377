package run

import (
	"fmt"
	"time"
)

// validTransitions enumerates the allowed Run.Status edges from §3's
// lifecycle. Terminal states have no outgoing edges.
var validTransitions = map[Status]map[Status]bool{
	StatusQueued: {
		StatusRunning:   true,
		StatusCancelled: true,
	},
	StatusRunning: {
		StatusPaused:           true,
		StatusAwaitingApproval: true,
		StatusCompleted:        true,
		StatusFailed:           true,
		StatusCancelled:        true,
	},
	StatusPaused: {
		StatusRunning:   true,
		StatusCancelled: true,
	},
	StatusAwaitingApproval: {
		StatusRunning:   true,
		StatusFailed:    true,
		StatusCancelled: true,
	},
}

// CanTransition reports whether from -> to is a valid Run.Status edge. No
// transition is valid out of a terminal state.
func CanTransition(from, to Status) bool {
	if from.Terminal() {
		return false
	}
	return validTransitions[from][to]
}

// Transition moves r to the given status, returning an error if the edge
// is not valid per CanTransition. Terminal transitions stamp FinishedAt.
func (r *Run) Transition(to Status, now time.Time) error {
	if !CanTransition(r.Status, to) {
		return fmt.Errorf("invalid run status transition %s -> %s", r.Status, to)
	}
	r.Status = to
	if to.Terminal() {
		t := now
		r.FinishedAt = &t
	}
	return nil
}
