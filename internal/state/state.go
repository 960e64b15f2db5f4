// Package state holds the authoritative application state and the closed set
// of transitions that mutate it.
//
// A Machine is owned by exactly one goroutine. Nothing in this package is safe
// for concurrent use.
package state

import "fmt"

// Transition is one immutable change request against a Machine.
type Transition interface {
	// Kind returns the wire tag of the transition.
	Kind() string
}

// Machine is a versioned application state driven by transitions.
type Machine interface {
	// Apply mutates the state. A non-nil error is always a *Conflict and
	// leaves the state untouched.
	Apply(t Transition) error
	// Revision counts successful applies since creation.
	Revision() uint64
}

// Conflict reports a transition the machine refused to apply.
type Conflict struct {
	Transition Transition
	Reason     string
}

func (c *Conflict) Error() string {
	if c.Transition == nil {
		return "transition conflict: " + c.Reason
	}
	return fmt.Sprintf("transition %s conflict: %s", c.Transition.Kind(), c.Reason)
}
