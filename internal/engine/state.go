package engine

import (
	"fmt"
	"time"

	"taskdesk/internal/engine/tracker"
)

// State is the lifecycle position of one mutation request.
type State int

const (
	StateRequested State = iota
	StateAuthorized
	StateInFlight
	StateCommitted
	StateRejected
)

func (s State) String() string {
	switch s {
	case StateRequested:
		return "requested"
	case StateAuthorized:
		return "authorized"
	case StateInFlight:
		return "in_flight"
	case StateCommitted:
		return "committed"
	case StateRejected:
		return "rejected"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateCommitted || s == StateRejected
}

func ensureTransition(from, to State) error {
	switch from {
	case StateRequested:
		if to == StateAuthorized || to == StateRejected {
			return nil
		}
	case StateAuthorized:
		if to == StateInFlight || to == StateRejected {
			return nil
		}
	case StateInFlight:
		if to == StateCommitted || to == StateRejected {
			return nil
		}
	}
	return fmt.Errorf("invalid mutation transition %s -> %s", from, to)
}

// Transition is reported to Options.OnTransition after each state change.
type Transition struct {
	Op   tracker.Kind
	ID   string
	From State
	To   State
	At   time.Time
}

type mutation struct {
	op    tracker.Kind
	id    string
	state State
}

func (e *Engine) to(m *mutation, next State) error {
	if err := ensureTransition(m.state, next); err != nil {
		e.log.Error("mutation state", "op", m.op, "id", m.id, "err", err)
		return err
	}
	prev := m.state
	m.state = next
	if e.onTransition != nil {
		e.onTransition(Transition{Op: m.op, ID: m.id, From: prev, To: next, At: e.now()})
	}
	return nil
}
