package join

import "fmt"

// Side identifies which of the two join inputs a build belongs to.
type Side int

const (
	Left Side = iota
	Right
)

func (s Side) String() string {
	if s == Left {
		return "left"
	}
	return "right"
}

// State is a join slice's lifecycle stage, grounded on original_source's
// HJSlice: a slice accumulates build-side state independently per side,
// then moves to probing once both sides have stopped building, then to
// released once its output has been emitted and its paged vectors torn
// down.
type State int

const (
	Empty State = iota
	BuildingLeft
	BuildingRight
	BuildingBoth
	Probing
	Emitted
	Released
)

func (s State) String() string {
	switch s {
	case Empty:
		return "Empty"
	case BuildingLeft:
		return "BuildingLeft"
	case BuildingRight:
		return "BuildingRight"
	case BuildingBoth:
		return "BuildingBoth"
	case Probing:
		return "Probing"
	case Emitted:
		return "Emitted"
	case Released:
		return "Released"
	default:
		return "Unknown"
	}
}

// ErrInvalidTransition reports an attempted state change the machine does
// not allow.
type ErrInvalidTransition struct {
	From  State
	Event string
}

func (e *ErrInvalidTransition) Error() string {
	return fmt.Sprintf("join: invalid transition %q from state %s", e.Event, e.From)
}

// StateMachine drives one slice's build/probe/release lifecycle.
// BuildingLeft and BuildingRight are independent of each other: a slice
// building on only one side stays in that side's state until the other
// side produces its first tuple, at which point it becomes BuildingBoth.
type StateMachine struct {
	state State
	built map[Side]bool
}

// NewStateMachine creates a machine in the Empty state.
func NewStateMachine() *StateMachine {
	return &StateMachine{state: Empty, built: make(map[Side]bool, 2)}
}

// State returns the current state.
func (m *StateMachine) State() State { return m.state }

// OnFirstTupleOnSide must be called exactly once, the first time a tuple
// is built into the given side, advancing Empty/BuildingLeft/BuildingRight
// towards BuildingBoth.
func (m *StateMachine) OnFirstTupleOnSide(side Side) {
	m.built[side] = true
	switch {
	case m.built[Left] && m.built[Right]:
		m.state = BuildingBoth
	case m.built[Left]:
		m.state = BuildingLeft
	case m.built[Right]:
		m.state = BuildingRight
	}
}

// OnTrigger transitions BuildingLeft/BuildingRight/BuildingBoth/Empty into
// Probing, when the watermark passes the slice's end. An Empty slice (no
// tuples on either side) can still be triggered: it simply produces no
// output.
func (m *StateMachine) OnTrigger() error {
	switch m.state {
	case Empty, BuildingLeft, BuildingRight, BuildingBoth:
		m.state = Probing
		return nil
	default:
		return &ErrInvalidTransition{From: m.state, Event: "trigger"}
	}
}

// OnEmitted transitions Probing into Emitted, once probe output has been
// written downstream.
func (m *StateMachine) OnEmitted() error {
	if m.state != Probing {
		return &ErrInvalidTransition{From: m.state, Event: "emit"}
	}
	m.state = Emitted
	return nil
}

// OnReleased transitions Emitted into Released, once both sides' paged
// vectors have been destroyed.
func (m *StateMachine) OnReleased() error {
	if m.state != Emitted {
		return &ErrInvalidTransition{From: m.state, Event: "release"}
	}
	m.state = Released
	return nil
}
