package motors

import "sync/atomic"

// RunState is whether a mechanism has a movement in flight.
type RunState int32

// Run states.
const (
	// Idle accepts new movements.
	Idle RunState = iota
	// Moving has ticks running. Only the task enters it.
	Moving
	// Finishing means the tick handler ended the movement and the task has not handled the
	// completion yet. Only the tick handler enters it.
	Finishing
)

func (s RunState) String() string {
	switch s {
	case Moving:
		return "MOVING"
	case Finishing:
		return "FINISHING"
	default:
		return "IDLE"
	}
}

// Moving to Idle is the task aborting a movement after its ticks stopped.
var legalTransitions = map[RunState][]RunState{
	Idle:      {Moving},
	Moving:    {Finishing, Idle},
	Finishing: {Idle},
}

// StateCell is the run state shared between a motor task and its tick handler.
type StateCell struct {
	v atomic.Int32
}

// Load returns the current state.
func (c *StateCell) Load() RunState {
	return RunState(c.v.Load())
}

// Transition moves the cell from one state to another. It fails without changing anything if the
// cell is not in from or the transition is not a legal one.
func (c *StateCell) Transition(from, to RunState) bool {
	legal := false
	for _, next := range legalTransitions[from] {
		if next == to {
			legal = true
			break
		}
	}
	if !legal {
		return false
	}
	return c.v.CompareAndSwap(int32(from), int32(to))
}

// Busy reports whether the cell is not Idle.
func (c *StateCell) Busy() bool {
	return c.Load() != Idle
}
