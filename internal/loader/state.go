// Package loader implements the assembly loader: copy-then-map a
// shared library, validate its ABI contract, intern its declared
// types, and carry it through the
// Unloaded -> Loaded -> Linked -> Active -> Draining -> Unloaded
// state machine as reloads come and go.
//
// Grounded on mun_runtime::assembly's TempLibrary/PrivateLibrary split
// (original_source/crates/mun_runtime/src/assembly/{temp_library,
// private_library}.rs: "creates a unique file per load ... enables
// writing to the original library"), and on the teacher's own
// file-validation habits in internal/core.Process (readExec/readNote
// check magic bytes and headers before trusting a mapped file).
package loader

import "fmt"

// State is one position in the per-assembly lifecycle of spec
// section 4.3.
type State int

const (
	StateUnloaded State = iota
	StateLoaded
	StateLinked
	StateActive
	StateDraining
)

func (s State) String() string {
	switch s {
	case StateUnloaded:
		return "Unloaded"
	case StateLoaded:
		return "Loaded"
	case StateLinked:
		return "Linked"
	case StateActive:
		return "Active"
	case StateDraining:
		return "Draining"
	default:
		return "Unknown"
	}
}

// transitions lists the single legal next state from each state; any
// other requested move is a programmer error in the caller (the
// runtime façade), reported as the error illegalTransition builds.
var transitions = map[State]State{
	StateLoaded: StateLinked,
	StateLinked: StateActive,
	StateActive: StateDraining,
	StateDraining: StateUnloaded,
}

func (s State) next() State { return transitions[s] }

// illegalTransition builds the error a lifecycle method returns when
// the runtime façade calls it out of order; it does not panic.
func illegalTransition(from, to State) error {
	return fmt.Errorf("loader: illegal transition %s -> %s", from, to)
}
