// Package dispatch implements the cross-assembly function linking
// described by each assembly gets a contiguous
// array of resolved function pointers, one slot per declared
// dependency, filled in by searching other active assemblies' exports
// plus a host-injected function map.
//
// Grounded on the teacher's own dependency-resolution shape — the
// golang-debug core.Mapping/funcTab lookup pattern of resolving a
// symbolic reference against a table built ahead of time
// (internal/gocore/module.go) — adapted here from address ranges to
// name+signature matching.
package dispatch

import (
	"fmt"

	"github.com/mun-lang/munrt/internal/abi"
)

// LinkErrorReason enumerates why a single dependency slot failed to
// resolve.
type LinkErrorReason int

const (
	ReasonNotFound LinkErrorReason = iota
	ReasonSignatureMismatch
	ReasonAmbiguous
)

func (r LinkErrorReason) String() string {
	switch r {
	case ReasonNotFound:
		return "not found"
	case ReasonSignatureMismatch:
		return "signature mismatch"
	case ReasonAmbiguous:
		return "ambiguous"
	default:
		return "unknown"
	}
}

// LinkError is returned when a dependency slot cannot be resolved
// ("A missing or signature-mismatched dependency
// fails with LinkError{symbol, reason}").
type LinkError struct {
	Symbol string
	Reason LinkErrorReason
}

func (e *LinkError) Error() string {
	return fmt.Sprintf("dispatch: cannot link %q: %s", e.Symbol, e.Reason)
}

// Export is one candidate symbol a dependency slot can bind to: an
// assembly's FunctionDefinition, or a host-injected function.
type Export struct {
	Name string
	Signature abi.FunctionSignature
	FnPtr uintptr
}

// Table is one assembly's dispatch table: a contiguous slice of
// resolved function pointers indexed by the dependency's position in
// AssemblyInfo.Dependencies, exactly as specifies
// ("a contiguous array of function pointers indexed by the dependency
// position").
type Table struct {
	deps []abi.DependencyInfo
	fns []uintptr
}

// New allocates an unresolved table sized to deps; every slot is 0
// until Link fills it in.
func New(deps []abi.DependencyInfo) *Table {
	return &Table{deps: deps, fns: make([]uintptr, len(deps))}
}

// At returns the resolved function pointer for dependency slot i.
// Callers must not invoke the code generator's extra indirection
// before Link has succeeded.
func (t *Table) At(i int) uintptr { return t.fns[i] }

// Len reports the number of dependency slots.
func (t *Table) Len() int { return len(t.deps) }

// Link resolves every slot in t against candidates (typically every
// other active assembly's exported, non-private functions) plus
// injected (a host function map, e.g. Runtime.injected). Exact name
// and signature match is required — "exact" meaning every argument
// and return TypeId is identical, .
//
// Link either fully succeeds (every slot resolved) or returns the
// first LinkError encountered and leaves t unresolved; a caller must
// not transition the assembly to Linked on error.
func Link(t *Table, candidates []Export, injected map[string]Export) error {
	byName := make(map[string][]Export, len(candidates))
	for _, c := range candidates {
		byName[c.Name] = append(byName[c.Name], c)
	}

	fns := make([]uintptr, len(t.deps))
	for i, dep := range t.deps {
		fn, err := resolve(dep, byName[dep.Name], injected)
		if err != nil {
			return err
		}
		fns[i] = fn
	}
	copy(t.fns, fns)
	return nil
}

func resolve(dep abi.DependencyInfo, candidates []Export, injected map[string]Export) (uintptr, error) {
	var matches []Export
	for _, c := range candidates {
		if signaturesEqual(dep.Signature, c.Signature) {
			matches = append(matches, c)
		}
	}
	if inj, ok := injected[dep.Name]; ok && signaturesEqual(dep.Signature, inj.Signature) {
		matches = append(matches, inj)
	}

	switch len(matches) {
	case 0:
		if len(candidates) > 0 || injected[dep.Name].Name != "" {
			return 0, &LinkError{Symbol: dep.Name, Reason: ReasonSignatureMismatch}
		}
		return 0, &LinkError{Symbol: dep.Name, Reason: ReasonNotFound}
	case 1:
		return matches[0].FnPtr, nil
	default:
		return 0, &LinkError{Symbol: dep.Name, Reason: ReasonAmbiguous}
	}
}

func signaturesEqual(a, b abi.FunctionSignature) bool {
	if len(a.ArgTypes) != len(b.ArgTypes) {
		return false
	}
	for i := range a.ArgTypes {
		if a.ArgTypes[i] != b.ArgTypes[i] {
			return false
		}
	}
	if (a.ReturnType == nil) != (b.ReturnType == nil) {
		return false
	}
	if a.ReturnType != nil && *a.ReturnType != *b.ReturnType {
		return false
	}
	return true
}
