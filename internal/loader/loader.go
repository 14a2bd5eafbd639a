package loader

import (
	"fmt"

	"github.com/mun-lang/munrt/internal/abi"
	"github.com/mun-lang/munrt/internal/dispatch"
	"github.com/mun-lang/munrt/internal/types"
)

// Assembly is one loaded library carried through the lifecycle of
// state machine.
type Assembly struct {
	Path string
	State State

	Info abi.AssemblyInfo
	Types []*types.Type

	Table *dispatch.Table

	lib LibraryHandle
}

// Exports returns this assembly's non-private function definitions,
// the candidate pool other assemblies' dependency slots may bind
// against .
func (a *Assembly) Exports() []dispatch.Export {
	var out []dispatch.Export
	for _, fn := range a.Info.Functions {
		if fn.Privacy != abi.Public {
			continue
		}
		out = append(out, dispatch.Export{Name: fn.Name, Signature: fn.Signature, FnPtr: fn.FnPtr})
	}
	return out
}

// Loader loads shared libraries and carries each through its
// lifecycle, interning declared types into a shared Registry as it
// goes .
type Loader struct {
	Registry *types.Registry
	Open OpenFunc // defaults to OpenDynamic if nil

	// AllocatorHandle is the token passed to a loaded library's
	// set_allocator_handle — in this port,
	// an opaque uintptr identifying the owning Runtime's heap, not a
	// real allocator vtable pointer (Go code never hands out raw
	// pointers into the GC heap to foreign code; all cross-boundary
	// object references are gc.Handle values instead).
	AllocatorHandle uintptr
}

// New constructs a Loader sharing the given type registry.
func New(registry *types.Registry) *Loader {
	return &Loader{Registry: registry, Open: OpenDynamic}
}

// Load implements copy+map, validate the
// three required symbols (folded into Open), check the ABI version,
// call get_info and intern every declared type, pass the allocator
// handle, and return the assembly in state Loaded. It interns types
// strictly: a type Guid already declared elsewhere must have an
// identical shape, or loading fails (spec section 4.1's "mismatch at
// load time is an error"). A reload that intentionally changes a
// type's shape must go through LoadForReload instead.
func (l *Loader) Load(path string) (*Assembly, error) {
	return l.load(path, l.Registry.InternAll)
}

// LoadForReload loads path the same way Load does, but decodes its
// types via Registry.InternReload instead of InternAll: a type whose
// shape changed since the currently active assembly declared it is
// not an error here, it is the edit the diff/migration engine exists
// to handle. The caller must call Registry.Commit with the result
// after migration succeeds, before treating the returned Assembly's
// types as canonical.
func (l *Loader) LoadForReload(path string) (*Assembly, error) {
	return l.load(path, l.Registry.InternReload)
}

func (l *Loader) load(path string, decode func([]abi.TypeInfo) ([]*types.Type, error)) (*Assembly, error) {
	open := l.Open
	if open == nil {
		open = OpenDynamic
	}

	lib, err := open(path)
	if err != nil {
		return nil, err
	}

	if got := lib.GetAbiVersion(); got != abi.AbiVersion {
		lib.Close()
		return nil, &AbiMismatchError{Path: path, Got: got, Want: abi.AbiVersion}
	}

	info, err := lib.GetInfo()
	if err != nil {
		lib.Close()
		return nil, &InvalidLibraryError{Path: path, Reason: err.Error()}
	}

	decoded, err := decode(info.Types)
	if err != nil {
		lib.Close()
		return nil, fmt.Errorf("loader: %s: %w", path, err)
	}

	lib.SetAllocatorHandle(l.AllocatorHandle)

	return &Assembly{Path: path, State: StateLoaded, Info: info, Types: decoded, lib: lib}, nil
}

// Link populates a's dispatch table against the exports of every
// other currently active assembly plus a host-injected function map,
// and transitions Loaded -> Linked on success (// state machine, 4.4's table construction).
func (l *Loader) Link(a *Assembly, others []*Assembly, injected map[string]dispatch.Export) error {
	if a.State != StateLoaded {
		return illegalTransition(a.State, StateLinked)
	}

	var candidates []dispatch.Export
	for _, o := range others {
		candidates = append(candidates, o.Exports()...)
	}

	table := dispatch.New(a.Info.Dependencies)
	if err := dispatch.Link(table, candidates, injected); err != nil {
		return err
	}

	a.Table = table
	a.State = a.State.next()
	return nil
}

// Activate transitions a Linked assembly into the active set (spec
// section 4.3: "Linked -> Active when it replaces or augments the
// current assembly set").
func (l *Loader) Activate(a *Assembly) error {
	if a.State != StateLinked {
		return illegalTransition(a.State, StateActive)
	}
	a.State = a.State.next()
	return nil
}

// Drain marks an active assembly as being replaced by a reload (spec
// section 4.3: "Active -> Draining on a reload where this assembly is
// being replaced"). The caller (the migration engine) still owns
// every cell of a type a declared until Retire.
func (l *Loader) Drain(a *Assembly) error {
	if a.State != StateActive {
		return illegalTransition(a.State, StateDraining)
	}
	a.State = a.State.next()
	return nil
}

// Retire completes Draining -> Unloaded: it releases a's declared
// types from the registry and closes the underlying library handle.
// The caller must have already confirmed, via the migration engine,
// that no handle still references a type declared solely by a (spec
// section 4.3: "after migration completes and no handle still
// references a type declared solely by this assembly").
func (l *Loader) Retire(a *Assembly) error {
	if a.State != StateDraining {
		return illegalTransition(a.State, StateUnloaded)
	}
	for _, t := range a.Types {
		l.Registry.Release(t.ID)
	}
	l.Registry.CollectUnreferencedTypeData()
	a.State = a.State.next()
	return a.lib.Close()
}

// Close releases a's underlying library handle directly, bypassing
// the Draining -> Unloaded lifecycle transition. It is for an
// assembly loaded by LoadForReload that Update decided to discard
// without ever activating it (the reload produced no actual change).
func (a *Assembly) Close() error {
	return a.lib.Close()
}
