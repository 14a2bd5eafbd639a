package munrt

import (
	"sync"

	"github.com/ebitengine/purego"
	"github.com/sirupsen/logrus"

	"github.com/mun-lang/munrt/internal/abi"
	"github.com/mun-lang/munrt/internal/diff"
	"github.com/mun-lang/munrt/internal/dispatch"
	"github.com/mun-lang/munrt/internal/gc"
	"github.com/mun-lang/munrt/internal/loader"
	"github.com/mun-lang/munrt/internal/migrate"
	"github.com/mun-lang/munrt/internal/types"
)

// UpdateOutcome reports what Runtime.Update did, per spec section
// 6.3.
type UpdateOutcome int

const (
	NoChange UpdateOutcome = iota
	Reloaded
	Failed
)

func (o UpdateOutcome) String() string {
	switch o {
	case NoChange:
		return "NoChange"
	case Reloaded:
		return "Reloaded"
	case Failed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// Handle is a live, GC-managed object reference, the same identity a
// caller gets back from a gc/struct-returning Invoke (spec section
// 4.7 step 5) and can later pass to the field/array accessors below.
type Handle = gc.Handle

// Runtime is one loaded Mun library plus everything needed to invoke
// its functions and hot-swap it for a newer version: a type registry,
// a GC heap, and the currently active/draining assemblies (spec
// section 5: "single-threaded cooperative" — external synchronization
// is the caller's job; Runtime only guards against the internal state
// races a concurrent Invoke/Update pair would cause).
type Runtime struct {
	mu sync.Mutex

	path string
	registry *types.Registry
	heap *gc.Heap
	loader *loader.Loader
	logger *logrus.Logger
	injected map[string]dispatch.Export

	active []*loader.Assembly
	draining []*loader.Assembly

	roots invokeRoots
}

// New loads the library at path and activates it: steps 1-6 followed
// immediately by Activate, since a freshly constructed Runtime has no
// prior assembly set to replace.
func New(path string, opts ...Option) (*Runtime, error) {
	c := newConfig(opts)

	registry := types.NewRegistry()
	l := loader.New(registry)
	if c.open != nil {
		l.Open = c.open
	}
	r := &Runtime{
		path: path,
		registry: registry,
		heap: gc.NewHeap(c.heapLimit),
		loader: l,
		logger: c.logger,
		injected: c.injected,
	}

	a, err := r.loadAndActivate(path)
	if err != nil {
		return nil, err
	}
	r.active = []*loader.Assembly{a}
	return r, nil
}

func (r *Runtime) loadAndActivate(path string) (*loader.Assembly, error) {
	a, err := r.loader.Load(path)
	if err != nil {
		return nil, wrapLoadError(err)
	}
	if err := r.loader.Link(a, r.active, r.injected); err != nil {
		return nil, wrapLinkError(err)
	}
	if err := r.loader.Activate(a); err != nil {
		return nil, wrap(Corruption, err.Error(), err)
	}
	r.logger.WithField("assembly", path).Info("assembly active")
	return a, nil
}

// Invoke looks up name across the active assemblies, verifies its
// signature against args, calls through its resolved function
// pointer, and marshals the result.
func (r *Runtime) Invoke(name string, args ...Value) (result Value, err *Error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	defer func() {
		if rec := recover(); rec != nil {
			err = recoverCorruption(rec)
		}
	}()

	fn, ambiguity, found := r.findFunction(name)
	if !found {
		return Value{}, wrap(InvalidLibrary, "munrt: no such function "+name, nil)
	}
	if ambiguity {
		e := wrap(AmbiguousSymbol, "munrt: ambiguous symbol "+name, nil)
		e.Symbol = name
		return Value{}, e
	}

	if sigErr := checkSignature(fn.Signature, args); sigErr != nil {
		return Value{}, sigErr
	}

	for _, a := range args {
		if r.isGcType(a.typeID) {
			r.roots.push(a.AsHandle())
			defer r.roots.pop()
			if !r.heap.Valid(a.AsHandle()) {
				return Value{}, wrap(TypeMismatch, "munrt: invalid handle argument", nil)
			}
		}
	}

	raw := callNative(fn.FnPtr, args)

	var ret Value
	if fn.Signature.ReturnType != nil {
		ret = Value{typeID: *fn.Signature.ReturnType, raw: raw}
		if r.isGcType(ret.typeID) {
			r.roots.push(ret.AsHandle())
			defer r.roots.pop()
		}
	}
	return ret, nil
}

// isGcType reports whether id names a struct(gc) type, the only kind
// ever carried through a Value as a Handle rather than by value.
func (r *Runtime) isGcType(id abi.Guid) bool {
	t := r.registry.Lookup(id)
	return t != nil && t.IsGc()
}

func (r *Runtime) findFunction(name string) (abi.FunctionDefinition, bool, bool) {
	var found abi.FunctionDefinition
	count := 0
	for _, a := range r.active {
		for _, fn := range a.Info.Functions {
			if fn.Name == name && fn.Privacy == abi.Public {
				found = fn
				count++
			}
		}
	}
	return found, count > 1, count >= 1
}

// callNative calls fnPtr with args packed into integer/uintptr
// argument slots via purego.SyscallN, matching how purego.NewCallback
// (the mechanism this repo's tests and host-injected functions use to
// hand Invoke a callable address) expects to be invoked. Floating
// point arguments are out of scope for this native call path: Mun's
// compiled calling convention places them in a platform's dedicated
// float registers, which requires per-architecture assembly thunks
// that belong to the code generator's ABI, not this runtime (see
// this scope Non-goals on codegen) — DESIGN.md records this limitation.
func callNative(fnPtr uintptr, args []Value) uint64 {
	raw := make([]uintptr, len(args))
	for i, a := range args {
		raw[i] = uintptr(a.raw)
	}
	return uint64(purego.SyscallN(fnPtr, raw...))
}

// Update runs the reload pipeline end to end: reload the library at
// Runtime's original path, diff its types against the currently
// active assembly's, migrate every live cell, and swap the active
// assembly set. On any failure the runtime keeps running against the
// old assembly.
func (r *Runtime) Update() (outcome UpdateOutcome, updErr *Error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	defer func() {
		if rec := recover(); rec != nil {
			outcome, updErr = Failed, recoverCorruption(rec)
		}
	}()

	newAssembly, err := r.loader.LoadForReload(r.path)
	if err != nil {
		return Failed, wrapLoadError(err)
	}

	oldTypes := r.activeTypes()
	edits, diffErr := diff.Diff(oldTypes, newAssembly.Types)
	if diffErr != nil {
		return Failed, wrapDiffError(diffErr)
	}
	if len(edits) == 0 && sameBuild(r.active, newAssembly) {
		_ = newAssembly.Close()
		return NoChange, nil
	}

	if err := r.loader.Link(newAssembly, append(r.active, newAssembly), r.injected); err != nil {
		return Failed, wrapLinkError(err)
	}

	stats, migErr := migrate.Run(r.heap, r.registry, edits, diff.Policy{})
	if migErr != nil {
		return Failed, wrap(MigrationFailed, migErr.Error(), migErr)
	}
	r.registry.Commit(newAssembly.Types)
	r.heap.Collect(&r.roots)
	r.logger.WithFields(logrus.Fields{
		"types_edited": stats.TypesEdited,
		"cells_migrated": stats.CellsMigrated,
		"types_retired": stats.TypesRetired,
	}).Info("migration committed")

	for _, a := range r.active {
		if err := r.loader.Drain(a); err != nil {
			return Failed, wrap(Corruption, err.Error(), err)
		}
		r.draining = append(r.draining, a)
	}
	if err := r.loader.Activate(newAssembly); err != nil {
		return Failed, wrap(Corruption, err.Error(), err)
	}
	r.active = []*loader.Assembly{newAssembly}

	r.retireDrained()
	return Reloaded, nil
}

func (r *Runtime) activeTypes() []*types.Type {
	var out []*types.Type
	for _, a := range r.active {
		out = append(out, a.Types...)
	}
	return out
}

// sameBuild reports whether newAssembly declares exactly the same
// functions — same name, signature, privacy, and fn_ptr — as the
// currently active assembly set. An unchanged type list with a
// changed fn_ptr still means the code behind a function body changed
// and must be reloaded, even though no type edit exists to diff.
func sameBuild(active []*loader.Assembly, newAssembly *loader.Assembly) bool {
	oldFns := make(map[string]abi.FunctionDefinition)
	for _, a := range active {
		for _, fn := range a.Info.Functions {
			oldFns[fn.Name] = fn
		}
	}
	newFns := newAssembly.Info.Functions
	if len(oldFns) != len(newFns) {
		return false
	}
	for _, fn := range newFns {
		old, ok := oldFns[fn.Name]
		if !ok || old.FnPtr != fn.FnPtr || old.Privacy != fn.Privacy || !sameSignature(old.Signature, fn.Signature) {
			return false
		}
	}
	return true
}

func sameSignature(a, b abi.FunctionSignature) bool {
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

// retireDrained retires every draining assembly once migration has
// completed ("Draining ->
// Unloaded after migration completes and no handle still references a
// type declared solely by this assembly"). It does not inspect the
// heap: Retire releases the assembly's type declarations, and the
// registry's reference counts keep any type the new assembly still
// declares. An assembly whose Retire fails stays in draining.
func (r *Runtime) retireDrained() {
	var remaining []*loader.Assembly
	for _, a := range r.draining {
		if err := r.loader.Retire(a); err != nil {
			remaining = append(remaining, a)
			continue
		}
	}
	r.draining = remaining
}

// Collect runs an explicit mark-and-sweep pass; collection never runs
// implicitly inside Invoke, only here or as part of Update.
func (r *Runtime) Collect() gc.Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.heap.Collect(&r.roots)
}

// Path returns the library path this Runtime was constructed with and
// reloads on every Update.
func (r *Runtime) Path() string { return r.path }

// Active returns the AssemblyInfo of every currently active assembly,
// for hosts (munrun load/repl) that want to summarize what's loaded
// without reaching into loader internals.
func (r *Runtime) Active() []abi.AssemblyInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]abi.AssemblyInfo, len(r.active))
	for i, a := range r.active {
		out[i] = a.Info
	}
	return out
}

func (r *Runtime) Root(h Handle) { r.heap.Root(h) }
func (r *Runtime) Unroot(h Handle) { r.heap.Unroot(h) }

func (r *Runtime) GetField(h Handle, off, size int64) ([]byte, error) { return r.heap.GetField(h, off, size) }
func (r *Runtime) SetField(h Handle, off int64, data []byte) error { return r.heap.SetField(h, off, data) }
func (r *Runtime) Replace(h Handle, data []byte) error { return r.heap.Replace(h, data) }
func (r *Runtime) ArrayLength(h Handle) (int64, error) { return r.heap.ArrayLength(h) }
func (r *Runtime) ArrayCapacity(h Handle) (int64, error) { return r.heap.ArrayCapacity(h) }

// invokeRoots is the CallRoots implementation tracking handles live on
// in-flight Invoke calls' argument/return slots. Invoke only ever runs
// one at a time under Runtime.mu, so a plain slice-as-stack suffices.
type invokeRoots struct {
	mu sync.Mutex
	stack []gc.Handle
}

func (ir *invokeRoots) push(h gc.Handle) {
	ir.mu.Lock()
	defer ir.mu.Unlock()
	ir.stack = append(ir.stack, h)
}

func (ir *invokeRoots) pop() {
	ir.mu.Lock()
	defer ir.mu.Unlock()
	if len(ir.stack) > 0 {
		ir.stack = ir.stack[:len(ir.stack)-1]
	}
}

func (ir *invokeRoots) ForEachCallRoot(fn func(gc.Handle)) {
	ir.mu.Lock()
	defer ir.mu.Unlock()
	for _, h := range ir.stack {
		fn(h)
	}
}

func recoverCorruption(rec any) *Error {
	if e, ok := rec.(error); ok {
		return wrap(Corruption, "munrt: internal invariant violated: "+e.Error(), e)
	}
	return wrap(Corruption, "munrt: internal invariant violated", nil)
}
