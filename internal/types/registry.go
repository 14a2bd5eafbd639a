// Package types implements the type registry: canonical
// identity for types by Guid, structural descriptors, and field
// layout queries.
//
// Grounded on golang.org/x/debug/internal/gocore's Type/Kind/Field
// (internal/gocore/type.go in the teacher): the same shape of
// {Name, Size, Kind, Fields} record, adapted here to carry a Guid
// identity and reference-counted interning instead of DWARF-derived
// ad-hoc types.
package types

import (
	"fmt"
	"sync"

	"github.com/mun-lang/munrt/internal/abi"
)

// Kind mirrors abi.DataTag one to one (all primitives share
// KindPrimitive and are told apart by name), giving callers a single
// switchable enum on the resolved Type.
type Kind uint8

const (
	KindPrimitive Kind = iota
	KindStruct
	KindPointer
	KindArray
)

// Field is one struct field, resolved: its type is a live *Type
// rather than a raw Guid.
type Field struct {
	Name   string
	Offset int64
	Type   *Type
}

// Type is a canonical, interned type descriptor. Two Types are the
// same type iff they are the same *Type pointer; the registry
// guarantees that by Guid.
type Type struct {
	ID         abi.Guid
	Name       string
	Size       int64
	Align      int64
	Kind       Kind
	MemoryKind abi.MemoryKind // meaningful only for KindStruct

	Fields []Field // KindStruct
	Elem   *Type   // KindPointer, KindArray
	Mut    bool    // KindPointer

	refs int // assemblies currently declaring this type
}

func (t *Type) String() string { return t.Name }

// IsGc reports whether values of this type are GC-managed (struct(gc))
// rather than stored by value.
func (t *Type) IsGc() bool {
	return t.Kind == KindStruct && t.MemoryKind == abi.GcManaged
}

// field looks up a struct field by name, or nil.
func (t *Type) field(name string) *Field {
	for i := range t.Fields {
		if t.Fields[i].Name == name {
			return &t.Fields[i]
		}
	}
	return nil
}

func (t *Type) HasField(name string) bool { return t.field(name) != nil }

// reentrantMutex lets Intern recursively intern pointee/element types
// from the same logical call without deadlocking, per spec section 5
// ("the type registry ... uses a reentrant mutex because type
// interning may recursively intern pointee/element types"). Go's
// sync.Mutex has no such mode, so the owning call is tracked by a
// cooperative token instead of relying on goroutine IDs (which Go
// deliberately makes hard to obtain).
type reentrantMutex struct {
	mu    sync.Mutex
	owner int64 // token of the current holder, 0 if unlocked
	depth int
}

// lock acquires the mutex for the given non-zero token, reentrantly.
func (m *reentrantMutex) lock(token int64) {
	m.mu.Lock()
	if m.owner == token {
		m.depth++
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	for {
		m.mu.Lock()
		if m.owner == 0 {
			m.owner = token
			m.depth = 1
			m.mu.Unlock()
			return
		}
		m.mu.Unlock()
	}
}

func (m *reentrantMutex) unlock(token int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.owner != token {
		panic("types: unlock called by non-owner")
	}
	m.depth--
	if m.depth == 0 {
		m.owner = 0
	}
}

// Registry is an interning table keyed by Guid. Several Loaders may
// share one Registry, but munrt.New constructs a separate Registry for
// each Runtime, so types are not shared between Runtimes.
type Registry struct {
	mx       reentrantMutex
	tokenGen int64

	mu   sync.Mutex // protects the map itself; distinct from mx, which
	     // only serializes logical Intern operations for reentrancy
	byID map[abi.Guid]*Type
}

// NewRegistry constructs an empty type registry.
func NewRegistry() *Registry {
	return &Registry{byID: make(map[abi.Guid]*Type)}
}

// newToken hands out a unique reentrancy token per top-level Intern
// call (not per goroutine, since recursion happens on the same logical
// call stack and that's all reentrantMutex needs).
func (r *Registry) newToken() int64 {
	r.mu.Lock()
	r.tokenGen++
	t := r.tokenGen
	r.mu.Unlock()
	return t
}

// Intern registers the given wire-format TypeInfo (and transitively,
// any pointer/array element or struct field types it references) and
// returns the canonical *Type. If a type with the same Guid is
// already interned, its reference count is bumped and the existing
// descriptor is returned — but its field list must match structurally
// ("mismatch at load time is an error").
//
// all is the full set of TypeInfo records being loaded together (an
// AssemblyInfo.Types slice), used to resolve Guid references that
// haven't been interned yet.
func (r *Registry) Intern(all []abi.TypeInfo, info abi.TypeInfo) (*Type, error) {
	token := r.newToken()
	r.mx.lock(token)
	defer r.mx.unlock(token)

	byGuid := make(map[abi.Guid]abi.TypeInfo, len(all))
	for _, ti := range all {
		byGuid[ti.Guid] = ti
	}
	return r.internLocked(byGuid, info, map[abi.Guid]*Type{})
}

// InternAll interns every type in infos as a batch, resolving
// forward references among them, and returns them in the same order.
func (r *Registry) InternAll(infos []abi.TypeInfo) ([]*Type, error) {
	token := r.newToken()
	r.mx.lock(token)
	defer r.mx.unlock(token)

	byGuid := make(map[abi.Guid]abi.TypeInfo, len(infos))
	for _, ti := range infos {
		byGuid[ti.Guid] = ti
	}
	seen := map[abi.Guid]*Type{}
	out := make([]*Type, len(infos))
	for i, ti := range infos {
		t, err := r.internLocked(byGuid, ti, seen)
		if err != nil {
			return nil, err
		}
		out[i] = t
	}
	return out, nil
}

func (r *Registry) internLocked(byGuid map[abi.Guid]abi.TypeInfo, info abi.TypeInfo, inProgress map[abi.Guid]*Type) (*Type, error) {
	r.mu.Lock()
	if existing, ok := r.byID[info.Guid]; ok {
		r.mu.Unlock()
		if err := checkStructuralMatch(existing, info); err != nil {
			return nil, err
		}
		existing.refs++
		return existing, nil
	}
	r.mu.Unlock()

	if t, ok := inProgress[info.Guid]; ok {
		// Cycle guard: a struct(gc) field may point back to a type
		// currently being built; return the partially built node, its
		// Fields will be filled in once the recursion unwinds.
		return t, nil
	}

	t := &Type{
		ID:    info.Guid,
		Name:  info.Name,
		Size:  int64(info.SizeBytes),
		Align: int64(info.AlignBytes),
	}
	inProgress[info.Guid] = t

	switch info.Tag {
	case abi.DataPrimitive:
		t.Kind = KindPrimitive
	case abi.DataStruct:
		t.Kind = KindStruct
		t.MemoryKind = info.Struct.Kind
		fields, err := decodeFields(info, byGuid, func(fi abi.TypeInfo) (*Type, error) {
			return r.internLocked(byGuid, fi, inProgress)
		})
		if err != nil {
			return nil, err
		}
		t.Fields = fields
	case abi.DataPointer:
		t.Kind = KindPointer
		t.Mut = info.PointerMut
		ei, ok := byGuid[info.PointerElem]
		if !ok {
			return nil, fmt.Errorf("types: pointer %q references unresolved element type %s", info.Name, info.PointerElem)
		}
		et, err := r.internLocked(byGuid, ei, inProgress)
		if err != nil {
			return nil, err
		}
		t.Elem = et
	case abi.DataArray:
		t.Kind = KindArray
		ei, ok := byGuid[info.ArrayElem]
		if !ok {
			return nil, fmt.Errorf("types: array %q references unresolved element type %s", info.Name, info.ArrayElem)
		}
		et, err := r.internLocked(byGuid, ei, inProgress)
		if err != nil {
			return nil, err
		}
		t.Elem = et
	default:
		return nil, fmt.Errorf("types: %q has unknown data tag %d", info.Name, info.Tag)
	}

	delete(inProgress, info.Guid)

	r.mu.Lock()
	if existing, ok := r.byID[info.Guid]; ok {
		// Lost a race with another Intern call between our check and
		// now (can't happen under our single reentrant mutex today,
		// but keep the check cheap and correct if that ever changes).
		r.mu.Unlock()
		existing.refs++
		return existing, nil
	}
	t.refs = 1
	r.byID[info.Guid] = t
	r.mu.Unlock()
	return t, nil
}

// checkStructuralMatch enforces spec 4.1: structural equality of two
// non-primitive types requires equal Guid (already true, we found it
// by Guid) and identical field list.
func checkStructuralMatch(existing *Type, info abi.TypeInfo) error {
	if existing.Size != int64(info.SizeBytes) {
		return fmt.Errorf("types: %q redeclared with size %d, previously %d", info.Name, info.SizeBytes, existing.Size)
	}
	if info.Tag != abi.DataStruct {
		return nil
	}
	if len(existing.Fields) != len(info.Struct.Fields) {
		return fmt.Errorf("types: %q redeclared with %d fields, previously %d", info.Name, len(info.Struct.Fields), len(existing.Fields))
	}
	for i, f := range info.Struct.Fields {
		if existing.Fields[i].Name != f.Name || existing.Fields[i].Offset != int64(f.OffsetBytes) {
			return fmt.Errorf("types: %q field %d mismatch on reload (%q@%d vs %q@%d)",
				info.Name, i, existing.Fields[i].Name, existing.Fields[i].Offset, f.Name, f.OffsetBytes)
		}
	}
	return nil
}

// decodeFields resolves and validates one struct's field list, shared
// by internLocked (strict interning) and decodeForReload (reload
// decoding): offsets monotonic, alignment respected, fields don't
// overflow the declared struct size.
func decodeFields(info abi.TypeInfo, byGuid map[abi.Guid]abi.TypeInfo, resolve func(abi.TypeInfo) (*Type, error)) ([]Field, error) {
	fields := make([]Field, len(info.Struct.Fields))
	var lastOff int64 = -1
	var sizeSum int64
	for i, f := range info.Struct.Fields {
		off := int64(f.OffsetBytes)
		if off < lastOff {
			return nil, fmt.Errorf("types: struct %q field %q offset %d is not monotonic", info.Name, f.Name, off)
		}
		lastOff = off
		fi, ok := byGuid[f.TypeGuid]
		if !ok {
			return nil, fmt.Errorf("types: struct %q field %q references unresolved type %s", info.Name, f.Name, f.TypeGuid)
		}
		ft, err := resolve(fi)
		if err != nil {
			return nil, err
		}
		fields[i] = Field{Name: f.Name, Offset: off, Type: ft}
		if off+ft.Size > sizeSum {
			sizeSum = off + ft.Size
		}
		if ft.Align > 0 && off%ft.Align != 0 {
			return nil, fmt.Errorf("types: struct %q field %q at offset %d violates alignment %d", info.Name, f.Name, off, ft.Align)
		}
	}
	if sizeSum > int64(info.SizeBytes) {
		return nil, fmt.Errorf("types: struct %q fields overflow declared size %d (need %d)", info.Name, info.SizeBytes, sizeSum)
	}
	return fields, nil
}

// InternReload decodes infos the same way InternAll does, reusing the
// existing canonical pointer for any type whose shape is unchanged,
// but — unlike InternAll — never rejects a structural mismatch
// against an existing canonical entry. That mismatch is exactly what a
// reload's type edit looks like: the returned node is a fresh,
// uncommitted descriptor distinct from the current canonical one, for
// the diff engine to compare against it. Call Commit with the result
// once the migration engine has relocated every live cell of an edited
// type onto its new shape; until then the registry's existing entries
// are untouched, so the runtime can keep serving the old assembly if
// migration fails partway through.
func (r *Registry) InternReload(infos []abi.TypeInfo) ([]*Type, error) {
	token := r.newToken()
	r.mx.lock(token)
	defer r.mx.unlock(token)

	byGuid := make(map[abi.Guid]abi.TypeInfo, len(infos))
	for _, ti := range infos {
		byGuid[ti.Guid] = ti
	}
	built := map[abi.Guid]*Type{}
	out := make([]*Type, len(infos))
	for i, ti := range infos {
		t, err := r.decodeForReload(byGuid, ti, built)
		if err != nil {
			return nil, err
		}
		out[i] = t
	}
	return out, nil
}

func (r *Registry) decodeForReload(byGuid map[abi.Guid]abi.TypeInfo, info abi.TypeInfo, built map[abi.Guid]*Type) (*Type, error) {
	if t, ok := built[info.Guid]; ok {
		return t, nil
	}

	r.mu.Lock()
	existing, ok := r.byID[info.Guid]
	r.mu.Unlock()
	if ok && checkStructuralMatch(existing, info) == nil {
		built[info.Guid] = existing
		return existing, nil
	}

	t := &Type{ID: info.Guid, Name: info.Name, Size: int64(info.SizeBytes), Align: int64(info.AlignBytes)}
	built[info.Guid] = t // cycle guard, same rationale as internLocked's inProgress map

	switch info.Tag {
	case abi.DataPrimitive:
		t.Kind = KindPrimitive
	case abi.DataStruct:
		t.Kind = KindStruct
		t.MemoryKind = info.Struct.Kind
		fields, err := decodeFields(info, byGuid, func(fi abi.TypeInfo) (*Type, error) {
			return r.decodeForReload(byGuid, fi, built)
		})
		if err != nil {
			return nil, err
		}
		t.Fields = fields
	case abi.DataPointer:
		t.Kind = KindPointer
		t.Mut = info.PointerMut
		ei, ok := byGuid[info.PointerElem]
		if !ok {
			return nil, fmt.Errorf("types: pointer %q references unresolved element type %s", info.Name, info.PointerElem)
		}
		et, err := r.decodeForReload(byGuid, ei, built)
		if err != nil {
			return nil, err
		}
		t.Elem = et
	case abi.DataArray:
		t.Kind = KindArray
		ei, ok := byGuid[info.ArrayElem]
		if !ok {
			return nil, fmt.Errorf("types: array %q references unresolved element type %s", info.Name, info.ArrayElem)
		}
		et, err := r.decodeForReload(byGuid, ei, built)
		if err != nil {
			return nil, err
		}
		t.Elem = et
	default:
		return nil, fmt.Errorf("types: %q has unknown data tag %d", info.Name, info.Tag)
	}
	return t, nil
}

// Commit installs freshly decoded types (from InternReload) as the
// canonical registry entry for their Guid and counts the reloaded
// assembly as a fresh declarer of every one of them — the same
// occurrence-counted bump InternAll gives an independently loaded
// assembly — so that the old assembly's eventual Retire (which
// releases every type it declared, changed or not) can't zero out a
// type the new assembly still depends on. Called by the runtime only
// after the migration engine has successfully relocated every live
// cell of an edited type onto its new shape (spec section 4.6 step 5:
// "swap storage and type for every planned cell").
//
// A type whose shape changed gets a new *Type node sharing the old
// one's Guid; its refs carries the old node's count forward rather
// than resetting to 1, since the old assembly's declaration of that
// Guid is still outstanding until its own Retire releases it.
func (r *Registry) Commit(types []*Type) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range types {
		existing, ok := r.byID[t.ID]
		switch {
		case ok && existing == t:
			existing.refs++
		case ok:
			t.refs = existing.refs + 1
			r.byID[t.ID] = t
		default:
			t.refs = 1
			r.byID[t.ID] = t
		}
	}
}

// Lookup returns the interned type for id, or nil.
func (r *Registry) Lookup(id abi.Guid) *Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byID[id]
}

// Fields returns the ordered fields of a struct type.
func Fields(t *Type) []Field {
	if t.Kind != KindStruct {
		panic("types: Fields of non-struct")
	}
	return t.Fields
}

// Offsets returns the field offsets of a struct type, in declaration
// order.
func Offsets(t *Type) []int64 {
	fs := Fields(t)
	out := make([]int64, len(fs))
	for i, f := range fs {
		out[i] = f.Offset
	}
	return out
}

// IsGc reports whether a type is GC-managed.
func IsGc(t *Type) bool { return t.IsGc() }

// Release decrements the reference count for a type that an assembly
// is dropping (on unload); it does not free anything, it just marks
// the type orphaned if refs reaches zero. Space is reclaimed lazily by
// CollectUnreferencedTypeData.
func (r *Registry) Release(id abi.Guid) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.byID[id]
	if !ok {
		return
	}
	t.refs--
}

// CollectUnreferencedTypeData drops descriptors whose reference count
// has reached zero. It must only be called when no live GC handle
// still carries one of these types (the migration engine guarantees
// this by retiring types only after migrating every cell away from
// them).
func (r *Registry) CollectUnreferencedTypeData() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, t := range r.byID {
		if t.refs <= 0 {
			delete(r.byID, id)
			n++
		}
	}
	return n
}

// Len reports how many types are currently interned (for tests and
// diagnostics).
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID)
}
