// Package gc implements the mark-and-sweep, handle-indirected GC heap
// described by allocation returns an opaque Handle
// that points to a stable IndirectionCell, which in turn points to
// relocatable ObjectStorage. Indirection is what lets the migration
// engine (internal/migrate) rewrite an object's storage in place
// without visiting every pointer-containing field in the mutator.
//
// Grounded on two things at once: the handle/cell split comes from
// mun_memory::gc (GcPtr/RawGcPtr in
// original_source/crates/mun_memory/src/gc/ptr.rs — "a GcPtr is a
// pointer to a piece of memory that points to the actual data"); the
// handle table is a plain map from Handle to cell, standing in for the
// teacher's core.Mapping page table (golang.org/x/debug/core/mapping.go)
// and its heapInfo/heapTable in internal/gocore/object.go, which solve
// the "find the descriptor for an arbitrary address" problem for a
// remote process's heap; no address-range lookup is done here.
package gc

import (
	"fmt"
	"sync"

	"github.com/mun-lang/munrt/internal/types"
)

// Handle is the user-visible identity of a GC object: a synthetic ID,
// assigned from a counter starting at 1 and never reused, that keys its
// IndirectionCell in the heap's cell map; it is not a memory address.
// It is stable across collection and migration even though the cell's
// ObjectStorage is not.
type Handle uintptr

// ArrayHeader is an array cell's {length, capacity} header. It is kept
// in the cell beside the storage, not inside it: the storage holds only
// capacity*elemSize bytes of element data.
type ArrayHeader struct {
	Length int64
	Capacity int64
}

// cell is an IndirectionCell: { object_ptr, type_id, array_header? }.
// The Go representation keeps object storage as a []byte owned by the
// cell rather than a raw pointer, since the Go GC already tracks the
// backing array's lifetime for us; "object_ptr reassignment" in the
// spec corresponds to swapping which []byte this field points at.
type cell struct {
	handle Handle
	typ *types.Type
	array *ArrayHeader // non-nil iff this cell holds an array
	storage []byte
	roots int // root multiset count for this handle
}

// Heap is a single runtime's GC heap: per-runtime, non-shared, owns
// its own allocator and root set ("no cross-runtime
// handle sharing").
type Heap struct {
	mu sync.Mutex
	cells map[Handle]*cell
	nextID uintptr
	limit int64 // 0 means unlimited
	used int64
}

// NewHeap constructs an empty heap. limit, if non-zero, is the total
// number of object-storage bytes the heap may hold before Alloc
// starts failing with ErrOutOfMemory.
func NewHeap(limit int64) *Heap {
	return &Heap{cells: make(map[Handle]*cell), nextID: 1, limit: limit}
}

// ErrOutOfMemory is returned by Alloc/AllocArray when the heap's
// configured limit would be exceeded.
var ErrOutOfMemory = fmt.Errorf("gc: out of memory")

// Alloc allocates zero-initialized storage sized by t.Size and
// returns a new Handle. Zero-sized structs still occupy 1 byte so
// that distinct handles never collide in address space (spec section
// 4.2 edge cases).
func (h *Heap) Alloc(t *types.Type) (Handle, error) {
	size := t.Size
	if size <= 0 {
		size = 1
	}
	return h.alloc(t, make([]byte, size), nil)
}

// AllocArray allocates an array of length elements of type elem, with
// capacity chosen by a doubling policy , and records
// its {length, capacity} header in the cell. Arrays of length 0 still
// allocate a valid header.
func (h *Heap) AllocArray(elem *types.Type, length int64) (Handle, error) {
	if length < 0 {
		return 0, fmt.Errorf("gc: negative array length %d", length)
	}
	cap := nextArrayCapacity(length)
	storage := make([]byte, cap*elem.Size)
	return h.alloc(elem, storage, &ArrayHeader{Length: length, Capacity: cap})
}

// nextArrayCapacity doubles from 1 until it reaches length (or 1 if
// length is 0), matching common growth policies used for Mun's
// array/Vec-like containers.
func nextArrayCapacity(length int64) int64 {
	cap := int64(1)
	for cap < length {
		cap *= 2
	}
	return cap
}

func (h *Heap) alloc(t *types.Type, storage []byte, hdr *ArrayHeader) (Handle, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.limit > 0 && h.used+int64(len(storage)) > h.limit {
		return 0, ErrOutOfMemory
	}

	id := Handle(h.nextID)
	h.nextID++
	h.cells[id] = &cell{handle: id, typ: t, storage: storage, array: hdr}
	h.used += int64(len(storage))
	return id, nil
}

// Root pins handle against collection. Rooting the same handle twice
// requires two Unroot calls before it becomes collectible again (spec
// section 3.2: RootSet is a multiset).
func (h *Heap) Root(handle Handle) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.cells[handle]
	if !ok {
		// Per spec 4.2: "No-ops on unknown handles cause a debug
		// assertion." Unlike the original Rust, there is no release
		// mode that disables it: debugAssertf panics in every build.
		debugAssertf(false, "gc: Root called on unknown handle %d", handle)
		return
	}
	c.roots++
}

// Unroot decrements handle's root count. Reaching zero unroots it;
// it does not free anything by itself — that happens at the next
// Collect.
func (h *Heap) Unroot(handle Handle) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.cells[handle]
	if !ok {
		debugAssertf(false, "gc: Unroot called on unknown handle %d", handle)
		return
	}
	if c.roots > 0 {
		c.roots--
	}
}

// Valid reports whether handle currently belongs to this heap (used
// by the runtime façade to validate gc-typed call arguments, spec
// section 4.7 step 3).
func (h *Heap) Valid(handle Handle) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.cells[handle]
	return ok
}

// TypeOf returns the type of the object at handle.
func (h *Heap) TypeOf(handle Handle) *types.Type {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.cells[handle]
	if !ok {
		return nil
	}
	return c.typ
}

// ArrayHeaderOf returns the array header of handle, or nil if handle
// does not hold an array.
func (h *Heap) ArrayHeaderOf(handle Handle) *ArrayHeader {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.cells[handle]
	if !ok {
		return nil
	}
	return c.array
}

// Deref returns the raw storage bytes backing handle. Callers must
// only use the returned slice while the mutator holds the quiescence
// guarantee : no Collect or Update may run
// concurrently with its use.
func (h *Heap) Deref(handle Handle) ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.cells[handle]
	if !ok {
		return nil, fmt.Errorf("gc: deref of unknown handle %d", handle)
	}
	return c.storage, nil
}

// debugAssertf panics when cond is false; no build setting turns it
// off. It is a var so tests can intercept it.
var debugAssertf = func(cond bool, format string, args ...any) {
	if !cond {
		panic(fmt.Sprintf(format, args...))
	}
}
