package gc

import (
	"encoding/binary"

	"github.com/mun-lang/munrt/internal/types"
)

// CallRoots supplies the collector's transient roots: handles held by
// in-flight invocation stack slots, in addition to the handles the host
// has pinned. collect traces from "the union
// of (a) the root multiset and (b) all handles referenced by stack
// slots of any in-flight invocation registered via the runtime
// façade". CallRoots lets the façade register such transient roots
// for the duration of a call.
type CallRoots interface {
	// ForEachCallRoot calls fn for every handle currently live on an
	// in-flight invocation's argument/return stack.
	ForEachCallRoot(fn func(Handle))
}

// Stats summarizes the outcome of a Collect call.
type Stats struct {
	Live int
	Swept int
	LiveBytes int64
}

// Collect performs one mark-and-sweep pass: it traces from the
// rooted handle multiset plus any handles callRoots reports, frees
// every unreached cell, and returns a summary. Per ,
// this must only be called at a safepoint — the mutator must be
// quiescent for the duration of this call.
func (h *Heap) Collect(callRoots CallRoots) Stats {
	h.mu.Lock()
	defer h.mu.Unlock()

	marked := make(map[Handle]bool, len(h.cells))
	var queue []Handle

	mark := func(handle Handle) {
		if handle == 0 || marked[handle] {
			return
		}
		if _, ok := h.cells[handle]; !ok {
			return
		}
		marked[handle] = true
		queue = append(queue, handle)
	}

	for handle, c := range h.cells {
		if c.roots > 0 {
			mark(handle)
		}
	}
	if callRoots != nil {
		callRoots.ForEachCallRoot(mark)
	}

	for len(queue) > 0 {
		handle := queue[len(queue)-1]
		queue = queue[:len(queue)-1]
		c := h.cells[handle]
		forEachPointerIn(c, mark)
	}

	var stats Stats
	for handle, c := range h.cells {
		if marked[handle] {
			stats.Live++
			stats.LiveBytes += int64(len(c.storage))
			continue
		}
		delete(h.cells, handle)
		h.used -= int64(len(c.storage))
		stats.Swept++
	}
	return stats
}

// forEachPointerIn scans c's storage (honoring its array header, if
// any) for gc-struct/handle-typed fields and reports each one found
// to mark. Pointer fields store a little-endian Handle, matching how
// the loader/migration code writes them (see internal/migrate).
func forEachPointerIn(c *cell, mark func(Handle)) {
	t := c.typ
	if c.array != nil {
		n := c.array.Length
		for i := int64(0); i < n; i++ {
			off := i * t.Size
			scanValue(c.storage, off, t, mark)
		}
		return
	}
	scanValue(c.storage, 0, t, mark)
}

// scanValue walks a value of type t living at byte offset base within
// storage, invoking mark on every GC handle it contains.
func scanValue(storage []byte, base int64, t *types.Type, mark func(Handle)) {
	switch t.Kind {
	case types.KindPrimitive:
		// no pointers
	case types.KindPointer:
		if t.Elem != nil && t.Elem.IsGc() {
			mark(readHandle(storage, base))
		}
	case types.KindArray:
		// Arrays of gc-managed elements are themselves stored as a
		// separate handle-bearing cell (see Heap.AllocArray); a
		// struct field of array type holds a handle to that cell.
		if t.Elem.IsGc() {
			mark(readHandle(storage, base))
		}
	case types.KindStruct:
		if t.IsGc() {
			// A struct(gc) field embedded by value inside another
			// gc-managed object never happens in Mun (gc structs are
			// always referenced through a handle); defensively treat
			// the field itself as a handle.
			mark(readHandle(storage, base))
			return
		}
		for _, f := range t.Fields {
			scanValue(storage, base+f.Offset, f.Type, mark)
		}
	}
}

func readHandle(storage []byte, off int64) Handle {
	if off < 0 || off+8 > int64(len(storage)) {
		return 0
	}
	return Handle(binary.LittleEndian.Uint64(storage[off : off+8]))
}

func writeHandle(storage []byte, off int64, handle Handle) {
	if off < 0 || off+8 > int64(len(storage)) {
		return
	}
	binary.LittleEndian.PutUint64(storage[off:off+8], uint64(handle))
}

// WriteHandleField writes a handle value into a gc-typed struct field
// of the object at dst, at byte offset off. Used by field accessors
// (set) and by the migration engine when copying gc-struct fields
// across a schema change.
func (h *Heap) WriteHandleField(dst Handle, off int64, value Handle) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.cells[dst]
	if !ok {
		return errUnknownHandle(dst)
	}
	writeHandle(c.storage, off, value)
	return nil
}

// ReadHandleField reads a handle value out of a gc-typed struct field.
func (h *Heap) ReadHandleField(src Handle, off int64) (Handle, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.cells[src]
	if !ok {
		return 0, errUnknownHandle(src)
	}
	return readHandle(c.storage, off), nil
}
