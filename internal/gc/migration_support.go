package gc

import "github.com/mun-lang/munrt/internal/types"

// ForEachOfType calls fn for every live handle whose current type is
// exactly t, for use by the migration engine's Allocate step (spec
// section 4.6 step 3: "Allocate new storage for every live cell whose
// type_id is under edit").
func (h *Heap) ForEachOfType(t *types.Type, fn func(Handle)) {
	h.mu.Lock()
	var matches []Handle
	for handle, c := range h.cells {
		if c.typ == t {
			matches = append(matches, handle)
		}
	}
	h.mu.Unlock()
	for _, handle := range matches {
		fn(handle)
	}
}

// Relocate atomically swaps the storage and type of the cell at
// handle, ("Commit: atomically swap each
// cell's object_ptr to the new storage and update its type_id"). The
// handle's identity (and hence every other object's references to it)
// is unaffected.
func (h *Heap) Relocate(handle Handle, newType *types.Type, newStorage []byte, newArray *ArrayHeader) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.cells[handle]
	if !ok {
		return errUnknownHandle(handle)
	}
	h.used += int64(len(newStorage)) - int64(len(c.storage))
	c.storage = newStorage
	c.typ = newType
	c.array = newArray
	return nil
}

// StorageOf returns a copy-on-read snapshot of the raw bytes backing
// handle, for use by the migration engine when planning field copies.
// Unlike Deref, this is safe to call without an external quiescence
// guarantee because it copies.
func (h *Heap) StorageOf(handle Handle) ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.cells[handle]
	if !ok {
		return nil, errUnknownHandle(handle)
	}
	out := make([]byte, len(c.storage))
	copy(out, c.storage)
	return out, nil
}

// AllHandles returns a snapshot of every live handle, for tests and
// diagnostics.
func (h *Heap) AllHandles() []Handle {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Handle, 0, len(h.cells))
	for handle := range h.cells {
		out = append(out, handle)
	}
	return out
}

// Len reports the number of live cells.
func (h *Heap) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.cells)
}
