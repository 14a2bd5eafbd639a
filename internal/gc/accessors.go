package gc

import "fmt"

// GetField reads size bytes at byte offset off from the object at
// handle, implementing the Handle field accessor named "get" in spec
// section 6.3.
func (h *Heap) GetField(handle Handle, off, size int64) ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.cells[handle]
	if !ok {
		return nil, errUnknownHandle(handle)
	}
	if off < 0 || off+size > int64(len(c.storage)) {
		return nil, fmt.Errorf("gc: field read [%d,%d) out of bounds for handle %d (size %d)", off, off+size, handle, len(c.storage))
	}
	out := make([]byte, size)
	copy(out, c.storage[off:off+size])
	return out, nil
}

// SetField writes data at byte offset off into the object at handle,
// implementing the "set" accessor of .
func (h *Heap) SetField(handle Handle, off int64, data []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.cells[handle]
	if !ok {
		return errUnknownHandle(handle)
	}
	if off < 0 || off+int64(len(data)) > int64(len(c.storage)) {
		return fmt.Errorf("gc: field write [%d,%d) out of bounds for handle %d (size %d)", off, off+int64(len(data)), handle, len(c.storage))
	}
	copy(c.storage[off:off+int64(len(data))], data)
	return nil
}

// Replace overwrites the entire object at handle with data,
// implementing the "replace" accessor of . Unlike
// SetField, the write must cover the object exactly (for an array, its
// whole element storage).
func (h *Heap) Replace(handle Handle, data []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.cells[handle]
	if !ok {
		return errUnknownHandle(handle)
	}
	if int64(len(data)) != int64(len(c.storage)) {
		return fmt.Errorf("gc: replace data length %d does not match object size %d for handle %d", len(data), len(c.storage), handle)
	}
	copy(c.storage, data)
	return nil
}

// ArrayLength returns the live element count of the array at handle.
func (h *Heap) ArrayLength(handle Handle) (int64, error) {
	hdr, err := h.arrayHeader(handle)
	if err != nil {
		return 0, err
	}
	return hdr.Length, nil
}

// ArrayCapacity returns the allocated element capacity of the array
// at handle.
func (h *Heap) ArrayCapacity(handle Handle) (int64, error) {
	hdr, err := h.arrayHeader(handle)
	if err != nil {
		return 0, err
	}
	return hdr.Capacity, nil
}

func (h *Heap) arrayHeader(handle Handle) (*ArrayHeader, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.cells[handle]
	if !ok {
		return nil, errUnknownHandle(handle)
	}
	if c.array == nil {
		return nil, fmt.Errorf("gc: handle %d is not an array", handle)
	}
	return c.array, nil
}

// ArrayElem reads the elemSize bytes of element index from the array
// at handle.
func (h *Heap) ArrayElem(handle Handle, index, elemSize int64) ([]byte, error) {
	h.mu.Lock()
	c, ok := h.cells[handle]
	if !ok {
		h.mu.Unlock()
		return nil, errUnknownHandle(handle)
	}
	if c.array == nil {
		h.mu.Unlock()
		return nil, fmt.Errorf("gc: handle %d is not an array", handle)
	}
	if index < 0 || index >= c.array.Length {
		h.mu.Unlock()
		return nil, fmt.Errorf("gc: array index %d out of range [0,%d)", index, c.array.Length)
	}
	off := index * elemSize
	out := make([]byte, elemSize)
	copy(out, c.storage[off:off+elemSize])
	h.mu.Unlock()
	return out, nil
}

// SetArrayElem writes data as element index of the array at handle.
func (h *Heap) SetArrayElem(handle Handle, index int64, data []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.cells[handle]
	if !ok {
		return errUnknownHandle(handle)
	}
	if c.array == nil {
		return fmt.Errorf("gc: handle %d is not an array", handle)
	}
	if index < 0 || index >= c.array.Length {
		return fmt.Errorf("gc: array index %d out of range [0,%d)", index, c.array.Length)
	}
	off := index * int64(len(data))
	copy(c.storage[off:off+int64(len(data))], data)
	return nil
}
