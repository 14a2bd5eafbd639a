package migrate

import (
	"fmt"

	"github.com/mun-lang/munrt/internal/abi"
	"github.com/mun-lang/munrt/internal/diff"
	"github.com/mun-lang/munrt/internal/gc"
	"github.com/mun-lang/munrt/internal/types"
)

// Stats summarizes one completed migration.
type Stats struct {
	TypesEdited int
	CellsMigrated int
	TypesRetired int
}

// plannedCell is one live cell slated for reallocation: its current
// handle, the StructMapping driving the rewrite, and (filled in
// during Allocate) its freshly allocated replacement storage.
type plannedCell struct {
	handle gc.Handle
	mapping *StructMapping
	newBuf []byte
	newArr *gc.ArrayHeader
}

// Run executes the full migration pipeline of against
// a diffed edit script: Plan, Allocate, Rewrite, Commit, Retire. The
// caller (the runtime façade) is responsible for step 1's quiescence —
// Run assumes no concurrent mutator or collector access to heap for
// its duration, matching the "safepoints only" concurrency model
// .
//
// On any failure the heap is left untouched (new storage is discarded
// before Commit ever runs) and the error is a *MigrationFailedError,
// so the caller can surface update as failed while continuing to
// run the old assembly.
func Run(heap *gc.Heap, registry *types.Registry, edits []diff.Edit, policy diff.Policy) (Stats, error) {
	var stats Stats

	mappings := make(map[abi.Guid]*StructMapping) // keyed by old type's Guid
	for _, e := range edits {
		if e.Op != diff.OpEdit {
			continue
		}
		m, err := BuildStructMapping(e.OldType, e.NewType, e.FieldEdits, policy)
		if err != nil {
			return stats, asMigrationFailed(e.NewType, err)
		}
		mappings[e.OldType.ID] = m
		stats.TypesEdited++
	}

	if len(mappings) == 0 {
		return stats, retire(registry, edits, &stats)
	}

	// Allocate: build replacement storage for every live cell whose
	// type is under edit, without touching the heap yet (spec section
	// 4.6 step 3).
	var planned []*plannedCell
	for oldID, mapping := range mappings {
		oldType := registry.Lookup(oldID)
		if oldType == nil {
			continue
		}
		var planErr error
		heap.ForEachOfType(oldType, func(h gc.Handle) {
			if planErr != nil {
				return
			}
			pc, err := allocateReplacement(heap, h, mapping)
			if err != nil {
				planErr = err
				return
			}
			planned = append(planned, pc)
		})
		if planErr != nil {
			return stats, asMigrationFailed(mapping.New, planErr)
		}
	}

	// Rewrite already happened as part of allocateReplacement above:
	// each pc.newBuf is a fully reconstructed object per its mapping
	// . Nested gc-struct fields are copied as
	// handles verbatim — handle identity is untouched by migration,
	// only the storage a handle's cell points at changes, so no
	// separate "translate through a handle map" pass is needed (see
	// ActionTranslateHandle).

	// Commit: atomically (from the mutator's point of view, since
	// nothing else runs between safepoints) swap storage and type for
	// every planned cell .
	for _, pc := range planned {
		if err := heap.Relocate(pc.handle, pc.mapping.New, pc.newBuf, pc.newArr); err != nil {
			return stats, asMigrationFailed(pc.mapping.New, err)
		}
		stats.CellsMigrated++
	}

	// The old assembly's declaration of every edited Guid is released
	// later, when its own Retire runs — not here. Commit already
	// carried the new assembly's declaration forward onto the shared
	// Guid, so releasing it now would double-count the old assembly's
	// single outstanding declaration and could drop a still-live type.
	if err := retire(registry, edits, &stats); err != nil {
		return stats, err
	}
	return stats, nil
}

// allocateReplacement builds pc.newBuf/newArr for one live cell
// without mutating the heap.
func allocateReplacement(heap *gc.Heap, handle gc.Handle, mapping *StructMapping) (*plannedCell, error) {
	hdr := heap.ArrayHeaderOf(handle)
	if hdr == nil {
		buf, err := buildStruct(heap, handle, mapping)
		if err != nil {
			return nil, err
		}
		return &plannedCell{handle: handle, mapping: mapping, newBuf: buf}, nil
	}

	// Array of the edited struct type: migrate every element using
	// the same mapping (Open Question (a): array
	// element-type edits use per-element FieldConvert with the same
	// rollback rules as struct field edits).
	newElemSize := mapping.New.Size
	buf := make([]byte, hdr.Capacity*newElemSize)
	old, err := heap.StorageOf(handle)
	if err != nil {
		return nil, err
	}
	oldElemSize := mapping.Old.Size
	for i := int64(0); i < hdr.Length; i++ {
		src := old[i*oldElemSize : i*oldElemSize+oldElemSize]
		dst, err := rewriteBytes(mapping, src, nil)
		if err != nil {
			return nil, err
		}
		copy(buf[i*newElemSize:i*newElemSize+newElemSize], dst)
	}
	return &plannedCell{
		handle: handle, mapping: mapping, newBuf: buf,
		newArr: &gc.ArrayHeader{Length: hdr.Length, Capacity: hdr.Capacity},
	}, nil
}

func buildStruct(heap *gc.Heap, handle gc.Handle, mapping *StructMapping) ([]byte, error) {
	old, err := heap.StorageOf(handle)
	if err != nil {
		return nil, err
	}
	size := mapping.New.Size
	if size <= 0 {
		size = 1
	}
	return rewriteBytes(mapping, old, make([]byte, size))
}

// rewriteBytes applies mapping to one struct value's bytes, writing
// into dst (or a freshly sized buffer if dst is nil).
func rewriteBytes(mapping *StructMapping, src []byte, dst []byte) ([]byte, error) {
	if dst == nil {
		size := mapping.New.Size
		if size <= 0 {
			size = 1
		}
		dst = make([]byte, size)
	}
	for _, fm := range mapping.Fields {
		switch fm.Action {
		case ActionZero:
			// dst is already zero-initialized.
		case ActionCopy, ActionTranslateHandle:
			if fm.SrcOffset+fm.Size > int64(len(src)) {
				return nil, fmt.Errorf("migrate: source field at offset %d size %d out of bounds (src len %d)", fm.SrcOffset, fm.Size, len(src))
			}
			copy(dst[fm.DstOffset:fm.DstOffset+fm.Size], src[fm.SrcOffset:fm.SrcOffset+fm.Size])
		case ActionConvert:
			if fm.SrcOffset+fm.SrcSize > int64(len(src)) {
				return nil, fmt.Errorf("migrate: source field at offset %d size %d out of bounds (src len %d)", fm.SrcOffset, fm.SrcSize, len(src))
			}
			converted, err := fm.Convert(src[fm.SrcOffset : fm.SrcOffset+fm.SrcSize])
			if err != nil {
				return nil, err
			}
			if int64(len(converted)) != fm.Size {
				return nil, fmt.Errorf("migrate: conversion produced %d bytes, want %d", len(converted), fm.Size)
			}
			copy(dst[fm.DstOffset:fm.DstOffset+fm.Size], converted)
		}
	}
	return dst, nil
}

// retire drops registry entries for types present only in the old
// list once Release has brought their refcount to zero (spec section
// 4.6 step 6), and counts deletions and plain moves/inserts against
// the type list too (a Delete with no corresponding live cells still
// needs its type definition retired).
func retire(registry *types.Registry, edits []diff.Edit, stats *Stats) error {
	for _, e := range edits {
		if e.Op == diff.OpDelete {
			registry.Release(e.OldType.ID)
		}
	}
	stats.TypesRetired = registry.CollectUnreferencedTypeData()
	return nil
}

func asMigrationFailed(t *types.Type, err error) error {
	if mfe, ok := err.(*MigrationFailedError); ok {
		return mfe
	}
	name := "?"
	if t != nil {
		name = t.Name
	}
	return &MigrationFailedError{Type: name, Reason: err.Error()}
}
