package diff

import (
	"fmt"

	"github.com/mun-lang/munrt/internal/types"
)

// Op identifies the kind of a top-level type edit.
type Op int

const (
	OpInsert Op = iota
	OpDelete
	OpMove
	OpEdit
)

func (o Op) String() string {
	return [...]string{"Insert", "Delete", "Move", "Edit"}[o]
}

// Edit is one entry of the type-list edit script described by spec
// section 4.5.
type Edit struct {
	Op Op

	// OldIndex is valid for Delete, Move, Edit.
	OldIndex int
	// NewIndex is valid for Insert, Move, Edit.
	NewIndex int

	// OldType/NewType are the types at OldIndex/NewIndex, for
	// convenience (callers otherwise have to re-index the original
	// slices).
	OldType *types.Type
	NewType *types.Type

	// FieldEdits is populated only for Op == OpEdit.
	FieldEdits []FieldEdit
}

// FieldEditKind identifies the kind of a single struct-field edit.
type FieldEditKind int

const (
	FieldInsert FieldEditKind = iota
	FieldDelete
	FieldMove
	FieldConvert
)

func (k FieldEditKind) String() string {
	return [...]string{"FieldInsert", "FieldDelete", "FieldMove", "FieldConvert"}[k]
}

// FieldEdit is one entry of a struct's field-level edit script.
type FieldEdit struct {
	Kind FieldEditKind

	// Index is the position in the new field list for Insert, the
	// position in the old field list for Delete, and the position in
	// the new field list for Convert.
	Index int
	// From/To are valid for Move (old index -> new index).
	From, To int

	// Field is the field descriptor relevant to this edit: the new
	// field for Insert/Convert, the old field for Delete.
	Field *types.Field
	// FromType/ToType are valid for Convert.
	FromType, ToType *types.Type
}

// IncompatibleSchemaError is returned by Diff when a field's name
// survives across a type edit but its type changed in a way that
// cannot be expressed as a value conversion ("...
// otherwise the migration is rejected as IncompatibleSchema").
type IncompatibleSchemaError struct {
	Type, Field string
	Reason string
}

func (e *IncompatibleSchemaError) Error() string {
	return fmt.Sprintf("diff: incompatible schema for %s.%s: %s", e.Type, e.Field, e.Reason)
}

// Diff computes the edit script that transforms old into new, per
// . Types are matched across the two lists by Guid
// identity; a matched pair with an identical field shape produces no
// edit at all (it is simply absent from the returned script), a
// matched pair with a changed position produces an OpMove, and a
// matched pair with a changed field shape produces an OpEdit.
//
// Diff(A, A) == nil, matching the testable property in .
func Diff(old, new []*types.Type, opts ...Option) ([]Edit, error) {
	var policy Policy
	for _, opt := range opts {
		opt(&policy)
	}

	equalByID := func(i, j int) bool { return old[i].ID == new[j].ID }
	ses := myersSES(len(old), len(new), equalByID)

	var deletes []int
	var inserts []int
	var edits []Edit

	for _, op := range ses {
		switch op.kind {
		case sesDelete:
			deletes = append(deletes, op.oldIndex)
		case sesInsert:
			inserts = append(inserts, op.newIndex)
		case sesKeep:
			ot, nt := old[op.oldIndex], new[op.newIndex]
			fieldEdits, err := diffFields(ot, nt, policy)
			if err != nil {
				return nil, err
			}
			if len(fieldEdits) > 0 {
				edits = append(edits, Edit{
					Op: OpEdit, OldIndex: op.oldIndex, NewIndex: op.newIndex,
					OldType: ot, NewType: nt, FieldEdits: fieldEdits,
				})
			}
		}
	}

	// Pair up deletes/inserts that share identity into Moves; what's
	// left becomes genuine inserts/deletes. Types only ever match by
	// Guid (see equalByID), so any delete/insert pair with the same
	// ID is definitionally the same type relocated.
	usedInsert := make(map[int]bool, len(inserts))
	for _, di := range deletes {
		moved := false
		for _, ii := range inserts {
			if usedInsert[ii] {
				continue
			}
			if old[di].ID == new[ii].ID {
				fieldEdits, err := diffFields(old[di], new[ii], policy)
				if err != nil {
					return nil, err
				}
				e := Edit{Op: OpMove, OldIndex: di, NewIndex: ii, OldType: old[di], NewType: new[ii]}
				if len(fieldEdits) > 0 {
					e.Op = OpEdit
					e.FieldEdits = fieldEdits
				}
				edits = append(edits, e)
				usedInsert[ii] = true
				moved = true
				break
			}
		}
		if !moved {
			edits = append(edits, Edit{Op: OpDelete, OldIndex: di, OldType: old[di]})
		}
	}
	for _, ii := range inserts {
		if !usedInsert[ii] {
			edits = append(edits, Edit{Op: OpInsert, NewIndex: ii, NewType: new[ii]})
		}
	}

	return edits, nil
}
