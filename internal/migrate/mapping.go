// Package migrate implements the migration engine of spec section
// 4.6: given a diff.Edit script and a live gc.Heap, it rewrites every
// affected object's storage in place — copying fields that survive,
// zero-filling insertions, converting fields whose type changed, and
// dropping deletions — then atomically swaps each cell's storage and
// type and retires any type left with no referents.
//
// Grounded on mun_memory::mapping's StructMapping/FieldMapping/Action
// vocabulary (referenced, though not retrieved in full, by
// original_source/crates/mun_memory/src/lib.rs: "pub use
// crate::mapping::{Action, FieldMapping}"); the copy-plan-then-apply
// shape mirrors the teacher's own separation of planning (type.go's
// typeObject pointer scan) from action (object.go's markObjects pass)
// in golang.org/x/debug/internal/gocore.
package migrate

import (
	"fmt"

	"github.com/mun-lang/munrt/internal/diff"
	"github.com/mun-lang/munrt/internal/types"
)

// Action identifies what a single destination field's FieldMapping
// does to produce its bytes.
type Action int

const (
	// ActionCopy copies SrcOffset..+Size bytes verbatim.
	ActionCopy Action = iota
	// ActionZero zero-fills Size bytes (a FieldInsert with no
	// explicit default, ).
	ActionZero
	// ActionConvert invokes a numeric conversion thunk on the source
	// bytes before writing the (possibly differently sized) result.
	ActionConvert
	// ActionTranslateHandle copies a gc-typed field's handle, for
	// nested struct(gc) references . Handles keep their
	// identity across migration, so the handle bytes are copied
	// verbatim, exactly as ActionCopy does.
	ActionTranslateHandle
)

// FieldMapping is one destination field's reconstruction rule.
type FieldMapping struct {
	Action Action

	DstOffset int64
	Size int64 // destination size in bytes

	SrcOffset int64 // valid for ActionCopy, ActionConvert, ActionTranslateHandle
	SrcSize int64 // valid for ActionConvert (source size, may differ from Size)

	Convert func(src []byte) ([]byte, error) // valid for ActionConvert
}

// StructMapping is the full reconstruction plan for one struct type
// edit: every field of the new shape paired with the rule that
// produces its bytes.
type StructMapping struct {
	Old, New *types.Type
	Fields []FieldMapping
}

// BuildStructMapping turns one diff.Edit (Op == OpEdit, or an
// OpMove/OpEdit pair) into a StructMapping, step
// 2. fieldEdits describes the deltas against old's field list; fields
// of new absent from fieldEdits are unchanged and copy by name.
func BuildStructMapping(old, new *types.Type, fieldEdits []diff.FieldEdit, policy diff.Policy) (*StructMapping, error) {
	if old.Kind != types.KindStruct || new.Kind != types.KindStruct {
		return nil, fmt.Errorf("migrate: BuildStructMapping on non-struct types %q/%q", old.Name, new.Name)
	}

	byNewIndex := make(map[int]diff.FieldEdit, len(fieldEdits))
	byMoveTo := make(map[int]diff.FieldEdit)
	for _, fe := range fieldEdits {
		switch fe.Kind {
		case diff.FieldInsert, diff.FieldConvert:
			byNewIndex[fe.Index] = fe
		case diff.FieldMove:
			byMoveTo[fe.To] = fe
		}
	}

	m := &StructMapping{Old: old, New: new}
	for i := range new.Fields {
		nf := &new.Fields[i]

		if fe, ok := byNewIndex[i]; ok {
			switch fe.Kind {
			case diff.FieldInsert:
				m.Fields = append(m.Fields, FieldMapping{Action: ActionZero, DstOffset: nf.Offset, Size: nf.Type.Size})
				continue
			case diff.FieldConvert:
				of := findFieldByName(old, nf.Name)
				if of == nil {
					return nil, fmt.Errorf("migrate: FieldConvert for %q.%q has no source field", new.Name, nf.Name)
				}
				fm, err := buildFieldMapping(old, new, of, nf, policy)
				if err != nil {
					return nil, err
				}
				m.Fields = append(m.Fields, fm)
				continue
			}
		}

		if fe, ok := byMoveTo[i]; ok {
			of := &old.Fields[fe.From]
			if of.Type.ID == nf.Type.ID {
				m.Fields = append(m.Fields, copyMapping(of, nf))
			} else {
				fm, err := buildFieldMapping(old, new, of, nf, policy)
				if err != nil {
					return nil, err
				}
				m.Fields = append(m.Fields, fm)
			}
			continue
		}

		// Unmentioned field: same name, same position (or at least
		// not flagged as moved/inserted/converted), so it survived
		// identically.
		of := findFieldByName(old, nf.Name)
		if of == nil {
			return nil, fmt.Errorf("migrate: new field %q.%q has no mapping rule and no same-named source field", new.Name, nf.Name)
		}
		m.Fields = append(m.Fields, copyMapping(of, nf))
	}
	return m, nil
}

func findFieldByName(t *types.Type, name string) *types.Field {
	for i := range t.Fields {
		if t.Fields[i].Name == name {
			return &t.Fields[i]
		}
	}
	return nil
}

func copyMapping(of, nf *types.Field) FieldMapping {
	if isHandleField(nf.Type) {
		return FieldMapping{Action: ActionTranslateHandle, DstOffset: nf.Offset, Size: nf.Type.Size, SrcOffset: of.Offset}
	}
	return FieldMapping{Action: ActionCopy, DstOffset: nf.Offset, Size: nf.Type.Size, SrcOffset: of.Offset}
}

// isHandleField reports whether a field's bytes are a gc.Handle
// rather than inline value data: either the field's own type is
// struct(gc) (referenced only ever through a handle, per gc.scanValue),
// or it's a pointer/array whose element type is struct(gc).
func isHandleField(t *types.Type) bool {
	if t.IsGc() {
		return true
	}
	if (t.Kind == types.KindPointer || t.Kind == types.KindArray) && t.Elem != nil && t.Elem.IsGc() {
		return true
	}
	return false
}

// buildFieldMapping constructs the conversion rule for a field whose
// TypeId changed between old and new, tie-break
// rules (identity cast with overflow trapped; narrowing saturates
// only when policy allows it).
func buildFieldMapping(oldType, newType *types.Type, of, nf *types.Field, policy diff.Policy) (FieldMapping, error) {
	conv, err := buildConverter(of.Type, nf.Type, policy)
	if err != nil {
		return FieldMapping{}, &MigrationFailedError{
			Type: newType.Name, Field: nf.Name, Reason: err.Error(),
		}
	}
	return FieldMapping{
		Action: ActionConvert, DstOffset: nf.Offset, Size: nf.Type.Size,
		SrcOffset: of.Offset, SrcSize: of.Type.Size, Convert: conv,
	}, nil
}

// MigrationFailedError reports a migration step that could not be
// completed; rollback path surfaces this as
// MigrationFailed{reason} while leaving the runtime on the old
// assembly.
type MigrationFailedError struct {
	Type, Field string
	Reason string
}

func (e *MigrationFailedError) Error() string {
	return fmt.Sprintf("migrate: migration failed for %s.%s: %s", e.Type, e.Field, e.Reason)
}
