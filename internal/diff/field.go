package diff

import "github.com/mun-lang/munrt/internal/types"

// Policy controls the tie-break decisions leaves to
// configuration. The default (zero value) rejects narrowing numeric
// conversions, per "shrinking integer conversions saturate when
// explicitly allowed by policy (default: reject)".
type Policy struct {
	AllowNarrowingSaturation bool
}

// Option configures a Diff call.
type Option func(*Policy)

// WithNarrowingSaturation opts into saturating (rather than
// rejecting) narrowing numeric field conversions during migration.
func WithNarrowingSaturation(allow bool) Option {
	return func(p *Policy) { p.AllowNarrowingSaturation = allow }
}

// diffFields computes the field-level edit script between two
// versions of the same type (same Guid, found on both sides of a
// top-level Diff), . Field identity is by name.
func diffFields(old, new *types.Type, policy Policy) ([]FieldEdit, error) {
	if old.Kind != types.KindStruct || new.Kind != types.KindStruct {
		// Non-struct types sharing a Guid mean the same primitive,
		// pointer, or array type on both sides; there is no field
		// list to diff.
		return nil, nil
	}

	equalByName := func(i, j int) bool { return old.Fields[i].Name == new.Fields[j].Name }
	ses := myersSES(len(old.Fields), len(new.Fields), equalByName)

	var deletes []int
	var inserts []int
	var edits []FieldEdit

	for _, op := range ses {
		switch op.kind {
		case sesDelete:
			deletes = append(deletes, op.oldIndex)
		case sesInsert:
			inserts = append(inserts, op.newIndex)
		case sesKeep:
			of := &old.Fields[op.oldIndex]
			nf := &new.Fields[op.newIndex]
			if of.Type.ID != nf.Type.ID {
				if err := checkConvertible(of.Type, nf.Type, policy); err != nil {
					return nil, &IncompatibleSchemaError{Type: new.Name, Field: nf.Name, Reason: err.Error()}
				}
				edits = append(edits, FieldEdit{
					Kind: FieldConvert, Index: op.newIndex, Field: nf,
					FromType: of.Type, ToType: nf.Type,
				})
			}
		}
	}

	usedInsert := make(map[int]bool, len(inserts))
	for _, di := range deletes {
		moved := false
		for _, ii := range inserts {
			if usedInsert[ii] {
				continue
			}
			if old.Fields[di].Name == new.Fields[ii].Name {
				edits = append(edits, FieldEdit{Kind: FieldMove, From: di, To: ii, Field: &new.Fields[ii]})
				if old.Fields[di].Type.ID != new.Fields[ii].Type.ID {
					if err := checkConvertible(old.Fields[di].Type, new.Fields[ii].Type, policy); err != nil {
						return nil, &IncompatibleSchemaError{Type: new.Name, Field: new.Fields[ii].Name, Reason: err.Error()}
					}
					edits = append(edits, FieldEdit{
						Kind: FieldConvert, Index: ii, Field: &new.Fields[ii],
						FromType: old.Fields[di].Type, ToType: new.Fields[ii].Type,
					})
				}
				usedInsert[ii] = true
				moved = true
				break
			}
		}
		if !moved {
			edits = append(edits, FieldEdit{Kind: FieldDelete, Index: di, Field: &old.Fields[di]})
		}
	}
	for _, ii := range inserts {
		if !usedInsert[ii] {
			edits = append(edits, FieldEdit{Kind: FieldInsert, Index: ii, Field: &new.Fields[ii]})
		}
	}

	return edits, nil
}

// checkConvertible applies tie-break rules:
// conversion is valid only between numeric primitives (an identity
// cast, with overflow trapped; narrowing saturates only if policy
// explicitly allows it, default reject) or between struct types with
// a recursively valid field mapping.
func checkConvertible(from, to *types.Type, policy Policy) error {
	if from.Kind == types.KindPrimitive && to.Kind == types.KindPrimitive {
		if !isNumeric(from) || !isNumeric(to) {
			return errNotConvertible(from, to)
		}
		if to.Size < from.Size && !policy.AllowNarrowingSaturation {
			return errNarrowingRejected(from, to)
		}
		return nil
	}
	if from.Kind == types.KindStruct && to.Kind == types.KindStruct {
		// Recursively require every field of the new shape to have a
		// same-named, convertible counterpart in the old shape, or be
		// a fresh insert (handled by the caller's recursive diff).
		_, err := diffFields(from, to, policy)
		return err
	}
	return errNotConvertible(from, to)
}

func isNumeric(t *types.Type) bool {
	switch t.Name {
	case "@core::int", "@core::float":
		return true
	}
	// Explicit-width integer/float primitives follow the i8/i16/...
	// /u8/u16/.../f32/f64 naming convention; only the first letter is
	// checked, so any primitive whose name starts with i, u or f counts
	// as numeric here.
	if len(t.Name) == 0 {
		return false
	}
	switch t.Name[0] {
	case 'i', 'u', 'f':
		return true
	}
	return false
}

func errNotConvertible(from, to *types.Type) error {
	return &conversionError{from: from.Name, to: to.Name}
}

func errNarrowingRejected(from, to *types.Type) error {
	return &conversionError{from: from.Name, to: to.Name, narrowing: true}
}

type conversionError struct {
	from, to string
	narrowing bool
}

func (e *conversionError) Error() string {
	if e.narrowing {
		return "narrowing conversion from " + e.from + " to " + e.to + " rejected by policy"
	}
	return "cannot convert " + e.from + " to " + e.to
}
