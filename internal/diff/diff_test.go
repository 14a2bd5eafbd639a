package diff

import (
	"testing"

	"github.com/mun-lang/munrt/internal/abi"
	"github.com/mun-lang/munrt/internal/types"
	"github.com/stretchr/testify/require"
)

func prim(name string) *types.Type {
	return &types.Type{ID: abi.GuidOf(name), Name: name, Kind: types.KindPrimitive, Size: 8}
}

// TestDiffIdentity mirrors the testable property in // diff(A, A) = [].
func TestDiffIdentity(t *testing.T) {
	a := []*types.Type{prim("Int"), prim("Struct1")}
	edits, err := Diff(a, a)
	require.NoError(t, err)
	require.Empty(t, edits)
}

// TestDiffInsert mirrors scenario S6:
// diff([Int, Struct1], [Int, Struct1, Float]) yields exactly [Insert(2)].
func TestDiffInsert(t *testing.T) {
	intT, struct1, float := prim("Int"), prim("Struct1"), prim("Float")
	old := []*types.Type{intT, struct1}
	new := []*types.Type{intT, struct1, float}

	edits, err := Diff(old, new)
	require.NoError(t, err)
	require.Len(t, edits, 1)
	require.Equal(t, OpInsert, edits[0].Op)
	require.Equal(t, 2, edits[0].NewIndex)
}

// TestDiffMove mirrors scenario S6:
// diff([Int, Float], [Float, Int]) yields exactly [Move(0 -> 1)].
func TestDiffMove(t *testing.T) {
	intT, float := prim("Int"), prim("Float")
	old := []*types.Type{intT, float}
	new := []*types.Type{float, intT}

	edits, err := Diff(old, new)
	require.NoError(t, err)
	require.Len(t, edits, 1)
	require.Equal(t, OpMove, edits[0].Op)
	require.Equal(t, 0, edits[0].OldIndex)
	require.Equal(t, 1, edits[0].NewIndex)
}

// TestDiffMyers1 mirrors original_source/crates/mun_memory/tests/diff/myers.rs test1.
func TestDiffMyers1(t *testing.T) {
	a, b, g, d, e, f, hh := prim("a"), prim("b"), prim("g"), prim("d"), prim("e"), prim("f"), prim("h")
	old := []*types.Type{a, b, g, d, e, f}
	new := []*types.Type{g, hh}

	edits, err := Diff(old, new)
	require.NoError(t, err)

	applied := apply(old, edits, new)
	require.Equal(t, new, applied)
}

// apply reconstructs the new list from old plus an edit script, for
// property-style round-trip checks (property 4:
// apply(diff(A, B), A) = B).
func apply(old []*types.Type, edits []Edit, new []*types.Type) []*types.Type {
	out := make([]*types.Type, len(new))
	for _, e := range edits {
		switch e.Op {
		case OpInsert, OpMove:
			out[e.NewIndex] = e.NewType
		}
	}
	// Fill in positions that were kept (absent from the edit script
	// entirely, or edited in place) by matching identity against old.
	usedOld := make(map[int]bool)
	for _, e := range edits {
		if e.Op == OpMove || e.Op == OpDelete || e.Op == OpEdit {
			usedOld[e.OldIndex] = true
		}
	}
	oi := 0
	for ni := range out {
		if out[ni] != nil {
			continue
		}
		for oi < len(old) && usedOld[oi] {
			oi++
		}
		out[ni] = old[oi]
		oi++
	}
	return out
}

func TestFieldConvertNumericWidening(t *testing.T) {
	i32 := &types.Type{ID: abi.GuidOf("i32"), Name: "i32", Kind: types.KindPrimitive, Size: 4}
	i64 := &types.Type{ID: abi.GuidOf("i64"), Name: "i64", Kind: types.KindPrimitive, Size: 8}

	oldS := &types.Type{
		ID: abi.GuidOf("S"), Name: "S", Kind: types.KindStruct, Size: 4,
		Fields: []types.Field{{Name: "x", Offset: 0, Type: i32}},
	}
	newS := &types.Type{
		ID: abi.GuidOf("S"), Name: "S", Kind: types.KindStruct, Size: 8,
		Fields: []types.Field{{Name: "x", Offset: 0, Type: i64}},
	}

	edits, err := Diff([]*types.Type{oldS}, []*types.Type{newS})
	require.NoError(t, err)
	require.Len(t, edits, 1)
	require.Equal(t, OpEdit, edits[0].Op)
	require.Len(t, edits[0].FieldEdits, 1)
	require.Equal(t, FieldConvert, edits[0].FieldEdits[0].Kind)
}

// TestFieldConvertNarrowingRejectedByDefault mirrors // tie-break rule: shrinking integer conversions are rejected unless
// policy explicitly opts into saturation.
func TestFieldConvertNarrowingRejectedByDefault(t *testing.T) {
	i64 := &types.Type{ID: abi.GuidOf("i64"), Name: "i64", Kind: types.KindPrimitive, Size: 8}
	i32 := &types.Type{ID: abi.GuidOf("i32"), Name: "i32", Kind: types.KindPrimitive, Size: 4}

	oldS := &types.Type{
		ID: abi.GuidOf("S"), Name: "S", Kind: types.KindStruct, Size: 8,
		Fields: []types.Field{{Name: "x", Offset: 0, Type: i64}},
	}
	newS := &types.Type{
		ID: abi.GuidOf("S"), Name: "S", Kind: types.KindStruct, Size: 4,
		Fields: []types.Field{{Name: "x", Offset: 0, Type: i32}},
	}

	_, err := Diff([]*types.Type{oldS}, []*types.Type{newS})
	require.Error(t, err)
	var schemaErr *IncompatibleSchemaError
	require.ErrorAs(t, err, &schemaErr)

	edits, err := Diff([]*types.Type{oldS}, []*types.Type{newS}, WithNarrowingSaturation(true))
	require.NoError(t, err)
	require.Len(t, edits, 1)
	require.Equal(t, FieldConvert, edits[0].FieldEdits[0].Kind)
}

func TestFieldConvertIncompatibleIsRejected(t *testing.T) {
	i32 := &types.Type{ID: abi.GuidOf("i32"), Name: "i32", Kind: types.KindPrimitive, Size: 4}
	arr := &types.Type{ID: abi.GuidOf("[u8]"), Name: "[u8]", Kind: types.KindArray, Size: 8, Elem: prim("u8")}

	oldS := &types.Type{
		ID: abi.GuidOf("S"), Name: "S", Kind: types.KindStruct, Size: 4,
		Fields: []types.Field{{Name: "name", Offset: 0, Type: i32}},
	}
	newS := &types.Type{
		ID: abi.GuidOf("S"), Name: "S", Kind: types.KindStruct, Size: 8,
		Fields: []types.Field{{Name: "name", Offset: 0, Type: arr}},
	}

	_, err := Diff([]*types.Type{oldS}, []*types.Type{newS})
	require.Error(t, err)
	var schemaErr *IncompatibleSchemaError
	require.ErrorAs(t, err, &schemaErr)
	require.Equal(t, "S", schemaErr.Type)
	require.Equal(t, "name", schemaErr.Field)
}

func TestFieldAddition(t *testing.T) {
	f32 := &types.Type{ID: abi.GuidOf("f32"), Name: "f32", Kind: types.KindPrimitive, Size: 4}
	oldPoint := &types.Type{
		ID: abi.GuidOf("Point"), Name: "Point", Kind: types.KindStruct, Size: 8,
		Fields: []types.Field{{Name: "x", Offset: 0, Type: f32}, {Name: "y", Offset: 4, Type: f32}},
	}
	newPoint := &types.Type{
		ID: abi.GuidOf("Point"), Name: "Point", Kind: types.KindStruct, Size: 12,
		Fields: []types.Field{
			{Name: "x", Offset: 0, Type: f32},
			{Name: "y", Offset: 4, Type: f32},
			{Name: "z", Offset: 8, Type: f32},
		},
	}

	edits, err := Diff([]*types.Type{oldPoint}, []*types.Type{newPoint})
	require.NoError(t, err)
	require.Len(t, edits, 1)
	require.Len(t, edits[0].FieldEdits, 1)
	require.Equal(t, FieldInsert, edits[0].FieldEdits[0].Kind)
	require.Equal(t, "z", edits[0].FieldEdits[0].Field.Name)
}

func TestFieldReorder(t *testing.T) {
	i32 := &types.Type{ID: abi.GuidOf("i32"), Name: "i32", Kind: types.KindPrimitive, Size: 4}
	oldS := &types.Type{
		ID: abi.GuidOf("S"), Name: "S", Kind: types.KindStruct, Size: 8,
		Fields: []types.Field{{Name: "a", Offset: 0, Type: i32}, {Name: "b", Offset: 4, Type: i32}},
	}
	newS := &types.Type{
		ID: abi.GuidOf("S"), Name: "S", Kind: types.KindStruct, Size: 8,
		Fields: []types.Field{{Name: "b", Offset: 0, Type: i32}, {Name: "a", Offset: 4, Type: i32}},
	}

	edits, err := Diff([]*types.Type{oldS}, []*types.Type{newS})
	require.NoError(t, err)
	require.Len(t, edits, 1)
	require.Len(t, edits[0].FieldEdits, 1)
	require.Equal(t, FieldMove, edits[0].FieldEdits[0].Kind)
}
