package migrate

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/mun-lang/munrt/internal/abi"
	"github.com/mun-lang/munrt/internal/diff"
	"github.com/mun-lang/munrt/internal/gc"
	"github.com/mun-lang/munrt/internal/types"
	"github.com/stretchr/testify/require"
)

func f32Type() *types.Type {
	return &types.Type{ID: abi.GuidOf("f32"), Name: "f32", Kind: types.KindPrimitive, Size: 4, Align: 4}
}

func putF32(b []byte, off int64, v float32) {
	binary.LittleEndian.PutUint32(b[off:off+4], math.Float32bits(v))
}

func getF32(b []byte, off int64) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(b[off : off+4]))
}

// TestMigrateFieldAddition mirrors scenario S3: adding
// a field zero-fills it and leaves existing fields untouched.
func TestMigrateFieldAddition(t *testing.T) {
	f32 := f32Type()
	v1 := &types.Type{
		ID: abi.GuidOf("Point"), Name: "Point", Kind: types.KindStruct, Size: 8,
		Fields: []types.Field{{Name: "x", Offset: 0, Type: f32}, {Name: "y", Offset: 4, Type: f32}},
	}
	v2 := &types.Type{
		ID: abi.GuidOf("Point"), Name: "Point", Kind: types.KindStruct, Size: 12,
		Fields: []types.Field{
			{Name: "x", Offset: 0, Type: f32},
			{Name: "y", Offset: 4, Type: f32},
			{Name: "z", Offset: 8, Type: f32},
		},
	}

	heap := gc.NewHeap(0)
	registry := types.NewRegistry()
	_, err := registry.InternAll([]abi.TypeInfo{toTypeInfo(f32), toTypeInfo(v1)})
	require.NoError(t, err)
	interned := registry.Lookup(v1.ID)

	handle, err := heap.Alloc(interned)
	require.NoError(t, err)
	buf, err := heap.StorageOf(handle)
	require.NoError(t, err)
	putF32(buf, 0, 1.0)
	putF32(buf, 4, 2.0)
	require.NoError(t, heap.Replace(handle, buf))
	heap.Root(handle)

	edits, err := diff.Diff([]*types.Type{interned}, []*types.Type{v2})
	require.NoError(t, err)

	stats, err := Run(heap, registry, edits, diff.Policy{})
	require.NoError(t, err)
	require.Equal(t, 1, stats.CellsMigrated)

	after, err := heap.StorageOf(handle)
	require.NoError(t, err)
	require.Equal(t, float32(1.0), getF32(after, 0))
	require.Equal(t, float32(2.0), getF32(after, 4))
	require.Equal(t, float32(0.0), getF32(after, 8))
	require.Equal(t, v2.ID, heap.TypeOf(handle).ID)
}

// TestMigrateFieldReorder mirrors scenario S4.
func TestMigrateFieldReorder(t *testing.T) {
	i32 := &types.Type{ID: abi.GuidOf("i32"), Name: "i32", Kind: types.KindPrimitive, Size: 4, Align: 4}
	v1 := &types.Type{
		ID: abi.GuidOf("S"), Name: "S", Kind: types.KindStruct, Size: 8,
		Fields: []types.Field{{Name: "a", Offset: 0, Type: i32}, {Name: "b", Offset: 4, Type: i32}},
	}
	v2 := &types.Type{
		ID: abi.GuidOf("S"), Name: "S", Kind: types.KindStruct, Size: 8,
		Fields: []types.Field{{Name: "b", Offset: 0, Type: i32}, {Name: "a", Offset: 4, Type: i32}},
	}

	heap := gc.NewHeap(0)
	registry := types.NewRegistry()
	_, err := registry.InternAll([]abi.TypeInfo{toTypeInfo(i32), toTypeInfo(v1)})
	require.NoError(t, err)
	interned := registry.Lookup(v1.ID)

	handle, err := heap.Alloc(interned)
	require.NoError(t, err)
	buf, err := heap.StorageOf(handle)
	require.NoError(t, err)
	binary.LittleEndian.PutUint32(buf[0:4], 7)
	binary.LittleEndian.PutUint32(buf[4:8], 9)
	require.NoError(t, heap.Replace(handle, buf))
	heap.Root(handle)

	edits, err := diff.Diff([]*types.Type{interned}, []*types.Type{v2})
	require.NoError(t, err)

	_, err = Run(heap, registry, edits, diff.Policy{})
	require.NoError(t, err)

	after, err := heap.StorageOf(handle)
	require.NoError(t, err)
	require.Equal(t, uint32(7), binary.LittleEndian.Uint32(after[4:8])) // a now at offset 4
	require.Equal(t, uint32(9), binary.LittleEndian.Uint32(after[0:4])) // b now at offset 0
}

// TestMigrateIncompatibleSchemaLeavesObjectInV1Shape mirrors spec
// section 8 scenario S5: an incompatible field type change is
// rejected before any cell is touched.
func TestMigrateIncompatibleSchemaLeavesObjectInV1Shape(t *testing.T) {
	i32 := &types.Type{ID: abi.GuidOf("i32"), Name: "i32", Kind: types.KindPrimitive, Size: 4, Align: 4}
	u8 := &types.Type{ID: abi.GuidOf("u8"), Name: "u8", Kind: types.KindPrimitive, Size: 1, Align: 1}
	arr := &types.Type{ID: abi.GuidOf("[u8]"), Name: "[u8]", Kind: types.KindArray, Size: 8, Elem: u8}

	v1 := &types.Type{
		ID: abi.GuidOf("S"), Name: "S", Kind: types.KindStruct, Size: 4,
		Fields: []types.Field{{Name: "name", Offset: 0, Type: i32}},
	}
	v2 := &types.Type{
		ID: abi.GuidOf("S"), Name: "S", Kind: types.KindStruct, Size: 8,
		Fields: []types.Field{{Name: "name", Offset: 0, Type: arr}},
	}

	heap := gc.NewHeap(0)
	registry := types.NewRegistry()
	_, err := registry.InternAll([]abi.TypeInfo{toTypeInfo(i32), toTypeInfo(v1)})
	require.NoError(t, err)
	interned := registry.Lookup(v1.ID)

	handle, err := heap.Alloc(interned)
	require.NoError(t, err)
	buf, err := heap.StorageOf(handle)
	require.NoError(t, err)
	binary.LittleEndian.PutUint32(buf, 42)
	require.NoError(t, heap.Replace(handle, buf))
	heap.Root(handle)

	_, err = diff.Diff([]*types.Type{interned}, []*types.Type{v2})
	require.Error(t, err)
	var schemaErr *diff.IncompatibleSchemaError
	require.ErrorAs(t, err, &schemaErr)

	after, err := heap.StorageOf(handle)
	require.NoError(t, err)
	require.Equal(t, uint32(42), binary.LittleEndian.Uint32(after))
	require.Equal(t, interned.ID, heap.TypeOf(handle).ID)
}

// toTypeInfo builds a minimal abi.TypeInfo for a primitive/struct Type
// built by hand in these tests, so it can round-trip through
// Registry.InternAll the same way a loaded assembly's types would.
func toTypeInfo(t *types.Type) abi.TypeInfo {
	switch t.Kind {
	case types.KindPrimitive:
		return abi.TypeInfo{Guid: t.ID, Name: t.Name, SizeBytes: uint64(t.Size), AlignBytes: uint8(t.Align), Tag: abi.DataPrimitive}
	case types.KindStruct:
		fields := make([]abi.FieldInfo, len(t.Fields))
		for i, f := range t.Fields {
			fields[i] = abi.FieldInfo{Name: f.Name, TypeGuid: f.Type.ID, OffsetBytes: uint64(f.Offset)}
		}
		return abi.TypeInfo{
			Guid: t.ID, Name: t.Name, SizeBytes: uint64(t.Size), AlignBytes: uint8(t.Align),
			Tag: abi.DataStruct, Struct: abi.StructInfo{Fields: fields, Kind: t.MemoryKind},
		}
	default:
		panic("toTypeInfo: unsupported kind in test helper")
	}
}
