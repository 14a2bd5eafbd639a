package gc

import (
	"testing"

	"github.com/mun-lang/munrt/internal/abi"
	"github.com/mun-lang/munrt/internal/types"
	"github.com/stretchr/testify/require"
)

func intType() *types.Type {
	return &types.Type{Name: "@core::int", Size: 8, Align: 8, Kind: types.KindPrimitive}
}

func TestAllocZeroInit(t *testing.T) {
	h := NewHeap(0)
	it := intType()
	handle, err := h.Alloc(it)
	require.NoError(t, err)

	data, err := h.GetField(handle, 0, 8)
	require.NoError(t, err)
	require.Equal(t, make([]byte, 8), data)
}

func TestZeroSizedStructGetsOneByte(t *testing.T) {
	h := NewHeap(0)
	empty := &types.Type{Name: "@core::empty", Size: 0, Kind: types.KindPrimitive}
	handle, err := h.Alloc(empty)
	require.NoError(t, err)
	data, err := h.GetField(handle, 0, 1)
	require.NoError(t, err)
	require.Len(t, data, 1)
}

func TestAllocArrayZeroLength(t *testing.T) {
	h := NewHeap(0)
	handle, err := h.AllocArray(intType(), 0)
	require.NoError(t, err)
	length, err := h.ArrayLength(handle)
	require.NoError(t, err)
	require.Equal(t, int64(0), length)
	cap, err := h.ArrayCapacity(handle)
	require.NoError(t, err)
	require.GreaterOrEqual(t, cap, int64(0))
}

func TestArrayCapacityDoublingPolicy(t *testing.T) {
	h := NewHeap(0)
	handle, err := h.AllocArray(intType(), 5)
	require.NoError(t, err)
	cap, err := h.ArrayCapacity(handle)
	require.NoError(t, err)
	require.Equal(t, int64(8), cap)
}

func TestRootMultiset(t *testing.T) {
	h := NewHeap(0)
	handle, err := h.Alloc(intType())
	require.NoError(t, err)

	h.Root(handle)
	h.Root(handle)
	h.Unroot(handle)

	stats := h.Collect(nil)
	require.Equal(t, 1, stats.Live)

	h.Unroot(handle)
	stats = h.Collect(nil)
	require.Equal(t, 0, stats.Live)
	require.Equal(t, 1, stats.Swept)
}

func TestOutOfMemory(t *testing.T) {
	h := NewHeap(16)
	it := intType()
	_, err := h.Alloc(it)
	require.NoError(t, err)
	_, err = h.Alloc(it)
	require.NoError(t, err)
	_, err = h.Alloc(it)
	require.ErrorIs(t, err, ErrOutOfMemory)
}

func TestCollectTracesThroughGcPointerField(t *testing.T) {
	h := NewHeap(0)
	inner := intType()
	innerGcPtrField := &types.Type{
		Name: "Inner", Size: 8, Kind: types.KindStruct, MemoryKind: abi.GcManaged,
	}
	outer := &types.Type{
		Name: "Outer", Size: 8, Kind: types.KindStruct,
		Fields: []types.Field{{Name: "inner", Offset: 0, Type: &types.Type{
			Name: "*Inner", Kind: types.KindPointer, Size: 8, Elem: innerGcPtrField,
		}}},
	}
	_ = inner

	innerHandle, err := h.Alloc(innerGcPtrField)
	require.NoError(t, err)
	outerHandle, err := h.Alloc(outer)
	require.NoError(t, err)
	require.NoError(t, h.WriteHandleField(outerHandle, 0, innerHandle))

	h.Root(outerHandle)
	stats := h.Collect(nil)
	require.Equal(t, 2, stats.Live)
}
