package munrt

import (
	"testing"

	"github.com/ebitengine/purego"
	"github.com/stretchr/testify/require"

	"github.com/mun-lang/munrt/internal/abi"
	"github.com/mun-lang/munrt/internal/loader"
)

// versionedOpener lets a test swap which abi.AssemblyInfo New/Update
// decodes next without touching a real .munlib file, the in-process
// "host-authored assembly" path spec section 6 allows.
type versionedOpener struct {
	info abi.AssemblyInfo
}

func (o *versionedOpener) open(path string) (loader.LibraryHandle, error) {
	return loader.NewInMemoryLibrary(o.info), nil
}

// TestInvokeCallsThroughToNativeFunction mirrors spec section 8
// scenario S1: a function exported by the loaded assembly is callable
// through Invoke, with arguments and the return value marshaled as
// the declared @core::int primitive.
func TestInvokeCallsThroughToNativeFunction(t *testing.T) {
	intID := abi.GuidOf(abi.TypeNameInt)
	addSig := abi.FunctionSignature{ArgTypes: []abi.Guid{intID, intID}, ReturnType: &intID}

	b := abi.NewBuilder()
	b.Primitive(abi.TypeNameInt, 8, 8)
	b.Function("add", addSig, purego.NewCallback(func(a, c int64) int64 { return a + c }), abi.Public)

	opener := &versionedOpener{info: b.Build()}
	rt, err := New("mock.munlib", WithOpenFunc(opener.open))
	require.NoError(t, err)

	result, invErr := rt.Invoke("add", Int(abi.TypeNameInt, 2), Int(abi.TypeNameInt, 3))
	require.Nil(t, invErr)
	require.Equal(t, int64(5), result.AsInt64())
}

// TestInvokeRejectsWrongArgumentCount checks Invoke's signature check:
// a call with too few arguments is rejected as TypeMismatch before any
// native call happens.
func TestInvokeRejectsWrongArgumentCount(t *testing.T) {
	intID := abi.GuidOf(abi.TypeNameInt)
	addSig := abi.FunctionSignature{ArgTypes: []abi.Guid{intID, intID}, ReturnType: &intID}

	b := abi.NewBuilder()
	b.Primitive(abi.TypeNameInt, 8, 8)
	b.Function("add", addSig, purego.NewCallback(func(a, c int64) int64 { return a + c }), abi.Public)

	opener := &versionedOpener{info: b.Build()}
	rt, err := New("mock.munlib", WithOpenFunc(opener.open))
	require.NoError(t, err)

	_, invErr := rt.Invoke("add", Int(abi.TypeNameInt, 2))
	require.NotNil(t, invErr)
	require.Equal(t, TypeMismatch, invErr.Kind)
}

// TestUpdateMigratesFieldAdditionAndSwitchesActiveAssembly exercises
// the full façade pipeline behind spec section 8 scenario S3: a live
// struct(gc) object survives Update after its type gains a field, the
// new field reads back zeroed, and the function table now resolves to
// the new version's entry point.
func TestUpdateMigratesFieldAdditionAndSwitchesActiveAssembly(t *testing.T) {
	intID := abi.GuidOf(abi.TypeNameInt)

	b1 := abi.NewBuilder()
	i32V1 := b1.Primitive("i32", 4, 4)
	pointV1 := b1.Struct("Point", 8, 4, abi.GcManaged, abi.Field("x", i32V1, 0), abi.Field("y", i32V1, 4))
	b1.Primitive(abi.TypeNameInt, 8, 8)
	b1.Function("version", abi.FunctionSignature{ReturnType: &intID}, purego.NewCallback(func() int64 { return 1 }), abi.Public)

	opener := &versionedOpener{info: b1.Build()}
	rt, err := New("mock.munlib", WithOpenFunc(opener.open))
	require.NoError(t, err)

	pointType := rt.registry.Lookup(pointV1)
	require.NotNil(t, pointType)

	handle, err := rt.heap.Alloc(pointType)
	require.NoError(t, err)
	buf, err := rt.heap.StorageOf(handle)
	require.NoError(t, err)
	buf[0], buf[1], buf[2], buf[3] = 7, 0, 0, 0 // x = 7, little-endian
	buf[4], buf[5], buf[6], buf[7] = 9, 0, 0, 0 // y = 9
	require.NoError(t, rt.heap.Replace(handle, buf))
	rt.heap.Root(handle)

	b2 := abi.NewBuilder()
	i32V2 := b2.Primitive("i32", 4, 4)
	pointV2 := b2.Struct("Point", 12, 4, abi.GcManaged,
		abi.Field("x", i32V2, 0), abi.Field("y", i32V2, 4), abi.Field("z", i32V2, 8))
	b2.Primitive(abi.TypeNameInt, 8, 8)
	b2.Function("version", abi.FunctionSignature{ReturnType: &intID}, purego.NewCallback(func() int64 { return 2 }), abi.Public)
	opener.info = b2.Build()

	outcome, updErr := rt.Update()
	require.Nil(t, updErr)
	require.Equal(t, Reloaded, outcome)

	after, err := rt.heap.StorageOf(handle)
	require.NoError(t, err)
	require.Len(t, after, 12)
	require.Equal(t, []byte{7, 0, 0, 0}, after[0:4])
	require.Equal(t, []byte{9, 0, 0, 0}, after[4:8])
	require.Equal(t, []byte{0, 0, 0, 0}, after[8:12])
	require.Equal(t, pointV2, rt.heap.TypeOf(handle).ID)

	result, invErr := rt.Invoke("version")
	require.Nil(t, invErr)
	require.Equal(t, int64(2), result.AsInt64())
}

// TestUpdateRejectsIncompatibleSchema mirrors spec section 8 scenario
// S5: a field type change with no valid conversion leaves the runtime
// on the old assembly and the object untouched.
func TestUpdateRejectsIncompatibleSchema(t *testing.T) {
	b1 := abi.NewBuilder()
	i32V1 := b1.Primitive("i32", 4, 4)
	sV1 := b1.Struct("S", 4, 4, abi.GcManaged, abi.Field("name", i32V1, 0))

	opener := &versionedOpener{info: b1.Build()}
	rt, err := New("mock.munlib", WithOpenFunc(opener.open))
	require.NoError(t, err)

	sType := rt.registry.Lookup(sV1)
	handle, err := rt.heap.Alloc(sType)
	require.NoError(t, err)
	buf, err := rt.heap.StorageOf(handle)
	require.NoError(t, err)
	buf[0] = 42
	require.NoError(t, rt.heap.Replace(handle, buf))
	rt.heap.Root(handle)

	b2 := abi.NewBuilder()
	u8V2 := b2.Primitive("u8", 1, 1)
	arrV2 := b2.Array("[u8]", u8V2, 8, 1)
	b2.Struct("S", 8, 4, abi.GcManaged, abi.Field("name", arrV2, 0))
	opener.info = b2.Build()

	outcome, updErr := rt.Update()
	require.NotNil(t, updErr)
	require.Equal(t, Failed, outcome)
	require.Equal(t, IncompatibleSchema, updErr.Kind)

	after, err := rt.heap.StorageOf(handle)
	require.NoError(t, err)
	require.Equal(t, byte(42), after[0])
	require.Equal(t, sV1, rt.heap.TypeOf(handle).ID)
}

// TestUpdateReloadsOnBodyOnlyChange mirrors
// original_source/crates/mun_runtime/tests/hot_reloading.rs::
// hotreloadable: recompiling a function body with an identical
// signature (same type list, same function count) must still reload
// and serve the new fn_ptr — the count-only check this used to use
// treated it as NoChange and kept invoking the stale entry point.
func TestUpdateReloadsOnBodyOnlyChange(t *testing.T) {
	intID := abi.GuidOf(abi.TypeNameInt)
	mainSig := abi.FunctionSignature{ReturnType: &intID}

	b1 := abi.NewBuilder()
	b1.Primitive(abi.TypeNameInt, 8, 8)
	b1.Function("main", mainSig, purego.NewCallback(func() int64 { return 5 }), abi.Public)

	opener := &versionedOpener{info: b1.Build()}
	rt, err := New("mock.munlib", WithOpenFunc(opener.open))
	require.NoError(t, err)

	result, invErr := rt.Invoke("main")
	require.Nil(t, invErr)
	require.Equal(t, int64(5), result.AsInt64())

	b2 := abi.NewBuilder()
	b2.Primitive(abi.TypeNameInt, 8, 8)
	b2.Function("main", mainSig, purego.NewCallback(func() int64 { return 10 }), abi.Public)
	opener.info = b2.Build()

	outcome, updErr := rt.Update()
	require.Nil(t, updErr)
	require.Equal(t, Reloaded, outcome)

	result, invErr = rt.Invoke("main")
	require.Nil(t, invErr)
	require.Equal(t, int64(10), result.AsInt64())
}

// TestUpdateNoChangeWhenBuildIsIdentical confirms that reloading the
// exact same build (same fn_ptrs, no type edits) is reported as
// NoChange rather than spuriously swapping in an identical assembly.
func TestUpdateNoChangeWhenBuildIsIdentical(t *testing.T) {
	intID := abi.GuidOf(abi.TypeNameInt)
	mainSig := abi.FunctionSignature{ReturnType: &intID}
	fn := purego.NewCallback(func() int64 { return 5 })

	b := abi.NewBuilder()
	b.Primitive(abi.TypeNameInt, 8, 8)
	b.Function("main", mainSig, fn, abi.Public)

	opener := &versionedOpener{info: b.Build()}
	rt, err := New("mock.munlib", WithOpenFunc(opener.open))
	require.NoError(t, err)

	outcome, updErr := rt.Update()
	require.Nil(t, updErr)
	require.Equal(t, NoChange, outcome)
}

// TestUpdateSameTypeEditedTwiceStaysMigratable mirrors the multi-
// generation reload in spec section 3.4 invariant 1 / section 8
// property 1: editing the same struct Guid across two successive
// Updates must not evict its registry entry early, or the second
// edit's migration silently skips already-live cells.
func TestUpdateSameTypeEditedTwiceStaysMigratable(t *testing.T) {
	b1 := abi.NewBuilder()
	i32V1 := b1.Primitive("i32", 4, 4)
	pointV1 := b1.Struct("Point", 8, 4, abi.GcManaged, abi.Field("x", i32V1, 0), abi.Field("y", i32V1, 4))

	opener := &versionedOpener{info: b1.Build()}
	rt, err := New("mock.munlib", WithOpenFunc(opener.open))
	require.NoError(t, err)

	handle, err := rt.heap.Alloc(rt.registry.Lookup(pointV1))
	require.NoError(t, err)
	rt.heap.Root(handle)

	b2 := abi.NewBuilder()
	i32V2 := b2.Primitive("i32", 4, 4)
	pointV2 := b2.Struct("Point", 12, 4, abi.GcManaged,
		abi.Field("x", i32V2, 0), abi.Field("y", i32V2, 4), abi.Field("z", i32V2, 8))
	opener.info = b2.Build()

	outcome, updErr := rt.Update()
	require.Nil(t, updErr)
	require.Equal(t, Reloaded, outcome)
	require.NotNil(t, rt.registry.Lookup(pointV2), "edited type must still be registered after its first reload")

	b3 := abi.NewBuilder()
	i32V3 := b3.Primitive("i32", 4, 4)
	pointV3 := b3.Struct("Point", 16, 4, abi.GcManaged,
		abi.Field("x", i32V3, 0), abi.Field("y", i32V3, 4), abi.Field("z", i32V3, 8), abi.Field("w", i32V3, 12))
	opener.info = b3.Build()

	outcome, updErr = rt.Update()
	require.Nil(t, updErr)
	require.Equal(t, Reloaded, outcome)

	after, err := rt.heap.StorageOf(handle)
	require.NoError(t, err)
	require.Len(t, after, 16, "the live cell must have been migrated to v3, not left on v2")
	require.Equal(t, pointV3, rt.heap.TypeOf(handle).ID)
}
