package munrt

import (
	"github.com/mun-lang/munrt/internal/abi"
	"github.com/mun-lang/munrt/internal/gc"
)

// Value is one marshaled argument or return value crossing the
// invoke boundary ("Marshal return:
// primitives by value; gc/struct returns as Handle"). Every Value
// carries the TypeId the caller asserts it has, checked against the
// callee's declared signature before the call happens.
type Value struct {
	typeID abi.Guid
	raw uint64
}

// TypeID reports the TypeId this Value was constructed with.
func (v Value) TypeID() abi.Guid { return v.typeID }

// Int wraps a signed integer argument/return as the named primitive
// type (one of i8/i16/i32/i64, or the platform-width alias
// "@core::int").
func Int(typeName string, n int64) Value {
	return Value{typeID: abi.GuidOf(typeName), raw: uint64(n)}
}

// Bool wraps a boolean argument/return.
func Bool(b bool) Value {
	var n uint64
	if b {
		n = 1
	}
	return Value{typeID: abi.GuidOf(abi.TypeNameBool), raw: n}
}

// AsInt64 reinterprets a Value constructed by Int as a signed 64-bit
// integer (narrower int types are sign-agnostic here since the
// call-site already knows which width it asked for).
func (v Value) AsInt64() int64 { return int64(v.raw) }

// AsBool reinterprets a Value constructed by Bool.
func (v Value) AsBool() bool { return v.raw != 0 }

// HandleValue wraps a gc-managed argument/return as its Handle,
// tagged with the gc type's TypeId.
func HandleValue(t *abi.Guid, h gc.Handle) Value {
	id := abi.Guid{}
	if t != nil {
		id = *t
	}
	return Value{typeID: id, raw: uint64(h)}
}

// AsHandle reinterprets a Value constructed by HandleValue.
func (v Value) AsHandle() gc.Handle { return gc.Handle(v.raw) }

// checkSignature implements argument count
// and every argument TypeId must match the callee's signature exactly.
// The return TypeId is not checked: Invoke takes no expected return
// type and tags the result with the signature's own return type.
func checkSignature(sig abi.FunctionSignature, args []Value) *Error {
	if len(args) != len(sig.ArgTypes) {
		return wrap(TypeMismatch, "munrt: argument count mismatch", nil)
	}
	for i, want := range sig.ArgTypes {
		if args[i].typeID != want {
			e := wrap(TypeMismatch, "munrt: argument type mismatch", nil)
			e.Position = i
			e.Expected = want
			e.Found = args[i].typeID
			return e
		}
	}
	return nil
}
