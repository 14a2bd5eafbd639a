// Package abi describes the C ABI that a compiled Mun shared library
// (a ".munlib") exposes to the runtime: the three required exported
// symbols and the AssemblyInfo metadata they hand back.
//
// The shapes here are the Go-side mirror of mun_abi's autogenerated
// structs (crates/mun_abi/src/lib.rs in the original implementation).
// Real libraries fill these in across the cgo boundary; tests and the
// host-injected-function path build them directly with the Builder
// below.
package abi

import (
	"crypto/md5"
	"fmt"
)

// Exported C symbol names every .munlib must provide.
const (
	GetAbiVersionFnName = "get_abi_version"
	GetInfoFnName = "get_info"
	SetAllocatorHandleFnName = "set_allocator_handle"
)

// AbiVersion is the ABI version this runtime was built against. A
// loaded library's get_abi_version must equal this exactly.
const AbiVersion uint32 = 1

// Guid is a 128-bit content hash identifying a type by its canonical
// name. Two types with equal canonical names share identity, even
// across assemblies.
type Guid [16]byte

// GuidOf computes the canonical Guid of a type name the same way
// mun_abi::reflection::Reflection::type_guid does: an MD5 digest of
// the name string.
func GuidOf(name string) Guid {
	return Guid(md5.Sum([]byte(name)))
}

func (g Guid) String() string {
	return fmt.Sprintf("%x", [16]byte(g))
}

// Canonical primitive type names, fixed by spec.
const (
	TypeNameInt = "@core::int"
	TypeNameFloat = "@core::float"
	TypeNameBool = "@core::bool"
	TypeNameEmpty = "@core::empty"
)

// Privacy mirrors mun_abi::Privacy: one byte, 0 public 1 private.
type Privacy uint8

const (
	Public Privacy = iota
	Private
)

func (p Privacy) String() string {
	if p == Private {
		return "private"
	}
	return "public"
}

// MemoryKind distinguishes a struct stored by value (copied in and
// out of other structures/arrays) from one managed by the GC (handle
// indirection, see internal/gc).
type MemoryKind uint8

const (
	Value MemoryKind = iota
	GcManaged
)

func (k MemoryKind) String() string {
	if k == GcManaged {
		return "gc"
	}
	return "value"
}

// DataTag discriminates the TypeInfo.Data union.
type DataTag uint8

const (
	DataPrimitive DataTag = iota
	DataStruct
	DataPointer
	DataArray
)

// TypeInfo is the bit-exact shape of a single type descriptor as
// emitted by a compiled library: { guid, name, size, align, data_tag,
// data_union }. Pointer/array element references are by Guid so they
// can be resolved transitively by the loader without requiring a
// particular declaration order.
type TypeInfo struct {
	Guid Guid
	Name string
	SizeBytes uint64
	AlignBytes uint8
	Tag DataTag

	// Valid when Tag == DataStruct.
	Struct StructInfo
	// Valid when Tag == DataPointer.
	PointerElem Guid
	PointerMut bool
	// Valid when Tag == DataArray.
	ArrayElem Guid
}

// FieldInfo is one field of a StructInfo: { field_name, field_type_id,
// offset_bytes }.
type FieldInfo struct {
	Name string
	TypeGuid Guid
	OffsetBytes uint64
}

// StructInfo is the ordered field list plus memory kind of a struct
// type. Invariants (checked by internal/types on intern): offsets
// monotonic, sum of field sizes <= struct size, fields satisfy
// alignment.
type StructInfo struct {
	Fields []FieldInfo
	Kind MemoryKind
}

// FunctionSignature is an ordered list of argument type Guids plus an
// optional return type Guid. A nil ReturnType means the function
// returns @core::empty (unit).
type FunctionSignature struct {
	ArgTypes []Guid
	ReturnType *Guid
}

// FunctionDefinition is an exported function: name, signature, and
// the raw address of its compiled entry point.
type FunctionDefinition struct {
	Name string
	Signature FunctionSignature
	FnPtr uintptr
	Privacy Privacy
}

// AssemblyInfo is the complete metadata a .munlib's get_info hands
// back: its declared types, its exported functions, and the external
// function signatures it depends on (to be resolved by the dispatch
// table at link time).
type AssemblyInfo struct {
	Types []TypeInfo
	Functions []FunctionDefinition
	Dependencies []DependencyInfo
}

// DependencyInfo names an external function an assembly requires.
// Its position in AssemblyInfo.Dependencies is the dispatch-table slot
// the code generator emitted for it.
type DependencyInfo struct {
	Name string
	Signature FunctionSignature
}

// Builder constructs an AssemblyInfo by name, interning Guids as it
// goes, for use by tests and by host code that wants to hand the
// runtime an in-process "library" without a real .munlib file.
type Builder struct {
	info AssemblyInfo
}

func NewBuilder() *Builder { return &Builder{} }

// Primitive registers a primitive type by canonical name and returns
// its Guid, for use in later field/signature declarations.
func (b *Builder) Primitive(name string, size uint64, align uint8) Guid {
	g := GuidOf(name)
	b.info.Types = append(b.info.Types, TypeInfo{
		Guid: g, Name: name, SizeBytes: size, AlignBytes: align, Tag: DataPrimitive,
	})
	return g
}

// Struct registers a struct type and returns its Guid.
func (b *Builder) Struct(name string, size uint64, align uint8, kind MemoryKind, fields ...FieldInfo) Guid {
	g := GuidOf(name)
	b.info.Types = append(b.info.Types, TypeInfo{
		Guid: g, Name: name, SizeBytes: size, AlignBytes: align, Tag: DataStruct,
		Struct: StructInfo{Fields: fields, Kind: kind},
	})
	return g
}

// Pointer registers a pointer type and returns its Guid.
func (b *Builder) Pointer(name string, elem Guid, mut bool, size uint64, align uint8) Guid {
	g := GuidOf(name)
	b.info.Types = append(b.info.Types, TypeInfo{
		Guid: g, Name: name, SizeBytes: size, AlignBytes: align, Tag: DataPointer,
		PointerElem: elem, PointerMut: mut,
	})
	return g
}

// Array registers a fixed-capacity array type and returns its Guid.
func (b *Builder) Array(name string, elem Guid, size uint64, align uint8) Guid {
	g := GuidOf(name)
	b.info.Types = append(b.info.Types, TypeInfo{
		Guid: g, Name: name, SizeBytes: size, AlignBytes: align, Tag: DataArray, ArrayElem: elem,
	})
	return g
}

// Field is a convenience constructor for FieldInfo.
func Field(name string, typeGuid Guid, offset uint64) FieldInfo {
	return FieldInfo{Name: name, TypeGuid: typeGuid, OffsetBytes: offset}
}

// Function registers an exported function definition.
func (b *Builder) Function(name string, sig FunctionSignature, fnPtr uintptr, priv Privacy) {
	b.info.Functions = append(b.info.Functions, FunctionDefinition{
		Name: name, Signature: sig, FnPtr: fnPtr, Privacy: priv,
	})
}

// Dependency registers an external function this assembly requires.
func (b *Builder) Dependency(name string, sig FunctionSignature) {
	b.info.Dependencies = append(b.info.Dependencies, DependencyInfo{Name: name, Signature: sig})
}

// Build returns the completed AssemblyInfo.
func (b *Builder) Build() AssemblyInfo { return b.info }
