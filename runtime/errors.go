// Package munrt is the public façade of the Mun reloading runtime: a
// Runtime loads a compiled library, invokes its exported functions,
// and hot-swaps it for a newer version via Update, migrating every
// live object in place .
//
// Grounded on the teacher's own façade idiom — golang.org/x/debug's
// core.Process / gocore.Process split between "open a low-level
// resource" and "offer a rich, typed API over it" — and on
// mun_runtime::Runtime (original_source/crates/mun_runtime/src/lib.rs,
// referenced by error.rs/module.rs/marshal.rs) for the invoke/update
// contract itself.
package munrt

import (
	"errors"
	"fmt"

	"github.com/mun-lang/munrt/internal/abi"
	"github.com/mun-lang/munrt/internal/diff"
	"github.com/mun-lang/munrt/internal/dispatch"
	"github.com/mun-lang/munrt/internal/loader"
)

// Kind identifies which branch of error taxonomy an
// Error belongs to.
type Kind int

const (
	InvalidLibrary Kind = iota
	AbiMismatch
	LinkError
	TypeMismatch
	IncompatibleSchema
	MigrationFailed
	AmbiguousSymbol
	OutOfMemory
	Retryable
	// Corruption is not part of this scope's taxonomy; it is this port's
	// catch-all for the "abort the runtime" invariant-violation path
	// (last paragraph), converted to a regular error
	// at the Invoke/Update boundary instead of propagating a panic.
	Corruption
)

func (k Kind) String() string {
	switch k {
	case InvalidLibrary:
		return "InvalidLibrary"
	case AbiMismatch:
		return "AbiMismatch"
	case LinkError:
		return "LinkError"
	case TypeMismatch:
		return "TypeMismatch"
	case IncompatibleSchema:
		return "IncompatibleSchema"
	case MigrationFailed:
		return "MigrationFailed"
	case AmbiguousSymbol:
		return "AmbiguousSymbol"
	case OutOfMemory:
		return "OutOfMemory"
	case Retryable:
		return "Retryable"
	case Corruption:
		return "Corruption"
	default:
		return "Unknown"
	}
}

// Error is the single exported error type of the runtime façade
// ("surfaced to the host as a tagged result"). Every
// failure path inside the core packages is wrapped into one of these
// before crossing Invoke/Update's return; nothing panics across that
// boundary except a Corruption-tagged invariant violation, which is
// itself recovered and re-wrapped (see recoverCorruption).
type Error struct {
	Kind Kind

	// Fields populated depending on Kind; zero value if not
	// applicable. Mirrors per-kind payload without
	// needing a type switch at the call site for the common fields.
	Symbol string
	Type, Field string
	Position int
	Expected, Found abi.Guid
	Assemblies []string

	msg string
	err error
}

func (e *Error) Error() string {
	if e.msg != "" {
		return e.msg
	}
	return fmt.Sprintf("munrt: %s", e.Kind)
}

func (e *Error) Unwrap() error { return e.err }

func wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, msg: msg, err: err}
}

// wrapLoadError classifies a loader.Load failure into the taxonomy's
// InvalidLibrary/AbiMismatch branches.
func wrapLoadError(err error) *Error {
	var ame *loader.AbiMismatchError
	if errors.As(err, &ame) {
		return wrap(AbiMismatch, err.Error(), err)
	}
	var ile *loader.InvalidLibraryError
	if errors.As(err, &ile) {
		return wrap(InvalidLibrary, err.Error(), err)
	}
	return wrap(InvalidLibrary, err.Error(), err)
}

// wrapLinkError carries a dispatch.LinkError's symbol through to the
// façade Error's Symbol field.
func wrapLinkError(err error) *Error {
	e := wrap(LinkError, err.Error(), err)
	var le *dispatch.LinkError
	if errors.As(err, &le) {
		e.Symbol = le.Symbol
	}
	return e
}

// wrapDiffError carries a diff.IncompatibleSchemaError's type/field
// through to the façade Error's Type/Field fields.
func wrapDiffError(err error) *Error {
	e := wrap(IncompatibleSchema, err.Error(), err)
	var ise *diff.IncompatibleSchemaError
	if errors.As(err, &ise) {
		e.Type = ise.Type
		e.Field = ise.Field
	}
	return e
}
