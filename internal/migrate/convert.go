package migrate

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/mun-lang/munrt/internal/diff"
	"github.com/mun-lang/munrt/internal/types"
)

// buildConverter returns the byte-level conversion thunk for a field
// whose type changed from "from" to "to", // tie-break rules: identity cast with overflow trapped for same-kind
// numeric conversions; shrinking integer conversions saturate only
// when the caller opted into policy.AllowNarrowingSaturation
// (internal/diff's default is reject, enforced already by the diff
// step that produced this edit — buildConverter trusts its caller
// already checked convertibility and only has to realize the cast).
func buildConverter(from, to *types.Type, policy diff.Policy) (func([]byte) ([]byte, error), error) {
	fk, ok1 := numKind(from.Name)
	tk, ok2 := numKind(to.Name)
	if !ok1 || !ok2 {
		return nil, fmt.Errorf("migrate: no conversion thunk between %q and %q", from.Name, to.Name)
	}

	switch {
	case fk.float || tk.float:
		return floatConverter(fk, tk), nil
	default:
		return intConverter(fk, tk, policy), nil
	}
}

type numDesc struct {
	size int
	signed bool
	float bool
}

// numKind recognizes the fixed-width primitive names i8/i16/i32/i64,
// u8/u16/u32/u64, f32/f64, plus the aliases int/float used by test
// builders for the platform-width default numeric types.
func numKind(name string) (numDesc, bool) {
	switch name {
	case "i8":
		return numDesc{1, true, false}, true
	case "i16":
		return numDesc{2, true, false}, true
	case "i32":
		return numDesc{4, true, false}, true
	case "i64", "@core::int":
		return numDesc{8, true, false}, true
	case "u8":
		return numDesc{1, false, false}, true
	case "u16":
		return numDesc{2, false, false}, true
	case "u32":
		return numDesc{4, false, false}, true
	case "u64":
		return numDesc{8, false, false}, true
	case "f32":
		return numDesc{4, false, true}, true
	case "f64", "@core::float":
		return numDesc{8, false, true}, true
	default:
		return numDesc{}, false
	}
}

func readInt(b []byte, d numDesc) int64 {
	switch d.size {
	case 1:
		v := b[0]
		if d.signed {
			return int64(int8(v))
		}
		return int64(v)
	case 2:
		v := binary.LittleEndian.Uint16(b)
		if d.signed {
			return int64(int16(v))
		}
		return int64(v)
	case 4:
		v := binary.LittleEndian.Uint32(b)
		if d.signed {
			return int64(int32(v))
		}
		return int64(v)
	default:
		return int64(binary.LittleEndian.Uint64(b))
	}
}

func writeInt(v int64, d numDesc) []byte {
	out := make([]byte, d.size)
	switch d.size {
	case 1:
		out[0] = byte(v)
	case 2:
		binary.LittleEndian.PutUint16(out, uint16(v))
	case 4:
		binary.LittleEndian.PutUint32(out, uint32(v))
	default:
		binary.LittleEndian.PutUint64(out, uint64(v))
	}
	return out
}

func intRange(d numDesc) (min, max int64) {
	bits := uint(d.size * 8)
	if d.signed {
		max = int64(1)<<(bits-1) - 1
		min = -(int64(1) << (bits - 1))
		return
	}
	if bits >= 64 {
		return 0, math.MaxInt64
	}
	return 0, int64(1)<<bits - 1
}

// intConverter builds a thunk between two integer primitives. Widening
// (destination holds a superset of the source's range) is always an
// identity cast. Narrowing saturates only if policy allows it;
// otherwise an out-of-range value is an error (// "overflow trapped and reported").
func intConverter(from, to numDesc, policy diff.Policy) func([]byte) ([]byte, error) {
	narrowing := to.size < from.size
	return func(src []byte) ([]byte, error) {
		v := readInt(src, from)
		min, max := intRange(to)
		if v < min || v > max {
			if narrowing && policy.AllowNarrowingSaturation {
				if v < min {
					v = min
				} else {
					v = max
				}
			} else {
				return nil, fmt.Errorf("value %d overflows destination range [%d,%d]", v, min, max)
			}
		}
		return writeInt(v, to), nil
	}
}

// floatConverter builds a thunk involving at least one float side.
// int->float and f32<->f64 are plain casts; float->int truncates toward
// zero and clamps to the destination range. The saturation policy is
// not consulted for any of these (it only governs integer narrowing).
func floatConverter(from, to numDesc) func([]byte) ([]byte, error) {
	return func(src []byte) ([]byte, error) {
		var f float64
		switch {
		case from.float && from.size == 4:
			f = float64(math.Float32frombits(binary.LittleEndian.Uint32(src)))
		case from.float && from.size == 8:
			f = math.Float64frombits(binary.LittleEndian.Uint64(src))
		default:
			f = float64(readInt(src, from))
		}

		out := make([]byte, to.size)
		switch {
		case to.float && to.size == 4:
			binary.LittleEndian.PutUint32(out, math.Float32bits(float32(f)))
		case to.float && to.size == 8:
			binary.LittleEndian.PutUint64(out, math.Float64bits(f))
		default:
			min, max := intRange(to)
			i := int64(f)
			if i < min {
				i = min
			} else if i > max {
				i = max
			}
			out = writeInt(i, to)
		}
		return out, nil
	}
}
