package main

import "github.com/mun-lang/munrt/internal/abi"

func tagString(tag abi.DataTag) string {
	switch tag {
	case abi.DataPrimitive:
		return "primitive"
	case abi.DataStruct:
		return "struct"
	case abi.DataPointer:
		return "pointer"
	case abi.DataArray:
		return "array"
	default:
		return "unknown"
	}
}
